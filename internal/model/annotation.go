package model

// Kind tags both annotation layers and compiled node kinds.
type Kind string

const (
	KindDebate   Kind = "debate"
	KindBlock    Kind = "block"
	KindTopic    Kind = "topic"
	KindSentence Kind = "sentence"
	KindProposal Kind = "proposal"
	KindClaim    Kind = "claim"
	KindMention  Kind = "mention"
)

// LayerKinds lists the upstream annotation layers in priority order.
var LayerKinds = []Kind{KindBlock, KindTopic, KindProposal, KindClaim, KindMention}

// Priority breaks ties between spans starting at the same position. Lower wins.
func (k Kind) Priority() int {
	switch k {
	case KindDebate:
		return 0
	case KindBlock:
		return 1
	case KindTopic:
		return 2
	case KindSentence:
		return 3
	case KindProposal:
		return 4
	case KindClaim:
		return 5
	case KindMention:
		return 6
	}
	return 7
}

// ParseKind maps a layer name (singular or plural) to its Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "block", "blocks":
		return KindBlock, true
	case "topic", "topics":
		return KindTopic, true
	case "proposal", "proposals":
		return KindProposal, true
	case "claim", "claims":
		return KindClaim, true
	case "mention", "mentions":
		return KindMention, true
	}
	return "", false
}

// Plural returns the directory name used for a layer.
func (k Kind) Plural() string {
	return string(k) + "s"
}

// Payload is the closed set of per-layer annotation records.
type Payload interface {
	Kind() Kind
	isPayload()
}

// BlockPayload marks a discourse block (a moderator-introduced section).
type BlockPayload struct {
	Title string `json:"title"`
}

// TopicPayload labels the topic under discussion.
type TopicPayload struct {
	Title string `json:"title"`
}

// ProposalPayload is a policy proposal made by a participant.
type ProposalPayload struct {
	Summary string `json:"summary"`
}

// ClaimPayload is a checkable factual assertion, normalized by the extraction pass.
type ClaimPayload struct {
	Statement string `json:"statement"`
}

// MentionPayload is a named-entity mention.
type MentionPayload struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (BlockPayload) Kind() Kind    { return KindBlock }
func (TopicPayload) Kind() Kind    { return KindTopic }
func (ProposalPayload) Kind() Kind { return KindProposal }
func (ClaimPayload) Kind() Kind    { return KindClaim }
func (MentionPayload) Kind() Kind  { return KindMention }

func (BlockPayload) isPayload()    {}
func (TopicPayload) isPayload()    {}
func (ProposalPayload) isPayload() {}
func (ClaimPayload) isPayload()    {}
func (MentionPayload) isPayload()  {}

// Annotation is one upstream record: a raw span plus its layer payload.
type Annotation struct {
	ID      string
	Span    RawSpan
	Payload Payload
}

// Kind returns the layer the annotation belongs to.
func (a Annotation) Kind() Kind {
	if a.Payload == nil {
		return ""
	}
	return a.Payload.Kind()
}

// Layers groups the five upstream annotation collections of one debate.
type Layers struct {
	Blocks    []Annotation
	Topics    []Annotation
	Proposals []Annotation
	Claims    []Annotation
	Mentions  []Annotation
}

// Of returns the annotations of one layer.
func (l Layers) Of(k Kind) []Annotation {
	switch k {
	case KindBlock:
		return l.Blocks
	case KindTopic:
		return l.Topics
	case KindProposal:
		return l.Proposals
	case KindClaim:
		return l.Claims
	case KindMention:
		return l.Mentions
	}
	return nil
}

// Add appends a to the layer matching its payload kind.
func (l *Layers) Add(a Annotation) {
	switch a.Kind() {
	case KindBlock:
		l.Blocks = append(l.Blocks, a)
	case KindTopic:
		l.Topics = append(l.Topics, a)
	case KindProposal:
		l.Proposals = append(l.Proposals, a)
	case KindClaim:
		l.Claims = append(l.Claims, a)
	case KindMention:
		l.Mentions = append(l.Mentions, a)
	}
}

// Len returns the total number of annotations across layers.
func (l Layers) Len() int {
	return len(l.Blocks) + len(l.Topics) + len(l.Proposals) + len(l.Claims) + len(l.Mentions)
}
