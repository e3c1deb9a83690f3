package model

// SchemaVersion identifies the compiled document layout.
const SchemaVersion = "tribuna/v1"

// Flag marks how the compiler had to adjust a node.
type Flag string

const (
	FlagClamped    Flag = "clamped"    // span was clamped into the segment store
	FlagTruncated  Flag = "truncated"  // start moved past a same-kind conflict
	FlagUnanchored Flag = "unanchored" // no block or sentence contains the span
)

// Document is the persisted artifact for one debate.
type Document struct {
	SchemaVersion string `json:"schema_version"`
	Root          *Node  `json:"root"`
}

// Node is one element of the compiled tree. Exactly one payload pointer matching
// Kind is set.
type Node struct {
	ID       string           `json:"id"`
	Kind     Kind             `json:"kind"`
	Span     Span             `json:"span"`
	Source   string           `json:"source,omitempty"` // upstream annotation ID
	Flags    []Flag           `json:"flags,omitempty"`
	Debate   *DebateInfo      `json:"debate,omitempty"`
	Block    *BlockInfo       `json:"block,omitempty"`
	Sentence *SentenceInfo    `json:"sentence,omitempty"`
	Proposal *ProposalPayload `json:"proposal,omitempty"`
	Claim    *ClaimPayload    `json:"claim,omitempty"`
	Mention  *MentionPayload  `json:"mention,omitempty"`
	Children []*Node          `json:"children,omitempty"`
}

// HasFlag reports whether f is set on the node.
func (n *Node) HasFlag(f Flag) bool {
	for _, x := range n.Flags {
		if x == f {
			return true
		}
	}
	return false
}

// Walk visits n and its descendants depth-first in document order. Returning false
// from fn skips the node's children.
func (n *Node) Walk(fn func(node, parent *Node) bool) {
	var walk func(node, parent *Node)
	walk = func(node, parent *Node) {
		if !fn(node, parent) {
			return
		}
		for _, c := range node.Children {
			walk(c, node)
		}
	}
	walk(n, nil)
}

// Sentences returns every Sentence node in document order.
func (n *Node) Sentences() []*Node {
	var out []*Node
	n.Walk(func(node, _ *Node) bool {
		if node.Kind == KindSentence {
			out = append(out, node)
		}
		return true
	})
	return out
}

// Find returns every node of kind k in document order.
func (n *Node) Find(k Kind) []*Node {
	var out []*Node
	n.Walk(func(node, _ *Node) bool {
		if node.Kind == k {
			out = append(out, node)
		}
		return true
	})
	return out
}

// DebateInfo is the root payload.
type DebateInfo struct {
	ID           string        `json:"id"`
	Date         string        `json:"date,omitempty"`
	ElectionDate string        `json:"election_date,omitempty"`
	Media        string        `json:"media,omitempty"`
	Participants []Participant `json:"participants"`
	Topics       []TopicRef    `json:"unanchored_topics,omitempty"`
}

// Participant is a distinct speaker of the debate.
type Participant struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Party string           `json:"party,omitempty"`
	Stats *LinguisticStats `json:"stats,omitempty"`
}

// BlockInfo is the payload of a top-level discourse section.
type BlockInfo struct {
	Title  string     `json:"title"`
	Topics []TopicRef `json:"topics,omitempty"`
}

// TopicRef is a topic label attached to a block. A topic crossing block boundaries
// is split and every piece after the first is a continuation.
type TopicRef struct {
	Title        string `json:"title"`
	Span         Span   `json:"span"`
	Source       string `json:"source,omitempty"`
	Continuation bool   `json:"continuation,omitempty"`
	Flags        []Flag `json:"flags,omitempty"`
}

// SentenceInfo is the payload of a Sentence node, one per transcript segment.
type SentenceInfo struct {
	Segment     int              `json:"segment"`
	Participant string           `json:"participant"`
	Speaker     string           `json:"speaker"`
	Start       float64          `json:"start"`
	End         float64          `json:"end"`
	Text        string           `json:"text"`
	Topic       string           `json:"topic,omitempty"`
	Stats       *LinguisticStats `json:"stats,omitempty"`
	Emotion     Emotion          `json:"emotion,omitempty"`
}

// LinguisticStats are lexical and syntactic complexity metrics over a token set.
type LinguisticStats struct {
	Tokens        int     `json:"tokens"`
	TTR           float64 `json:"ttr"`
	StopRatio     float64 `json:"stop_ratio"`
	AvgSentLen    float64 `json:"avg_sent_len"`
	AvgDepPerVerb float64 `json:"avg_dep_per_verb"`
	PunctRatio    float64 `json:"punct_ratio"`
	AdjRatio      float64 `json:"adj_ratio"`
	AdvRatio      float64 `json:"adv_ratio"`
	AvgDepDist    float64 `json:"avg_dep_dist"`
}
