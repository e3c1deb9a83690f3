// Package compiler merges a debate's segments and annotation layers into one
// hierarchical document.
package compiler

import (
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/ppiankov/tribuna/internal/model"
	"github.com/ppiankov/tribuna/internal/span"
	"github.com/ppiankov/tribuna/internal/stats"
)

// Result is the outcome of compiling one debate.
type Result struct {
	Document    *model.Document
	Diagnostics []model.Diagnostic
	Stats       map[model.Kind]model.LayerStats
}

// Compiler builds documents. It holds no per-debate state and is safe for
// concurrent use.
type Compiler struct {
	log *logrus.Entry
}

// New creates a compiler logging through log. A nil log discards output.
func New(log *logrus.Entry) *Compiler {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = logrus.NewEntry(l)
	}
	return &Compiler{log: log}
}

// item is one resolved annotation moving through the compile.
type item struct {
	ann   model.Annotation
	order int // input order within the layer
	span  model.Span
	flags []model.Flag
}

func (it *item) flag(f model.Flag) {
	for _, x := range it.flags {
		if x == f {
			return
		}
	}
	it.flags = append(it.flags, f)
}

func (it *item) has(f model.Flag) bool {
	for _, x := range it.flags {
		if x == f {
			return true
		}
	}
	return false
}

// build accumulates the state of one Compile call.
type build struct {
	log    *logrus.Entry
	segs   []model.Segment
	diags  []model.Diagnostic
	stats  map[model.Kind]model.LayerStats
	order  map[*model.Node]int
	nextID int
}

// Compile merges segs and layers into a document for debate id. Only an empty
// segment store is fatal; every other problem becomes a diagnostic.
func (c *Compiler) Compile(id string, meta model.DebateMeta, segs []model.Segment, layers model.Layers) (*Result, error) {
	if len(segs) == 0 {
		return nil, fmt.Errorf("debate %s: %w", id, model.ErrEmptyInput)
	}

	b := &build{
		log:   c.log.WithField("debate", id),
		segs:  segs,
		stats: make(map[model.Kind]model.LayerStats),
		order: make(map[*model.Node]int),
	}

	root := &model.Node{
		ID:   "debate",
		Kind: model.KindDebate,
		Span: model.SegmentSpan(0, len(segs)-1),
		Debate: &model.DebateInfo{
			ID:           id,
			Date:         meta.Date,
			ElectionDate: meta.ElectionDate,
			Media:        meta.Media,
		},
	}
	b.seq(root)

	blocks := b.compileBlocks(layers.Blocks, root)
	b.compileTopics(layers.Topics, blocks, root)
	sentences := b.compileSentences(blocks, root)
	for _, k := range []model.Kind{model.KindProposal, model.KindClaim, model.KindMention} {
		b.compileLeaves(k, layers.Of(k), blocks, sentences, root)
	}

	sortTree(root, b.order)

	s := b.stats
	c.log.WithFields(logrus.Fields{
		"debate":      id,
		"segments":    len(segs),
		"blocks":      s[model.KindBlock].Placed,
		"claims":      s[model.KindClaim].Placed,
		"diagnostics": len(b.diags),
	}).Info("Compiled debate")

	return &Result{
		Document:    &model.Document{SchemaVersion: model.SchemaVersion, Root: root},
		Diagnostics: b.diags,
		Stats:       b.stats,
	}, nil
}

func (b *build) seq(n *model.Node) {
	b.order[n] = b.nextID
	b.nextID++
}

func (b *build) diag(d model.Diagnostic) {
	b.diags = append(b.diags, d)
	entry := b.log.WithFields(logrus.Fields{"code": d.Code, "kind": d.Kind, "source": d.Source})
	if d.Code == model.DiagSkipped {
		entry.Warn(d.Message)
	} else {
		entry.Debug(d.Message)
	}
}

func (b *build) count(k model.Kind, fn func(*model.LayerStats)) {
	s := b.stats[k]
	fn(&s)
	b.stats[k] = s
}

// resolve maps every annotation of one layer onto the segment store. Failures are
// counted as skipped and dropped from the result.
func (b *build) resolve(k model.Kind, anns []model.Annotation) []*item {
	b.count(k, func(s *model.LayerStats) { s.Input += len(anns) })

	var out []*item
	for i, ann := range anns {
		res, err := span.Resolve(ann.Span, b.segs)
		if err != nil {
			var resErr *span.ResolutionError
			msg := err.Error()
			if errors.As(err, &resErr) {
				msg = resErr.Reason
			}
			b.count(k, func(s *model.LayerStats) { s.Skipped++ })
			b.diag(model.Diagnostic{Code: model.DiagSkipped, Kind: k, Source: ann.ID, Message: msg})
			continue
		}
		it := &item{ann: ann, order: i, span: res.Span}
		if res.Clamped {
			it.flag(model.FlagClamped)
			b.count(k, func(s *model.LayerStats) { s.Clamped++ })
			b.diag(model.Diagnostic{Code: model.DiagClamped, Kind: k, Source: ann.ID,
				Message: fmt.Sprintf("span %s clamped to %s", ann.Span, res.Span)})
		}
		out = append(out, it)
	}
	return out
}

// sortItems orders items by start position, then input order.
func sortItems(items []*item) {
	sort.SliceStable(items, func(i, j int) bool {
		if c := items[i].span.Start.Compare(items[j].span.Start); c != 0 {
			return c < 0
		}
		return items[i].order < items[j].order
	})
}

// truncate makes same-kind items consistent: an item conflicting with an earlier
// one has its start moved to the earlier item's end. Repeats until stable, since a
// moved start can newly conflict with an item it used to contain.
func (b *build) truncate(k model.Kind, items []*item, conflicts func(a, c model.Span) bool) {
	for i, it := range items {
		for changed := true; changed && !it.span.Empty(); {
			changed = false
			for _, prev := range items[:i] {
				if prev.span.Empty() || !conflicts(prev.span, it.span) {
					continue
				}
				from := it.span
				it.span.Start = prev.span.End
				if it.span.End.Less(it.span.Start) {
					// Swallowed by a block: collapse onto its own end.
					it.span.Start = it.span.End
				}
				changed = true
				if !it.has(model.FlagTruncated) {
					it.flag(model.FlagTruncated)
					b.count(k, func(s *model.LayerStats) { s.Truncated++ })
				}
				b.diag(model.Diagnostic{Code: model.DiagTruncated, Kind: k, Source: it.ann.ID,
					Message: fmt.Sprintf("overlaps %s; %s truncated to %s", prev.ann.ID, from, it.span)})
				if it.span.Empty() {
					break
				}
			}
		}
	}
}

// unanchor records an item that could not be placed inside a block or sentence.
func (b *build) unanchor(k model.Kind, it *item, reason string) {
	it.flag(model.FlagUnanchored)
	b.count(k, func(s *model.LayerStats) { s.Unanchored++ })
	b.diag(model.Diagnostic{Code: model.DiagUnanchored, Kind: k, Source: it.ann.ID, Message: reason})
}

func anyOverlap(a, c model.Span) bool { return a.Overlaps(c) }

func partialOverlap(a, c model.Span) bool { return a.Conflicts(c) }

// compileBlocks snaps blocks to whole segments and removes every overlap between
// them. Non-empty blocks are returned in document order.
func (b *build) compileBlocks(anns []model.Annotation, root *model.Node) []*model.Node {
	items := b.resolve(model.KindBlock, anns)
	for _, it := range items {
		if it.span.Empty() {
			continue
		}
		first, last := it.span.Segments()
		it.span = model.SegmentSpan(first, last)
	}
	sortItems(items)
	b.truncate(model.KindBlock, items, anyOverlap)
	sortItems(items)

	var blocks []*model.Node
	for i, it := range items {
		if it.span.Empty() {
			b.unanchor(model.KindBlock, it, "block span is empty")
		} else {
			b.count(model.KindBlock, func(s *model.LayerStats) { s.Placed++ })
		}
		p := it.ann.Payload.(model.BlockPayload)
		n := &model.Node{
			ID:     fmt.Sprintf("b%d", i+1),
			Kind:   model.KindBlock,
			Span:   it.span,
			Source: it.ann.ID,
			Flags:  it.flags,
			Block:  &model.BlockInfo{Title: p.Title},
		}
		b.seq(n)
		root.Children = append(root.Children, n)
		if !it.span.Empty() {
			blocks = append(blocks, n)
		}
	}
	return blocks
}

// compileTopics attaches topics to the blocks they cover, splitting a topic that
// crosses block boundaries into one piece per block.
func (b *build) compileTopics(anns []model.Annotation, blocks []*model.Node, root *model.Node) {
	items := b.resolve(model.KindTopic, anns)
	sortItems(items)
	b.truncate(model.KindTopic, items, partialOverlap)

	for _, it := range items {
		p := it.ann.Payload.(model.TopicPayload)
		placed := false
		if !it.span.Empty() {
			for _, blk := range blocks {
				piece, ok := it.span.Intersect(blk.Span)
				if !ok {
					continue
				}
				blk.Block.Topics = append(blk.Block.Topics, model.TopicRef{
					Title:        p.Title,
					Span:         piece,
					Source:       it.ann.ID,
					Continuation: placed,
					Flags:        it.flags,
				})
				placed = true
			}
		}
		if placed {
			b.count(model.KindTopic, func(s *model.LayerStats) { s.Placed++ })
			continue
		}
		reason := "topic covers no block"
		if it.span.Empty() {
			reason = "topic span is empty"
		}
		b.unanchor(model.KindTopic, it, reason)
		root.Debate.Topics = append(root.Debate.Topics, model.TopicRef{
			Title:  p.Title,
			Span:   it.span,
			Source: it.ann.ID,
			Flags:  it.flags,
		})
	}

	for _, blk := range blocks {
		topics := blk.Block.Topics
		sort.SliceStable(topics, func(i, j int) bool {
			return topics[i].Span.Start.Less(topics[j].Span.Start)
		})
	}
}

// compileSentences creates one Sentence per segment inside its block, or under the
// root when no block covers it. It also collects participants and their stats.
func (b *build) compileSentences(blocks []*model.Node, root *model.Node) []*model.Node {
	participants := make(map[string]int)
	var tokens [][][]model.Token

	sentences := make([]*model.Node, len(b.segs))
	bi := 0
	for i, seg := range b.segs {
		pi, ok := participants[seg.Speaker]
		if !ok {
			pi = len(root.Debate.Participants)
			participants[seg.Speaker] = pi
			root.Debate.Participants = append(root.Debate.Participants, model.Participant{
				ID:    fmt.Sprintf("p%d", pi+1),
				Name:  seg.Speaker,
				Party: seg.Party,
			})
			tokens = append(tokens, nil)
		}
		if len(seg.Tokens) > 0 {
			tokens[pi] = append(tokens[pi], seg.Tokens)
		}

		sp := model.SegmentSpan(i, i)
		for bi < len(blocks) && !sp.Start.Less(blocks[bi].Span.End) {
			bi++
		}
		parent := root
		if bi < len(blocks) && blocks[bi].Span.Contains(sp) {
			parent = blocks[bi]
		}

		info := &model.SentenceInfo{
			Segment:     i,
			Participant: root.Debate.Participants[pi].ID,
			Speaker:     seg.Speaker,
			Start:       seg.Start,
			End:         seg.End,
			Text:        seg.Text,
			Stats:       stats.Segment(seg.Tokens),
		}
		if parent.Block != nil {
			info.Topic = topicAt(parent.Block.Topics, sp)
		}

		n := &model.Node{
			ID:       fmt.Sprintf("s%03d", i),
			Kind:     model.KindSentence,
			Span:     sp,
			Sentence: info,
		}
		b.seq(n)
		parent.Children = append(parent.Children, n)
		sentences[i] = n
	}

	for i := range root.Debate.Participants {
		root.Debate.Participants[i].Stats = stats.Aggregate(tokens[i])
	}
	return sentences
}

// topicAt returns the title of the first topic piece overlapping sp.
func topicAt(topics []model.TopicRef, sp model.Span) string {
	for _, t := range topics {
		if t.Span.Overlaps(sp) {
			return t.Title
		}
	}
	return ""
}

// compileLeaves places proposals, claims or mentions under the most specific
// containing sentence or block.
func (b *build) compileLeaves(k model.Kind, anns []model.Annotation, blocks, sentences []*model.Node, root *model.Node) {
	items := b.resolve(k, anns)
	sortItems(items)
	b.truncate(k, items, partialOverlap)
	sortItems(items)

	prefix := map[model.Kind]string{
		model.KindProposal: "pr",
		model.KindClaim:    "c",
		model.KindMention:  "m",
	}[k]

	for i, it := range items {
		n := &model.Node{
			ID:     fmt.Sprintf("%s%d", prefix, i+1),
			Kind:   k,
			Span:   it.span,
			Source: it.ann.ID,
		}
		switch p := it.ann.Payload.(type) {
		case model.ProposalPayload:
			n.Proposal = &p
		case model.ClaimPayload:
			n.Claim = &p
		case model.MentionPayload:
			n.Mention = &p
		}

		parent := root
		if it.span.Empty() {
			b.unanchor(k, it, "span is empty")
		} else if p := container(it.span, blocks, sentences); p != nil {
			parent = p
			b.count(k, func(s *model.LayerStats) { s.Placed++ })
		} else {
			b.unanchor(k, it, fmt.Sprintf("no block or sentence contains %s", it.span))
		}
		n.Flags = it.flags
		b.seq(n)
		parent.Children = append(parent.Children, n)
	}
}

// container returns the most specific sentence or block containing sp.
func container(sp model.Span, blocks, sentences []*model.Node) *model.Node {
	first, last := sp.Segments()
	if first == last && first < len(sentences) && sentences[first].Span.Contains(sp) {
		return sentences[first]
	}
	for _, blk := range blocks {
		if blk.Span.Contains(sp) {
			return blk
		}
	}
	return nil
}

// sortTree orders every node's children by start, then kind priority, then
// creation order.
func sortTree(root *model.Node, order map[*model.Node]int) {
	root.Walk(func(n, _ *model.Node) bool {
		ch := n.Children
		sort.SliceStable(ch, func(i, j int) bool {
			if c := ch[i].Span.Start.Compare(ch[j].Span.Start); c != 0 {
				return c < 0
			}
			if pi, pj := ch[i].Kind.Priority(), ch[j].Kind.Priority(); pi != pj {
				return pi < pj
			}
			return order[ch[i]] < order[ch[j]]
		})
		return true
	})
}
