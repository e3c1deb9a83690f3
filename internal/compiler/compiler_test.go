package compiler

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/tribuna/internal/model"
	"github.com/ppiankov/tribuna/internal/validate"
)

func segments(n int) []model.Segment {
	speakers := []string{"Moderadora", "Rajoy", "Sánchez"}
	segs := make([]model.Segment, n)
	for i := range segs {
		segs[i] = model.Segment{
			DebateID: "2015-12-14",
			Index:    i,
			Speaker:  speakers[i%len(speakers)],
			Start:    float64(i * 10),
			End:      float64(i*10 + 9),
			Text:     fmt.Sprintf("Intervención número %d.", i),
		}
	}
	return segs
}

func block(id, title string, from, to int) model.Annotation {
	return model.Annotation{ID: id, Span: model.SegmentRange(from, to), Payload: model.BlockPayload{Title: title}}
}

func topic(id, title string, from, to int) model.Annotation {
	return model.Annotation{ID: id, Span: model.SegmentRange(from, to), Payload: model.TopicPayload{Title: title}}
}

func claim(id string, raw model.RawSpan) model.Annotation {
	return model.Annotation{ID: id, Span: raw, Payload: model.ClaimPayload{Statement: "statement " + id}}
}

func mention(id string, raw model.RawSpan) model.Annotation {
	return model.Annotation{ID: id, Span: raw, Payload: model.MentionPayload{Type: "PER", Text: "Rajoy"}}
}

func proposal(id string, raw model.RawSpan) model.Annotation {
	return model.Annotation{ID: id, Span: raw, Payload: model.ProposalPayload{Summary: "summary " + id}}
}

func compile(t *testing.T, segs []model.Segment, layers model.Layers) *Result {
	t.Helper()
	res, err := New(nil).Compile("2015-12-14", model.DebateMeta{Date: "2015-12-14"}, segs, layers)
	require.NoError(t, err)
	require.NotNil(t, res.Document)
	return res
}

func kinds(nodes []*model.Node) []model.Kind {
	out := make([]model.Kind, len(nodes))
	for i, n := range nodes {
		out[i] = n.Kind
	}
	return out
}

func TestCompile_BlockWithNestedClaim(t *testing.T) {
	res := compile(t, segments(3), model.Layers{
		Blocks: []model.Annotation{block("b-1", "Economía", 0, 2)},
		Claims: []model.Annotation{claim("c-1", model.SegmentRange(1, 1))},
	})

	root := res.Document.Root
	assert.Equal(t, model.KindDebate, root.Kind)
	require.Len(t, root.Children, 1)

	blk := root.Children[0]
	assert.Equal(t, model.KindBlock, blk.Kind)
	assert.Equal(t, model.SegmentSpan(0, 2), blk.Span)
	assert.Equal(t, []model.Kind{model.KindSentence, model.KindSentence, model.KindSentence}, kinds(blk.Children))

	s1 := blk.Children[1]
	assert.Equal(t, 1, s1.Sentence.Segment)
	require.Len(t, s1.Children, 1)
	assert.Equal(t, model.KindClaim, s1.Children[0].Kind)
	assert.Equal(t, "c-1", s1.Children[0].Source)
	assert.Empty(t, blk.Children[0].Children)
	assert.Empty(t, blk.Children[2].Children)

	assert.Empty(t, res.Diagnostics)
	assert.Empty(t, validate.Check(res.Document))
}

func TestCompile_DuplicateClaimsTruncated(t *testing.T) {
	res := compile(t, segments(2), model.Layers{
		Claims: []model.Annotation{
			claim("c-1", model.SegmentRange(0, 1)),
			claim("c-2", model.SegmentRange(0, 1)),
		},
	})

	claims := res.Document.Root.Find(model.KindClaim)
	require.Len(t, claims, 2)

	first, second := claims[0], claims[1]
	assert.Equal(t, "c-1", first.Source)
	assert.Equal(t, model.SegmentSpan(0, 1), first.Span)
	assert.False(t, first.HasFlag(model.FlagTruncated))

	assert.Equal(t, "c-2", second.Source)
	assert.Equal(t, model.Pos{Segment: 2}, second.Span.Start)
	assert.True(t, second.Span.Empty())
	assert.True(t, second.HasFlag(model.FlagTruncated))
	assert.True(t, second.HasFlag(model.FlagUnanchored))

	// Both spans cross sentences and no block exists, so both hang off the root.
	assert.Contains(t, res.Document.Root.Children, first)
	assert.Contains(t, res.Document.Root.Children, second)

	st := res.Stats[model.KindClaim]
	assert.Equal(t, 2, st.Input)
	assert.Equal(t, 1, st.Truncated)
	assert.Equal(t, 2, st.Unanchored)
	assert.True(t, st.Accounted())
}

func TestCompile_OutOfRangeMentionSkipped(t *testing.T) {
	res := compile(t, segments(4), model.Layers{
		Mentions: []model.Annotation{
			mention("m-1", model.SegmentRange(5, 6)),
			mention("m-2", model.SegmentRange(2, 2)),
		},
	})

	mentions := res.Document.Root.Find(model.KindMention)
	require.Len(t, mentions, 1)
	assert.Equal(t, "m-2", mentions[0].Source)

	require.Len(t, res.Diagnostics, 1)
	d := res.Diagnostics[0]
	assert.Equal(t, model.DiagSkipped, d.Code)
	assert.Equal(t, model.KindMention, d.Kind)
	assert.Equal(t, "m-1", d.Source)

	st := res.Stats[model.KindMention]
	assert.Equal(t, model.LayerStats{Input: 2, Placed: 1, Skipped: 1}, st)
}

func TestCompile_EmptyStoreIsFatalPerDebate(t *testing.T) {
	c := New(nil)
	debates := map[string][]model.Segment{
		"X": nil,
		"Y": segments(2),
	}

	results := make(map[string]*Result)
	errs := make(map[string]error)
	for _, id := range []string{"X", "Y"} {
		res, err := c.Compile(id, model.DebateMeta{}, debates[id], model.Layers{})
		results[id], errs[id] = res, err
	}

	require.Error(t, errs["X"])
	assert.True(t, errors.Is(errs["X"], model.ErrEmptyInput))
	assert.Nil(t, results["X"])

	require.NoError(t, errs["Y"])
	assert.Len(t, results["Y"].Document.Root.Sentences(), 2)
}

func TestCompile_Determinism(t *testing.T) {
	layers := richLayers()
	a := compile(t, segments(10), layers)
	b := compile(t, segments(10), layers)

	ja, err := json.Marshal(a.Document)
	require.NoError(t, err)
	jb, err := json.Marshal(b.Document)
	require.NoError(t, err)
	assert.Equal(t, string(ja), string(jb))

	da, _ := json.Marshal(a.Diagnostics)
	db, _ := json.Marshal(b.Diagnostics)
	assert.Equal(t, string(da), string(db))
}

// richLayers exercises every conflict path at once.
func richLayers() model.Layers {
	return model.Layers{
		Blocks: []model.Annotation{
			block("b-2", "Pensiones", 4, 7),
			block("b-1", "Economía", 0, 4), // overlaps b-2 on segment 4
			block("b-3", "Nested", 1, 2),   // nested inside b-1
		},
		Topics: []model.Annotation{
			topic("t-1", "Paro", 1, 5),
			topic("t-2", "Deuda", 2, 6), // partial overlap with t-1
			topic("t-3", "Cierre", 8, 9), // after the last block
		},
		Proposals: []model.Annotation{
			proposal("p-1", model.CharRange(5, 0, 10)),
		},
		Claims: []model.Annotation{
			claim("c-1", model.SegmentRange(1, 1)),
			claim("c-2", model.CharRange(1, 3, 12)),
			claim("c-3", model.SegmentRange(3, 5)), // crosses blocks
			claim("c-4", model.SegmentRange(2, 12)), // clamped
		},
		Mentions: []model.Annotation{
			mention("m-1", model.CharRange(1, 3, 12)), // same range as c-2, other kind
			mention("m-2", model.SegmentRange(7, 3)),  // invalid
		},
	}
}

func TestCompile_Invariants(t *testing.T) {
	res := compile(t, segments(10), richLayers())

	assert.Empty(t, validate.Check(res.Document), "containment and sibling invariants")
	assert.Empty(t, validate.CheckAccounting(res.Stats), "no silent loss")

	for _, k := range model.LayerKinds {
		st := res.Stats[k]
		assert.Equal(t, len(richLayers().Of(k)), st.Input, "input count for %s", k)
	}
}

func TestCompile_BlockOverlapTruncated(t *testing.T) {
	res := compile(t, segments(10), richLayers())
	blocks := res.Document.Root.Find(model.KindBlock)
	require.Len(t, blocks, 3)

	byTitle := map[string]*model.Node{}
	for _, b := range blocks {
		byTitle[b.Block.Title] = b
	}

	assert.Equal(t, model.SegmentSpan(0, 4), byTitle["Economía"].Span)
	assert.Empty(t, byTitle["Economía"].Flags)

	assert.Equal(t, model.SegmentSpan(5, 7), byTitle["Pensiones"].Span)
	assert.True(t, byTitle["Pensiones"].HasFlag(model.FlagTruncated))

	nested := byTitle["Nested"]
	assert.True(t, nested.Span.Empty())
	assert.True(t, nested.HasFlag(model.FlagTruncated))
	assert.True(t, nested.HasFlag(model.FlagUnanchored))

	// IDs follow document order.
	assert.Equal(t, "b1", byTitle["Economía"].ID)
}

func TestCompile_TopicContinuation(t *testing.T) {
	res := compile(t, segments(10), richLayers())
	blocks := res.Document.Root.Find(model.KindBlock)

	var eco, pen *model.Node
	for _, b := range blocks {
		switch b.Block.Title {
		case "Economía":
			eco = b
		case "Pensiones":
			pen = b
		}
	}
	require.NotNil(t, eco)
	require.NotNil(t, pen)

	// t-1 [1,5] is split at the block boundary after segment 4.
	require.NotEmpty(t, eco.Block.Topics)
	assert.Equal(t, "Paro", eco.Block.Topics[0].Title)
	assert.False(t, eco.Block.Topics[0].Continuation)

	var cont *model.TopicRef
	for i, tr := range pen.Block.Topics {
		if tr.Source == "t-1" {
			cont = &pen.Block.Topics[i]
		}
	}
	require.NotNil(t, cont)
	assert.True(t, cont.Continuation)
	assert.Equal(t, model.SegmentSpan(5, 5), cont.Span)

	// t-3 covers nothing.
	root := res.Document.Root.Debate
	require.Len(t, root.Topics, 1)
	assert.Equal(t, "t-3", root.Topics[0].Source)

	// Sentences carry the covering topic title.
	s2 := res.Document.Root.Sentences()[2]
	assert.Equal(t, "Paro", s2.Sentence.Topic)
}

func TestCompile_DifferentKindsCoexist(t *testing.T) {
	res := compile(t, segments(10), richLayers())
	s1 := res.Document.Root.Sentences()[1]

	var got []string
	for _, c := range s1.Children {
		got = append(got, c.Source)
	}
	// c-1 is the whole sentence, c-2 and m-1 share a range: nothing truncated.
	assert.Equal(t, []string{"c-1", "c-2", "m-1"}, got)
	for _, c := range s1.Children {
		assert.NotContains(t, c.Flags, model.FlagTruncated)
	}
}

func TestCompile_ClampedClaim(t *testing.T) {
	res := compile(t, segments(10), richLayers())

	var c4 *model.Node
	for _, c := range res.Document.Root.Find(model.KindClaim) {
		if c.Source == "c-4" {
			c4 = c
		}
	}
	require.NotNil(t, c4)
	assert.True(t, c4.HasFlag(model.FlagClamped))
	assert.Equal(t, model.Pos{Segment: 10}, c4.Span.End)
	assert.True(t, c4.HasFlag(model.FlagUnanchored))
	assert.Equal(t, 1, res.Stats[model.KindClaim].Clamped)
}

func TestCompile_Participants(t *testing.T) {
	res := compile(t, segments(4), model.Layers{})
	info := res.Document.Root.Debate

	require.Len(t, info.Participants, 3)
	assert.Equal(t, "p1", info.Participants[0].ID)
	assert.Equal(t, "Moderadora", info.Participants[0].Name)

	sents := res.Document.Root.Sentences()
	assert.Equal(t, "p1", sents[3].Sentence.Participant)
	assert.Equal(t, "p2", sents[1].Sentence.Participant)

	// Without blocks every sentence is a root child.
	for _, s := range sents {
		assert.Contains(t, res.Document.Root.Children, s)
	}
}
