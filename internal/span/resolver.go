// Package span maps raw annotation spans onto canonical segment positions.
package span

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ppiankov/tribuna/internal/model"
)

// ResolutionError reports a raw span that cannot be mapped onto the segment store.
type ResolutionError struct {
	Span   model.RawSpan
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unresolvable span %s: %s", e.Span, e.Reason)
}

// Resolution is a successfully resolved span.
type Resolution struct {
	Span    model.Span
	Clamped bool
}

// Resolve maps raw onto segs. Indices and offsets outside the store are clamped to
// the nearest valid boundary; spans with nothing to clamp to fail with a
// *ResolutionError. End positions that coincide with a segment's end are normalized
// to the start of the next segment, so every boundary has one representation.
func Resolve(raw model.RawSpan, segs []model.Segment) (Resolution, error) {
	n := len(segs)
	fail := func(format string, args ...any) (Resolution, error) {
		return Resolution{}, &ResolutionError{Span: raw, Reason: fmt.Sprintf(format, args...)}
	}

	if n == 0 {
		return fail("segment store is empty")
	}
	if raw.To < raw.From {
		return fail("end segment %d before start segment %d", raw.To, raw.From)
	}
	if raw.To < 0 || raw.From >= n {
		return fail("segments [%d,%d] outside store of %d", raw.From, raw.To, n)
	}

	var res Resolution
	from, to := raw.From, raw.To
	if from < 0 {
		from, res.Clamped = 0, true
	}
	if to >= n {
		to, res.Clamped = n-1, true
	}
	// Offsets refer to the original boundary segments; once those are clamped away
	// the offsets are meaningless.
	startValid := from == raw.From
	endValid := to == raw.To

	if raw.Unit == model.UnitSegment || (raw.Start == nil && raw.End == nil) {
		res.Span = model.SegmentSpan(from, to)
		return res, nil
	}

	startOff, endOff := 0, -1
	switch raw.Unit {
	case model.UnitChar:
		if raw.Start != nil && startValid {
			var c bool
			startOff, c = clamp(*raw.Start, segs[from].Len())
			res.Clamped = res.Clamped || c
		}
		if raw.End != nil && endValid {
			var c bool
			endOff, c = clamp(*raw.End, segs[to].Len())
			res.Clamped = res.Clamped || c
		}
	case model.UnitToken:
		if raw.Start != nil && startValid {
			offs, err := tokenOffsets(segs[from])
			if err != nil {
				return fail("%v", err)
			}
			idx, c := clamp(*raw.Start, len(offs))
			res.Clamped = res.Clamped || c
			startOff = segs[from].Len()
			if idx < len(offs) {
				startOff = offs[idx].start
			}
		}
		if raw.End != nil && endValid {
			offs, err := tokenOffsets(segs[to])
			if err != nil {
				return fail("%v", err)
			}
			idx, c := clamp(*raw.End, len(offs))
			res.Clamped = res.Clamped || c
			endOff = 0
			if idx > 0 {
				endOff = offs[idx-1].end
			}
		}
	default:
		return fail("unknown offset unit %q", raw.Unit)
	}

	start := normalize(model.Pos{Segment: from, Offset: startOff}, segs)
	end := model.Pos{Segment: to + 1}
	if endOff >= 0 {
		end = normalize(model.Pos{Segment: to, Offset: endOff}, segs)
	}
	if end.Less(start) {
		return fail("end offset before start offset")
	}
	res.Span = model.Span{Start: start, End: end}
	return res, nil
}

// clamp limits v to [0, max].
func clamp(v, max int) (int, bool) {
	switch {
	case v < 0:
		return 0, true
	case v > max:
		return max, true
	}
	return v, false
}

func normalize(p model.Pos, segs []model.Segment) model.Pos {
	if p.Offset > 0 && p.Offset >= segs[p.Segment].Len() {
		return model.Pos{Segment: p.Segment + 1}
	}
	return p
}

type runeRange struct{ start, end int }

// tokenOffsets aligns token texts against the segment text and returns the rune
// range of each token. Tokens that cannot be found (normalized by the tokenizer)
// are given an empty range at the current cursor.
func tokenOffsets(seg model.Segment) ([]runeRange, error) {
	if len(seg.Tokens) == 0 {
		return nil, fmt.Errorf("segment %d has no tokens", seg.Index)
	}
	out := make([]runeRange, len(seg.Tokens))
	text := seg.Text
	cursor := 0 // byte offset
	runes := 0  // rune offset of cursor
	for i, tok := range seg.Tokens {
		idx := -1
		if tok.Text != "" {
			idx = strings.Index(text[cursor:], tok.Text)
		}
		if idx < 0 {
			out[i] = runeRange{runes, runes}
			continue
		}
		startRunes := runes + utf8.RuneCountInString(text[cursor:cursor+idx])
		endRunes := startRunes + utf8.RuneCountInString(tok.Text)
		out[i] = runeRange{startRunes, endRunes}
		cursor += idx + len(tok.Text)
		runes = endRunes
	}
	return out, nil
}
