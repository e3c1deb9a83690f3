package model

import "fmt"

// OffsetUnit selects how RawSpan offsets are interpreted.
type OffsetUnit string

const (
	UnitSegment OffsetUnit = ""      // whole segments, offsets ignored
	UnitChar    OffsetUnit = "char"  // rune offsets
	UnitToken   OffsetUnit = "token" // token indices
)

// RawSpan is a span reference as produced by an upstream extraction pass.
// From and To are a closed range of segment indices. Start refines segment From and
// End (exclusive) refines segment To, both in Unit.
type RawSpan struct {
	From  int        `json:"from"`
	To    int        `json:"to"`
	Unit  OffsetUnit `json:"unit,omitempty"`
	Start *int       `json:"start,omitempty"`
	End   *int       `json:"end,omitempty"`
}

// SegmentRange returns a raw span covering segments from..to inclusive.
func SegmentRange(from, to int) RawSpan {
	return RawSpan{From: from, To: to}
}

// CharRange returns a raw span covering runes [start, end) of one segment.
func CharRange(segment, start, end int) RawSpan {
	return RawSpan{From: segment, To: segment, Unit: UnitChar, Start: &start, End: &end}
}

// TokenRange returns a raw span covering tokens [start, end) of one segment.
func TokenRange(segment, start, end int) RawSpan {
	return RawSpan{From: segment, To: segment, Unit: UnitToken, Start: &start, End: &end}
}

func (r RawSpan) String() string {
	if r.Unit == UnitSegment || (r.Start == nil && r.End == nil) {
		return fmt.Sprintf("[%d,%d]", r.From, r.To)
	}
	s, e := "-", "-"
	if r.Start != nil {
		s = fmt.Sprint(*r.Start)
	}
	if r.End != nil {
		e = fmt.Sprint(*r.End)
	}
	return fmt.Sprintf("[%d:%s,%d:%s]/%s", r.From, s, r.To, e, r.Unit)
}

// Pos is a boundary between characters: a segment index and a rune offset inside it.
// Positions order lexicographically, so the end of segment i sorts before the start
// of segment i+1.
type Pos struct {
	Segment int `json:"segment"`
	Offset  int `json:"offset"`
}

// Compare returns -1, 0 or +1.
func (p Pos) Compare(q Pos) int {
	switch {
	case p.Segment < q.Segment:
		return -1
	case p.Segment > q.Segment:
		return 1
	case p.Offset < q.Offset:
		return -1
	case p.Offset > q.Offset:
		return 1
	}
	return 0
}

func (p Pos) Less(q Pos) bool { return p.Compare(q) < 0 }

func maxPos(a, b Pos) Pos {
	if a.Less(b) {
		return b
	}
	return a
}

func minPos(a, b Pos) Pos {
	if a.Less(b) {
		return a
	}
	return b
}

// Span is a canonical half-open range [Start, End). A whole-segment range [a, b]
// is [(a,0), (b+1,0)).
type Span struct {
	Start Pos `json:"start"`
	End   Pos `json:"end"`
}

// SegmentSpan returns the canonical span of segments from..to inclusive.
func SegmentSpan(from, to int) Span {
	return Span{Start: Pos{Segment: from}, End: Pos{Segment: to + 1}}
}

// Empty reports whether the span covers nothing.
func (s Span) Empty() bool {
	return !s.Start.Less(s.End)
}

// Contains reports whether o lies within s. Equal spans contain each other.
func (s Span) Contains(o Span) bool {
	return s.Start.Compare(o.Start) <= 0 && o.End.Compare(s.End) <= 0
}

// StrictlyContains reports whether o lies within s and differs from it.
func (s Span) StrictlyContains(o Span) bool {
	return s != o && s.Contains(o)
}

// Overlaps reports whether two non-empty spans share at least one character.
func (s Span) Overlaps(o Span) bool {
	if s.Empty() || o.Empty() {
		return false
	}
	return s.Start.Less(o.End) && o.Start.Less(s.End)
}

// Conflicts reports a partial overlap: the spans overlap and neither strictly
// contains the other. Identical spans conflict.
func (s Span) Conflicts(o Span) bool {
	return s.Overlaps(o) && !s.StrictlyContains(o) && !o.StrictlyContains(s)
}

// Intersect returns the shared part of s and o.
func (s Span) Intersect(o Span) (Span, bool) {
	out := Span{Start: maxPos(s.Start, o.Start), End: minPos(s.End, o.End)}
	if out.Empty() {
		return Span{}, false
	}
	return out, true
}

// Segments returns the first and last segment indices the span touches.
func (s Span) Segments() (first, last int) {
	last = s.End.Segment
	if s.End.Offset == 0 && last > s.Start.Segment {
		last--
	}
	return s.Start.Segment, last
}

func (s Span) String() string {
	return fmt.Sprintf("[%d:%d,%d:%d)", s.Start.Segment, s.Start.Offset, s.End.Segment, s.End.Offset)
}
