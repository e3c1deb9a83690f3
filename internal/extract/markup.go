// Package extract reads the annotation markup written by the language-model
// extraction passes and anchors it onto transcript segments.
//
// The markup is line oriented and only loosely well-formed: timestamp lines
// ("00:12:04.120 ...") open a group, and tags such as
//
//	<BLOQUE titulo="Economía" tiempo="00:03:10.500">
//	<MENCION tipo="PER" texto="Pedro Sánchez">
//
// annotate it. Spanish and English tag and attribute names are both accepted.
package extract

import (
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/ppiankov/tribuna/internal/model"
)

var timestampRe = regexp.MustCompile(`^\s*((?:\d{2}:)?\d{2}:\d{2}\.\d{3})`)

// clockTolerance absorbs millisecond rounding between markup and segment times.
const clockTolerance = 0.0005

var tagKinds = map[string]model.Kind{
	"bloque":    model.KindBlock,
	"block":     model.KindBlock,
	"tema":      model.KindTopic,
	"topic":     model.KindTopic,
	"propuesta": model.KindProposal,
	"proposal":  model.KindProposal,
	"revisable": model.KindClaim,
	"claim":     model.KindClaim,
	"mencion":   model.KindMention,
	"mención":   model.KindMention,
	"mention":   model.KindMention,
}

var attrAliases = map[string]string{
	"titulo":     "title",
	"título":     "title",
	"tiempo":     "time",
	"tipo":       "type",
	"texto":      "text",
	"resumen":    "summary",
	"afirmacion": "statement",
	"afirmación": "statement",
}

// Unresolvable is the raw span given to markup that cannot be anchored. The
// resolver rejects it, so the annotation is reported as skipped.
var Unresolvable = model.RawSpan{From: -1, To: -1}

// tag is one markup element of the requested layer.
type tag struct {
	attrs map[string]string
	at    float64 // seconds
	timed bool
}

// Parse reads markup for layer k and returns its annotations anchored on segs.
// Tags of other layers are ignored.
func Parse(r io.Reader, k model.Kind, segs []model.Segment) ([]model.Annotation, error) {
	tags, err := scan(r, k)
	if err != nil {
		return nil, err
	}

	switch k {
	case model.KindBlock, model.KindTopic:
		return sections(k, tags, segs), nil
	default:
		return anchored(k, tags, segs), nil
	}
}

// scan tokenizes the markup and collects the tags of layer k, each stamped with
// its own time attribute or the last timestamp line seen.
func scan(r io.Reader, k model.Kind) ([]tag, error) {
	z := html.NewTokenizer(r)
	var (
		tags    []tag
		current float64
		hasTime bool
	)
	for {
		switch z.Next() {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				return tags, nil
			}
			return nil, fmt.Errorf("tokenize markup: %w", z.Err())

		case html.TextToken:
			for _, line := range strings.Split(string(z.Text()), "\n") {
				m := timestampRe.FindStringSubmatch(line)
				if m == nil {
					continue
				}
				if t, err := ParseClock(m[1]); err == nil {
					current, hasTime = t, true
				}
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			name, more := z.TagName()
			if kind, ok := tagKinds[string(name)]; !ok || kind != k {
				continue
			}
			t := tag{attrs: make(map[string]string)}
			for more {
				var key, val []byte
				key, val, more = z.TagAttr()
				name := string(key)
				if alias, ok := attrAliases[name]; ok {
					name = alias
				}
				t.attrs[name] = strings.TrimSpace(string(val))
			}
			if v, ok := t.attrs["time"]; ok {
				if at, err := ParseClock(v); err == nil {
					t.at, t.timed = at, true
				}
			} else if hasTime {
				t.at, t.timed = current, true
			}
			tags = append(tags, t)
		}
	}
}

// sections turns time markers into segment ranges: each marker covers the
// segments from its time until the next marker.
func sections(k model.Kind, tags []tag, segs []model.Segment) []model.Annotation {
	sort.SliceStable(tags, func(i, j int) bool {
		if tags[i].timed != tags[j].timed {
			return tags[i].timed
		}
		return tags[i].at < tags[j].at
	})

	out := make([]model.Annotation, 0, len(tags))
	for i, t := range tags {
		raw := Unresolvable
		if t.timed {
			until := math.Inf(1)
			if i+1 < len(tags) && tags[i+1].timed {
				until = tags[i+1].at
			}
			raw = segmentsBetween(segs, t.at, until)
		}
		title := t.attrs["title"]
		var p model.Payload = model.BlockPayload{Title: title}
		if k == model.KindTopic {
			p = model.TopicPayload{Title: title}
		}
		out = append(out, model.Annotation{ID: fmt.Sprintf("%s-%d", k, i+1), Span: raw, Payload: p})
	}
	return out
}

// anchored ties proposals, claims and mentions to the segment starting at their
// timestamp.
// Repeated mentions of the same entity at one timestamp collapse into one.
func anchored(k model.Kind, tags []tag, segs []model.Segment) []model.Annotation {
	out := make([]model.Annotation, 0, len(tags))
	seen := make(map[string]bool)
	for _, t := range tags {
		if k == model.KindMention {
			key := fmt.Sprintf("%v|%.3f|%s|%s", t.timed, t.at, t.attrs["type"], t.attrs["text"])
			if seen[key] {
				continue
			}
			seen[key] = true
		}

		raw := Unresolvable
		seg := -1
		if t.timed {
			seg = segmentAt(segs, t.at)
		}
		if seg >= 0 {
			raw = model.SegmentRange(seg, seg)
		}

		var p model.Payload
		switch k {
		case model.KindProposal:
			p = model.ProposalPayload{Summary: t.attrs["summary"]}
		case model.KindClaim:
			p = model.ClaimPayload{Statement: t.attrs["statement"]}
		case model.KindMention:
			text := t.attrs["text"]
			p = model.MentionPayload{Type: t.attrs["type"], Text: text}
			if seg >= 0 {
				if start, end, ok := locate(segs[seg].Text, text); ok {
					raw = model.CharRange(seg, start, end)
				}
			}
		}
		out = append(out, model.Annotation{ID: fmt.Sprintf("%s-%d", k, len(out)+1), Span: raw, Payload: p})
	}
	return out
}

// segmentAt returns the index of the segment starting at t, or -1.
func segmentAt(segs []model.Segment, t float64) int {
	for i, s := range segs {
		if math.Abs(s.Start-t) < clockTolerance {
			return i
		}
	}
	return -1
}

// segmentsBetween returns the segments starting in [from, until).
func segmentsBetween(segs []model.Segment, from, until float64) model.RawSpan {
	first, last := -1, -1
	for i, s := range segs {
		if s.Start < from-clockTolerance || s.Start >= until-clockTolerance {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 {
		return Unresolvable
	}
	return model.SegmentRange(first, last)
}

// locate finds needle in text ignoring case and returns its rune offsets.
func locate(text, needle string) (start, end int, ok bool) {
	if needle == "" {
		return 0, 0, false
	}
	lt, ln := strings.ToLower(text), strings.ToLower(needle)
	// Lowercasing can change byte lengths; only trust the match when it did not.
	if len(lt) != len(text) || len(ln) != len(needle) {
		lt, ln = text, needle
	}
	idx := strings.Index(lt, ln)
	if idx < 0 {
		return 0, 0, false
	}
	start = utf8.RuneCountInString(text[:idx])
	return start, start + utf8.RuneCountInString(needle), true
}
