package model

import "unicode/utf8"

// Token is one linguistic token of a segment. Indices are debate-segment local and
// Head points at the syntactic head's Index.
type Token struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	Lemma    string `json:"lemma,omitempty"`
	POS      string `json:"pos,omitempty"`
	Head     int    `json:"head"`
	Dep      string `json:"dep,omitempty"`
	Sentence int    `json:"sentence"`
	IsStop   bool   `json:"is_stop,omitempty"`
	IsAlpha  bool   `json:"is_alpha,omitempty"`
}

// Segment is one transcribed utterance unit. Segments are immutable once loaded.
type Segment struct {
	DebateID string  `json:"debate_id"`
	Index    int     `json:"index"`
	Speaker  string  `json:"speaker"`
	Party    string  `json:"party,omitempty"`
	Start    float64 `json:"start"` // seconds
	End      float64 `json:"end"`   // seconds
	Text     string  `json:"text"`
	Tokens   []Token `json:"tokens,omitempty"`
}

// Len returns the segment text length in runes. Character offsets are rune offsets.
func (s Segment) Len() int {
	return utf8.RuneCountInString(s.Text)
}
