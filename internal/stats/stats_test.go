package stats

import (
	"testing"

	"github.com/ppiankov/tribuna/internal/model"
)

// "Subiremos las pensiones ." with "Subiremos" as root.
func sampleTokens() []model.Token {
	return []model.Token{
		{Index: 0, Text: "Subiremos", Lemma: "subir", POS: "VERB", Head: 0, Sentence: 0, IsAlpha: true},
		{Index: 1, Text: "las", Lemma: "el", POS: "DET", Head: 2, Sentence: 0, IsStop: true, IsAlpha: true},
		{Index: 2, Text: "pensiones", Lemma: "pensión", POS: "NOUN", Head: 0, Sentence: 0, IsAlpha: true},
		{Index: 3, Text: ".", Lemma: ".", POS: "PUNCT", Head: 0, Sentence: 0},
	}
}

func TestSegment_Empty(t *testing.T) {
	if got := Segment(nil); got != nil {
		t.Errorf("expected nil stats for no tokens, got %+v", got)
	}
}

func TestSegment_Metrics(t *testing.T) {
	s := Segment(sampleTokens())
	if s == nil {
		t.Fatal("expected stats")
	}

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"TTR", s.TTR, 1},
		{"StopRatio", s.StopRatio, 25},
		{"AvgSentLen", s.AvgSentLen, 4},
		{"AvgDepPerVerb", s.AvgDepPerVerb, 2},
		{"PunctRatio", s.PunctRatio, 25},
		{"AdjRatio", s.AdjRatio, 0},
		{"AvgDepDist", s.AvgDepDist, 1.5},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if s.Tokens != 4 {
		t.Errorf("Tokens = %d, want 4", s.Tokens)
	}
}

func TestAggregate_SentencesAreSegmentLocal(t *testing.T) {
	// Two segments, each one sentence numbered 0: four sentences would be wrong,
	// one sentence would be wrong; two is right.
	s := Aggregate([][]model.Token{sampleTokens(), sampleTokens()})
	if s.AvgSentLen != 4 {
		t.Errorf("AvgSentLen = %v, want 4", s.AvgSentLen)
	}
	if s.TTR != 0.5 {
		t.Errorf("TTR = %v, want 0.5 (repeated lemmas)", s.TTR)
	}
}
