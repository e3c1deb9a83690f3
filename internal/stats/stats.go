// Package stats computes lexical and syntactic complexity metrics from tokens.
package stats

import (
	"math"

	"github.com/ppiankov/tribuna/internal/model"
)

// Universal POS tags used by the metrics.
const (
	posVerb  = "VERB"
	posPunct = "PUNCT"
	posAdj   = "ADJ"
	posAdv   = "ADV"
)

// Segment computes metrics for the tokens of one segment. It returns nil when there
// are no tokens.
func Segment(tokens []model.Token) *model.LinguisticStats {
	return Aggregate([][]model.Token{tokens})
}

// Aggregate computes metrics over several segments at once, as for all the
// interventions of one speaker. Token indices and heads are segment local.
func Aggregate(groups [][]model.Token) *model.LinguisticStats {
	type sentKey struct{ group, sentence int }

	var (
		total      int
		stop       int
		punct      int
		adj        int
		adv        int
		depDistSum int
		verbs      int
		verbDeps   int
	)
	lemmas := make(map[string]struct{})
	sentences := make(map[sentKey]struct{})

	for g, tokens := range groups {
		// Dependents per head, segment local.
		dependents := make(map[int]int, len(tokens))
		for _, tok := range tokens {
			if tok.Head != tok.Index {
				dependents[tok.Head]++
			}
		}

		for _, tok := range tokens {
			total++
			lemma := tok.Lemma
			if lemma == "" {
				lemma = tok.Text
			}
			lemmas[lemma] = struct{}{}
			sentences[sentKey{g, tok.Sentence}] = struct{}{}

			if tok.IsStop {
				stop++
			}
			switch tok.POS {
			case posPunct:
				punct++
			case posAdj:
				adj++
			case posAdv:
				adv++
			case posVerb:
				verbs++
				verbDeps += dependents[tok.Index]
			}
			depDistSum += abs(tok.Index - tok.Head)
		}
	}

	if total == 0 {
		return nil
	}

	ft := float64(total)
	s := &model.LinguisticStats{
		Tokens:     total,
		TTR:        round(float64(len(lemmas)) / ft),
		StopRatio:  round(float64(stop) / ft * 100),
		AvgSentLen: round(ft / float64(len(sentences))),
		PunctRatio: round(float64(punct) / ft * 100),
		AdjRatio:   round(float64(adj) / ft * 100),
		AdvRatio:   round(float64(adv) / ft * 100),
		AvgDepDist: round(float64(depDistSum) / ft),
	}
	if verbs > 0 {
		s.AvgDepPerVerb = round(float64(verbDeps) / float64(verbs))
	}
	return s
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// round keeps four decimals so serialized documents stay readable.
func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}
