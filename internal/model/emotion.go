package model

import "strings"

// Emotion is the closed label set attached to Sentence nodes.
type Emotion string

const (
	EmotionAnger    Emotion = "anger"
	EmotionDisgust  Emotion = "disgust"
	EmotionFear     Emotion = "fear"
	EmotionJoy      Emotion = "joy"
	EmotionSadness  Emotion = "sadness"
	EmotionSurprise Emotion = "surprise"
	EmotionNeutral  Emotion = "neutral"
)

// Emotions lists every valid label in display order.
var Emotions = []Emotion{
	EmotionAnger, EmotionDisgust, EmotionFear, EmotionJoy,
	EmotionSadness, EmotionSurprise, EmotionNeutral,
}

// The transcripts are Spanish and classifiers answer in either language.
var emotionAliases = map[string]Emotion{
	"ira":      EmotionAnger,
	"enfado":   EmotionAnger,
	"asco":     EmotionDisgust,
	"miedo":    EmotionFear,
	"alegria":  EmotionJoy,
	"alegría":  EmotionJoy,
	"tristeza": EmotionSadness,
	"sorpresa": EmotionSurprise,
	"neutro":   EmotionNeutral,
	"neutra":   EmotionNeutral,
}

// ParseEmotion normalizes a label. The second result is false for labels outside the set.
func ParseEmotion(s string) (Emotion, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, ".\"'`*")
	for _, e := range Emotions {
		if s == string(e) {
			return e, true
		}
	}
	if e, ok := emotionAliases[s]; ok {
		return e, true
	}
	return "", false
}
