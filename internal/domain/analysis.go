package domain

import "strings"

// Confidence is the model's self-reported certainty.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// ParseConfidence normalizes s and reports whether it is a known level.
func ParseConfidence(s string) (Confidence, bool) {
	switch c := Confidence(strings.ToLower(strings.TrimSpace(s))); c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return c, true
	default:
		return "", false
	}
}

// AtLeast reports whether c is at or above min.
func (c Confidence) AtLeast(min Confidence) bool {
	return c.rank() >= min.rank()
}

func (c Confidence) rank() int {
	switch c {
	case ConfidenceHigh:
		return 3
	case ConfidenceMedium:
		return 2
	case ConfidenceLow:
		return 1
	default:
		return 0
	}
}

// ImageIdentification describes what activity an image appears to show.
type ImageIdentification struct {
	HabitIdentified string     `json:"habit_identified"`
	ActivityType    string     `json:"activity_type"`
	KeyDetails      string     `json:"key_details"`
	Confidence      Confidence `json:"confidence"`
}

// ProofVerification is the verdict on an image as evidence for one named habit.
type ProofVerification struct {
	Verified   bool       `json:"verified"`
	Confidence Confidence `json:"confidence"`
	Reasoning  string     `json:"reasoning"`
}

// MatchResult is the Matcher's answer. Habit is nil for "no match".
type MatchResult struct {
	Habit      *Habit
	Confidence Confidence
	Reasoning  string
}

// Matched reports whether a habit was resolved.
func (m MatchResult) Matched() bool {
	return m.Habit != nil
}
