// Package domain contains core domain types for the habit coach.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used for completion days.
const DateLayout = "2006-01-02"

// Habit is a user-defined recurring activity tracked for completion.
// Names are free text and not unique.
type Habit struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	StartTime    string    `json:"start_time,omitempty"`
	DeadlineTime string    `json:"deadline_time,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ProofDescriptor records what was submitted as evidence and how it was judged.
type ProofDescriptor struct {
	Reference  string     `json:"reference"`
	Verified   bool       `json:"verified"`
	Confidence Confidence `json:"confidence"`
	Reasoning  string     `json:"reasoning,omitempty"`
}

// Completion is a durable record that a habit was satisfied on a given day.
type Completion struct {
	ID        string           `json:"id"`
	HabitID   string           `json:"habit_id"`
	Date      string           `json:"date"`
	Proof     *ProofDescriptor `json:"proof,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// HabitStatus pairs a habit with whether it has a completion for the day.
type HabitStatus struct {
	Habit     Habit `json:"habit"`
	Completed bool  `json:"completed"`
}

// DayOf returns the completion date for t in loc.
func DayOf(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(DateLayout)
}

// ClockLayout is the HH:MM format for habit start and deadline times.
const ClockLayout = "15:04"

// NormalizeClock validates an optional HH:MM time and returns it zero-padded.
// An empty string is allowed and returned as is.
func NormalizeClock(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Format(ClockLayout), nil
}
