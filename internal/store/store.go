// Package store provides habit persistence interfaces and implementations.
package store

import (
	"context"
	"errors"

	"github.com/drillsergeant/coach/internal/domain"
)

// ErrHabitNotFound is returned when a completion references an unknown or
// removed habit.
var ErrHabitNotFound = errors.New("habit not found")

// HabitStore defines the interface for persisting habits and completions.
type HabitStore interface {
	// ListHabits returns every active habit, oldest first.
	ListHabits(ctx context.Context) ([]domain.Habit, error)

	// AddHabit creates a habit. startTime and deadlineTime are optional HH:MM values.
	AddHabit(ctx context.Context, name, startTime, deadlineTime string) (*domain.Habit, error)

	// RemoveHabit deactivates a habit. Its completions are kept.
	// It reports whether an active habit was removed.
	RemoveHabit(ctx context.Context, id string) (bool, error)

	// RecordCompletion stores a completion for habitID on date (YYYY-MM-DD).
	// A second call for the same habit and date returns the existing row
	// with created set to false.
	RecordCompletion(ctx context.Context, habitID, date string, proof *domain.ProofDescriptor) (c *domain.Completion, created bool, err error)

	// TodayStatus returns every active habit with whether it is completed on date.
	TodayStatus(ctx context.Context, date string) ([]domain.HabitStatus, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
