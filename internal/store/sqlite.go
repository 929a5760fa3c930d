package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/drillsergeant/coach/internal/domain"
	"github.com/drillsergeant/coach/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements HabitStore using SQLite.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
	now   func() time.Time
}

// NewSQLite creates a new SQLite-backed habit store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// WAL mode lets the status readers run alongside completion writes.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy, now: time.Now}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS habits (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_time TEXT,
		deadline_time TEXT,
		created_at INTEGER NOT NULL,
		removed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_habits_active ON habits(created_at) WHERE removed_at IS NULL;

	CREATE TABLE IF NOT EXISTS completions (
		id TEXT PRIMARY KEY,
		habit_id TEXT NOT NULL REFERENCES habits(id),
		date TEXT NOT NULL,
		proof_json TEXT,
		created_at INTEGER NOT NULL,
		UNIQUE(habit_id, date)
	);
	CREATE INDEX IF NOT EXISTS idx_completions_date ON completions(date);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// ListHabits returns every active habit, oldest first.
func (s *SQLiteStore) ListHabits(ctx context.Context) ([]domain.Habit, error) {
	query := `
		SELECT id, name, start_time, deadline_time, created_at
		FROM habits WHERE removed_at IS NULL
		ORDER BY created_at, rowid`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query habits: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close habit rows", "error", closeErr)
		}
	}()

	habits := []domain.Habit{}
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, err
		}
		habits = append(habits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate habits: %w", err)
	}
	return habits, nil
}

// AddHabit creates a habit.
func (s *SQLiteStore) AddHabit(ctx context.Context, name, startTime, deadlineTime string) (*domain.Habit, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("habit name cannot be empty")
	}
	start, err := domain.NormalizeClock(startTime)
	if err != nil {
		return nil, fmt.Errorf("start time: %w", err)
	}
	deadline, err := domain.NormalizeClock(deadlineTime)
	if err != nil {
		return nil, fmt.Errorf("deadline time: %w", err)
	}

	h := domain.Habit{
		ID:           uuid.NewString(),
		Name:         name,
		StartTime:    start,
		DeadlineTime: deadline,
		CreatedAt:    s.now().UTC().Truncate(time.Second),
	}

	query := `
		INSERT INTO habits (id, name, start_time, deadline_time, created_at)
		VALUES (?, ?, ?, ?, ?)`

	err = shared.RetryOnConflict(ctx, "add habit", s.retry, func() error {
		_, err := s.db.ExecContext(ctx, query,
			h.ID, h.Name, nullString(h.StartTime), nullString(h.DeadlineTime), h.CreatedAt.Unix())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert habit: %w", err)
	}

	slog.Info("Habit added", "habit_id", h.ID, "name", h.Name)
	return &h, nil
}

// RemoveHabit marks a habit removed.
func (s *SQLiteStore) RemoveHabit(ctx context.Context, id string) (bool, error) {
	query := `UPDATE habits SET removed_at = ? WHERE id = ? AND removed_at IS NULL`

	var rows int64
	err := shared.RetryOnConflict(ctx, "remove habit", s.retry, func() error {
		result, err := s.db.ExecContext(ctx, query, s.now().Unix(), id)
		if err != nil {
			return err
		}
		rows, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("remove habit: %w", err)
	}
	if rows == 0 {
		slog.Warn("RemoveHabit affected 0 rows", "habit_id", id)
		return false, nil
	}
	return true, nil
}

// RecordCompletion inserts a completion, or returns the one already recorded
// for the same habit and date with created set to false.
func (s *SQLiteStore) RecordCompletion(ctx context.Context, habitID, date string, proof *domain.ProofDescriptor) (*domain.Completion, bool, error) {
	if _, err := time.Parse(domain.DateLayout, date); err != nil {
		return nil, false, fmt.Errorf("invalid completion date %q: %w", date, err)
	}

	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM habits WHERE id = ? AND removed_at IS NULL`, habitID).Scan(&active)
	if err != nil {
		return nil, false, fmt.Errorf("lookup habit: %w", err)
	}
	if active == 0 {
		return nil, false, ErrHabitNotFound
	}

	var proofJSON any
	if proof != nil {
		b, err := json.Marshal(proof)
		if err != nil {
			return nil, false, fmt.Errorf("encode proof: %w", err)
		}
		proofJSON = string(b)
	}

	c := domain.Completion{
		ID:        uuid.NewString(),
		HabitID:   habitID,
		Date:      date,
		Proof:     proof,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}

	query := `
		INSERT INTO completions (id, habit_id, date, proof_json, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(habit_id, date) DO NOTHING`

	var inserted int64
	err = shared.RetryOnConflict(ctx, "record completion", s.retry, func() error {
		result, err := s.db.ExecContext(ctx, query, c.ID, c.HabitID, c.Date, proofJSON, c.CreatedAt.Unix())
		if err != nil {
			return err
		}
		inserted, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("insert completion: %w", err)
	}

	if inserted == 0 {
		slog.Info("Completion already recorded", "habit_id", habitID, "date", date)
		existing, err := s.getCompletion(ctx, habitID, date)
		return existing, false, err
	}

	slog.Info("Completion recorded", "habit_id", habitID, "date", date, "completion_id", c.ID)
	return &c, true, nil
}

func (s *SQLiteStore) getCompletion(ctx context.Context, habitID, date string) (*domain.Completion, error) {
	query := `
		SELECT id, habit_id, date, proof_json, created_at
		FROM completions WHERE habit_id = ? AND date = ?`

	var c domain.Completion
	var proofJSON sql.NullString
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, habitID, date).
		Scan(&c.ID, &c.HabitID, &c.Date, &proofJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("completion for %s on %s vanished", habitID, date)
	}
	if err != nil {
		return nil, fmt.Errorf("scan completion: %w", err)
	}

	c.CreatedAt = time.Unix(createdAt, 0).UTC()
	if proofJSON.Valid {
		var p domain.ProofDescriptor
		if err := json.Unmarshal([]byte(proofJSON.String), &p); err != nil {
			return nil, fmt.Errorf("decode proof: %w", err)
		}
		c.Proof = &p
	}
	return &c, nil
}

// TodayStatus returns active habits with their completion state for date,
// ordered by start time (habits without one last).
func (s *SQLiteStore) TodayStatus(ctx context.Context, date string) ([]domain.HabitStatus, error) {
	query := `
		SELECT h.id, h.name, h.start_time, h.deadline_time, h.created_at,
		       EXISTS(SELECT 1 FROM completions c WHERE c.habit_id = h.id AND c.date = ?)
		FROM habits h WHERE h.removed_at IS NULL
		ORDER BY h.start_time IS NULL, h.start_time, h.created_at, h.rowid`

	rows, err := s.db.QueryContext(ctx, query, date)
	if err != nil {
		return nil, fmt.Errorf("query status: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close status rows", "error", closeErr)
		}
	}()

	statuses := []domain.HabitStatus{}
	for rows.Next() {
		var h domain.Habit
		var start, deadline sql.NullString
		var createdAt int64
		var done bool
		if err := rows.Scan(&h.ID, &h.Name, &start, &deadline, &createdAt, &done); err != nil {
			return nil, fmt.Errorf("scan status row: %w", err)
		}
		h.StartTime = start.String
		h.DeadlineTime = deadline.String
		h.CreatedAt = time.Unix(createdAt, 0).UTC()
		statuses = append(statuses, domain.HabitStatus{Habit: h, Completed: done})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status: %w", err)
	}
	return statuses, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHabit(row rowScanner) (domain.Habit, error) {
	var h domain.Habit
	var start, deadline sql.NullString
	var createdAt int64
	if err := row.Scan(&h.ID, &h.Name, &start, &deadline, &createdAt); err != nil {
		return h, fmt.Errorf("scan habit row: %w", err)
	}
	h.StartTime = start.String
	h.DeadlineTime = deadline.String
	h.CreatedAt = time.Unix(createdAt, 0).UTC()
	return h, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
