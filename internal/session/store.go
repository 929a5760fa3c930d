// Package session keeps per-user conversation state in memory with
// inactivity expiry and per-user turn serialization.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/drillsergeant/coach/internal/domain"
)

// DefaultTTL is the inactivity threshold after which a session is discarded.
const DefaultTTL = 30 * time.Minute

// ErrSessionNotFound is returned when appending to a missing or expired session.
var ErrSessionNotFound = errors.New("session not found")

// Store owns all live sessions. The zero value is not usable; call NewStore.
type Store struct {
	mu           sync.Mutex
	entries      map[string]*entry
	ttl          time.Duration
	systemPrompt string
	maxHistory   int
	now          func() time.Time
}

// entry is guarded by Store.mu except for turn, which serializes turns for
// one user key.
type entry struct {
	turn     chan struct{}
	inflight int
	session  *domain.Session
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides the inactivity threshold.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMaxHistory caps history length. The system instruction is always kept.
func WithMaxHistory(n int) Option {
	return func(s *Store) {
		if n >= 2 {
			s.maxHistory = n
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore creates a store whose new sessions start with systemPrompt.
func NewStore(systemPrompt string, opts ...Option) *Store {
	s := &Store{
		entries:      make(map[string]*entry),
		ttl:          DefaultTTL,
		systemPrompt: systemPrompt,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the inactivity threshold.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) newSession(userKey string, now time.Time) *domain.Session {
	return &domain.Session{
		UserKey:      userKey,
		History:      []domain.Message{{Role: domain.RoleSystem, Content: s.systemPrompt}},
		LastActivity: now,
	}
}

func (s *Store) expired(sess *domain.Session, now time.Time) bool {
	return now.Sub(sess.LastActivity) > s.ttl
}

// liveLocked returns the live session for e, replacing a stale or missing one.
// Caller holds s.mu.
func (s *Store) liveLocked(userKey string, e *entry, now time.Time) *domain.Session {
	if e.session == nil || s.expired(e.session, now) {
		if e.session != nil {
			slog.Info("Session expired, starting fresh", "user_key", userKey,
				"idle", now.Sub(e.session.LastActivity).Round(time.Second))
		}
		e.session = s.newSession(userKey, now)
	}
	e.session.LastActivity = now
	return e.session
}

func (s *Store) entryLocked(userKey string) *entry {
	e, ok := s.entries[userKey]
	if !ok {
		e = &entry{turn: make(chan struct{}, 1)}
		s.entries[userKey] = e
	}
	return e
}

// GetOrCreate returns a snapshot of the live session for userKey, creating a
// fresh one when none exists or the previous one went idle past the TTL.
func (s *Store) GetOrCreate(userKey string) domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	return snapshot(s.liveLocked(userKey, s.entryLocked(userKey), now))
}

// Append adds one history entry and refreshes last activity.
func (s *Store) Append(userKey string, role domain.Role, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userKey]
	now := s.now()
	if !ok || e.session == nil || s.expired(e.session, now) {
		return ErrSessionNotFound
	}
	s.appendLocked(e.session, role, content, now)
	return nil
}

func (s *Store) appendLocked(sess *domain.Session, role domain.Role, content string, now time.Time) {
	sess.History = append(sess.History, domain.Message{Role: role, Content: content})
	if s.maxHistory > 0 && len(sess.History) > s.maxHistory {
		drop := len(sess.History) - s.maxHistory
		kept := make([]domain.Message, 0, s.maxHistory)
		kept = append(kept, sess.History[0])
		kept = append(kept, sess.History[1+drop:]...)
		sess.History = kept
	}
	sess.LastActivity = now
}

// EvictExpired removes every idle session past the TTL and returns how many
// were removed. Keys with a turn in flight are skipped.
func (s *Store) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		if e.inflight > 0 {
			continue
		}
		if e.session == nil || s.expired(e.session, now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Clear drops the session for userKey. It reports whether one existed.
func (s *Store) Clear(userKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userKey]
	if !ok || e.session == nil {
		return false
	}
	if e.inflight > 0 {
		e.session = nil
		return true
	}
	delete(s.entries, userKey)
	return true
}

// Count returns the number of live sessions.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, e := range s.entries {
		if e.session != nil && !s.expired(e.session, now) {
			n++
		}
	}
	return n
}

// Info summarizes a session for diagnostics.
type Info struct {
	UserKey      string        `json:"user_key"`
	MessageCount int           `json:"message_count"`
	LastActivity time.Time     `json:"last_activity"`
	Age          time.Duration `json:"age"`
}

// Info returns session details, or false when there is no live session.
func (s *Store) Info(userKey string) (Info, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[userKey]
	now := s.now()
	if !ok || e.session == nil || s.expired(e.session, now) {
		return Info{}, false
	}
	return Info{
		UserKey:      userKey,
		MessageCount: len(e.session.History),
		LastActivity: e.session.LastActivity,
		Age:          now.Sub(e.session.LastActivity),
	}, true
}

func snapshot(sess *domain.Session) domain.Session {
	out := *sess
	out.History = append([]domain.Message(nil), sess.History...)
	return out
}
