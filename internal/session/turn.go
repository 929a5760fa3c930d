package session

import (
	"context"
	"sync"

	"github.com/drillsergeant/coach/internal/domain"
)

// Turn is exclusive access to one user's session while a single inbound
// message is handled. At most one Turn per user key exists at a time.
type Turn struct {
	store   *Store
	userKey string
	e       *entry
	once    sync.Once
}

// Begin waits until no other turn for userKey is in flight, then returns a
// Turn bound to the live session (fresh if the previous one expired).
// The caller must call End.
func (s *Store) Begin(ctx context.Context, userKey string) (*Turn, error) {
	s.mu.Lock()
	e := s.entryLocked(userKey)
	e.inflight++
	s.mu.Unlock()

	select {
	case e.turn <- struct{}{}:
	case <-ctx.Done():
		s.mu.Lock()
		e.inflight--
		s.mu.Unlock()
		return nil, ctx.Err()
	}

	s.mu.Lock()
	s.liveLocked(userKey, e, s.now())
	s.mu.Unlock()

	return &Turn{store: s, userKey: userKey, e: e}, nil
}

// UserKey returns the key this turn belongs to.
func (t *Turn) UserKey() string {
	return t.userKey
}

// Session returns a snapshot of the session.
func (t *Turn) Session() domain.Session {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return snapshot(t.store.liveLocked(t.userKey, t.e, t.store.now()))
}

// History returns a copy of the message history.
func (t *Turn) History() []domain.Message {
	return t.Session().History
}

// Append adds one history entry to the session.
func (t *Turn) Append(role domain.Role, content string) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	now := t.store.now()
	sess := t.store.liveLocked(t.userKey, t.e, now)
	t.store.appendLocked(sess, role, content, now)
}

// End refreshes last activity and releases the user's turn. Safe to call
// more than once.
func (t *Turn) End() {
	t.once.Do(func() {
		t.store.mu.Lock()
		if t.e.session != nil {
			t.e.session.LastActivity = t.store.now()
		}
		t.e.inflight--
		t.store.mu.Unlock()
		<-t.e.turn
	})
}
