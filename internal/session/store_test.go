package session

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/drillsergeant/coach/internal/domain"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

const testPrompt = "you are a drill sergeant"

func TestGetOrCreateSeedsSystemPrompt(t *testing.T) {
	s := NewStore(testPrompt)

	sess := s.GetOrCreate("whatsapp:+1555")

	if len(sess.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(sess.History))
	}
	if sess.History[0].Role != domain.RoleSystem || sess.History[0].Content != testPrompt {
		t.Fatalf("unexpected seed entry: %+v", sess.History[0])
	}
}

func TestAppendRequiresSession(t *testing.T) {
	s := NewStore(testPrompt)

	if err := s.Append("nobody", domain.RoleUser, "hi"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	s.GetOrCreate("someone")
	if err := s.Append("someone", domain.RoleUser, "hi"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if got := len(s.GetOrCreate("someone").History); got != 2 {
		t.Fatalf("expected 2 history entries, got %d", got)
	}
}

func TestSessionExpiresAfterTTL(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(testPrompt, WithClock(clock.Now))

	s.GetOrCreate("u1")
	if err := s.Append("u1", domain.RoleUser, "first turn"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	clock.Advance(31 * time.Minute)

	sess := s.GetOrCreate("u1")
	if len(sess.History) != 1 {
		t.Fatalf("expected fresh history after expiry, got %d entries: %+v", len(sess.History), sess.History)
	}
	if sess.History[0].Content != testPrompt {
		t.Fatalf("expected system prompt only, got %+v", sess.History[0])
	}
}

func TestSessionSurvivesAtThreshold(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(testPrompt, WithClock(clock.Now))

	s.GetOrCreate("u1")
	if err := s.Append("u1", domain.RoleUser, "keep me"); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	clock.Advance(30 * time.Minute)

	if got := len(s.GetOrCreate("u1").History); got != 2 {
		t.Fatalf("expected session to be live at exactly 30m, got %d entries", got)
	}
}

func TestAppendToExpiredSessionFails(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(testPrompt, WithClock(clock.Now))

	s.GetOrCreate("u1")
	clock.Advance(time.Hour)

	if err := s.Append("u1", domain.RoleUser, "late"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestEvictExpired(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(testPrompt, WithClock(clock.Now))

	s.GetOrCreate("old")
	clock.Advance(20 * time.Minute)
	s.GetOrCreate("new")
	clock.Advance(15 * time.Minute)

	if removed := s.EvictExpired(); removed != 1 {
		t.Fatalf("expected 1 eviction, got %d", removed)
	}
	if _, ok := s.Info("old"); ok {
		t.Fatal("expected old session to be gone")
	}
	if _, ok := s.Info("new"); !ok {
		t.Fatal("expected new session to survive")
	}
}

func TestEvictSkipsInflightTurn(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(testPrompt, WithClock(clock.Now))

	turn, err := s.Begin(context.Background(), "busy")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	clock.Advance(time.Hour)

	if removed := s.EvictExpired(); removed != 0 {
		t.Fatalf("expected in-flight session to be skipped, evicted %d", removed)
	}

	turn.End()
	if removed := s.EvictExpired(); removed != 0 {
		t.Fatalf("expected session refreshed by End to survive, evicted %d", removed)
	}
}

func TestHistoryCapKeepsSystemPrompt(t *testing.T) {
	s := NewStore(testPrompt, WithMaxHistory(4))
	s.GetOrCreate("u")

	for i := 0; i < 10; i++ {
		if err := s.Append("u", domain.RoleUser, strconv.Itoa(i)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	h := s.GetOrCreate("u").History
	if len(h) != 4 {
		t.Fatalf("expected capped history of 4, got %d", len(h))
	}
	if h[0].Role != domain.RoleSystem {
		t.Fatalf("expected system prompt at index 0, got %+v", h[0])
	}
	if h[3].Content != "9" || h[1].Content != "7" {
		t.Fatalf("expected newest entries kept, got %+v", h)
	}
}

func TestClear(t *testing.T) {
	s := NewStore(testPrompt)
	s.GetOrCreate("u")

	if !s.Clear("u") {
		t.Fatal("expected Clear to report an existing session")
	}
	if s.Clear("u") {
		t.Fatal("expected second Clear to report nothing")
	}
	if s.Count() != 0 {
		t.Fatalf("expected no live sessions, got %d", s.Count())
	}
}

func TestTurnsSerializePerUser(t *testing.T) {
	s := NewStore(testPrompt)

	var active, maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			turn, err := s.Begin(context.Background(), "same-user")
			if err != nil {
				t.Errorf("Begin failed: %v", err)
				return
			}
			defer turn.End()

			n := atomic.AddInt32(&active, 1)
			for {
				m := atomic.LoadInt32(&maxActive)
				if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			turn.Append(domain.RoleUser, "msg")
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most one in-flight turn, saw %d", maxActive)
	}
	if got := len(s.GetOrCreate("same-user").History); got != 9 {
		t.Fatalf("expected every turn to observe the previous one, got %d entries", got)
	}
}

func TestTurnsForDifferentUsersRunInParallel(t *testing.T) {
	s := NewStore(testPrompt)

	first, err := s.Begin(context.Background(), "a")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer first.End()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, err := s.Begin(ctx, "b")
	if err != nil {
		t.Fatalf("expected a different user to proceed, got %v", err)
	}
	second.End()
}

func TestBeginHonorsContext(t *testing.T) {
	s := NewStore(testPrompt)

	held, err := s.Begin(context.Background(), "u")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer held.End()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Begin(ctx, "u"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestTurnStartsFreshAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(testPrompt, WithClock(clock.Now))

	turn, err := s.Begin(context.Background(), "u")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	turn.Append(domain.RoleUser, "t=0 message")
	turn.End()

	clock.Advance(31 * time.Minute)

	turn, err = s.Begin(context.Background(), "u")
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	defer turn.End()

	h := turn.History()
	if len(h) != 1 || h[0].Role != domain.RoleSystem {
		t.Fatalf("expected only the system prompt, got %+v", h)
	}
}

func TestSweeperStopsOnCancel(t *testing.T) {
	clock := newFakeClock()
	s := NewStore(testPrompt, WithClock(clock.Now))
	s.GetOrCreate("idle")
	clock.Advance(time.Hour)

	evicted := make(chan int, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := StartSweeper(ctx, s, 5*time.Millisecond, func(n int) {
		select {
		case evicted <- n:
		default:
		}
	})

	select {
	case n := <-evicted:
		if n != 1 {
			t.Fatalf("expected 1 eviction, got %d", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper never evicted the idle session")
	}

	cancel()
	<-done
}
