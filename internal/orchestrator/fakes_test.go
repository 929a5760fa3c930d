package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drillsergeant/coach/internal/domain"
	"github.com/drillsergeant/coach/internal/proof"
	"github.com/drillsergeant/coach/internal/store"
)

// memStore is an in-memory HabitStore with per-day idempotent completions.
type memStore struct {
	mu          sync.Mutex
	habits      []domain.Habit
	completions []domain.Completion
	nextID      int
	failList    error
	failRecord  error
	listCalls   int
}

func newMemStore(names ...string) *memStore {
	s := &memStore{}
	for _, n := range names {
		s.nextID++
		s.habits = append(s.habits, domain.Habit{ID: fmt.Sprintf("h%d", s.nextID), Name: n})
	}
	return s
}

func (s *memStore) ListHabits(ctx context.Context) ([]domain.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.failList != nil {
		return nil, s.failList
	}
	return append([]domain.Habit(nil), s.habits...), nil
}

func (s *memStore) AddHabit(ctx context.Context, name, start, deadline string) (*domain.Habit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	h := domain.Habit{ID: fmt.Sprintf("h%d", s.nextID), Name: name, StartTime: start, DeadlineTime: deadline}
	s.habits = append(s.habits, h)
	return &h, nil
}

func (s *memStore) RemoveHabit(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.habits {
		if h.ID == id {
			s.habits = append(s.habits[:i], s.habits[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) RecordCompletion(ctx context.Context, habitID, date string, p *domain.ProofDescriptor) (*domain.Completion, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRecord != nil {
		return nil, false, s.failRecord
	}
	found := false
	for _, h := range s.habits {
		if h.ID == habitID {
			found = true
		}
	}
	if !found {
		return nil, false, store.ErrHabitNotFound
	}
	for _, c := range s.completions {
		if c.HabitID == habitID && c.Date == date {
			existing := c
			return &existing, false, nil
		}
	}
	c := domain.Completion{ID: fmt.Sprintf("c%d", len(s.completions)+1), HabitID: habitID, Date: date, Proof: p}
	s.completions = append(s.completions, c)
	return &c, true, nil
}

func (s *memStore) TodayStatus(ctx context.Context, date string) ([]domain.HabitStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.HabitStatus{}
	for _, h := range s.habits {
		done := false
		for _, c := range s.completions {
			if c.HabitID == h.ID && c.Date == date {
				done = true
			}
		}
		out = append(out, domain.HabitStatus{Habit: h, Completed: done})
	}
	return out, nil
}

func (s *memStore) Completions() []domain.Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Completion(nil), s.completions...)
}

// fakeRouter answers with a fixed call, or fn when set.
type fakeRouter struct {
	mu   sync.Mutex
	call Call
	err  error
	fn   func(RouteRequest) (Call, error)
	reqs []RouteRequest
}

func (r *fakeRouter) Route(ctx context.Context, req RouteRequest) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reqs = append(r.reqs, req)
	if r.fn != nil {
		return r.fn(req)
	}
	return r.call, r.err
}

func (r *fakeRouter) Requests() []RouteRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]RouteRequest(nil), r.reqs...)
}

// nameMatcher matches descriptions by a lookup table from description to
// habit name.
type nameMatcher struct {
	mu    sync.Mutex
	table map[string]string
	err   error
	calls []string
}

func (m *nameMatcher) Match(ctx context.Context, description string, candidates []domain.Habit) (domain.MatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, description)
	if m.err != nil {
		return domain.MatchResult{}, m.err
	}
	want, ok := m.table[description]
	if !ok {
		return domain.MatchResult{Confidence: domain.ConfidenceHigh}, nil
	}
	for _, h := range candidates {
		if h.Name == want {
			h := h
			return domain.MatchResult{Habit: &h, Confidence: domain.ConfidenceHigh}, nil
		}
	}
	return domain.MatchResult{}, nil
}

func (m *nameMatcher) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// fakeAnalyzer returns scripted identifications and verdicts.
type fakeAnalyzer struct {
	mu          sync.Mutex
	ident       domain.ImageIdentification
	identErr    error
	verdict     domain.ProofVerification
	verifyErr   error
	delay       time.Duration
	block       bool
	identCalls  int
	verifyCalls []string

	active, maxActive int
}

func (a *fakeAnalyzer) enter(ctx context.Context) error {
	a.mu.Lock()
	a.active++
	if a.active > a.maxActive {
		a.maxActive = a.active
	}
	delay, block := a.delay, a.block
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.active--
		a.mu.Unlock()
	}()
	if block {
		<-ctx.Done()
		return fmt.Errorf("vision call: %w", ctx.Err())
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

func (a *fakeAnalyzer) Identify(ctx context.Context, img proof.Image, hint string) (domain.ImageIdentification, error) {
	a.mu.Lock()
	a.identCalls++
	a.mu.Unlock()
	if err := a.enter(ctx); err != nil {
		return domain.ImageIdentification{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ident, a.identErr
}

func (a *fakeAnalyzer) Verify(ctx context.Context, img proof.Image, habitName, userContext string) (domain.ProofVerification, error) {
	a.mu.Lock()
	a.verifyCalls = append(a.verifyCalls, habitName)
	a.mu.Unlock()
	if err := a.enter(ctx); err != nil {
		return domain.ProofVerification{}, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.verdict, a.verifyErr
}

func (a *fakeAnalyzer) VerifyCalls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.verifyCalls...)
}

func (a *fakeAnalyzer) IdentifyCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.identCalls
}

var errBoom = errors.New("boom")
