package session

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often idle sessions are swept.
const DefaultSweepInterval = 5 * time.Minute

// EvictCallback is called after a sweep that removed at least one session.
type EvictCallback func(removed int)

// StartSweeper runs a background goroutine that periodically evicts expired
// sessions until ctx is cancelled. The returned channel is closed once the
// goroutine has exited.
func StartSweeper(ctx context.Context, s *Store, interval time.Duration, onEvict EvictCallback) <-chan struct{} {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", s.TTL())

		for {
			select {
			case <-ticker.C:
				sweep(s, onEvict)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func sweep(s *Store, onEvict EvictCallback) {
	removed := s.EvictExpired()
	if removed == 0 {
		return
	}
	slog.Info("Session sweeper evicted idle sessions", "count", removed, "active", s.Count())
	if onEvict != nil {
		onEvict(removed)
	}
}
