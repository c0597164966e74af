package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/order-dispatch/internal/observability"
	"github.com/example/order-dispatch/internal/storage"
)

// Sweeper is the periodic safety net: it times out stale notifications and
// retries searching orders that silently produced empty rounds. The sweep
// cadence itself is the retry driver, so the notification pass does not
// re-invoke assignment directly.
type Sweeper struct {
	engine     *Engine
	live       storage.LiveOrderStore
	notes      storage.NotificationStore
	interval   time.Duration
	staleAfter time.Duration
	log        *slog.Logger
}

func NewSweeper(e *Engine, live storage.LiveOrderStore, notes storage.NotificationStore,
	interval, staleAfter time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{engine: e, live: live, notes: notes, interval: interval, staleAfter: staleAfter, log: log}
}

// Run blocks until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(time.Now())
		}
	}
}

// Sweep runs one pass. Exported so tests can drive it with a fixed clock.
func (s *Sweeper) Sweep(now time.Time) {
	expired, err := s.notes.ExpireOverdue(now)
	if err != nil {
		s.log.Error("notification sweep failed", "error", err)
	} else if expired > 0 {
		observability.NotificationsSwept.Add(float64(expired))
		s.log.Info("timed out notifications", "count", expired)
	}

	stale, err := s.live.ListStaleSearching(now.Add(-s.staleAfter))
	if err != nil {
		s.log.Error("stale order scan failed", "error", err)
		return
	}
	for _, lo := range stale {
		s.log.Info("retrying stale order", "live_order_id", lo.ID, "age", now.Sub(lo.CreatedAt).String())
		s.engine.Assign(lo.ID)
	}
}
