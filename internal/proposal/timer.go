package proposal

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/baratto/baratto/internal/metrics"
)

// Timer periodically expires pending proposals whose last activity is older
// than the TTL. Expiring a proposal has no wallet effect; credits are only
// held once an exchange opens.
type Timer struct {
	store    Store
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new proposal expiration timer.
func NewTimer(store Store, ttl, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in proposal timer", "panic", fmt.Sprint(r))
		}
	}()
	t.sweep(ctx)
}

func (t *Timer) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-t.ttl)

	stale, err := t.store.ListStale(ctx, cutoff, 100)
	if err != nil {
		t.logger.Warn("failed to list stale proposals", "error", err)
		return
	}

	for _, p := range stale {
		won, err := t.store.Transition(ctx, p.ID, StatusPending, StatusExpired, "proposal expired")
		if err != nil {
			t.logger.Warn("failed to expire proposal", "proposalId", p.ID, "error", err)
			continue
		}
		if !won {
			// Accepted, rejected, or cancelled between listing and here.
			continue
		}
		metrics.ProposalsTotal.WithLabelValues("expired").Inc()
		metrics.SweepRowsTotal.WithLabelValues("proposal").Inc()
		t.logger.Info("expired stale proposal",
			"proposalId", p.ID,
			"buyer", p.BuyerID,
			"seller", p.SellerID,
			"idleSince", p.UpdatedAt,
		)
	}
}
