package confirm

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically sweeps pending confirmations whose TTL passed without
// a verification attempt. Lazy expiry on the read path already protects
// correctness; the sweep keeps abandoned records from lingering as pending.
type Timer struct {
	manager  *Manager
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a confirmation expiry sweeper.
func NewTimer(manager *Manager, store Store, logger *slog.Logger) *Timer {
	return &Timer{
		manager:  manager,
		store:    store,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is active.
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
			t.logger.Error("panic in confirmation sweep", "panic", fmt.Sprint(r))
		}
	}()
	t.sweep(ctx)
}

func (t *Timer) sweep(ctx context.Context) {
	expired, err := t.store.ListExpired(ctx, t.manager.now(), 100)
	if err != nil {
		t.logger.Warn("failed to list expired confirmations", "error", err)
		return
	}

	for _, c := range expired {
		unlock := t.manager.locks.Lock(c.ID)
		fresh, err := t.store.Get(ctx, c.ID)
		if err != nil || fresh.IsTerminal() {
			unlock()
			continue
		}
		expired, err := t.manager.expireIfDue(ctx, fresh)
		unlock()
		if err != nil {
			t.logger.Warn("failed to expire confirmation", "confirmationId", c.ID, "error", err)
			continue
		}
		if expired {
			t.logger.Info("expired abandoned confirmation",
				"confirmationId", c.ID, "accountId", c.AccountID, "method", string(c.Method))
		}
	}
}
