package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sagebank/orchestrator/internal/logging"
	"github.com/sagebank/orchestrator/internal/metrics"
	"github.com/sagebank/orchestrator/internal/syncutil"
)

// Guard wraps executions with at-most-once semantics per key.
type Guard struct {
	store Store
	locks *syncutil.ShardedMutex
	now   func() time.Time
}

// NewGuard creates an idempotency guard over the given store.
func NewGuard(store Store) *Guard {
	return &Guard{
		store: store,
		locks: &syncutil.ShardedMutex{},
		now:   time.Now,
	}
}

// Do executes fn at most once per key.
//
//   - Empty key: fn runs unconditionally; the caller accepted at-most-once
//     risk by omitting the header.
//   - Fresh key: a record is claimed in_progress, fn runs, and the outcome
//     is written back as completed (with the response) or failed.
//   - Completed key: the stored response is returned verbatim; fn never runs.
//   - In-progress key: ErrInProgress, immediately. fn never runs.
//   - Failed key: the claim is retaken and fn runs again.
//
// The returned bool reports whether the response was replayed from the store.
func (g *Guard) Do(ctx context.Context, key, accountID string, fn func(context.Context) (json.RawMessage, error)) (json.RawMessage, bool, error) {
	if key == "" {
		resp, err := fn(ctx)
		return resp, false, err
	}

	claimed, stored, err := g.claim(ctx, key, accountID)
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		metrics.IdempotencyHitsTotal.WithLabelValues("replayed").Inc()
		return stored, true, nil
	}

	resp, err := fn(ctx)
	if err != nil {
		g.release(ctx, key, StatusFailed, nil)
		return nil, false, err
	}
	g.release(ctx, key, StatusCompleted, resp)
	metrics.IdempotencyHitsTotal.WithLabelValues("executed").Inc()
	return resp, false, nil
}

// claim takes ownership of a key for execution. Returns claimed=false with
// the stored response when the key already completed.
func (g *Guard) claim(ctx context.Context, key, accountID string) (bool, json.RawMessage, error) {
	unlock := g.locks.Lock(key)
	defer unlock()

	rec, err := g.store.Get(ctx, key)
	switch {
	case err == ErrNotFound:
		now := g.now()
		rec = &Record{
			Key:       key,
			AccountID: accountID,
			Status:    StatusInProgress,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := g.store.Create(ctx, rec); err != nil {
			if errors.Is(err, ErrAlreadyExists) {
				// Another process claimed the key between our read and
				// write; report it as still processing, not as failure.
				metrics.IdempotencyHitsTotal.WithLabelValues("in_progress").Inc()
				return false, nil, ErrInProgress
			}
			return false, nil, fmt.Errorf("claim idempotency key: %w", err)
		}
		return true, nil, nil
	case err != nil:
		return false, nil, fmt.Errorf("load idempotency record: %w", err)
	}

	switch rec.Status {
	case StatusCompleted:
		return false, rec.Response, nil
	case StatusInProgress:
		metrics.IdempotencyHitsTotal.WithLabelValues("in_progress").Inc()
		return false, nil, ErrInProgress
	case StatusFailed:
		// A failed record does not poison the key; retake the claim.
		rec.Status = StatusInProgress
		rec.Response = nil
		rec.UpdatedAt = g.now()
		if err := g.store.Update(ctx, rec); err != nil {
			return false, nil, fmt.Errorf("reclaim idempotency key: %w", err)
		}
		return true, nil, nil
	}
	return false, nil, fmt.Errorf("idempotency record %q in unknown status %q", key, rec.Status)
}

func (g *Guard) release(ctx context.Context, key string, status Status, resp json.RawMessage) {
	unlock := g.locks.Lock(key)
	defer unlock()

	rec, err := g.store.Get(ctx, key)
	if err != nil {
		logging.L(ctx).Error("load idempotency record for release failed", "key", key, "error", err)
		return
	}
	rec.Status = status
	rec.Response = resp
	rec.UpdatedAt = g.now()
	if err := g.store.Update(ctx, rec); err != nil {
		logging.L(ctx).Error("release idempotency key failed",
			"key", key, "status", string(status), "error", err)
	}
}
