// Package idempotency guards money movement against duplicate execution
// under client retry. Every transfer execution is keyed by a caller-supplied
// idempotency key; a key's first execution records its response and every
// later request with the same key replays that response instead of moving
// funds again.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Status is the lifecycle of one idempotency record.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	ErrNotFound = errors.New("idempotency record not found")

	// ErrInProgress signals that another request holding the same key has
	// not finished yet. Callers should retry later, not treat it as failure.
	ErrInProgress = errors.New("request with this idempotency key is still processing")

	// ErrAlreadyExists is returned by Store.Create when the key was claimed
	// concurrently, for example by another orchestrator instance sharing
	// the database.
	ErrAlreadyExists = errors.New("idempotency key already exists")
)

// Record tracks one key's execution state.
type Record struct {
	Key       string          `json:"key"`
	AccountID string          `json:"accountId"`
	Status    Status          `json:"status"`
	Response  json.RawMessage `json:"response,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Store persists idempotency records. Key is unique.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)

	// Create claims a fresh key. A duplicate returns ErrAlreadyExists so
	// two processes cannot both claim it.
	Create(ctx context.Context, r *Record) error

	// Update persists a record's status and response. A completed record
	// is immutable; the write returns ErrNotFound without modifying it.
	Update(ctx context.Context, r *Record) error
}
