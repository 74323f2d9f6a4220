// Package confirm implements the transaction confirmation state machine.
//
// A pending confirmation is created when risk evaluation returns suspicious.
// It holds the execution-ready transfer payload and resolves exactly once:
//
//	pending → confirmed   user approved, payload executed
//	pending → cancelled   user declined
//	pending → expired     TTL passed before resolution
//	pending → blocked     too many wrong OTP codes
//
// All four outcomes are terminal. Expiry is checked lazily on every read of
// a pending record; a maintenance timer sweeps abandoned records.
package confirm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("confirmation not found")

	// ErrAlreadyResolved is returned by store writes that would modify a
	// record which has already reached a terminal state.
	ErrAlreadyResolved = errors.New("confirmation already resolved")
)

// Method is how the user approves a pending confirmation.
type Method string

const (
	MethodChat Method = "chat" // next message in the session
	MethodOTP  Method = "otp"  // 6-digit code delivered out-of-band
)

// Status is the confirmation lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusBlocked   Status = "blocked"
)

// Default TTLs per method and the OTP attempt budget.
const (
	DefaultChatTTL     = 60 * time.Second
	DefaultOTPTTL      = 300 * time.Second
	DefaultMaxAttempts = 3
)

// Confirmation is one pending-approval record.
type Confirmation struct {
	ID            string          `json:"id"`
	AccountID     string          `json:"accountId"`
	SessionID     string          `json:"sessionId,omitempty"`
	Payload       json.RawMessage `json:"-"`
	Method        Method          `json:"method"`
	OTPCode       string          `json:"-"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"maxAttempts"`
	Status        Status          `json:"status"`
	TransactionID string          `json:"transactionId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	ExpiresAt     time.Time       `json:"expiresAt"`
	ResolvedAt    *time.Time      `json:"resolvedAt,omitempty"`
}

// IsTerminal reports whether the confirmation can no longer change state.
func (c *Confirmation) IsTerminal() bool {
	return c.Status != StatusPending
}

// Store persists confirmation records. Implementations must serialize
// concurrent writes per id; the manager additionally holds a per-id lock
// around every read-modify-write. Writes enforce the terminal-state
// invariant themselves, so a second orchestrator instance sharing the
// database cannot overwrite a resolved record.
type Store interface {
	Create(ctx context.Context, c *Confirmation) error
	Get(ctx context.Context, id string) (*Confirmation, error)

	// Update persists attempts and status. The write applies only while
	// the stored record is still pending; a terminal record returns
	// ErrAlreadyResolved unchanged.
	Update(ctx context.Context, c *Confirmation) error

	// RecordTransaction links the executed ledger transaction onto a
	// confirmed record.
	RecordTransaction(ctx context.Context, id, transactionID string) error

	// GetPendingBySession returns the session's pending confirmation, or
	// ErrNotFound. At most one pending chat confirmation exists per session.
	GetPendingBySession(ctx context.Context, sessionID string) (*Confirmation, error)

	// ListExpired returns pending records whose TTL passed before the cutoff.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Confirmation, error)
}

// Executor runs an approved payload. Defined here so the state machine does
// not depend on the execution layer.
type Executor interface {
	ExecutePayload(ctx context.Context, accountID string, payload json.RawMessage) (transactionID string, err error)
}

// Notifier delivers OTP codes and terminal-status alerts. Fire-and-forget.
type Notifier interface {
	NotifyOTP(ctx context.Context, accountID, confirmationID, code string)
	NotifyStatus(ctx context.Context, accountID, confirmationID string, status Status)
}

// affirmative is the phrase set a chat reply is tested against. Anything
// else cancels.
var affirmative = map[string]bool{
	"yes":        true,
	"yep":        true,
	"ok":         true,
	"confirm":    true,
	"do it":      true,
	"yes please": true,
}
