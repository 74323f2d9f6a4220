package confirm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sagebank/orchestrator/internal/idgen"
	"github.com/sagebank/orchestrator/internal/logging"
	"github.com/sagebank/orchestrator/internal/metrics"
	"github.com/sagebank/orchestrator/internal/syncutil"
)

// Manager drives confirmation state transitions.
type Manager struct {
	store       Store
	executor    Executor
	notifier    Notifier
	chatTTL     time.Duration
	otpTTL      time.Duration
	maxAttempts int
	locks       *syncutil.ShardedMutex
	now         func() time.Time
}

// Options overrides manager defaults. Zero values keep the defaults.
type Options struct {
	ChatTTL     time.Duration
	OTPTTL      time.Duration
	MaxAttempts int
}

// NewManager creates a confirmation manager.
func NewManager(store Store, executor Executor, notifier Notifier, opts Options) *Manager {
	m := &Manager{
		store:       store,
		executor:    executor,
		notifier:    notifier,
		chatTTL:     DefaultChatTTL,
		otpTTL:      DefaultOTPTTL,
		maxAttempts: DefaultMaxAttempts,
		locks:       &syncutil.ShardedMutex{},
		now:         time.Now,
	}
	if opts.ChatTTL > 0 {
		m.chatTTL = opts.ChatTTL
	}
	if opts.OTPTTL > 0 {
		m.otpTTL = opts.OTPTTL
	}
	if opts.MaxAttempts > 0 {
		m.maxAttempts = opts.MaxAttempts
	}
	return m
}

// Create opens a pending confirmation holding an execution-ready payload.
// For OTP confirmations the code is generated here and delivered through the
// notifier; it is never returned to the chat channel.
func (m *Manager) Create(ctx context.Context, method Method, accountID, sessionID string, payload json.RawMessage) (*Confirmation, error) {
	now := m.now()
	c := &Confirmation{
		ID:          idgen.WithPrefix("conf_"),
		AccountID:   accountID,
		SessionID:   sessionID,
		Payload:     payload,
		Method:      method,
		MaxAttempts: m.maxAttempts,
		Status:      StatusPending,
		CreatedAt:   now,
	}
	switch method {
	case MethodChat:
		c.ExpiresAt = now.Add(m.chatTTL)
	case MethodOTP:
		c.ExpiresAt = now.Add(m.otpTTL)
		c.OTPCode = idgen.OTP()
	default:
		return nil, fmt.Errorf("unknown confirmation method %q", method)
	}

	if err := m.store.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create confirmation: %w", err)
	}
	if method == MethodOTP && m.notifier != nil {
		m.notifier.NotifyOTP(ctx, accountID, c.ID, c.OTPCode)
	}
	return c, nil
}

// TTL returns the remaining lifetime in whole seconds.
func (m *Manager) TTL(c *Confirmation) int {
	ttl := int(c.ExpiresAt.Sub(m.now()).Seconds())
	if ttl < 0 {
		return 0
	}
	return ttl
}

// ResumeOutcome is the result of feeding a session message to its pending
// chat confirmation.
type ResumeOutcome struct {
	Status        Status
	TransactionID string
	Confirmation  *Confirmation
}

// Resume tests a session message against the session's pending chat
// confirmation. An affirmative phrase confirms and executes the payload;
// anything else cancels. Returns (nil, nil) when the session has no pending
// confirmation, in which case the message should be classified normally.
func (m *Manager) Resume(ctx context.Context, sessionID, message string) (*ResumeOutcome, error) {
	pending, err := m.store.GetPendingBySession(ctx, sessionID)
	if err != nil {
		if err == ErrNotFound {
			return nil, nil
		}
		return nil, err
	}

	unlock := m.locks.Lock(pending.ID)
	defer unlock()

	c, err := m.store.Get(ctx, pending.ID)
	if err != nil {
		return nil, err
	}
	if c.IsTerminal() {
		// Resolved by a concurrent call between lookup and lock.
		return nil, nil
	}
	if c.Method != MethodChat {
		// OTP confirmations resolve only through code verification.
		return nil, nil
	}
	if expired, err := m.expireIfDue(ctx, c); err != nil {
		return nil, err
	} else if expired {
		return &ResumeOutcome{Status: StatusExpired, Confirmation: c}, nil
	}

	if !affirmative[strings.ToLower(strings.TrimSpace(message))] {
		if err := m.resolve(ctx, c, StatusCancelled); err != nil {
			return nil, err
		}
		return &ResumeOutcome{Status: StatusCancelled, Confirmation: c}, nil
	}

	if err := m.resolve(ctx, c, StatusConfirmed); err != nil {
		return nil, err
	}
	txnID, err := m.executor.ExecutePayload(ctx, c.AccountID, c.Payload)
	if err != nil {
		// The confirmation stays confirmed; approval is not replayable.
		return nil, fmt.Errorf("execute confirmed payload: %w", err)
	}
	c.TransactionID = txnID
	if err := m.store.RecordTransaction(ctx, c.ID, txnID); err != nil {
		logging.L(ctx).Error("record transaction on confirmation failed",
			"confirmationId", c.ID, "transactionId", txnID, "error", err)
	}
	return &ResumeOutcome{Status: StatusConfirmed, TransactionID: txnID, Confirmation: c}, nil
}

// VerifyResult is the outcome of one OTP submission.
type VerifyResult struct {
	Status            Status `json:"status"`
	RemainingAttempts int    `json:"remaining_attempts"`
	TransactionID     string `json:"transaction_id,omitempty"`
}

// StatusInvalid is reported when a submitted code does not match. It is not
// a stored state: the record stays pending.
const StatusInvalid Status = "invalid"

// VerifyOTP processes one submitted code against a pending OTP confirmation.
func (m *Manager) VerifyOTP(ctx context.Context, confirmationID, code string) (*VerifyResult, error) {
	unlock := m.locks.Lock(confirmationID)
	defer unlock()

	c, err := m.store.Get(ctx, confirmationID)
	if err != nil {
		return nil, err
	}

	// Terminal states never change again; report them as-is.
	if c.IsTerminal() {
		return &VerifyResult{Status: c.Status, TransactionID: c.TransactionID}, nil
	}

	if expired, err := m.expireIfDue(ctx, c); err != nil {
		return nil, err
	} else if expired {
		return &VerifyResult{Status: StatusExpired}, nil
	}

	if c.Attempts >= c.MaxAttempts {
		if err := m.resolve(ctx, c, StatusBlocked); err != nil {
			return nil, err
		}
		m.notifyStatus(ctx, c, StatusBlocked)
		return &VerifyResult{Status: StatusBlocked}, nil
	}

	if code != c.OTPCode {
		c.Attempts++
		if err := m.store.Update(ctx, c); err != nil {
			return nil, err
		}
		remaining := c.MaxAttempts - c.Attempts
		if remaining <= 0 {
			if err := m.resolve(ctx, c, StatusBlocked); err != nil {
				return nil, err
			}
			m.notifyStatus(ctx, c, StatusBlocked)
			return &VerifyResult{Status: StatusBlocked}, nil
		}
		return &VerifyResult{Status: StatusInvalid, RemainingAttempts: remaining}, nil
	}

	if err := m.resolve(ctx, c, StatusConfirmed); err != nil {
		return nil, err
	}
	txnID, err := m.executor.ExecutePayload(ctx, c.AccountID, c.Payload)
	if err != nil {
		return nil, fmt.Errorf("execute confirmed payload: %w", err)
	}
	c.TransactionID = txnID
	if err := m.store.RecordTransaction(ctx, c.ID, txnID); err != nil {
		logging.L(ctx).Error("record transaction on confirmation failed",
			"confirmationId", c.ID, "transactionId", txnID, "error", err)
	}
	return &VerifyResult{Status: StatusConfirmed, TransactionID: txnID}, nil
}

// Get returns a confirmation by id.
func (m *Manager) Get(ctx context.Context, id string) (*Confirmation, error) {
	return m.store.Get(ctx, id)
}

// Approve confirms a pending chat confirmation by id, outside the session
// conversation. The resulting transaction id is recorded on the confirmation
// so the audit trail links approval to execution.
func (m *Manager) Approve(ctx context.Context, confirmationID string) (*ResumeOutcome, error) {
	unlock := m.locks.Lock(confirmationID)
	defer unlock()

	c, err := m.store.Get(ctx, confirmationID)
	if err != nil {
		return nil, err
	}
	if c.IsTerminal() {
		return &ResumeOutcome{Status: c.Status, TransactionID: c.TransactionID, Confirmation: c}, nil
	}
	if c.Method != MethodChat {
		return nil, fmt.Errorf("confirmation %s requires otp verification", confirmationID)
	}
	if expired, err := m.expireIfDue(ctx, c); err != nil {
		return nil, err
	} else if expired {
		return &ResumeOutcome{Status: StatusExpired, Confirmation: c}, nil
	}

	if err := m.resolve(ctx, c, StatusConfirmed); err != nil {
		return nil, err
	}
	txnID, err := m.executor.ExecutePayload(ctx, c.AccountID, c.Payload)
	if err != nil {
		return nil, fmt.Errorf("execute confirmed payload: %w", err)
	}
	c.TransactionID = txnID
	if err := m.store.RecordTransaction(ctx, c.ID, txnID); err != nil {
		logging.L(ctx).Error("record transaction on confirmation failed",
			"confirmationId", c.ID, "transactionId", txnID, "error", err)
	}
	return &ResumeOutcome{Status: StatusConfirmed, TransactionID: txnID, Confirmation: c}, nil
}

// expireIfDue lazily transitions a pending record past its TTL.
func (m *Manager) expireIfDue(ctx context.Context, c *Confirmation) (bool, error) {
	if !m.now().After(c.ExpiresAt) {
		return false, nil
	}
	if err := m.resolve(ctx, c, StatusExpired); err != nil {
		return false, err
	}
	m.notifyStatus(ctx, c, StatusExpired)
	return true, nil
}

func (m *Manager) resolve(ctx context.Context, c *Confirmation, s Status) error {
	now := m.now()
	c.Status = s
	c.ResolvedAt = &now
	if err := m.store.Update(ctx, c); err != nil {
		return fmt.Errorf("resolve confirmation: %w", err)
	}
	metrics.ConfirmationsTotal.WithLabelValues(string(s)).Inc()
	return nil
}

func (m *Manager) notifyStatus(ctx context.Context, c *Confirmation, s Status) {
	if m.notifier != nil {
		m.notifier.NotifyStatus(ctx, c.AccountID, c.ID, s)
	}
}
