// Package risk implements transaction risk scoring for proposed transfers.
//
// Each transfer is evaluated against the account's historical profile:
// amount deviation (z-score), time-of-day, same-day frequency, absolute
// amount tiers, and recipient familiarity. The combined score maps to a
// verdict: normal transfers execute, suspicious transfers require explicit
// user confirmation, fraud verdicts block before funds move.
package risk

import (
	"context"
	"time"
)

// Verdict is the discrete outcome of a risk evaluation.
type Verdict string

const (
	VerdictNormal     Verdict = "normal"
	VerdictSuspicious Verdict = "suspicious"
	VerdictFraud      Verdict = "fraud"
)

// Default thresholds on the z-scaled score.
const (
	DefaultFraudThreshold      = 5.0
	DefaultSuspiciousThreshold = 3.0
)

// DefaultReason is attached when no risk component triggered.
const DefaultReason = "Transaction matches typical user behavior"

// Profile is an account's historical transaction profile. Profiles are
// maintained by an external process; this service only reads them, creating
// conservative defaults on first sight.
type Profile struct {
	AccountID         string    `json:"accountId"`
	MeanAmountCents   int64     `json:"meanAmountCents"`
	StddevAmountCents int64     `json:"stddevAmountCents"`
	ActiveHours       []int     `json:"activeHours"` // hours 0..23; empty = no restriction
	CreatedAt         time.Time `json:"createdAt"`
}

// Default profile values for accounts with no history.
const (
	DefaultMeanAmountCents   = 5000
	DefaultStddevAmountCents = 2500
)

// Input carries everything needed to score one proposed transfer.
type Input struct {
	AccountID      string
	AmountCents    int64
	Hour           int   // proposed transaction hour, 0..23
	KnownRecipient bool  // recipient is in the user's saved contacts
	TxnCountToday  int   // prior same-day transactions
	BalanceCents   int64 // current balance; 0 = unknown
}

// Assessment is the result of evaluating a single transfer.
type Assessment struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"accountId"`
	AmountCents int64     `json:"amountCents"`
	Score       float64   `json:"score"`
	Verdict     Verdict   `json:"verdict"`
	Reasons     []string  `json:"reasons"`
	EvaluatedAt time.Time `json:"evaluatedAt"`
}

// ProfileStore reads account risk profiles, creating defaults lazily.
type ProfileStore interface {
	// GetOrCreate returns the profile for an account, creating one with
	// default values (mean $50, stddev $25, all hours active) if absent.
	GetOrCreate(ctx context.Context, accountID string) (*Profile, error)
}

// AssessmentStore persists assessments for the audit trail.
type AssessmentStore interface {
	Record(ctx context.Context, a *Assessment) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Assessment, error)
}
