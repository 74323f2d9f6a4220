// Package intent defines the structured envelope produced by the external
// natural-language classifier and the client that fetches it.
//
// The classifier is a black box: it receives the raw user query and returns
// intent + entities + confidence. Everything it returns is validated here
// before the rest of the pipeline trusts it.
package intent

import (
	"errors"
	"fmt"
)

// Intent is the classified action behind a user query.
type Intent string

const (
	IntentTransfer           Intent = "transfer"
	IntentBalance            Intent = "balance"
	IntentTransactionHistory Intent = "transaction_history"
	IntentSpendingSummary    Intent = "spending_summary"
	IntentViewContacts       Intent = "view_contacts"
	IntentViewBudgets        Intent = "view_budgets"
	IntentAddContact         Intent = "add_contact"
	IntentCreateBudget       Intent = "create_budget"
	IntentOther              Intent = "other"
)

var knownIntents = map[Intent]bool{
	IntentTransfer:           true,
	IntentBalance:            true,
	IntentTransactionHistory: true,
	IntentSpendingSummary:    true,
	IntentViewContacts:       true,
	IntentViewBudgets:        true,
	IntentAddContact:         true,
	IntentCreateBudget:       true,
	IntentOther:              true,
}

// ReadOnly reports whether the intent only reads state. Read-only intents
// bypass risk evaluation and confirmation entirely.
func (i Intent) ReadOnly() bool {
	switch i {
	case IntentBalance, IntentTransactionHistory, IntentSpendingSummary,
		IntentViewContacts, IntentViewBudgets:
		return true
	}
	return false
}

// MovesMoney reports whether the intent moves funds and therefore passes
// through risk evaluation, confirmation, and the idempotency guard.
func (i Intent) MovesMoney() bool {
	return i == IntentTransfer
}

// Amount is a monetary entity as spoken by the user. Currency may be a
// spoken name ("euros") rather than an ISO code; normalization happens later.
type Amount struct {
	Value    float64 `json:"value"`
	Currency string  `json:"currency,omitempty"`
}

// Entities are the structured fields extracted from the query. All optional;
// the entity resolver progressively fills missing ones.
type Entities struct {
	Amount             *Amount `json:"amount,omitempty"`
	RecipientName      string  `json:"recipient_name,omitempty"`
	RecipientAccountID string  `json:"recipient_account_id,omitempty"`
	Description        string  `json:"description,omitempty"`
	BudgetCategory     string  `json:"budget_category,omitempty"`
	TimePeriod         string  `json:"time_period,omitempty"`
}

// Envelope is the validated classifier output. Immutable once validated,
// except that the entity resolver may fill RecipientAccountID.
type Envelope struct {
	Intent     Intent   `json:"intent"`
	Entities   Entities `json:"entities"`
	Confidence float64  `json:"confidence"`
}

// ErrUnusable marks classifier output the pipeline cannot act on: unknown
// intent, out-of-range confidence, or a malformed amount. The flow turns it
// into a clarification response, never an error page.
var ErrUnusable = errors.New("classifier output unusable")

var validTimePeriods = map[string]bool{
	"": true, "daily": true, "weekly": true, "monthly": true,
}

// Validate checks the envelope against the classifier contract.
func (e *Envelope) Validate() error {
	if !knownIntents[e.Intent] {
		return fmt.Errorf("%w: unknown intent %q", ErrUnusable, e.Intent)
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f out of range", ErrUnusable, e.Confidence)
	}
	if a := e.Entities.Amount; a != nil && a.Value <= 0 {
		return fmt.Errorf("%w: non-positive amount %v", ErrUnusable, a.Value)
	}
	if !validTimePeriods[e.Entities.TimePeriod] {
		return fmt.Errorf("%w: unknown time period %q", ErrUnusable, e.Entities.TimePeriod)
	}
	return nil
}
