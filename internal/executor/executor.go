// Package executor moves money. It submits one transfer to the ledger
// service, logs the transaction, and rolls the amount into any matching
// active budget. The executor itself is not idempotent; callers wrap it in
// the idempotency guard.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sagebank/orchestrator/internal/logging"
	"github.com/sagebank/orchestrator/internal/metrics"
)

var (
	// ErrInvalidRequest covers local validation failures caught before any
	// network call.
	ErrInvalidRequest = errors.New("invalid transaction request")

	// ErrLedgerRejected is a definitive ledger refusal (insufficient funds,
	// invalid account). Never retried.
	ErrLedgerRejected = errors.New("ledger rejected the transaction")

	// ErrLedgerUnavailable is returned when the ledger cannot be reached
	// after retries.
	ErrLedgerUnavailable = errors.New("ledger unavailable")
)

// Request is an execution-ready transfer. It is what a pending confirmation
// stores as its payload.
type Request struct {
	AccountID          string            `json:"account_id"`
	RecipientAccountID string            `json:"recipient_account_id"`
	AmountCents        int64             `json:"amount_cents"`
	Description        string            `json:"description,omitempty"`
	Token              string            `json:"token,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// Result is the outcome of a successful execution.
type Result struct {
	TransactionID   string `json:"transaction_id"`
	NewBalanceCents int64  `json:"new_balance_cents"`
	Category        string `json:"category"`
}

// Log is one executed-transaction record.
type Log struct {
	TransactionID string    `json:"transactionId"`
	AccountID     string    `json:"accountId"`
	AmountCents   int64     `json:"amountCents"`
	Category      string    `json:"category"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Budget is an active spending budget for one account and category.
type Budget struct {
	AccountID   string
	Category    string
	LimitCents  int64
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// LogStore persists the transaction log.
type LogStore interface {
	Record(ctx context.Context, l *Log) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*Log, error)
}

// BudgetStore reads budgets and accumulates usage per account, category and
// period.
type BudgetStore interface {
	ActiveBudgets(ctx context.Context, accountID, category string, at time.Time) ([]*Budget, error)
	AddUsage(ctx context.Context, accountID, category string, periodStart, periodEnd time.Time, amountCents int64) error
}

// Service executes transfers against the ledger.
type Service struct {
	ledger  Ledger
	logs    LogStore
	budgets BudgetStore
	now     func() time.Time
}

// NewService creates a transaction executor.
func NewService(ledger Ledger, logs LogStore, budgets BudgetStore) *Service {
	return &Service{
		ledger:  ledger,
		logs:    logs,
		budgets: budgets,
		now:     time.Now,
	}
}

// Execute submits one transfer. Validation failures return ErrInvalidRequest
// before any network call; ledger failures map to ErrLedgerRejected or
// ErrLedgerUnavailable. The transaction log and budget usage updates are
// best-effort: the money already moved, so their failure is logged, not
// surfaced.
func (s *Service) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)
	}
	if req.RecipientAccountID == "" {
		return nil, fmt.Errorf("%w: recipient account id is required", ErrInvalidRequest)
	}

	txnID, newBalance, err := s.ledger.Transfer(ctx, req.Token, req.AccountID, req.RecipientAccountID, req.AmountCents, req.Description)
	if err != nil {
		metrics.TransfersTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.TransfersTotal.WithLabelValues("success").Inc()

	category := Categorize(req.Description)
	now := s.now()

	if s.logs != nil {
		if err := s.logs.Record(ctx, &Log{
			TransactionID: txnID,
			AccountID:     req.AccountID,
			AmountCents:   req.AmountCents,
			Category:      category,
			CreatedAt:     now,
		}); err != nil {
			logging.L(ctx).Error("write transaction log failed",
				"transactionId", txnID, "error", err)
		}
	}
	s.applyBudgetUsage(ctx, req.AccountID, category, req.AmountCents, now)

	return &Result{
		TransactionID:   txnID,
		NewBalanceCents: newBalance,
		Category:        category,
	}, nil
}

// ExecutePayload runs a stored confirmation payload. Satisfies the
// confirmation manager's executor dependency.
func (s *Service) ExecutePayload(ctx context.Context, accountID string, payload json.RawMessage) (string, error) {
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return "", fmt.Errorf("decode confirmation payload: %w", err)
	}
	if req.AccountID == "" {
		req.AccountID = accountID
	}
	res, err := s.Execute(ctx, req)
	if err != nil {
		return "", err
	}
	return res.TransactionID, nil
}

func (s *Service) applyBudgetUsage(ctx context.Context, accountID, category string, amountCents int64, now time.Time) {
	if s.budgets == nil {
		return
	}
	budgets, err := s.budgets.ActiveBudgets(ctx, accountID, category, now)
	if err != nil {
		logging.L(ctx).Error("list active budgets failed", "accountId", accountID, "error", err)
		return
	}
	for _, b := range budgets {
		if err := s.budgets.AddUsage(ctx, accountID, category, b.PeriodStart, b.PeriodEnd, amountCents); err != nil {
			logging.L(ctx).Error("update budget usage failed",
				"accountId", accountID, "category", category, "error", err)
		}
	}
}

// categoryRules maps transaction descriptions to spending categories by
// keyword. First match wins; order matters for overlapping keywords.
var categoryRules = []struct {
	category string
	keywords []string
}{
	{"groceries", []string{"walmart", "kroger", "safeway", "whole foods", "trader joe", "grocery", "supermarket"}},
	{"transport", []string{"uber", "lyft", "taxi", "bus", "metro", "gas station", "shell", "exxon", "chevron"}},
	{"dining", []string{"restaurant", "mcdonald", "starbucks", "pizza", "burger", "cafe", "coffee"}},
	{"entertainment", []string{"netflix", "spotify", "movie", "cinema", "theater", "game", "steam"}},
	{"shopping", []string{"amazon", "target", "costco", "mall", "store", "retail"}},
	{"utilities", []string{"electric", "gas", "water", "internet", "phone", "cable"}},
	{"healthcare", []string{"hospital", "pharmacy", "doctor", "medical", "health", "dental"}},
	{"finance", []string{"bank", "atm", "fee", "interest", "loan", "credit"}},
	{"travel", []string{"hotel", "airline", "flight", "booking", "airbnb"}},
	{"education", []string{"school", "university", "tuition", "books", "education"}},
}

// Categorize maps a free-text description to a spending category.
func Categorize(description string) string {
	if description == "" {
		return "other"
	}
	d := strings.ToLower(description)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if strings.Contains(d, kw) {
				return rule.category
			}
		}
	}
	return "other"
}
