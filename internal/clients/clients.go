// Package clients holds the typed read-path collaborators: balance reader,
// transaction history, spending summary, and budgets. They all share the
// retrying transport from httpx and forward the caller's bearer token.
package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/sagebank/orchestrator/internal/httpx"
)

// Money reads balances, history, summaries and budgets from the money
// services.
type Money struct {
	client     *httpx.Client
	balanceURL string
	historyURL string
	budgetsURL string
}

// NewMoney creates a money-services client. The summary endpoint lives on
// the budgets service.
func NewMoney(client *httpx.Client, balanceURL, historyURL, budgetsURL string) *Money {
	return &Money{
		client:     client,
		balanceURL: balanceURL,
		historyURL: historyURL,
		budgetsURL: budgetsURL,
	}
}

func authHeaders(token string) map[string]string {
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func (m *Money) get(ctx context.Context, rawURL, token string, out any) error {
	resp, err := m.client.Get(ctx, rawURL, authHeaders(token))
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("downstream returned %d", resp.StatusCode)
	}
	return resp.Decode(out)
}

// Balance is an account's current balance.
type Balance struct {
	AccountID    string `json:"account_id"`
	BalanceCents int64  `json:"balance_cents"`
}

// GetBalance reads the current balance for an account.
func (m *Money) GetBalance(ctx context.Context, token, accountID string) (*Balance, error) {
	var out Balance
	if err := m.get(ctx, m.balanceURL+"/v1/balance/"+url.PathEscape(accountID), token, &out); err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if out.AccountID == "" {
		out.AccountID = accountID
	}
	return &out, nil
}

// Transaction is one history entry.
type Transaction struct {
	TransactionID string    `json:"transaction_id"`
	FromAccountID string    `json:"from_acct"`
	ToAccountID   string    `json:"to_acct"`
	AmountCents   int64     `json:"amount_cents"`
	Description   string    `json:"description,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type historyResponse struct {
	Transactions []Transaction `json:"transactions"`
}

// GetHistory reads recent transactions for an account, newest first.
func (m *Money) GetHistory(ctx context.Context, token, accountID string) ([]Transaction, error) {
	var out historyResponse
	if err := m.get(ctx, m.historyURL+"/v1/history/"+url.PathEscape(accountID), token, &out); err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	return out.Transactions, nil
}

// CountToday counts an account's outgoing transactions since local midnight.
// Used as the risk evaluator's frequency input.
func CountToday(txns []Transaction, accountID string, now time.Time) int {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	n := 0
	for _, t := range txns {
		if t.FromAccountID == accountID && !t.Timestamp.Before(midnight) {
			n++
		}
	}
	return n
}

// Summary is a per-category spending rollup.
type Summary struct {
	AccountID string           `json:"account_id"`
	Period    string           `json:"period"`
	Totals    map[string]int64 `json:"totals_cents"`
}

// GetSummary reads the spending summary for an account and period.
func (m *Money) GetSummary(ctx context.Context, token, accountID, period string) (*Summary, error) {
	if period == "" {
		period = "monthly"
	}
	u := m.budgetsURL + "/v1/summary/" + url.PathEscape(accountID) + "?period=" + url.QueryEscape(period)
	var out Summary
	if err := m.get(ctx, u, token, &out); err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}
	return &out, nil
}

// BudgetView is a budget as exposed to the chat caller.
type BudgetView struct {
	ID         string `json:"id,omitempty"`
	Category   string `json:"category"`
	LimitCents int64  `json:"limit_cents"`
	Period     string `json:"period,omitempty"`
	UsedCents  int64  `json:"used_cents,omitempty"`
}

// ListBudgets reads an account's budgets.
func (m *Money) ListBudgets(ctx context.Context, token, accountID string) ([]BudgetView, error) {
	var out []BudgetView
	if err := m.get(ctx, m.budgetsURL+"/v1/budgets/"+url.PathEscape(accountID), token, &out); err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}
	return out, nil
}

// CreateBudget creates a budget for an account.
func (m *Money) CreateBudget(ctx context.Context, token, accountID string, b BudgetView) (*BudgetView, error) {
	resp, err := m.client.PostJSON(ctx, m.budgetsURL+"/v1/budgets/"+url.PathEscape(accountID), b, authHeaders(token))
	if err != nil {
		return nil, fmt.Errorf("create budget: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("budgets service returned %d", resp.StatusCode)
	}
	var out BudgetView
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode budget: %w", err)
	}
	return &out, nil
}

// RawJSON decodes arbitrary downstream data for pass-through responses.
func RawJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return b
}
