package executor

import (
	"context"
	"fmt"

	"github.com/sagebank/orchestrator/internal/httpx"
)

// Ledger submits transfers to the ledger service.
type Ledger interface {
	Transfer(ctx context.Context, token, fromAccountID, toAccountID string, amountCents int64, description string) (transactionID string, newBalanceCents int64, err error)
}

// HTTPLedger calls the ledger writer over HTTP.
type HTTPLedger struct {
	client  *httpx.Client
	baseURL string
}

// NewHTTPLedger creates a ledger client.
func NewHTTPLedger(client *httpx.Client, baseURL string) *HTTPLedger {
	return &HTTPLedger{client: client, baseURL: baseURL}
}

type ledgerRequest struct {
	FromAccountID string `json:"fromAccountId"`
	ToAccountID   string `json:"toAccountId"`
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
}

type ledgerResponse struct {
	TransactionID string `json:"transaction_id"`
	NewBalance    int64  `json:"new_balance"`
}

// Transfer posts one transfer. The transport retries transient failures; a
// non-2xx that survives retries maps onto the executor error taxonomy here.
func (l *HTTPLedger) Transfer(ctx context.Context, token, from, to string, amountCents int64, description string) (string, int64, error) {
	var headers map[string]string
	if token != "" {
		headers = map[string]string{"Authorization": "Bearer " + token}
	}

	resp, err := l.client.PostJSON(ctx, l.baseURL+"/transactions", ledgerRequest{
		FromAccountID: from,
		ToAccountID:   to,
		Amount:        amountCents,
		Description:   description,
	}, headers)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	switch {
	case resp.OK():
	case resp.StatusCode >= 500:
		return "", 0, fmt.Errorf("%w: status %d", ErrLedgerUnavailable, resp.StatusCode)
	default:
		return "", 0, fmt.Errorf("%w: status %d", ErrLedgerRejected, resp.StatusCode)
	}

	var out ledgerResponse
	if err := resp.Decode(&out); err != nil {
		return "", 0, fmt.Errorf("decode ledger response: %w", err)
	}
	if out.TransactionID == "" {
		return "", 0, fmt.Errorf("%w: missing transaction id", ErrLedgerRejected)
	}
	return out.TransactionID, out.NewBalance, nil
}
