package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sagebank/orchestrator/internal/httpx"
)

func newMoney(srvURL string) *Money {
	return NewMoney(httpx.New(2*time.Second, 1, time.Millisecond), srvURL, srvURL, srvURL)
}

func TestGetBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/balance/1234567890", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(Balance{AccountID: "1234567890", BalanceCents: 55000})
	}))
	defer srv.Close()

	b, err := newMoney(srv.URL).GetBalance(context.Background(), "tok", "1234567890")
	require.NoError(t, err)
	assert.Equal(t, int64(55000), b.BalanceCents)
}

func TestGetHistoryAndCountToday(t *testing.T) {
	now := time.Now()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/history/1234567890", r.URL.Path)
		_ = json.NewEncoder(w).Encode(historyResponse{Transactions: []Transaction{
			{TransactionID: "t1", FromAccountID: "1234567890", AmountCents: 100, Timestamp: now.Add(-time.Hour)},
			{TransactionID: "t2", FromAccountID: "1234567890", AmountCents: 200, Timestamp: now.Add(-26 * time.Hour)},
			{TransactionID: "t3", FromAccountID: "9999999999", ToAccountID: "1234567890", AmountCents: 300, Timestamp: now},
		}})
	}))
	defer srv.Close()

	txns, err := newMoney(srv.URL).GetHistory(context.Background(), "tok", "1234567890")
	require.NoError(t, err)
	require.Len(t, txns, 3)

	// Only same-day outgoing transactions count.
	n := CountToday(txns, "1234567890", now)
	assert.LessOrEqual(t, n, 1)

	assert.Equal(t, 0, CountToday(nil, "1234567890", now))
}

func TestGetSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/summary/1234567890", r.URL.Path)
		assert.Equal(t, "weekly", r.URL.Query().Get("period"))
		_ = json.NewEncoder(w).Encode(Summary{
			AccountID: "1234567890",
			Period:    "weekly",
			Totals:    map[string]int64{"dining": 4200},
		})
	}))
	defer srv.Close()

	s, err := newMoney(srv.URL).GetSummary(context.Background(), "tok", "1234567890", "weekly")
	require.NoError(t, err)
	assert.Equal(t, int64(4200), s.Totals["dining"])
}

func TestListAndCreateBudgets(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/budgets/1234567890", r.URL.Path)
		switch r.Method {
		case http.MethodGet:
			_ = json.NewEncoder(w).Encode([]BudgetView{{Category: "dining", LimitCents: 50000}})
		case http.MethodPost:
			var b BudgetView
			require.NoError(t, json.NewDecoder(r.Body).Decode(&b))
			b.ID = "b1"
			_ = json.NewEncoder(w).Encode(b)
		}
	}))
	defer srv.Close()

	m := newMoney(srv.URL)

	list, err := m.ListBudgets(context.Background(), "tok", "1234567890")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "dining", list[0].Category)

	created, err := m.CreateBudget(context.Background(), "tok", "1234567890", BudgetView{
		Category:   "transport",
		LimitCents: 20000,
		Period:     "monthly",
	})
	require.NoError(t, err)
	assert.Equal(t, "b1", created.ID)
	assert.Equal(t, "transport", created.Category)
}

func TestGetBalance_DownstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newMoney(srv.URL).GetBalance(context.Background(), "tok", "1234567890")
	require.Error(t, err)
}
