package currency

import (
	"context"
	"fmt"

	"github.com/sagebank/orchestrator/internal/httpx"
)

// Provider fetches the USD-per-unit rate for a currency.
type Provider interface {
	FetchRate(ctx context.Context, currencyCode string) (float64, error)
}

// HTTPProvider reads a `{"rates": {code: usd_to_currency}}` document from a
// rate endpoint and inverts the requested entry to USD-per-unit.
type HTTPProvider struct {
	url    string
	client *httpx.Client
}

// NewHTTPProvider creates a provider for the given rates endpoint.
func NewHTTPProvider(url string, client *httpx.Client) *HTTPProvider {
	return &HTTPProvider{url: url, client: client}
}

func (p *HTTPProvider) FetchRate(ctx context.Context, currencyCode string) (float64, error) {
	resp, err := p.client.Get(ctx, p.url, nil)
	if err != nil {
		return 0, fmt.Errorf("rate provider: %w", err)
	}
	if !resp.OK() {
		return 0, fmt.Errorf("rate provider returned %d", resp.StatusCode)
	}

	var doc struct {
		Rates map[string]float64 `json:"rates"`
	}
	if err := resp.Decode(&doc); err != nil {
		return 0, fmt.Errorf("rate provider: decode: %w", err)
	}

	usdToCurrency, ok := doc.Rates[currencyCode]
	if !ok || usdToCurrency <= 0 {
		return 0, fmt.Errorf("rate provider: no rate for %s", currencyCode)
	}

	// Provider reports USD->currency; we store currency->USD.
	return 1 / usdToCurrency, nil
}
