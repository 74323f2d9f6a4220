package currency

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sagebank/orchestrator/internal/logging"
	"github.com/sagebank/orchestrator/internal/metrics"
)

// Normalizer converts amount+currency pairs to integer USD cents.
//
// Lookup order for non-USD currencies: fresh cached rate, primary provider,
// fallback provider, stale cached rate (last resort, not an error). Provider
// fetches upsert the cache.
type Normalizer struct {
	store    RateStore
	primary  Provider
	fallback Provider
	now      func() time.Time
}

// NewNormalizer creates a currency normalizer.
func NewNormalizer(store RateStore, primary, fallback Provider) *Normalizer {
	return &Normalizer{
		store:    store,
		primary:  primary,
		fallback: fallback,
		now:      time.Now,
	}
}

// NormalizeToCents converts amount in the given currency to USD cents,
// rounded half-up. USD never touches the network and never fails.
func (n *Normalizer) NormalizeToCents(ctx context.Context, amount float64, currencyCode string) (int64, error) {
	code := NormalizeCode(currencyCode)
	if code == "USD" {
		return int64(math.Round(amount * 100)), nil
	}

	rate, err := n.rateFor(ctx, code)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(amount * rate * 100)), nil
}

func (n *Normalizer) rateFor(ctx context.Context, code string) (float64, error) {
	log := logging.L(ctx)
	now := n.now()

	cached, err := n.store.Get(ctx, code)
	if err != nil && !errors.Is(err, ErrRateNotCached) {
		log.Warn("rate cache read failed", "currency", code, "error", err)
	}
	if cached != nil && cached.Fresh(now) {
		metrics.RateLookupsTotal.WithLabelValues("cache").Inc()
		return cached.RateToUSD, nil
	}

	if rate, err := n.primary.FetchRate(ctx, code); err == nil {
		metrics.RateLookupsTotal.WithLabelValues("primary").Inc()
		n.cache(ctx, code, rate)
		return rate, nil
	} else {
		log.Warn("primary rate provider failed", "currency", code, "error", err)
	}

	if n.fallback != nil {
		if rate, err := n.fallback.FetchRate(ctx, code); err == nil {
			metrics.RateLookupsTotal.WithLabelValues("fallback").Inc()
			n.cache(ctx, code, rate)
			return rate, nil
		} else {
			log.Warn("fallback rate provider failed", "currency", code, "error", err)
		}
	}

	// Both providers down: a stale rate beats refusing the transfer.
	if cached != nil {
		metrics.RateLookupsTotal.WithLabelValues("stale").Inc()
		log.Warn("using stale exchange rate", "currency", code, "age", now.Sub(cached.LastUpdated))
		return cached.RateToUSD, nil
	}

	return 0, ErrConversionUnavailable
}

func (n *Normalizer) cache(ctx context.Context, code string, rate float64) {
	err := n.store.Upsert(ctx, &ExchangeRate{
		CurrencyCode: code,
		RateToUSD:    rate,
		LastUpdated:  n.now(),
	})
	if err != nil {
		logging.L(ctx).Warn("rate cache write failed", "currency", code, "error", err)
	}
}
