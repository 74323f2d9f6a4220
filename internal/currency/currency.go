// Package currency converts amounts in arbitrary currencies to integer USD
// cents, using a cached exchange rate with primary/fallback providers and
// stale-cache tolerance.
package currency

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"time"
)

// ErrConversionUnavailable is returned when no exchange rate can be obtained
// by any means: cache, primary provider, fallback provider, or stale cache.
var ErrConversionUnavailable = errors.New("currency conversion unavailable")

// StaleAfter is how long a cached rate is considered fresh.
const StaleAfter = 24 * time.Hour

// ExchangeRate is a cached conversion rate. RateToUSD is "USD per unit of
// currency", i.e. the inverse of the provider's USD->currency rate.
type ExchangeRate struct {
	CurrencyCode string    `json:"currencyCode"`
	RateToUSD    float64   `json:"rateToUsd"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// Fresh reports whether the rate was updated within StaleAfter of now.
func (r *ExchangeRate) Fresh(now time.Time) bool {
	return now.Sub(r.LastUpdated) <= StaleAfter
}

// RateStore persists cached exchange rates keyed by currency code.
type RateStore interface {
	Get(ctx context.Context, currencyCode string) (*ExchangeRate, error)
	Upsert(ctx context.Context, rate *ExchangeRate) error
}

// ErrRateNotCached is returned by RateStore.Get when no row exists.
var ErrRateNotCached = errors.New("rate not cached")

// spokenCurrencies maps spoken or colloquial currency names to ISO codes.
// Unknown names fall through to USD.
var spokenCurrencies = map[string]string{
	"dollar": "USD", "dollars": "USD", "bucks": "USD", "us dollar": "USD",
	"euro": "EUR", "euros": "EUR", "european euro": "EUR",
	"pound": "GBP", "pounds": "GBP", "quid": "GBP", "sterling": "GBP", "british pound": "GBP",
	"rupee": "INR", "rupees": "INR", "indian rupee": "INR", "rs": "INR",
	"yen": "JPY", "japanese yen": "JPY",
	"yuan": "CNY", "rmb": "CNY", "renminbi": "CNY",
	"franc": "CHF", "swiss franc": "CHF",
	"canadian dollar": "CAD",
	"australian dollar": "AUD", "aussie dollar": "AUD",
	"singapore dollar": "SGD",
	"rand": "ZAR", "south african rand": "ZAR",
	"peso": "MXN", "mexican peso": "MXN",
	"real": "BRL", "brazilian real": "BRL",
	"lira": "TRY", "turkish lira": "TRY",
	"ruble": "RUB", "russian ruble": "RUB",
	"won": "KRW", "korean won": "KRW",
	"dirham": "AED", "uae dirham": "AED",
	"shekel": "ILS", "israeli shekel": "ILS",
	"krona": "SEK", "swedish krona": "SEK",
}

var nonWord = regexp.MustCompile(`[^\w\s]`)

type spokenName struct {
	name string
	code string
}

// spokenNames is the phrase-scan order for NormalizeCode: longest names
// first so "australian dollar" wins over "dollar", with an alphabetical
// tiebreak to keep the scan deterministic across processes.
var spokenNames = func() []spokenName {
	names := make([]spokenName, 0, len(spokenCurrencies))
	for name, code := range spokenCurrencies {
		names = append(names, spokenName{name, code})
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i].name) != len(names[j].name) {
			return len(names[i].name) > len(names[j].name)
		}
		return names[i].name < names[j].name
	})
	return names
}()

// NormalizeCode maps a spoken currency name or code to an ISO-4217 code.
// Three-letter inputs are treated as codes and upcased; anything else is
// looked up in the spoken-name table, defaulting to USD. The phrase scan
// matches whole words only, so "rs" never fires inside "transfers" and
// "australian dollars" does not match "australian dollar".
func NormalizeCode(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = nonWord.ReplaceAllString(text, "")
	if text == "" {
		return "USD"
	}
	if code, ok := spokenCurrencies[text]; ok {
		return code
	}
	if len(text) == 3 {
		return strings.ToUpper(text)
	}
	padded := " " + text + " "
	for _, s := range spokenNames {
		if strings.Contains(padded, " "+s.name+" ") {
			return s.code
		}
	}
	return "USD"
}
