package fx

import "github.com/boddenberg/ledger-sync/internal/domain"

// Rates maps a currency code to the USD value of one unit of it.
type Rates map[string]float64

// DefaultRatesToUSD is the static fallback used when live rates are unavailable.
var DefaultRatesToUSD = Rates{
	"USD": 1,
	"EUR": 1.09,
	"TRY": 0.033,
	"GBP": 1.27,
	"CHF": 1.13,
	"AED": 0.272294,
	"SAR": 0.266667,
	"SYP": 0.0083,
}

// Copy returns an independent copy of r.
func (r Rates) Copy() Rates {
	out := make(Rates, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// toUSD returns the unit value of code in USD when it is usable.
func (r Rates) toUSD(code string) (float64, bool) {
	v, ok := r[NormalizeCurrency(code)]
	if !ok || !isFinite(v) || v <= 0 {
		return 0, false
	}
	return v, true
}

// RatesFromState returns the rates cached in the state, or the static fallback.
func RatesFromState(state *domain.AppState) Rates {
	if state != nil && len(state.FxRatesToUSD) > 0 {
		return Rates(state.FxRatesToUSD)
	}
	return DefaultRatesToUSD
}
