package fx

import "math"

// Reason explains how Convert arrived at its value.
type Reason string

const (
	ReasonSameCurrency  Reason = "same_currency"
	ReasonMissingRate   Reason = "missing_rate"
	ReasonInvalidAmount Reason = "invalid_amount"
)

// Conversion is the result of Convert. When Converted is false, Value holds
// the original amount (or 0 for a non-finite amount) and Reason says why.
type Conversion struct {
	Value     float64
	Converted bool
	Reason    Reason
}

// Convert converts amount from one currency to another through the pivot.
// It never fails: a missing or unusable rate yields the amount unconverted.
func Convert(amount float64, from, to string, rates Rates) Conversion {
	if !isFinite(amount) {
		return Conversion{Value: 0, Reason: ReasonInvalidAmount}
	}

	f := NormalizeCurrency(from)
	t := NormalizeCurrency(to)
	if f == t {
		return Conversion{Value: amount, Converted: true, Reason: ReasonSameCurrency}
	}

	rf, okFrom := rates.toUSD(f)
	rt, okTo := rates.toUSD(t)
	if !okFrom || !okTo {
		return Conversion{Value: amount, Reason: ReasonMissingRate}
	}

	usd := amount * rf
	return Conversion{Value: usd / rt, Converted: true}
}

// ConvertAmount is Convert without the result metadata.
func ConvertAmount(amount float64, from, to string, rates Rates) float64 {
	return Convert(amount, from, to, rates).Value
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
