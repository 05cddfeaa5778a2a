// Package fx holds the currency table and the valuation engine: pivot-currency
// conversion, frozen base-currency snapshots and money rounding.
package fx

import (
	"strings"
)

// Pivot is the currency every pairwise conversion is routed through.
const Pivot = "USD"

// Supported lists the currencies the app offers and keeps rates for.
var Supported = []string{"EUR", "USD", "TRY", "GBP", "CHF", "AED", "SAR", "SYP"}

// liveExcluded are supported currencies the live provider does not quote.
// They rely on the fallback table or a configured override.
var liveExcluded = map[string]bool{"SYP": true}

// NormalizeCurrency maps user input (codes, symbols, aliases) to an upper-case
// code. Empty or unrecognisable input becomes the pivot currency.
func NormalizeCurrency(input string) string {
	s := strings.ToUpper(strings.Join(strings.Fields(input), ""))
	if s == "" {
		return Pivot
	}

	switch s {
	case "€", "EURO":
		return "EUR"
	case "$", "US$":
		return "USD"
	case "₺", "TL":
		return "TRY"
	case "£":
		return "GBP"
	}

	cleaned := strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r
		}
		return -1
	}, s)
	if cleaned == "" {
		return Pivot
	}
	return cleaned
}

// LiveSymbols returns the supported codes requested from the live provider.
func LiveSymbols() []string {
	out := make([]string, 0, len(Supported))
	for _, c := range Supported {
		if c == Pivot || liveExcluded[c] {
			continue
		}
		out = append(out, c)
	}
	return out
}
