package fx

import (
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// RoundMoney rounds to 2 decimals, half away from zero. Non-finite input is 0.
func RoundMoney(x float64) float64 {
	if !isFinite(x) {
		return 0
	}
	f, _ := decimal.NewFromFloat(x).Round(2).Float64()
	return f
}

// FormatMoney renders amount with the currency's symbol and grouping.
// Unknown codes fall back to "1234.56 XYZ".
func FormatMoney(amount float64, currency string) string {
	code := NormalizeCurrency(currency)
	if money.GetCurrency(code) == nil {
		return fmt.Sprintf("%.2f %s", RoundMoney(amount), code)
	}
	return money.NewFromFloat(RoundMoney(amount), code).Display()
}
