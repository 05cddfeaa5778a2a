package fx

import (
	"strings"

	"github.com/boddenberg/ledger-sync/internal/domain"
)

// ValueInBase resolves a transaction's value in the base currency.
//
// A finite BaseAmount whose snapshot currency equals base is returned as is,
// so historical reports do not move when rates change. Anything else is
// converted live from the transaction's own amount and currency.
func ValueInBase(tx domain.Transaction, base string, rates Rates) float64 {
	bc := NormalizeCurrency(base)

	if frozen, ok := frozenValue(tx, bc); ok {
		return frozen
	}

	cur := tx.Currency
	if strings.TrimSpace(cur) == "" {
		cur = bc
	}
	return Convert(tx.Amount, cur, bc, rates).Value
}

func frozenValue(tx domain.Transaction, base string) (float64, bool) {
	if tx.BaseAmount == nil || !isFinite(*tx.BaseAmount) {
		return 0, false
	}
	if strings.TrimSpace(tx.BaseCurrencySnapshot) == "" {
		return 0, false
	}
	if NormalizeCurrency(tx.BaseCurrencySnapshot) != base {
		return 0, false
	}
	return *tx.BaseAmount, true
}

// Snapshot freezes the transaction's current value in base. Any previous
// snapshot is ignored and replaced. When the amount cannot be converted the
// transaction is returned without a snapshot, so it stays valued live.
func Snapshot(tx domain.Transaction, base string, rates Rates) (domain.Transaction, Conversion) {
	bc := NormalizeCurrency(base)
	tx.BaseAmount = nil
	tx.BaseCurrencySnapshot = ""

	cur := tx.Currency
	if strings.TrimSpace(cur) == "" {
		cur = bc
	}
	conv := Convert(tx.Amount, cur, bc, rates)
	if !conv.Converted {
		return tx, conv
	}

	v := RoundMoney(conv.Value)
	tx.BaseAmount = &v
	tx.BaseCurrencySnapshot = bc
	return tx, conv
}
