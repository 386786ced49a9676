package reconciliation

import (
	"github.com/mmdatafocus/civicfinance_backend/config"
	"github.com/mmdatafocus/civicfinance_backend/models"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	// maxDeltaPct bounds stored percentages to what the decimal(20,2) columns hold.
	maxDeltaPct = decimal.New(1, 15)
)

// Thresholds are percent bounds on |deltaPct|: above ErrorPct is an error, above WarningPct
// a warning. BalanceTolerance is in dollars.
type Thresholds struct {
	WarningPct       decimal.Decimal
	ErrorPct         decimal.Decimal
	BalanceTolerance decimal.Decimal
}

func ThresholdsFromSettings(s config.FinanceSettings) Thresholds {
	return Thresholds{
		WarningPct:       s.WarningPct,
		ErrorPct:         s.ErrorPct,
		BalanceTolerance: s.BalanceTolerance,
	}
}

// OtherReceipts is the part of total receipts not explained by contributions.
func OtherReceipts(itemized, unitemized, totalReceipts decimal.Decimal) decimal.Decimal {
	return totalReceipts.Sub(itemized).Sub(unitemized).Round(2)
}

// IsBalanced checks itemized + unitemized + other == total within tolerance. A negative
// residual beyond tolerance means reported contributions exceed total receipts.
func IsBalanced(itemized, unitemized, otherReceipts, totalReceipts, tolerance decimal.Decimal) bool {
	diff := itemized.Add(unitemized).Add(otherReceipts).Sub(totalReceipts).Abs()
	if diff.GreaterThan(tolerance) {
		return false
	}
	return !otherReceipts.LessThan(tolerance.Neg())
}

// DeltaPct returns delta/base*100 rounded to cents, or zero when base is zero. The result is
// clamped to +/-1e15 so a near-zero base still stores.
func DeltaPct(delta, base decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	pct := delta.Div(base).Mul(hundred).Round(2)
	switch {
	case pct.GreaterThan(maxDeltaPct):
		return maxDeltaPct
	case pct.LessThan(maxDeltaPct.Neg()):
		return maxDeltaPct.Neg()
	}
	return pct
}

// Classify maps the balance check and the individual-category variance to a status. The
// bounds are exclusive: a variance exactly at WarningPct is ok.
func Classify(balanced bool, deltaPct decimal.Decimal, th Thresholds) models.ReconciliationStatus {
	abs := deltaPct.Abs()
	switch {
	case !balanced:
		return models.ReconciliationStatusError
	case abs.GreaterThan(th.ErrorPct):
		return models.ReconciliationStatusError
	case abs.GreaterThan(th.WarningPct):
		return models.ReconciliationStatusWarning
	}
	return models.ReconciliationStatusOk
}
