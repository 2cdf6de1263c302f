// Package matcher pairs bank records with ledger records and assigns each
// pairing, or non-pairing, exactly one root cause.
//
// The engine runs four passes over inputs sorted in canonical record order:
//  1. Exact-key join on (amount, date, description hash), accepted only when
//     the key is unique on both sides
//  2. Duplicate detection within each side on (amount, date)
//  3. Greedy one-to-one fuzzy matching within the date window or amount
//     tolerance
//  4. Leftover classification as missing on the other side, or unmapped
//
// Example usage:
//
//	config := matcher.DefaultMatchingConfig()
//	config.DateWindowDays = 5
//
//	engine, err := matcher.NewMatchingEngine(config)
//	result, err := engine.Match(ctx, bankRecords, ledgerRecords)
package matcher

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"smart-reconciliation-service/internal/models"
)

// MatchingConfig holds the tolerances of the fuzzy pass.
type MatchingConfig struct {
	// DateWindowDays is the largest date gap, in calendar days, accepted for
	// equal amounts.
	DateWindowDays int `json:"date_window_days" yaml:"date_window_days"`

	// AmountTolerance is the largest absolute amount difference accepted for
	// records on the same date.
	AmountTolerance decimal.Decimal `json:"amount_tolerance" yaml:"amount_tolerance"`

	// AmountTolerancePercent widens AmountTolerance to a percentage of the
	// bank amount when that is larger (0.0 to 100.0).
	AmountTolerancePercent float64 `json:"amount_tolerance_percent" yaml:"amount_tolerance_percent"`

	// AmountPrecision is the number of decimal places the percentage
	// tolerance is rounded to.
	AmountPrecision int `json:"amount_precision" yaml:"amount_precision"`

	// CompareAbsoluteAmounts ignores sign differences between the two
	// sides, for exports that write debits as positive numbers.
	CompareAbsoluteAmounts bool `json:"compare_absolute_amounts" yaml:"compare_absolute_amounts"`

	// DetectDuplicates enables the duplicate pass.
	DetectDuplicates bool `json:"detect_duplicates" yaml:"detect_duplicates"`
}

// DefaultMatchingConfig returns a ±3 day window and a 1.00 amount tolerance.
func DefaultMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateWindowDays:   3,
		AmountTolerance:  decimal.RequireFromString("1.00"),
		AmountPrecision:  2,
		DetectDuplicates: true,
	}
}

// StrictMatchingConfig only pairs records with equal amounts on the same day.
func StrictMatchingConfig() *MatchingConfig {
	return &MatchingConfig{
		DateWindowDays:   0,
		AmountTolerance:  decimal.Zero,
		AmountPrecision:  2,
		DetectDuplicates: true,
	}
}

var nonNegativeDecimal = validation.By(func(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok {
		return fmt.Errorf("must be a decimal")
	}
	if d.IsNegative() {
		return fmt.Errorf("must not be negative")
	}
	return nil
})

// Validate checks if the matching configuration is valid
func (mc *MatchingConfig) Validate() error {
	return validation.ValidateStruct(mc,
		validation.Field(&mc.DateWindowDays, validation.Min(0), validation.Max(366)),
		validation.Field(&mc.AmountTolerance, nonNegativeDecimal),
		validation.Field(&mc.AmountTolerancePercent, validation.Min(0.0), validation.Max(100.0)),
		validation.Field(&mc.AmountPrecision, validation.Min(0), validation.Max(10)),
	)
}

// Clone creates a copy of the matching configuration
func (mc *MatchingConfig) Clone() *MatchingConfig {
	if mc == nil {
		return nil
	}
	clone := *mc
	return &clone
}

// GetAmountTolerance returns the tolerance that applies to amount.
func (mc *MatchingConfig) GetAmountTolerance(amount decimal.Decimal) decimal.Decimal {
	if mc.AmountTolerancePercent == 0.0 {
		return mc.AmountTolerance
	}
	percentage := decimal.NewFromFloat(mc.AmountTolerancePercent / 100.0)
	relative := amount.Abs().Mul(percentage).Round(int32(mc.AmountPrecision))
	return decimal.Max(mc.AmountTolerance, relative)
}

// IsWithinDateWindow checks if two dates are at most DateWindowDays apart.
func (mc *MatchingConfig) IsWithinDateWindow(a, b time.Time) bool {
	return models.AbsDays(a, b) <= mc.DateWindowDays
}

// compareAmount returns the amount used for comparisons under this config.
func (mc *MatchingConfig) compareAmount(amount decimal.Decimal) decimal.Decimal {
	if mc.CompareAbsoluteAmounts {
		return amount.Abs()
	}
	return amount
}

// String returns a human-readable description of the configuration
func (mc *MatchingConfig) String() string {
	return fmt.Sprintf("MatchingConfig{DateWindow: %d days, AmountTolerance: %s, AmountTolerancePercent: %.2f%%, AbsoluteAmounts: %t}",
		mc.DateWindowDays, mc.AmountTolerance.String(), mc.AmountTolerancePercent, mc.CompareAbsoluteAmounts)
}
