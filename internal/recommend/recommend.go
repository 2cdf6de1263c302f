// Package recommend turns reconciliation rows into ranked remediation
// advice. Everything here is a pure function of its input.
package recommend

import (
	"fmt"
	"slices"

	"github.com/shopspring/decimal"

	"smart-reconciliation-service/internal/models"
)

var defaultSuggestions = map[models.RootCause]string{
	models.RootCauseMatched:         "Reconciled successfully. No action required.",
	models.RootCauseAmountMismatch:  "Amount mismatch detected. Verify GST/rounding/partial settlement/double posting.",
	models.RootCauseDateMismatch:    "Posting date mismatch. Validate processing date vs clearing date.",
	models.RootCauseMissingInBank:   "Bank entry missing. Check if payment is pending or incorrectly mapped.",
	models.RootCauseMissingInLedger: "Ledger entry missing. Verify vendor invoice and post the correct ledger entry.",
	models.RootCauseDuplicate:       "Duplicate posting detected. Reverse the extra entry after confirming it is not a split payment.",
	models.RootCauseUnmapped:        "No usable description or reference. Enrich the source export and map the entry manually.",
}

// Engine produces recommendations. The zero value is not usable; call
// NewEngine.
type Engine struct {
	suggestions map[models.RootCause]string
}

// NewEngine returns an engine with the built-in suggestion texts, replaced
// by overrides where given.
func NewEngine(overrides map[models.RootCause]string) *Engine {
	suggestions := make(map[models.RootCause]string, len(defaultSuggestions))
	for rc, s := range defaultSuggestions {
		suggestions[rc] = s
	}
	for rc, s := range overrides {
		if rc.IsValid() && s != "" {
			suggestions[rc] = s
		}
	}
	return &Engine{suggestions: suggestions}
}

// Suggestion returns the text for rc.
func (e *Engine) Suggestion(rc models.RootCause) string {
	return e.suggestions[rc]
}

// Recommend aggregates rows per non-MATCHED root cause and ranks the groups
// by impacted count times impact amount, largest first. Ties keep root cause
// declaration order.
func (e *Engine) Recommend(rows []*models.ReconciliationRow) []models.Recommendation {
	groups := make(map[models.RootCause]*models.Recommendation)
	for _, row := range rows {
		if row.RootCause == models.RootCauseMatched {
			continue
		}
		g, ok := groups[row.RootCause]
		if !ok {
			g = &models.Recommendation{RootCause: row.RootCause, ImpactAmount: decimal.Zero}
			groups[row.RootCause] = g
		}
		g.ImpactedCount++
		g.ImpactAmount = g.ImpactAmount.Add(Impact(row))
		if row.AnomalyFlag {
			g.AnomalyCount++
		}
	}

	out := make([]models.Recommendation, 0, len(groups))
	for _, rc := range models.MismatchRootCauses() {
		g, ok := groups[rc]
		if !ok {
			continue
		}
		g.Suggestion = e.suggestions[rc]
		if g.AnomalyCount > 0 {
			g.Suggestion += fmt.Sprintf(" %d of %d affected rows are flagged as anomalous.", g.AnomalyCount, g.ImpactedCount)
		}
		out = append(out, *g)
	}

	slices.SortStableFunc(out, func(a, b models.Recommendation) int {
		return rank(b).Cmp(rank(a))
	})
	return out
}

func rank(r models.Recommendation) decimal.Decimal {
	return r.ImpactAmount.Mul(decimal.NewFromInt(int64(r.ImpactedCount)))
}

// Impact is the absolute amount a row puts at stake: the amount difference
// for AMOUNT_MISMATCH rows and the record amount otherwise.
func Impact(row *models.ReconciliationRow) decimal.Decimal {
	if row.RootCause == models.RootCauseAmountMismatch {
		return row.AmountDifference.Abs()
	}
	if p := row.Primary(); p != nil {
		return p.Amount.Abs()
	}
	return decimal.Zero
}

// RowAdvice returns the per-row recommendation. Mismatch root causes take
// precedence; a MATCHED row flagged as anomalous gets a review request
// naming the anomaly reason.
func (e *Engine) RowAdvice(row *models.ReconciliationRow) string {
	if row.RootCause != models.RootCauseMatched {
		return e.suggestions[row.RootCause]
	}
	if row.AnomalyFlag {
		return fmt.Sprintf("High-risk anomaly: %s. Investigate approvals & supporting documents.", row.AnomalyReason)
	}
	return e.suggestions[models.RootCauseMatched]
}

// TopAnomalies returns up to n scored rows with the highest anomaly scores.
// Equal scores keep row order. Rows without a score are skipped, so the
// result is empty when scoring was unavailable.
func TopAnomalies(rows []*models.ReconciliationRow, n int) []*models.ReconciliationRow {
	if n <= 0 {
		return nil
	}
	scored := make([]*models.ReconciliationRow, 0, len(rows))
	for _, row := range rows {
		if row.AnomalyScore != nil {
			scored = append(scored, row)
		}
	}
	slices.SortStableFunc(scored, func(a, b *models.ReconciliationRow) int {
		switch {
		case *a.AnomalyScore > *b.AnomalyScore:
			return -1
		case *a.AnomalyScore < *b.AnomalyScore:
			return 1
		}
		return 0
	})
	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}

// CountByRootCause counts rows per root cause. Every root cause is present
// in the result, with zero when absent.
func CountByRootCause(rows []*models.ReconciliationRow) map[models.RootCause]int {
	counts := make(map[models.RootCause]int, len(models.AllRootCauses()))
	for _, rc := range models.AllRootCauses() {
		counts[rc] = 0
	}
	for _, row := range rows {
		counts[row.RootCause]++
	}
	return counts
}
