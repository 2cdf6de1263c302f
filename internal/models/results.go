package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MatchCandidate pairs a bank record with a ledger record. At most one side
// is nil.
type MatchCandidate struct {
	Bank   *Record `json:"bank,omitempty"`
	Ledger *Record `json:"ledger,omitempty"`
}

// IsPaired reports whether both sides are present.
func (c MatchCandidate) IsPaired() bool {
	return c.Bank != nil && c.Ledger != nil
}

// Primary returns the bank record, or the ledger record for ledger-only
// candidates.
func (c MatchCandidate) Primary() *Record {
	if c.Bank != nil {
		return c.Bank
	}
	return c.Ledger
}

// BankID returns the bank record id or "".
func (c MatchCandidate) BankID() string {
	if c.Bank == nil {
		return ""
	}
	return c.Bank.ID
}

// LedgerID returns the ledger record id or "".
func (c MatchCandidate) LedgerID() string {
	if c.Ledger == nil {
		return ""
	}
	return c.Ledger.ID
}

// MatchOutcome is a classified match candidate as produced by the matcher.
// AmountDifference is bank minus ledger and DateGapDays is the absolute day
// distance; both are zero for single-sided candidates.
type MatchOutcome struct {
	MatchCandidate
	RootCause             RootCause       `json:"root_cause"`
	AmountDifference      decimal.Decimal `json:"amount_difference"`
	DateGapDays           int             `json:"date_gap_days"`
	DescriptionSimilarity float64         `json:"description_similarity"`
}

// ReconciliationRow is one line of the final result. Rows are assembled once
// after every pass has finished and are not modified afterwards.
type ReconciliationRow struct {
	MatchOutcome
	// AnomalyScore is nil only for rows that never went through scoring. A
	// degraded run scores every row 0 and clears Diagnostics.ScoringAvailable.
	AnomalyScore   *float64       `json:"anomaly_score"`
	AnomalyFlag    bool           `json:"anomaly_flag"`
	AnomalyReason  string         `json:"anomaly_reason"`
	Category       Category       `json:"category"`
	CategorySource CategorySource `json:"category_source"`
	Recommendation string         `json:"recommendation"`
}

// Score returns the anomaly score or 0 when unavailable.
func (r *ReconciliationRow) Score() float64 {
	if r.AnomalyScore == nil {
		return 0
	}
	return *r.AnomalyScore
}

// Diagnostics describes everything that degraded or was excluded during a
// run.
type Diagnostics struct {
	UnparsedBank     int      `json:"unparsed_bank"`
	UnparsedLedger   int      `json:"unparsed_ledger"`
	ParseErrors      []string `json:"parse_errors,omitempty"`
	ScoringAvailable bool     `json:"scoring_available"`
	ScoringError     string   `json:"scoring_error,omitempty"`
	// CategorySources counts rows by the categorizer stage that labeled them.
	CategorySources map[CategorySource]int `json:"category_sources"`
	CategorizerMode string                 `json:"categorizer_mode"`
	ModelErrors     []string               `json:"model_errors,omitempty"`
}

// Summary aggregates a reconciliation run.
type Summary struct {
	RunID                     string            `json:"run_id"`
	GeneratedAt               time.Time         `json:"generated_at"`
	TotalBank                 int               `json:"total_bank"`
	TotalLedger               int               `json:"total_ledger"`
	TotalRows                 int               `json:"total_rows"`
	MatchedCount              int               `json:"matched_count"`
	MismatchCountsByRootCause map[RootCause]int `json:"mismatch_counts_by_root_cause"`
	AnomalyCount              int               `json:"anomaly_count"`
	CategoryDistribution      map[Category]int  `json:"category_distribution"`
	MatchRate                 float64           `json:"match_rate"`
	Diagnostics               Diagnostics       `json:"diagnostics"`
}

// MismatchCount returns the number of rows that are not MATCHED.
func (s *Summary) MismatchCount() int {
	total := 0
	for _, n := range s.MismatchCountsByRootCause {
		total += n
	}
	return total
}

// Recommendation is the remediation advice for one root cause group.
type Recommendation struct {
	RootCause     RootCause       `json:"root_cause"`
	ImpactedCount int             `json:"impacted_count"`
	ImpactAmount  decimal.Decimal `json:"impact_amount"`
	AnomalyCount  int             `json:"anomaly_count"`
	Suggestion    string          `json:"suggestion"`
}
