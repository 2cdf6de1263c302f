package matcher

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/pkg/errors"
	"smart-reconciliation-service/pkg/logger"
)

// MatchingEngine partitions bank and ledger records into classified match
// candidates. It holds no per-run state and is safe for concurrent use.
type MatchingEngine struct {
	config *MatchingConfig
	logger logger.Logger
}

// MatchResult is the partition produced by one Match call.
type MatchResult struct {
	// Outcomes holds every input record exactly once, sorted by the
	// canonical order of the candidate's bank record, or ledger record for
	// ledger-only candidates.
	Outcomes   []*models.MatchOutcome
	Duplicates []*DuplicateGroup
	Summary    MatchSummary
}

// MatchSummary provides aggregate statistics about a Match call.
type MatchSummary struct {
	TotalBank         int                      `json:"total_bank"`
	TotalLedger       int                      `json:"total_ledger"`
	ExactMatches      int                      `json:"exact_matches"`
	FuzzyMatches      int                      `json:"fuzzy_matches"`
	CountsByRootCause map[models.RootCause]int `json:"counts_by_root_cause"`
	LedgerIndex       IndexStats               `json:"ledger_index"`
}

// NewMatchingEngine creates a new matching engine with the specified configuration
func NewMatchingEngine(config *MatchingConfig) (*MatchingEngine, error) {
	if config == nil {
		config = DefaultMatchingConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "matching", config.String(), err)
	}

	return &MatchingEngine{
		config: config.Clone(),
		logger: logger.GetGlobalLogger().WithComponent("matcher"),
	}, nil
}

// GetConfiguration returns a copy of the engine configuration.
func (me *MatchingEngine) GetConfiguration() *MatchingConfig {
	return me.config.Clone()
}

// Match reconciles bank against ledger. The result does not depend on the
// order of either input and neither input is modified.
func (me *MatchingEngine) Match(ctx context.Context, bank, ledger []*models.Record) (*MatchResult, error) {
	if err := checkSide(bank, models.SideBank); err != nil {
		return nil, err
	}
	if err := checkSide(ledger, models.SideLedger); err != nil {
		return nil, err
	}

	bankSorted := sortedCopy(bank)
	ledgerSorted := sortedCopy(ledger)

	result := &MatchResult{
		Summary: MatchSummary{
			TotalBank:         len(bank),
			TotalLedger:       len(ledger),
			CountsByRootCause: make(map[models.RootCause]int),
		},
	}
	for _, rc := range models.AllRootCauses() {
		result.Summary.CountsByRootCause[rc] = 0
	}

	residualBank, residualLedger := me.exactPass(bankSorted, ledgerSorted, result)

	if me.config.DetectDuplicates {
		residualBank = me.duplicatePass(residualBank, result)
		residualLedger = me.duplicatePass(residualLedger, result)
	}

	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeCancelled, "matching", err)
	}

	ledgerIndex := NewRecordIndex(residualLedger, me.config)
	var unmatchedBank []*models.Record
	for i, br := range residualBank {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, errors.InternalError(errors.CodeCancelled, "matching", err)
			}
		}

		lr, rc := me.bestCandidate(br, ledgerIndex)
		if lr == nil {
			unmatchedBank = append(unmatchedBank, br)
			continue
		}
		ledgerIndex.Consume(lr)
		me.add(result, me.pairOutcome(br, lr, rc))
		result.Summary.FuzzyMatches++
	}
	result.Summary.LedgerIndex = ledgerIndex.GetIndexStats()

	for _, br := range unmatchedBank {
		me.add(result, leftover(br, models.RootCauseMissingInLedger))
	}
	for _, lr := range ledgerIndex.Remaining() {
		me.add(result, leftover(lr, models.RootCauseMissingInBank))
	}

	slices.SortStableFunc(result.Outcomes, compareOutcomes)

	if got, want := countRecords(result.Outcomes), len(bank)+len(ledger); got != want {
		return nil, errors.ReconciliationError(errors.CodeMatchingFailed, "partition check",
			fmt.Errorf("partition covers %d records, expected %d", got, want))
	}

	me.logger.WithFields(logger.Fields{
		"bank":          len(bank),
		"ledger":        len(ledger),
		"exact_matches": result.Summary.ExactMatches,
		"fuzzy_matches": result.Summary.FuzzyMatches,
		"duplicates":    result.Summary.CountsByRootCause[models.RootCauseDuplicate],
	}).Info("Matching completed")

	return result, nil
}

// exactPass pairs records whose exact key occurs exactly once on each side.
func (me *MatchingEngine) exactPass(bank, ledger []*models.Record, result *MatchResult) ([]*models.Record, []*models.Record) {
	bankGroups, _ := groupByKey(bank, me.exactKey)
	ledgerGroups, _ := groupByKey(ledger, me.exactKey)

	consumed := make(map[*models.Record]bool)
	for _, br := range bank {
		k := me.exactKey(br)
		if len(bankGroups[k]) != 1 || len(ledgerGroups[k]) != 1 {
			continue
		}
		lr := ledgerGroups[k][0]
		consumed[br], consumed[lr] = true, true
		me.add(result, me.pairOutcome(br, lr, models.RootCauseMatched))
		result.Summary.ExactMatches++
	}

	return residual(bank, consumed), residual(ledger, consumed)
}

// duplicatePass marks all but the representative of each amount/date group
// as DUPLICATE and returns the representatives.
func (me *MatchingEngine) duplicatePass(records []*models.Record, result *MatchResult) []*models.Record {
	detection := me.DetectDuplicates(records)
	if n := detection.DuplicateCount(); n > 0 {
		me.logger.WithFields(logger.Fields{
			"side":       records[0].Side,
			"groups":     len(detection.Groups),
			"duplicates": n,
		}).Debug("Duplicates detected")
	}
	for _, g := range detection.Groups {
		for _, dup := range g.Duplicates {
			me.add(result, leftover(dup, models.RootCauseDuplicate))
		}
	}
	result.Duplicates = append(result.Duplicates, detection.Groups...)
	return detection.Survivors
}

// bestCandidate picks the ledger record that qualifies for br with the
// smallest amount difference, then smallest date gap, then lowest id.
func (me *MatchingEngine) bestCandidate(br *models.Record, idx *RecordIndex) (*models.Record, models.RootCause) {
	var (
		best     *models.Record
		bestRC   models.RootCause
		bestDiff decimal.Decimal
		bestGap  int
	)

	tolerance := me.config.GetAmountTolerance(br.Amount)
	consider := func(lr *models.Record) {
		diff := me.config.compareAmount(br.Amount).Sub(me.config.compareAmount(lr.Amount)).Abs()
		gap := models.AbsDays(br.Date, lr.Date)

		var rc models.RootCause
		switch {
		case diff.IsZero() && gap == 0:
			rc = models.RootCauseMatched
		case diff.IsZero() && gap <= me.config.DateWindowDays:
			rc = models.RootCauseDateMismatch
		case gap == 0 && diff.LessThanOrEqual(tolerance):
			rc = models.RootCauseAmountMismatch
		default:
			return
		}

		if best == nil || isBetterCandidate(diff, gap, lr, bestDiff, bestGap, best) {
			best, bestRC, bestDiff, bestGap = lr, rc, diff, gap
		}
	}

	for _, lr := range idx.GetByAmount(br) {
		consider(lr)
	}
	for _, lr := range idx.GetByDate(br) {
		consider(lr)
	}
	return best, bestRC
}

func isBetterCandidate(diff decimal.Decimal, gap int, r *models.Record, bestDiff decimal.Decimal, bestGap int, best *models.Record) bool {
	if c := diff.Cmp(bestDiff); c != 0 {
		return c < 0
	}
	if gap != bestGap {
		return gap < bestGap
	}
	if r.ID != best.ID {
		return r.ID < best.ID
	}
	return models.CompareRecords(r, best) < 0
}

func (me *MatchingEngine) pairOutcome(br, lr *models.Record, rc models.RootCause) *models.MatchOutcome {
	return &models.MatchOutcome{
		MatchCandidate:        models.MatchCandidate{Bank: br, Ledger: lr},
		RootCause:             rc,
		AmountDifference:      me.config.compareAmount(br.Amount).Sub(me.config.compareAmount(lr.Amount)),
		DateGapDays:           models.AbsDays(br.Date, lr.Date),
		DescriptionSimilarity: DescriptionSimilarity(br.NormalizedDescription, lr.NormalizedDescription),
	}
}

// leftover builds a single-sided outcome. Records without any meaningful
// key are UNMAPPED instead of missing.
func leftover(r *models.Record, rc models.RootCause) *models.MatchOutcome {
	if rc != models.RootCauseDuplicate && !r.HasMeaningfulKey() {
		rc = models.RootCauseUnmapped
	}
	out := &models.MatchOutcome{RootCause: rc}
	if r.Side == models.SideBank {
		out.Bank = r
	} else {
		out.Ledger = r
	}
	return out
}

func (me *MatchingEngine) add(result *MatchResult, outcome *models.MatchOutcome) {
	result.Outcomes = append(result.Outcomes, outcome)
	result.Summary.CountsByRootCause[outcome.RootCause]++
}

func residual(records []*models.Record, consumed map[*models.Record]bool) []*models.Record {
	out := make([]*models.Record, 0, len(records))
	for _, r := range records {
		if !consumed[r] {
			out = append(out, r)
		}
	}
	return out
}

func compareOutcomes(a, b *models.MatchOutcome) int {
	if c := models.CompareRecords(a.Primary(), b.Primary()); c != 0 {
		return c
	}
	return strings.Compare(string(a.Primary().Side), string(b.Primary().Side))
}

func countRecords(outcomes []*models.MatchOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Bank != nil {
			n++
		}
		if o.Ledger != nil {
			n++
		}
	}
	return n
}

func checkSide(records []*models.Record, side models.Side) error {
	for i, r := range records {
		if r == nil {
			return errors.ReconciliationError(errors.CodeMatchingFailed, "input check",
				fmt.Errorf("%s record %d is nil", side, i))
		}
		if r.Side != side {
			return errors.ReconciliationError(errors.CodeMatchingFailed, "input check",
				fmt.Errorf("record %s has side %q, expected %q", r.ID, r.Side, side))
		}
	}
	return nil
}
