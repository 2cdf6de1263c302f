package anomaly

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/pkg/errors"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func record(side models.Side, id string, offset int, amount decimal.Decimal) *models.Record {
	return models.NewRecord(side, id, day0.AddDate(0, 0, offset), amount, "payment "+id, "")
}

func pairedRow(i int, amount, ledgerAmount decimal.Decimal, gap int, rc models.RootCause) *models.ReconciliationRow {
	b := record(models.SideBank, fmt.Sprintf("B%d", i), i%20, amount)
	l := record(models.SideLedger, fmt.Sprintf("L%d", i), i%20+gap, ledgerAmount)
	return &models.ReconciliationRow{
		MatchOutcome: models.MatchOutcome{
			MatchCandidate:   models.MatchCandidate{Bank: b, Ledger: l},
			RootCause:        rc,
			AmountDifference: amount.Sub(ledgerAmount),
			DateGapDays:      gap,
		},
		Category: models.CategoryShopping,
	}
}

func normalRows(n int) []*models.ReconciliationRow {
	rows := make([]*models.ReconciliationRow, 0, n)
	for i := 0; i < n; i++ {
		amount := decimal.NewFromInt(int64(100 + i%37))
		rows = append(rows, pairedRow(i, amount, amount, 0, models.RootCauseMatched))
	}
	return rows
}

func TestScoreBoundsAndFlaggedCount(t *testing.T) {
	scorer, err := NewScorer(nil)
	require.NoError(t, err)

	rows := normalRows(199)
	outlier := pairedRow(999, decimal.NewFromInt(1_000_000), decimal.NewFromInt(995_000), 0, models.RootCauseAmountMismatch)
	rows = append(rows, outlier)

	result := scorer.Score(context.Background(), rows)
	require.True(t, result.Available)
	require.Len(t, result.Scores, len(rows))

	for i, s := range result.Scores {
		assert.GreaterOrEqual(t, s, 0.0, "row %d", i)
		assert.LessOrEqual(t, s, 1.0, "row %d", i)
	}
	assert.Equal(t, 10, result.FlaggedCount())
	assert.True(t, result.Flags[len(rows)-1], "extreme row should be flagged")

	for i, flagged := range result.Flags {
		if flagged {
			assert.GreaterOrEqual(t, result.Scores[i], result.Threshold)
		}
	}
}

func TestScoreIsReproducible(t *testing.T) {
	scorer, err := NewScorer(nil)
	require.NoError(t, err)

	rows := normalRows(120)
	rows = append(rows, pairedRow(500, decimal.NewFromInt(9000), decimal.NewFromInt(9000), 6, models.RootCauseDateMismatch))

	first := scorer.Score(context.Background(), rows)
	second := scorer.Score(context.Background(), rows)
	assert.Equal(t, first.Scores, second.Scores)
	assert.Equal(t, first.Flags, second.Flags)
}

func TestScoreEqualRowsFlagNothing(t *testing.T) {
	scorer, err := NewScorer(nil)
	require.NoError(t, err)

	rows := make([]*models.ReconciliationRow, 40)
	for i := range rows {
		rows[i] = pairedRow(0, decimal.NewFromInt(10), decimal.NewFromInt(10), 0, models.RootCauseMatched)
	}

	result := scorer.Score(context.Background(), rows)
	assert.True(t, result.Available)
	assert.Zero(t, result.FlaggedCount())
}

func TestScoreEmpty(t *testing.T) {
	scorer, err := NewScorer(nil)
	require.NoError(t, err)

	result := scorer.Score(context.Background(), nil)
	assert.True(t, result.Available)
	assert.Empty(t, result.Scores)
}

func TestScoreVectorsRejectsNonFinite(t *testing.T) {
	scorer, err := NewScorer(nil)
	require.NoError(t, err)

	vectors := []Vector{{1, 0, 0, 0}, {math.NaN(), 0, 0, 0}}
	scores, rerr := scorer.scoreVectors(context.Background(), vectors)
	require.NotNil(t, rerr)
	assert.Nil(t, scores)
	assert.Equal(t, errors.CategoryModel, rerr.Category)
	assert.Equal(t, errors.CodeNonFiniteInput, rerr.Code)
}

func TestScoreCancelledDegrades(t *testing.T) {
	scorer, err := NewScorer(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rows := normalRows(10)
	result := scorer.Score(ctx, rows)
	assert.False(t, result.Available)
	require.NotNil(t, result.Err)
	assert.Equal(t, make([]float64, len(rows)), result.Scores)
	assert.Zero(t, result.FlaggedCount())
}

func TestScoreHugeAmountKeepsScoring(t *testing.T) {
	scorer, err := NewScorer(nil)
	require.NoError(t, err)

	huge := decimal.RequireFromString("1e400")
	rows := append(normalRows(60), pairedRow(500, huge, decimal.NewFromInt(10), 0, models.RootCauseAmountMismatch))

	result := scorer.Score(context.Background(), rows)
	require.True(t, result.Available, "%v", result.Err)
	last := len(rows) - 1
	assert.Equal(t, MaxAmountFeature, result.Features[last][FeatureAmount])
	assert.Equal(t, MaxAmountFeature, result.Features[last][FeatureAmountDifference])
	for i, s := range result.Scores {
		assert.False(t, math.IsNaN(s) || math.IsInf(s, 0), "row %d", i)
	}
	assert.True(t, result.Flags[last])
	assert.Greater(t, result.Scores[last], result.Scores[0])
}

func TestUnavailable(t *testing.T) {
	rerr := errors.ModelError(errors.CodeModelScore, "anomaly scorer", fmt.Errorf("boom"))
	result := Unavailable(make([]Vector, 3), rerr)
	assert.False(t, result.Available)
	assert.Equal(t, []float64{0, 0, 0}, result.Scores)
	assert.Equal(t, []bool{false, false, false}, result.Flags)
	assert.Same(t, rerr, result.Err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	tests := map[string]func(c *Config){
		"contamination too high": func(c *Config) { c.Contamination = 0.6 },
		"no trees":               func(c *Config) { c.Trees = 0 },
		"sample of one":          func(c *Config) { c.SampleSize = 1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(c)
			_, err := NewScorer(c)
			assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration), "got %v", err)
		})
	}
}

func TestExtractFeatures(t *testing.T) {
	paired := pairedRow(1, decimal.NewFromInt(250), decimal.NewFromInt(240), 45, models.RootCauseAmountMismatch)

	bankOnly := &models.ReconciliationRow{
		MatchOutcome: models.MatchOutcome{
			MatchCandidate: models.MatchCandidate{Bank: record(models.SideBank, "B9", 10, decimal.NewFromInt(-75))},
			RootCause:      models.RootCauseMissingInLedger,
		},
		Category: models.CategoryFuel,
	}
	ledgerOnly := &models.ReconciliationRow{
		MatchOutcome: models.MatchOutcome{
			MatchCandidate: models.MatchCandidate{Ledger: record(models.SideLedger, "L9", 14, decimal.NewFromInt(-75))},
			RootCause:      models.RootCauseMissingInBank,
		},
		Category: models.CategoryFuel,
	}
	lonely := &models.ReconciliationRow{
		MatchOutcome: models.MatchOutcome{
			MatchCandidate: models.MatchCandidate{Bank: record(models.SideBank, "B10", 3, decimal.NewFromInt(12))},
			RootCause:      models.RootCauseMissingInLedger,
		},
		Category: models.CategoryFood,
	}

	vectors := ExtractFeatures([]*models.ReconciliationRow{paired, bankOnly, ledgerOnly, lonely}, 30)

	assert.Equal(t, 250.0, vectors[0][FeatureAmount])
	assert.Equal(t, 10.0, vectors[0][FeatureAmountDifference])
	assert.Equal(t, 30.0, vectors[0][FeatureDateGap], "paired gap is capped")

	assert.Equal(t, 75.0, vectors[1][FeatureAmount])
	assert.Equal(t, 4.0, vectors[1][FeatureDateGap], "nearest same-amount ledger record")
	assert.Equal(t, 4.0, vectors[2][FeatureDateGap])
	assert.Equal(t, 30.0, vectors[3][FeatureDateGap], "no counterpart gets the cap")

	assert.Zero(t, vectors[1][FeaturePeerDeviation], "equal amounts have no spread")
	assert.Zero(t, vectors[3][FeaturePeerDeviation], "single member group")
}

func TestReason(t *testing.T) {
	amountRow := pairedRow(1, decimal.NewFromInt(100), decimal.NewFromInt(90), 0, models.RootCauseAmountMismatch)
	dateRow := pairedRow(2, decimal.NewFromInt(100), decimal.NewFromInt(100), 2, models.RootCauseDateMismatch)
	matchedRow := pairedRow(3, decimal.NewFromInt(100), decimal.NewFromInt(100), 0, models.RootCauseMatched)
	missing := &models.ReconciliationRow{MatchOutcome: models.MatchOutcome{RootCause: models.RootCauseMissingInBank}}

	tests := []struct {
		name    string
		row     *models.ReconciliationRow
		v       Vector
		flagged bool
		want    string
	}{
		{"missing always explained", missing, Vector{}, false, ReasonMissingInBank},
		{"not flagged", matchedRow, Vector{}, false, ReasonOK},
		{"amount", amountRow, Vector{100, 0, 0, 10}, true, ReasonAmountDiff},
		{"date", dateRow, Vector{100, 0, 2, 0}, true, ReasonDateGap},
		{"multivariate", matchedRow, Vector{100, 3, 0, 0}, true, ReasonMultivariate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Reason(tt.row, tt.v, tt.flagged))
		})
	}
}

func TestAveragePathLength(t *testing.T) {
	assert.Zero(t, averagePathLength(1))
	assert.Equal(t, 1.0, averagePathLength(2))
	assert.InDelta(t, 10.24, averagePathLength(256), 0.01)
}
