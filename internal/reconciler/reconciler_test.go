package reconciler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-reconciliation-service/internal/anomaly"
	"smart-reconciliation-service/internal/categorizer"
	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/pkg/errors"
)

const bankCSV = `id,date,amount,description
B1,2024-03-01,100.00,UBER TRIP 4521
B2,2024-03-05,250.00,SWIGGY ORDER 8812
B3,2024-03-10,500.00,NETFLIX SUBSCRIPTION
B4,2024-03-12,75.00,HPCL PETROL PUMP
B6,not-a-date,10.00,broken row
`

const ledgerCSV = `id,date,amount,description
L1,2024-03-01,100.00,UBER TRIP 4521
L2,2024-03-07,250.00,SWIGGY ORDER 8812
L3,2024-03-10,500.50,NETFLIX SUBSCRIPTION
L5,2024-03-15,999.00,SALARY CREDIT HRMS
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newService(t *testing.T, opts ...Option) *ReconciliationService {
	t.Helper()
	rs, err := NewReconciliationService(nil, opts...)
	require.NoError(t, err)
	return rs
}

func request(t *testing.T, bank, ledger string) *Request {
	t.Helper()
	dir := t.TempDir()
	return &Request{
		BankFile:   writeFile(t, dir, "bank.csv", bank),
		LedgerFile: writeFile(t, dir, "ledger.csv", ledger),
	}
}

type rowView struct {
	RootCause models.RootCause
	Bank      string
	Ledger    string
}

func view(rows []*models.ReconciliationRow) []rowView {
	out := make([]rowView, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowView{r.RootCause, r.BankID(), r.LedgerID()})
	}
	return out
}

func TestProcessFiles(t *testing.T) {
	rs := newService(t)
	result, err := rs.ProcessFiles(context.Background(), request(t, bankCSV, ledgerCSV))
	require.NoError(t, err)

	assert.Equal(t, []rowView{
		{models.RootCauseMatched, "B1", "L1"},
		{models.RootCauseDateMismatch, "B2", "L2"},
		{models.RootCauseAmountMismatch, "B3", "L3"},
		{models.RootCauseMissingInLedger, "B4", ""},
		{models.RootCauseMissingInBank, "", "L5"},
	}, view(result.Rows))

	amount := result.Rows[2]
	assert.True(t, amount.AmountDifference.Equal(decimal.RequireFromString("-0.50")))
	assert.Equal(t, 2, result.Rows[1].DateGapDays)

	s := result.Summary
	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, 4, s.TotalBank)
	assert.Equal(t, 4, s.TotalLedger)
	assert.Equal(t, 5, s.TotalRows)
	assert.Equal(t, 1, s.MatchedCount)
	assert.Equal(t, 4, s.MismatchCount())
	assert.Equal(t, 1, s.MismatchCountsByRootCause[models.RootCauseMissingInBank])
	assert.Equal(t, 0, s.MismatchCountsByRootCause[models.RootCauseDuplicate])
	assert.InDelta(t, 0.2, s.MatchRate, 1e-9)

	total := 0
	for _, n := range s.CategoryDistribution {
		total += n
	}
	assert.Equal(t, s.TotalRows, total)
	assert.Len(t, s.CategoryDistribution, len(models.AllCategories()))
	assert.Equal(t, models.CategoryTravel, result.Rows[0].Category)

	d := s.Diagnostics
	assert.Equal(t, 1, d.UnparsedBank)
	assert.Equal(t, 0, d.UnparsedLedger)
	assert.Len(t, d.ParseErrors, 1)
	assert.True(t, d.ScoringAvailable)
	assert.Empty(t, d.ScoringError)
	assert.Equal(t, "model+rules", d.CategorizerMode)

	for _, row := range result.Rows {
		require.NotNil(t, row.AnomalyScore)
		assert.GreaterOrEqual(t, *row.AnomalyScore, 0.0)
		assert.LessOrEqual(t, *row.AnomalyScore, 1.0)
		assert.NotEmpty(t, row.Recommendation)
		assert.NotEmpty(t, row.AnomalyReason)
	}
	assert.Equal(t, "Reconciled successfully. No action required.", result.Rows[0].Recommendation)

	require.Len(t, result.Recommendations, 4)
	assert.Len(t, result.TopAnomalies, 5)
	assert.NotEmpty(t, result.ProcessingStats.StageTimings)
	assert.Equal(t, 4, result.ProcessingStats.BankParse.RecordsValid)
}

func TestProcessFilesDateRange(t *testing.T) {
	rs := newService(t)
	req := request(t, bankCSV, ledgerCSV)
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	req.StartDate, req.EndDate = &start, &end

	result, err := rs.ProcessFiles(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, result.ProcessingStats.RecordsFiltered)
	assert.Equal(t, 3, result.Summary.TotalRows)
	assert.Equal(t, 3, result.Summary.TotalBank)
	assert.Equal(t, 3, result.Summary.TotalLedger)
}

func TestProcessFilesAborts(t *testing.T) {
	rs := newService(t)

	_, err := rs.ProcessFiles(context.Background(), request(t, bankCSV, "id,date,description\nL1,2024-03-01,x\n"))
	assert.True(t, errors.IsCategory(err, errors.CategorySchema), "missing amount column: %v", err)

	req := request(t, bankCSV, ledgerCSV)
	req.LedgerFile = filepath.Join(t.TempDir(), "missing.csv")
	_, err = rs.ProcessFiles(context.Background(), req)
	assert.True(t, errors.IsCategory(err, errors.CategoryFile), "missing file: %v", err)

	_, err = rs.ProcessFiles(context.Background(), &Request{BankFile: "a.csv"})
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	start := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	_, err = rs.ProcessFiles(context.Background(), &Request{BankFile: "a", LedgerFile: "b", StartDate: &start, EndDate: &end})
	assert.Error(t, err)
}

func TestProgressCallback(t *testing.T) {
	var seen []Progress
	rs := newService(t, WithProgressCallback(func(p Progress) { seen = append(seen, p) }))

	_, err := rs.ProcessFiles(context.Background(), request(t, bankCSV, ledgerCSV))
	require.NoError(t, err)

	require.Len(t, seen, len(allStages))
	for i, p := range seen {
		assert.Equal(t, allStages[i], p.CurrentStep)
		assert.Equal(t, i+1, p.CompletedSteps)
	}
	last := seen[len(seen)-1]
	assert.InDelta(t, 100.0, last.PercentComplete, 1e-9)
	assert.Zero(t, last.EstimatedRemaining)
	assert.Equal(t, last, rs.GetProgress())
}

func record(side models.Side, id, date, amount, desc string) *models.Record {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		panic(err)
	}
	return models.NewRecord(side, id, d, decimal.RequireFromString(amount), desc, "")
}

func TestReconcileRecords(t *testing.T) {
	rs := newService(t)
	bank := []*models.Record{
		record(models.SideBank, "B1", "2024-01-01", "10", "Zomato 1"),
		record(models.SideBank, "B2", "2024-01-02", "20", "Zomato 2"),
	}
	ledger := []*models.Record{
		record(models.SideLedger, "L1", "2024-01-01", "10", "Zomato 1"),
		record(models.SideLedger, "L2a", "2024-01-02", "20", "Zomato order"),
		record(models.SideLedger, "L2b", "2024-01-02", "20", "Zomato order"),
	}

	result, err := rs.Reconcile(context.Background(), bank, ledger)
	require.NoError(t, err)
	assert.ElementsMatch(t, []rowView{
		{models.RootCauseMatched, "B1", "L1"},
		{models.RootCauseMatched, "B2", "L2a"},
		{models.RootCauseDuplicate, "", "L2b"},
	}, view(result.Rows))
	assert.Equal(t, 1, result.Summary.MismatchCountsByRootCause[models.RootCauseDuplicate])
	assert.Len(t, result.Duplicates, 1)
	assert.Equal(t, 3, result.Summary.CategoryDistribution[models.CategoryFood])
	assert.Equal(t, 0, result.Summary.Diagnostics.UnparsedBank)

	empty, err := rs.Reconcile(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Rows)
	assert.Zero(t, empty.Summary.MatchRate)
	assert.Empty(t, empty.Recommendations)
}

func TestWithCategorizer(t *testing.T) {
	rules := categorizer.Rules{{Category: models.CategoryShopping, Keywords: []string{"zomato"}}}
	rs := newService(t, WithCategorizer(categorizer.NewWithModel(nil, rules, 0.6)))

	bank := []*models.Record{record(models.SideBank, "B1", "2024-01-01", "10", "Zomato 1")}
	ledger := []*models.Record{record(models.SideLedger, "L1", "2024-01-01", "10", "Zomato 1")}
	result, err := rs.Reconcile(context.Background(), bank, ledger)
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, models.CategoryShopping, result.Rows[0].Category)
	assert.Equal(t, "rules-only", result.Summary.Diagnostics.CategorizerMode)
}

type unavailableScorer struct{}

func (unavailableScorer) Score(_ context.Context, rows []*models.ReconciliationRow) *anomaly.Result {
	return anomaly.Unavailable(anomaly.ExtractFeatures(rows, 30),
		errors.ModelError(errors.CodeModelScore, "anomaly scorer", fmt.Errorf("forest failed")))
}

func TestReconcileScoringUnavailable(t *testing.T) {
	rs := newService(t, WithScorer(unavailableScorer{}))
	bank := []*models.Record{
		record(models.SideBank, "B1", "2024-01-01", "10", "Zomato 1"),
		record(models.SideBank, "B2", "2024-01-05", "99", "Uber trip"),
	}
	ledger := []*models.Record{record(models.SideLedger, "L1", "2024-01-01", "10", "Zomato 1")}

	result, err := rs.Reconcile(context.Background(), bank, ledger)
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	for _, row := range result.Rows {
		require.NotNil(t, row.AnomalyScore, "row %s", row.BankID())
		assert.Zero(t, *row.AnomalyScore)
		assert.False(t, row.AnomalyFlag)
	}
	d := result.Summary.Diagnostics
	assert.False(t, d.ScoringAvailable)
	assert.Contains(t, d.ScoringError, "forest failed")
	assert.Zero(t, result.Summary.AnomalyCount)
	assert.Empty(t, result.TopAnomalies)

	var scoreErr string
	for _, timing := range result.ProcessingStats.StageTimings {
		if timing.Stage == StageScore {
			scoreErr = timing.Err
		}
	}
	assert.Contains(t, scoreErr, "forest failed", "score stage should record the failure")
}

func TestReconcileCancelled(t *testing.T) {
	rs := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	bank := []*models.Record{record(models.SideBank, "B1", "2024-01-01", "10", "x")}
	_, err := rs.Reconcile(ctx, bank, nil)
	assert.True(t, errors.IsCategory(err, errors.CategoryInternal), "%v", err)
}

func TestNewReconciliationServiceInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.Matching.AmountTolerance = decimal.NewFromInt(-1)
	_, err := NewReconciliationService(config)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))

	config = DefaultConfig()
	config.Anomaly = nil
	_, err = NewReconciliationService(config)
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestDateWindow(t *testing.T) {
	start := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	records := []*models.Record{
		record(models.SideBank, "a", "2024-03-01", "1", "x"),
		record(models.SideBank, "b", "2024-03-02", "1", "x"),
		record(models.SideBank, "c", "2024-03-03", "1", "x"),
		record(models.SideBank, "d", "2024-03-04", "1", "x"),
	}

	kept, dropped := DateWindow{Start: &start, End: &end}.Filter(records)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, []*models.Record{records[1], records[2]}, kept)

	kept, dropped = DateWindow{Start: &start}.Filter(records)
	assert.Equal(t, 1, dropped)
	assert.Len(t, kept, 3)

	kept, dropped = DateWindow{}.Filter(records)
	assert.Zero(t, dropped)
	assert.Len(t, kept, 4)

	assert.Equal(t, "2024-03-02..*", DateWindow{Start: &start}.String())
}
