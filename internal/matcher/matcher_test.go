package matcher

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/pkg/errors"
)

func bankRec(id, day, amount, desc string) *models.Record {
	return newRec(models.SideBank, id, day, amount, desc)
}

func ledgerRec(id, day, amount, desc string) *models.Record {
	return newRec(models.SideLedger, id, day, amount, desc)
}

func newRec(side models.Side, id, day, amount, desc string) *models.Record {
	d, err := time.Parse(models.DateLayout, day)
	if err != nil {
		panic(err)
	}
	return models.NewRecord(side, id, d, decimal.RequireFromString(amount), desc, "")
}

func mustMatch(t *testing.T, config *MatchingConfig, bank, ledger []*models.Record) *MatchResult {
	t.Helper()
	engine, err := NewMatchingEngine(config)
	if err != nil {
		t.Fatalf("NewMatchingEngine() error = %v", err)
	}
	result, err := engine.Match(context.Background(), bank, ledger)
	if err != nil {
		t.Fatalf("Match() error = %v", err)
	}
	return result
}

// signature renders an outcome as "ROOT_CAUSE bank/ledger".
func signature(o *models.MatchOutcome) string {
	return fmt.Sprintf("%s %s/%s", o.RootCause, o.BankID(), o.LedgerID())
}

func signatures(result *MatchResult) []string {
	out := make([]string, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		out = append(out, signature(o))
	}
	return out
}

func TestNewMatchingEngine(t *testing.T) {
	engine, err := NewMatchingEngine(nil)
	if err != nil {
		t.Fatalf("NewMatchingEngine(nil) error = %v", err)
	}
	if got := engine.GetConfiguration().DateWindowDays; got != 3 {
		t.Errorf("default DateWindowDays = %d, want 3", got)
	}

	invalid := DefaultMatchingConfig()
	invalid.DateWindowDays = -1
	if _, err := NewMatchingEngine(invalid); !errors.IsCategory(err, errors.CategoryConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}

	negative := DefaultMatchingConfig()
	negative.AmountTolerance = decimal.NewFromInt(-1)
	if _, err := NewMatchingEngine(negative); err == nil {
		t.Error("expected error for negative tolerance")
	}
}

func TestMatchScenarios(t *testing.T) {
	tests := []struct {
		name   string
		bank   []*models.Record
		ledger []*models.Record
		want   []string
	}{
		{
			name:   "exact match",
			bank:   []*models.Record{bankRec("B1", "2024-01-01", "100.00", "Coffee")},
			ledger: []*models.Record{ledgerRec("L1", "2024-01-01", "100.00", "Coffee")},
			want:   []string{"MATCHED B1/L1"},
		},
		{
			name:   "date shift inside window",
			bank:   []*models.Record{bankRec("B2", "2024-01-05", "50.00", "Rent")},
			ledger: []*models.Record{ledgerRec("L2", "2024-01-07", "50.00", "Rent")},
			want:   []string{"DATE_MISMATCH B2/L2"},
		},
		{
			name: "missing counterpart",
			bank: []*models.Record{bankRec("B3", "2024-02-01", "75.00", "Fuel")},
			want: []string{"MISSING_IN_LEDGER B3/"},
		},
		{
			name: "duplicate ledger posting",
			bank: []*models.Record{bankRec("B4", "2024-03-01", "20.00", "Tea")},
			ledger: []*models.Record{
				ledgerRec("L4b", "2024-03-01", "20.00", "Tea"),
				ledgerRec("L4a", "2024-03-01", "20.00", "Tea"),
			},
			want: []string{"MATCHED B4/L4a", "DUPLICATE /L4b"},
		},
		{
			name:   "amount difference inside tolerance",
			bank:   []*models.Record{bankRec("B5", "2024-01-10", "100.50", "Invoice 7")},
			ledger: []*models.Record{ledgerRec("L5", "2024-01-10", "100.00", "Invoice 7")},
			want:   []string{"AMOUNT_MISMATCH B5/L5"},
		},
		{
			name:   "amount difference beyond tolerance",
			bank:   []*models.Record{bankRec("B6", "2024-01-10", "110.00", "Invoice 8")},
			ledger: []*models.Record{ledgerRec("L6", "2024-01-10", "100.00", "Invoice 8")},
			want:   []string{"MISSING_IN_BANK /L6", "MISSING_IN_LEDGER B6/"},
		},
		{
			name:   "date shift beyond window",
			bank:   []*models.Record{bankRec("B7", "2024-01-01", "60.00", "Gym")},
			ledger: []*models.Record{ledgerRec("L7", "2024-01-10", "60.00", "Gym")},
			want:   []string{"MISSING_IN_LEDGER B7/", "MISSING_IN_BANK /L7"},
		},
		{
			name:   "same amount and date with different text",
			bank:   []*models.Record{bankRec("B8", "2024-01-03", "42.00", "POS 1234 CAFE")},
			ledger: []*models.Record{ledgerRec("L8", "2024-01-03", "42.00", "Cafe expenses")},
			want:   []string{"MATCHED B8/L8"},
		},
		{
			name:   "garbage keys",
			bank:   []*models.Record{bankRec("B9", "2024-01-04", "999.00", "nan")},
			ledger: []*models.Record{newRec(models.SideLedger, "L9", "2024-02-04", "12.00", "N/A")},
			want:   []string{"UNMAPPED B9/", "UNMAPPED /L9"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mustMatch(t, nil, tt.bank, tt.ledger)
			if got := signatures(result); !slices.Equal(got, tt.want) {
				t.Errorf("outcomes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchPairedFields(t *testing.T) {
	result := mustMatch(t, nil,
		[]*models.Record{bankRec("B1", "2024-01-10", "100.50", "Invoice 7")},
		[]*models.Record{ledgerRec("L1", "2024-01-10", "100.00", "Invoice 7")},
	)
	o := result.Outcomes[0]
	if !o.AmountDifference.Equal(decimal.RequireFromString("0.50")) {
		t.Errorf("AmountDifference = %s, want 0.50", o.AmountDifference)
	}
	if o.DescriptionSimilarity != 1 {
		t.Errorf("DescriptionSimilarity = %v, want 1", o.DescriptionSimilarity)
	}

	result = mustMatch(t, nil,
		[]*models.Record{bankRec("B2", "2024-01-05", "50.00", "Rent")},
		[]*models.Record{ledgerRec("L2", "2024-01-07", "50.00", "Rent")},
	)
	if got := result.Outcomes[0].DateGapDays; got != 2 {
		t.Errorf("DateGapDays = %d, want 2", got)
	}
}


func TestMatchTieBreak(t *testing.T) {
	tests := []struct {
		name   string
		bank   []*models.Record
		ledger []*models.Record
		want   []string
	}{
		{
			name: "smallest date gap then lowest id",
			bank: []*models.Record{bankRec("B1", "2024-04-10", "50.00", "Rent April")},
			ledger: []*models.Record{
				ledgerRec("LA", "2024-04-12", "50.00", "Rent"),
				ledgerRec("LC", "2024-04-11", "50.00", "Rent"),
				ledgerRec("LB", "2024-04-09", "50.00", "Rent"),
			},
			want: []string{"DATE_MISMATCH B1/LB", "MISSING_IN_BANK /LC", "MISSING_IN_BANK /LA"},
		},
		{
			name: "smallest amount difference first",
			bank: []*models.Record{bankRec("B1", "2024-05-01", "200.00", "Transfer")},
			ledger: []*models.Record{
				ledgerRec("LX", "2024-05-01", "200.80", "Transfer out"),
				ledgerRec("LY", "2024-05-03", "200.00", "Transfer out"),
			},
			want: []string{"DATE_MISMATCH B1/LY", "MISSING_IN_BANK /LX"},
		},
		{
			name: "lowest id among equal candidates",
			bank: []*models.Record{bankRec("B1", "2024-06-01", "10.00", "Snacks")},
			ledger: []*models.Record{
				ledgerRec("L2", "2024-06-01", "10.40", "Snacks b"),
				ledgerRec("L1", "2024-06-01", "9.60", "Snacks a"),
			},
			want: []string{"AMOUNT_MISMATCH B1/L1", "MISSING_IN_BANK /L2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mustMatch(t, nil, tt.bank, tt.ledger)
			if got := signatures(result); !slices.Equal(got, tt.want) {
				t.Errorf("outcomes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchConfigVariants(t *testing.T) {
	dupBank := []*models.Record{bankRec("B4", "2024-03-01", "20.00", "Tea")}
	dupLedger := []*models.Record{
		ledgerRec("L4a", "2024-03-01", "20.00", "Tea"),
		ledgerRec("L4b", "2024-03-01", "20.00", "Tea"),
	}

	noDuplicates := DefaultMatchingConfig()
	noDuplicates.DetectDuplicates = false

	absolute := DefaultMatchingConfig()
	absolute.CompareAbsoluteAmounts = true

	percent := DefaultMatchingConfig()
	percent.AmountTolerancePercent = 1.0

	tests := []struct {
		name   string
		config *MatchingConfig
		bank   []*models.Record
		ledger []*models.Record
		want   []string
	}{
		{
			name:   "duplicate pass disabled",
			config: noDuplicates,
			bank:   dupBank,
			ledger: dupLedger,
			want:   []string{"MATCHED B4/L4a", "MISSING_IN_BANK /L4b"},
		},
		{
			name:   "signed amounts differ",
			config: DefaultMatchingConfig(),
			bank:   []*models.Record{bankRec("B1", "2024-01-02", "-50.00", "ATM")},
			ledger: []*models.Record{ledgerRec("L1", "2024-01-02", "50.00", "ATM")},
			want:   []string{"MISSING_IN_LEDGER B1/", "MISSING_IN_BANK /L1"},
		},
		{
			name:   "absolute amounts",
			config: absolute,
			bank:   []*models.Record{bankRec("B1", "2024-01-02", "-50.00", "ATM")},
			ledger: []*models.Record{ledgerRec("L1", "2024-01-02", "50.00", "ATM")},
			want:   []string{"MATCHED B1/L1"},
		},
		{
			name:   "percentage tolerance",
			config: percent,
			bank:   []*models.Record{bankRec("B1", "2024-01-02", "1000.00", "Invoice")},
			ledger: []*models.Record{ledgerRec("L1", "2024-01-02", "1008.00", "Invoice")},
			want:   []string{"AMOUNT_MISMATCH B1/L1"},
		},
		{
			name:   "strict config",
			config: StrictMatchingConfig(),
			bank:   []*models.Record{bankRec("B2", "2024-01-05", "50.00", "Rent")},
			ledger: []*models.Record{ledgerRec("L2", "2024-01-07", "50.00", "Rent")},
			want:   []string{"MISSING_IN_LEDGER B2/", "MISSING_IN_BANK /L2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := mustMatch(t, tt.config, tt.bank, tt.ledger)
			if got := signatures(result); !slices.Equal(got, tt.want) {
				t.Errorf("outcomes = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchAbsoluteAmountKeys(t *testing.T) {
	config := DefaultMatchingConfig()
	config.CompareAbsoluteAmounts = true

	bank := []*models.Record{bankRec("B1", "2024-01-02", "50.00", "ATM")}
	ledger := []*models.Record{
		ledgerRec("L1", "2024-01-02", "50.00", "ATM"),
		ledgerRec("L2", "2024-01-02", "-50.00", "ATM"),
	}

	result := mustMatch(t, config, bank, ledger)
	got := slices.Sorted(slices.Values(signatures(result)))
	want := []string{"DUPLICATE /L1", "MATCHED B1/L2"}
	if !slices.Equal(got, want) {
		t.Errorf("outcomes = %v, want %v", got, want)
	}
	if len(result.Duplicates) != 1 || result.Duplicates[0].Key != ledger[1].AmountDateKey(true) {
		t.Errorf("expected one group keyed by the absolute amount, got %+v", result.Duplicates)
	}
}

// randomDataset builds a bank/ledger pair with every kind of discrepancy.
func randomDataset(seed int64, n int) ([]*models.Record, []*models.Record) {
	r := rand.New(rand.NewSource(seed))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	descriptions := []string{"Swiggy order", "Uber trip", "Electricity bill", "Salary credit", "Amazon", "nan"}

	var bank, ledger []*models.Record
	for i := 0; i < n; i++ {
		date := start.AddDate(0, 0, r.Intn(30))
		amount := decimal.New(int64(r.Intn(500)+1)*100, -2)
		desc := descriptions[r.Intn(len(descriptions))]
		bank = append(bank, models.NewRecord(models.SideBank, fmt.Sprintf("B%03d", i), date, amount, desc, ""))

		switch r.Intn(10) {
		case 0:
			continue
		case 1:
			amount = amount.Add(decimal.New(int64(r.Intn(150)), -2))
		case 2:
			date = date.AddDate(0, 0, r.Intn(7)-3)
		case 3:
			ledger = append(ledger, models.NewRecord(models.SideLedger, fmt.Sprintf("LD%03d", i), date, amount, desc, ""))
		}
		ledger = append(ledger, models.NewRecord(models.SideLedger, fmt.Sprintf("L%03d", i), date, amount, desc, ""))
	}
	return bank, ledger
}

func TestMatchPartitionCompleteness(t *testing.T) {
	bank, ledger := randomDataset(7, 300)
	result := mustMatch(t, nil, bank, ledger)

	seen := make(map[*models.Record]int)
	for _, o := range result.Outcomes {
		if o.Bank == nil && o.Ledger == nil {
			t.Fatal("outcome with no records")
		}
		if !o.RootCause.IsValid() {
			t.Fatalf("invalid root cause %d", o.RootCause)
		}
		if o.IsPaired() != o.RootCause.IsPaired() {
			t.Errorf("%s: paired=%t for root cause %s", signature(o), o.IsPaired(), o.RootCause)
		}
		if o.Bank != nil {
			seen[o.Bank]++
		}
		if o.Ledger != nil {
			seen[o.Ledger]++
		}
	}

	for _, r := range append(slices.Clone(bank), ledger...) {
		if seen[r] != 1 {
			t.Errorf("record %s appears %d times", r, seen[r])
		}
	}
	if len(seen) != len(bank)+len(ledger) {
		t.Errorf("partition has %d records, want %d", len(seen), len(bank)+len(ledger))
	}

	total := 0
	for _, n := range result.Summary.CountsByRootCause {
		total += n
	}
	if total != len(result.Outcomes) {
		t.Errorf("root cause counts sum to %d, want %d", total, len(result.Outcomes))
	}
	if result.Summary.CountsByRootCause[models.RootCauseDuplicate] == 0 {
		t.Error("expected duplicates in the random dataset")
	}
}

func TestMatchDeterministicUnderReordering(t *testing.T) {
	bank, ledger := randomDataset(11, 250)
	want := signatures(mustMatch(t, nil, bank, ledger))

	r := rand.New(rand.NewSource(3))
	for i := 0; i < 5; i++ {
		b, l := slices.Clone(bank), slices.Clone(ledger)
		r.Shuffle(len(b), func(i, j int) { b[i], b[j] = b[j], b[i] })
		r.Shuffle(len(l), func(i, j int) { l[i], l[j] = l[j], l[i] })

		if got := signatures(mustMatch(t, nil, b, l)); !slices.Equal(got, want) {
			t.Fatalf("run %d differs after shuffling input", i)
		}
	}
}

func TestMatchDoesNotMutateInput(t *testing.T) {
	bank, ledger := randomDataset(5, 50)
	bankOrder, ledgerOrder := slices.Clone(bank), slices.Clone(ledger)
	snapshot := make(map[*models.Record]models.Record)
	for _, r := range append(slices.Clone(bank), ledger...) {
		snapshot[r] = *r
	}

	mustMatch(t, nil, bank, ledger)

	if !slices.Equal(bank, bankOrder) || !slices.Equal(ledger, ledgerOrder) {
		t.Error("input slices were reordered")
	}
	for r, before := range snapshot {
		if r.ID != before.ID || !r.Amount.Equal(before.Amount) || !r.Date.Equal(before.Date) || r.Description != before.Description {
			t.Errorf("record %s was modified", r.ID)
		}
	}
}

func TestMatchInvalidInput(t *testing.T) {
	engine, _ := NewMatchingEngine(nil)
	ctx := context.Background()

	if _, err := engine.Match(ctx, []*models.Record{nil}, nil); !errors.IsCategory(err, errors.CategoryReconciliation) {
		t.Errorf("nil record: expected reconciliation error, got %v", err)
	}

	wrongSide := ledgerRec("L1", "2024-01-01", "1.00", "x")
	if _, err := engine.Match(ctx, []*models.Record{wrongSide}, nil); err == nil {
		t.Error("expected error for ledger record on the bank side")
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	bank, ledger := randomDataset(1, 10)
	if _, err := engine.Match(cancelled, bank, ledger); !errors.IsCategory(err, errors.CategoryInternal) {
		t.Errorf("cancelled context: expected internal error, got %v", err)
	}

	result, err := engine.Match(ctx, nil, nil)
	if err != nil || len(result.Outcomes) != 0 {
		t.Errorf("empty input: got %v, %v", result, err)
	}
}

func TestDetectDuplicates(t *testing.T) {
	engine, _ := NewMatchingEngine(nil)
	records := sortedCopy([]*models.Record{
		ledgerRec("L3", "2024-03-01", "20.00", "Tea"),
		ledgerRec("L1", "2024-03-01", "20.00", "Tea"),
		ledgerRec("L2", "2024-03-01", "20.00", "Tea refill"),
		ledgerRec("L4", "2024-03-02", "20.00", "Tea"),
	})

	detection := engine.DetectDuplicates(records)
	if got := detection.DuplicateCount(); got != 2 {
		t.Fatalf("DuplicateCount() = %d, want 2", got)
	}
	if len(detection.Survivors) != 2 {
		t.Fatalf("survivors = %d, want 2", len(detection.Survivors))
	}
	group := detection.Groups[0]
	for _, dup := range group.Duplicates {
		if dup == group.Representative {
			t.Error("representative listed as duplicate")
		}
	}
	if models.CompareRecords(group.Representative, group.Duplicates[0]) >= 0 {
		t.Error("representative is not first in canonical order")
	}
}

func TestGetAmountTolerance(t *testing.T) {
	config := DefaultMatchingConfig()
	config.AmountTolerancePercent = 0.5

	tests := []struct {
		amount string
		want   string
	}{
		{"100.00", "1.00"},
		{"1000.00", "5.00"},
		{"-1000.00", "5.00"},
	}
	for _, tt := range tests {
		got := config.GetAmountTolerance(decimal.RequireFromString(tt.amount))
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("GetAmountTolerance(%s) = %s, want %s", tt.amount, got, tt.want)
		}
	}
}

func TestDescriptionSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 1},
		{"uber trip", "uber trip", 1},
		{"abc", "xyz", 0},
		{"abcd", "abce", 0.75},
	}
	for _, tt := range tests {
		if got := DescriptionSimilarity(tt.a, tt.b); got != tt.want {
			t.Errorf("DescriptionSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
