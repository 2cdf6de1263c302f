// Package generator produces seeded synthetic bank and ledger exports with a
// known mix of reconciliation problems, plus a labeled corpus for training
// the categorizer.
package generator

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/pkg/errors"
	"smart-reconciliation-service/pkg/logger"
)

// File names written by WriteFiles.
const (
	BankFile   = "bank_statement.csv"
	LedgerFile = "ledger_entries.csv"
	CorpusFile = "transactions.csv"
)

// Config controls the size, period and injected problem rates of a dataset.
// Rates are per bank row, except GhostRate which is relative to Rows.
type Config struct {
	Rows  int       `json:"rows" yaml:"rows"`
	Seed  int64     `json:"seed" yaml:"seed"`
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`

	MissingRate        float64 `json:"missing_rate" yaml:"missing_rate"`
	AmountMismatchRate float64 `json:"amount_mismatch_rate" yaml:"amount_mismatch_rate"`
	DateShiftRate      float64 `json:"date_shift_rate" yaml:"date_shift_rate"`
	DuplicateRate      float64 `json:"duplicate_rate" yaml:"duplicate_rate"`
	GhostRate          float64 `json:"ghost_rate" yaml:"ghost_rate"`
	BlankRate          float64 `json:"blank_rate" yaml:"blank_rate"`

	// CorpusRows is the size of the labeled corpus. Zero uses Rows.
	CorpusRows int `json:"corpus_rows" yaml:"corpus_rows"`
}

// DefaultConfig returns 1500 rows over the first half of 2025.
func DefaultConfig() *Config {
	return &Config{
		Rows:               1500,
		Seed:               42,
		Start:              time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		End:                time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		MissingRate:        0.05,
		AmountMismatchRate: 0.12,
		DateShiftRate:      0.08,
		DuplicateRate:      0.03,
		GhostRate:          0.02,
		BlankRate:          0.01,
	}
}

// Validate checks sizes, the period and that the per-row rates leave room
// for clean matches.
func (c *Config) Validate() error {
	rate := []validation.Rule{validation.Min(0.0), validation.Max(1.0)}
	err := validation.ValidateStruct(c,
		validation.Field(&c.Rows, validation.Required, validation.Min(1), validation.Max(10_000_000)),
		validation.Field(&c.Start, validation.Required),
		validation.Field(&c.End, validation.Required, validation.Min(c.Start)),
		validation.Field(&c.MissingRate, rate...),
		validation.Field(&c.AmountMismatchRate, rate...),
		validation.Field(&c.DateShiftRate, rate...),
		validation.Field(&c.DuplicateRate, rate...),
		validation.Field(&c.GhostRate, rate...),
		validation.Field(&c.BlankRate, rate...),
		validation.Field(&c.CorpusRows, validation.Min(0)),
	)
	if err != nil {
		return err
	}
	if sum := c.MissingRate + c.AmountMismatchRate + c.DateShiftRate + c.BlankRate; sum > 1 {
		return fmt.Errorf("missing, amount mismatch, date shift and blank rates sum to %.2f, above 1", sum)
	}
	return nil
}

// Injected counts the problems written into a dataset.
type Injected struct {
	Clean          int `json:"clean"`
	Missing        int `json:"missing"`
	AmountMismatch int `json:"amount_mismatch"`
	DateShift      int `json:"date_shift"`
	Duplicate      int `json:"duplicate"`
	Ghost          int `json:"ghost"`
	Blank          int `json:"blank"`
}

// BankRow is one line of the bank export.
type BankRow struct {
	Date      time.Time
	Reference string
	Amount    decimal.Decimal
	Account   string
	Narration string
}

// LedgerRow is one line of the ledger export.
type LedgerRow struct {
	Date      time.Time
	Reference string
	Amount    decimal.Decimal
	Account   string
	Category  string
	Remark    string
}

// CorpusRow is one labeled description.
type CorpusRow struct {
	Reference string
	Remark    string
	Category  models.Category
}

// Dataset is a generated bank/ledger pair.
type Dataset struct {
	Bank     []BankRow
	Ledger   []LedgerRow
	Corpus   []CorpusRow
	Injected Injected
}

type txType struct {
	name     string
	lo, hi   int
	label    string
	payees   []string
	category models.Category
	weight   float32
}

var txTypes = []txType{
	{"Salary", 40000, 120000, "Salary Credit", []string{"Company Payroll", "HRMS Salary", "Payroll System"}, models.CategorySalary, 0.12},
	{"ATM", -5000, -500, "ATM Withdrawal", []string{"SBI ATM", "HDFC ATM", "ICICI ATM", "Axis ATM"}, models.CategoryOther, 0.07},
	{"Shopping", -8000, -500, "Online Shopping", []string{"Amazon", "Flipkart", "Myntra", "Ajio"}, models.CategoryShopping, 0.10},
	{"Utility", -6000, -300, "Utility Bill", []string{"Electricity Board", "Water Dept", "Gas Agency"}, models.CategoryUtilityBills, 0.08},
	{"Project Income", 2000, 50000, "Project Income", []string{"Client A", "Client B", "ProjectCorp", "InnovaTech"}, models.CategoryOther, 0.08},
	{"Bank Charge", -500, -50, "Bank Fee", []string{"Monthly fee", "Service charge", "SMS charge"}, models.CategoryUtilityBills, 0.05},
	{"Interest", 50, 2000, "Interest Credit", []string{"Quarterly interest", "Savings interest"}, models.CategoryOther, 0.04},
	{"UPI Transfer", -7000, -100, "UPI Transfer", []string{"to Rahul", "to Neha", "to Vendor", "to Landlord"}, models.CategoryOther, 0.10},
	{"Refund", 100, 10000, "Refund", []string{"Amazon refund", "Payment reversal", "Chargeback"}, models.CategoryShopping, 0.04},
	{"EMI", -15000, -2000, "Loan EMI", []string{"HDFC Loan", "ICICI Loan", "Bajaj Finance"}, models.CategoryOther, 0.05},
	{"Fuel", -3000, -300, "Fuel Purchase", []string{"HP Petrol", "Indian Oil", "BPCL"}, models.CategoryFuel, 0.05},
	{"Food", -4000, -200, "Food / Dining", []string{"Zomato", "Swiggy", "Restaurant"}, models.CategoryFood, 0.06},
	{"Wallet", -5000, -200, "Wallet Top-up", []string{"Paytm", "PhonePe", "GPay"}, models.CategoryWalletPayments, 0.06},
	{"Insurance", -15000, -500, "Insurance Premium", []string{"LIC", "HDFC Ergo", "ICICI Lombard"}, models.CategoryInsurance, 0.04},
	{"Travel", -60000, -1000, "Travel Booking", []string{"MakeMyTrip", "IRCTC", "Uber", "Ola"}, models.CategoryTravel, 0.06},
}

var ledgerRemarks = []string{"Cleared", "Posted", "Auto-matched", "Manual entry", "Vendor invoice", "Reconciled", "Pending approval"}

var ghostRemarks = []string{"Manual journal", "Vendor accrual", "Pending doc", "Unmapped entry"}

var corpusRemarks = []struct {
	remark   string
	category models.Category
}{
	{"Salary credited", models.CategorySalary},
	{"Monthly payroll transfer", models.CategorySalary},
	{"Electricity bill payment", models.CategoryUtilityBills},
	{"Internet broadband bill", models.CategoryUtilityBills},
	{"Amazon order", models.CategoryShopping},
	{"Flipkart purchase", models.CategoryShopping},
	{"Restaurant dinner", models.CategoryFood},
	{"Zomato lunch", models.CategoryFood},
	{"Swiggy dinner", models.CategoryFood},
	{"Fuel refill HP petrol", models.CategoryFuel},
	{"Diesel at Indian Oil", models.CategoryFuel},
	{"Wallet top-up", models.CategoryWalletPayments},
	{"Mobile recharge", models.CategoryWalletPayments},
	{"Insurance premium debit", models.CategoryInsurance},
	{"Flight booking MakeMyTrip", models.CategoryTravel},
	{"Uber ride to airport", models.CategoryTravel},
	{"Netflix subscription", models.CategorySubscription},
	{"Prime Video subscription", models.CategorySubscription},
	{"Gym membership", models.CategorySubscription},
	{"Parking fee", models.CategoryOther},
	{"Office stationery", models.CategoryOther},
	{"Consulting fee", models.CategoryOther},
}

// Generator builds datasets. A generator is deterministic for its seed and
// not safe for concurrent use.
type Generator struct {
	config *Config
	faker  *gofakeit.Faker
	logger logger.Logger
}

// New validates config and returns a generator.
func New(config *Config) (*Generator, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "generator", config.Rows, err)
	}
	return &Generator{
		config: config,
		faker:  gofakeit.New(config.Seed),
		logger: logger.GetGlobalLogger().WithComponent("generator"),
	}, nil
}

// Generate builds one dataset.
func (g *Generator) Generate() *Dataset {
	ds := &Dataset{}
	accounts := make([]string, 3)
	for i := range accounts {
		accounts[i] = g.faker.Numerify("2020########")
	}

	options := make([]any, len(txTypes))
	weights := make([]float32, len(txTypes))
	for i, t := range txTypes {
		options[i] = i
		weights[i] = t.weight
	}

	for i := 0; i < g.config.Rows; i++ {
		pick, err := g.faker.Weighted(options, weights)
		if err != nil {
			pick = 0
		}
		tx := txTypes[pick.(int)]

		bank := BankRow{
			Date:      g.date(),
			Reference: fmt.Sprintf("TXN%d", 200000+i),
			Amount:    decimal.NewFromInt(int64(g.faker.IntRange(tx.lo, tx.hi))),
			Account:   g.faker.RandomString(accounts),
			Narration: fmt.Sprintf("%s - %s", tx.label, g.faker.RandomString(tx.payees)),
		}

		// The draws below decide the ledger side of this bank row.
		r := g.faker.Rand.Float64()
		c := g.config
		switch {
		case r < c.BlankRate:
			bank.Narration = ""
			bank.Reference = ""
			ds.Injected.Blank++
			ds.Bank = append(ds.Bank, bank)
			continue
		case r < c.BlankRate+c.MissingRate:
			ds.Injected.Missing++
			ds.Bank = append(ds.Bank, bank)
			continue
		}
		ds.Bank = append(ds.Bank, bank)

		ledger := LedgerRow{
			Date:      bank.Date,
			Reference: bank.Reference,
			Amount:    bank.Amount,
			Account:   g.faker.RandomString(accounts),
			Category:  string(tx.category),
			Remark:    g.faker.RandomString(ledgerRemarks),
		}
		switch {
		case r < c.BlankRate+c.MissingRate+c.AmountMismatchRate:
			delta := g.faker.IntRange(-1500, 1500)
			if delta == 0 {
				delta = 250
			}
			ledger.Amount = ledger.Amount.Add(decimal.NewFromInt(int64(delta)))
			ds.Injected.AmountMismatch++
		case r < c.BlankRate+c.MissingRate+c.AmountMismatchRate+c.DateShiftRate:
			shift := g.faker.IntRange(1, 7)
			if g.faker.Bool() {
				shift = -shift
			}
			ledger.Date = ledger.Date.AddDate(0, 0, shift)
			ds.Injected.DateShift++
		default:
			ds.Injected.Clean++
		}
		ds.Ledger = append(ds.Ledger, ledger)

		if g.faker.Rand.Float64() < c.DuplicateRate {
			dup := ledger
			dup.Remark = "Duplicate/adjustment"
			ds.Ledger = append(ds.Ledger, dup)
			ds.Injected.Duplicate++
		}
	}

	ghosts := int(g.config.GhostRate * float64(g.config.Rows))
	for j := 0; j < ghosts; j++ {
		ds.Ledger = append(ds.Ledger, LedgerRow{
			Date:      g.date(),
			Reference: fmt.Sprintf("LGH%d", 300000+j),
			Amount:    decimal.NewFromInt(int64(g.faker.IntRange(-10000, 25000))),
			Account:   g.faker.RandomString(accounts),
			Category:  string(models.CategoryOther),
			Remark:    g.faker.RandomString(ghostRemarks),
		})
		ds.Injected.Ghost++
	}

	corpusRows := g.config.CorpusRows
	if corpusRows == 0 {
		corpusRows = g.config.Rows
	}
	for i := 0; i < corpusRows; i++ {
		entry := corpusRemarks[g.faker.IntRange(0, len(corpusRemarks)-1)]
		ds.Corpus = append(ds.Corpus, CorpusRow{
			Reference: fmt.Sprintf("TXNP%d", 500000+i),
			Remark:    entry.remark,
			Category:  entry.category,
		})
	}

	g.logger.WithFields(logger.Fields{
		"bank":     len(ds.Bank),
		"ledger":   len(ds.Ledger),
		"corpus":   len(ds.Corpus),
		"injected": fmt.Sprintf("%+v", ds.Injected),
	}).Info("Generated synthetic dataset")
	return ds
}

func (g *Generator) date() time.Time {
	return models.TruncateToDate(g.faker.DateRange(g.config.Start, g.config.End))
}

// WriteBank writes the bank export.
func (ds *Dataset) WriteBank(w io.Writer) error {
	rows := [][]string{{"date_bank", "ref", "amount_bank", "account_bank", "narration"}}
	for _, r := range ds.Bank {
		rows = append(rows, []string{r.Date.Format(models.DateLayout), r.Reference, r.Amount.StringFixed(2), r.Account, r.Narration})
	}
	return writeCSV(w, rows)
}

// WriteLedger writes the ledger export.
func (ds *Dataset) WriteLedger(w io.Writer) error {
	rows := [][]string{{"date_ledger", "ref", "amount_ledger", "account_ledger", "category", "remark"}}
	for _, r := range ds.Ledger {
		rows = append(rows, []string{r.Date.Format(models.DateLayout), r.Reference, r.Amount.StringFixed(2), r.Account, r.Category, r.Remark})
	}
	return writeCSV(w, rows)
}

// WriteCorpus writes the labeled corpus.
func (ds *Dataset) WriteCorpus(w io.Writer) error {
	rows := [][]string{{"ref", "remark", "category"}}
	for _, r := range ds.Corpus {
		rows = append(rows, []string{r.Reference, r.Remark, string(r.Category)})
	}
	return writeCSV(w, rows)
}

// WriteFiles writes the three files into dir, creating it if needed, and
// returns their paths.
func (ds *Dataset) WriteFiles(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.FileError(errors.CodeFileWrite, dir, err)
	}
	outputs := []struct {
		name  string
		write func(io.Writer) error
	}{
		{BankFile, ds.WriteBank},
		{LedgerFile, ds.WriteLedger},
		{CorpusFile, ds.WriteCorpus},
	}

	paths := make([]string, 0, len(outputs))
	for _, out := range outputs {
		path := filepath.Join(dir, out.name)
		if err := writeFile(path, out.write); err != nil {
			return nil, errors.FileError(errors.CodeFileWrite, path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeCSV(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}
