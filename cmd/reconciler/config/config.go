// Package config turns flag, environment and config-file settings into the
// validated component configurations of a run.
package config

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"smart-reconciliation-service/internal/generator"
	"smart-reconciliation-service/internal/matcher"
	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/internal/reconciler"
	"smart-reconciliation-service/internal/reporter"
	"smart-reconciliation-service/pkg/errors"
)

// Setting keys shared by flags, RECONCILER_* variables and config files.
const (
	KeyBank             = "bank"
	KeyLedger           = "ledger"
	KeyFormat           = "format"
	KeyOutput           = "output"
	KeySummaryOut       = "summary-out"
	KeyStartDate        = "start-date"
	KeyEndDate          = "end-date"
	KeyTolerance        = "tolerance"
	KeyTolerancePercent = "tolerance-percent"
	KeyWindow           = "window"
	KeyAbsoluteAmounts  = "absolute-amounts"
	KeyStrict           = "strict"
	KeyContamination    = "contamination"
	KeyTrees            = "trees"
	KeySeed             = "seed"
	KeyModel            = "model"
	KeyRules            = "rules"
	KeyThreshold        = "threshold"
	KeyRulesOnly        = "rules-only"
	KeyTopAnomalies     = "top-anomalies"
	KeyMaxRows          = "max-rows"
	KeyIncludeMatched   = "include-matched"
	KeyNoColor          = "no-color"
	KeyDelimiter        = "delimiter"
	KeySuggestions      = "suggestions"

	KeyGenRows       = "rows"
	KeyGenOutDir     = "out-dir"
	KeyGenStart      = "period-start"
	KeyGenEnd        = "period-end"
	KeyGenCorpusRows = "corpus-rows"
)

// Settings is the flat view of every reconcile option.
type Settings struct {
	BankFile   string
	LedgerFile string
	Format     string
	Output     string
	SummaryOut string
	StartDate  string
	EndDate    string

	Tolerance        float64
	TolerancePercent float64
	WindowDays       int
	AbsoluteAmounts  bool
	Strict           bool

	Contamination float64
	Trees         int
	Seed          int64

	ModelPath string
	RulesPath string
	Threshold float64
	RulesOnly bool

	TopAnomalies   int
	MaxRows        int
	IncludeMatched bool
	NoColor        bool
	Delimiter      string

	Suggestions map[string]string
}

// SetDefaults registers the default of every reconcile key on v so that
// settings absent from flags and files still resolve.
func SetDefaults(v *viper.Viper) {
	rc := reconciler.DefaultConfig()
	rep := reporter.DefaultReportConfig()

	v.SetDefault(KeyFormat, string(rep.Format))
	v.SetDefault(KeyTolerance, rc.Matching.AmountTolerance.InexactFloat64())
	v.SetDefault(KeyTolerancePercent, rc.Matching.AmountTolerancePercent)
	v.SetDefault(KeyWindow, rc.Matching.DateWindowDays)
	v.SetDefault(KeyContamination, rc.Anomaly.Contamination)
	v.SetDefault(KeyTrees, rc.Anomaly.Trees)
	v.SetDefault(KeySeed, rc.Anomaly.Seed)
	v.SetDefault(KeyThreshold, rc.Categorizer.ConfidenceThreshold)
	v.SetDefault(KeyTopAnomalies, rc.TopAnomalies)
	v.SetDefault(KeyMaxRows, rep.MaxRows)
	v.SetDefault(KeyDelimiter, string(rep.CSVDelimiter))
}

// Load reads the reconcile settings from v.
func Load(v *viper.Viper) *Settings {
	return &Settings{
		BankFile:         v.GetString(KeyBank),
		LedgerFile:       v.GetString(KeyLedger),
		Format:           strings.ToLower(v.GetString(KeyFormat)),
		Output:           v.GetString(KeyOutput),
		SummaryOut:       v.GetString(KeySummaryOut),
		StartDate:        v.GetString(KeyStartDate),
		EndDate:          v.GetString(KeyEndDate),
		Tolerance:        v.GetFloat64(KeyTolerance),
		TolerancePercent: v.GetFloat64(KeyTolerancePercent),
		WindowDays:       v.GetInt(KeyWindow),
		AbsoluteAmounts:  v.GetBool(KeyAbsoluteAmounts),
		Strict:           v.GetBool(KeyStrict),
		Contamination:    v.GetFloat64(KeyContamination),
		Trees:            v.GetInt(KeyTrees),
		Seed:             v.GetInt64(KeySeed),
		ModelPath:        v.GetString(KeyModel),
		RulesPath:        v.GetString(KeyRules),
		Threshold:        v.GetFloat64(KeyThreshold),
		RulesOnly:        v.GetBool(KeyRulesOnly),
		TopAnomalies:     v.GetInt(KeyTopAnomalies),
		MaxRows:          v.GetInt(KeyMaxRows),
		IncludeMatched:   v.GetBool(KeyIncludeMatched),
		NoColor:          v.GetBool(KeyNoColor),
		Delimiter:        v.GetString(KeyDelimiter),
		Suggestions:      v.GetStringMapString(KeySuggestions),
	}
}

// Validate checks the settings that are not validated by a component config.
func (s *Settings) Validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.BankFile, validation.Required),
		validation.Field(&s.LedgerFile, validation.Required),
		validation.Field(&s.Format, validation.Required, validation.In("console", "json", "csv", "document")),
		validation.Field(&s.StartDate, validation.Date(models.DateLayout)),
		validation.Field(&s.EndDate, validation.Date(models.DateLayout)),
		validation.Field(&s.Delimiter, validation.RuneLength(1, 1)),
	)
}

// ReconcilerConfig builds the pipeline configuration.
func ReconcilerConfig(s *Settings) (*reconciler.Config, error) {
	if s.Tolerance < 0 {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyTolerance, s.Tolerance,
			fmt.Errorf("tolerance cannot be negative"))
	}

	c := reconciler.DefaultConfig()
	if s.Strict {
		c.Matching = matcher.StrictMatchingConfig()
	} else {
		c.Matching.AmountTolerance = decimal.NewFromFloat(s.Tolerance)
		c.Matching.AmountTolerancePercent = s.TolerancePercent
		c.Matching.DateWindowDays = s.WindowDays
	}
	c.Matching.CompareAbsoluteAmounts = s.AbsoluteAmounts

	c.Anomaly.Contamination = s.Contamination
	c.Anomaly.Trees = s.Trees
	c.Anomaly.Seed = s.Seed

	c.Categorizer.ModelPath = s.ModelPath
	c.Categorizer.RulesPath = s.RulesPath
	c.Categorizer.ConfidenceThreshold = s.Threshold
	c.Categorizer.DisableModel = s.RulesOnly

	c.TopAnomalies = s.TopAnomalies

	suggestions, err := parseSuggestions(s.Suggestions)
	if err != nil {
		return nil, err
	}
	c.Suggestions = suggestions

	if err := c.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", c, err).
			WithSuggestion("Check --tolerance, --window, --contamination and --threshold")
	}
	return c, nil
}

func parseSuggestions(raw map[string]string) (map[models.RootCause]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[models.RootCause]string, len(raw))
	for name, text := range raw {
		rc, err := models.ParseRootCause(name)
		if err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeySuggestions, name, err).
				WithSuggestion("Suggestion keys must be root cause names such as AMOUNT_MISMATCH")
		}
		out[rc] = text
	}
	return out, nil
}

// ReportConfig builds the report configuration. Colors are only used for
// console output written to a terminal.
func ReportConfig(s *Settings, terminal bool) (*reporter.ReportConfig, error) {
	c := reporter.DefaultReportConfig()
	c.Format = reporter.OutputFormat(s.Format)
	c.MaxRows = s.MaxRows
	c.IncludeMatchedRows = s.IncludeMatched
	c.UseColors = terminal && !s.NoColor && s.Output == ""
	if s.Delimiter != "" {
		c.CSVDelimiter = []rune(s.Delimiter)[0]
	}
	if err := c.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "report", s.Format, err)
	}
	return c, nil
}

// Request builds the run request. The end date is inclusive.
func Request(s *Settings) (*reconciler.Request, error) {
	req := &reconciler.Request{BankFile: s.BankFile, LedgerFile: s.LedgerFile}

	var err error
	if req.StartDate, err = parseOptionalDate(KeyStartDate, s.StartDate); err != nil {
		return nil, err
	}
	if req.EndDate, err = parseOptionalDate(KeyEndDate, s.EndDate); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "request", s.StartDate+".."+s.EndDate, err)
	}
	return req, nil
}

func parseOptionalDate(key, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse(models.DateLayout, value)
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, key, value, err).
			WithSuggestion("Use the YYYY-MM-DD format")
	}
	return &t, nil
}

// GeneratorConfig builds the synthetic dataset configuration.
func GeneratorConfig(v *viper.Viper) (*generator.Config, error) {
	c := generator.DefaultConfig()
	if v.IsSet(KeyGenRows) {
		c.Rows = v.GetInt(KeyGenRows)
	}
	if v.IsSet(KeySeed) {
		c.Seed = v.GetInt64(KeySeed)
	}
	if v.IsSet(KeyGenCorpusRows) {
		c.CorpusRows = v.GetInt(KeyGenCorpusRows)
	}
	for key, dst := range map[string]*time.Time{KeyGenStart: &c.Start, KeyGenEnd: &c.End} {
		if raw := v.GetString(key); raw != "" {
			t, err := parseOptionalDate(key, raw)
			if err != nil {
				return nil, err
			}
			*dst = *t
		}
	}
	if err := c.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "generator", c.Rows, err)
	}
	return c, nil
}
