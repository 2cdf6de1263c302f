// Package reporter renders reconciliation results.
//
// Supported output formats:
//   - Console: colored tables for terminal display
//   - JSON: summary, recommendations, top anomalies and optionally every row
//   - CSV: the flat row table, one line per reconciliation row
//   - Document: a plain-text executive summary handed to document generators
//
// Example usage:
//
//	gen, err := reporter.NewReportGenerator(&reporter.ReportConfig{Format: reporter.FormatCSV})
//	err = gen.GenerateReport(result, os.Stdout)
package reporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/internal/reconciler"
)

// OutputFormat represents the supported report output formats.
type OutputFormat string

const (
	FormatConsole  OutputFormat = "console"
	FormatJSON     OutputFormat = "json"
	FormatCSV      OutputFormat = "csv"
	FormatDocument OutputFormat = "document"
)

// IsValid checks if the output format is supported
func (f OutputFormat) IsValid() bool {
	switch f {
	case FormatConsole, FormatJSON, FormatCSV, FormatDocument:
		return true
	default:
		return false
	}
}

// ReportConfig holds configuration options for report generation
type ReportConfig struct {
	Format OutputFormat `json:"format"`

	// IncludeMatchedRows lists MATCHED rows in console and JSON output.
	IncludeMatchedRows     bool `json:"include_matched_rows"`
	IncludeProcessingStats bool `json:"include_processing_stats"`

	// MaxRows bounds the rows listed in console output. Zero lists all.
	MaxRows int `json:"max_rows"`

	UseColors     bool `json:"use_colors"`
	TableMaxWidth int  `json:"table_max_width"`

	CSVDelimiter rune `json:"csv_delimiter"`
	CSVHeaders   bool `json:"csv_headers"`
}

// DefaultReportConfig returns a default report configuration
func DefaultReportConfig() *ReportConfig {
	return &ReportConfig{
		Format:                 FormatConsole,
		IncludeMatchedRows:     false,
		IncludeProcessingStats: true,
		MaxRows:                50,
		UseColors:              true,
		TableMaxWidth:          120,
		CSVDelimiter:           ',',
		CSVHeaders:             true,
	}
}

// Validate validates the report configuration
func (c *ReportConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Format, validation.Required, validation.By(func(v interface{}) error {
			if f := v.(OutputFormat); !f.IsValid() {
				return fmt.Errorf("invalid output format: %s", f)
			}
			return nil
		})),
		validation.Field(&c.TableMaxWidth, validation.Min(50)),
		validation.Field(&c.MaxRows, validation.Min(0)),
	)
}

// ReportGenerator generates reconciliation reports in various formats
type ReportGenerator struct {
	config *ReportConfig

	heading *color.Color
	good    *color.Color
	warn    *color.Color
	bad     *color.Color
}

// NewReportGenerator creates a new report generator with the specified configuration
func NewReportGenerator(config *ReportConfig) (*ReportGenerator, error) {
	if config == nil {
		config = DefaultReportConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid report configuration: %w", err)
	}

	rg := &ReportGenerator{
		config:  config,
		heading: color.New(color.Bold),
		good:    color.New(color.FgGreen),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
	}
	if !config.UseColors {
		for _, c := range []*color.Color{rg.heading, rg.good, rg.warn, rg.bad} {
			c.DisableColor()
		}
	}
	return rg, nil
}

// GenerateReport writes result to writer in the configured format.
func (rg *ReportGenerator) GenerateReport(result *reconciler.Result, writer io.Writer) error {
	if result == nil || result.Summary == nil {
		return fmt.Errorf("reconciliation result cannot be nil")
	}

	switch rg.config.Format {
	case FormatConsole:
		return rg.generateConsoleReport(result, writer)
	case FormatJSON:
		return rg.generateJSONReport(result, writer)
	case FormatCSV:
		return rg.generateCSVReport(result, writer)
	case FormatDocument:
		return rg.generateDocument(result, writer)
	default:
		return fmt.Errorf("unsupported output format: %s", rg.config.Format)
	}
}

// rootCauseColor picks the console color of a root cause.
func (rg *ReportGenerator) rootCauseColor(rc models.RootCause) *color.Color {
	switch rc {
	case models.RootCauseMatched:
		return rg.good
	case models.RootCauseAmountMismatch, models.RootCauseDateMismatch:
		return rg.warn
	default:
		return rg.bad
	}
}

func (rg *ReportGenerator) section(w io.Writer, title string) {
	rg.heading.Fprintf(w, "=== %s ===\n", title)
}

func (rg *ReportGenerator) generateConsoleReport(result *reconciler.Result, w io.Writer) error {
	s := result.Summary
	rg.heading.Fprintln(w, "RECONCILIATION REPORT")
	fmt.Fprintf(w, "Run:       %s\n", s.RunID)
	fmt.Fprintf(w, "Generated: %s\n\n", s.GeneratedAt.Format(time.RFC3339))

	rg.section(w, "SUMMARY")
	fmt.Fprintf(w, "Bank records:    %d\n", s.TotalBank)
	fmt.Fprintf(w, "Ledger records:  %d\n", s.TotalLedger)
	fmt.Fprintf(w, "Rows:            %d\n", s.TotalRows)
	fmt.Fprintf(w, "Matched:         %s\n", rg.good.Sprintf("%d (%.1f%%)", s.MatchedCount, s.MatchRate*100))
	fmt.Fprintf(w, "Mismatched:      %d\n", s.MismatchCount())
	fmt.Fprintf(w, "Anomalies:       %d\n\n", s.AnomalyCount)

	rg.section(w, "ROOT CAUSES")
	counts := map[models.RootCause]int{models.RootCauseMatched: s.MatchedCount}
	for rc, n := range s.MismatchCountsByRootCause {
		counts[rc] = n
	}
	for _, rc := range models.AllRootCauses() {
		label := fmt.Sprintf("%-18s", rc.Label())
		fmt.Fprintf(w, "  %s %6d  %5.1f%%\n", rg.rootCauseColor(rc).Sprint(label), counts[rc], percentage(counts[rc], s.TotalRows))
	}
	fmt.Fprintln(w)

	rg.section(w, "CATEGORIES")
	for _, c := range models.AllCategories() {
		if n := s.CategoryDistribution[c]; n > 0 {
			fmt.Fprintf(w, "  %-18s %6d\n", c, n)
		}
	}
	fmt.Fprintln(w)

	if len(result.Recommendations) > 0 {
		rg.section(w, "RECOMMENDATIONS")
		for i, r := range result.Recommendations {
			fmt.Fprintf(w, "%d. %s (%d rows, impact %s)\n", i+1,
				rg.rootCauseColor(r.RootCause).Sprint(r.RootCause.Label()), r.ImpactedCount, r.ImpactAmount.StringFixed(2))
			fmt.Fprintf(w, "   %s\n", r.Suggestion)
		}
		fmt.Fprintln(w)
	}

	if len(result.TopAnomalies) > 0 {
		rg.section(w, "TOP ANOMALIES")
		for _, row := range result.TopAnomalies {
			fmt.Fprintf(w, "  %.4f  %-18s %s\n", row.Score(), row.RootCause.Label(), rg.truncate(describe(row)))
		}
		fmt.Fprintln(w)
	}

	rows := rg.listedRows(result.Rows)
	if len(rows) > 0 {
		rg.section(w, "ROWS")
		fmt.Fprintf(w, "  %-12s %-12s %-18s %12s %12s  %s\n", "BANK", "LEDGER", "ROOT CAUSE", "AMOUNT", "DIFF", "CATEGORY")
		for _, row := range rows {
			label := fmt.Sprintf("%-18s", row.RootCause.Label())
			line := fmt.Sprintf("  %-12s %-12s %s %12s %12s  %s", row.BankID(), row.LedgerID(),
				rg.rootCauseColor(row.RootCause).Sprint(label), row.Primary().Amount.StringFixed(2),
				row.AmountDifference.StringFixed(2), row.Category)
			fmt.Fprintln(w, line)
		}
		if omitted := rg.omittedRows(result.Rows, rows); omitted > 0 {
			fmt.Fprintf(w, "  ... %d more rows omitted\n", omitted)
		}
		fmt.Fprintln(w)
	}

	rg.printDiagnostics(s.Diagnostics, w)

	if rg.config.IncludeProcessingStats && result.ProcessingStats != nil {
		rg.section(w, "PROCESSING STATISTICS")
		rg.printProcessingStats(result.ProcessingStats, w)
	}
	return nil
}

func (rg *ReportGenerator) printDiagnostics(d models.Diagnostics, w io.Writer) {
	rg.section(w, "DIAGNOSTICS")
	fmt.Fprintf(w, "Unparsed rows:     bank %d, ledger %d\n", d.UnparsedBank, d.UnparsedLedger)
	for _, msg := range d.ParseErrors {
		fmt.Fprintf(w, "  - %s\n", msg)
	}
	if d.ScoringAvailable {
		fmt.Fprintln(w, "Anomaly scoring:   available")
	} else {
		fmt.Fprintf(w, "Anomaly scoring:   %s\n", rg.bad.Sprintf("unavailable (%s)", d.ScoringError))
	}
	fmt.Fprintf(w, "Categorizer:       %s\n", d.CategorizerMode)
	for _, src := range []models.CategorySource{models.CategorySourceInput, models.CategorySourceModel, models.CategorySourceRules, models.CategorySourceFallback} {
		if n := d.CategorySources[src]; n > 0 {
			fmt.Fprintf(w, "  %-10s %d\n", src, n)
		}
	}
	for _, msg := range d.ModelErrors {
		fmt.Fprintf(w, "Model error:       %s\n", msg)
	}
	fmt.Fprintln(w)
}

func (rg *ReportGenerator) printProcessingStats(stats *reconciler.ProcessingStats, w io.Writer) {
	fmt.Fprintf(w, "Exact matches:     %d\n", stats.Match.ExactMatches)
	fmt.Fprintf(w, "Fuzzy matches:     %d\n", stats.Match.FuzzyMatches)
	if stats.RecordsFiltered > 0 {
		fmt.Fprintf(w, "Filtered by date:  %d\n", stats.RecordsFiltered)
	}
	for _, st := range stats.StageTimings {
		fmt.Fprintf(w, "  %-10s %v\n", st.Stage, st.Duration.Round(time.Microsecond))
	}
	fmt.Fprintf(w, "Total duration:    %v\n", stats.TotalDuration.Round(time.Microsecond))
	fmt.Fprintf(w, "Records/second:    %.0f\n", stats.RecordsPerSecond)
}

// listedRows returns the rows shown in console output.
func (rg *ReportGenerator) listedRows(rows []*models.ReconciliationRow) []*models.ReconciliationRow {
	out := make([]*models.ReconciliationRow, 0, len(rows))
	for _, row := range rows {
		if row.RootCause == models.RootCauseMatched && !rg.config.IncludeMatchedRows {
			continue
		}
		if rg.config.MaxRows > 0 && len(out) == rg.config.MaxRows {
			break
		}
		out = append(out, row)
	}
	return out
}

func (rg *ReportGenerator) omittedRows(all, listed []*models.ReconciliationRow) int {
	eligible := 0
	for _, row := range all {
		if row.RootCause != models.RootCauseMatched || rg.config.IncludeMatchedRows {
			eligible++
		}
	}
	return eligible - len(listed)
}

func (rg *ReportGenerator) truncate(s string) string {
	limit := rg.config.TableMaxWidth - 30
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return s
}

func describe(row *models.ReconciliationRow) string {
	p := row.Primary()
	return fmt.Sprintf("%s %s %s %s (%s)", p.ID, p.Date.Format(models.DateLayout), p.Amount.StringFixed(2), p.Description, row.AnomalyReason)
}

// jsonReport is the JSON output document.
type jsonReport struct {
	Summary         *models.Summary             `json:"summary"`
	Recommendations []models.Recommendation     `json:"recommendations"`
	TopAnomalies    []*models.ReconciliationRow `json:"top_anomalies"`
	Rows            []*models.ReconciliationRow `json:"rows,omitempty"`
	ProcessingStats *reconciler.ProcessingStats `json:"processing_stats,omitempty"`
}

func (rg *ReportGenerator) generateJSONReport(result *reconciler.Result, writer io.Writer) error {
	report := jsonReport{
		Summary:         result.Summary,
		Recommendations: result.Recommendations,
		TopAnomalies:    result.TopAnomalies,
	}
	if report.Recommendations == nil {
		report.Recommendations = []models.Recommendation{}
	}
	if report.TopAnomalies == nil {
		report.TopAnomalies = []*models.ReconciliationRow{}
	}
	for _, row := range result.Rows {
		if row.RootCause != models.RootCauseMatched || rg.config.IncludeMatchedRows {
			report.Rows = append(report.Rows, row)
		}
	}
	if rg.config.IncludeProcessingStats {
		report.ProcessingStats = result.ProcessingStats
	}

	encoder := json.NewEncoder(writer)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}

// RowHeaders are the columns of the CSV row export.
var RowHeaders = []string{
	"bank_id", "ledger_id", "root_cause",
	"amount_bank", "amount_ledger", "date_bank", "date_ledger",
	"amount_difference", "date_gap_days", "description_similarity",
	"anomaly_score", "anomaly_flag", "anomaly_reason",
	"category", "category_source", "recommendation",
}

func (rg *ReportGenerator) generateCSVReport(result *reconciler.Result, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	csvWriter.Comma = rg.config.CSVDelimiter

	if rg.config.CSVHeaders {
		if err := csvWriter.Write(RowHeaders); err != nil {
			return err
		}
	}
	for _, row := range result.Rows {
		if err := csvWriter.Write(rowRecord(row)); err != nil {
			return err
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

func rowRecord(row *models.ReconciliationRow) []string {
	var amountBank, amountLedger, dateBank, dateLedger string
	if row.Bank != nil {
		amountBank = row.Bank.Amount.StringFixed(2)
		dateBank = row.Bank.Date.Format(models.DateLayout)
	}
	if row.Ledger != nil {
		amountLedger = row.Ledger.Amount.StringFixed(2)
		dateLedger = row.Ledger.Date.Format(models.DateLayout)
	}
	score := strconv.FormatFloat(row.Score(), 'f', 4, 64)
	return []string{
		row.BankID(), row.LedgerID(), row.RootCause.String(),
		amountBank, amountLedger, dateBank, dateLedger,
		row.AmountDifference.StringFixed(2), strconv.Itoa(row.DateGapDays),
		strconv.FormatFloat(row.DescriptionSimilarity, 'f', 2, 64),
		score, strconv.FormatBool(row.AnomalyFlag), row.AnomalyReason,
		string(row.Category), string(row.CategorySource), row.Recommendation,
	}
}

// generateDocument writes the plain-text executive summary.
func (rg *ReportGenerator) generateDocument(result *reconciler.Result, w io.Writer) error {
	s := result.Summary
	var b strings.Builder

	fmt.Fprintln(&b, "Reconciliation Summary")
	fmt.Fprintln(&b, strings.Repeat("=", 22))
	fmt.Fprintf(&b, "Run %s, generated %s\n\n", s.RunID, s.GeneratedAt.Format(time.RFC1123))

	fmt.Fprintln(&b, "Key figures")
	fmt.Fprintf(&b, "- Bank records: %d\n", s.TotalBank)
	fmt.Fprintf(&b, "- Ledger records: %d\n", s.TotalLedger)
	fmt.Fprintf(&b, "- Match rate: %.1f%% (%d of %d rows)\n", s.MatchRate*100, s.MatchedCount, s.TotalRows)
	fmt.Fprintf(&b, "- Rows needing attention: %d\n", s.MismatchCount())
	fmt.Fprintf(&b, "- Anomalies flagged: %d\n\n", s.AnomalyCount)

	fmt.Fprintln(&b, "Root causes")
	for _, rc := range models.MismatchRootCauses() {
		if n := s.MismatchCountsByRootCause[rc]; n > 0 {
			fmt.Fprintf(&b, "- %s: %d\n", rc.Label(), n)
		}
	}
	fmt.Fprintln(&b)

	if len(result.Recommendations) > 0 {
		fmt.Fprintln(&b, "Recommended actions")
		for i, r := range result.Recommendations {
			fmt.Fprintf(&b, "%d. %s: %s\n", i+1, r.RootCause.Label(), r.Suggestion)
		}
		fmt.Fprintln(&b)
	}

	if len(result.TopAnomalies) > 0 {
		fmt.Fprintln(&b, "Highest anomaly scores")
		for _, row := range result.TopAnomalies {
			fmt.Fprintf(&b, "- %.4f %s\n", row.Score(), describe(row))
		}
		fmt.Fprintln(&b)
	}

	d := s.Diagnostics
	fmt.Fprintln(&b, "Data quality")
	fmt.Fprintf(&b, "- Unparsed rows: %d bank, %d ledger\n", d.UnparsedBank, d.UnparsedLedger)
	if !d.ScoringAvailable {
		fmt.Fprintf(&b, "- Anomaly scoring unavailable: %s\n", d.ScoringError)
	}
	fmt.Fprintf(&b, "- Categorizer mode: %s\n", d.CategorizerMode)

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteSummaryCSV writes the summary as flat key,value lines.
func WriteSummaryCSV(w io.Writer, s *models.Summary) error {
	csvWriter := csv.NewWriter(w)
	rows := [][]string{
		{"key", "value"},
		{"run_id", s.RunID},
		{"generated_at", s.GeneratedAt.Format(time.RFC3339)},
		{"total_bank", strconv.Itoa(s.TotalBank)},
		{"total_ledger", strconv.Itoa(s.TotalLedger)},
		{"total_rows", strconv.Itoa(s.TotalRows)},
		{"matched_count", strconv.Itoa(s.MatchedCount)},
		{"match_rate", strconv.FormatFloat(s.MatchRate, 'f', 4, 64)},
		{"anomaly_count", strconv.Itoa(s.AnomalyCount)},
	}
	for _, rc := range models.MismatchRootCauses() {
		rows = append(rows, []string{"mismatch_" + strings.ToLower(rc.String()), strconv.Itoa(s.MismatchCountsByRootCause[rc])})
	}
	for _, c := range models.AllCategories() {
		key := "category_" + strings.ReplaceAll(strings.ToLower(string(c)), " ", "_")
		rows = append(rows, []string{key, strconv.Itoa(s.CategoryDistribution[c])})
	}
	d := s.Diagnostics
	rows = append(rows,
		[]string{"unparsed_bank", strconv.Itoa(d.UnparsedBank)},
		[]string{"unparsed_ledger", strconv.Itoa(d.UnparsedLedger)},
		[]string{"scoring_available", strconv.FormatBool(d.ScoringAvailable)},
		[]string{"categorizer_mode", d.CategorizerMode},
	)

	if err := csvWriter.WriteAll(rows); err != nil {
		return err
	}
	return csvWriter.Error()
}

// GetConfiguration returns the current configuration
func (rg *ReportGenerator) GetConfiguration() *ReportConfig {
	return rg.config
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
