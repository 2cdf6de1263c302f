package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"smart-reconciliation-service/cmd/reconciler/config"
	"smart-reconciliation-service/internal/parsers"
	"smart-reconciliation-service/internal/reconciler"
	"smart-reconciliation-service/internal/reporter"
	"smart-reconciliation-service/pkg/errors"
	"smart-reconciliation-service/pkg/logger"
)

// reconcileCmd represents the reconcile command
var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Reconcile a bank statement export with a ledger export",
	Long: `Reconcile normalizes both CSV exports, pairs bank lines with ledger entries and
assigns every row exactly one root cause: MATCHED, AMOUNT_MISMATCH, DATE_MISMATCH,
MISSING_IN_LEDGER, MISSING_IN_BANK, DUPLICATE or UNMAPPED. Rows are categorized,
scored for anomalies and given a recommended action.

Examples:
  # Console report
  reconciler reconcile --bank bank_statement.csv --ledger ledger_entries.csv

  # Per-row CSV export plus the summary key/value file
  reconciler reconcile --bank b.csv --ledger l.csv \
    --format csv --output reconciliation.csv --summary-out summary.csv

  # Narrower period and stricter tolerances
  reconciler reconcile --bank b.csv --ledger l.csv \
    --start-date 2025-03-01 --end-date 2025-03-31 --tolerance 0 --window 1`,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
	f := reconcileCmd.Flags()

	f.StringP(config.KeyBank, "b", "", "bank statement CSV file (required)")
	f.StringP(config.KeyLedger, "l", "", "ledger CSV file (required)")

	f.StringP(config.KeyFormat, "f", "console", "report format: console, json, csv, document")
	f.StringP(config.KeyOutput, "o", "", "report file (default: stdout)")
	f.String(config.KeySummaryOut, "", "also write the summary key/value CSV to this file")
	f.Int(config.KeyMaxRows, 50, "rows listed in the console report (0 lists all)")
	f.Bool(config.KeyIncludeMatched, false, "list MATCHED rows in console and JSON reports")
	f.Bool(config.KeyNoColor, false, "disable colored console output")
	f.String(config.KeyDelimiter, ",", "CSV report delimiter")

	f.String(config.KeyStartDate, "", "ignore records before this date (YYYY-MM-DD)")
	f.String(config.KeyEndDate, "", "ignore records after this date (YYYY-MM-DD)")

	f.Float64(config.KeyTolerance, 1.0, "largest amount difference paired as AMOUNT_MISMATCH")
	f.Float64(config.KeyTolerancePercent, 0, "amount tolerance as a percentage of the bank amount, when larger")
	f.IntP(config.KeyWindow, "w", 3, "largest date gap in days paired as DATE_MISMATCH")
	f.Bool(config.KeyAbsoluteAmounts, false, "ignore sign differences between the two exports")
	f.Bool(config.KeyStrict, false, "pair only equal amounts on the same day (ignores --tolerance and --window)")

	f.Float64(config.KeyContamination, 0.05, "fraction of rows flagged as anomalous")
	f.Int(config.KeyTrees, 100, "isolation trees in the anomaly model")
	f.Int64(config.KeySeed, 42, "anomaly model seed")

	f.String(config.KeyModel, "", "categorizer model file written by 'reconciler train'")
	f.String(config.KeyRules, "", "categorizer keyword rules YAML file")
	f.Float64(config.KeyThreshold, 0.6, "lowest model probability accepted before falling back to rules")
	f.Bool(config.KeyRulesOnly, false, "categorize with keyword rules only")
	f.Int(config.KeyTopAnomalies, 10, "length of the top anomalies list")

	reconcileCmd.MarkFlagFilename(config.KeyBank, "csv")
	reconcileCmd.MarkFlagFilename(config.KeyLedger, "csv")
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	log := logger.GetGlobalLogger().WithComponent("cli")

	config.SetDefaults(viper.GetViper())
	settings := config.Load(viper.GetViper())
	if err := settings.Validate(); err != nil {
		return errors.ConfigurationError(errors.CodeMissingConfig, "reconcile", settings.Format, err).
			WithSuggestion("Provide --bank and --ledger, and a format of console, json, csv or document")
	}

	reconcilerConfig, err := config.ReconcilerConfig(settings)
	if err != nil {
		return err
	}
	request, err := config.Request(settings)
	if err != nil {
		return err
	}
	reportConfig, err := config.ReportConfig(settings, !color.NoColor)
	if err != nil {
		return err
	}

	var opts []reconciler.Option
	if viper.GetBool("verbose") {
		opts = append(opts, reconciler.WithProgressCallback(func(p reconciler.Progress) {
			log.WithFields(logger.Fields{
				"stage":    p.CurrentStep,
				"progress": p.PercentComplete,
				"elapsed":  p.ElapsedTime,
			}).Debug("Stage complete")
		}))
	}

	service, err := reconciler.NewReconciliationService(reconcilerConfig, opts...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	result, err := service.ProcessFiles(ctx, request)
	if err != nil {
		return err
	}
	if errs := parseErrors(result.ProcessingStats); len(errs) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s\n\n", errors.FormatParseErrorsForUser(errs))
	}

	gen, err := reporter.NewSafeReportGenerator(reportConfig, log)
	if err != nil {
		return err
	}
	if settings.Output == "" {
		if err := gen.GenerateReportSafely(result, cmd.OutOrStdout()); err != nil {
			return err
		}
	} else {
		written, err := gen.WriteFile(result, settings.Output)
		if err != nil {
			return err
		}
		if written != settings.Output {
			cmd.PrintErrf("Report written to %s\n", written)
		}
	}

	if settings.SummaryOut != "" {
		if err := gen.WriteSummaryFile(result.Summary, settings.SummaryOut); err != nil {
			return err
		}
	}

	log.WithFields(logger.Fields{
		"run_id":     result.Summary.RunID,
		"rows":       result.Summary.TotalRows,
		"match_rate": result.Summary.MatchRate,
		"anomalies":  result.Summary.AnomalyCount,
	}).Info("Reconciliation finished")
	return nil
}

// parseErrors returns the sampled row errors of both input files.
func parseErrors(stats *reconciler.ProcessingStats) []*errors.ReconcilerError {
	var errs []*errors.ReconcilerError
	for _, ps := range []*parsers.ParseStats{stats.BankParse, stats.LedgerParse} {
		if ps != nil {
			errs = append(errs, ps.Errors.Errors()...)
		}
	}
	return errs
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
