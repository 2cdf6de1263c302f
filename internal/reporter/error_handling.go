package reporter

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/internal/reconciler"
	"smart-reconciliation-service/pkg/errors"
	"smart-reconciliation-service/pkg/logger"
)

// SafeReportGenerator wraps ReportGenerator with logging, file output and
// fallbacks. Exports are written after the run, so a failure here never
// discards the reconciliation itself.
type SafeReportGenerator struct {
	*ReportGenerator
	logger logger.Logger
}

// NewSafeReportGenerator creates a new safe report generator with error handling
func NewSafeReportGenerator(config *ReportConfig, log logger.Logger) (*SafeReportGenerator, error) {
	if log == nil {
		log = logger.GetGlobalLogger()
	}

	generator, err := NewReportGenerator(config)
	if err != nil {
		return nil, errors.ConfigurationError(
			errors.CodeInvalidConfig,
			"report_config",
			config,
			err,
		).WithSuggestion("Check the report format and width settings")
	}

	return &SafeReportGenerator{
		ReportGenerator: generator,
		logger:          log.WithComponent("reporter"),
	}, nil
}

// GenerateReportSafely writes the report to writer. When a machine format
// fails to encode, the console format is written instead with a notice.
func (srg *SafeReportGenerator) GenerateReportSafely(result *reconciler.Result, writer io.Writer) error {
	srg.logger.WithFields(logger.Fields{
		"format": srg.config.Format,
		"output": getWriterDescription(writer),
	}).Debug("Starting report generation")

	if result == nil || result.Summary == nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report_generation", fmt.Errorf("no reconciliation result")).
			WithSuggestion("Run the reconciliation before generating a report")
	}
	if writer == nil {
		return errors.InternalError(errors.CodeUnexpectedError, "report_generation", fmt.Errorf("no output writer"))
	}

	err := srg.GenerateReport(result, writer)
	if err == nil {
		return nil
	}
	if srg.config.Format == FormatConsole || srg.config.Format == FormatDocument {
		return srg.wrapGenerationError(err)
	}

	srg.logger.WithError(err).WithField("fallback_format", FormatConsole).Warn("Report generation failed, falling back to console format")
	fallbackConfig := *srg.config
	fallbackConfig.Format = FormatConsole
	fallback, ferr := NewReportGenerator(&fallbackConfig)
	if ferr != nil {
		return srg.wrapGenerationError(err)
	}

	fmt.Fprintf(writer, "NOTE: Report generated in fallback format due to error with requested format\n")
	fmt.Fprintf(writer, "Original error: %v\n\n", err)
	if ferr := fallback.GenerateReport(result, writer); ferr != nil {
		return errors.InternalError(
			errors.CodeUnexpectedError,
			"report_fallback",
			fmt.Errorf("both primary and fallback generation failed: primary=%v, fallback=%v", err, ferr),
		)
	}
	return nil
}

// WriteFile writes the report to path through a temporary file in the same
// directory. If path cannot be written, the report goes to a backup path
// next to it and the returned string names the file actually written.
func (srg *SafeReportGenerator) WriteFile(result *reconciler.Result, path string) (string, error) {
	err := writeAtomically(path, func(w io.Writer) error {
		return srg.GenerateReportSafely(result, w)
	})
	if err == nil {
		srg.logger.WithField("file", path).Info("Report written")
		return path, nil
	}
	if !isFileError(err) {
		return "", srg.wrapGenerationError(err)
	}

	backup := generateBackupPath(path)
	srg.logger.WithError(err).WithFields(logger.Fields{
		"original_file": path,
		"backup_file":   backup,
	}).Warn("Could not write report, using backup location")

	if berr := writeAtomically(backup, func(w io.Writer) error {
		return srg.GenerateReportSafely(result, w)
	}); berr != nil {
		return "", errors.FileError(errors.CodeFileWrite, path,
			fmt.Errorf("both primary and backup output failed: primary=%v, backup=%v", err, berr))
	}
	return backup, nil
}

// WriteSummaryFile writes the summary key/value export to path.
func (srg *SafeReportGenerator) WriteSummaryFile(summary *models.Summary, path string) error {
	err := writeAtomically(path, func(w io.Writer) error {
		return WriteSummaryCSV(w, summary)
	})
	if err != nil {
		return errors.FileError(errors.CodeFileWrite, path, err)
	}
	srg.logger.WithField("file", path).Info("Summary written")
	return nil
}

func writeAtomically(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (srg *SafeReportGenerator) wrapGenerationError(err error) error {
	if reconcilerErr, ok := errors.AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return errors.InternalError(
		errors.CodeProcessingError,
		"report_generation",
		err,
	).WithSuggestion("Check the output destination and report format settings")
}

func isFileError(err error) bool {
	return os.IsPermission(err) ||
		os.IsNotExist(err) ||
		os.IsExist(err) ||
		isSpaceError(err)
}

// generateBackupPath turns out/report.csv into <tmp>/report_backup.csv when
// the original directory is unusable.
func generateBackupPath(originalPath string) string {
	base := filepath.Base(originalPath)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	return filepath.Join(os.TempDir(), fmt.Sprintf("%s_backup%s", name, ext))
}

func getWriterDescription(writer io.Writer) string {
	switch w := writer.(type) {
	case *os.File:
		if w.Name() != "" {
			return fmt.Sprintf("file:%s", w.Name())
		}
		return "file:unnamed"
	default:
		return fmt.Sprintf("writer:%T", writer)
	}
}

func isSpaceError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no space left") ||
		strings.Contains(msg, "disk full") ||
		strings.Contains(msg, "device full")
}
