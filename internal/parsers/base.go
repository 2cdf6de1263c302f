// Package parsers turns bank and ledger CSV exports into normalized records.
//
// Input files differ in column names, date layouts and amount notation. The
// Normalizer resolves columns through a SchemaConfig, coerces every field and
// reports rows it cannot coerce as parse errors instead of dropping them.
// A file whose header cannot be mapped is rejected with a schema error.
//
// Example usage:
//
//	n, err := NewNormalizer(DefaultSchemaConfig(models.SideBank), nil)
//	records, stats, err := n.NormalizeFile(ctx, "bank.csv")
package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"smart-reconciliation-service/pkg/errors"
	"smart-reconciliation-service/pkg/logger"
)

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	Delimiter        rune
	Comment          rune
	TrimLeadingSpace bool
	SkipEmptyRows    bool
	ValidateEncoding bool
	// MaxErrorSamples bounds the parse errors kept for diagnostics.
	MaxErrorSamples int
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		Delimiter:        ',',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		ValidateEncoding: true,
		MaxErrorSamples:  50,
	}
}

// BaseParser provides common CSV reading functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}
	return &BaseParser{
		config: config,
		logger: logger.GetGlobalLogger().WithComponent("base_parser"),
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	File       string
	LineNumber int
	Headers    []string
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, file string) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{File: file, ctx: ctx}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	select {
	case <-pc.ctx.Done():
		return true
	default:
		return false
	}
}

// ReadFile loads a whole input file, mapping OS errors onto file errors.
func (bp *BaseParser) ReadFile(filePath string) ([]byte, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	data, err := os.ReadFile(filePath)
	if err != nil {
		bp.logger.WithError(err).WithField("file_path", filePath).Error("Failed to open CSV file")
		switch {
		case os.IsNotExist(err):
			return nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		case os.IsPermission(err):
			return nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		default:
			return nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
		}
	}
	return data, nil
}

// NewReader validates the encoding of data and returns a configured reader.
func (bp *BaseParser) NewReader(data []byte, file string) (*csv.Reader, error) {
	if bp.config.ValidateEncoding && !utf8.Valid(data) {
		return nil, errors.SchemaError(errors.CodeEncodingError, file, nil,
			fmt.Errorf("invalid UTF-8 encoding detected"))
	}

	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	return reader, nil
}

// ReadHeaders reads the header row. An empty file is a schema error.
func (bp *BaseParser) ReadHeaders(reader *csv.Reader, parseCtx *ParseContext) error {
	headers, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return errors.SchemaError(errors.CodeEmptyInput, parseCtx.File, nil, nil)
		}
		return errors.SchemaError(errors.CodeEmptyInput, parseCtx.File, nil, err)
	}

	parseCtx.LineNumber++
	parseCtx.Headers = make([]string, len(headers))
	for i, h := range headers {
		parseCtx.Headers[i] = strings.TrimSpace(h)
	}

	bp.logger.WithField("headers", parseCtx.Headers).Debug("Read headers")
	return nil
}

// ReadRecord returns the next non-empty row, io.EOF at the end of input, or
// a parse error for a malformed row. A malformed row does not stop reading.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.InternalError(errors.CodeCancelled, "csv parsing", parseCtx.ctx.Err())
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil, err
		}
		if err != nil {
			parseCtx.LineNumber++
			if perr, ok := err.(*csv.ParseError); ok {
				parseCtx.LineNumber = perr.StartLine
			}
			return nil, errors.ParseError(errors.CodeInvalidRow, parseCtx.File, parseCtx.LineNumber, "", "", err)
		}
		parseCtx.LineNumber, _ = reader.FieldPos(0)

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}
		return record, nil
	}
}

func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// field returns the trimmed value at index, or "" when the column is absent
// or the row is short.
func field(record []string, index int) string {
	if index < 0 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	File          string
	TotalLines    int
	RecordsParsed int
	RecordsValid  int
	SyntheticIDs  int
	Errors        *errors.ParseErrorCollector
}

// NewParseStats creates a new ParseStats instance
func NewParseStats(file string, maxSamples int) *ParseStats {
	return &ParseStats{
		File:   file,
		Errors: errors.NewParseErrorCollector(maxSamples),
	}
}

// ErrorCount returns the number of rows excluded because of parse errors.
func (ps *ParseStats) ErrorCount() int {
	return ps.Errors.Total()
}

// HasErrors returns true if there were any parsing errors
func (ps *ParseStats) HasErrors() bool {
	return ps.Errors.HasErrors()
}

func (ps *ParseStats) String() string {
	return fmt.Sprintf("Parsed %d lines, %d records (%d valid), %d errors",
		ps.TotalLines, ps.RecordsParsed, ps.RecordsValid, ps.ErrorCount())
}

// GetSampleErrors returns up to maxSamples error messages.
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	errs := ps.Errors.Errors()
	if maxSamples > 0 && maxSamples < len(errs) {
		errs = errs[:maxSamples]
	}
	samples := make([]string, 0, len(errs))
	for _, err := range errs {
		samples = append(samples, err.Message)
	}
	return samples
}
