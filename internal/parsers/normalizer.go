package parsers

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/pkg/errors"
	"smart-reconciliation-service/pkg/logger"
)

// Normalizer converts one side's CSV export into records.
type Normalizer struct {
	*BaseParser
	schema *SchemaConfig
	logger logger.Logger
}

// NewNormalizer creates a normalizer for schema. A nil parse config uses
// DefaultParseConfig.
func NewNormalizer(schema *SchemaConfig, config *ParseConfig) (*Normalizer, error) {
	if schema == nil {
		return nil, errors.ConfigurationError(errors.CodeMissingConfig, "schema", nil, nil)
	}
	if err := schema.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "schema", schema.Side, err)
	}

	return &Normalizer{
		BaseParser: NewBaseParser(config),
		schema:     schema.Clone(),
		logger:     logger.GetGlobalLogger().WithComponent("normalizer").WithField("side", schema.Side),
	}, nil
}

// Side returns the side this normalizer produces records for.
func (n *Normalizer) Side() models.Side {
	return n.schema.Side
}

// NormalizeFile reads and normalizes the CSV file at path.
func (n *Normalizer) NormalizeFile(ctx context.Context, path string) ([]*models.Record, *ParseStats, error) {
	data, err := n.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	return n.normalize(ctx, path, data)
}

// Normalize reads all of r and normalizes it. name labels errors.
func (n *Normalizer) Normalize(ctx context.Context, name string, r io.Reader) ([]*models.Record, *ParseStats, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, errors.FileError(errors.CodeFileCorrupted, name, err)
	}
	return n.normalize(ctx, name, data)
}

// normalize returns every coercible record in file order. A SchemaError is
// returned when the header cannot be mapped; per-row failures are collected
// in the stats and the rows are left out.
func (n *Normalizer) normalize(ctx context.Context, name string, data []byte) ([]*models.Record, *ParseStats, error) {
	log := n.logger.WithField("file", filepath.Base(name))
	stats := NewParseStats(name, n.config.MaxErrorSamples)

	reader, err := n.NewReader(data, name)
	if err != nil {
		return nil, nil, err
	}

	parseCtx := NewParseContext(ctx, name)
	if err := n.ReadHeaders(reader, parseCtx); err != nil {
		return nil, nil, err
	}

	columns, missing := n.schema.Resolve(parseCtx.Headers)
	if len(missing) > 0 {
		log.WithFields(logger.Fields{
			"missing_columns":   missing,
			"available_headers": parseCtx.Headers,
		}).Error("Required columns are missing")
		return nil, nil, errors.SchemaError(errors.CodeMissingColumn, name, missing, nil)
	}

	var records []*models.Record
	for {
		row, err := n.ReadRecord(reader, parseCtx)
		if err == io.EOF {
			break
		}
		stats.TotalLines++
		if err != nil {
			if cerr := stats.Errors.Add(errors.WrapIfNeeded(err, errors.CategoryParse, errors.CodeInvalidRow, "malformed row")); cerr != nil {
				return nil, nil, cerr
			}
			continue
		}

		stats.RecordsParsed++
		record, perr := n.buildRecord(row, columns, parseCtx)
		if perr != nil {
			_ = stats.Errors.Add(perr)
			log.WithField("line", parseCtx.LineNumber).Debug(perr.Message)
			continue
		}
		if record.ID == syntheticID(n.schema.Side, parseCtx.LineNumber) {
			stats.SyntheticIDs++
		}
		stats.RecordsValid++
		records = append(records, record)
	}

	log.WithFields(logger.Fields{
		"records":       stats.RecordsValid,
		"parse_errors":  stats.ErrorCount(),
		"synthetic_ids": stats.SyntheticIDs,
	}).Info("Normalized input file")

	return records, stats, nil
}

func (n *Normalizer) buildRecord(row []string, columns ColumnMap, parseCtx *ParseContext) (*models.Record, *errors.ReconcilerError) {
	line := parseCtx.LineNumber

	rawDate := field(row, columns.Date)
	date, err := models.ParseDate(rawDate, n.schema.DateFormat)
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidDate, parseCtx.File, line, parseCtx.Headers[columns.Date], rawDate, err)
	}

	rawAmount := field(row, columns.Amount)
	amount, err := models.ParseAmount(rawAmount)
	if err != nil {
		return nil, errors.ParseError(errors.CodeInvalidAmount, parseCtx.File, line, parseCtx.Headers[columns.Amount], rawAmount, err)
	}

	reference := field(row, columns.Reference)
	id := field(row, columns.ID)
	if id == "" {
		id = reference
	}
	if id == "" {
		id = syntheticID(n.schema.Side, line)
	}

	record := models.NewRecord(n.schema.Side, id, date, amount, field(row, columns.Description), reference)
	record.Line = line
	record.SourceCategory = field(row, columns.Category)
	return record, nil
}

// syntheticID identifies a record that has neither an id nor a reference by
// its side and source line.
func syntheticID(side models.Side, line int) string {
	return fmt.Sprintf("%s-L%s", strings.ToUpper(string(side)), strconv.Itoa(line))
}
