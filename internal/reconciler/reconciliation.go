package reconciler

import (
	"context"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"smart-reconciliation-service/internal/anomaly"
	"smart-reconciliation-service/internal/categorizer"
	"smart-reconciliation-service/internal/matcher"
	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/internal/parsers"
	"smart-reconciliation-service/internal/recommend"
	"smart-reconciliation-service/pkg/errors"
	"smart-reconciliation-service/pkg/logger"
)

// ReconciliationService runs the full pipeline: normalize both exports,
// match, categorize, score, recommend and summarize.
type ReconciliationService struct {
	bankNormalizer   *parsers.Normalizer
	ledgerNormalizer *parsers.Normalizer
	matchingEngine   *matcher.MatchingEngine
	scorer           Scorer
	categorizer      *categorizer.Categorizer
	recommender      *recommend.Engine
	config           *Config
	progress         *progressTracker
	logger           logger.Logger
}

// Config holds configuration options for the reconciliation service
type Config struct {
	Matching     *matcher.MatchingConfig `json:"matching" yaml:"matching"`
	Anomaly      *anomaly.Config         `json:"anomaly" yaml:"anomaly"`
	Categorizer  *categorizer.Config     `json:"categorizer" yaml:"categorizer"`
	BankSchema   *parsers.SchemaConfig   `json:"bank_schema" yaml:"bank_schema"`
	LedgerSchema *parsers.SchemaConfig   `json:"ledger_schema" yaml:"ledger_schema"`
	Parse        *parsers.ParseConfig    `json:"-" yaml:"-"`

	// Suggestions overrides recommendation texts per root cause.
	Suggestions map[models.RootCause]string `json:"suggestions,omitempty" yaml:"suggestions,omitempty"`

	// TopAnomalies is the length of the highest-score list in the result.
	TopAnomalies int `json:"top_anomalies" yaml:"top_anomalies"`
}

// DefaultConfig returns a default configuration for the reconciliation service
func DefaultConfig() *Config {
	return &Config{
		Matching:     matcher.DefaultMatchingConfig(),
		Anomaly:      anomaly.DefaultConfig(),
		Categorizer:  categorizer.DefaultConfig(),
		BankSchema:   parsers.DefaultSchemaConfig(models.SideBank),
		LedgerSchema: parsers.DefaultSchemaConfig(models.SideLedger),
		Parse:        parsers.DefaultParseConfig(),
		TopAnomalies: 10,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Matching, validation.Required),
		validation.Field(&c.Anomaly, validation.Required),
		validation.Field(&c.Categorizer, validation.Required),
		validation.Field(&c.BankSchema, validation.Required),
		validation.Field(&c.LedgerSchema, validation.Required),
		validation.Field(&c.TopAnomalies, validation.Min(0)),
	)
}

// Request names the two exports of one run and an optional inclusive date
// range applied to both sides after parsing.
type Request struct {
	BankFile   string
	LedgerFile string
	StartDate  *time.Time
	EndDate    *time.Time
}

// Validate validates the reconciliation request
func (r *Request) Validate() error {
	if r.BankFile == "" {
		return fmt.Errorf("bank file path is required")
	}
	if r.LedgerFile == "" {
		return fmt.Errorf("ledger file path is required")
	}
	if r.StartDate != nil && r.EndDate != nil && r.StartDate.After(*r.EndDate) {
		return fmt.Errorf("start date must not be after end date")
	}
	return nil
}

// Result contains the complete results of reconciliation
type Result struct {
	Rows            []*models.ReconciliationRow `json:"rows"`
	Summary         *models.Summary             `json:"summary"`
	Recommendations []models.Recommendation     `json:"recommendations"`
	TopAnomalies    []*models.ReconciliationRow `json:"top_anomalies"`
	Duplicates      []*matcher.DuplicateGroup   `json:"duplicates,omitempty"`
	ProcessingStats *ProcessingStats            `json:"processing_stats"`
}

// ProcessingStats describes how a run went, stage by stage.
type ProcessingStats struct {
	BankParse        *parsers.ParseStats  `json:"-"`
	LedgerParse      *parsers.ParseStats  `json:"-"`
	RecordsFiltered  int                  `json:"records_filtered"`
	Match            matcher.MatchSummary `json:"match"`
	AnomalyThreshold float64              `json:"anomaly_threshold"`
	StageTimings     []logger.StageTiming `json:"stage_timings"`
	TotalDuration    time.Duration        `json:"total_duration"`
	RecordsPerSecond float64              `json:"records_per_second"`
}

// Scorer scores joined rows. *anomaly.Scorer is the default.
type Scorer interface {
	Score(ctx context.Context, rows []*models.ReconciliationRow) *anomaly.Result
}

// Option customizes a ReconciliationService.
type Option func(*ReconciliationService)

// WithCategorizer replaces the categorizer built from the configuration.
func WithCategorizer(c *categorizer.Categorizer) Option {
	return func(rs *ReconciliationService) {
		rs.categorizer = c
	}
}

// WithScorer replaces the anomaly scorer built from the configuration.
func WithScorer(s Scorer) Option {
	return func(rs *ReconciliationService) {
		rs.scorer = s
	}
}

// WithProgressCallback registers a callback invoked after every stage.
func WithProgressCallback(cb ProgressCallback) Option {
	return func(rs *ReconciliationService) {
		rs.progress.addCallback(cb)
	}
}

// NewReconciliationService creates a new reconciliation service
func NewReconciliationService(config *Config, opts ...Option) (*ReconciliationService, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "reconciler", nil, err)
	}
	if config.Parse == nil {
		config.Parse = parsers.DefaultParseConfig()
	}

	bankNormalizer, err := parsers.NewNormalizer(config.BankSchema, config.Parse)
	if err != nil {
		return nil, err
	}
	ledgerNormalizer, err := parsers.NewNormalizer(config.LedgerSchema, config.Parse)
	if err != nil {
		return nil, err
	}
	matchingEngine, err := matcher.NewMatchingEngine(config.Matching)
	if err != nil {
		return nil, err
	}
	scorer, err := anomaly.NewScorer(config.Anomaly)
	if err != nil {
		return nil, err
	}

	rs := &ReconciliationService{
		bankNormalizer:   bankNormalizer,
		ledgerNormalizer: ledgerNormalizer,
		matchingEngine:   matchingEngine,
		scorer:           scorer,
		recommender:      recommend.NewEngine(config.Suggestions),
		config:           config,
		progress:         newProgressTracker(),
		logger:           logger.GetGlobalLogger().WithComponent("reconciler"),
	}
	for _, opt := range opts {
		opt(rs)
	}

	if rs.categorizer == nil {
		rs.categorizer, err = categorizer.New(config.Categorizer)
		if err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// GetConfiguration returns the current configuration
func (rs *ReconciliationService) GetConfiguration() *Config {
	return rs.config
}

// ProcessFiles parses both exports and reconciles them. Missing files and
// unusable headers abort the run; rows that fail to parse are left out and
// reported in the summary diagnostics.
func (rs *ReconciliationService) ProcessFiles(ctx context.Context, request *Request) (*Result, error) {
	if err := request.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "request", nil, err)
	}

	timer := logger.NewStageTimer("reconcile", rs.logger)
	rs.progress.start(len(allStages))

	var (
		bank, ledger           []*models.Record
		bankStats, ledgerStats *parsers.ParseStats
	)
	err := timer.Time(StageParse, func() error {
		p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithFirstError()
		p.Go(func(ctx context.Context) error {
			var err error
			bank, bankStats, err = rs.bankNormalizer.NormalizeFile(ctx, request.BankFile)
			return err
		})
		p.Go(func(ctx context.Context) error {
			var err error
			ledger, ledgerStats, err = rs.ledgerNormalizer.NormalizeFile(ctx, request.LedgerFile)
			return err
		})
		return p.Wait()
	})
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryInternal, errors.CodeUnexpectedError, "failed to read inputs")
	}
	rs.progress.complete(StageParse, timer.Elapsed())

	filtered := 0
	if request.StartDate != nil || request.EndDate != nil {
		window := DateWindow{Start: request.StartDate, End: request.EndDate}
		var droppedBank, droppedLedger int
		bank, droppedBank = window.Filter(bank)
		ledger, droppedLedger = window.Filter(ledger)
		filtered = droppedBank + droppedLedger
		rs.logger.WithFields(logger.Fields{
			"window":   window.String(),
			"filtered": filtered,
		}).Info("Applied date range filter")
	}
	rs.progress.complete(StageFilter, timer.Elapsed())

	diag := models.Diagnostics{
		UnparsedBank:   bankStats.ErrorCount(),
		UnparsedLedger: ledgerStats.ErrorCount(),
	}
	maxSamples := rs.config.Parse.MaxErrorSamples
	diag.ParseErrors = append(diag.ParseErrors, bankStats.GetSampleErrors(maxSamples)...)
	diag.ParseErrors = append(diag.ParseErrors, ledgerStats.GetSampleErrors(maxSamples)...)

	result, err := rs.run(ctx, timer, bank, ledger, diag)
	if err != nil {
		return nil, err
	}
	result.ProcessingStats.BankParse = bankStats
	result.ProcessingStats.LedgerParse = ledgerStats
	result.ProcessingStats.RecordsFiltered = filtered
	return result, nil
}

// Reconcile reconciles already normalized records.
func (rs *ReconciliationService) Reconcile(ctx context.Context, bank, ledger []*models.Record) (*Result, error) {
	timer := logger.NewStageTimer("reconcile", rs.logger)
	rs.progress.start(len(allStages) - 2)
	return rs.run(ctx, timer, bank, ledger, models.Diagnostics{})
}

func (rs *ReconciliationService) run(
	ctx context.Context,
	timer *logger.StageTimer,
	bank, ledger []*models.Record,
	diag models.Diagnostics,
) (*Result, error) {
	// Matching and categorization read the records independently.
	var (
		match      *matcher.MatchResult
		categories map[*models.Record]categorizer.Result
	)
	err := timer.Time(StageMatch, func() error {
		p := pool.New().WithErrors().WithContext(ctx).WithCancelOnError().WithFirstError()
		p.Go(func(ctx context.Context) error {
			var err error
			match, err = rs.matchingEngine.Match(ctx, bank, ledger)
			return err
		})
		p.Go(func(ctx context.Context) error {
			var err error
			categories, err = rs.categorize(ctx, bank, ledger)
			return err
		})
		return p.Wait()
	})
	if err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryReconciliation, errors.CodeProcessingError, "reconciliation failed")
	}
	rs.progress.complete(StageMatch, timer.Elapsed())

	drafts := make([]*models.ReconciliationRow, len(match.Outcomes))
	for i, outcome := range match.Outcomes {
		label := categories[outcome.Primary()]
		drafts[i] = &models.ReconciliationRow{
			MatchOutcome:   *outcome,
			Category:       label.Category,
			CategorySource: label.Source,
		}
	}

	scoreDone := timer.Stage(StageScore)
	scored := rs.scorer.Score(ctx, drafts)
	if scored.Err != nil {
		scoreDone(scored.Err)
	} else {
		scoreDone(nil)
	}
	rs.progress.complete(StageScore, timer.Elapsed())

	rows := make([]*models.ReconciliationRow, len(drafts))
	for i, draft := range drafts {
		row := *draft
		s := scored.Scores[i]
		row.AnomalyScore = &s
		row.AnomalyFlag = scored.Flags[i]
		row.AnomalyReason = anomaly.Reason(draft, scored.Features[i], row.AnomalyFlag)
		row.Recommendation = rs.recommender.RowAdvice(&row)
		rows[i] = &row
	}

	summarizeDone := timer.Stage(StageSummarize)
	result := &Result{
		Rows:            rows,
		Summary:         rs.summarize(rows, len(bank), len(ledger), diag, scored),
		Recommendations: rs.recommender.Recommend(rows),
		Duplicates:      match.Duplicates,
		ProcessingStats: &ProcessingStats{
			Match:            match.Summary,
			AnomalyThreshold: scored.Threshold,
		},
	}
	if scored.Available {
		result.TopAnomalies = recommend.TopAnomalies(rows, rs.config.TopAnomalies)
	}
	summarizeDone(nil)
	rs.progress.complete(StageSummarize, timer.Elapsed())

	elapsed := timer.Elapsed()
	result.ProcessingStats.StageTimings = timer.Timings()
	result.ProcessingStats.TotalDuration = elapsed
	if elapsed > 0 {
		result.ProcessingStats.RecordsPerSecond = float64(len(bank)+len(ledger)) / elapsed.Seconds()
	}

	rs.logger.WithFields(logger.Fields{
		"run_id":     result.Summary.RunID,
		"rows":       len(rows),
		"matched":    result.Summary.MatchedCount,
		"mismatched": result.Summary.MismatchCount(),
		"anomalies":  result.Summary.AnomalyCount,
		"duration":   elapsed,
	}).Info("Reconciliation completed")
	return result, nil
}

// categorize labels every record of both sides, keyed by record.
func (rs *ReconciliationService) categorize(ctx context.Context, bank, ledger []*models.Record) (map[*models.Record]categorizer.Result, error) {
	all := make([]*models.Record, 0, len(bank)+len(ledger))
	all = append(all, bank...)
	all = append(all, ledger...)

	labels, err := rs.categorizer.CategorizeAll(ctx, all)
	if err != nil {
		return nil, err
	}
	out := make(map[*models.Record]categorizer.Result, len(all))
	for i, r := range all {
		out[r] = labels[i]
	}
	return out, nil
}

func (rs *ReconciliationService) summarize(
	rows []*models.ReconciliationRow,
	totalBank, totalLedger int,
	diag models.Diagnostics,
	scored *anomaly.Result,
) *models.Summary {
	summary := &models.Summary{
		RunID:                     uuid.NewString(),
		GeneratedAt:               time.Now().UTC(),
		TotalBank:                 totalBank,
		TotalLedger:               totalLedger,
		TotalRows:                 len(rows),
		MismatchCountsByRootCause: make(map[models.RootCause]int),
		CategoryDistribution:      make(map[models.Category]int),
	}
	for rc, n := range recommend.CountByRootCause(rows) {
		if rc == models.RootCauseMatched {
			summary.MatchedCount = n
		} else {
			summary.MismatchCountsByRootCause[rc] = n
		}
	}
	for _, c := range models.AllCategories() {
		summary.CategoryDistribution[c] = 0
	}

	diag.CategorySources = make(map[models.CategorySource]int)
	for _, row := range rows {
		if row.AnomalyFlag {
			summary.AnomalyCount++
		}
		summary.CategoryDistribution[row.Category]++
		diag.CategorySources[row.CategorySource]++
	}
	if len(rows) > 0 {
		summary.MatchRate = float64(summary.MatchedCount) / float64(len(rows))
	}

	diag.ScoringAvailable = scored.Available
	if scored.Err != nil {
		diag.ScoringError = scored.Err.Error()
		diag.ModelErrors = append(diag.ModelErrors, scored.Err.Error())
	}
	diag.CategorizerMode = rs.categorizer.Mode()
	if err := rs.categorizer.Err(); err != nil {
		diag.ModelErrors = append(diag.ModelErrors, err.Error())
	}
	summary.Diagnostics = diag
	return summary
}
