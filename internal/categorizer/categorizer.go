package categorizer

import (
	"context"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sourcegraph/conc/iter"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/pkg/errors"
	"smart-reconciliation-service/pkg/logger"
)

// Categorizer modes reported in run diagnostics.
const (
	ModeModelAndRules = "model+rules"
	ModeRulesOnly     = "rules-only"
)

// Config selects the model and rules and sets the confidence threshold.
type Config struct {
	// ModelPath is a model written by Model.SaveFile. Empty uses the model
	// trained on the built-in corpus.
	ModelPath string `json:"model_path" yaml:"model_path"`

	// RulesPath is a YAML rules file. Empty uses DefaultRules.
	RulesPath string `json:"rules_path" yaml:"rules_path"`

	// ConfidenceThreshold is the lowest model probability accepted.
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`

	// DisableModel runs rules only.
	DisableModel bool `json:"disable_model" yaml:"disable_model"`
}

// DefaultConfig returns the built-in model and rules with a 0.6 threshold.
func DefaultConfig() *Config {
	return &Config{ConfidenceThreshold: 0.6}
}

// Validate checks the threshold range.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ConfidenceThreshold, validation.Required, validation.Min(0.01), validation.Max(1.0)),
	)
}

// Result is the label of one description.
type Result struct {
	Category    models.Category
	Source      models.CategorySource
	Probability float64
}

// Categorizer combines an optional model with keyword rules. It is read-only
// after construction and safe for concurrent use.
type Categorizer struct {
	model     *Model
	rules     Rules
	threshold float64
	loadErr   *errors.ReconcilerError
	logger    logger.Logger
}

// New builds a categorizer from config. Invalid configuration or an
// unreadable rules file is an error. A model that fails to load is not: the
// categorizer runs rules-only and reports the failure through Err.
func New(config *Config) (*Categorizer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "confidence_threshold", config.ConfidenceThreshold, err)
	}

	log := logger.GetGlobalLogger().WithComponent("categorizer")

	rules := DefaultRules()
	if config.RulesPath != "" {
		loaded, err := LoadRulesFile(config.RulesPath)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}

	c := &Categorizer{rules: rules, threshold: config.ConfidenceThreshold, logger: log}
	if config.DisableModel {
		return c, nil
	}

	var (
		model *Model
		err   error
	)
	if config.ModelPath != "" {
		model, err = LoadModelFile(config.ModelPath)
	} else {
		model, err = DefaultModel()
	}
	if err != nil {
		c.loadErr = errors.WrapIfNeeded(err, errors.CategoryModel, errors.CodeModelLoad, "categorizer model unavailable")
		log.WithError(err).Warn("Categorizer model unavailable, using keyword rules only")
		return c, nil
	}
	c.model = model

	log.WithFields(logger.Fields{
		"classes":   len(model.Classes()),
		"rules":     len(rules),
		"threshold": c.threshold,
	}).Debug("Categorizer ready")
	return c, nil
}

// NewWithModel builds a categorizer from an already loaded model. A nil
// model means rules only.
func NewWithModel(model *Model, rules Rules, threshold float64) *Categorizer {
	return &Categorizer{
		model:     model,
		rules:     rules,
		threshold: threshold,
		logger:    logger.GetGlobalLogger().WithComponent("categorizer"),
	}
}

// Mode reports whether the model is in use.
func (c *Categorizer) Mode() string {
	if c.model == nil {
		return ModeRulesOnly
	}
	return ModeModelAndRules
}

// Err returns the model load failure, if any.
func (c *Categorizer) Err() *errors.ReconcilerError {
	return c.loadErr
}

// Categorize labels description. A valid sourceCategory taken from the
// input file wins over every other stage.
func (c *Categorizer) Categorize(description, sourceCategory string) Result {
	if sourceCategory != "" {
		if category, ok := models.ParseCategory(sourceCategory); ok {
			return Result{Category: category, Source: models.CategorySourceInput, Probability: 1}
		}
	}

	if c.model != nil {
		pred, err := c.model.Predict(description)
		switch {
		case err != nil:
			c.logger.WithError(err).Debug("Prediction failed, falling back to rules")
		case pred.Strict && pred.Probability >= c.threshold:
			return Result{Category: pred.Category, Source: models.CategorySourceModel, Probability: pred.Probability}
		}
	}

	if category, ok := c.rules.Match(description); ok {
		return Result{Category: category, Source: models.CategorySourceRules}
	}
	return Result{Category: models.CategoryOther, Source: models.CategorySourceFallback}
}

// CategorizeRecord labels a record from its description and source
// category.
func (c *Categorizer) CategorizeRecord(r *models.Record) Result {
	return c.Categorize(r.Description, r.SourceCategory)
}

// CategorizeAll labels records concurrently. Results are in input order.
func (c *Categorizer) CategorizeAll(ctx context.Context, records []*models.Record) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.InternalError(errors.CodeCancelled, "categorization", err)
	}
	return iter.Map(records, func(r **models.Record) Result {
		return c.CategorizeRecord(*r)
	}), nil
}
