package anomaly

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/sourcegraph/conc/iter"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/pkg/errors"
	"smart-reconciliation-service/pkg/logger"
)

// Anomaly reasons attached to rows.
const (
	ReasonMissingInBank   = "Missing in Bank"
	ReasonMissingInLedger = "Missing in Ledger"
	ReasonAmountDiff      = "Unusual Amount Difference"
	ReasonDateGap         = "Unusual Date Gap"
	ReasonMultivariate    = "Multivariate Outlier"
	ReasonOK              = "OK"
)

// Result holds one score and flag per scored row, in row order.
type Result struct {
	Scores    []float64
	Flags     []bool
	Features  []Vector
	Threshold float64
	// Available is false when the model failed and every score is zero.
	Available bool
	Err       *errors.ReconcilerError
}

// FlaggedCount returns the number of flagged rows.
func (r *Result) FlaggedCount() int {
	n := 0
	for _, f := range r.Flags {
		if f {
			n++
		}
	}
	return n
}

// Scorer fits a fresh forest on every Score call. It keeps no state between
// calls and is safe for concurrent use.
type Scorer struct {
	config *Config
	logger logger.Logger
}

// NewScorer validates config and returns a scorer.
func NewScorer(config *Config) (*Scorer, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "anomaly", config.String(), err)
	}
	return &Scorer{
		config: config.Clone(),
		logger: logger.GetGlobalLogger().WithComponent("anomaly"),
	}, nil
}

// Score scores rows. It never fails the run: model failures produce a
// Result with Available=false, zero scores and the error attached.
func (s *Scorer) Score(ctx context.Context, rows []*models.ReconciliationRow) *Result {
	features := ExtractFeatures(rows, s.config.MaxDateGapDays)

	scores, err := s.scoreVectors(ctx, features)
	if err != nil {
		s.logger.WithError(err).Warn("Anomaly scoring unavailable, reporting zero scores")
		return Unavailable(features, err)
	}

	flags, threshold := s.flag(scores)
	result := &Result{
		Scores:    scores,
		Flags:     flags,
		Features:  features,
		Threshold: threshold,
		Available: true,
	}

	s.logger.WithFields(logger.Fields{
		"rows":      len(rows),
		"flagged":   result.FlaggedCount(),
		"threshold": threshold,
	}).Debug("Anomaly scoring completed")
	return result
}

// Unavailable is the result of a failed scoring run: zero scores, no flags.
func Unavailable(features []Vector, err *errors.ReconcilerError) *Result {
	return &Result{
		Scores:   make([]float64, len(features)),
		Flags:    make([]bool, len(features)),
		Features: features,
		Err:      err,
	}
}

func (s *Scorer) scoreVectors(ctx context.Context, features []Vector) (scores []float64, rerr *errors.ReconcilerError) {
	defer func() {
		if r := recover(); r != nil {
			scores = nil
			rerr = errors.ModelError(errors.CodeModelScore, "anomaly scorer", fmt.Errorf("panic: %v", r))
		}
	}()

	if len(features) == 0 {
		return []float64{}, nil
	}
	for i, v := range features {
		if !v.IsFinite() {
			return nil, errors.ModelError(errors.CodeNonFiniteInput, "anomaly scorer",
				fmt.Errorf("row %d has non-finite features %v", i, v))
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.ModelError(errors.CodeModelScore, "anomaly scorer", err)
	}

	f := fit(features, s.config.Trees, s.config.SampleSize, s.config.Seed)
	scores = iter.Map(features, func(v *Vector) float64 {
		return f.score(*v)
	})

	for i, sc := range scores {
		if math.IsNaN(sc) {
			return nil, errors.ModelError(errors.CodeModelScore, "anomaly scorer",
				fmt.Errorf("row %d scored NaN", i))
		}
	}
	return scores, nil
}

// flag marks the round(contamination*n) highest scores. Equal scores are
// ranked by row order. Nothing is flagged when all scores are equal.
func (s *Scorer) flag(scores []float64) ([]bool, float64) {
	flags := make([]bool, len(scores))
	k := int(math.Round(s.config.Contamination * float64(len(scores))))
	if k == 0 || allEqual(scores) {
		return flags, 1
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case scores[a] > scores[b]:
			return -1
		case scores[a] < scores[b]:
			return 1
		}
		return 0
	})

	for _, i := range order[:k] {
		flags[i] = true
	}
	return flags, scores[order[k-1]]
}

func allEqual(scores []float64) bool {
	for _, s := range scores[1:] {
		if s != scores[0] {
			return false
		}
	}
	return true
}

// Reason explains a row's anomaly state. Missing rows always carry their
// root cause; other rows are OK unless flagged.
func Reason(row *models.ReconciliationRow, v Vector, flagged bool) string {
	switch row.RootCause {
	case models.RootCauseMissingInBank:
		return ReasonMissingInBank
	case models.RootCauseMissingInLedger:
		return ReasonMissingInLedger
	}
	if !flagged {
		return ReasonOK
	}
	switch {
	case row.RootCause == models.RootCauseAmountMismatch || v[FeatureAmountDifference] > 0:
		return ReasonAmountDiff
	case row.RootCause == models.RootCauseDateMismatch || (row.IsPaired() && v[FeatureDateGap] > 0):
		return ReasonDateGap
	}
	return ReasonMultivariate
}
