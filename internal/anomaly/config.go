// Package anomaly scores reconciliation rows with a seeded isolation forest.
//
// Each row is reduced to a small numeric feature vector. The forest isolates
// vectors by random axis-aligned splits; rows that isolate after few splits
// get scores close to 1. The highest scoring contamination fraction of rows
// is flagged.
package anomaly

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Config holds the isolation forest hyperparameters.
type Config struct {
	// Trees is the number of isolation trees in the ensemble.
	Trees int `json:"trees" yaml:"trees"`

	// SampleSize is the number of rows each tree is built from.
	SampleSize int `json:"sample_size" yaml:"sample_size"`

	// Contamination is the expected fraction of anomalous rows and decides
	// how many rows are flagged.
	Contamination float64 `json:"contamination" yaml:"contamination"`

	// Seed makes tree construction reproducible. Tree i uses Seed+i.
	Seed int64 `json:"seed" yaml:"seed"`

	// MaxDateGapDays caps the date gap feature. Unpaired rows without a
	// same-amount record on the other side get this value.
	MaxDateGapDays int `json:"max_date_gap_days" yaml:"max_date_gap_days"`
}

// DefaultConfig returns 100 trees of 256 samples flagging 5% of rows.
func DefaultConfig() *Config {
	return &Config{
		Trees:          100,
		SampleSize:     256,
		Contamination:  0.05,
		Seed:           42,
		MaxDateGapDays: 30,
	}
}

// Validate checks the hyperparameters.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Trees, validation.Required, validation.Min(1), validation.Max(10000)),
		validation.Field(&c.SampleSize, validation.Required, validation.Min(2)),
		validation.Field(&c.Contamination, validation.Required, validation.Min(0.0001), validation.Max(0.5)),
		validation.Field(&c.MaxDateGapDays, validation.Required, validation.Min(1)),
	)
}

// Clone returns a copy of the config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

func (c *Config) String() string {
	return fmt.Sprintf("anomaly.Config{Trees: %d, SampleSize: %d, Contamination: %.3f, Seed: %d}",
		c.Trees, c.SampleSize, c.Contamination, c.Seed)
}
