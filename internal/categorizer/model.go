// Package categorizer labels transaction descriptions with a category from
// the closed set in models.
//
// A TF-IDF naive Bayes model answers first. When its probability is below
// the configured threshold, an ordered list of keyword rules is consulted,
// and descriptions that match neither get models.CategoryOther.
package categorizer

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"unicode"

	"github.com/jbrukh/bayesian"

	"smart-reconciliation-service/internal/models"
	"smart-reconciliation-service/pkg/errors"
)

// Sample is one labeled description of a training corpus.
type Sample struct {
	Description string
	Category    models.Category
}

// Prediction is the model's answer for one description.
type Prediction struct {
	Category    models.Category
	Probability float64
	// Strict is false when another class has the same probability.
	Strict bool
}

// Model is a trained classifier. It is read-only after Train or LoadModel
// and safe for concurrent use.
type Model struct {
	classifier *bayesian.Classifier
	classes    []models.Category
}

// Train builds a model from samples. At least two distinct categories are
// required.
func Train(samples []Sample) (*Model, error) {
	var classes []models.Category
	for _, s := range samples {
		if !s.Category.IsValid() {
			return nil, errors.ModelError(errors.CodeModelTrain, "categorizer",
				fmt.Errorf("sample %q has unknown category %q", s.Description, s.Category))
		}
		if !slices.Contains(classes, s.Category) {
			classes = append(classes, s.Category)
		}
	}
	if len(classes) < 2 {
		return nil, errors.ModelError(errors.CodeModelTrain, "categorizer",
			fmt.Errorf("training needs at least two categories, got %d", len(classes)))
	}
	slices.Sort(classes)

	bClasses := make([]bayesian.Class, len(classes))
	for i, c := range classes {
		bClasses[i] = bayesian.Class(c)
	}

	cl := bayesian.NewClassifierTfIdf(bClasses...)
	learned := 0
	for _, s := range samples {
		terms := Tokenize(s.Description)
		if len(terms) == 0 {
			continue
		}
		cl.Learn(terms, bayesian.Class(s.Category))
		learned++
	}
	if learned == 0 {
		return nil, errors.ModelError(errors.CodeModelTrain, "categorizer",
			fmt.Errorf("no sample has usable description terms"))
	}
	cl.ConvertTermsFreqToTfIdf()

	return &Model{classifier: cl, classes: classes}, nil
}

// Tokenize turns a description into classifier terms: normalized words of at
// least two characters that are not plain numbers.
func Tokenize(description string) []string {
	var terms []string
	for _, w := range strings.Fields(models.NormalizeDescription(description)) {
		if len([]rune(w)) < 2 || isNumber(w) {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

func isNumber(w string) bool {
	return strings.IndexFunc(w, func(r rune) bool { return !unicode.IsDigit(r) }) < 0
}

// Classes returns the categories the model can predict.
func (m *Model) Classes() []models.Category {
	return slices.Clone(m.classes)
}

// Predict returns the most probable category for description. Descriptions
// without usable terms produce a zero-probability prediction.
func (m *Model) Predict(description string) (pred Prediction, err error) {
	terms := Tokenize(description)
	if len(terms) == 0 {
		return Prediction{Category: models.CategoryOther}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = errors.ModelError(errors.CodeModelScore, "categorizer", fmt.Errorf("panic: %v", r))
		}
	}()

	scores, inx, strict, err := m.classifier.SafeProbScores(terms)
	if err != nil {
		return Prediction{}, errors.ModelError(errors.CodeModelScore, "categorizer", err)
	}
	return Prediction{
		Category:    models.Category(m.classifier.Classes[inx]),
		Probability: scores[inx],
		Strict:      strict,
	}, nil
}

// Save writes the model in the classifier's gob format.
func (m *Model) Save(w io.Writer) error {
	if err := m.classifier.WriteTo(w); err != nil {
		return errors.ModelError(errors.CodeModelTrain, "categorizer", err)
	}
	return nil
}

// SaveFile writes the model to path.
func (m *Model) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.FileError(errors.CodeFileWrite, path, err)
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return errors.FileError(errors.CodeFileWrite, path, err)
	}
	return nil
}

// LoadModel reads a model written by Save and checks that it can predict.
func LoadModel(r io.Reader) (m *Model, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			m, err = nil, errors.ModelError(errors.CodeModelLoad, "categorizer", fmt.Errorf("panic: %v", rec))
		}
	}()

	cl, err := bayesian.NewClassifierFromReader(r)
	if err != nil {
		return nil, errors.ModelError(errors.CodeModelLoad, "categorizer", err)
	}

	classes := make([]models.Category, 0, len(cl.Classes))
	for _, c := range cl.Classes {
		category, ok := models.ParseCategory(string(c))
		if !ok || string(category) != string(c) {
			return nil, errors.ModelError(errors.CodeModelLoad, "categorizer",
				fmt.Errorf("model class %q is not a known category", c))
		}
		classes = append(classes, category)
	}

	m = &Model{classifier: cl, classes: classes}
	if _, err := m.Predict("model load check"); err != nil {
		return nil, errors.ModelError(errors.CodeModelLoad, "categorizer", err)
	}
	return m, nil
}

// LoadModelFile reads a model from path.
func LoadModelFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.ModelError(errors.CodeModelLoad, "categorizer", err).
			WithContext("path", path)
	}
	defer f.Close()
	return LoadModel(f)
}

// DefaultModel returns the model trained on the built-in seed corpus. It is
// trained once per process.
var DefaultModel = sync.OnceValues(func() (*Model, error) {
	return Train(SeedCorpus())
})
