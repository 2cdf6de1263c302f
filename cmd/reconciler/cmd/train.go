package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"smart-reconciliation-service/internal/categorizer"
	"smart-reconciliation-service/pkg/errors"
	"smart-reconciliation-service/pkg/logger"
)

const (
	keyCorpus   = "corpus"
	keyModelOut = "model-out"
	keyRulesOut = "rules-out"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the categorizer model from a labeled corpus",
	Long: `Train reads a CSV with a description (or remark) column and a category column,
trains the naive Bayes categorizer and writes the model file that
'reconciler reconcile --model' loads. Rows labeled outside the category set are
skipped.

Examples:
  reconciler train --corpus data/transactions.csv --model-out model.gob
  reconciler train --corpus data/transactions.csv --model-out model.gob --rules-out rules.yaml`,
	RunE: runTrain,
}

func init() {
	rootCmd.AddCommand(trainCmd)
	f := trainCmd.Flags()
	f.String(keyCorpus, "", "labeled corpus CSV (required)")
	f.String(keyModelOut, "", "model file to write (required)")
	f.String(keyRulesOut, "", "also write the default keyword rules as YAML")
	trainCmd.MarkFlagRequired(keyCorpus)
	trainCmd.MarkFlagRequired(keyModelOut)
}

func runTrain(cmd *cobra.Command, _ []string) error {
	log := logger.GetGlobalLogger().WithComponent("train")
	corpusPath := viper.GetString(keyCorpus)
	modelPath := viper.GetString(keyModelOut)

	f, err := os.Open(corpusPath)
	if err != nil {
		return errors.FileError(errors.CodeFileNotFound, corpusPath, err)
	}
	defer f.Close()

	samples, skipped, err := categorizer.ReadSamplesCSV(f, corpusPath)
	if err != nil {
		return err
	}
	model, err := categorizer.Train(samples)
	if err != nil {
		return err
	}

	correct := 0
	for _, s := range samples {
		if pred, err := model.Predict(s.Description); err == nil && pred.Category == s.Category {
			correct++
		}
	}

	if err := model.SaveFile(modelPath); err != nil {
		return err
	}

	if rulesPath := viper.GetString(keyRulesOut); rulesPath != "" {
		out, err := os.Create(rulesPath)
		if err != nil {
			return errors.FileError(errors.CodeFileWrite, rulesPath, err)
		}
		defer out.Close()
		if err := categorizer.WriteRules(out, categorizer.DefaultRules()); err != nil {
			return errors.FileError(errors.CodeFileWrite, rulesPath, err)
		}
	}

	accuracy := float64(correct) / float64(len(samples))
	log.WithFields(logger.Fields{
		"samples":  len(samples),
		"skipped":  skipped,
		"classes":  len(model.Classes()),
		"accuracy": accuracy,
	}).Info("Model trained")
	fmt.Fprintf(cmd.OutOrStdout(), "Trained on %d samples (%d skipped), training accuracy %.1f%%, model written to %s\n",
		len(samples), skipped, accuracy*100, modelPath)
	return nil
}
