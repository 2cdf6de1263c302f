package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"smart-reconciliation-service/pkg/errors"
	"smart-reconciliation-service/pkg/logger"
)

const (
	keyLogFormat = "log-format"
	keyLogFile   = "log-file"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Bank statement and ledger reconciliation tool",
	Long: `Reconciler pairs bank statement lines with ledger entries, explains every
mismatch with a root cause, categorizes transactions, flags anomalous rows and
recommends follow-up actions.

Examples:
  reconciler reconcile --bank bank_statement.csv --ledger ledger_entries.csv
  reconciler reconcile --bank b.csv --ledger l.csv --format csv --output report.csv
  reconciler generate --out-dir data --rows 1500
  reconciler train --corpus data/transactions.csv --model-out model.gob
  reconciler version`,
	Version:           getVersionString(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	return NewCLIErrorHandler().HandleError(err)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String(keyLogFormat, string(logger.TextFormat), "log format: text or json")
	rootCmd.PersistentFlags().String(keyLogFile, "", "append logs to this file instead of stderr")
}

// setup binds the running command's flags, reads the config file and
// configures logging. Flags are bound per command so that subcommands can
// reuse key names.
func setup(cmd *cobra.Command, _ []string) error {
	v := viper.GetViper()
	v.SetEnvPrefix("RECONCILER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := bindFlags(v, cmd.Flags()); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "flags", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.ConfigurationError(errors.CodeMissingConfig, "config", cfgFile, err).
				WithSuggestion("Check that the config file exists and is valid YAML, TOML or JSON")
		}
	}

	logConfig := logger.DefaultConfig()
	if v.GetBool("verbose") {
		logConfig = logger.DebugConfig()
	}
	logConfig.Format = logger.Format(v.GetString(keyLogFormat))
	if file := v.GetString(keyLogFile); file != "" {
		logConfig.Output = logger.FileOutput
		logConfig.File = file
	}
	log, err := logger.NewLogger(logConfig)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "logger", logConfig.Format, err).
			WithSuggestion("Use --log-format text or json")
	}
	logger.SetGlobalLogger(log)
	if cfgFile != "" {
		log.WithField("file", v.ConfigFileUsed()).Debug("Using config file")
	}
	return nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err == nil {
			err = v.BindPFlag(f.Name, f)
		}
	})
	return err
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
