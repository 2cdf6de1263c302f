package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/sirupsen/logrus"
)

// Logger interface defines the logging contract
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger
}

// Fields represents a map of key-value pairs for structured logging
type Fields map[string]interface{}

// Config holds configuration options for the logger
type Config struct {
	Level            Level  `json:"level"`
	Format           Format `json:"format"`
	Output           Output `json:"output"`
	File             string `json:"file,omitempty"`
	DisableTimestamp bool   `json:"disable_timestamp,omitempty"`
	CallerInfo       bool   `json:"caller_info,omitempty"`

	// Writer overrides Output when set. Used by tests to capture entries.
	Writer io.Writer `json:"-"`
}

// Level represents log levels
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Format represents log output formats
type Format string

const (
	JSONFormat Format = "json"
	TextFormat Format = "text"
)

// Output represents log output destinations
type Output string

const (
	StdoutOutput Output = "stdout"
	StderrOutput Output = "stderr"
	FileOutput   Output = "file"
)

// logrusLogger keeps an entry rather than the bare logger so that fields
// added with WithField survive into derived loggers.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger configuration: %w", err)
	}

	logger := logrus.New()

	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	logger.SetLevel(level)

	writer, err := getOutputWriter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to set log output: %w", err)
	}
	logger.SetOutput(writer)
	logger.SetFormatter(getFormatter(config))
	logger.SetReportCaller(config.CallerInfo)

	return &logrusLogger{entry: logrus.NewEntry(logger)}, nil
}

// DefaultConfig returns a default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  InfoLevel,
		Format: TextFormat,
		Output: StderrOutput,
	}
}

// DebugConfig returns a configuration suitable for debugging
func DebugConfig() *Config {
	return &Config{
		Level:      DebugLevel,
		Format:     TextFormat,
		Output:     StderrOutput,
		CallerInfo: true,
	}
}

// Validate checks level, format and output, and that file output names a
// file.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Level, validation.Required, validation.In(DebugLevel, InfoLevel, WarnLevel, ErrorLevel)),
		validation.Field(&c.Format, validation.Required, validation.In(JSONFormat, TextFormat)),
		validation.Field(&c.Output, validation.Required, validation.In(StdoutOutput, StderrOutput, FileOutput)),
		validation.Field(&c.File, validation.When(c.Output == FileOutput && c.Writer == nil, validation.Required)),
	)
}

func getOutputWriter(config *Config) (io.Writer, error) {
	if config.Writer != nil {
		return config.Writer, nil
	}
	switch config.Output {
	case StdoutOutput:
		return os.Stdout, nil
	case FileOutput:
		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return file, nil
	default:
		return os.Stderr, nil
	}
}

func getFormatter(config *Config) logrus.Formatter {
	if config.Format == JSONFormat {
		return &logrus.JSONFormatter{
			DisableTimestamp: config.DisableTimestamp,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			},
		}
	}
	return &logrus.TextFormatter{
		DisableTimestamp: config.DisableTimestamp,
		TimestampFormat:  "2006-01-02 15:04:05",
		FullTimestamp:    !config.DisableTimestamp,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		},
	}
}

func (l *logrusLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{entry: l.entry.WithError(err)}
}

func (l *logrusLogger) WithComponent(component string) Logger {
	return l.WithField("component", component)
}

var globalLogger Logger

func init() {
	var err error
	globalLogger, err = NewLogger(DefaultConfig())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize logger")
	}
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger Logger) {
	globalLogger = logger
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() Logger {
	return globalLogger
}
