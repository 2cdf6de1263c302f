package errors

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ErrorCategory groups errors by how the pipeline reacts to them.
type ErrorCategory string

const (
	CategoryFile           ErrorCategory = "file"
	CategorySchema         ErrorCategory = "schema"
	CategoryParse          ErrorCategory = "parse"
	CategoryModel          ErrorCategory = "model"
	CategoryConfiguration  ErrorCategory = "configuration"
	CategoryReconciliation ErrorCategory = "reconciliation"
	CategoryInternal       ErrorCategory = "internal"
)

// ErrorCode represents specific error codes within categories
type ErrorCode string

const (
	// File errors
	CodeFileNotFound   ErrorCode = "file_not_found"
	CodeFilePermission ErrorCode = "file_permission"
	CodeFileCorrupted  ErrorCode = "file_corrupted"
	CodeFileWrite      ErrorCode = "file_write"

	// Schema errors
	CodeMissingColumn ErrorCode = "missing_column"
	CodeEmptyInput    ErrorCode = "empty_input"
	CodeEncodingError ErrorCode = "encoding_error"

	// Parse errors
	CodeInvalidDate   ErrorCode = "invalid_date"
	CodeInvalidAmount ErrorCode = "invalid_amount"
	CodeInvalidRow    ErrorCode = "invalid_row"

	// Model errors
	CodeModelLoad      ErrorCode = "model_load"
	CodeModelTrain     ErrorCode = "model_train"
	CodeModelScore     ErrorCode = "model_score"
	CodeNonFiniteInput ErrorCode = "non_finite_input"

	// Configuration errors
	CodeInvalidConfig ErrorCode = "invalid_config"
	CodeMissingConfig ErrorCode = "missing_config"

	// Reconciliation errors
	CodeMatchingFailed  ErrorCode = "matching_failed"
	CodeProcessingError ErrorCode = "processing_error"

	// Internal errors
	CodeUnexpectedError ErrorCode = "unexpected_error"
	CodeCancelled       ErrorCode = "cancelled"
)

// ReconcilerError is the base error type for all application errors
type ReconcilerError struct {
	Category   ErrorCategory     `json:"category"`
	Code       ErrorCode         `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

// Context provides additional information about the error
type Context map[string]interface{}

func (e *ReconcilerError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", msg, e.Suggestion)
	}
	return msg
}

func (e *ReconcilerError) Unwrap() error {
	return e.Cause
}

// GetExitCode returns the process exit code for the error category.
func (e *ReconcilerError) GetExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategorySchema, CategoryParse:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryModel, CategoryInternal:
		return 5
	default:
		return 1
	}
}

// Aborts reports whether the error must stop a reconciliation run.
// Parse errors are collected per record and model errors degrade a
// component, everything else aborts.
func (e *ReconcilerError) Aborts() bool {
	return e.Category != CategoryParse && e.Category != CategoryModel
}

// WithContext adds context information to the error
func (e *ReconcilerError) WithContext(key string, value interface{}) *ReconcilerError {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for fixing the error
func (e *ReconcilerError) WithSuggestion(suggestion string) *ReconcilerError {
	e.Suggestion = suggestion
	return e
}

// New creates a new ReconcilerError
func New(category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error with ReconcilerError context
func Wrap(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}

	return &ReconcilerError{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func build(category ErrorCategory, code ErrorCode, message string, err error) *ReconcilerError {
	if err != nil {
		return Wrap(err, category, code, message)
	}
	return New(category, code, message)
}

// FileError creates a file-related error
func FileError(code ErrorCode, path string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeFileNotFound:
		message = fmt.Sprintf("file not found: %s", path)
		suggestion = "check if the file path is correct and the file exists"
	case CodeFilePermission:
		message = fmt.Sprintf("permission denied accessing file: %s", path)
		suggestion = "check file permissions and ensure you have read access"
	case CodeFileCorrupted:
		message = fmt.Sprintf("file appears to be corrupted: %s", path)
		suggestion = "verify the file integrity and try using a backup copy"
	case CodeFileWrite:
		message = fmt.Sprintf("cannot write file: %s", path)
		suggestion = "ensure the output directory exists and is writable"
	default:
		message = fmt.Sprintf("file error: %s", path)
		suggestion = "check the file and try again"
	}

	return build(CategoryFile, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file_path", path)
}

// SchemaError reports an input whose columns cannot be mapped to the
// logical record fields. It always aborts the run.
func SchemaError(code ErrorCode, file string, columns []string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeMissingColumn:
		message = fmt.Sprintf("missing required column(s) %s in %s", strings.Join(columns, ", "), file)
		suggestion = "rename the header or add a column alias for it"
	case CodeEmptyInput:
		message = fmt.Sprintf("no header row found in %s", file)
		suggestion = "provide a CSV file with a header row"
	case CodeEncodingError:
		message = fmt.Sprintf("invalid UTF-8 encoding in %s", file)
		suggestion = "ensure the file is saved in UTF-8 encoding"
	default:
		message = fmt.Sprintf("unrecognized schema in %s", file)
		suggestion = "check the file header against the supported column names"
	}

	return build(CategorySchema, code, message, err).
		WithSuggestion(suggestion).
		WithContext("file", file).
		WithContext("columns", columns)
}

// ParseError reports a single record whose fields could not be coerced.
func ParseError(code ErrorCode, file string, line int, column string, value string, err error) *ReconcilerError {
	var message string

	switch code {
	case CodeInvalidDate:
		message = fmt.Sprintf("invalid date in %s at line %d, column '%s': '%s'", file, line, column, value)
	case CodeInvalidAmount:
		message = fmt.Sprintf("invalid amount in %s at line %d, column '%s': '%s'", file, line, column, value)
	case CodeInvalidRow:
		message = fmt.Sprintf("malformed row in %s at line %d", file, line)
	default:
		message = fmt.Sprintf("parse error in %s at line %d", file, line)
	}

	return build(CategoryParse, code, message, err).
		WithSuggestion("correct the value or remove the row; it was excluded from reconciliation").
		WithContext("file", file).
		WithContext("line", line).
		WithContext("column", column).
		WithContext("value", value)
}

// ModelError reports a categorizer or anomaly model failure. Callers degrade
// the component instead of aborting.
func ModelError(code ErrorCode, component string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeModelLoad:
		message = fmt.Sprintf("%s model could not be loaded", component)
		suggestion = "retrain the model with the train command or omit the model file"
	case CodeModelTrain:
		message = fmt.Sprintf("%s model could not be trained", component)
		suggestion = "check that the training corpus has labeled rows for at least two categories"
	case CodeModelScore:
		message = fmt.Sprintf("%s scoring failed", component)
		suggestion = "results are reported without anomaly scores"
	case CodeNonFiniteInput:
		message = fmt.Sprintf("%s received non-finite features", component)
		suggestion = "results are reported without anomaly scores"
	default:
		message = fmt.Sprintf("%s model error", component)
		suggestion = "the component ran in degraded mode"
	}

	return build(CategoryModel, code, message, err).
		WithSuggestion(suggestion).
		WithContext("component", component)
}

// ConfigurationError creates a configuration-related error
func ConfigurationError(code ErrorCode, setting string, value interface{}, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeInvalidConfig:
		message = fmt.Sprintf("invalid configuration for '%s': %v", setting, value)
		suggestion = "check the command help for valid values"
	case CodeMissingConfig:
		message = fmt.Sprintf("missing required configuration: %s", setting)
		suggestion = "provide this setting as a flag, environment variable or config file entry"
	default:
		message = fmt.Sprintf("configuration error: %s", setting)
		suggestion = "check your configuration and try again"
	}

	return build(CategoryConfiguration, code, message, err).
		WithSuggestion(suggestion).
		WithContext("setting", setting).
		WithContext("value", value)
}

// ReconciliationError creates a reconciliation-related error
func ReconciliationError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message string

	switch code {
	case CodeMatchingFailed:
		message = fmt.Sprintf("matching failed during %s", operation)
	default:
		message = fmt.Sprintf("processing error during %s", operation)
	}

	return build(CategoryReconciliation, code, message, err).
		WithSuggestion("review the input data and matching configuration").
		WithContext("operation", operation)
}

// InternalError creates an internal error
func InternalError(code ErrorCode, operation string, err error) *ReconcilerError {
	var message, suggestion string

	switch code {
	case CodeCancelled:
		message = fmt.Sprintf("%s was cancelled", operation)
		suggestion = "rerun the command"
	default:
		message = fmt.Sprintf("unexpected error during %s", operation)
		suggestion = "this is likely a bug - please report it with the error details"
	}

	return build(CategoryInternal, code, message, err).
		WithSuggestion(suggestion).
		WithContext("operation", operation)
}

// ErrorSummary provides a summary of multiple errors
type ErrorSummary struct {
	Total        int                   `json:"total"`
	ByCategory   map[ErrorCategory]int `json:"by_category"`
	ByCode       map[ErrorCode]int     `json:"by_code"`
	Errors       []*ReconcilerError    `json:"-"`
	SampleErrors []*ReconcilerError    `json:"sample_errors,omitempty"`
}

// MaxSampleErrors bounds ErrorSummary.SampleErrors.
const MaxSampleErrors = 5

// NewErrorSummary creates a new error summary
func NewErrorSummary(errs []*ReconcilerError) *ErrorSummary {
	summary := &ErrorSummary{
		Total:      len(errs),
		ByCategory: make(map[ErrorCategory]int),
		ByCode:     make(map[ErrorCode]int),
		Errors:     errs,
	}
	if summary.Errors == nil {
		summary.Errors = []*ReconcilerError{}
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
		summary.ByCode[err.Code]++
	}

	if len(errs) > MaxSampleErrors {
		summary.SampleErrors = errs[:MaxSampleErrors]
	} else {
		summary.SampleErrors = errs
	}

	return summary
}

func (es *ErrorSummary) Error() string {
	if es.Total == 0 {
		return "no errors"
	}
	if es.Total == 1 {
		return es.Errors[0].Error()
	}

	categories := make([]string, 0, len(es.ByCategory))
	for category, count := range es.ByCategory {
		categories = append(categories, fmt.Sprintf("%s: %d", category, count))
	}
	sort.Strings(categories)

	return fmt.Sprintf("%d errors occurred (%s)", es.Total, strings.Join(categories, ", "))
}

// HasCategory checks if the summary contains errors of the given category
func (es *ErrorSummary) HasCategory(category ErrorCategory) bool {
	return es.ByCategory[category] > 0
}

// GetExitCode returns the highest priority exit code from all errors
func (es *ErrorSummary) GetExitCode() int {
	if es.Total == 0 {
		return 0
	}

	maxCode := 1
	for _, err := range es.Errors {
		if code := err.GetExitCode(); code > maxCode {
			maxCode = code
		}
	}
	return maxCode
}

// AsReconcilerError extracts a ReconcilerError from an error chain
func AsReconcilerError(err error) (*ReconcilerError, bool) {
	var reconcilerErr *ReconcilerError
	if errors.As(err, &reconcilerErr) {
		return reconcilerErr, true
	}
	return nil, false
}

// IsCategory reports whether err carries a ReconcilerError of the category.
func IsCategory(err error, category ErrorCategory) bool {
	rerr, ok := AsReconcilerError(err)
	return ok && rerr.Category == category
}

// WrapIfNeeded wraps an error if it's not already a ReconcilerError
func WrapIfNeeded(err error, category ErrorCategory, code ErrorCode, message string) *ReconcilerError {
	if err == nil {
		return nil
	}
	if reconcilerErr, ok := AsReconcilerError(err); ok {
		return reconcilerErr
	}
	return Wrap(err, category, code, message)
}
