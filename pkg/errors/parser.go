package errors

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// ParseErrorCollector accumulates per-record parse errors. Records that fail
// are excluded from reconciliation but never silently: every failure is
// counted, and the first Limit errors are retained as samples.
type ParseErrorCollector struct {
	errors []*ReconcilerError
	total  int
	limit  int
}

// NewParseErrorCollector creates a collector retaining at most limit errors.
// A non-positive limit retains all of them.
func NewParseErrorCollector(limit int) *ParseErrorCollector {
	return &ParseErrorCollector{limit: limit}
}

// Add records err. Non-parse errors are rejected so that aborting errors
// cannot be swallowed by a collector.
func (c *ParseErrorCollector) Add(err *ReconcilerError) error {
	if err == nil {
		return nil
	}
	if err.Category != CategoryParse {
		return err
	}
	c.total++
	if c.limit <= 0 || len(c.errors) < c.limit {
		c.errors = append(c.errors, err)
	}
	return nil
}

// Total returns the number of errors added, including the ones not retained.
func (c *ParseErrorCollector) Total() int {
	return c.total
}

// HasErrors returns true if any errors have been collected
func (c *ParseErrorCollector) HasErrors() bool {
	return c.total > 0
}

// Errors returns the retained errors in insertion order.
func (c *ParseErrorCollector) Errors() []*ReconcilerError {
	return c.errors
}

// Summary returns an error summary over the retained errors with Total
// corrected to the full count.
func (c *ParseErrorCollector) Summary() *ErrorSummary {
	summary := NewErrorSummary(c.errors)
	summary.Total = c.total
	return summary
}

// FormatParseErrorsForUser groups errors by file, showing the first few of
// each in detail.
func FormatParseErrorsForUser(errs []*ReconcilerError) string {
	if len(errs) == 0 {
		return "No parse errors"
	}

	byFile := make(map[string][]*ReconcilerError)
	for _, err := range errs {
		file := "unknown"
		if f, ok := err.Context["file"].(string); ok && f != "" {
			file = filepath.Base(f)
		}
		byFile[file] = append(byFile[file], err)
	}

	files := make([]string, 0, len(byFile))
	for file := range byFile {
		files = append(files, file)
	}
	sort.Strings(files)

	const maxDetailed = 3
	var lines []string
	lines = append(lines, fmt.Sprintf("Found %d parse errors:", len(errs)))
	for _, file := range files {
		fileErrors := byFile[file]
		lines = append(lines, fmt.Sprintf("File: %s (%d errors)", file, len(fileErrors)))
		for i, err := range fileErrors {
			if i == maxDetailed {
				lines = append(lines, fmt.Sprintf("  ... and %d more errors in this file", len(fileErrors)-maxDetailed))
				break
			}
			lines = append(lines, "  → "+err.Message)
		}
	}

	return strings.Join(lines, "\n")
}

// SuggestionsForCommonErrors provides suggestions for common parsing issues
func SuggestionsForCommonErrors() string {
	return `Common solutions for parse errors:

• Invalid amounts: use a plain decimal (1234.50); currency symbols, thousands
  separators, (parentheses) and trailing minus are accepted
• Invalid dates: use YYYY-MM-DD; DD/MM/YYYY and a few other layouts are also read
• Missing columns: each file needs id or reference, date, amount and description
• Encoding issues: save your file in UTF-8 encoding`
}
