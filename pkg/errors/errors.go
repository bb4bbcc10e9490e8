// Package errors defines the categorized error type used across the
// reconciliation engine and CLI.
//
// Errors are split into categories that map directly onto the failure
// semantics of the engine: configuration errors are fatal and reject a run
// before any matching happens, while mapping and coercion errors are
// non-fatal diagnostics collected alongside a completed run. Each error
// carries a machine-readable code, an optional suggestion for the operator,
// and arbitrary context values for structured logging.
package errors

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Category groups errors by the subsystem and severity they belong to.
type Category string

const (
	CategoryConfiguration  Category = "configuration"
	CategoryMapping        Category = "mapping"
	CategoryCoercion       Category = "coercion"
	CategoryFile           Category = "file"
	CategoryParse          Category = "parse"
	CategoryReconciliation Category = "reconciliation"
	CategoryStorage        Category = "storage"
	CategoryInternal       Category = "internal"
)

// Code identifies a specific error condition within a category.
type Code string

const (
	// Configuration codes
	CodeNoEnabledFields    Code = "no_enabled_fields"
	CodeRuleTypeMismatch   Code = "rule_type_mismatch"
	CodeUnknownRuleKind    Code = "unknown_rule_kind"
	CodeBadAggregation     Code = "bad_aggregation"
	CodeBadThreshold       Code = "bad_threshold"
	CodeDuplicateField     Code = "duplicate_field"
	CodeInvalidConfig      Code = "invalid_config"

	// Mapping / coercion codes
	CodeUnmappableRow Code = "unmappable_row"
	CodeBadCellValue  Code = "bad_cell_value"

	// File / parse codes
	CodeFileNotFound  Code = "file_not_found"
	CodeFileRead      Code = "file_read"
	CodeInvalidFormat Code = "invalid_format"
	CodeMissingHeader Code = "missing_header"

	// Reconciliation codes
	CodeRunAborted      Code = "run_aborted"
	CodeProcessingError Code = "processing_error"

	// Storage codes
	CodeStoreOpen  Code = "store_open"
	CodeStoreQuery Code = "store_query"
	CodeStoreWrite Code = "store_write"

	// Internal codes
	CodeUnexpected Code = "unexpected_error"
)

// Context holds supplemental key/value details attached to an error.
type Context map[string]interface{}

// Error is the application error type. It wraps an optional cause and keeps
// the stack trace captured at construction time.
type Error struct {
	Category   Category          `json:"category"`
	Code       Code              `json:"code"`
	Message    string            `json:"message"`
	Suggestion string            `json:"suggestion,omitempty"`
	Context    Context           `json:"context,omitempty"`
	Cause      error             `json:"-"`
	StackTrace errors.StackTrace `json:"-"`
}

func (e *Error) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("%s (suggestion: %s)", e.Message, e.Suggestion)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode maps the error category to a CLI exit code.
func (e *Error) ExitCode() int {
	switch e.Category {
	case CategoryFile:
		return 2
	case CategoryParse, CategoryMapping, CategoryCoercion:
		return 3
	case CategoryConfiguration:
		return 4
	case CategoryReconciliation, CategoryInternal:
		return 5
	case CategoryStorage:
		return 6
	default:
		return 1
	}
}

// WithContext attaches a key/value detail to the error and returns it.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(Context)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion attaches an operator-facing suggestion and returns the error.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// New creates a new Error with a captured stack trace.
func New(category Category, code Code, message string) *Error {
	return &Error{
		Category:   category,
		Code:       code,
		Message:    message,
		StackTrace: errors.New("").(stackTracer).StackTrace(),
	}
}

// Wrap wraps an existing error into an Error. Returns nil when err is nil.
func Wrap(err error, category Category, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Category:   category,
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: errors.WithStack(err).(stackTracer).StackTrace(),
	}
}

// Configuration creates a fatal configuration error naming the offending
// field or setting. The engine refuses to run on these.
func Configuration(code Code, field string, detail string) *Error {
	msg := fmt.Sprintf("invalid configuration for %q: %s", field, detail)
	return New(CategoryConfiguration, code, msg).
		WithSuggestion("fix the matching settings document and rerun").
		WithContext("field", field)
}

// Mapping creates a non-fatal mapping diagnostic for a row that could not
// be mapped to any enabled field.
func Mapping(source string, rowIndex int) *Error {
	msg := fmt.Sprintf("row %d from %s source has no mappable columns", rowIndex, source)
	return New(CategoryMapping, CodeUnmappableRow, msg).
		WithSuggestion("check the column mapping for this source").
		WithContext("source", source).
		WithContext("row", rowIndex)
}

// Coercion creates a non-fatal coercion diagnostic for a cell that could
// not be parsed to its field's data type.
func Coercion(field string, rowIndex int, value string, err error) *Error {
	msg := fmt.Sprintf("row %d: cannot coerce %q for field %q", rowIndex, value, field)
	return Wrap(err, CategoryCoercion, CodeBadCellValue, msg).
		WithContext("field", field).
		WithContext("row", rowIndex).
		WithContext("value", value)
}

// File creates a file access error for the given path.
func File(code Code, path string, err error) *Error {
	var msg, suggestion string
	switch code {
	case CodeFileNotFound:
		msg = fmt.Sprintf("file not found: %s", path)
		suggestion = "check that the path is correct and the file exists"
	default:
		msg = fmt.Sprintf("cannot read file: %s", path)
		suggestion = "check file permissions and encoding"
	}

	result := Wrap(err, CategoryFile, code, msg)
	if result == nil {
		result = New(CategoryFile, code, msg)
	}
	return result.WithSuggestion(suggestion).WithContext("path", path)
}

// Parse creates a spreadsheet parse error at a specific line.
func Parse(code Code, file string, line int, err error) *Error {
	msg := fmt.Sprintf("parse error in %s at line %d", file, line)
	result := Wrap(err, CategoryParse, code, msg)
	if result == nil {
		result = New(CategoryParse, code, msg)
	}
	return result.
		WithSuggestion("check the file format and delimiter settings").
		WithContext("file", file).
		WithContext("line", line)
}

// Reconciliation creates an error for a failed reconciliation run.
func Reconciliation(code Code, operation string, err error) *Error {
	msg := fmt.Sprintf("reconciliation failed during %s", operation)
	result := Wrap(err, CategoryReconciliation, code, msg)
	if result == nil {
		result = New(CategoryReconciliation, code, msg)
	}
	return result.WithContext("operation", operation)
}

// Storage creates an error for the run-log store.
func Storage(code Code, operation string, err error) *Error {
	msg := fmt.Sprintf("run log storage error during %s", operation)
	result := Wrap(err, CategoryStorage, code, msg)
	if result == nil {
		result = New(CategoryStorage, code, msg)
	}
	return result.
		WithSuggestion("check the run log database path and permissions").
		WithContext("operation", operation)
}

// Internal creates an error for unexpected conditions.
func Internal(operation string, err error) *Error {
	msg := fmt.Sprintf("unexpected error during %s", operation)
	result := Wrap(err, CategoryInternal, CodeUnexpected, msg)
	if result == nil {
		result = New(CategoryInternal, CodeUnexpected, msg)
	}
	return result.
		WithSuggestion("this is likely a bug, report it with the error details").
		WithContext("operation", operation)
}

// IsCategory reports whether err is an *Error of the given category.
func IsCategory(err error, category Category) bool {
	appErr, ok := AsError(err)
	return ok && appErr.Category == category
}

// AsError extracts an *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Summary aggregates multiple non-fatal errors for diagnostics reporting.
type Summary struct {
	Total      int              `json:"total"`
	ByCategory map[Category]int `json:"by_category"`
	Samples    []*Error         `json:"samples,omitempty"`
}

const maxSummarySamples = 5

// NewSummary builds a Summary over the given errors, keeping at most five
// samples for reporting.
func NewSummary(errs []*Error) *Summary {
	summary := &Summary{
		Total:      len(errs),
		ByCategory: make(map[Category]int),
	}

	for _, err := range errs {
		summary.ByCategory[err.Category]++
	}

	if len(errs) > maxSummarySamples {
		summary.Samples = errs[:maxSummarySamples]
	} else {
		summary.Samples = errs
	}

	return summary
}

// Error renders the summary as a single message.
func (s *Summary) Error() string {
	if s.Total == 0 {
		return "no errors"
	}
	if s.Total == 1 {
		return s.Samples[0].Error()
	}

	var parts []string
	for category, count := range s.ByCategory {
		parts = append(parts, fmt.Sprintf("%s: %d", category, count))
	}
	return fmt.Sprintf("%d errors occurred (%s)", s.Total, strings.Join(parts, ", "))
}
