package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging.
// Use these constants instead of raw strings.
const (
	// Identity and context
	FieldCleanerID   = "cleaner_id"
	FieldExecutionID = "execution_id"
	FieldRecordType  = "record_type"
	FieldRecordID    = "record_id"
	FieldPreviousID  = "previous_record_id"

	// Components
	FieldComponent = "component"

	// Operations
	FieldOperation = "operation"
	FieldTable     = "table"
	FieldTables    = "tables"
	FieldRetained  = "retained_versions"
	FieldKeepCount = "versions_to_keep"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldNextRunAt  = "next_run_at"

	// Errors
	FieldError = "error"

	// Counts
	FieldCount   = "count"
	FieldDeleted = "deleted_rows"

	// Status
	FieldStatus = "status"

	// Storage
	FieldDriver = "driver"
	FieldPath   = "path"

	// Glyph attached by the symbol helpers
	FieldSymbol = "symbol"
)

// Context keys for propagating logging context
type contextKey string

const (
	cleanerIDKey   contextKey = "logger_cleaner_id"
	executionIDKey contextKey = "logger_execution_id"
	componentKey   contextKey = "logger_component"
)

// WithCleanerID adds a cleaner job ID to the context for logging
func WithCleanerID(ctx context.Context, cleanerID int64) context.Context {
	return context.WithValue(ctx, cleanerIDKey, cleanerID)
}

// WithExecutionID adds an execution ID to the context for logging
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if cleanerID, ok := ctx.Value(cleanerIDKey).(int64); ok && cleanerID != 0 {
		fields = append(fields, FieldCleanerID, cleanerID)
	}
	if executionID, ok := ctx.Value(executionIDKey).(string); ok && executionID != "" {
		fields = append(fields, FieldExecutionID, executionID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// FromContext returns base with the fields carried by ctx attached.
// Falls back to the global Logger when base is nil.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	runner := cleaner.NewRunner(deps, logger.ComponentLogger("cleaner.runner"))
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
