// Package logger provides structured logging utilities with context propagation.
package logger

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/trace"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"

	"github.com/kart-io/leaf-server/pkg/metadata"
)

// contextKey is the type for context keys to avoid collisions.
type contextKey int

const loggerFieldsKey contextKey = 0

// Field names attached to every request log line.
const (
	FieldRequestID    = "request_id"
	FieldUserID       = "user_id"
	FieldGroupID      = "group_id"
	FieldRunID        = "run_id"
	FieldExperimentID = "experiment_id"
	FieldSource       = "source"
	FieldCaller       = "caller"
	FieldRequestor    = "requestor_id"
)

// MissingValue is logged for correlation keys absent from the request.
const MissingValue = "None"

// CorrelationKeys are the incoming metadata keys copied into request log fields.
var CorrelationKeys = []string{
	FieldRequestID,
	FieldUserID,
	FieldGroupID,
	FieldRunID,
	FieldExperimentID,
}

var correlation = metadata.NewForwarder(CorrelationKeys...)

// loggerFields holds structured logging fields extracted from context.
type loggerFields struct {
	fields map[string]interface{}
}

func newLoggerFields() *loggerFields {
	return &loggerFields{
		fields: make(map[string]interface{}),
	}
}

func (lf *loggerFields) clone() *loggerFields {
	newFields := newLoggerFields()
	for k, v := range lf.fields {
		newFields.fields[k] = v
	}
	return newFields
}

func (lf *loggerFields) set(key string, value interface{}) {
	lf.fields[key] = value
}

// toSlice converts fields map to a key-value slice, ordered by key so log
// lines are stable.
func (lf *loggerFields) toSlice() []interface{} {
	if len(lf.fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(lf.fields))
	for k := range lf.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	slice := make([]interface{}, 0, len(lf.fields)*2)
	for _, k := range keys {
		slice = append(slice, k, lf.fields[k])
	}
	return slice
}

func getLoggerFields(ctx context.Context) *loggerFields {
	if lf, ok := ctx.Value(loggerFieldsKey).(*loggerFields); ok {
		return lf
	}
	return newLoggerFields()
}

func withField(ctx context.Context, key string, value interface{}) context.Context {
	lf := getLoggerFields(ctx).clone()
	lf.set(key, value)
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// WithSource adds the server name used in log lines.
func WithSource(ctx context.Context, source string) context.Context {
	if source == "" {
		return ctx
	}
	return withField(ctx, FieldSource, source)
}

// WithFields adds multiple custom fields to the context at once.
// The fields should be provided as key-value pairs.
func WithFields(ctx context.Context, keysAndValues ...interface{}) context.Context {
	if len(keysAndValues) == 0 {
		return ctx
	}

	if len(keysAndValues)%2 != 0 {
		keysAndValues = keysAndValues[:len(keysAndValues)-1]
	}

	lf := getLoggerFields(ctx).clone()
	for i := 0; i < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			lf.set(key, keysAndValues[i+1])
		}
	}

	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// WithCorrelation copies the correlation keys of the incoming gRPC metadata
// into the context logger fields. Keys absent from the request are recorded
// as MissingValue so every request line carries the same set of fields.
func WithCorrelation(ctx context.Context) context.Context {
	fwd := correlation.Forward(ctx)

	lf := getLoggerFields(ctx).clone()
	for _, key := range CorrelationKeys {
		value := MissingValue
		if v := fwd[key]; v != "" {
			value = v
		}
		lf.set(key, value)
	}
	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// ExtractOpenTelemetryFields extracts trace_id and span_id from OpenTelemetry span context.
func ExtractOpenTelemetryFields(ctx context.Context) context.Context {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return ctx
	}

	spanCtx := span.SpanContext()
	if !spanCtx.IsValid() {
		return ctx
	}

	lf := getLoggerFields(ctx).clone()

	if spanCtx.HasTraceID() {
		lf.set("trace_id", spanCtx.TraceID().String())
	}

	if spanCtx.HasSpanID() {
		lf.set("span_id", spanCtx.SpanID().String())
	}

	if spanCtx.IsSampled() {
		lf.set("trace_sampled", true)
	}

	return context.WithValue(ctx, loggerFieldsKey, lf)
}

// GetContextFields retrieves all logger fields from context as a slice.
// Returns nil if no fields are present.
func GetContextFields(ctx context.Context) []interface{} {
	return getLoggerFields(ctx).toSlice()
}

// GetLogger retrieves or creates a context-aware logger.
// The returned logger includes all fields stored in the context.
func GetLogger(ctx context.Context) core.Logger {
	baseLogger := logger.Global()

	fields := GetContextFields(ctx)
	if len(fields) == 0 {
		return baseLogger
	}

	return baseLogger.With(fields...)
}
