package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/HArsh-ri01/nl-to-sql"

// Instruments holds pre-created OTel metric instruments. It implements
// port.Instrumentation.
type Instruments struct {
	QueryCount         metric.Int64Counter
	QueryDuration      metric.Float64Histogram
	QueryErrors        metric.Int64Counter
	ToolDuration       metric.Float64Histogram
	AdmissionDenied    metric.Int64Counter
	ValidationRejected metric.Int64Counter
}

// NewInstruments creates metric instruments from the global MeterProvider.
// Returns nil-safe instruments: if creation fails, noop instruments are used.
func NewInstruments() *Instruments {
	return newInstrumentsFromMeter(otel.Meter(meterName))
}

// NoopInstruments returns instruments that record nothing.
func NoopInstruments() *Instruments {
	return newInstrumentsFromMeter(noop.NewMeterProvider().Meter(meterName))
}

func newInstrumentsFromMeter(meter metric.Meter) *Instruments {
	// OTel SDK returns noop instruments on error; safe to discard.
	queryCount, _ := meter.Int64Counter("sqlgate.query.count",
		metric.WithDescription("Total number of SQL queries executed"),
	)
	queryDuration, _ := meter.Float64Histogram("sqlgate.query.duration",
		metric.WithDescription("SQL query execution duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	queryErrors, _ := meter.Int64Counter("sqlgate.query.errors",
		metric.WithDescription("Total number of failed SQL executions"),
	)
	toolDuration, _ := meter.Float64Histogram("sqlgate.tool.duration",
		metric.WithDescription("MCP tool or HTTP handler duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	admissionDenied, _ := meter.Int64Counter("sqlgate.admission.denied",
		metric.WithDescription("Requests denied by the admission controller, by reason"),
	)
	validationRejected, _ := meter.Int64Counter("sqlgate.validation.rejected",
		metric.WithDescription("Queries rejected by the safety validator, by rule"),
	)

	return &Instruments{
		QueryCount:         queryCount,
		QueryDuration:      queryDuration,
		QueryErrors:        queryErrors,
		ToolDuration:       toolDuration,
		AdmissionDenied:    admissionDenied,
		ValidationRejected: validationRejected,
	}
}

func (i *Instruments) RecordQueryDuration(ctx context.Context, ms float64) {
	i.QueryDuration.Record(ctx, ms)
}

func (i *Instruments) IncrementQueryCount(ctx context.Context) {
	i.QueryCount.Add(ctx, 1)
}

func (i *Instruments) IncrementQueryErrors(ctx context.Context) {
	i.QueryErrors.Add(ctx, 1)
}

func (i *Instruments) RecordToolDuration(ctx context.Context, ms float64) {
	i.ToolDuration.Record(ctx, ms)
}

func (i *Instruments) IncrementAdmissionDenied(ctx context.Context, reason string) {
	i.AdmissionDenied.Add(ctx, 1, metric.WithAttributes(attribute.String("admission.reason", reason)))
}

func (i *Instruments) IncrementValidationRejected(ctx context.Context, rule string) {
	i.ValidationRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("validation.rule", rule)))
}
