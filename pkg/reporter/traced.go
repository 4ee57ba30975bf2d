package reporter

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Traced wraps every report of next in a span
type Traced struct {
	next    Reporter
	tracer  trace.Tracer
	backend string
}

// NewTraced wraps next; backend names the reporter in span attributes
func NewTraced(next Reporter, tracer trace.Tracer, backend string) *Traced {
	return &Traced{next: next, tracer: tracer, backend: backend}
}

// Report runs next.Report inside a "cycletime.report" span
func (t *Traced) Report(ctx context.Context, m Measurement) error {
	ctx, span := t.tracer.Start(ctx, "cycletime.report", trace.WithAttributes(
		attribute.String("cycletime.backend", t.backend),
		attribute.String("cycletime.metric", m.Name),
		attribute.String("cycletime.kind", m.Kind()),
		attribute.Float64("cycletime.value", m.Value),
	))
	defer span.End()

	if err := t.next.Report(ctx, m); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
