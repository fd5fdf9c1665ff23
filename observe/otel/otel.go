// Package otel bridges the observe.Sink to OpenTelemetry tracing.
//
// It converts observe.Event records into OTel spans so that sync passes,
// record writes, conflicts, and retry activity are visible in any
// OpenTelemetry-compatible backend (Jaeger, Zipkin, Grafana, etc.).
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/YIKHLEF/ClinicBoost-sub004/observe"
)

const instrumentationName = "github.com/YIKHLEF/ClinicBoost-sub004"

// Sink implements observe.Sink by emitting OpenTelemetry spans.
type Sink struct {
	tracer trace.Tracer
}

// NewSink creates an OTel sink using the given TracerProvider.
// If tp is nil, it uses a noop tracer provider.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{
		tracer: tp.Tracer(instrumentationName),
	}
}

// Emit converts an observe.Event into an OTel span.
func (s *Sink) Emit(_ context.Context, event observe.Event) error {
	event.Normalize()

	startTime := event.Timestamp
	_, span := s.tracer.Start(context.Background(), spanNameFor(event), trace.WithTimestamp(startTime))

	attrs := []attribute.KeyValue{
		attribute.String("sync.event.kind", string(event.Kind)),
	}
	if event.ServiceTag != "" {
		attrs = append(attrs, attribute.String("sync.service", event.ServiceTag))
	}
	if event.ProviderID != "" {
		attrs = append(attrs, attribute.String("sync.provider.id", event.ProviderID))
	}
	if event.DataType != "" {
		attrs = append(attrs, attribute.String("sync.data_type", event.DataType))
	}
	if event.Name != "" {
		attrs = append(attrs, attribute.String("sync.event.name", event.Name))
	}
	if event.Status != "" {
		attrs = append(attrs, attribute.String("sync.status", string(event.Status)))
	}
	if event.Message != "" {
		attrs = append(attrs, attribute.String("sync.message", truncate(event.Message, 1024)))
	}
	if event.DurationMs > 0 {
		attrs = append(attrs, attribute.Int64("sync.duration_ms", event.DurationMs))
	}
	for k, v := range event.Attributes {
		attrs = append(attrs, attribute.String("sync.attr."+k, fmt.Sprintf("%v", v)))
	}

	span.SetAttributes(attrs...)

	if event.Status == observe.StatusFailed {
		span.SetStatus(codes.Error, event.Error)
		if event.Error != "" {
			span.RecordError(fmt.Errorf("%s", event.Error))
		}
	} else if event.Status == observe.StatusCompleted {
		span.SetStatus(codes.Ok, "")
	}

	endTime := startTime
	if event.DurationMs > 0 {
		endTime = startTime.Add(time.Duration(event.DurationMs) * time.Millisecond)
	}
	span.End(trace.WithTimestamp(endTime))
	return nil
}

func spanNameFor(event observe.Event) string {
	switch event.Kind {
	case observe.KindPass:
		if event.ProviderID != "" {
			return "sync.pass." + event.ProviderID
		}
		return "sync.pass"
	case observe.KindRecord:
		return "sync.record"
	case observe.KindConflict:
		return "sync.conflict"
	case observe.KindRetry:
		return "sync.retry"
	case observe.KindLimiter:
		return "sync.ratelimit"
	case observe.KindProbe:
		return "sync.probe"
	default:
		if event.Name != "" {
			return "sync." + event.Name
		}
		return "sync.event"
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
