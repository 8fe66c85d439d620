package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter converts events into OpenTelemetry spans. Each event becomes
// a short span carrying the session, step, and metadata as attributes,
// which gives trace backends a per-step timeline without the engine knowing
// anything about tracing.
type OTelEmitter struct {
	tracer trace.Tracer
}

// NewOTelEmitter creates an emitter over the given tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{tracer: tracer}
}

// Emit implements Emitter.
func (o *OTelEmitter) Emit(event Event) {
	if o.tracer == nil {
		return
	}

	_, span := o.tracer.Start(context.Background(), event.Msg,
		trace.WithTimestamp(event.Time),
	)
	defer span.End()

	span.SetAttributes(
		attribute.String("flow.session_id", event.SessionID),
		attribute.Int("flow.seq", event.Seq),
	)
	if event.Step != "" {
		span.SetAttributes(attribute.String("flow.step", event.Step))
	}

	for key, value := range event.Meta {
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String("flow."+key, v))
		case int:
			span.SetAttributes(attribute.Int("flow."+key, v))
		case int64:
			span.SetAttributes(attribute.Int64("flow."+key, v))
		case float64:
			span.SetAttributes(attribute.Float64("flow."+key, v))
		case bool:
			span.SetAttributes(attribute.Bool("flow."+key, v))
		default:
			span.SetAttributes(attribute.String("flow."+key, fmt.Sprintf("%v", v)))
		}
	}

	if event.Msg == MsgStepFailed || event.Msg == MsgRunFailed {
		if msg, ok := event.Meta["error"].(string); ok {
			span.SetStatus(codes.Error, msg)
		} else {
			span.SetStatus(codes.Error, event.Msg)
		}
	}
}
