package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/diarystore/internal/record"
)

const tracerName = "github.com/roach88/diarystore/internal/engine"

// Span attributes.
var (
	AttrEntityID   = attribute.Key("diarystore.entity.id")
	AttrSequenceID = attribute.Key("diarystore.event.sequence_id")
	AttrOperation  = attribute.Key("diarystore.event.operation")
	AttrActorID    = attribute.Key("diarystore.actor.id")
	AttrActorRole  = attribute.Key("diarystore.actor.role")
	AttrErrorCode  = attribute.Key("diarystore.error.code")
)

func defaultTracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// start opens a span for an engine operation on behalf of actor.
func (e *Engine) start(ctx context.Context, name string, actor record.ActorContext, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		AttrActorID.String(actor.ActorID),
		AttrActorRole.String(string(actor.Role)),
	)
	return e.tracer.Start(ctx, "engine."+name, trace.WithAttributes(attrs...))
}

// finish records err on span and ends it. It returns err unchanged.
func finish(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if code := CodeOf(err); code != "" {
			span.SetAttributes(AttrErrorCode.String(string(code)))
		}
	}
	span.End()
	return err
}
