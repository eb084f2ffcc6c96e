package sink

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type langtraceSpanKey struct{}

// Langtrace emits spans with the flat llm.* / langtrace.* attribute
// vocabulary the Langtrace SDK produces, exported through whatever
// span exporter telemetry.Init installed (OTLP to a local collector
// in the usual setup).
type Langtrace struct {
	tracer         trace.Tracer
	serviceName    string
	captureContent bool
}

// NewLangtrace builds the sink.
func NewLangtrace(tp trace.TracerProvider, serviceName string, captureContent bool) *Langtrace {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Langtrace{
		tracer:         tp.Tracer("chatlens.langtrace"),
		serviceName:    serviceName,
		captureContent: captureContent,
	}
}

func (s *Langtrace) BeforeTurn(ctx context.Context, t *Turn) (context.Context, error) {
	attrs := []attribute.KeyValue{
		attribute.String("langtrace.service.name", s.serviceName),
		attribute.String("langtrace.service.type", "llm"),
		attribute.String("llm.api", "/api/chat"),
		attribute.String("llm.model", t.Model),
		attribute.Bool("llm.stream", t.Streaming),
	}
	if t.SessionID != "" {
		attrs = append(attrs, attribute.String("session.id", t.SessionID))
	}
	if s.captureContent {
		attrs = append(attrs, attribute.String("llm.prompts", t.UserText))
	}

	ctx, span := s.tracer.Start(ctx, "ollama.chat", trace.WithAttributes(attrs...))
	return context.WithValue(ctx, langtraceSpanKey{}, span), nil
}

func (s *Langtrace) AfterTurn(ctx context.Context, t *Turn) error {
	span, ok := ctx.Value(langtraceSpanKey{}).(trace.Span)
	if !ok {
		return fmt.Errorf("no span in context; BeforeTurn not called")
	}
	defer span.End()

	if t.Err != nil {
		span.RecordError(t.Err)
		span.SetStatus(codes.Error, t.Err.Error())
		return nil
	}

	span.SetAttributes(attribute.Int("llm.response_length", len(t.Reply)))
	if s.captureContent {
		span.SetAttributes(attribute.String("llm.responses", t.Reply))
	}
	if t.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.token.counts.input_tokens", t.Usage.Prompt),
			attribute.Int("llm.token.counts.output_tokens", t.Usage.Completion),
			attribute.Int("llm.token.counts.total_tokens", t.Usage.Total),
		)
	}

	return nil
}

func (s *Langtrace) Flush(context.Context) error { return nil }
