package sink

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type llmetrySpanKey struct{}

// OpenLLMetry emits spans following the gen_ai.* semantic conventions
// used by the OpenLLMetry/Traceloop instrumentation, so a collector
// configured for that schema groups the turns under a named workflow.
type OpenLLMetry struct {
	tracer         trace.Tracer
	workflow       string
	captureContent bool
}

// NewOpenLLMetry builds the sink. workflow names the logical chat
// workflow the spans belong to.
func NewOpenLLMetry(tp trace.TracerProvider, workflow string, captureContent bool) *OpenLLMetry {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if workflow == "" {
		workflow = "chat"
	}
	return &OpenLLMetry{
		tracer:         tp.Tracer("chatlens.openllmetry"),
		workflow:       workflow,
		captureContent: captureContent,
	}
}

func (s *OpenLLMetry) BeforeTurn(ctx context.Context, t *Turn) (context.Context, error) {
	attrs := []attribute.KeyValue{
		attribute.String("gen_ai.system", "ollama"),
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.String("gen_ai.request.model", t.Model),
		attribute.String("traceloop.workflow.name", s.workflow),
		attribute.String("traceloop.span.kind", "workflow"),
	}
	if t.SessionID != "" {
		attrs = append(attrs, attribute.String("gen_ai.conversation.id", t.SessionID))
	}
	if s.captureContent {
		attrs = append(attrs, attribute.String("gen_ai.prompt.0.role", "user"),
			attribute.String("gen_ai.prompt.0.content", t.UserText))
	}

	ctx, span := s.tracer.Start(ctx, "chat "+t.Model, trace.WithAttributes(attrs...))
	return context.WithValue(ctx, llmetrySpanKey{}, span), nil
}

func (s *OpenLLMetry) AfterTurn(ctx context.Context, t *Turn) error {
	span, ok := ctx.Value(llmetrySpanKey{}).(trace.Span)
	if !ok {
		return fmt.Errorf("no span in context; BeforeTurn not called")
	}
	defer span.End()

	if t.Err != nil {
		span.RecordError(t.Err)
		span.SetStatus(codes.Error, t.Err.Error())
		return nil
	}

	span.SetAttributes(attribute.String("gen_ai.response.model", t.Model))
	if s.captureContent {
		span.SetAttributes(
			attribute.String("gen_ai.completion.0.role", "assistant"),
			attribute.String("gen_ai.completion.0.content", t.Reply),
		)
	}
	if t.Usage != nil {
		span.SetAttributes(
			attribute.Int("gen_ai.usage.prompt_tokens", t.Usage.Prompt),
			attribute.Int("gen_ai.usage.completion_tokens", t.Usage.Completion),
			attribute.Int("llm.usage.total_tokens", t.Usage.Total),
		)
	}

	return nil
}

func (s *OpenLLMetry) Flush(context.Context) error { return nil }
