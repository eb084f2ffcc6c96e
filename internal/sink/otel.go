package sink

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type otelSpanKey struct{}

// OTel is the plain OpenTelemetry sink: one llm_chat_request span per
// turn plus request/token/error counters and a latency histogram.
type OTel struct {
	tracer trace.Tracer
	meter  metric.Meter

	requestTotal    metric.Int64Counter
	tokenTotal      metric.Int64Counter
	errorTotal      metric.Int64Counter
	requestDuration metric.Float64Histogram

	captureContent bool
}

// NewOTel builds the sink against the given providers. Pass nil to use
// the globals installed by telemetry.Init.
func NewOTel(tp trace.TracerProvider, mp metric.MeterProvider, captureContent bool) (*OTel, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	s := &OTel{
		tracer:         tp.Tracer("chatlens"),
		meter:          mp.Meter("chatlens"),
		captureContent: captureContent,
	}

	var err error
	s.requestTotal, err = s.meter.Int64Counter("llm.requests.total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	s.tokenTotal, err = s.meter.Int64Counter("llm.tokens.total",
		metric.WithDescription("Total number of tokens processed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create token counter: %w", err)
	}

	s.errorTotal, err = s.meter.Int64Counter("llm.errors.total",
		metric.WithDescription("Total number of LLM errors"),
		metric.WithUnit("{error}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	s.requestDuration, err = s.meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("LLM request duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	return s, nil
}

func (s *OTel) BeforeTurn(ctx context.Context, t *Turn) (context.Context, error) {
	attrs := []attribute.KeyValue{
		attribute.String("llm.model", t.Model),
		attribute.Int("llm.user_message_length", len(t.UserText)),
	}
	if t.SessionID != "" {
		attrs = append(attrs, attribute.String("session.id", t.SessionID))
	}
	if t.UserID != "" {
		attrs = append(attrs, attribute.String("user.id", t.UserID))
	}
	if s.captureContent {
		attrs = append(attrs, attribute.String("llm.prompt", t.UserText))
	}

	ctx, span := s.tracer.Start(ctx, "llm_chat_request", trace.WithAttributes(attrs...))
	return context.WithValue(ctx, otelSpanKey{}, span), nil
}

func (s *OTel) AfterTurn(ctx context.Context, t *Turn) error {
	span, ok := ctx.Value(otelSpanKey{}).(trace.Span)
	if !ok {
		return fmt.Errorf("no span in context; BeforeTurn not called")
	}
	defer span.End()

	modelAttr := attribute.String("model", t.Model)
	durationMS := float64(t.Duration.Milliseconds())

	if t.Err != nil {
		span.SetAttributes(attribute.String("llm.status", "error"))
		span.RecordError(t.Err)
		span.SetStatus(codes.Error, t.Err.Error())
		s.errorTotal.Add(ctx, 1, metric.WithAttributes(modelAttr))
		s.requestTotal.Add(ctx, 1, metric.WithAttributes(modelAttr, attribute.String("status", "error")))
		return nil
	}

	span.SetAttributes(
		attribute.String("llm.status", "success"),
		attribute.Int("llm.response_length", len(t.Reply)),
		attribute.Float64("llm.duration_ms", durationMS),
		attribute.Bool("llm.cache_hit", t.CacheHit),
	)
	if s.captureContent {
		span.SetAttributes(attribute.String("llm.completion", t.Reply))
	}

	s.requestTotal.Add(ctx, 1, metric.WithAttributes(modelAttr, attribute.String("status", "success")))
	s.requestDuration.Record(ctx, durationMS, metric.WithAttributes(modelAttr))

	if t.Usage != nil {
		span.SetAttributes(
			attribute.Int("llm.prompt_tokens", t.Usage.Prompt),
			attribute.Int("llm.completion_tokens", t.Usage.Completion),
			attribute.Int("llm.total_tokens", t.Usage.Total),
		)
		s.tokenTotal.Add(ctx, int64(t.Usage.Prompt), metric.WithAttributes(modelAttr, attribute.String("type", "prompt")))
		s.tokenTotal.Add(ctx, int64(t.Usage.Completion), metric.WithAttributes(modelAttr, attribute.String("type", "completion")))
		s.tokenTotal.Add(ctx, int64(t.Usage.Total), metric.WithAttributes(modelAttr, attribute.String("type", "total")))
	}

	return nil
}

func (s *OTel) Flush(context.Context) error { return nil }
