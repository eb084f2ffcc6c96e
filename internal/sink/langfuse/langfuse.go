// Package langfuse is a telemetry sink that ships conversation turns
// to a Langfuse server through its public ingestion API. Events are
// buffered per turn and posted on AfterTurn; delivery failures are
// logged and reported as hook errors, never surfaced to the chat path.
package langfuse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"ChatLens/internal/sink"
)

type turnKey struct{}

type turnState struct {
	traceID string
	genID   string
	start   time.Time
}

// Config holds the Langfuse connection settings. The key pair matches
// the LANGFUSE_PUBLIC_KEY / LANGFUSE_SECRET_KEY environment variables.
type Config struct {
	Host      string
	PublicKey string
	SecretKey string
	// CaptureContent controls whether prompt and reply text are sent
	// as trace input/output. Off by default.
	CaptureContent bool
}

// Sink implements sink.Sink against the Langfuse ingestion endpoint.
type Sink struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a Langfuse sink.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("langfuse host not set")
	}
	if cfg.PublicKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("langfuse key pair not set")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}, nil
}

// ingestionEvent is one entry in a POST /api/public/ingestion batch.
type ingestionEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Body      any    `json:"body"`
}

type traceBody struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
	Input     any    `json:"input,omitempty"`
	Output    any    `json:"output,omitempty"`
}

type generationBody struct {
	ID              string         `json:"id"`
	TraceID         string         `json:"traceId"`
	Name            string         `json:"name"`
	Model           string         `json:"model"`
	StartTime       string         `json:"startTime"`
	EndTime         string         `json:"endTime"`
	Input           any            `json:"input,omitempty"`
	Output          any            `json:"output,omitempty"`
	Usage           *usageBody     `json:"usage,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	Level           string         `json:"level,omitempty"`
	StatusMessage   string         `json:"statusMessage,omitempty"`
	CompletionStart string         `json:"completionStartTime,omitempty"`
}

type usageBody struct {
	Input  int    `json:"input"`
	Output int    `json:"output"`
	Total  int    `json:"total"`
	Unit   string `json:"unit"`
}

func (s *Sink) BeforeTurn(ctx context.Context, _ *sink.Turn) (context.Context, error) {
	st := &turnState{
		traceID: uuid.NewString(),
		genID:   uuid.NewString(),
		start:   time.Now(),
	}
	return context.WithValue(ctx, turnKey{}, st), nil
}

func (s *Sink) AfterTurn(ctx context.Context, t *sink.Turn) error {
	st, ok := ctx.Value(turnKey{}).(*turnState)
	if !ok {
		return fmt.Errorf("no turn state in context; BeforeTurn not called")
	}

	now := time.Now().UTC()
	startTS := st.start.UTC().Format(time.RFC3339Nano)
	endTS := now.Format(time.RFC3339Nano)

	trace := traceBody{
		ID:        st.traceID,
		Name:      "chat_completion",
		Timestamp: startTS,
		SessionID: t.SessionID,
		UserID:    t.UserID,
	}

	gen := generationBody{
		ID:        st.genID,
		TraceID:   st.traceID,
		Name:      "ollama_api_call",
		Model:     t.Model,
		StartTime: startTS,
		EndTime:   endTS,
		Metadata: map[string]any{
			"duration_ms": t.Duration.Milliseconds(),
			"streaming":   t.Streaming,
			"cache_hit":   t.CacheHit,
		},
	}

	if s.cfg.CaptureContent {
		trace.Input = map[string]string{"message": t.UserText}
		trace.Output = map[string]string{"response": t.Reply}
		gen.Input = t.UserText
		gen.Output = t.Reply
	}
	if t.Usage != nil {
		gen.Usage = &usageBody{
			Input:  t.Usage.Prompt,
			Output: t.Usage.Completion,
			Total:  t.Usage.Total,
			Unit:   "TOKENS",
		}
	}
	if t.Err != nil {
		gen.Level = "ERROR"
		gen.StatusMessage = t.Err.Error()
	}

	batch := []ingestionEvent{
		{ID: uuid.NewString(), Type: "trace-create", Timestamp: endTS, Body: trace},
		{ID: uuid.NewString(), Type: "generation-create", Timestamp: endTS, Body: gen},
	}

	if err := s.post(ctx, batch); err != nil {
		s.logger.Warn("langfuse ingestion failed", "error", err)
		return err
	}
	return nil
}

func (s *Sink) Flush(context.Context) error { return nil }

func (s *Sink) post(ctx context.Context, batch []ingestionEvent) error {
	payload := map[string]any{"batch": batch}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	url := strings.TrimSuffix(s.cfg.Host, "/") + "/api/public/ingestion"
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(s.cfg.PublicKey, s.cfg.SecretKey)
	req.Header.Set("content-type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	defer resp.Body.Close()

	// 207 means partial success; individual event errors are reported
	// in the body, which we only log.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ingestion error: %s - %s", resp.Status, string(body))
	}
	return nil
}
