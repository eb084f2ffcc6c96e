// Package opik is a telemetry sink for Opik (Comet). Each turn is
// recorded as a trace plus one llm span through the private REST API.
package opik

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
	start   time.Time
}

// Config holds the Opik connection settings.
type Config struct {
	Host      string
	APIKey    string
	Workspace string
	Project   string
	// CaptureContent controls whether prompt and reply text are sent
	// as trace input/output. Off by default.
	CaptureContent bool
}

// Sink implements sink.Sink against the Opik REST API.
type Sink struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates an Opik sink.
func New(cfg Config, logger *slog.Logger) (*Sink, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("opik host not set")
	}
	if cfg.Project == "" {
		cfg.Project = "chatlens"
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

type tracePayload struct {
	ID          string         `json:"id"`
	ProjectName string         `json:"project_name"`
	Name        string         `json:"name"`
	StartTime   string         `json:"start_time"`
	EndTime     string         `json:"end_time"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	ThreadID    string         `json:"thread_id,omitempty"`
}

type spanPayload struct {
	ID          string         `json:"id"`
	TraceID     string         `json:"trace_id"`
	ProjectName string         `json:"project_name"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	StartTime   string         `json:"start_time"`
	EndTime     string         `json:"end_time"`
	Model       string         `json:"model,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	Input       map[string]any `json:"input,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Usage       map[string]int `json:"usage,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func (s *Sink) BeforeTurn(ctx context.Context, _ *sink.Turn) (context.Context, error) {
	st := &turnState{traceID: uuid.NewString(), start: time.Now()}
	return context.WithValue(ctx, turnKey{}, st), nil
}

func (s *Sink) AfterTurn(ctx context.Context, t *sink.Turn) error {
	st, ok := ctx.Value(turnKey{}).(*turnState)
	if !ok {
		return fmt.Errorf("no turn state in context; BeforeTurn not called")
	}

	startTS := st.start.UTC().Format(time.RFC3339Nano)
	endTS := time.Now().UTC().Format(time.RFC3339Nano)

	trace := tracePayload{
		ID:          st.traceID,
		ProjectName: s.cfg.Project,
		Name:        "chat_completion",
		StartTime:   startTS,
		EndTime:     endTS,
		ThreadID:    t.SessionID,
		Metadata: map[string]any{
			"model":       t.Model,
			"duration_ms": t.Duration.Milliseconds(),
			"streaming":   t.Streaming,
		},
	}
	if t.Err != nil {
		trace.Tags = []string{"error", "ollama", t.Model}
		trace.Metadata["error"] = t.Err.Error()
	}
	if s.cfg.CaptureContent {
		trace.Input = map[string]any{"message": t.UserText}
		trace.Output = map[string]any{"response": t.Reply}
	}

	span := spanPayload{
		ID:          uuid.NewString(),
		TraceID:     st.traceID,
		ProjectName: s.cfg.Project,
		Name:        "ollama_api_call",
		Type:        "llm",
		StartTime:   startTS,
		EndTime:     endTS,
		Model:       t.Model,
		Provider:    "ollama",
		Input:       trace.Input,
		Output:      trace.Output,
	}
	if t.Usage != nil {
		span.Usage = map[string]int{
			"prompt_tokens":     t.Usage.Prompt,
			"completion_tokens": t.Usage.Completion,
			"total_tokens":      t.Usage.Total,
		}
	}

	if err := s.post(ctx, "/api/v1/private/traces", trace); err != nil {
		s.logger.Warn("opik trace ingestion failed", "error", err)
		return err
	}
	if err := s.post(ctx, "/api/v1/private/spans", span); err != nil {
		s.logger.Warn("opik span ingestion failed", "error", err)
		return err
	}
	return nil
}

func (s *Sink) Flush(context.Context) error { return nil }

func (s *Sink) post(ctx context.Context, path string, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := strings.TrimSuffix(s.cfg.Host, "/") + path
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")
	if s.cfg.APIKey != "" {
		req.Header.Set("authorization", s.cfg.APIKey)
	}
	if s.cfg.Workspace != "" {
		req.Header.Set("Comet-Workspace", s.cfg.Workspace)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}
	return nil
}
