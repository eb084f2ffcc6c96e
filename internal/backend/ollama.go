package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"ChatLens/internal/session"
)

var tracer = otel.Tracer("chatlens.backend")

// OllamaRequest represents the request body for the Ollama chat API
type OllamaRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

// OllamaResponse represents a response (or stream chunk) from the
// Ollama chat API. Token counts are only present on the final chunk.
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done            bool `json:"done"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
}

// OllamaTagsResponse represents the response from Ollama /api/tags
type OllamaTagsResponse struct {
	Models []OllamaModel `json:"models"`
}

// OllamaModel represents a single model in the Ollama tags response
type OllamaModel struct {
	Name       string `json:"name"`
	ModifiedAt string `json:"modified_at"`
	Size       int64  `json:"size"`
	Digest     string `json:"digest"`
}

// OllamaClient talks to a local Ollama server over its native
// /api/chat endpoint.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	logger     *slog.Logger
}

// NewOllamaClient creates a client for the Ollama server at baseURL.
func NewOllamaClient(baseURL, model string, logger *slog.Logger) *OllamaClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		logger:     logger,
	}
}

func (o *OllamaClient) Name() string { return "ollama" }

// Model returns the model currently used for generation.
func (o *OllamaClient) Model() string { return o.model }

// SetModel switches the model used for subsequent calls.
func (o *OllamaClient) SetModel(model string) { o.model = model }

func optionsMap(opts Options) map[string]any {
	m := make(map[string]any)
	if opts.Temperature != 0 {
		m["temperature"] = opts.Temperature
	}
	if opts.MaxTokens != 0 {
		m["num_predict"] = opts.MaxTokens
	}
	if opts.TopP != 0 {
		m["top_p"] = opts.TopP
	}
	if opts.TopK != 0 {
		m["top_k"] = opts.TopK
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

func wireMessages(messages []session.Message) []map[string]string {
	reqMessages := make([]map[string]string, len(messages))
	for i, msg := range messages {
		reqMessages[i] = map[string]string{
			"role":    msg.Role,
			"content": msg.Content,
		}
	}
	return reqMessages
}

func usageFrom(prompt, completion int) *TokenUsage {
	if prompt == 0 && completion == 0 {
		return nil
	}
	return &TokenUsage{
		Prompt:     prompt,
		Completion: completion,
		Total:      prompt + completion,
	}
}

// Generate calls the Ollama chat API and returns the whole reply.
func (o *OllamaClient) Generate(ctx context.Context, messages []session.Message, opts Options) (*Reply, error) {
	ctx, span := tracer.Start(ctx, "ollama_api_call")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	reqBody := OllamaRequest{
		Model:    o.model,
		Messages: wireMessages(messages),
		Stream:   false,
		Options:  optionsMap(opts),
	}

	body, err := o.post(ctx, span, "/api/chat", reqBody)
	if err != nil {
		return nil, err
	}

	var apiResp OllamaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if apiResp.Message.Role != session.RoleAssistant {
		o.logger.Warn("unexpected reply role from ollama", "role", apiResp.Message.Role)
	}

	return &Reply{
		Content: apiResp.Message.Content,
		Model:   apiResp.Model,
		Usage:   usageFrom(apiResp.PromptEvalCount, apiResp.EvalCount),
	}, nil
}

// Stream calls the Ollama chat API in streaming mode. Each NDJSON
// chunk's content is passed to fn; the returned Reply carries the
// concatenated text and the usage reported on the final chunk.
func (o *OllamaClient) Stream(ctx context.Context, messages []session.Message, opts Options, fn ChunkFunc) (*Reply, error) {
	ctx, span := tracer.Start(ctx, "ollama_api_stream")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", o.model),
		attribute.Bool("llm.streaming", true),
	)

	reqBody := OllamaRequest{
		Model:    o.model,
		Messages: wireMessages(messages),
		Stream:   true,
		Options:  optionsMap(opts),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+"/api/chat", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("API error: %s - %s", resp.Status, string(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var full strings.Builder
	var prompt, completion int

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk OllamaResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to unmarshal stream chunk: %w", err)
		}

		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if fn != nil {
				if err := fn(chunk.Message.Content); err != nil {
					return nil, err
				}
			}
		}
		if chunk.Done {
			prompt = chunk.PromptEvalCount
			completion = chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read stream: %w", err)
	}

	span.SetAttributes(attribute.Int("llm.response_length", full.Len()))

	return &Reply{
		Content: full.String(),
		Model:   o.model,
		Usage:   usageFrom(prompt, completion),
	}, nil
}

// ListModels fetches the list of models available on the Ollama server.
func (o *OllamaClient) ListModels(ctx context.Context) ([]OllamaModel, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", o.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request (is Ollama running?): %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	var tagsResp OllamaTagsResponse
	if err := json.Unmarshal(body, &tagsResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return tagsResp.Models, nil
}

func (o *OllamaClient) post(ctx context.Context, span trace.Span, path string, reqBody any) ([]byte, error) {
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("API error: %s - %s", resp.Status, string(body))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return body, nil
}
