package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"ChatLens/internal/session"
)

// OpenAIRequest represents the request body for OpenAI-compatible APIs
type OpenAIRequest struct {
	Model       string              `json:"model"`
	Messages    []map[string]string `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	TopP        float64             `json:"top_p,omitempty"`
}

// OpenAIResponse represents the response from OpenAI-compatible APIs
type OpenAIResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// OpenAICompatClient talks to an OpenAI-compatible chat completions
// endpoint. Ollama exposes one under /v1, which is how the
// OpenLLMetry-style setup reaches the local model.
type OpenAICompatClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     *slog.Logger
}

// NewOpenAICompatClient creates a client for baseURL (e.g.
// http://localhost:11434/v1). Ollama accepts any non-empty API key.
func NewOpenAICompatClient(baseURL, apiKey, model string, logger *slog.Logger) *OpenAICompatClient {
	if logger == nil {
		logger = slog.Default()
	}
	if apiKey == "" {
		apiKey = "ollama"
	}
	return &OpenAICompatClient{
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		logger:     logger,
	}
}

func (c *OpenAICompatClient) Name() string { return "openai-compat" }

// Generate calls the chat completions endpoint and returns the reply.
func (c *OpenAICompatClient) Generate(ctx context.Context, messages []session.Message, opts Options) (*Reply, error) {
	ctx, span := tracer.Start(ctx, "openai_api_call")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", c.model))

	reqBody := OpenAIRequest{
		Model:       c.model,
		Messages:    wireMessages(messages),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", strings.NewReader(string(jsonData)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("API error: %s", resp.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var apiResp OpenAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty response from %s", c.baseURL)
	}

	return &Reply{
		Content: apiResp.Choices[0].Message.Content,
		Model:   apiResp.Model,
		Usage:   usageFrom(apiResp.Usage.PromptTokens, apiResp.Usage.CompletionTokens),
	}, nil
}

// Stream is not implemented for the OpenAI-compatible path; the reply
// is fetched whole and delivered as a single chunk so streaming mode
// still behaves for callers.
func (c *OpenAICompatClient) Stream(ctx context.Context, messages []session.Message, opts Options, fn ChunkFunc) (*Reply, error) {
	reply, err := c.Generate(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	if fn != nil && reply.Content != "" {
		if err := fn(reply.Content); err != nil {
			return nil, err
		}
	}
	return reply, nil
}
