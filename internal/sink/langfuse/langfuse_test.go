package langfuse

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatLens/internal/backend"
	"ChatLens/internal/sink"
)

type capturedBatch struct {
	Batch []struct {
		ID   string          `json:"id"`
		Type string          `json:"type"`
		Body json.RawMessage `json:"body"`
	} `json:"batch"`
}

func newServer(t *testing.T, status int, got *capturedBatch, auth *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/public/ingestion", r.URL.Path)
		require.Equal(t, "POST", r.Method)
		if auth != nil {
			*auth = r.Header.Get("Authorization")
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.WriteHeader(status)
	}))
}

func turn() *sink.Turn {
	return &sink.Turn{
		SessionID: "session_1700000000",
		UserID:    "tester",
		Model:     "llama3.1:8b",
		UserText:  "Hello",
		Reply:     "Hi there",
		Duration:  42 * time.Millisecond,
		Usage:     &backend.TokenUsage{Prompt: 12, Completion: 4, Total: 16},
	}
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{PublicKey: "pk", SecretKey: "sk"}, nil)
	require.Error(t, err)

	_, err = New(Config{Host: "http://localhost:3000"}, nil)
	require.Error(t, err)

	_, err = New(Config{Host: "http://localhost:3000", PublicKey: "pk", SecretKey: "sk"}, nil)
	require.NoError(t, err)
}

func TestAfterTurnSendsTraceAndGeneration(t *testing.T) {
	var got capturedBatch
	var auth string
	srv := newServer(t, http.StatusMultiStatus, &got, &auth)
	defer srv.Close()

	s, err := New(Config{Host: srv.URL, PublicKey: "pk-lf", SecretKey: "sk-lf"}, nil)
	require.NoError(t, err)

	tn := turn()
	ctx, err := s.BeforeTurn(context.Background(), tn)
	require.NoError(t, err)
	require.NoError(t, s.AfterTurn(ctx, tn))

	require.Len(t, got.Batch, 2)
	assert.Equal(t, "trace-create", got.Batch[0].Type)
	assert.Equal(t, "generation-create", got.Batch[1].Type)
	assert.NotEmpty(t, auth)
	assert.Contains(t, auth, "Basic ")

	var tb traceBody
	require.NoError(t, json.Unmarshal(got.Batch[0].Body, &tb))
	assert.Equal(t, "chat_completion", tb.Name)
	assert.Equal(t, "session_1700000000", tb.SessionID)
	assert.Equal(t, "tester", tb.UserID)
	assert.Nil(t, tb.Input)

	var gb generationBody
	require.NoError(t, json.Unmarshal(got.Batch[1].Body, &gb))
	assert.Equal(t, "ollama_api_call", gb.Name)
	assert.Equal(t, tb.ID, gb.TraceID)
	assert.Equal(t, "llama3.1:8b", gb.Model)
	require.NotNil(t, gb.Usage)
	assert.Equal(t, 12, gb.Usage.Input)
	assert.Equal(t, 4, gb.Usage.Output)
	assert.Equal(t, "TOKENS", gb.Usage.Unit)
	assert.Equal(t, float64(42), gb.Metadata["duration_ms"])
}

func TestAfterTurnCapturesContentWhenEnabled(t *testing.T) {
	var got capturedBatch
	srv := newServer(t, http.StatusOK, &got, nil)
	defer srv.Close()

	s, err := New(Config{Host: srv.URL, PublicKey: "pk", SecretKey: "sk", CaptureContent: true}, nil)
	require.NoError(t, err)

	tn := turn()
	ctx, _ := s.BeforeTurn(context.Background(), tn)
	require.NoError(t, s.AfterTurn(ctx, tn))

	var gb generationBody
	require.NoError(t, json.Unmarshal(got.Batch[1].Body, &gb))
	assert.Equal(t, "Hello", gb.Input)
	assert.Equal(t, "Hi there", gb.Output)
}

func TestAfterTurnMarksErrorLevel(t *testing.T) {
	var got capturedBatch
	srv := newServer(t, http.StatusOK, &got, nil)
	defer srv.Close()

	s, err := New(Config{Host: srv.URL, PublicKey: "pk", SecretKey: "sk"}, nil)
	require.NoError(t, err)

	tn := turn()
	tn.Err = errors.New("connection refused")
	tn.Usage = nil
	ctx, _ := s.BeforeTurn(context.Background(), tn)
	require.NoError(t, s.AfterTurn(ctx, tn))

	var gb generationBody
	require.NoError(t, json.Unmarshal(got.Batch[1].Body, &gb))
	assert.Equal(t, "ERROR", gb.Level)
	assert.Equal(t, "connection refused", gb.StatusMessage)
	assert.Nil(t, gb.Usage)
}

func TestAfterTurnReportsIngestionFailure(t *testing.T) {
	var got capturedBatch
	srv := newServer(t, http.StatusUnauthorized, &got, nil)
	defer srv.Close()

	s, err := New(Config{Host: srv.URL, PublicKey: "pk", SecretKey: "sk"}, nil)
	require.NoError(t, err)

	tn := turn()
	ctx, _ := s.BeforeTurn(context.Background(), tn)
	require.Error(t, s.AfterTurn(ctx, tn))
}

func TestAfterTurnWithoutBefore(t *testing.T) {
	s, err := New(Config{Host: "http://localhost:3000", PublicKey: "pk", SecretKey: "sk"}, nil)
	require.NoError(t, err)
	require.Error(t, s.AfterTurn(context.Background(), turn()))
}
