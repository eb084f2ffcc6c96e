package opik

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

type capture struct {
	trace     *tracePayload
	span      *spanPayload
	auth      string
	workspace string
}

func newServer(t *testing.T, c *capture) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.auth = r.Header.Get("Authorization")
		c.workspace = r.Header.Get("Comet-Workspace")
		switch r.URL.Path {
		case "/api/v1/private/traces":
			c.trace = &tracePayload{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(c.trace))
		case "/api/v1/private/spans":
			c.span = &spanPayload{}
			require.NoError(t, json.NewDecoder(r.Body).Decode(c.span))
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
	}))
}

func turn() *sink.Turn {
	return &sink.Turn{
		SessionID: "session_1700000000",
		Model:     "llama3.1:8b",
		UserText:  "Hello",
		Reply:     "Hi there",
		Duration:  42 * time.Millisecond,
		Usage:     &backend.TokenUsage{Prompt: 12, Completion: 4, Total: 16},
	}
}

func TestNewValidatesHost(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestNewDefaultsProject(t *testing.T) {
	s, err := New(Config{Host: "http://localhost:5173"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "chatlens", s.cfg.Project)
}

func TestAfterTurnSendsTraceAndSpan(t *testing.T) {
	var c capture
	srv := newServer(t, &c)
	defer srv.Close()

	s, err := New(Config{
		Host:      srv.URL,
		APIKey:    "opik-key",
		Workspace: "default",
		Project:   "demo",
	}, nil)
	require.NoError(t, err)

	tn := turn()
	ctx, err := s.BeforeTurn(context.Background(), tn)
	require.NoError(t, err)
	require.NoError(t, s.AfterTurn(ctx, tn))

	assert.Equal(t, "opik-key", c.auth)
	assert.Equal(t, "default", c.workspace)

	require.NotNil(t, c.trace)
	assert.Equal(t, "chat_completion", c.trace.Name)
	assert.Equal(t, "demo", c.trace.ProjectName)
	assert.Equal(t, "session_1700000000", c.trace.ThreadID)
	assert.Nil(t, c.trace.Input)
	assert.Empty(t, c.trace.Tags)

	require.NotNil(t, c.span)
	assert.Equal(t, c.trace.ID, c.span.TraceID)
	assert.Equal(t, "llm", c.span.Type)
	assert.Equal(t, "ollama", c.span.Provider)
	assert.Equal(t, "llama3.1:8b", c.span.Model)
	assert.Equal(t, 16, c.span.Usage["total_tokens"])
}

func TestAfterTurnCapturesContentWhenEnabled(t *testing.T) {
	var c capture
	srv := newServer(t, &c)
	defer srv.Close()

	s, err := New(Config{Host: srv.URL, CaptureContent: true}, nil)
	require.NoError(t, err)

	tn := turn()
	ctx, _ := s.BeforeTurn(context.Background(), tn)
	require.NoError(t, s.AfterTurn(ctx, tn))

	require.NotNil(t, c.trace)
	assert.Equal(t, "Hello", c.trace.Input["message"])
	assert.Equal(t, "Hi there", c.trace.Output["response"])
}

func TestAfterTurnTagsErrors(t *testing.T) {
	var c capture
	srv := newServer(t, &c)
	defer srv.Close()

	s, err := New(Config{Host: srv.URL}, nil)
	require.NoError(t, err)

	tn := turn()
	tn.Err = errors.New("connection refused")
	ctx, _ := s.BeforeTurn(context.Background(), tn)
	require.NoError(t, s.AfterTurn(ctx, tn))

	require.NotNil(t, c.trace)
	assert.Contains(t, c.trace.Tags, "error")
	assert.Equal(t, "connection refused", c.trace.Metadata["error"])
}

func TestAfterTurnReportsAPIFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer srv.Close()

	s, err := New(Config{Host: srv.URL}, nil)
	require.NoError(t, err)

	tn := turn()
	ctx, _ := s.BeforeTurn(context.Background(), tn)
	require.Error(t, s.AfterTurn(ctx, tn))
}

func TestAfterTurnWithoutBefore(t *testing.T) {
	s, err := New(Config{Host: "http://localhost:5173"}, nil)
	require.NoError(t, err)
	require.Error(t, s.AfterTurn(context.Background(), turn()))
}
