package chatbot

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ChatLens/internal/config"
)

func testBot(t *testing.T, mutate func(*config.Config)) *ChatBot {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Sinks = nil
	cfg.DBPath = filepath.Join(dir, "chatlens.db")
	cfg.Telemetry.LogDir = filepath.Join(dir, "logs")
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	if mutate != nil {
		mutate(&cfg)
	}

	bot, err := NewChatBot(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = bot.store.Close() })
	return bot
}

func TestNewChatBotRejectsUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Backend = "bedrock"
	cfg.DBPath = filepath.Join(dir, "chatlens.db")
	cfg.Telemetry.LogDir = filepath.Join(dir, "logs")
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"

	_, err := NewChatBot(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestNewChatBotRejectsUnknownSink(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Sinks = []string{"datadog"}
	cfg.DBPath = filepath.Join(dir, "chatlens.db")
	cfg.Telemetry.LogDir = filepath.Join(dir, "logs")
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"

	_, err := NewChatBot(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown sink")
}

func TestHandleCommandQuit(t *testing.T) {
	bot := testBot(t, nil)

	for _, cmd := range []string{"quit", "exit", "QUIT"} {
		handled, quit := bot.handleCommand(context.Background(), cmd)
		assert.True(t, handled, cmd)
		assert.True(t, quit, cmd)
	}
}

func TestHandleCommandClear(t *testing.T) {
	bot := testBot(t, nil)
	bot.chat.Session().Append("user", "hello")

	handled, quit := bot.handleCommand(context.Background(), "clear")
	assert.True(t, handled)
	assert.False(t, quit)
	assert.Zero(t, bot.chat.Session().Len())
}

func TestHandleCommandStreamToggles(t *testing.T) {
	bot := testBot(t, nil)
	require.False(t, bot.chat.Streaming())

	handled, _ := bot.handleCommand(context.Background(), "stream")
	assert.True(t, handled)
	assert.True(t, bot.chat.Streaming())

	bot.handleCommand(context.Background(), "stream")
	assert.False(t, bot.chat.Streaming())
}

func TestHandleCommandModelSwitch(t *testing.T) {
	bot := testBot(t, nil)

	handled, quit := bot.handleCommand(context.Background(), "model mistral:latest")
	assert.True(t, handled)
	assert.False(t, quit)
	assert.Equal(t, "mistral:latest", bot.chat.Session().Model)
	assert.Equal(t, "mistral:latest", bot.ollama.Model())
}

func TestHandleCommandPassesChatThrough(t *testing.T) {
	bot := testBot(t, nil)

	handled, quit := bot.handleCommand(context.Background(), "what is the weather like?")
	assert.False(t, handled)
	assert.False(t, quit)
}

func TestHandleCommandBlankLine(t *testing.T) {
	bot := testBot(t, nil)

	handled, quit := bot.handleCommand(context.Background(), "   ")
	assert.True(t, handled)
	assert.False(t, quit)
}

func TestHandleCommandModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		fmt.Fprint(w, `{"models": [{"name": "llama3.1:8b", "size": 4920753328}]}`)
	}))
	defer srv.Close()

	bot := testBot(t, func(cfg *config.Config) {
		cfg.OllamaHost = srv.URL
	})

	handled, quit := bot.handleCommand(context.Background(), "models")
	assert.True(t, handled)
	assert.False(t, quit)
}

func TestStreamFlagStartsInStreamingMode(t *testing.T) {
	bot := testBot(t, func(cfg *config.Config) {
		cfg.Stream = true
	})
	assert.True(t, bot.chat.Streaming())
}

func TestSessionPersistsAcrossBots(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "chatlens.db")

	first := testBot(t, func(cfg *config.Config) {
		cfg.DBPath = dbPath
	})
	first.chat.Session().Append("user", "remember me")
	require.NoError(t, first.store.Save(first.chat.Session()))
	sessionID := first.chat.Session().ID

	second := testBot(t, func(cfg *config.Config) {
		cfg.DBPath = dbPath
		cfg.SessionID = sessionID
	})
	assert.Equal(t, sessionID, second.chat.Session().ID)
	require.Equal(t, 1, second.chat.Session().Len())
	assert.Equal(t, "remember me", second.chat.Session().History()[0].Content)
}
