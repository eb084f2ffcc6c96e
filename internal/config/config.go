package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"ChatLens/internal/telemetry"
)

// Backend names selectable via config.
const (
	BackendOllama = "ollama"
	// BackendOpenAICompat drives Ollama through its OpenAI-compatible
	// /v1 endpoint instead of the native chat API.
	BackendOpenAICompat = "openai"
)

// Sink names selectable via config.
const (
	SinkOTel        = "otel"
	SinkOpenLLMetry = "openllmetry"
	SinkLangtrace   = "langtrace"
	SinkLangfuse    = "langfuse"
	SinkOpik        = "opik"
	SinkNone        = "none"
)

// LangfuseConfig holds Langfuse connection settings.
type LangfuseConfig struct {
	Host      string `toml:"host"`
	PublicKey string `toml:"public_key"`
	SecretKey string `toml:"secret_key"`
}

// OpikConfig holds Opik connection settings.
type OpikConfig struct {
	Host      string `toml:"host"`
	APIKey    string `toml:"api_key"`
	Workspace string `toml:"workspace"`
	Project   string `toml:"project"`
}

// Config holds application configuration
type Config struct {
	Backend     string `toml:"backend"`
	OllamaHost  string `toml:"ollama_host"`
	OllamaModel string `toml:"ollama_model"`

	// Sinks lists the telemetry sinks to attach (comma-separated on
	// the command line): otel|openllmetry|langtrace|langfuse|opik|none.
	Sinks []string `toml:"sinks"`

	SessionID string `toml:"session_id"`
	UserID    string `toml:"user_id"`
	Debug     bool   `toml:"debug"`

	// CaptureContent controls whether raw prompt/response text is
	// attached to telemetry records. Off by default for privacy.
	CaptureContent bool `toml:"capture_content"`

	CacheEnabled bool   `toml:"cache_enabled"`
	Stream       bool   `toml:"stream"`
	DBPath       string `toml:"db_path"`

	Temperature float64 `toml:"temperature"`
	MaxTokens   int     `toml:"max_tokens"`
	TopP        float64 `toml:"top_p"`
	TopK        int     `toml:"top_k"`

	Telemetry telemetry.Config `toml:"telemetry"`
	Langfuse  LangfuseConfig   `toml:"langfuse"`
	Opik      OpikConfig       `toml:"opik"`
}

// Default returns the configuration defaults, applying the same
// environment fallbacks the original demos honor.
func Default() Config {
	return Config{
		Backend:      BackendOllama,
		OllamaHost:   getEnvOr("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:  getEnvOr("OLLAMA_MODEL", "llama3.1:8b"),
		Sinks:        []string{SinkOTel},
		CacheEnabled: false,
		DBPath:       "chatlens.db",
		Temperature:  0.7,
		MaxTokens:    500,
		Telemetry:    telemetry.DefaultConfig(),
		Langfuse: LangfuseConfig{
			Host:      getEnvOr("LANGFUSE_HOST", "http://localhost:3000"),
			PublicKey: os.Getenv("LANGFUSE_PUBLIC_KEY"),
			SecretKey: os.Getenv("LANGFUSE_SECRET_KEY"),
		},
		Opik: OpikConfig{
			Host:      getEnvOr("OPIK_URL_OVERRIDE", "http://localhost:5173"),
			APIKey:    os.Getenv("OPIK_API_KEY"),
			Workspace: getEnvOr("OPIK_WORKSPACE", "default"),
			Project:   getEnvOr("OPIK_PROJECT_NAME", "chatlens"),
		},
	}
}

// Load reads a TOML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to load config file: %w", err)
	}
	return cfg, nil
}

// ParseSinks splits a comma-separated sink list and validates it.
func ParseSinks(s string) ([]string, error) {
	if s == "" || s == SinkNone {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	sinks := make([]string, 0, len(parts))
	for _, p := range parts {
		name := strings.TrimSpace(strings.ToLower(p))
		switch name {
		case SinkOTel, SinkOpenLLMetry, SinkLangtrace, SinkLangfuse, SinkOpik:
			sinks = append(sinks, name)
		case "":
		default:
			return nil, fmt.Errorf("unknown sink: %s", name)
		}
	}
	return sinks, nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
