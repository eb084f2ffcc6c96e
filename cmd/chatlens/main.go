package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"ChatLens/internal/chatbot"
	"ChatLens/internal/config"
)

func main() {
	var (
		configPath     string
		sinksFlag      string
		backendFlag    string
		modelFlag      string
		hostFlag       string
		sessionID      string
		userID         string
		stream         bool
		captureContent bool
		cacheEnabled   bool
		debug          bool
	)

	flag.StringVar(&configPath, "config", "", "Path to TOML config file")
	flag.StringVar(&backendFlag, "backend", "", "Model backend (ollama|openai)")
	flag.StringVar(&hostFlag, "ollama-host", "", "Ollama server URL")
	flag.StringVar(&modelFlag, "model", "", "Model specification (e.g. llama3.1:8b)")
	flag.StringVar(&sinksFlag, "sinks", "", "Comma-separated telemetry sinks (otel|openllmetry|langtrace|langfuse|opik|none)")
	flag.StringVar(&sessionID, "session-id", "", "Load existing session by ID")
	flag.StringVar(&userID, "user-id", "", "User identifier attached to telemetry")
	flag.BoolVar(&stream, "stream", false, "Start in streaming mode")
	flag.BoolVar(&captureContent, "capture-content", false, "Attach raw prompt/response text to telemetry")
	flag.BoolVar(&cacheEnabled, "cache", false, "Enable response caching")
	flag.BoolVar(&debug, "debug", false, "Enable debug logging")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	// Flags override the file and environment defaults.
	if backendFlag != "" {
		cfg.Backend = strings.ToLower(backendFlag)
	}
	if hostFlag != "" {
		cfg.OllamaHost = hostFlag
	}
	if modelFlag != "" {
		cfg.OllamaModel = modelFlag
	}
	if sinksFlag != "" {
		sinks, err := config.ParseSinks(sinksFlag)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -sinks: %v\n", err)
			os.Exit(1)
		}
		cfg.Sinks = sinks
	}
	if sessionID != "" {
		cfg.SessionID = sessionID
	}
	if userID != "" {
		cfg.UserID = userID
	}
	cfg.Stream = cfg.Stream || stream
	cfg.CaptureContent = cfg.CaptureContent || captureContent
	cfg.CacheEnabled = cfg.CacheEnabled || cacheEnabled
	cfg.Debug = cfg.Debug || debug

	bot, err := chatbot.NewChatBot(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize chatbot: %v\n", err)
		os.Exit(1)
	}

	if err := bot.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
