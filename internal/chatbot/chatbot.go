// Package chatbot wires the instrumented chat session to a terminal
// read-eval-print loop: backend and sink construction from config,
// line-oriented commands, and session persistence.
package chatbot

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"ChatLens/internal/backend"
	"ChatLens/internal/cache"
	"ChatLens/internal/chat"
	"ChatLens/internal/config"
	"ChatLens/internal/session"
	"ChatLens/internal/sink"
	"ChatLens/internal/sink/langfuse"
	"ChatLens/internal/sink/opik"
	"ChatLens/internal/store"
	"ChatLens/internal/telemetry"
)

// ChatBot represents the main application
type ChatBot struct {
	cfg      config.Config
	chat     *chat.Chat
	ollama   *backend.OllamaClient // nil when the OpenAI-compatible path is used
	sink     sink.Sink
	store    *store.Store
	logger   *slog.Logger
	shutdown func(context.Context) error
}

// NewChatBot creates a new ChatBot instance
func NewChatBot(cfg config.Config) (*ChatBot, error) {
	logger, err := telemetry.InitLogger(cfg.Telemetry.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	cb := &ChatBot{
		cfg:      cfg,
		store:    st,
		logger:   logger,
		shutdown: shutdown,
	}

	sess := cb.openSession(cfg)

	var b backend.Backend
	switch cfg.Backend {
	case config.BackendOllama:
		cb.ollama = backend.NewOllamaClient(cfg.OllamaHost, sess.Model, logger)
		b = cb.ollama
	case config.BackendOpenAICompat:
		b = backend.NewOpenAICompatClient(cfg.OllamaHost+"/v1", "", sess.Model, logger)
	default:
		return nil, fmt.Errorf("unknown backend: %s", cfg.Backend)
	}

	cb.sink, err = buildSinks(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build telemetry sinks: %w", err)
	}

	opts := []chat.Option{
		chat.WithOptions(backend.Options{
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			TopP:        cfg.TopP,
			TopK:        cfg.TopK,
		}),
		chat.WithChunkFunc(func(chunk string) error {
			fmt.Print(chunk)
			return nil
		}),
	}
	if cfg.CacheEnabled {
		opts = append(opts, chat.WithCache(cache.New()))
	}

	cb.chat = chat.New(sess, b, cb.sink, logger, opts...)
	if cfg.Stream {
		cb.chat.ToggleStreaming()
	}

	return cb, nil
}

func (cb *ChatBot) openSession(cfg config.Config) *session.Session {
	if cfg.SessionID != "" {
		sess, err := cb.store.Load(cfg.SessionID)
		if err != nil {
			cb.logger.Warn("failed to load session, creating new one", "error", err)
		} else {
			cb.logger.Info("loaded existing session", "session_id", sess.ID)
			sess.UserID = cfg.UserID
			return sess
		}
	}
	sess := session.New(cfg.OllamaModel, cfg.UserID)
	cb.logger.Info("created new session", "session_id", sess.ID, "model", sess.Model)
	return sess
}

func buildSinks(cfg config.Config, logger *slog.Logger) (sink.Sink, error) {
	var sinks []sink.Sink
	for _, name := range cfg.Sinks {
		switch name {
		case config.SinkOTel:
			s, err := sink.NewOTel(nil, nil, cfg.CaptureContent)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)

		case config.SinkOpenLLMetry:
			sinks = append(sinks, sink.NewOpenLLMetry(nil, "chat", cfg.CaptureContent))

		case config.SinkLangtrace:
			sinks = append(sinks, sink.NewLangtrace(nil, cfg.Telemetry.ServiceName, cfg.CaptureContent))

		case config.SinkLangfuse:
			s, err := langfuse.New(langfuse.Config{
				Host:           cfg.Langfuse.Host,
				PublicKey:      cfg.Langfuse.PublicKey,
				SecretKey:      cfg.Langfuse.SecretKey,
				CaptureContent: cfg.CaptureContent,
			}, logger)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)

		case config.SinkOpik:
			s, err := opik.New(opik.Config{
				Host:           cfg.Opik.Host,
				APIKey:         cfg.Opik.APIKey,
				Workspace:      cfg.Opik.Workspace,
				Project:        cfg.Opik.Project,
				CaptureContent: cfg.CaptureContent,
			}, logger)
			if err != nil {
				return nil, err
			}
			sinks = append(sinks, s)

		default:
			return nil, fmt.Errorf("unknown sink: %s", name)
		}
	}

	switch len(sinks) {
	case 0:
		return sink.Nop{}, nil
	case 1:
		return sinks[0], nil
	default:
		return sink.NewMulti(sinks...), nil
	}
}

// handleCommand handles the line-oriented command surface. It returns
// true when the loop should exit.
func (cb *ChatBot) handleCommand(ctx context.Context, input string) (handled, quit bool) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return true, false
	}

	switch strings.ToLower(parts[0]) {
	case "quit", "exit":
		return true, true

	case "clear":
		cb.chat.Reset()
		fmt.Println("\n[Conversation history cleared]")
		return true, false

	case "stream":
		mode := "disabled"
		if cb.chat.ToggleStreaming() {
			mode = "enabled"
		}
		fmt.Printf("\n[Streaming mode %s]\n", mode)
		return true, false

	case "history":
		cb.printHistory()
		return true, false

	case "models":
		cb.printModels(ctx)
		return true, false

	case "model":
		if len(parts) < 2 {
			fmt.Println("usage: model <name:tag>")
			return true, false
		}
		cb.setModel(parts[1])
		return true, false

	case "help":
		printHelp()
		return true, false
	}

	return false, false
}

func (cb *ChatBot) printHistory() {
	msgs := cb.chat.Session().History()
	if len(msgs) == 0 {
		fmt.Println("\n[No conversation history]")
		return
	}
	fmt.Println("\nConversation history:")
	for i, msg := range msgs {
		who := "You"
		if msg.Role == session.RoleAssistant {
			who = "Bot"
		}
		fmt.Printf("%d. %s: %s\n", i+1, who, msg.Content)
	}
}

func (cb *ChatBot) printModels(ctx context.Context) {
	if cb.ollama == nil {
		fmt.Println("Model listing requires the native ollama backend")
		return
	}
	models, err := cb.ollama.ListModels(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		cb.logger.Error("failed to list models", "error", err)
		return
	}
	fmt.Println("\nAvailable models:")
	for i, model := range models {
		sizeGB := float64(model.Size) / (1024 * 1024 * 1024)
		current := ""
		if model.Name == cb.chat.Session().Model {
			current = " (current)"
		}
		fmt.Printf("%d. %s - %.2f GB%s\n", i+1, model.Name, sizeGB, current)
	}
}

func (cb *ChatBot) setModel(name string) {
	cb.chat.Session().Model = name
	if cb.ollama != nil {
		cb.ollama.SetModel(name)
	}
	fmt.Printf("Model set to: %s\n", name)
	cb.logger.Info("model switched", "model", name)
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  quit, exit    - End the conversation")
	fmt.Println("  clear         - Reset conversation history")
	fmt.Println("  stream        - Toggle streaming mode")
	fmt.Println("  history       - View conversation history")
	fmt.Println("  models        - List available Ollama models")
	fmt.Println("  model <name>  - Switch model")
	fmt.Println("  help          - Show this help message")
	fmt.Println("Anything else is sent to the model.")
}

// Run starts the chat loop and blocks until quit/exit or EOF.
func (cb *ChatBot) Run() error {
	defer cb.close()

	sess := cb.chat.Session()

	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("ChatLens - Ollama chat with pluggable observability")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Session: %s\n", sess.ID)
	fmt.Printf("Model:   %s\n", sess.Model)
	fmt.Printf("Sinks:   %s\n", strings.Join(cb.cfg.Sinks, ", "))
	fmt.Println("Type 'help' for commands, 'quit' to exit")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println()

	// One session-scoped span parents every turn for the span-capable
	// sinks.
	tracer := otel.Tracer("chatlens")
	ctx, sessionSpan := tracer.Start(context.Background(), "chatbot_session",
		trace.WithAttributes(attribute.String("session.id", sess.ID)))
	defer func() {
		sessionSpan.SetAttributes(attribute.Int("session.total_messages", sess.Len()))
		sessionSpan.End()
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		handled, quit := cb.handleCommand(ctx, input)
		if quit {
			break
		}
		if handled {
			fmt.Println()
			continue
		}

		cb.turn(ctx, input)
	}

	fmt.Println("\nGoodbye!")
	return nil
}

func (cb *ChatBot) turn(ctx context.Context, input string) {
	streaming := cb.chat.Streaming()
	if streaming {
		fmt.Print("\nBot: ")
	}

	reply, turn, err := cb.chat.Submit(ctx, input)
	if err != nil {
		fmt.Printf("\nError: %v\n\n", err)
		cb.logger.Error("failed to send message", "error", err)
		return
	}

	if streaming {
		fmt.Println()
	} else {
		fmt.Printf("\nBot: %s\n", reply)
	}
	cb.printTurnFooter(turn)

	if err := cb.store.Save(cb.chat.Session()); err != nil {
		cb.logger.Error("failed to save session", "error", err)
	}
}

func (cb *ChatBot) printTurnFooter(turn *sink.Turn) {
	fmt.Printf("\n[%.2fms", float64(turn.Duration.Microseconds())/1000.0)
	if turn.Usage != nil {
		fmt.Printf(" | %d tokens (prompt: %d, completion: %d)",
			turn.Usage.Total, turn.Usage.Prompt, turn.Usage.Completion)
	}
	if turn.CacheHit {
		fmt.Print(" | cached")
	}
	fmt.Println("]")
	fmt.Println()
}

func (cb *ChatBot) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := cb.store.Save(cb.chat.Session()); err != nil {
		cb.logger.Error("failed to save session on exit", "error", err)
	}
	if err := cb.store.Close(); err != nil {
		cb.logger.Error("failed to close session store", "error", err)
	}
	if err := cb.sink.Flush(ctx); err != nil {
		cb.logger.Warn("failed to flush telemetry sinks", "error", err)
	}
	if cb.shutdown != nil {
		if err := cb.shutdown(ctx); err != nil {
			cb.logger.Error("failed to shutdown telemetry", "error", err)
		}
	}
}
