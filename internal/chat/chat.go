// Package chat implements the instrumented chat session: a
// single-threaded conversation loop core that owns history, delegates
// generation to a model backend, and invokes telemetry sink hooks
// around every turn without depending on any particular vendor.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ChatLens/internal/backend"
	"ChatLens/internal/cache"
	"ChatLens/internal/session"
	"ChatLens/internal/sink"
)

// Sentinel errors for the two failure kinds the session distinguishes.
var (
	// ErrBackendUnavailable wraps any model backend failure. The turn
	// is aborted, history is left unchanged, and no retry happens.
	ErrBackendUnavailable = errors.New("model backend unavailable")

	// ErrTelemetryUnavailable wraps hook failures. It is logged and
	// swallowed; observability must not break the chat experience.
	ErrTelemetryUnavailable = errors.New("telemetry sink unavailable")
)

// Chat is an instrumented chat session.
type Chat struct {
	sess    *session.Session
	backend backend.Backend
	sink    sink.Sink
	cache   *cache.Cache // nil disables caching
	logger  *slog.Logger
	opts    backend.Options
	chunkFn backend.ChunkFunc
}

// Option configures a Chat.
type Option func(*Chat)

// WithCache enables response caching keyed on the full history.
func WithCache(c *cache.Cache) Option {
	return func(ch *Chat) { ch.cache = c }
}

// WithOptions sets the generation parameters sent to the backend.
func WithOptions(opts backend.Options) Option {
	return func(ch *Chat) { ch.opts = opts }
}

// WithChunkFunc sets the callback that receives reply fragments while
// streaming mode is on.
func WithChunkFunc(fn backend.ChunkFunc) Option {
	return func(ch *Chat) { ch.chunkFn = fn }
}

// New creates a chat session over the given backend and telemetry
// sink. Pass sink.Nop{} for an uninstrumented session.
func New(sess *session.Session, b backend.Backend, s sink.Sink, logger *slog.Logger, opts ...Option) *Chat {
	if s == nil {
		s = sink.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	ch := &Chat{
		sess:    sess,
		backend: b,
		sink:    s,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Session returns the underlying session state.
func (c *Chat) Session() *session.Session { return c.sess }

// Streaming reports whether streaming mode is on.
func (c *Chat) Streaming() bool { return c.sess.Streaming }

// ToggleStreaming flips the streaming flag and returns the new value.
// It affects only how Submit is fulfilled, not history semantics.
func (c *Chat) ToggleStreaming() bool {
	c.sess.Streaming = !c.sess.Streaming
	return c.sess.Streaming
}

// Reset clears the conversation history. It takes effect for the next
// Submit call.
func (c *Chat) Reset() {
	c.sess.Clear()
	c.logger.Info("conversation history cleared", "session_id", c.sess.ID)
}

// Submit runs one conversation turn: the pending user message plus the
// full history is sent to the backend, and on success both the user
// and assistant messages are appended. The sink hooks fire
// unconditionally around the turn; their failures are logged, never
// returned. The returned Turn carries the telemetry view of the turn
// (duration, token usage, cache hit) for display purposes.
func (c *Chat) Submit(ctx context.Context, userText string) (string, *sink.Turn, error) {
	turn := &sink.Turn{
		SessionID: c.sess.ID,
		UserID:    c.sess.UserID,
		Model:     c.sess.Model,
		UserText:  userText,
		Streaming: c.sess.Streaming,
	}

	start := time.Now()
	hctx := c.beforeTurn(ctx, turn)

	pending := append(c.sess.History(), session.Message{
		Role:      session.RoleUser,
		Content:   userText,
		Timestamp: start,
	})

	reply, err := c.generate(hctx, pending, turn)
	turn.Duration = time.Since(start)

	if err != nil {
		turn.Err = err
		c.afterTurn(hctx, turn)
		return "", turn, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	turn.Reply = reply.Content
	turn.Usage = reply.Usage

	c.sess.Append(session.RoleUser, userText)
	c.sess.Append(session.RoleAssistant, reply.Content)

	c.afterTurn(hctx, turn)
	return reply.Content, turn, nil
}

func (c *Chat) generate(ctx context.Context, pending []session.Message, turn *sink.Turn) (*backend.Reply, error) {
	if c.cache != nil {
		if cached, ok := c.cache.Get(pending); ok {
			turn.CacheHit = true
			if c.sess.Streaming && c.chunkFn != nil {
				if err := c.chunkFn(cached); err != nil {
					return nil, err
				}
			}
			return &backend.Reply{Content: cached, Model: c.sess.Model}, nil
		}
	}

	var reply *backend.Reply
	var err error
	if c.sess.Streaming {
		reply, err = c.backend.Stream(ctx, pending, c.opts, c.chunkFn)
	} else {
		reply, err = c.backend.Generate(ctx, pending, c.opts)
	}
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		c.cache.Put(pending, reply.Content)
	}
	return reply, nil
}

// beforeTurn invokes the sink's BeforeTurn hook, swallowing failures.
// The returned context carries whatever span state the sink attached
// and is threaded through the backend call into afterTurn.
func (c *Chat) beforeTurn(ctx context.Context, turn *sink.Turn) context.Context {
	hctx, err := c.sink.BeforeTurn(ctx, turn)
	if err != nil {
		c.logger.Warn("telemetry hook failed",
			"hook", "before_turn",
			"error", fmt.Errorf("%w: %v", ErrTelemetryUnavailable, err))
	}
	if hctx == nil {
		return ctx
	}
	return hctx
}

func (c *Chat) afterTurn(ctx context.Context, turn *sink.Turn) {
	if err := c.sink.AfterTurn(ctx, turn); err != nil {
		c.logger.Warn("telemetry hook failed",
			"hook", "after_turn",
			"error", fmt.Errorf("%w: %v", ErrTelemetryUnavailable, err))
	}
}
