package backend

import (
	"context"

	"ChatLens/internal/session"
)

// Options are the generation parameters forwarded to the model.
// Zero values are omitted from the request.
type Options struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	TopK        int
}

// TokenUsage carries the token counts reported by a backend. Backends
// that do not report usage return a nil *TokenUsage and consumers must
// tolerate that.
type TokenUsage struct {
	Prompt     int
	Completion int
	Total      int
}

// Reply is the result of one generation call.
type Reply struct {
	Content string
	Model   string
	Usage   *TokenUsage
}

// ChunkFunc receives successive reply fragments during a streamed
// generation. Returning an error aborts the stream.
type ChunkFunc func(chunk string) error

// Backend generates assistant replies from an ordered message history.
type Backend interface {
	Name() string
	Generate(ctx context.Context, messages []session.Message, opts Options) (*Reply, error)
	Stream(ctx context.Context, messages []session.Message, opts Options, fn ChunkFunc) (*Reply, error)
}
