// Package sink defines the telemetry attachment contract for the chat
// loop. A Sink observes conversation turns through two hooks invoked
// synchronously around each submit; implementations map the turn data
// onto their vendor's span/metric/event schema.
package sink

import (
	"context"
	"errors"
	"time"

	"ChatLens/internal/backend"
)

// Turn is the telemetry record for one conversation turn. It is a
// named event with scalar attributes; sinks decide which of them (in
// particular the raw prompt and reply text) actually leave the
// process.
type Turn struct {
	SessionID string
	UserID    string
	Model     string
	UserText  string
	Reply     string
	Streaming bool
	CacheHit  bool
	Duration  time.Duration
	Usage     *backend.TokenUsage // nil when the backend reported none
	Err       error               // non-nil when the turn failed
}

// Sink receives turn lifecycle hooks. BeforeTurn may return a derived
// context (carrying a started span) which the session threads through
// the backend call and into AfterTurn. Hook errors must never abort a
// turn; the session logs and swallows them.
type Sink interface {
	BeforeTurn(ctx context.Context, t *Turn) (context.Context, error)
	AfterTurn(ctx context.Context, t *Turn) error
	Flush(ctx context.Context) error
}

// Nop is a Sink that records nothing.
type Nop struct{}

func (Nop) BeforeTurn(ctx context.Context, _ *Turn) (context.Context, error) { return ctx, nil }
func (Nop) AfterTurn(context.Context, *Turn) error                           { return nil }
func (Nop) Flush(context.Context) error                                      { return nil }

// Multi fans hooks out to several sinks. BeforeTurn chains contexts in
// registration order; AfterTurn runs in reverse so nested spans end
// inside-out. All errors are joined rather than short-circuiting, so
// one failing sink does not starve the others.
type Multi struct {
	sinks []Sink
}

// NewMulti builds a fan-out sink. A nil or empty list behaves like Nop.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) BeforeTurn(ctx context.Context, t *Turn) (context.Context, error) {
	var errs []error
	for _, s := range m.sinks {
		next, err := s.BeforeTurn(ctx, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ctx = next
	}
	return ctx, errors.Join(errs...)
}

func (m *Multi) AfterTurn(ctx context.Context, t *Turn) error {
	var errs []error
	for i := len(m.sinks) - 1; i >= 0; i-- {
		if err := m.sinks[i].AfterTurn(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
