package llm

import (
	"context"
	"errors"
)

// Message represents a chat message in a provider-agnostic format
type Message struct {
	Role    string `json:"role"` // "user", "assistant", "system"
	Content string `json:"content"`
}

// Option allows for optional parameters like Temperature, MaxTokens, etc.
type Option func(*Options)

type Options struct {
	Temperature float64
	MaxTokens   int
	Model       string // Override default model
}

func WithTemperature(temp float64) Option {
	return func(o *Options) {
		o.Temperature = temp
	}
}

func WithModel(model string) Option {
	return func(o *Options) {
		o.Model = model
	}
}

func WithMaxTokens(n int) Option {
	return func(o *Options) {
		o.MaxTokens = n
	}
}

// Apply folds opts over defaults.
func Apply(defaults Options, opts ...Option) Options {
	for _, opt := range opts {
		opt(&defaults)
	}
	return defaults
}

// DeltaFunc receives each generated fragment in order. Returning an error
// aborts the stream and the error is returned from ChatStream.
type DeltaFunc func(delta string) error

// ErrStopped may be returned by a DeltaFunc to end the stream early without
// reporting a failure.
var ErrStopped = errors.New("llm: stream stopped by consumer")

// LLMProvider defines the contract for any LLM backend
type LLMProvider interface {
	// ChatStream sends a chat history and delivers the response incrementally.
	ChatStream(ctx context.Context, history []Message, onDelta DeltaFunc, options ...Option) error
}
