// Package decode turns raw transport fragments into chat events.
package decode

import (
	"ai-notebook-assistant/internal/pkg/logger"
	"ai-notebook-assistant/pkg/chat"
)

// DefaultSentinel is the literal payload the chat backend sends after the
// last delta of a response.
const DefaultSentinel = "__END_OF_RESPONSE__"

// Decoder converts a fragment sequence into events. Implementations keep
// state between calls and are not safe for concurrent use.
type Decoder interface {
	// Decode consumes one fragment. Empty fragments are legal and yield nothing.
	Decode(fragment []byte) []chat.Event
	// Flush is called once at natural end of stream to drain buffered input.
	Flush() []chat.Event
}

// Option configures a decoder.
type Option func(*options)

type options struct {
	sentinel string
	logger   logger.ILogger
}

func WithSentinel(sentinel string) Option {
	return func(o *options) {
		if sentinel != "" {
			o.sentinel = sentinel
		}
	}
}

func WithLogger(l logger.ILogger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		sentinel: DefaultSentinel,
		logger:   logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns the decoder that matches a transport mode ("sse" or "websocket").
func New(mode string, opts ...Option) Decoder {
	if mode == "websocket" {
		return NewMessageDecoder(opts...)
	}
	return NewSSEDecoder(opts...)
}
