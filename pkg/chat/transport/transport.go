// Package transport opens the network channel that carries one streamed
// assistant response.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ai-notebook-assistant/internal/pkg/logger"
	"ai-notebook-assistant/pkg/chat"
)

const (
	ModeSSE       = "sse"
	ModeWebSocket = "websocket"

	// UserIDHeader is the identity header the chat backend expects.
	UserIDHeader = "User-ID"
)

// Config is passed explicitly to every transport; nothing is read from
// package globals.
type Config struct {
	Mode             string
	BaseURL          string // http(s) base, the SSE endpoint lives under <BaseURL>/sse/<Endpoint>
	WebSocketURL     string // ws(s) base, the socket endpoint is <WebSocketURL>/<Endpoint>
	Endpoint         string
	UserID           string
	Token            string
	HandshakeTimeout time.Duration
	HTTPClient       *http.Client
	Logger           logger.ILogger
}

func (c Config) endpoint() string {
	if c.Endpoint == "" {
		return "ClientLLMResponse"
	}
	return c.Endpoint
}

func (c Config) logger() logger.ILogger {
	if c.Logger == nil {
		return logger.NewNopLogger()
	}
	return c.Logger
}

// Request is the serialized outbound turn plus the context it is scoped to.
type Request struct {
	Message   string
	History   chat.Transcript // full conversation, newest user turn last
	SourceIDs []int64
	NoteIDs   []int64
	UserID    string // overrides Config.UserID when set
}

// Stream is a finite, non-restartable sequence of payload fragments.
type Stream interface {
	// Next blocks until the next fragment arrives. It returns io.EOF once the
	// stream ends naturally or after Close, and a *chat.TransportError on failure.
	Next() ([]byte, error)
	// Close stops delivery. It is safe to call more than once and from another goroutine.
	Close() error
}

// Transport establishes exactly one outbound channel per submitted turn.
type Transport interface {
	Open(ctx context.Context, req Request) (Stream, error)
	Mode() string
}

// New selects the transport variant named by cfg.Mode.
func New(cfg Config) (Transport, error) {
	switch strings.ToLower(cfg.Mode) {
	case "", ModeSSE:
		return NewSSETransport(cfg), nil
	case ModeWebSocket, "ws":
		return NewSocketTransport(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported chat transport: %s", cfg.Mode)
	}
}

// joinIDs renders ids as the comma separated list the backend splits on.
func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}

// buildURL appends the endpoint path and the source/notes query.
func buildURL(base, path string, req Request) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/"))
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("source", joinIDs(req.SourceIDs))
	q.Set("notes", joinIDs(req.NoteIDs))
	u.RawQuery = q.Encode()
	// Keep the csv readable; the backend splits on a literal comma.
	u.RawQuery = strings.ReplaceAll(u.RawQuery, "%2C", ",")
	return u.String(), nil
}

func identityHeader(cfg Config, req Request) http.Header {
	h := http.Header{}
	userID := cfg.UserID
	if req.UserID != "" {
		userID = req.UserID
	}
	h.Set(UserIDHeader, userID)
	if cfg.Token != "" {
		h.Set("Authorization", "Bearer "+cfg.Token)
	}
	return h
}
