package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"ai-notebook-assistant/pkg/chat"
)

const (
	eventStreamType = "text/event-stream"
	readChunkSize   = 4096
)

type sseTransport struct {
	cfg    Config
	client *http.Client
}

// NewSSETransport posts the turn and reads the chunked event-stream body.
func NewSSETransport(cfg Config) Transport {
	client := cfg.HTTPClient
	if client == nil {
		// No overall timeout: the response is long lived. Idle detection
		// belongs to the controller.
		client = &http.Client{}
	}
	return &sseTransport{cfg: cfg, client: client}
}

func (t *sseTransport) Mode() string { return ModeSSE }

type sseRequestBody struct {
	Message string `json:"message"`
}

func (t *sseTransport) Open(ctx context.Context, req Request) (Stream, error) {
	log := t.cfg.logger()

	endpoint, err := buildURL(t.cfg.BaseURL, "sse/"+t.cfg.endpoint(), req)
	if err != nil {
		return nil, &chat.TransportError{Op: "dial", Err: err}
	}

	payload, err := json.Marshal(sseRequestBody{Message: req.Message})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, &chat.TransportError{Op: "dial", Err: err}
	}
	httpReq.Header = identityHeader(t.cfg, req)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", eventStreamType)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		log.Error("SSETransport", "Chat request failed", map[string]interface{}{"error": err.Error(), "url": endpoint})
		return nil, &chat.TransportError{Op: "dial", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		log.Warn("SSETransport", "Chat endpoint returned non-2xx", map[string]interface{}{"status": resp.StatusCode})
		return nil, &chat.TransportError{Op: "status", StatusCode: resp.StatusCode}
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, eventStreamType) {
		resp.Body.Close()
		log.Warn("SSETransport", "Unexpected content type", map[string]interface{}{"content_type": contentType})
		return nil, fmt.Errorf("%w: got %q, expected %s", chat.ErrProtocolMismatch, contentType, eventStreamType)
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, &chat.TransportError{Op: "read", Err: chat.ErrNoStream}
	}

	log.Debug("SSETransport", "Stream opened", map[string]interface{}{"url": endpoint})
	return &sseStream{body: resp.Body, buf: make([]byte, readChunkSize)}, nil
}

type sseStream struct {
	body    io.ReadCloser
	buf     []byte
	pending error
	closed  atomic.Bool
	once    sync.Once
}

func (s *sseStream) Next() ([]byte, error) {
	if s.pending != nil {
		return nil, s.pending
	}
	for {
		n, err := s.body.Read(s.buf)
		if err != nil {
			s.pending = s.mapErr(err)
		}
		if n > 0 {
			out := make([]byte, n)
			copy(out, s.buf[:n])
			return out, nil
		}
		if s.pending != nil {
			return nil, s.pending
		}
	}
}

func (s *sseStream) mapErr(err error) error {
	if errors.Is(err, io.EOF) || s.closed.Load() || errors.Is(err, context.Canceled) {
		return io.EOF
	}
	return &chat.TransportError{Op: "read", Err: err}
}

func (s *sseStream) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		err = s.body.Close()
	})
	return err
}
