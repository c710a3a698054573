package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"ai-notebook-assistant/pkg/chat"

	"github.com/fasthttp/websocket"
)

const closeWait = time.Second

type socketTransport struct {
	cfg    Config
	dialer *websocket.Dialer
}

// NewSocketTransport connects to the websocket endpoint and sends the whole
// conversation as one JSON message.
func NewSocketTransport(cfg Config) Transport {
	timeout := cfg.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &socketTransport{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: timeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
	}
}

func (t *socketTransport) Mode() string { return ModeWebSocket }

func (t *socketTransport) Open(ctx context.Context, req Request) (Stream, error) {
	log := t.cfg.logger()

	endpoint, err := buildURL(t.cfg.WebSocketURL, t.cfg.endpoint(), req)
	if err != nil {
		return nil, &chat.TransportError{Op: "dial", Err: err}
	}

	conn, resp, err := t.dialer.DialContext(ctx, endpoint, identityHeader(t.cfg, req))
	if err != nil {
		log.Error("SocketTransport", "Handshake failed", map[string]interface{}{"error": err.Error(), "url": endpoint})
		if resp != nil && resp.StatusCode != 0 {
			return nil, &chat.TransportError{Op: "dial", StatusCode: resp.StatusCode, Err: err}
		}
		return nil, &chat.TransportError{Op: "dial", Err: err}
	}

	history := req.History.Conversation()
	if len(history) == 0 {
		history = chat.Transcript{{Role: chat.RoleUser, Content: req.Message}}
	}
	payload, err := json.Marshal(history)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("marshal history: %w", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return nil, &chat.TransportError{Op: "send", Err: err}
	}

	log.Debug("SocketTransport", "Turn sent", map[string]interface{}{"url": endpoint, "turns": len(history)})
	return &socketStream{conn: conn}, nil
}

type socketStream struct {
	conn    *websocket.Conn
	pending error
	closed  atomic.Bool
	once    sync.Once
}

func (s *socketStream) Next() ([]byte, error) {
	if s.pending != nil {
		return nil, s.pending
	}
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		s.pending = s.mapErr(err)
		return nil, s.pending
	}
	return data, nil
}

func (s *socketStream) mapErr(err error) error {
	if s.closed.Load() {
		return io.EOF
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return io.EOF
	}
	return &chat.TransportError{Op: "read", Err: err}
}

func (s *socketStream) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		// Best effort: the peer may already be gone.
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait),
		)
		err = s.conn.Close()
	})
	return err
}
