// Package controller binds user submissions to streamed assistant responses
// and publishes transcript snapshots to observers.
package controller

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"ai-notebook-assistant/internal/pkg/logger"
	"ai-notebook-assistant/pkg/chat"
	"ai-notebook-assistant/pkg/chat/decode"
	"ai-notebook-assistant/pkg/chat/transport"

	"github.com/google/uuid"
)

const module = "ChatController"

// Observer receives a private copy of the transcript after every change.
// Callbacks run on the streaming goroutine, in order, and must not call
// back into the Controller synchronously.
type Observer interface {
	OnTranscriptChanged(turns chat.Transcript)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(turns chat.Transcript)

func (f ObserverFunc) OnTranscriptChanged(turns chat.Transcript) { f(turns) }

// Option configures a Controller.
type Option func(*Controller)

func WithLogger(l logger.ILogger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithIdleTimeout fails a session when no fragment arrives for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) { c.idleTimeout = d }
}

func WithSentinel(sentinel string) Option {
	return func(c *Controller) { c.sentinel = sentinel }
}

// WithDecoder overrides the decoder picked from the transport mode.
func WithDecoder(factory func() decode.Decoder) Option {
	return func(c *Controller) { c.newDecoder = factory }
}

// WithUserID sets the identity sent with every request.
func WithUserID(id string) Option {
	return func(c *Controller) { c.userID = id }
}

// Controller owns the transcript of one conversation. At most one session
// streams at a time; a second Submit while one is active is rejected with
// chat.ErrSessionActive.
type Controller struct {
	id          uuid.UUID
	transport   transport.Transport
	newDecoder  func() decode.Decoder
	logger      logger.ILogger
	idleTimeout time.Duration
	sentinel    string
	userID      string

	// publishMu is taken before mu and held while observers run, so
	// snapshots are delivered in the order they were produced.
	publishMu sync.Mutex

	mu         sync.Mutex
	transcript chat.Transcript
	active     *run
	observers  map[int]Observer
	nextObs    int
}

type run struct {
	session *chat.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(t transport.Transport, opts ...Option) *Controller {
	c := &Controller{
		id:          uuid.New(),
		transport:   t,
		logger:      logger.NewNopLogger(),
		idleTimeout: 60 * time.Second,
		sentinel:    decode.DefaultSentinel,
		transcript:  chat.Transcript{},
		observers:   make(map[int]Observer),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.newDecoder == nil {
		mode, sentinel, log := t.Mode(), c.sentinel, c.logger
		c.newDecoder = func() decode.Decoder {
			return decode.New(mode, decode.WithSentinel(sentinel), decode.WithLogger(log))
		}
	}
	return c
}

// ID identifies the conversation this controller owns.
func (c *Controller) ID() uuid.UUID { return c.id }

// Subscribe registers o and returns a function that removes it.
func (c *Controller) Subscribe(o Observer) func() {
	c.mu.Lock()
	key := c.nextObs
	c.nextObs++
	c.observers[key] = o
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.observers, key)
		c.mu.Unlock()
	}
}

// Transcript returns a snapshot of the current transcript.
func (c *Controller) Transcript() chat.Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transcript.Clone()
}

// Busy reports whether a session is streaming.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Submit appends the user turn and starts streaming the response in the
// background. Blank text with no selected context is a no-op. ctx bounds the
// lifetime of the whole session, not just this call.
//
// Transport and decoding failures never surface here; they end up as an
// error turn in the transcript.
func (c *Controller) Submit(ctx context.Context, text string, sourceIDs, noteIDs []int64) error {
	if chat.IsBlank(text, sourceIDs, noteIDs) {
		return nil
	}

	c.publishMu.Lock()
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		c.publishMu.Unlock()
		return chat.ErrSessionActive
	}

	session := chat.NewSession(text, sourceIDs, noteIDs)
	c.transcript = session.Begin(c.transcript)

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{session: session, cancel: cancel, done: make(chan struct{})}
	c.active = r

	req := transport.Request{
		Message:   text,
		History:   c.transcript.Conversation(),
		SourceIDs: sourceIDs,
		NoteIDs:   noteIDs,
		UserID:    c.userID,
	}
	snapshot, observers := c.transcript, c.observerList()
	c.mu.Unlock()

	notify(observers, snapshot)
	c.publishMu.Unlock()

	c.logger.Info(module, "Session started", map[string]interface{}{
		"conversation_id": c.id.String(),
		"session_id":      session.ID.String(),
		"transport":       c.transport.Mode(),
		"sources":         len(sourceIDs),
		"notes":           len(noteIDs),
	})

	go c.stream(runCtx, r, req)
	return nil
}

// Cancel abandons the active session, if any. Whatever the assistant has
// produced so far stays in the transcript.
func (c *Controller) Cancel() {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r != nil {
		r.cancel()
	}
}

// Wait blocks until the active session ends or ctx is done.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	r := c.active
	c.mu.Unlock()
	if r == nil {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset clears the transcript. It is rejected while a session streams.
func (c *Controller) Reset() error {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return chat.ErrSessionActive
	}
	c.transcript = chat.Transcript{}
	observers := c.observerList()
	c.mu.Unlock()

	notify(observers, chat.Transcript{})
	return nil
}

func (c *Controller) stream(ctx context.Context, r *run, req transport.Request) {
	defer c.finish(r)

	// The idle timer covers the handshake as well as the body: a server that
	// accepts the request but never answers is as idle as one that stalls.
	streamCtx, stop := context.WithCancelCause(ctx)
	defer stop(nil)

	var timer *time.Timer
	if c.idleTimeout > 0 {
		timer = time.AfterFunc(c.idleTimeout, func() { stop(chat.ErrIdleTimeout) })
		defer timer.Stop()
	}

	stream, err := c.transport.Open(streamCtx, req)
	if err != nil {
		c.apply(r, endEvent(ctx, streamCtx, err))
		return
	}
	defer stream.Close()

	stopOnCancel := context.AfterFunc(streamCtx, func() { stream.Close() })
	defer stopOnCancel()

	dec := c.newDecoder()
	for {
		fragment, err := stream.Next()
		if err != nil {
			if streamCtx.Err() == nil && errors.Is(err, io.EOF) {
				for _, ev := range dec.Flush() {
					c.apply(r, ev)
				}
				c.apply(r, chat.CloseEvent())
				return
			}
			c.apply(r, endEvent(ctx, streamCtx, err))
			return
		}

		if timer != nil {
			timer.Reset(c.idleTimeout)
		}
		for _, ev := range dec.Decode(fragment) {
			c.apply(r, ev)
		}
		if r.session.Done() {
			return
		}
	}
}

// endEvent classifies a failed open or read. Idle expiry is an error, a
// caller cancel is a quiet close.
func endEvent(ctx, streamCtx context.Context, err error) chat.Event {
	switch {
	case ctx.Err() != nil:
		return chat.CloseEvent()
	case errors.Is(context.Cause(streamCtx), chat.ErrIdleTimeout):
		return chat.ErrorEvent(&chat.TransportError{Op: "idle", Err: chat.ErrIdleTimeout})
	default:
		return chat.ErrorEvent(err)
	}
}

func (c *Controller) apply(r *run, ev chat.Event) {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	c.mu.Lock()
	next, changed := r.session.Apply(c.transcript, ev)
	if changed {
		c.transcript = next
	}
	observers := c.observerList()
	c.mu.Unlock()

	if ev.Kind == chat.EventError && changed {
		c.logger.Warn(module, "Session failed", map[string]interface{}{
			"session_id": r.session.ID.String(),
			"error":      ev.Err.Error(),
		})
	}
	if changed {
		notify(observers, next)
	}
}

func (c *Controller) finish(r *run) {
	// Never leave a session open; this also clears a dangling progress turn.
	if !r.session.Done() {
		c.apply(r, chat.CloseEvent())
	}

	c.mu.Lock()
	if c.active == r {
		c.active = nil
	}
	c.mu.Unlock()

	r.cancel()
	close(r.done)

	c.logger.Info(module, "Session ended", map[string]interface{}{
		"session_id": r.session.ID.String(),
		"state":      r.session.State().String(),
	})
}

func (c *Controller) observerList() []Observer {
	out := make([]Observer, 0, len(c.observers))
	for i := 0; i < c.nextObs; i++ {
		if o, ok := c.observers[i]; ok {
			out = append(out, o)
		}
	}
	return out
}

func notify(observers []Observer, snapshot chat.Transcript) {
	for _, o := range observers {
		o.OnTranscriptChanged(snapshot.Clone())
	}
}
