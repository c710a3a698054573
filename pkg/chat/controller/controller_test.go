package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ai-notebook-assistant/pkg/chat"
	"ai-notebook-assistant/pkg/chat/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStream hands out fragments pushed by the test.
type scriptedStream struct {
	fragments chan []byte
	end       error
	closed    chan struct{}
	once      sync.Once
}

func newScriptedStream(end error, fragments ...string) *scriptedStream {
	s := &scriptedStream{
		fragments: make(chan []byte, len(fragments)+16),
		end:       end,
		closed:    make(chan struct{}),
	}
	for _, f := range fragments {
		s.fragments <- []byte(f)
	}
	return s
}

func (s *scriptedStream) finish() { close(s.fragments) }

func (s *scriptedStream) Next() ([]byte, error) {
	select {
	case <-s.closed:
		return nil, io.EOF
	default:
	}
	select {
	case f, ok := <-s.fragments:
		if !ok {
			if s.end != nil {
				return nil, s.end
			}
			return nil, io.EOF
		}
		return f, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *scriptedStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

type fakeTransport struct {
	mode    string
	stream  *scriptedStream
	openErr error
	calls   atomic.Int32
	lastReq transport.Request
	mu      sync.Mutex
}

func (f *fakeTransport) Mode() string { return f.mode }

func (f *fakeTransport) Open(ctx context.Context, req transport.Request) (transport.Stream, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.stream, nil
}

type recorder struct {
	mu        sync.Mutex
	snapshots []chat.Transcript
}

func (r *recorder) OnTranscriptChanged(turns chat.Transcript) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, turns)
}

func (r *recorder) all() []chat.Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]chat.Transcript(nil), r.snapshots...)
}

func waitIdle(t *testing.T, c *Controller) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Wait(ctx))
	require.False(t, c.Busy())
}

func TestController_StreamsSSEFragmentsIntoTranscript(t *testing.T) {
	stream := newScriptedStream(nil, "data: Hel", "lo\ndata: ", " World\n")
	stream.finish()
	ft := &fakeTransport{mode: transport.ModeSSE, stream: stream}

	c := New(ft)
	rec := &recorder{}
	c.Subscribe(rec)

	require.NoError(t, c.Submit(context.Background(), "hi", []int64{1}, nil))
	waitIdle(t, c)

	assert.Equal(t, chat.Transcript{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "HelloWorld"},
	}, c.Transcript())

	snaps := rec.all()
	require.NotEmpty(t, snaps)
	assert.Equal(t, chat.Transcript{{Role: chat.RoleUser, Content: "hi"}, {Role: chat.RoleProgress}}, snaps[0])
	for _, s := range snaps {
		assert.LessOrEqual(t, s.Count(chat.RoleProgress), 1)
	}
	assert.Equal(t, c.Transcript(), snaps[len(snaps)-1])

	assert.Equal(t, "hi", ft.lastReq.Message)
	assert.Equal(t, []int64{1}, ft.lastReq.SourceIDs)
	assert.Equal(t, chat.Transcript{{Role: chat.RoleUser, Content: "hi"}}, ft.lastReq.History)
}

func TestController_BlankSubmitIsNoop(t *testing.T) {
	ft := &fakeTransport{mode: transport.ModeSSE}
	c := New(ft)
	rec := &recorder{}
	c.Subscribe(rec)

	require.NoError(t, c.Submit(context.Background(), "", nil, nil))
	require.NoError(t, c.Submit(context.Background(), "   ", []int64{}, []int64{}))

	assert.Zero(t, ft.calls.Load())
	assert.Empty(t, rec.all())
	assert.Empty(t, c.Transcript())
	assert.False(t, c.Busy())
}

func TestController_RejectsSecondSubmitWhileStreaming(t *testing.T) {
	stream := newScriptedStream(nil, "data: A\n")
	ft := &fakeTransport{mode: transport.ModeSSE, stream: stream}
	c := New(ft)

	require.NoError(t, c.Submit(context.Background(), "one", []int64{1}, nil))
	err := c.Submit(context.Background(), "two", []int64{1}, nil)
	assert.ErrorIs(t, err, chat.ErrSessionActive)
	assert.ErrorIs(t, c.Reset(), chat.ErrSessionActive)

	stream.finish()
	waitIdle(t, c)

	assert.Equal(t, 1, c.Transcript().Count(chat.RoleUser))
	assert.EqualValues(t, 1, ft.calls.Load())
}

func TestController_OpenFailureBecomesErrorTurn(t *testing.T) {
	ft := &fakeTransport{
		mode:    transport.ModeSSE,
		openErr: &chat.TransportError{Op: "status", StatusCode: http.StatusInternalServerError},
	}
	c := New(ft)

	require.NoError(t, c.Submit(context.Background(), "hi", nil, []int64{3}))
	waitIdle(t, c)

	assert.Equal(t, chat.Transcript{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleError, Content: "HTTP error! status: 500"},
	}, c.Transcript())
}

func TestController_MidStreamFailureKeepsPartialAnswer(t *testing.T) {
	stream := newScriptedStream(&chat.TransportError{Op: "read", Err: errors.New("connection reset")}, "data: partial\n")
	stream.finish()
	c := New(&fakeTransport{mode: transport.ModeSSE, stream: stream})

	require.NoError(t, c.Submit(context.Background(), "hi", []int64{1}, nil))
	waitIdle(t, c)

	tr := c.Transcript()
	require.Len(t, tr, 3)
	assert.Equal(t, chat.Turn{Role: chat.RoleAssistant, Content: "partial"}, tr[1])
	assert.Equal(t, chat.RoleError, tr[2].Role)
	assert.Equal(t, "read: connection reset", tr[2].Content)
	assert.Zero(t, tr.Count(chat.RoleProgress))
}

func TestController_SentinelStopsReadingAndClosesStream(t *testing.T) {
	stream := newScriptedStream(nil, "data: done\ndata: __END_OF_RESPONSE__\n", "data: ignored\n")
	c := New(&fakeTransport{mode: transport.ModeSSE, stream: stream})

	require.NoError(t, c.Submit(context.Background(), "hi", []int64{1}, nil))
	waitIdle(t, c)

	assert.True(t, stream.isClosed())
	assert.Equal(t, chat.Transcript{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "done"},
	}, c.Transcript())
}

func TestController_IdleTimeoutSynthesizesError(t *testing.T) {
	stream := newScriptedStream(nil, "data: slow\n")
	c := New(&fakeTransport{mode: transport.ModeSSE, stream: stream}, WithIdleTimeout(50*time.Millisecond))

	require.NoError(t, c.Submit(context.Background(), "hi", []int64{1}, nil))
	waitIdle(t, c)

	tr := c.Transcript()
	require.Len(t, tr, 3)
	assert.Equal(t, "slow", tr[1].Content)
	assert.Equal(t, chat.Turn{Role: chat.RoleError, Content: "The assistant stopped responding. Please try again."}, tr[2])
}

func TestController_CancelKeepsPartialWithoutError(t *testing.T) {
	stream := newScriptedStream(nil, "data: half an\n")
	c := New(&fakeTransport{mode: transport.ModeSSE, stream: stream}, WithIdleTimeout(0))
	rec := &recorder{}
	c.Subscribe(rec)

	require.NoError(t, c.Submit(context.Background(), "hi", []int64{1}, nil))
	require.Eventually(t, func() bool {
		return len(c.Transcript()) == 2 && c.Transcript()[1].Role == chat.RoleAssistant
	}, 2*time.Second, 5*time.Millisecond)

	c.Cancel()
	waitIdle(t, c)

	assert.Equal(t, chat.Transcript{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "half an"},
	}, c.Transcript())
	assert.True(t, stream.isClosed())
}

func TestController_CancelBeforeFirstByteRemovesProgress(t *testing.T) {
	stream := newScriptedStream(nil)
	ctx, cancel := context.WithCancel(context.Background())
	c := New(&fakeTransport{mode: transport.ModeSSE, stream: stream}, WithIdleTimeout(0))

	require.NoError(t, c.Submit(ctx, "hi", []int64{1}, nil))
	cancel()
	waitIdle(t, c)

	assert.Equal(t, chat.Transcript{{Role: chat.RoleUser, Content: "hi"}}, c.Transcript())
}

func TestController_WebSocketModeUsesMessageDecoder(t *testing.T) {
	stream := newScriptedStream(nil, "Hello", " World", "__END_OF_RESPONSE__")
	ft := &fakeTransport{mode: transport.ModeWebSocket, stream: stream}
	c := New(ft)

	require.NoError(t, c.Submit(context.Background(), "first", nil, []int64{2}))
	waitIdle(t, c)
	require.NoError(t, c.Submit(context.Background(), "again", nil, []int64{2}))
	waitIdle(t, c)

	assert.Equal(t, chat.Transcript{
		{Role: chat.RoleUser, Content: "first"},
		{Role: chat.RoleAssistant, Content: "Hello World"},
		{Role: chat.RoleUser, Content: "again"},
	}, c.Transcript())
	assert.Equal(t, chat.Transcript{
		{Role: chat.RoleUser, Content: "first"},
		{Role: chat.RoleAssistant, Content: "Hello World"},
		{Role: chat.RoleUser, Content: "again"},
	}, ft.lastReq.History)
}

func TestController_ResetAndUnsubscribe(t *testing.T) {
	stream := newScriptedStream(nil, "data: x\n")
	stream.finish()
	c := New(&fakeTransport{mode: transport.ModeSSE, stream: stream})
	rec := &recorder{}
	unsubscribe := c.Subscribe(rec)

	require.NoError(t, c.Submit(context.Background(), "hi", []int64{1}, nil))
	waitIdle(t, c)
	require.NoError(t, c.Reset())
	assert.Empty(t, c.Transcript())

	snaps := rec.all()
	assert.Empty(t, snaps[len(snaps)-1])

	unsubscribe()
	require.NoError(t, c.Reset())
	assert.Len(t, rec.all(), len(snaps))
}

func TestController_ObserversGetIndependentCopies(t *testing.T) {
	stream := newScriptedStream(nil, "data: safe\n")
	stream.finish()
	c := New(&fakeTransport{mode: transport.ModeSSE, stream: stream})
	c.Subscribe(ObserverFunc(func(turns chat.Transcript) {
		for i := range turns {
			turns[i].Content = "tampered"
		}
	}))

	require.NoError(t, c.Submit(context.Background(), "hi", []int64{1}, nil))
	waitIdle(t, c)

	assert.Equal(t, "safe", c.Transcript()[1].Content)
}

func TestController_EndToEndOverSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, part := range []string{"data: Go", "pher\n\n: ping\n", "data: s\n", "data: __END_OF_RESPONSE__\n"} {
			fmt.Fprint(w, part)
			flusher.Flush()
		}
	}))
	defer srv.Close()

	tr, err := transport.New(transport.Config{Mode: transport.ModeSSE, BaseURL: srv.URL})
	require.NoError(t, err)
	c := New(tr, WithUserID("7"))

	require.NoError(t, c.Submit(context.Background(), "who?", []int64{1, 2}, nil))
	waitIdle(t, c)

	assert.Equal(t, chat.Transcript{
		{Role: chat.RoleUser, Content: "who?"},
		{Role: chat.RoleAssistant, Content: "Gophers"},
	}, c.Transcript())
}

func TestController_IdleTimeoutCoversUnansweredRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Accept the request but never send headers.
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	tr, err := transport.New(transport.Config{Mode: transport.ModeSSE, BaseURL: srv.URL})
	require.NoError(t, err)
	c := New(tr, WithIdleTimeout(100*time.Millisecond))

	require.NoError(t, c.Submit(context.Background(), "hi", []int64{1}, nil))
	waitIdle(t, c)

	assert.False(t, c.Busy())
	assert.Equal(t, chat.Transcript{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleError, Content: "The assistant stopped responding. Please try again."},
	}, c.Transcript())
}
