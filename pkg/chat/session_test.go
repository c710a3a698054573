package chat

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func apply(t *testing.T, s *Session, tr Transcript, events ...Event) Transcript {
	t.Helper()
	for _, ev := range events {
		tr, _ = s.Apply(tr, ev)
	}
	return tr
}

func TestSession_BeginAppendsUserAndSingleProgress(t *testing.T) {
	s := NewSession("hi", []int64{1}, nil)

	tr := s.Begin(nil)
	require.Equal(t, Transcript{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleProgress},
	}, tr)
	assert.Equal(t, SessionPending, s.State())

	again := s.Begin(tr)
	assert.Equal(t, tr, again)
	assert.Equal(t, 1, again.Count(RoleProgress))
}

func TestSession_DeltasConcatenateInOrder(t *testing.T) {
	deltas := []string{"The ", "quick ", "brown ", "fox"}

	s := NewSession("q", nil, []int64{7})
	tr := s.Begin(nil)
	for _, d := range deltas {
		tr = apply(t, s, tr, DeltaEvent(d))
	}

	require.Len(t, tr, 2)
	assert.Equal(t, Turn{Role: RoleAssistant, Content: strings.Join(deltas, "")}, tr[1])
	assert.Equal(t, SessionStreaming, s.State())
}

func TestSession_ProgressRemovedByFirstEventOfAnyKind(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  Transcript
	}{
		{
			name:  "delta",
			event: DeltaEvent("A"),
			want:  Transcript{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "A"}},
		},
		{
			name:  "sentinel",
			event: SentinelEvent(),
			want:  Transcript{{Role: RoleUser, Content: "hi"}},
		},
		{
			name:  "close",
			event: CloseEvent(),
			want:  Transcript{{Role: RoleUser, Content: "hi"}},
		},
		{
			name:  "error",
			event: ErrorEvent(errors.New("connection refused")),
			want:  Transcript{{Role: RoleUser, Content: "hi"}, {Role: RoleError, Content: "connection refused"}},
		},
		{
			name:  "empty delta",
			event: DeltaEvent(""),
			want:  Transcript{{Role: RoleUser, Content: "hi"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession("hi", []int64{1}, nil)
			tr := s.Begin(nil)

			next, changed := s.Apply(tr, tt.event)
			assert.True(t, changed)
			assert.Equal(t, tt.want, next)
			assert.Zero(t, next.Count(RoleProgress))
		})
	}
}

func TestSession_SentinelIsIdempotent(t *testing.T) {
	s := NewSession("hi", []int64{1}, nil)
	tr := apply(t, s, s.Begin(nil), DeltaEvent("done"), SentinelEvent())
	before := tr.Clone()

	for _, ev := range []Event{DeltaEvent("late"), SentinelEvent(), CloseEvent(), ErrorEvent(errors.New("late"))} {
		next, changed := s.Apply(tr, ev)
		assert.False(t, changed, ev.Kind.String())
		assert.Equal(t, before, next)
	}
	assert.Equal(t, SessionFinalized, s.State())
}

func TestSession_ErrorIsTerminal(t *testing.T) {
	s := NewSession("hi", []int64{1}, nil)
	tr := apply(t, s, s.Begin(nil), DeltaEvent("partial"))

	tr, changed := s.Apply(tr, ErrorEvent(&TransportError{Op: "read", Err: errors.New("reset by peer")}))
	require.True(t, changed)
	assert.Equal(t, Transcript{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "partial"},
		{Role: RoleError, Content: "read: reset by peer"},
	}, tr)

	next, changed := s.Apply(tr, ErrorEvent(errors.New("second")))
	assert.False(t, changed)
	assert.Equal(t, tr, next)
	assert.Equal(t, 1, next.Count(RoleError))

	next, changed = s.Apply(tr, DeltaEvent("more"))
	assert.False(t, changed)
	assert.Equal(t, "partial", next[1].Content)
}

func TestSession_CloseWithoutSentinelFinalizes(t *testing.T) {
	s := NewSession("hi", []int64{1}, nil)
	tr := apply(t, s, s.Begin(nil), DeltaEvent("Hello"), CloseEvent())

	assert.Equal(t, SessionFinalized, s.State())
	assert.True(t, s.Done())
	assert.Equal(t, "Hello", tr[1].Content)
}

func TestSession_NewAssistantTurnPerSession(t *testing.T) {
	first := NewSession("one", []int64{1}, nil)
	tr := apply(t, first, first.Begin(nil), DeltaEvent("first answer"), SentinelEvent())

	second := NewSession("two", []int64{1}, nil)
	tr = apply(t, second, second.Begin(tr), DeltaEvent("second "), DeltaEvent("answer"))

	assert.Equal(t, Transcript{
		{Role: RoleUser, Content: "one"},
		{Role: RoleAssistant, Content: "first answer"},
		{Role: RoleUser, Content: "two"},
		{Role: RoleAssistant, Content: "second answer"},
	}, tr)
}

func TestSession_ApplyDoesNotMutateInput(t *testing.T) {
	s := NewSession("hi", []int64{1}, nil)
	tr := apply(t, s, s.Begin(nil), DeltaEvent("a"))
	snapshot := tr.Clone()

	_, changed := s.Apply(tr, DeltaEvent("b"))
	assert.True(t, changed)
	assert.Equal(t, snapshot, tr)
}

func TestSession_ApplyBeforeBeginIsNoop(t *testing.T) {
	s := NewSession("hi", nil, nil)
	next, changed := s.Apply(nil, DeltaEvent("x"))
	assert.False(t, changed)
	assert.Empty(t, next)
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank("", nil, nil))
	assert.True(t, IsBlank("   \n", []int64{}, []int64{}))
	assert.False(t, IsBlank("", []int64{1}, nil))
	assert.False(t, IsBlank("", nil, []int64{2}))
	assert.False(t, IsBlank("hello", nil, nil))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "An unknown error occurred", Describe(nil))
	assert.Equal(t, "HTTP error! status: 502", Describe(&TransportError{Op: "status", StatusCode: 502}))
	assert.Equal(t, "The assistant stopped responding. Please try again.",
		Describe(&TransportError{Op: "idle", Err: ErrIdleTimeout}))
	assert.Equal(t, "boom", Describe(errors.New("boom")))
}

func TestTranscript_Conversation(t *testing.T) {
	tr := Transcript{
		{Role: RoleUser, Content: "a"},
		{Role: RoleError, Content: "x"},
		{Role: RoleAssistant, Content: "b"},
		{Role: RoleProgress},
	}
	assert.Equal(t, Transcript{{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}}, tr.Conversation())
	assert.True(t, RoleProgress.Valid())
	assert.False(t, Role("system").Valid())
}
