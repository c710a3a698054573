package chat

import (
	"strings"

	"github.com/google/uuid"
)

// SessionState tracks where a session is in its lifecycle.
type SessionState int

const (
	SessionIdle SessionState = iota
	// SessionPending means the user turn is in and we are waiting for the first event.
	SessionPending
	SessionStreaming
	// SessionFinalized is reached by a sentinel or a natural close.
	SessionFinalized
	SessionFailed
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionPending:
		return "pending"
	case SessionStreaming:
		return "streaming"
	case SessionFinalized:
		return "finalized"
	case SessionFailed:
		return "failed"
	}
	return "unknown"
}

// Session coordinates one request/response cycle. It owns direct indexes to
// its progress placeholder and to the assistant turn it is extending, so the
// decision between append and extend never depends on whatever happens to be
// at the tail of the transcript.
//
// Session is not safe for concurrent use; the controller serializes access.
type Session struct {
	ID        uuid.UUID
	Outbound  Turn
	SourceIDs []int64
	NoteIDs   []int64

	state    SessionState
	progress int
	open     int
	started  bool
}

// NewSession prepares a session for the given user text and context ids.
func NewSession(text string, sourceIDs, noteIDs []int64) *Session {
	return &Session{
		ID:        uuid.New(),
		Outbound:  Turn{Role: RoleUser, Content: text},
		SourceIDs: sourceIDs,
		NoteIDs:   noteIDs,
		progress:  -1,
		open:      -1,
	}
}

// IsBlank reports whether there is nothing to submit: no text and no context.
func IsBlank(text string, sourceIDs, noteIDs []int64) bool {
	return strings.TrimSpace(text) == "" && len(sourceIDs) == 0 && len(noteIDs) == 0
}

func (s *Session) State() SessionState { return s.state }

// Done reports whether the session has reached a terminal state.
func (s *Session) Done() bool {
	return s.state == SessionFinalized || s.state == SessionFailed
}

// Begin appends the outbound user turn followed by a progress placeholder.
// Calling it twice is a no-op.
func (s *Session) Begin(t Transcript) Transcript {
	if s.started {
		return t
	}
	s.started = true
	s.state = SessionPending

	out := append(t.Clone(), s.Outbound)
	if s.open < 0 {
		out = append(out, Turn{Role: RoleProgress})
		s.progress = len(out) - 1
	}
	return out
}

// Apply folds ev into t and returns the next transcript. The input slice is
// never modified. The boolean reports whether anything changed, so callers
// can skip publishing no-op events.
func (s *Session) Apply(t Transcript, ev Event) (Transcript, bool) {
	if !s.started || s.Done() {
		return t, false
	}

	out := t.Clone()
	changed := false

	// Any event ends the wait for the first byte.
	if s.progress >= 0 {
		if s.progress < len(out) && out[s.progress].Role == RoleProgress {
			out = append(out[:s.progress], out[s.progress+1:]...)
			if s.open > s.progress {
				s.open--
			}
			changed = true
		}
		s.progress = -1
	}

	switch ev.Kind {
	case EventDelta:
		s.state = SessionStreaming
		if ev.Delta == "" {
			break
		}
		if s.open >= 0 && s.open < len(out) && out[s.open].Role == RoleAssistant {
			out[s.open].Content += ev.Delta
		} else {
			out = append(out, Turn{Role: RoleAssistant, Content: ev.Delta})
			s.open = len(out) - 1
		}
		changed = true

	case EventSentinel, EventClose:
		s.state = SessionFinalized
		s.open = -1

	case EventError:
		out = append(out, Turn{Role: RoleError, Content: Describe(ev.Err)})
		s.state = SessionFailed
		s.open = -1
		changed = true
	}

	if !changed {
		return t, false
	}
	return out, true
}
