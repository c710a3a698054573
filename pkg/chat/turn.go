// Package chat holds the conversation model for the notebook assistant and
// the reducer that folds streamed events into a transcript.
package chat

// Role of a Turn in the transcript.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleProgress is a transient placeholder shown while waiting for the first byte.
	RoleProgress Role = "progress"
	// RoleError marks a failed request. It is terminal for that request.
	RoleError Role = "error"
)

// Valid reports whether r is one of the four known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleProgress, RoleError:
		return true
	}
	return false
}

// Turn is one entry of the conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Transcript is the ordered, append-only list of turns.
type Transcript []Turn

// Clone returns an independent copy. Observers only ever receive clones.
func (t Transcript) Clone() Transcript {
	if t == nil {
		return Transcript{}
	}
	out := make(Transcript, len(t))
	copy(out, t)
	return out
}

// Last returns the last turn, if any.
func (t Transcript) Last() (Turn, bool) {
	if len(t) == 0 {
		return Turn{}, false
	}
	return t[len(t)-1], true
}

// Conversation filters out progress and error turns, leaving what gets sent
// upstream as history.
func (t Transcript) Conversation() Transcript {
	out := make(Transcript, 0, len(t))
	for _, turn := range t {
		if turn.Role == RoleUser || turn.Role == RoleAssistant {
			out = append(out, turn)
		}
	}
	return out
}

// Count returns how many turns have the given role.
func (t Transcript) Count(role Role) int {
	n := 0
	for _, turn := range t {
		if turn.Role == role {
			n++
		}
	}
	return n
}
