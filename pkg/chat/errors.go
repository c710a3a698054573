package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolMismatch means the peer answered, but not as an event stream.
	ErrProtocolMismatch = errors.New("protocol mismatch")
	// ErrIdleTimeout is raised when no fragment arrived within the idle window.
	ErrIdleTimeout = errors.New("stream idle timeout")
	// ErrSessionActive rejects a submit while another response is streaming.
	ErrSessionActive = errors.New("a response is already streaming")
	// ErrNoStream is returned when the transport produced no readable body.
	ErrNoStream = errors.New("no readable stream")
)

// TransportError is a network level failure: refused connection, abrupt
// close, non-2xx status.
type TransportError struct {
	Op         string // "dial", "send", "read", "status", "idle"
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: HTTP error! status: %d", e.Op, e.StatusCode)
	}
	if e.Err == nil {
		return e.Op + ": transport failure"
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Describe renders err as the human-readable content of an error Turn.
func Describe(err error) string {
	if err == nil {
		return "An unknown error occurred"
	}
	var te *TransportError
	switch {
	case errors.Is(err, ErrIdleTimeout):
		return "The assistant stopped responding. Please try again."
	case errors.As(err, &te) && te.StatusCode != 0:
		return fmt.Sprintf("HTTP error! status: %d", te.StatusCode)
	}
	return err.Error()
}
