package events

import (
	"time"

	"github.com/google/uuid"
)

// Event defines the contract for all system events.
type Event interface {
	// EventType returns the dotted code for this event (e.g. "chat.exchange.completed").
	EventType() string

	// Payload returns the data associated with the event.
	Payload() map[string]interface{}

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

type BaseEvent struct {
	ID         string
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}

const (
	ChatExchangeStarted   = "chat.exchange.started"
	ChatExchangeCompleted = "chat.exchange.completed"
	ChatExchangeFailed    = "chat.exchange.failed"
)

// Exchange describes one relayed question and answer.
type Exchange struct {
	ExchangeID string        `json:"exchange_id"`
	UserID     string        `json:"user_id"`
	Transport  string        `json:"transport"`
	SourceIDs  []int64       `json:"source_ids"`
	NoteIDs    []int64       `json:"note_ids"`
	Question   string        `json:"question"`
	AnswerLen  int           `json:"answer_len"`
	Deltas     int           `json:"deltas"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// NewExchangeEvent wraps x as an event of the given type.
func NewExchangeEvent(eventType string, x Exchange) BaseEvent {
	data := map[string]interface{}{
		"exchange_id": x.ExchangeID,
		"user_id":     x.UserID,
		"transport":   x.Transport,
		"source_ids":  x.SourceIDs,
		"note_ids":    x.NoteIDs,
		"question":    x.Question,
		"answer_len":  x.AnswerLen,
		"deltas":      x.Deltas,
		"duration_ms": x.Duration.Milliseconds(),
	}
	if x.Error != "" {
		data["error"] = x.Error
	}
	return BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Data:       data,
		OccurredAt: time.Now().UTC(),
	}
}
