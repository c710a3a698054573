package dto

// StreamChatRequest is the body of the event-stream endpoint. A blank
// message is valid when notes or sources are selected.
type StreamChatRequest struct {
	Message string `json:"message" validate:"max=8000"`
}

// ChatTurn is one element of the turn list sent over the websocket. Earlier
// turns are unbounded here; the service trims history to fit the prompt.
type ChatTurn struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content"`
}

// StreamChatTurns wraps the websocket payload for validation. The frame
// read limit bounds its overall size.
type StreamChatTurns struct {
	Turns []ChatTurn `validate:"required,min=1,dive"`
}

// ExchangeCompletedMessage is published on the in-process bus after every
// relayed exchange.
type ExchangeCompletedMessage struct {
	ExchangeID string  `json:"exchange_id"`
	UserID     string  `json:"user_id"`
	Transport  string  `json:"transport"`
	SourceIDs  []int64 `json:"source_ids"`
	NoteIDs    []int64 `json:"note_ids"`
	Question   string  `json:"question"`
	AnswerLen  int     `json:"answer_len"`
	Deltas     int     `json:"deltas"`
	DurationMs int64   `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}
