package nats

import (
	"testing"
	"time"

	"ai-notebook-assistant/pkg/events"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_PreservesTypeTimeAndID(t *testing.T) {
	ev := events.NewExchangeEvent(events.ChatExchangeCompleted, events.Exchange{
		ExchangeID: "x-1",
		UserID:     "42",
		Question:   "hi",
		AnswerLen:  10,
		Duration:   1500 * time.Millisecond,
	})

	msg, err := encode(ev)
	require.NoError(t, err)
	assert.Equal(t, "events.chat.exchange.completed", msg.Subject)
	assert.Equal(t, ev.ID, msg.Header.Get(jetstream.MsgIDHeader))

	got, err := decode(msg.Subject, msg.Header, msg.Data)
	require.NoError(t, err)
	assert.Equal(t, events.ChatExchangeCompleted, got.EventType())
	assert.Equal(t, ev.ID, got.ID)
	assert.True(t, ev.OccurredAt.Equal(got.Timestamp()))
	assert.Equal(t, "x-1", got.Payload()["exchange_id"])
	assert.EqualValues(t, 1500, got.Payload()["duration_ms"])
}

func TestDecode_FallsBackToSubject(t *testing.T) {
	got, err := decode("events.chat.exchange.failed", nil, []byte(`{"error":"boom"}`))
	require.NoError(t, err)
	assert.Equal(t, events.ChatExchangeFailed, got.EventType())
	assert.Empty(t, got.ID)

	_, err = decode("events.x", nil, []byte("not json"))
	assert.Error(t, err)
}
