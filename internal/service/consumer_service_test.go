package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-notebook-assistant/internal/dto"
	"ai-notebook-assistant/pkg/events"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
	err    error
}

func (r *recordingEvents) Publish(ctx context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingEvents) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func TestConsumer_ForwardsExchangesAsEvents(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	sink := &recordingEvents{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, NewConsumerService(pubSub, "exchanges", sink, nil).Consume(ctx))

	publisher := NewPublisherService("exchanges", pubSub)
	require.NoError(t, publisher.Publish(ctx, dto.ExchangeCompletedMessage{ExchangeID: "a", DurationMs: 20}))
	require.NoError(t, publisher.Publish(ctx, dto.ExchangeCompletedMessage{ExchangeID: "b", Error: "boom"}))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 2 }, 2*time.Second, 10*time.Millisecond)
	got := sink.snapshot()
	assert.Equal(t, events.ChatExchangeCompleted, got[0].EventType())
	assert.Equal(t, "a", got[0].Payload()["exchange_id"])
	assert.EqualValues(t, 20, got[0].Payload()["duration_ms"])
	assert.Equal(t, events.ChatExchangeFailed, got[1].EventType())
	assert.Equal(t, "boom", got[1].Payload()["error"])
}

func TestConsumer_SurvivesBadPayloadAndPublishFailure(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()

	sink := &recordingEvents{err: errors.New("nats down")}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, NewConsumerService(pubSub, "exchanges", sink, nil).Consume(ctx))

	require.NoError(t, pubSub.Publish("exchanges", message.NewMessage(watermill.NewUUID(), []byte("{not json"))))
	require.NoError(t, NewPublisherService("exchanges", pubSub).Publish(ctx, dto.ExchangeCompletedMessage{ExchangeID: "c"}))

	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.snapshot(), 1)
}
