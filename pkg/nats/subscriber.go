package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"ai-notebook-assistant/internal/pkg/logger"
	"ai-notebook-assistant/pkg/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// EventHandler is a function that processes an event.
type EventHandler func(ctx context.Context, event events.Event) error

// Subscriber handles listening for events from NATS.
type Subscriber struct {
	nc       *nats.Conn
	js       jetstream.JetStream
	logger   logger.ILogger
	consumes []jetstream.ConsumeContext
}

func NewSubscriber(url string, log logger.ILogger) (*Subscriber, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{nc: nc, js: js, logger: log}, nil
}

func decode(subject string, header nats.Header, data []byte) (events.BaseEvent, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return events.BaseEvent{}, fmt.Errorf("unmarshal event data: %w", err)
	}

	eventType := header.Get(headerEventType)
	if eventType == "" {
		eventType = strings.TrimPrefix(subject, SubjectPrefix)
	}

	occurredAt := time.Now().UTC()
	if ts := header.Get(headerEventTime); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			occurredAt = parsed
		}
	}

	return events.BaseEvent{
		ID:         header.Get(jetstream.MsgIDHeader),
		Type:       eventType,
		Data:       payload,
		OccurredAt: occurredAt,
	}, nil
}

// Subscribe registers a handler for a subject pattern on a durable consumer.
// Malformed messages are terminated; handler failures are redelivered.
func (s *Subscriber) Subscribe(ctx context.Context, subject, durableName string, handler EventHandler) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, StreamName, jetstream.ConsumerConfig{
		Durable:       durableName,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    5,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		event, err := decode(msg.Subject(), msg.Headers(), msg.Data())
		if err != nil {
			s.logger.Error("NatsSubscriber", "Dropping malformed event", map[string]interface{}{"subject": msg.Subject(), "error": err.Error()})
			msg.Term()
			return
		}

		if err := handler(ctx, event); err != nil {
			s.logger.Warn("NatsSubscriber", "Handler failed, requesting redelivery", map[string]interface{}{"subject": msg.Subject(), "error": err.Error()})
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	s.consumes = append(s.consumes, cc)

	s.logger.Info("NatsSubscriber", "Subscribed", map[string]interface{}{"subject": subject, "durable": durableName})
	return nil
}

// Close stops consumers and closes the connection.
func (s *Subscriber) Close() {
	for _, cc := range s.consumes {
		cc.Stop()
	}
	if s.nc != nil {
		s.nc.Close()
	}
}
