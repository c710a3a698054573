package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ai-notebook-assistant/internal/pkg/logger"
	"ai-notebook-assistant/pkg/events"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	StreamName    = "EVENTS"
	SubjectPrefix = "events."

	headerEventType = "Event-Type"
	headerEventTime = "Event-Time"
)

// Publisher handles sending events to the NATS bus.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger logger.ILogger
}

func connect(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return nc, js, nil
}

// NewPublisher connects and makes sure the EVENTS stream exists.
func NewPublisher(url string, log logger.ILogger) (*Publisher, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}
	nc, js, err := connect(url)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{SubjectPrefix + ">"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    7 * 24 * time.Hour,
	})
	if err != nil {
		// The stream may already exist with a different config, or the
		// server may still be starting.
		log.Warn("NatsPublisher", "Failed to ensure stream", map[string]interface{}{"stream": StreamName, "error": err.Error()})
	}

	return &Publisher{nc: nc, js: js, logger: log}, nil
}

// Subject maps an event type to its NATS subject.
func Subject(eventType string) string {
	return SubjectPrefix + eventType
}

func encode(event events.Event) (*nats.Msg, error) {
	data, err := json.Marshal(event.Payload())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	msg := nats.NewMsg(Subject(event.EventType()))
	msg.Data = data
	msg.Header.Set(headerEventType, event.EventType())
	msg.Header.Set(headerEventTime, event.Timestamp().UTC().Format(time.RFC3339Nano))
	if be, ok := event.(events.BaseEvent); ok && be.ID != "" {
		msg.Header.Set(jetstream.MsgIDHeader, be.ID)
	}
	return msg, nil
}

// Publish sends an event to NATS.
func (p *Publisher) Publish(ctx context.Context, event events.Event) error {
	msg, err := encode(event)
	if err != nil {
		return err
	}

	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish event to subject %s: %w", msg.Subject, err)
	}
	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
	}
}
