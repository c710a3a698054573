package service

import (
	"context"
	"encoding/json"
	"time"

	"ai-notebook-assistant/internal/dto"
	"ai-notebook-assistant/internal/pkg/logger"
	"ai-notebook-assistant/pkg/events"

	"github.com/ThreeDotsLabs/watermill/message"
)

// EventPublisher forwards lifecycle events off the process. *nats.Publisher
// satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type IConsumerService interface {
	Consume(ctx context.Context) error
}

type consumerService struct {
	subscriber message.Subscriber
	topicName  string
	events     EventPublisher
	logger     logger.ILogger
}

func NewConsumerService(
	subscriber message.Subscriber,
	topicName string,
	eventPublisher EventPublisher,
	log logger.ILogger,
) IConsumerService {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &consumerService{
		subscriber: subscriber,
		topicName:  topicName,
		events:     eventPublisher,
		logger:     log,
	}
}

func (cs *consumerService) Consume(ctx context.Context) error {
	messages, err := cs.subscriber.Subscribe(ctx, cs.topicName)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			cs.processMessage(ctx, msg)
		}
	}()

	return nil
}

func (cs *consumerService) processMessage(ctx context.Context, msg *message.Message) {
	var payload dto.ExchangeCompletedMessage
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		cs.logger.Error("ConsumerService", "Failed to unmarshal message", map[string]interface{}{"error": err.Error()})
		msg.Ack() // Ack invalid messages to prevent infinite retry
		return
	}

	if cs.events == nil {
		// No event bus configured; the exchange was already logged.
		msg.Ack()
		return
	}

	eventType := events.ChatExchangeCompleted
	if payload.Error != "" {
		eventType = events.ChatExchangeFailed
	}
	event := events.NewExchangeEvent(eventType, events.Exchange{
		ExchangeID: payload.ExchangeID,
		UserID:     payload.UserID,
		Transport:  payload.Transport,
		SourceIDs:  payload.SourceIDs,
		NoteIDs:    payload.NoteIDs,
		Question:   payload.Question,
		AnswerLen:  payload.AnswerLen,
		Deltas:     payload.Deltas,
		Duration:   time.Duration(payload.DurationMs) * time.Millisecond,
		Error:      payload.Error,
	})

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cs.events.Publish(pubCtx, event); err != nil {
		cs.logger.Warn("ConsumerService", "Failed to forward exchange event", map[string]interface{}{
			"exchange_id": payload.ExchangeID,
			"error":       err.Error(),
		})
		// gochannel redelivers a Nack immediately; audit events are best effort.
		msg.Ack()
		return
	}

	cs.logger.Debug("ConsumerService", "Exchange event forwarded", map[string]interface{}{"exchange_id": payload.ExchangeID, "type": eventType})
	msg.Ack()
}
