// Package fanout mirrors transcript snapshots over Redis pub/sub so other
// processes can follow a conversation live.
package fanout

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"ai-notebook-assistant/internal/pkg/logger"
	"ai-notebook-assistant/pkg/chat"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "transcript."
	publishTimeout = 2 * time.Second
)

// Snapshot is the wire form of one transcript change.
type Snapshot struct {
	ConversationID string          `json:"conversation_id"`
	Seq            uint64          `json:"seq"`
	Turns          chat.Transcript `json:"turns"`
	PublishedAt    time.Time       `json:"published_at"`
}

// Channel names the pub/sub channel for one conversation.
func Channel(conversationID string) string {
	return channelPrefix + conversationID
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisObserver publishes snapshots from its own goroutine so a slow Redis
// never stalls the chat session. Snapshots that arrive while a publish is in
// flight are coalesced: only the newest is sent, and seq keeps increasing.
// Publish failures are logged and dropped.
type RedisObserver struct {
	rdb            publisher
	conversationID string
	logger         logger.ILogger

	mu      sync.Mutex
	seq     uint64
	pending *Snapshot
	closed  bool

	wake      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

func NewRedisObserver(rdb redis.UniversalClient, conversationID string, log logger.ILogger) *RedisObserver {
	return newObserver(rdb, conversationID, log)
}

func newObserver(rdb publisher, conversationID string, log logger.ILogger) *RedisObserver {
	if log == nil {
		log = logger.NewNopLogger()
	}
	o := &RedisObserver{
		rdb:            rdb,
		conversationID: conversationID,
		logger:         log,
		wake:           make(chan struct{}, 1),
		done:           make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	go o.run()
	return o
}

// OnTranscriptChanged queues turns and returns immediately.
func (o *RedisObserver) OnTranscriptChanged(turns chat.Transcript) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.seq++
	o.pending = &Snapshot{
		ConversationID: o.conversationID,
		Seq:            o.seq,
		Turns:          turns,
		PublishedAt:    time.Now().UTC(),
	}
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

// Close publishes the last queued snapshot and stops the publisher
// goroutine. Later changes are ignored.
func (o *RedisObserver) Close() error {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.mu.Unlock()
		close(o.done)
	})
	<-o.stopped
	return nil
}

func (o *RedisObserver) run() {
	defer close(o.stopped)
	for {
		select {
		case <-o.wake:
			o.flush()
		case <-o.done:
			o.flush()
			return
		}
	}
}

func (o *RedisObserver) flush() {
	o.mu.Lock()
	snap := o.pending
	o.pending = nil
	o.mu.Unlock()
	if snap == nil {
		return
	}

	data, err := json.Marshal(snap)
	if err != nil {
		o.logger.Error("TranscriptFanout", "Failed to encode snapshot", map[string]interface{}{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := o.rdb.Publish(ctx, Channel(o.conversationID), data).Err(); err != nil {
		o.logger.Warn("TranscriptFanout", "Failed to publish snapshot", map[string]interface{}{
			"conversation_id": o.conversationID,
			"seq":             snap.Seq,
			"error":           err.Error(),
		})
	}
}
