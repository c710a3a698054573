package fanout

import (
	"context"
	"encoding/json"

	"ai-notebook-assistant/internal/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// Watch delivers snapshots for conversationID, or for every conversation
// when it is empty, until ctx is done. Out-of-order or repeated snapshots
// of a conversation are dropped, as are turns with an unknown role.
func Watch(ctx context.Context, rdb redis.UniversalClient, conversationID string, log logger.ILogger, fn func(Snapshot)) error {
	if log == nil {
		log = logger.NewNopLogger()
	}

	var pubsub *redis.PubSub
	if conversationID == "" {
		pubsub = rdb.PSubscribe(ctx, Channel("*"))
	} else {
		pubsub = rdb.Subscribe(ctx, Channel(conversationID))
	}
	defer pubsub.Close()

	// Wait for the subscription to be confirmed before returning messages.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	f := newFilter()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			snap, ok := f.accept([]byte(msg.Payload))
			if !ok {
				log.Debug("TranscriptFanout", "Skipping snapshot", map[string]interface{}{"channel": msg.Channel})
				continue
			}
			fn(snap)
		}
	}
}

type filter struct {
	last map[string]uint64
}

func newFilter() *filter {
	return &filter{last: make(map[string]uint64)}
}

func (f *filter) accept(payload []byte) (Snapshot, bool) {
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false
	}
	if snap.Seq <= f.last[snap.ConversationID] {
		return Snapshot{}, false
	}
	for _, turn := range snap.Turns {
		if !turn.Role.Valid() {
			return Snapshot{}, false
		}
	}
	f.last[snap.ConversationID] = snap.Seq
	return snap, true
}
