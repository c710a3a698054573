package decode

import "ai-notebook-assistant/pkg/chat"

// MessageDecoder handles socket transports where every inbound message is
// already one logical unit.
type MessageDecoder struct {
	opts     options
	finished bool
}

func NewMessageDecoder(opts ...Option) *MessageDecoder {
	return &MessageDecoder{opts: buildOptions(opts)}
}

func (d *MessageDecoder) Decode(message []byte) []chat.Event {
	if len(message) == 0 || d.finished {
		return nil
	}
	body := string(message)
	if body == d.opts.sentinel {
		d.finished = true
		return []chat.Event{chat.SentinelEvent()}
	}
	return []chat.Event{chat.DeltaEvent(body)}
}

func (d *MessageDecoder) Flush() []chat.Event { return nil }
