package decode

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"ai-notebook-assistant/pkg/chat"
)

const dataPrefix = "data:"

// SSEDecoder decodes a chunked text/event-stream body. Fragments may split a
// line anywhere, including inside the data prefix or a multi-byte rune, so
// the incomplete tail is carried over to the next call.
type SSEDecoder struct {
	opts     options
	buf      []byte
	finished bool
}

func NewSSEDecoder(opts ...Option) *SSEDecoder {
	return &SSEDecoder{opts: buildOptions(opts)}
}

func (d *SSEDecoder) Decode(fragment []byte) []chat.Event {
	if len(fragment) == 0 || d.finished {
		return nil
	}
	d.buf = append(d.buf, fragment...)

	var events []chat.Event
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		line := d.buf[:i]
		d.buf = d.buf[i+1:]
		if ev, ok := d.decodeLine(line); ok {
			events = append(events, ev)
			if ev.Kind == chat.EventSentinel {
				d.finished = true
				d.buf = nil
				break
			}
		}
	}

	// Compact so a long stream does not pin the whole history in memory.
	if len(d.buf) > 0 {
		d.buf = append([]byte(nil), d.buf...)
	}
	return events
}

// Flush decodes whatever is left after the final newline. Servers that do not
// terminate their last record still get it delivered.
func (d *SSEDecoder) Flush() []chat.Event {
	if d.finished || len(d.buf) == 0 {
		return nil
	}
	line := d.buf
	d.buf = nil
	if ev, ok := d.decodeLine(line); ok {
		if ev.Kind == chat.EventSentinel {
			d.finished = true
		}
		return []chat.Event{ev}
	}
	return nil
}

func (d *SSEDecoder) decodeLine(raw []byte) (chat.Event, bool) {
	line := strings.TrimSuffix(string(raw), "\r")

	// Comments, pings, event:/id: fields and blank separators are noise here.
	if !strings.HasPrefix(line, dataPrefix) {
		return chat.Event{}, false
	}

	if !utf8.ValidString(line) {
		d.opts.logger.Warn("SSEDecoder", "Skipping malformed event line", map[string]interface{}{
			"reason": "invalid utf-8",
			"length": len(line),
		})
		return chat.Event{}, false
	}

	data := strings.TrimSpace(strings.TrimPrefix(line, dataPrefix))
	if data == "" {
		return chat.Event{}, false
	}
	if data == d.opts.sentinel {
		return chat.SentinelEvent(), true
	}
	return chat.DeltaEvent(data), true
}
