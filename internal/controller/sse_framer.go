package controller

import (
	"bufio"
	"strings"
	"unicode"
	"unicode/utf8"
)

// recordFramer turns model deltas into event-stream data records. Clients
// trim every record and join them without a separator, so a record may only
// end where the text on both sides of the cut is non-space. Text after the
// last such cut is held until more arrives or the answer ends. Line breaks
// cannot travel inside a record and are sent as a single space.
type recordFramer struct {
	w       *bufio.Writer
	pending strings.Builder
}

func newRecordFramer(w *bufio.Writer) *recordFramer {
	return &recordFramer{w: w}
}

// Write buffers delta and emits whatever can already be framed losslessly.
func (f *recordFramer) Write(delta string) error {
	f.pending.WriteString(foldLineBreaks(delta))

	text := f.pending.String()
	cut := lastSafeCut(text)
	if cut <= 0 {
		return nil
	}
	f.pending.Reset()
	f.pending.WriteString(text[cut:])
	return f.emit(text[:cut])
}

// Flush emits the held text.
func (f *recordFramer) Flush() error {
	text := f.pending.String()
	f.pending.Reset()
	return f.emit(text)
}

func (f *recordFramer) emit(record string) error {
	if strings.TrimSpace(record) == "" {
		return nil
	}
	if _, err := f.w.WriteString(sseDataPrefix + record + "\n"); err != nil {
		return err
	}
	return f.w.Flush()
}

// lastSafeCut returns the largest byte offset that sits between two
// non-space runes, or 0 when there is none.
func lastSafeCut(text string) int {
	end := len(text)
	for end > 0 {
		r, size := utf8.DecodeLastRuneInString(text[:end])
		start := end - size
		if start == 0 {
			return 0
		}
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if !unicode.IsSpace(r) && !unicode.IsSpace(prev) {
			return start
		}
		end = start
	}
	return 0
}

func foldLineBreaks(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	var b strings.Builder
	inBreak := false
	for _, r := range s {
		if r == '\n' || r == '\r' {
			if !inBreak {
				b.WriteByte(' ')
				inBreak = true
			}
			continue
		}
		inBreak = false
		b.WriteRune(r)
	}
	return b.String()
}
