package main

import (
	"fmt"
	"io"
	"sync"

	"ai-notebook-assistant/pkg/chat"

	"github.com/fatih/color"
)

// renderer prints transcript snapshots incrementally: only the part of the
// newest turn that has not been written yet reaches out.
type renderer struct {
	mu      sync.Mutex
	out     io.Writer
	index   int // transcript index of the turn being written
	written int // bytes of that turn already printed
	waiting bool

	assistant *color.Color
	progress  *color.Color
	failure   *color.Color
}

func newRenderer(out io.Writer) *renderer {
	return &renderer{
		out:       out,
		index:     -1,
		assistant: color.New(color.FgCyan),
		progress:  color.New(color.FgHiBlack),
		failure:   color.New(color.FgRed),
	}
}

func (r *renderer) OnTranscriptChanged(turns chat.Transcript) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(turns) == 0 {
		r.index, r.written, r.waiting = -1, 0, false
		return
	}
	i := len(turns) - 1
	last := turns[i]

	switch last.Role {
	case chat.RoleProgress:
		if !r.waiting {
			r.progress.Fprint(r.out, "...")
			r.waiting = true
		}
	case chat.RoleAssistant:
		if i != r.index {
			r.clearProgress()
			r.index, r.written = i, 0
		}
		if len(last.Content) > r.written {
			r.assistant.Fprint(r.out, last.Content[r.written:])
			r.written = len(last.Content)
		}
	case chat.RoleError:
		if i != r.index {
			r.clearProgress()
			if r.index >= 0 && r.index == i-1 && r.written > 0 {
				fmt.Fprintln(r.out)
			}
			r.index, r.written = i, 0
			r.failure.Fprintln(r.out, last.Content)
		}
	}
}

// clearProgress erases the progress marker when a real turn replaces it.
func (r *renderer) clearProgress() {
	if r.waiting {
		fmt.Fprint(r.out, "\b\b\b   \b\b\b")
		r.waiting = false
	}
}

// endTurn terminates the current line once a request has settled.
func (r *renderer) endTurn() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearProgress()
	if r.written > 0 {
		fmt.Fprintln(r.out)
	}
	r.written = 0
}
