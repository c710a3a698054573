package main

import (
	"bytes"
	"testing"

	"ai-notebook-assistant/pkg/chat"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func TestRenderer_PrintsOnlyNewText(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := newRenderer(&buf)

	user := chat.Turn{Role: chat.RoleUser, Content: "hi"}
	r.OnTranscriptChanged(chat.Transcript{user, {Role: chat.RoleAssistant, Content: "Hel"}})
	r.OnTranscriptChanged(chat.Transcript{user, {Role: chat.RoleAssistant, Content: "Hello"}})
	r.OnTranscriptChanged(chat.Transcript{user, {Role: chat.RoleAssistant, Content: "Hello"}})
	r.endTurn()

	assert.Equal(t, "Hello\n", buf.String())
}

func TestRenderer_ErrorAfterPartialAnswer(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := newRenderer(&buf)

	user := chat.Turn{Role: chat.RoleUser, Content: "hi"}
	answer := chat.Turn{Role: chat.RoleAssistant, Content: "par"}
	r.OnTranscriptChanged(chat.Transcript{user, answer})
	r.OnTranscriptChanged(chat.Transcript{user, answer, {Role: chat.RoleError, Content: "boom"}})
	r.OnTranscriptChanged(chat.Transcript{user, answer, {Role: chat.RoleError, Content: "boom"}})

	assert.Equal(t, "par\nboom\n", buf.String())
}

func TestRenderer_ResetStartsOver(t *testing.T) {
	color.NoColor = true
	var buf bytes.Buffer
	r := newRenderer(&buf)

	r.OnTranscriptChanged(chat.Transcript{{Role: chat.RoleUser, Content: "a"}, {Role: chat.RoleAssistant, Content: "x"}})
	r.endTurn()
	r.OnTranscriptChanged(nil)
	r.OnTranscriptChanged(chat.Transcript{{Role: chat.RoleUser, Content: "b"}, {Role: chat.RoleAssistant, Content: "y"}})
	r.endTurn()

	assert.Equal(t, "x\ny\n", buf.String())
}
