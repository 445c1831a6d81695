package usecase

import (
	"strings"

	"llm-chat-api/internal/domain"
)

// BuildContext renders a thread's message history into the prompt sent to
// the inference provider: one "role: content" line per message, in thread
// order. The transform is deterministic; the same sequence always yields the
// same string. No truncation window is applied here — callers that need a
// token budget must trim the sequence before calling.
func BuildContext(messages []domain.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, m.Role+": "+m.Content)
	}
	return strings.Join(lines, "\n")
}

// threadTitle derives a thread title from its opening message: the first 30
// characters, with "..." appended when the message was longer.
func threadTitle(message string) string {
	const maxLen = 30
	runes := []rune(message)
	if len(runes) <= maxLen {
		return message
	}
	return string(runes[:maxLen]) + "..."
}
