package agent

import "github.com/yegors/co-voice/internal/ai"

// history keeps the most recent user/agent exchanges, oldest evicted first
type history struct {
	messages     []ai.ChatMessage
	maxExchanges int
}

func newHistory(maxExchanges int) *history {
	return &history{maxExchanges: maxExchanges}
}

func (h *history) Append(user, agent string) {
	h.messages = append(h.messages,
		ai.ChatMessage{Role: ai.RoleUser, Content: user},
		ai.ChatMessage{Role: ai.RoleAgent, Content: agent},
	)
	if limit := h.maxExchanges * 2; len(h.messages) > limit {
		h.messages = append([]ai.ChatMessage(nil), h.messages[len(h.messages)-limit:]...)
	}
}

// Snapshot returns a copy safe to hand to another goroutine
func (h *history) Snapshot() []ai.ChatMessage {
	return append([]ai.ChatMessage(nil), h.messages...)
}

func (h *history) Len() int {
	return len(h.messages)
}
