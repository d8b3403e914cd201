package agent

import (
	"context"
	"strings"
)

// LLM roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// LLMMessage is one chat-completion message.
type LLMMessage struct {
	Role    string
	Content string
}

// LLMClient is the transport to a language model. Implementations must
// honor context cancellation.
type LLMClient interface {
	Complete(ctx context.Context, messages []LLMMessage) (string, error)
}

// StaticLLM returns a canned completion. It stands in for a real transport
// in tests and offline runs.
type StaticLLM struct {
	Reply string
}

// Complete implements LLMClient.
func (s *StaticLLM) Complete(ctx context.Context, messages []LLMMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.Reply != "" {
		return s.Reply, nil
	}
	// Echo the last user message so replies stay session-specific.
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			return "You said: " + messages[i].Content, nil
		}
	}
	return "How can I help?", nil
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
