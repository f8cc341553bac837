package llm

import (
	"context"
	"errors"
)

var ErrEmptyResponse = errors.New("empty response content")

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	System      string
	Messages    []Message
	Temperature float64
	MaxTokens   int
}

// Completer sends a completion request to a language model and returns the
// text of its reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// mergeTurns collapses consecutive messages with the same role and makes sure
// the conversation opens with a user turn, as strict alternating APIs require.
func mergeTurns(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 || out[0].Role != RoleUser {
		out = append([]Message{{Role: RoleUser, Content: "(continuing our conversation)"}}, out...)
	}
	return out
}
