// Package assistant turns conversation and dataset context into language
// model requests: the chat turn, rolling summaries and preview verification.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MikeSquared-Agency/reshaper/internal/conversation"
	"github.com/MikeSquared-Agency/reshaper/internal/dataset"
	"github.com/MikeSquared-Agency/reshaper/internal/formats"
	"github.com/MikeSquared-Agency/reshaper/internal/llm"
	"github.com/MikeSquared-Agency/reshaper/internal/verify"
)

const (
	chatTemperature = 0.7
	chatMaxTokens   = 4000

	summarizeTemperature = 0.5
	summarizeMaxTokens   = 500

	verifyTemperature = 0.3
	verifyMaxTokens   = 500
)

type Assistant struct {
	llm    llm.Completer
	logger *slog.Logger
}

func New(c llm.Completer, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{llm: c, logger: logger}
}

// Chat produces the assistant's next reply. With no messages in the context it
// behaves like Greet.
func (a *Assistant) Chat(ctx context.Context, mc conversation.ModelContext) (string, error) {
	req := llm.Request{
		System:      SystemPrompt(mc),
		Messages:    chatMessages(mc),
		Temperature: chatTemperature,
		MaxTokens:   chatMaxTokens,
	}

	reply, err := a.llm.Complete(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	a.logger.Debug("chat reply", "messages", len(req.Messages), "reply_len", len(reply))
	return reply, nil
}

// Greet opens the conversation after an upload.
func (a *Assistant) Greet(ctx context.Context, mc conversation.ModelContext) (string, error) {
	mc.Messages = nil
	return a.Chat(ctx, mc)
}

// SystemPrompt renders the chat instructions plus the dataset and format
// context.
func SystemPrompt(mc conversation.ModelContext) string {
	var sb strings.Builder
	sb.WriteString(chatSystemPrompt)
	if mc.Dataset != nil {
		fmt.Fprintf(&sb, datasetContextTemplate,
			mc.Dataset.TotalRows,
			mc.Dataset.Columns,
			formatLabel(mc.Format),
			mc.Dataset.SampleData,
		)
	}
	if text := strings.TrimSpace(mc.Format.Text); text != "" {
		fmt.Fprintf(&sb, formatSpecTemplate, formatHeading(mc.Format), text)
	}
	return sb.String()
}

func formatLabel(f formats.Spec) string {
	switch {
	case f.Custom:
		return "custom"
	case f.Title != "":
		return f.Title
	case f.Key != "":
		return f.Key
	}
	return formats.DefaultKey
}

func formatHeading(f formats.Spec) string {
	if f.Custom {
		return "Custom Output Metadata"
	}
	return formatLabel(f) + " Output Format Specification"
}

func chatMessages(mc conversation.ModelContext) []llm.Message {
	msgs := make([]llm.Message, 0, len(mc.Messages)+2)
	if mc.Summary != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: summaryPrefix + mc.Summary})
	}

	var last conversation.Role
	for _, m := range mc.Messages {
		switch m.Role {
		case conversation.RoleUser:
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case conversation.RoleAssistant:
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		default:
			continue
		}
		last = m.Role
	}

	switch last {
	case "":
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: greetingPrompt})
	case conversation.RoleAssistant:
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: followUpPrompt})
	}
	return msgs
}

// Summarize folds messages into the prior summary.
func (a *Assistant) Summarize(ctx context.Context, prior string, msgs []conversation.Message) (string, error) {
	transcript := strings.TrimSpace(conversation.FormatTranscript(msgs))
	prompt := fmt.Sprintf(summarizeTemplate, transcript)
	if prior != "" {
		prompt = fmt.Sprintf(summarizeWithPriorTemplate, prior, transcript)
	}

	summary, err := a.llm.Complete(ctx, llm.Request{
		System:      summarizeSystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: summarizeTemperature,
		MaxTokens:   summarizeMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("summary completion: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// Verify asks the model whether a preview satisfies the conversation so far.
func (a *Assistant) Verify(ctx context.Context, req verify.Request) (string, error) {
	prompt, err := VerifyPrompt(req)
	if err != nil {
		return "", err
	}
	verdict, err := a.llm.Complete(ctx, llm.Request{
		System:      verifySystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: verifyTemperature,
		MaxTokens:   verifyMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("verify completion: %w", err)
	}
	return strings.TrimSpace(verdict), nil
}

func VerifyPrompt(req verify.Request) (string, error) {
	convo, err := json.MarshalIndent(transcriptOf(req.Conversation), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode conversation: %w", err)
	}
	sample, err := dataset.MarshalRecords(req.Preview, req.PreviewColumns)
	if err != nil {
		return "", fmt.Errorf("encode preview: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, verifyPromptHeader, convo, sample)
	if req.InputColumns != "" {
		fmt.Fprintf(&sb, verifyInputTemplate, req.InputRows, req.InputColumns)
	}
	if req.FormatName != "" {
		fmt.Fprintf(&sb, verifyFormatTemplate, req.FormatName)
		if req.FormatText != "" {
			heading := "Format specification"
			if req.FormatName == formats.CustomKey {
				heading = "Custom metadata"
			}
			fmt.Fprintf(&sb, formatSpecTemplate, heading, req.FormatText)
		}
	}
	sb.WriteString(verifyInstructions)
	return sb.String(), nil
}

type transcriptEntry struct {
	Role    conversation.Role `json:"role"`
	Content string            `json:"content"`
}

func transcriptOf(msgs []conversation.Message) []transcriptEntry {
	out := make([]transcriptEntry, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, transcriptEntry{Role: m.Role, Content: m.Content})
	}
	return out
}
