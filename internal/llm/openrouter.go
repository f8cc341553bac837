package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

type OpenRouterConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Referer    string
	Title      string
	MaxRetries int
}

// OpenRouterClient talks to OpenRouter's OpenAI-compatible chat completions
// endpoint.
type OpenRouterClient struct {
	client openai.Client
	model  string
	logger *slog.Logger
}

func NewOpenRouterClient(cfg OpenRouterConfig, logger *slog.Logger) *OpenRouterClient {
	base := cfg.BaseURL
	if base == "" {
		base = DefaultOpenRouterURL
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(base),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.Referer != "" {
		opts = append(opts, option.WithHeader("HTTP-Referer", cfg.Referer))
	}
	if cfg.Title != "" {
		opts = append(opts, option.WithHeader("X-Title", cfg.Title))
	}
	return &OpenRouterClient{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		logger: logger,
	}
}

func (c *OpenRouterClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openrouter request: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("openrouter: no choices returned")
	}
	content := completion.Choices[0].Message.Content
	if content == "" {
		return "", ErrEmptyResponse
	}

	c.logger.Debug("openrouter completion",
		"model", c.model,
		"prompt_tokens", completion.Usage.PromptTokens,
		"completion_tokens", completion.Usage.CompletionTokens,
	)
	return content, nil
}
