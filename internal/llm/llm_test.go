package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturedRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type capturedAnthropicRequest struct {
	MaxTokens int `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role    string `json:"role"`
		Content []struct {
			Text string `json:"text"`
		} `json:"content"`
	} `json:"messages"`
}

func TestOpenRouterComplete(t *testing.T) {
	var got capturedRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "http://localhost:8760", r.Header.Get("HTTP-Referer"))
		assert.Equal(t, "Reshaper", r.Header.Get("X-Title"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "gen-1",
			"object": "chat.completion",
			"created": 1,
			"model": "anthropic/claude-3.5-sonnet",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "hello there"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`)
	}))
	defer server.Close()

	c := NewOpenRouterClient(OpenRouterConfig{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Model:   "anthropic/claude-3.5-sonnet",
		Referer: "http://localhost:8760",
		Title:   "Reshaper",
	}, discardLogger())

	out, err := c.Complete(context.Background(), Request{
		System:      "be brief",
		Messages:    []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "yo"}, {Role: RoleUser, Content: "again"}},
		Temperature: 0.7,
		MaxTokens:   4000,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", out)

	assert.Equal(t, "anthropic/claude-3.5-sonnet", got.Model)
	assert.InDelta(t, 0.7, got.Temperature, 1e-9)
	assert.Equal(t, 4000, got.MaxTokens)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.Equal(t, RoleAssistant, got.Messages[2].Role)
}

func TestOpenRouterAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error": {"message": "No auth credentials found", "code": 401}}`)
	}))
	defer server.Close()

	c := NewOpenRouterClient(OpenRouterConfig{APIKey: "bad", BaseURL: server.URL + "/", Model: "m"}, discardLogger())

	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openrouter request")
}

func TestOpenRouterEmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":""}}]}`)
	}))
	defer server.Close()

	c := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL, Model: "m"}, discardLogger())

	_, err := c.Complete(context.Background(), Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestAnthropicComplete(t *testing.T) {
	var got capturedAnthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-5-sonnet-latest",
			"content": [{"type": "text", "text": "VERIFIED"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 20, "output_tokens": 2}
		}`)
	}))
	defer server.Close()

	c := NewAnthropicClient(AnthropicConfig{APIKey: "test-key", BaseURL: server.URL, Model: "claude-3-5-sonnet-latest"}, discardLogger())

	out, err := c.Complete(context.Background(), Request{
		System: "You are a data verification assistant.",
		Messages: []Message{
			{Role: RoleAssistant, Content: "Previous conversation summary: wants hubverse"},
			{Role: RoleUser, Content: "a"},
			{Role: RoleUser, Content: "b"},
		},
		Temperature: 0.3,
		MaxTokens:   500,
	})
	require.NoError(t, err)
	assert.Equal(t, "VERIFIED", out)

	assert.Equal(t, 500, got.MaxTokens)
	require.Len(t, got.System, 1)
	assert.Equal(t, "You are a data verification assistant.", got.System[0].Text)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "user", got.Messages[0].Role)
	assert.Equal(t, "assistant", got.Messages[1].Role)
	require.Len(t, got.Messages[2].Content, 1)
	assert.Equal(t, "a\n\nb", got.Messages[2].Content[0].Text)
}

func TestMergeTurns(t *testing.T) {
	out := mergeTurns([]Message{
		{Role: RoleAssistant, Content: "summary"},
		{Role: RoleUser, Content: "a"},
		{Role: RoleUser, Content: ""},
		{Role: RoleUser, Content: "b"},
		{Role: RoleAssistant, Content: "c"},
	})
	require.Len(t, out, 4)
	assert.Equal(t, RoleUser, out[0].Role)
	assert.Equal(t, "summary", out[1].Content)
	assert.Equal(t, "a\n\nb", out[2].Content)
	assert.Equal(t, "c", out[3].Content)
}
