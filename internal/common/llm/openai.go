package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"research-agent/internal/common/config"
	apperrors "research-agent/internal/common/errors"
	httpgw "research-agent/internal/common/http"
)

const chatCompletionsEndpoint = "/chat/completions"

// Caller is the slice of the HTTP gateway the OpenAI completer uses.
type Caller interface {
	Call(ctx context.Context, endpoint string, payload interface{}, timeout time.Duration) (json.RawMessage, error)
}

// OpenAICompleter talks to an OpenAI-compatible chat completions API through the
// HTTP gateway, so transport failures are already mapped onto the error taxonomy.
type OpenAICompleter struct {
	gw          Caller
	model       string
	temperature float64
	maxTokens   int
}

var _ Caller = (*httpgw.Client)(nil)

func NewOpenAICompleter(gw Caller, cfg config.GenAIConfig) *OpenAICompleter {
	return &OpenAICompleter{
		gw:          gw,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (c *OpenAICompleter) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	MaxTokens      int               `json:"max_tokens,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (c *OpenAICompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	req := chatRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	if p.System != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: p.System})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: p.User})
	if p.JSON {
		req.ResponseFormat = map[string]string{"type": "json_object"}
	}

	// zero timeout: the gateway falls back to its configured default
	raw, err := c.gw.Call(ctx, chatCompletionsEndpoint, req, 0)
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty chat completion response")
	}

	var resp chatResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", apperrors.NewInvalidPayloadError(chatCompletionsEndpoint, 200, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
