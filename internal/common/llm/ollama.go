package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	ollama "github.com/ollama/ollama/api"

	"research-agent/internal/common/config"
)

type ollamaChatter interface {
	Chat(ctx context.Context, req *ollama.ChatRequest, fn ollama.ChatResponseFunc) error
}

// OllamaCompleter runs prompts against a local Ollama server.
type OllamaCompleter struct {
	client      ollamaChatter
	model       string
	temperature float64
	maxTokens   int
}

// NewOllamaCompleter uses cfg.BaseURL when set, otherwise OLLAMA_HOST.
func NewOllamaCompleter(cfg config.GenAIConfig) (*OllamaCompleter, error) {
	var client *ollama.Client
	if cfg.BaseURL != "" {
		base, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse ollama base url: %w", err)
		}
		client = ollama.NewClient(base, http.DefaultClient)
	} else {
		c, err := ollama.ClientFromEnvironment()
		if err != nil {
			return nil, fmt.Errorf("could not create ollama client: %w", err)
		}
		client = c
	}
	return newOllamaCompleter(client, cfg), nil
}

func newOllamaCompleter(client ollamaChatter, cfg config.GenAIConfig) *OllamaCompleter {
	return &OllamaCompleter{
		client:      client,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

func (c *OllamaCompleter) Name() string { return "ollama" }

func (c *OllamaCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	var messages []ollama.Message
	if p.System != "" {
		messages = append(messages, ollama.Message{Role: "system", Content: p.System})
	}
	messages = append(messages, ollama.Message{Role: "user", Content: p.User})

	stream := false
	req := &ollama.ChatRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": c.temperature,
		},
	}
	if c.maxTokens > 0 {
		req.Options["num_predict"] = c.maxTokens
	}
	if p.JSON {
		req.Format = json.RawMessage(`"json"`)
	}

	var content strings.Builder
	err := c.client.Chat(ctx, req, func(res ollama.ChatResponse) error {
		content.WriteString(res.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	return content.String(), nil
}
