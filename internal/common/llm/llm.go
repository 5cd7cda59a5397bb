// Package llm is the language-model boundary of the research pipeline: per-source
// summaries, final synthesis and discussion URL selection, over a pluggable
// chat completer.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"research-agent/internal/common/config"
	apperrors "research-agent/internal/common/errors"
	httpgw "research-agent/internal/common/http"
	"research-agent/internal/common/logger"
	"research-agent/internal/common/validation"
	"research-agent/internal/models"
)

const (
	OpSummarize  = "summarize"
	OpSynthesize = "synthesize"
	OpSelectURLs = "select_urls"

	// sources larger than this are truncated before prompting
	maxSourceChars = 24000
)

// Capability is what the pipeline needs from a language model.
type Capability interface {
	Summarize(ctx context.Context, question, sourceText string) (string, error)
	Synthesize(ctx context.Context, question string, analyses []models.AnalysisResult) (string, error)
	SelectURLs(ctx context.Context, question, corpus string) ([]string, error)
}

// Prompt is one chat exchange. JSON asks the provider for a JSON object reply.
type Prompt struct {
	System string
	User   string
	JSON   bool
}

// Completer sends a prompt to a concrete provider.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
	Name() string
}

var selectionSchema = validation.MustCompile(`{
  "type": "object",
  "required": ["selected_urls"],
  "properties": {
    "selected_urls": {
      "type": "array",
      "items": {"type": "string", "minLength": 1}
    }
  }
}`)

// Service implements Capability on a Completer. Every failure, including an
// empty reply, comes back as a CapabilityError.
type Service struct {
	completer Completer
	timeout   time.Duration
	logger    logger.Logger
}

func NewService(c Completer, timeout time.Duration, log logger.Logger) *Service {
	return &Service{
		completer: c,
		timeout:   timeout,
		logger: log.With(map[string]interface{}{
			"provider": c.Name(),
		}),
	}
}

// NewFromConfig picks the completer named by cfg.Provider.
func NewFromConfig(cfg config.GenAIConfig, log logger.Logger) (*Service, error) {
	timeout := config.GetDuration(cfg.Timeout)

	var c Completer
	switch cfg.Provider {
	case "openai":
		gw := httpgw.NewClient(httpgw.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: timeout,
		}, log)
		c = NewOpenAICompleter(gw, cfg)
	case "ollama":
		oc, err := NewOllamaCompleter(cfg)
		if err != nil {
			return nil, err
		}
		c = oc
	default:
		return nil, fmt.Errorf("unsupported genai provider %q", cfg.Provider)
	}
	return NewService(c, timeout, log), nil
}

func (s *Service) Summarize(ctx context.Context, question, sourceText string) (string, error) {
	return s.complete(ctx, OpSummarize, Prompt{
		System: summarizeSystem,
		User:   summarizePrompt(question, truncate(sourceText, maxSourceChars)),
	})
}

func (s *Service) Synthesize(ctx context.Context, question string, analyses []models.AnalysisResult) (string, error) {
	return s.complete(ctx, OpSynthesize, Prompt{
		System: synthesizeSystem,
		User:   synthesizePrompt(question, analyses),
	})
}

// SelectURLs returns the model's picks in relevance order. The caller is
// responsible for restricting them to known URLs.
func (s *Service) SelectURLs(ctx context.Context, question, corpus string) ([]string, error) {
	reply, err := s.complete(ctx, OpSelectURLs, Prompt{
		System: selectSystem,
		User:   selectPrompt(question, corpus),
		JSON:   true,
	})
	if err != nil {
		return nil, err
	}

	urls, err := ParseSelection(reply)
	if err != nil {
		return nil, apperrors.NewCapabilityError(OpSelectURLs, err)
	}
	return urls, nil
}

func (s *Service) complete(ctx context.Context, op string, p Prompt) (string, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := s.completer.Complete(ctx, p)
	if err != nil {
		if ctx.Err() != nil && !apperrors.IsTimeout(err) {
			err = apperrors.NewTimeoutError("llm "+op, s.timeout, err)
		}
		s.logger.Warn("completion failed", map[string]interface{}{
			"operation": op,
			"error":     err.Error(),
		})
		return "", apperrors.NewCapabilityError(op, err)
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", apperrors.NewCapabilityError(op, fmt.Errorf("empty completion"))
	}

	s.logger.Debug("completion finished", map[string]interface{}{
		"operation":  op,
		"durationMs": time.Since(start).Milliseconds(),
		"chars":      len(reply),
	})
	return reply, nil
}

// ParseSelection decodes and validates a {"selected_urls": [...]} reply,
// tolerating a surrounding markdown code fence.
func ParseSelection(reply string) ([]string, error) {
	doc := []byte(stripFence(reply))

	res, err := selectionSchema.ValidateJSON(doc)
	if err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}
	if !res.Valid {
		return nil, fmt.Errorf("selection does not match schema: %s", res.Error())
	}

	var out struct {
		SelectedURLs []string `json:"selected_urls"`
	}
	if err := json.Unmarshal(doc, &out); err != nil {
		return nil, fmt.Errorf("decode selection: %w", err)
	}
	urls := make([]string, 0, len(out.SelectedURLs))
	for _, u := range out.SelectedURLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}
	return urls, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop the language tag line
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := s[:max]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "\n[truncated]"
}
