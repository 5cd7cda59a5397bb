package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-agent/internal/common/config"
	apperrors "research-agent/internal/common/errors"
	httpgw "research-agent/internal/common/http"
	"research-agent/internal/common/logger"
	"research-agent/internal/models"
)

type stubCompleter struct {
	reply  string
	err    error
	block  bool
	prompt Prompt
}

func (s *stubCompleter) Name() string { return "stub" }

func (s *stubCompleter) Complete(ctx context.Context, p Prompt) (string, error) {
	s.prompt = p
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return s.reply, s.err
}

func TestService_SelectURLs(t *testing.T) {
	tests := []struct {
		name           string
		stub           *stubCompleter
		expectedURLs   []string
		expectedError  bool
		validateOutput func(t *testing.T, stub *stubCompleter, err error)
	}{
		{
			name:         "plain json",
			stub:         &stubCompleter{reply: `{"selected_urls": ["https://reddit.com/r/a/1", " https://reddit.com/r/a/2 "]}`},
			expectedURLs: []string{"https://reddit.com/r/a/1", "https://reddit.com/r/a/2"},
			validateOutput: func(t *testing.T, stub *stubCompleter, _ error) {
				assert.True(t, stub.prompt.JSON)
				assert.Contains(t, stub.prompt.User, "User Question: best budget laptops 2024")
			},
		},
		{
			name:         "fenced json",
			stub:         &stubCompleter{reply: "```json\n{\"selected_urls\": [\"https://reddit.com/r/a/1\"]}\n```"},
			expectedURLs: []string{"https://reddit.com/r/a/1"},
		},
		{
			name:         "empty selection is not an error",
			stub:         &stubCompleter{reply: `{"selected_urls": []}`},
			expectedURLs: []string{},
		},
		{
			name:          "schema violation",
			stub:          &stubCompleter{reply: `{"urls": ["x"]}`},
			expectedError: true,
		},
		{
			name:          "not json",
			stub:          &stubCompleter{reply: `I think thread 2 is best`},
			expectedError: true,
		},
		{
			name:          "provider error",
			stub:          &stubCompleter{err: stderrors.New("boom")},
			expectedError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.stub, time.Second, logger.NewTestLogger(t))

			urls, err := svc.SelectURLs(context.Background(), "best budget laptops 2024", "1. thread\n")

			if tt.expectedError {
				require.Error(t, err)
				assert.True(t, stderrors.Is(err, apperrors.ErrCapability))
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.expectedURLs, urls)
			}
			if tt.validateOutput != nil {
				tt.validateOutput(t, tt.stub, err)
			}
		})
	}
}

func TestService_EmptyReplyIsCapabilityError(t *testing.T) {
	svc := NewService(&stubCompleter{reply: "   "}, time.Second, logger.NewTestLogger(t))

	_, err := svc.Summarize(context.Background(), "q", "source")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeCapability, apperrors.CodeOf(err))
}

func TestService_TimeoutIsCapabilityAndTimeout(t *testing.T) {
	svc := NewService(&stubCompleter{block: true}, 20*time.Millisecond, logger.NewTestLogger(t))

	start := time.Now()
	_, err := svc.Synthesize(context.Background(), "q", nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, stderrors.Is(err, apperrors.ErrCapability))
	assert.True(t, apperrors.IsTimeout(err))
}

func TestService_SynthesizePromptNamesSources(t *testing.T) {
	stub := &stubCompleter{reply: "final"}
	svc := NewService(stub, time.Second, logger.NewTestLogger(t))

	out, err := svc.Synthesize(context.Background(), "which laptop", []models.AnalysisResult{
		{Source: models.SourceGoogle, Text: "google says A", Available: true},
		{Source: models.SourceReddit, Text: "Reddit results unavailable", Available: false},
	})
	require.NoError(t, err)
	assert.Equal(t, "final", out)
	assert.Contains(t, stub.prompt.User, "Google Analysis:\ngoogle says A")
	assert.Contains(t, stub.prompt.User, "Reddit Analysis:")
	assert.False(t, stub.prompt.JSON)
}

func TestService_SummarizeTruncatesLargeSources(t *testing.T) {
	stub := &stubCompleter{reply: "ok"}
	svc := NewService(stub, time.Second, logger.NewTestLogger(t))

	_, err := svc.Summarize(context.Background(), "q", strings.Repeat("é", maxSourceChars))
	require.NoError(t, err)
	assert.Contains(t, stub.prompt.User, "[truncated]")
	assert.Less(t, len(stub.prompt.User), maxSourceChars+1000)
}

func TestOpenAICompleter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "json_object", req.ResponseFormat["type"])

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"selected_urls\":[]}"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	cfg := config.GenAIConfig{Provider: "openai", BaseURL: server.URL + "/v1", APIKey: "sk-test", Model: "gpt-4o", MaxTokens: 100}
	gw := httpgw.NewClient(httpgw.Config{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Timeout: time.Second}, logger.NewTestLogger(t))

	out, err := NewOpenAICompleter(gw, cfg).Complete(context.Background(), Prompt{System: "s", User: "u", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"selected_urls":[]}`, out)
}

func TestOpenAICompleter_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer server.Close()

	cfg := config.GenAIConfig{BaseURL: server.URL, APIKey: "sk-test", Model: "gpt-4o"}
	gw := httpgw.NewClient(httpgw.Config{BaseURL: cfg.BaseURL, APIKey: cfg.APIKey, Timeout: time.Second}, logger.NewTestLogger(t))
	svc := NewService(NewOpenAICompleter(gw, cfg), time.Second, logger.NewTestLogger(t))

	_, err := svc.Summarize(context.Background(), "q", "text")
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, apperrors.ErrCapability))
	assert.True(t, stderrors.Is(err, apperrors.ErrUpstream))
}

func TestOllamaCompleter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var req map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3.1", req["model"])
		assert.Equal(t, false, req["stream"])
		assert.Equal(t, "json", req["format"])

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte(`{"model":"llama3.1","message":{"role":"assistant","content":"{\"selected_urls\":[\"https://reddit.com/r/a/1\"]}"},"done":true}` + "\n"))
	}))
	defer server.Close()

	oc, err := NewOllamaCompleter(config.GenAIConfig{Provider: "ollama", BaseURL: server.URL, Model: "llama3.1", MaxTokens: 50})
	require.NoError(t, err)

	svc := NewService(oc, time.Second, logger.NewTestLogger(t))
	urls, err := svc.SelectURLs(context.Background(), "q", "corpus")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://reddit.com/r/a/1"}, urls)
}

func TestNewFromConfig_UnknownProvider(t *testing.T) {
	_, err := NewFromConfig(config.GenAIConfig{Provider: "palm"}, logger.NewTestLogger(t))
	assert.Error(t, err)
}
