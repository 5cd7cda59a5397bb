package http

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "research-agent/internal/common/errors"
	"research-agent/internal/common/logger"
)

func newTestClient(t *testing.T, baseURL string) *Client {
	return NewClient(Config{BaseURL: baseURL, APIKey: "secret-key"}, logger.NewTestLogger(t))
}

func TestClient_Call_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/request", r.URL.Path)
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ai_research_agent", body["zone"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"organic":[{"title":"a"}]}`))
	}))
	defer server.Close()

	raw, err := newTestClient(t, server.URL).Call(context.Background(), "/request",
		map[string]string{"zone": "ai_research_agent"}, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"organic":[{"title":"a"}]}`, string(raw))
}

func TestClient_Do_QueryAndMethod(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/datasets/v3/snapshot/s_1", r.URL.Path)
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		body, _ := io.ReadAll(r.Body)
		assert.Empty(t, body)
		_, _ = w.Write([]byte(`[]`))
	}))
	defer server.Close()

	raw, err := newTestClient(t, server.URL).Do(context.Background(), Request{
		Method:   http.MethodGet,
		Endpoint: "/datasets/v3/snapshot/s_1",
		Query:    url.Values{"format": {"json"}},
	}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		timeout  time.Duration
		wantCode apperrors.ErrorCode
		validate func(t *testing.T, err error)
	}{
		{
			name: "non-2xx maps to upstream with status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte(`{"error":"zone offline"}`))
			},
			timeout:  time.Second,
			wantCode: apperrors.ErrCodeUpstream,
			validate: func(t *testing.T, err error) {
				var se *apperrors.StandardError
				require.True(t, stderrors.As(err, &se))
				assert.Equal(t, http.StatusBadGateway, se.Status)
				assert.Contains(t, se.Details, "zone offline")
				assert.True(t, se.Retryable)
			},
		},
		{
			name: "slow server maps to timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(500 * time.Millisecond):
				case <-r.Context().Done():
				}
			},
			timeout:  50 * time.Millisecond,
			wantCode: apperrors.ErrCodeTimeout,
			validate: func(t *testing.T, err error) {
				assert.True(t, apperrors.IsTimeout(err))
			},
		},
		{
			name: "non-JSON 2xx maps to invalid payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>captcha</html>"))
			},
			timeout:  time.Second,
			wantCode: apperrors.ErrCodeUpstreamInvalidPayload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			raw, err := newTestClient(t, server.URL).Call(context.Background(), "/request", map[string]string{}, tt.timeout)
			require.Error(t, err)
			assert.Nil(t, raw)
			assert.Equal(t, tt.wantCode, apperrors.CodeOf(err))
			assert.NotContains(t, err.Error(), "secret-key")
			if tt.validate != nil {
				tt.validate(t, err)
			}
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := newTestClient(t, addr).Call(context.Background(), "/request", nil, time.Second)
	require.Error(t, err)
	assert.True(t, stderrors.Is(err, apperrors.ErrNetwork))
	assert.False(t, apperrors.IsTimeout(err))
}

func TestClient_EmptyBodyIsNotAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	raw, err := newTestClient(t, server.URL).Call(context.Background(), "/request", nil, time.Second)
	assert.NoError(t, err)
	assert.Nil(t, raw)
}

func TestClient_CallerCancellationIsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := newTestClient(t, server.URL).Call(ctx, "/request", nil, 5*time.Second)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeTimeout, apperrors.CodeOf(err))
}

func TestEndpointLabel(t *testing.T) {
	assert.Equal(t, "/request", endpointLabel("https://api.brightdata.com/request?token=abc"))
	assert.Equal(t, "/datasets/v3/trigger", endpointLabel("/datasets/v3/trigger"))
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "short body is kept", body: "  bad gateway \n", want: "bad gateway"},
		{name: "ascii cut at the limit", body: strings.Repeat("a", maxErrorBody+10), want: strings.Repeat("a", maxErrorBody) + "..."},
		{name: "multibyte rune is not split", body: strings.Repeat("a", maxErrorBody-1) + "é tail", want: strings.Repeat("a", maxErrorBody-1) + "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := excerpt([]byte(tt.body))
			assert.Equal(t, tt.want, got)
			assert.True(t, utf8.ValidString(got))
		})
	}
}
