package snapshot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-agent/internal/common/config"
	"research-agent/internal/common/database"
	apperrors "research-agent/internal/common/errors"
	httpgw "research-agent/internal/common/http"
	"research-agent/internal/common/logger"
)

// fakeProvider emulates the dataset API. readyAfter is the number of progress
// checks answered "running" before "ready"; a negative value never becomes ready.
type fakeProvider struct {
	t            *testing.T
	readyAfter   int32
	finalStatus  string
	download     string
	triggerFails bool

	triggers  atomic.Int32
	checks    atomic.Int32
	downloads atomic.Int32
	lastBody  atomic.Value
	lastQuery atomic.Value
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/datasets/v3/trigger":
		f.triggers.Add(1)
		f.lastQuery.Store(r.URL.Query().Encode())
		var body []map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.lastBody.Store(body)
		if f.triggerFails {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"snapshot_id":"s_test"}`))
	case strings.HasPrefix(r.URL.Path, "/datasets/v3/progress/"):
		n := f.checks.Add(1)
		status := "running"
		if f.readyAfter >= 0 && n > f.readyAfter {
			status = f.finalStatus
			if status == "" {
				status = "ready"
			}
		}
		_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
	case strings.HasPrefix(r.URL.Path, "/datasets/v3/snapshot/"):
		f.downloads.Add(1)
		assert.Equal(f.t, "json", r.URL.Query().Get("format"))
		_, _ = w.Write([]byte(f.download))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, provider *fakeProvider, opts Options) *Client {
	server := httptest.NewServer(provider)
	t.Cleanup(server.Close)

	log := logger.NewTestLogger(t)
	gw := httpgw.NewClient(httpgw.Config{BaseURL: server.URL, APIKey: "k"}, log)
	return NewClient(gw, opts, log)
}

func triggerSpec() TriggerSpec {
	return TriggerSpec{
		Operation:  "reddit_search",
		DatasetID:  "gd_test",
		DiscoverBy: "keyword",
		Inputs:     []map[string]interface{}{{"keyword": "laptops"}},
	}
}

func TestTrigger_SendsDatasetQuery(t *testing.T) {
	provider := &fakeProvider{t: t}
	client := newTestClient(t, provider, Options{})

	id, err := client.Trigger(context.Background(), triggerSpec())
	require.NoError(t, err)
	assert.Equal(t, "s_test", id)

	q := provider.lastQuery.Load().(string)
	assert.Contains(t, q, "dataset_id=gd_test")
	assert.Contains(t, q, "discover_by=keyword")
	assert.Contains(t, q, "include_errors=true")
	assert.Contains(t, q, "type=discover_new")

	job, ok := client.Status(id)
	require.True(t, ok)
	assert.Equal(t, StatusPending, job.Status)
}

func TestTrigger_FailureIsTerminal(t *testing.T) {
	provider := &fakeProvider{t: t, triggerFails: true}
	client := newTestClient(t, provider, Options{})

	_, err := client.Trigger(context.Background(), triggerSpec())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUpstream)
	assert.Equal(t, int32(1), provider.triggers.Load(), "trigger is never retried")
}

func TestPollUntilReady_Bounds(t *testing.T) {
	tests := []struct {
		name      string
		maxWait   time.Duration
		interval  time.Duration
		maxChecks int32
	}{
		{name: "exact multiple", maxWait: 120 * time.Millisecond, interval: 40 * time.Millisecond, maxChecks: 3},
		{name: "rounds up", maxWait: 100 * time.Millisecond, interval: 30 * time.Millisecond, maxChecks: 4},
		{name: "interval longer than budget", maxWait: 20 * time.Millisecond, interval: 50 * time.Millisecond, maxChecks: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{t: t, readyAfter: -1}
			client := newTestClient(t, provider, Options{})

			id, err := client.Trigger(context.Background(), triggerSpec())
			require.NoError(t, err)

			start := time.Now()
			ready := client.PollUntilReady(context.Background(), id, tt.maxWait, tt.interval)
			elapsed := time.Since(start)

			assert.False(t, ready)
			assert.LessOrEqual(t, provider.checks.Load(), tt.maxChecks)
			// scheduling slack on top of the W+I bound
			assert.Less(t, elapsed, tt.maxWait+tt.interval+50*time.Millisecond)

			job, _ := client.Status(id)
			assert.Equal(t, StatusTimedOut, job.Status)
			assert.Equal(t, int(provider.checks.Load()), job.Checks)
		})
	}
}

func TestPollUntilReady_ReadyOnThirdCheck(t *testing.T) {
	provider := &fakeProvider{t: t, readyAfter: 2}
	client := newTestClient(t, provider, Options{})

	id, err := client.Trigger(context.Background(), triggerSpec())
	require.NoError(t, err)

	assert.True(t, client.PollUntilReady(context.Background(), id, time.Second, 10*time.Millisecond))
	assert.Equal(t, int32(3), provider.checks.Load())

	job, _ := client.Status(id)
	assert.Equal(t, StatusReady, job.Status)

	// terminal states never go back to polling
	assert.False(t, client.PollUntilReady(context.Background(), id, time.Second, 10*time.Millisecond))
	assert.Equal(t, int32(3), provider.checks.Load())
}

func TestPollUntilReady_FailedStatusStopsEarly(t *testing.T) {
	provider := &fakeProvider{t: t, readyAfter: 1, finalStatus: "failed"}
	client := newTestClient(t, provider, Options{})

	id, err := client.Trigger(context.Background(), triggerSpec())
	require.NoError(t, err)

	assert.False(t, client.PollUntilReady(context.Background(), id, time.Second, 10*time.Millisecond))
	assert.Equal(t, int32(2), provider.checks.Load())

	job, _ := client.Status(id)
	assert.Equal(t, StatusFailed, job.Status)
}

func TestDownload_RequiresReady(t *testing.T) {
	provider := &fakeProvider{t: t, readyAfter: -1, download: `[]`}
	client := newTestClient(t, provider, Options{})

	id, err := client.Trigger(context.Background(), triggerSpec())
	require.NoError(t, err)

	_, err = client.Download(context.Background(), id)
	assert.ErrorIs(t, err, apperrors.ErrJobFailed)
	assert.Equal(t, int32(0), provider.downloads.Load())
}

func TestFetch(t *testing.T) {
	tests := []struct {
		name           string
		provider       *fakeProvider
		maxWait        time.Duration
		expectErrCode  apperrors.ErrorCode
		validateOutput func(t *testing.T, raw json.RawMessage)
	}{
		{
			name:     "ready snapshot is downloaded",
			provider: &fakeProvider{readyAfter: 1, download: `[{"title":"a"},{"error":"blocked","url":"x"}]`},
			maxWait:  time.Second,
			validateOutput: func(t *testing.T, raw json.RawMessage) {
				records, err := DecodeRecords(raw)
				require.NoError(t, err)
				require.Len(t, records, 1, "error rows are dropped")
				assert.Equal(t, "a", records[0].String("title"))
			},
		},
		{
			name:     "empty download is a successful empty result",
			provider: &fakeProvider{readyAfter: 0, download: ``},
			maxWait:  time.Second,
			validateOutput: func(t *testing.T, raw json.RawMessage) {
				assert.Nil(t, raw)
			},
		},
		{
			name:          "never ready times out",
			provider:      &fakeProvider{readyAfter: -1},
			maxWait:       60 * time.Millisecond,
			expectErrCode: apperrors.ErrCodeTimeout,
		},
		{
			name:          "provider failure is a job failure",
			provider:      &fakeProvider{readyAfter: 0, finalStatus: "failed"},
			maxWait:       time.Second,
			expectErrCode: apperrors.ErrCodeJobFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.provider.t = t
			client := newTestClient(t, tt.provider, Options{PollInterval: 20 * time.Millisecond})

			raw, err := client.Fetch(context.Background(), triggerSpec(), tt.maxWait)
			if tt.expectErrCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.expectErrCode, apperrors.CodeOf(err))
				assert.Equal(t, int32(0), tt.provider.downloads.Load())
			} else {
				require.NoError(t, err)
				tt.validateOutput(t, raw)
			}

			_, tracked := client.Status("s_test")
			assert.False(t, tracked, "fetch forgets the job")
		})
	}
}

func TestFetch_RespectsCallerDeadline(t *testing.T) {
	provider := &fakeProvider{t: t, readyAfter: -1}
	client := newTestClient(t, provider, Options{PollInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Fetch(ctx, triggerSpec(), 10*time.Second)
	require.Error(t, err)
	assert.True(t, apperrors.IsTimeout(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestRedisLedger_RecordsTransitions(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := database.NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer rc.Close()

	ledger := NewRedisLedger(rc, 30*time.Minute)
	provider := &fakeProvider{t: t, readyAfter: 0}
	client := newTestClient(t, provider, Options{Recorder: ledger})

	id, err := client.Trigger(context.Background(), triggerSpec())
	require.NoError(t, err)
	require.True(t, client.PollUntilReady(context.Background(), id, time.Second, 10*time.Millisecond))

	fields, err := ledger.Lookup(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "ready", fields["status"])
	assert.Equal(t, "reddit_search", fields["operation"])
	assert.Equal(t, "1", fields["checks"])

	assert.Equal(t, 30*time.Minute, mr.TTL(LedgerKey(id)))
}

func TestRedisLedger_FailuresDoNotBreakPolling(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := database.NewRedis(config.RedisConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer rc.Close()
	mr.Close()

	provider := &fakeProvider{t: t, readyAfter: 0}
	client := newTestClient(t, provider, Options{Recorder: NewRedisLedger(rc, 0)})

	id, err := client.Trigger(context.Background(), triggerSpec())
	require.NoError(t, err)
	assert.True(t, client.PollUntilReady(context.Background(), id, time.Second, 10*time.Millisecond))
}

func TestDecodeRecords(t *testing.T) {
	tests := []struct {
		name           string
		raw            string
		wantErr        bool
		validateOutput func(t *testing.T, records []Record)
	}{
		{
			name: "newline delimited objects",
			raw:  "{\"a\":1}\n{\"a\":\"2\"}\n",
			validateOutput: func(t *testing.T, records []Record) {
				require.Len(t, records, 2)
				assert.Equal(t, 1, records[0].Int("a"))
				assert.Equal(t, 2, records[1].Int("a"))
			},
		},
		{
			name: "null body",
			raw:  " null ",
			validateOutput: func(t *testing.T, records []Record) {
				assert.Empty(t, records)
			},
		},
		{
			name: "non-object array rows are skipped",
			raw:  `[{"url":"https://reddit.com/r/x/1","score":5}, "warning: partial", 7, null, {"url":"https://reddit.com/r/x/2","score":3}]`,
			validateOutput: func(t *testing.T, records []Record) {
				require.Len(t, records, 2)
				assert.Equal(t, "https://reddit.com/r/x/1", records[0].String("url"))
				assert.Equal(t, 3, records[1].Int("score"))
			},
		},
		{
			name: "non-object delimited rows are skipped",
			raw:  "{\"a\":1}\n\"warning\"\n[1,2]\n{\"error\":\"blocked\"}\n{\"a\":2}\n",
			validateOutput: func(t *testing.T, records []Record) {
				require.Len(t, records, 2)
				assert.Equal(t, 2, records[1].Int("a"))
			},
		},
		{
			name:    "truncated array",
			raw:     "[{",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := DecodeRecords(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateOutput(t, records)
		})
	}
}
