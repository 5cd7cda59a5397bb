package fanout

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "research-agent/internal/common/errors"
	"research-agent/internal/common/logger"
	"research-agent/internal/common/metrics"
)

func value(v string) func(context.Context) (string, error) {
	return func(context.Context) (string, error) { return v, nil }
}

func TestRunAll(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	tests := []struct {
		name           string
		tasks          []Task[string]
		opts           Options
		expected       map[string]Status
		validateOutput func(t *testing.T, out map[string]Result[string])
	}{
		{
			name: "all complete",
			tasks: []Task[string]{
				{ID: "google", Run: value("g")},
				{ID: "bing", Run: value("b")},
				{ID: "reddit", Run: value("r")},
			},
			expected: map[string]Status{"google": StatusCompleted, "bing": StatusCompleted, "reddit": StatusCompleted},
			validateOutput: func(t *testing.T, out map[string]Result[string]) {
				assert.Equal(t, "g", out["google"].Value)
				assert.True(t, out["reddit"].OK())
			},
		},
		{
			name: "error resolves to default",
			tasks: []Task[string]{
				{ID: "ok", Run: value("v")},
				{ID: "bad", Default: "fallback", Run: func(context.Context) (string, error) { return "partial", stderrors.New("boom") }},
			},
			expected: map[string]Status{"ok": StatusCompleted, "bad": StatusFailed},
			validateOutput: func(t *testing.T, out map[string]Result[string]) {
				assert.Equal(t, "fallback", out["bad"].Value)
				assert.EqualError(t, out["bad"].Err, "boom")
			},
		},
		{
			name: "panic is recovered",
			tasks: []Task[string]{
				{ID: "panics", Default: "d", Run: func(context.Context) (string, error) { panic("kaboom") }},
			},
			expected: map[string]Status{"panics": StatusFailed},
			validateOutput: func(t *testing.T, out map[string]Result[string]) {
				assert.Equal(t, "d", out["panics"].Value)
				assert.Contains(t, out["panics"].Err.Error(), "kaboom")
			},
		},
		{
			name: "task timeout is enforced even if ctx is ignored",
			tasks: []Task[string]{
				{ID: "slow", Default: "d", Timeout: 20 * time.Millisecond, Run: func(context.Context) (string, error) {
					<-block
					return "late", nil
				}},
				{ID: "fast", Run: value("f")},
			},
			expected: map[string]Status{"slow": StatusFailed, "fast": StatusCompleted},
			validateOutput: func(t *testing.T, out map[string]Result[string]) {
				assert.Equal(t, "d", out["slow"].Value)
				assert.True(t, apperrors.IsTimeout(out["slow"].Err))
			},
		},
		{
			name: "batch deadline abandons stragglers but keeps their key",
			opts: Options{Deadline: 50 * time.Millisecond},
			tasks: []Task[string]{
				{ID: "stuck", Default: "empty", Run: func(context.Context) (string, error) {
					<-block
					return "never", nil
				}},
				{ID: "done", Run: value("d")},
			},
			expected: map[string]Status{"stuck": StatusAbandoned, "done": StatusCompleted},
			validateOutput: func(t *testing.T, out map[string]Result[string]) {
				assert.Equal(t, "empty", out["stuck"].Value)
				assert.True(t, apperrors.IsTimeout(out["stuck"].Err))
			},
		},
		{
			name: "queued tasks behind a stuck pool are abandoned",
			opts: Options{Workers: 1, Deadline: 50 * time.Millisecond},
			tasks: []Task[string]{
				{ID: "first", Run: func(context.Context) (string, error) {
					<-block
					return "never", nil
				}},
				{ID: "second", Default: "d2", Run: value("unreachable")},
				{ID: "third", Default: "d3", Run: value("unreachable")},
			},
			expected: map[string]Status{"first": StatusAbandoned, "second": StatusAbandoned, "third": StatusAbandoned},
			validateOutput: func(t *testing.T, out map[string]Result[string]) {
				assert.Equal(t, "d2", out["second"].Value)
				assert.Equal(t, "d3", out["third"].Value)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Logger = logger.NewTestLogger(t)
			tt.opts.Name = "test"

			start := time.Now()
			out, err := RunAll(context.Background(), tt.tasks, tt.opts)
			require.NoError(t, err)
			assert.Less(t, time.Since(start), 2*time.Second)

			require.Len(t, out, len(tt.tasks))
			for id, status := range tt.expected {
				r, ok := out[id]
				require.True(t, ok, "missing entry for %s", id)
				assert.Equal(t, id, r.ID)
				assert.Equal(t, status, r.Status, "task %s", id)
			}
			if tt.validateOutput != nil {
				tt.validateOutput(t, out)
			}
		})
	}
}

func TestRunAll_BoundedConcurrency(t *testing.T) {
	var running, peak int32
	tasks := make([]Task[int], 8)
	for i := range tasks {
		tasks[i] = Task[int]{
			ID: fmt.Sprintf("t%d", i),
			Run: func(context.Context) (int, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return i, nil
			},
		}
	}

	out, err := RunAll(context.Background(), tasks, Options{Workers: 2, Logger: logger.NewTestLogger(t)})
	require.NoError(t, err)
	require.Len(t, out, 8)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	assert.Equal(t, 5, out["t5"].Value)
}

func TestRunAll_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := RunAll(ctx, []Task[string]{{ID: "a", Default: "d", Run: func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}}, Options{})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "d", out["a"].Value)
	assert.NotEqual(t, StatusCompleted, out["a"].Status)
}

func TestRunAll_InvalidTasks(t *testing.T) {
	tests := []struct {
		name  string
		tasks []Task[string]
	}{
		{name: "empty id", tasks: []Task[string]{{ID: "", Run: value("x")}}},
		{name: "duplicate id", tasks: []Task[string]{{ID: "a", Run: value("x")}, {ID: "a", Run: value("y")}}},
		{name: "missing run", tasks: []Task[string]{{ID: "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := RunAll(context.Background(), tt.tasks, Options{})
			assert.Error(t, err)
			assert.Nil(t, out)
		})
	}
}

func TestRunAll_Empty(t *testing.T) {
	out, err := RunAll[string](context.Background(), nil, Options{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestRunAll_Metrics(t *testing.T) {
	before := testutil.ToFloat64(metrics.FanoutTasks.WithLabelValues("metrics_batch", string(StatusFailed)))

	_, err := RunAll(context.Background(), []Task[string]{
		{ID: "x", Run: func(context.Context) (string, error) { return "", stderrors.New("no") }},
	}, Options{Name: "metrics_batch"})
	require.NoError(t, err)

	after := testutil.ToFloat64(metrics.FanoutTasks.WithLabelValues("metrics_batch", string(StatusFailed)))
	assert.Equal(t, before+1, after)
}
