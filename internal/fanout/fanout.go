// Package fanout runs independent tasks on a bounded worker pool under a batch
// deadline and returns exactly one result per task.
package fanout

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "research-agent/internal/common/errors"
	"research-agent/internal/common/logger"
	"research-agent/internal/common/metrics"
)

const (
	DefaultWorkers  = 3
	DefaultDeadline = 25 * time.Second
)

type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusAbandoned Status = "abandoned"
)

// Task is one unit of work. Default is reported when the task fails, panics or
// is abandoned at the batch deadline.
type Task[T any] struct {
	ID      string
	Timeout time.Duration
	Run     func(ctx context.Context) (T, error)
	Default T
}

type Result[T any] struct {
	ID       string
	Value    T
	Status   Status
	Err      error
	Duration time.Duration
}

func (r Result[T]) OK() bool { return r.Status == StatusCompleted }

type Options struct {
	Workers  int
	Deadline time.Duration
	Name     string // batch label for logs and metrics
	Logger   logger.Logger
}

func (o *Options) withDefaults() {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers
	}
	if o.Deadline <= 0 {
		o.Deadline = DefaultDeadline
	}
	if o.Name == "" {
		o.Name = "batch"
	}
	if o.Logger == nil {
		o.Logger = logger.NewNoOpLogger()
	}
}

// RunAll executes tasks and returns once every task has settled or the batch
// deadline (or ctx) has ended. Tasks still running at that point are abandoned:
// their entry holds Default and any later result is discarded. The only error
// is a malformed task list.
func RunAll[T any](ctx context.Context, tasks []Task[T], opts Options) (map[string]Result[T], error) {
	opts.withDefaults()
	if err := validate(tasks); err != nil {
		return nil, err
	}

	out := make(map[string]Result[T], len(tasks))
	if len(tasks) == 0 {
		return out, nil
	}

	start := time.Now()
	batchCtx, cancel := context.WithTimeout(ctx, opts.Deadline)
	defer cancel()

	// buffered so abandoned tasks never block on send
	results := make(chan Result[T], len(tasks))

	go func() {
		var g errgroup.Group
		g.SetLimit(opts.Workers)
		for _, task := range tasks {
			if batchCtx.Err() != nil {
				break
			}
			g.Go(func() error {
				if batchCtx.Err() != nil {
					return nil // reported as abandoned by the collector
				}
				results <- runTask(batchCtx, task)
				return nil
			})
		}
		_ = g.Wait()
	}()

collect:
	for len(out) < len(tasks) {
		select {
		case r := <-results:
			out[r.ID] = r
		case <-batchCtx.Done():
			break collect
		}
	}

	// results that landed together with the deadline still count
drain:
	for len(out) < len(tasks) {
		select {
		case r := <-results:
			out[r.ID] = r
		default:
			break drain
		}
	}

	for _, task := range tasks {
		if _, ok := out[task.ID]; ok {
			continue
		}
		out[task.ID] = Result[T]{
			ID:       task.ID,
			Value:    task.Default,
			Status:   StatusAbandoned,
			Err:      apperrors.NewTimeoutError(opts.Name, opts.Deadline, batchCtx.Err()),
			Duration: time.Since(start),
		}
	}

	report(opts, out, time.Since(start))
	return out, nil
}

func validate[T any](tasks []Task[T]) error {
	seen := make(map[string]struct{}, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			return fmt.Errorf("fanout: task %d has an empty id", i)
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("fanout: duplicate task id %q", t.ID)
		}
		if t.Run == nil {
			return fmt.Errorf("fanout: task %q has no Run func", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

type outcome[T any] struct {
	value T
	err   error
}

// runTask enforces the task timeout even when Run ignores its context. A task
// cut off by the batch rather than its own timeout is reported as abandoned.
func runTask[T any](batchCtx context.Context, task Task[T]) Result[T] {
	start := time.Now()
	ctx := batchCtx
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(batchCtx, task.Timeout)
		defer cancel()
	}

	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome[T]{err: fmt.Errorf("task %s panicked: %v", task.ID, p)}
			}
		}()
		v, err := task.Run(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	res := Result[T]{ID: task.ID, Value: task.Default, Status: StatusFailed}
	select {
	case o := <-done:
		if o.err == nil {
			res.Value = o.value
			res.Status = StatusCompleted
		} else {
			res.Err = o.err
		}
	case <-ctx.Done():
		res.Err = apperrors.NewTimeoutError(task.ID, task.Timeout, ctx.Err())
	}
	if res.Status == StatusFailed && batchCtx.Err() != nil {
		res.Status = StatusAbandoned
	}
	res.Duration = time.Since(start)
	return res
}

func report[T any](opts Options, out map[string]Result[T], elapsed time.Duration) {
	counts := map[Status]int{}
	for id, r := range out {
		counts[r.Status]++
		metrics.FanoutTasks.WithLabelValues(opts.Name, string(r.Status)).Inc()
		if r.Status != StatusCompleted {
			opts.Logger.Warn("task did not complete", map[string]interface{}{
				"batch":      opts.Name,
				"task":       id,
				"status":     string(r.Status),
				"error":      fmt.Sprint(r.Err),
				"durationMs": r.Duration.Milliseconds(),
			})
		}
	}
	opts.Logger.Debug("batch settled", map[string]interface{}{
		"batch":      opts.Name,
		"tasks":      len(out),
		"completed":  counts[StatusCompleted],
		"failed":     counts[StatusFailed],
		"abandoned":  counts[StatusAbandoned],
		"durationMs": elapsed.Milliseconds(),
	})
}
