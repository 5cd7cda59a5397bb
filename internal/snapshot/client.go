package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	apperrors "research-agent/internal/common/errors"
	httpgw "research-agent/internal/common/http"
	"research-agent/internal/common/logger"
	"research-agent/internal/common/metrics"
)

const (
	triggerPath  = "/datasets/v3/trigger"
	progressPath = "/datasets/v3/progress/"
	downloadPath = "/datasets/v3/snapshot/"
)

// Gateway is the subset of the HTTP gateway the client needs.
type Gateway interface {
	Do(ctx context.Context, req httpgw.Request, timeout time.Duration) (json.RawMessage, error)
}

// Recorder receives every job transition. Errors are logged and ignored.
type Recorder interface {
	Record(ctx context.Context, job Job) error
}

type Options struct {
	PollInterval    time.Duration
	TriggerTimeout  time.Duration
	StatusTimeout   time.Duration
	DownloadTimeout time.Duration
	Recorder        Recorder
}

func (o *Options) withDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.TriggerTimeout <= 0 {
		o.TriggerTimeout = 10 * time.Second
	}
	if o.StatusTimeout <= 0 {
		o.StatusTimeout = 5 * time.Second
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = 10 * time.Second
	}
}

// Client owns every job it triggers. Callers refer to jobs only by id.
type Client struct {
	gw     Gateway
	opts   Options
	logger logger.Logger

	mu   sync.Mutex
	jobs map[string]*Job
}

func NewClient(gw Gateway, opts Options, log logger.Logger) *Client {
	opts.withDefaults()
	return &Client{
		gw:     gw,
		opts:   opts,
		logger: log.With(map[string]interface{}{"component": "snapshot"}),
		jobs:   make(map[string]*Job),
	}
}

// Trigger starts a collection job. A failed trigger is terminal; there is no retry.
func (c *Client) Trigger(ctx context.Context, spec TriggerSpec) (string, error) {
	query := url.Values{
		"dataset_id":     {spec.DatasetID},
		"include_errors": {"true"},
		"type":           {"discover_new"},
		"discover_by":    {spec.DiscoverBy},
	}

	raw, err := c.gw.Do(ctx, httpgw.Request{
		Method:   http.MethodPost,
		Endpoint: triggerPath,
		Query:    query,
		Payload:  spec.Inputs,
	}, c.opts.TriggerTimeout)
	if err != nil {
		metrics.SnapshotJobs.WithLabelValues(spec.Operation, "trigger_failed").Inc()
		return "", fmt.Errorf("trigger %s: %w", spec.Operation, err)
	}

	var resp struct {
		SnapshotID string `json:"snapshot_id"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", apperrors.NewInvalidPayloadError(triggerPath, http.StatusOK, err)
		}
	}
	if resp.SnapshotID == "" {
		metrics.SnapshotJobs.WithLabelValues(spec.Operation, "trigger_failed").Inc()
		return "", apperrors.NewJobFailedError("", "trigger response carried no snapshot_id")
	}

	now := time.Now().UTC()
	job := &Job{
		ID:        resp.SnapshotID,
		Operation: spec.Operation,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.mu.Lock()
	c.jobs[job.ID] = job
	c.mu.Unlock()
	c.record(ctx, *job)

	c.logger.Debug("snapshot triggered", map[string]interface{}{
		"snapshotId": job.ID,
		"operation":  spec.Operation,
		"inputs":     len(spec.Inputs),
	})
	return job.ID, nil
}

// PollUntilReady checks the job immediately and then every interval. It performs
// at most ceil(maxWait/interval) checks and returns within maxWait+interval.
// false means the job failed or the budget ran out; both are recoverable misses.
func (c *Client) PollUntilReady(ctx context.Context, jobID string, maxWait, interval time.Duration) bool {
	if interval <= 0 {
		interval = c.opts.PollInterval
	}
	if maxWait <= 0 {
		c.transition(ctx, jobID, StatusTimedOut, 0)
		return false
	}
	if !c.transition(ctx, jobID, StatusPolling, 0) {
		return false
	}

	maxChecks := int((maxWait + interval - 1) / interval)
	pollCtx, cancel := context.WithTimeout(ctx, maxWait+interval)
	defer cancel()

	start := time.Now()
	for k := 0; k < maxChecks; k++ {
		if k > 0 {
			timer := time.NewTimer(time.Until(start.Add(time.Duration(k) * interval)))
			select {
			case <-pollCtx.Done():
				timer.Stop()
				c.transition(ctx, jobID, StatusTimedOut, 0)
				return false
			case <-timer.C:
			}
		}

		status, err := c.checkStatus(pollCtx, jobID)
		c.addCheck(jobID)
		if err != nil {
			c.logger.Debug("snapshot status check failed", map[string]interface{}{
				"snapshotId": jobID,
				"check":      k + 1,
				"error":      err.Error(),
			})
			if pollCtx.Err() != nil {
				break
			}
			continue
		}

		switch status {
		case "ready":
			c.transition(ctx, jobID, StatusReady, time.Since(start))
			return true
		case "failed":
			c.transition(ctx, jobID, StatusFailed, time.Since(start))
			return false
		}
	}

	c.transition(ctx, jobID, StatusTimedOut, time.Since(start))
	c.logger.Info("snapshot not ready within budget", map[string]interface{}{
		"snapshotId": jobID,
		"maxWaitMs":  maxWait.Milliseconds(),
	})
	return false
}

func (c *Client) checkStatus(ctx context.Context, jobID string) (string, error) {
	raw, err := c.gw.Do(ctx, httpgw.Request{
		Method:   http.MethodGet,
		Endpoint: progressPath + url.PathEscape(jobID),
		Label:    "/datasets/v3/progress",
	}, c.opts.StatusTimeout)
	if err != nil {
		return "", err
	}

	var resp struct {
		Status string `json:"status"`
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", apperrors.NewInvalidPayloadError(progressPath, http.StatusOK, err)
		}
	}
	return resp.Status, nil
}

// Download fetches the job's records. It is only valid once the job is ready.
// An empty payload is a successful, empty result.
func (c *Client) Download(ctx context.Context, jobID string) (json.RawMessage, error) {
	job, ok := c.Status(jobID)
	if !ok {
		return nil, apperrors.NewJobFailedError(jobID, "unknown job")
	}
	if job.Status != StatusReady {
		return nil, apperrors.NewJobFailedError(jobID, fmt.Sprintf("download requires ready status, job is %s", job.Status))
	}

	raw, err := c.gw.Do(ctx, httpgw.Request{
		Method:   http.MethodGet,
		Endpoint: downloadPath + url.PathEscape(jobID),
		Query:    url.Values{"format": {"json"}},
		Label:    "/datasets/v3/snapshot",
	}, c.opts.DownloadTimeout)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", jobID, err)
	}
	return raw, nil
}

// Fetch runs trigger, poll and download under maxWait and forgets the job afterwards.
func (c *Client) Fetch(ctx context.Context, spec TriggerSpec, maxWait time.Duration) (json.RawMessage, error) {
	start := time.Now()
	jobID, err := c.Trigger(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer c.forget(jobID)

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < maxWait {
			maxWait = remaining
		}
	}

	if !c.PollUntilReady(ctx, jobID, maxWait, c.opts.PollInterval) {
		job, _ := c.Status(jobID)
		if job.Status == StatusFailed {
			return nil, apperrors.NewJobFailedError(jobID, "provider reported status failed")
		}
		return nil, apperrors.NewTimeoutError(spec.Operation, maxWait, ctx.Err())
	}

	raw, err := c.Download(ctx, jobID)
	if err != nil {
		return nil, err
	}

	c.logger.Info("snapshot fetched", map[string]interface{}{
		"snapshotId": jobID,
		"operation":  spec.Operation,
		"bytes":      len(raw),
		"durationMs": time.Since(start).Milliseconds(),
	})
	return raw, nil
}

// Status returns a copy of the job.
func (c *Client) Status(jobID string) (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	job, ok := c.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

func (c *Client) forget(jobID string) {
	c.mu.Lock()
	delete(c.jobs, jobID)
	c.mu.Unlock()
}

func (c *Client) addCheck(jobID string) {
	c.mu.Lock()
	job, ok := c.jobs[jobID]
	if ok {
		job.Checks++
	}
	c.mu.Unlock()
	if ok {
		metrics.SnapshotPolls.WithLabelValues(job.Operation).Inc()
	}
}

// transition applies a state change if the machine allows it. Terminal states
// are final: later calls are no-ops that return false.
func (c *Client) transition(ctx context.Context, jobID string, to JobStatus, elapsed time.Duration) bool {
	c.mu.Lock()
	job, ok := c.jobs[jobID]
	if !ok || !canTransition(job.Status, to) {
		c.mu.Unlock()
		return false
	}
	job.Status = to
	job.UpdatedAt = time.Now().UTC()
	snapshot := *job
	c.mu.Unlock()

	if to.Terminal() {
		metrics.SnapshotJobs.WithLabelValues(snapshot.Operation, string(to)).Inc()
		c.logger.Debug("snapshot settled", map[string]interface{}{
			"snapshotId": jobID,
			"status":     string(to),
			"checks":     snapshot.Checks,
			"elapsedMs":  elapsed.Milliseconds(),
		})
	}
	c.record(ctx, snapshot)
	return true
}

func (c *Client) record(ctx context.Context, job Job) {
	if c.opts.Recorder == nil {
		return
	}
	// the ledger must not inherit an expired poll budget
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := c.opts.Recorder.Record(rctx, job); err != nil {
		c.logger.Warn("snapshot ledger write failed", map[string]interface{}{
			"snapshotId": job.ID,
			"error":      err.Error(),
		})
	}
}
