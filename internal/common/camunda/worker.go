package camunda

import (
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"research-agent/internal/common/config"
)

// StartWorker opens a job worker for taskType. fetchVariables limits the
// variables activated with each job; none means all.
func (c *Client) StartWorker(taskType string, wcfg config.WorkerConfig, handler worker.JobHandler, fetchVariables ...string) worker.JobWorker {
	step := c.client.NewJobWorker().
		JobType(taskType).
		Handler(handler).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout))
	if len(fetchVariables) > 0 {
		step = step.FetchVariables(fetchVariables...)
	}
	jw := step.Open()

	c.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
	return jw
}
