package researchquestion

import (
	"context"
	"fmt"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	"research-agent/internal/common/config"
	"research-agent/internal/common/errors"
	"research-agent/internal/common/metrics"
	"research-agent/internal/models"
)

const TaskType = "research-question"

// sendTimeout bounds the complete/fail command sent after a research, on a
// context detached from the research deadline.
const sendTimeout = 10 * time.Second

// budgetSlack covers scheduling between waves on top of the research worst case.
const budgetSlack = 2 * time.Second

// Logger interface definition
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	With(fields map[string]interface{}) Logger
}

// Researcher answers one question.
type Researcher interface {
	Research(ctx context.Context, question string) (*models.Answer, error)
}

type Handler struct {
	config     *Config
	logger     Logger
	researcher Researcher
	errors     *errors.ErrorHandler
}

type HandlerOptions struct {
	AppConfig  *config.Config
	Researcher Researcher
	// ResearchBudget is the pipeline's worst-case duration. A configured
	// timeout that does not cover it is raised.
	ResearchBudget time.Duration
	CustomConfig   *Config
	Logger         Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	cfg := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", TaskType, err)
	}
	if opts.Researcher == nil {
		return nil, fmt.Errorf("%s: researcher is required", TaskType)
	}

	if opts.Logger == nil {
		return nil, fmt.Errorf("%s: logger is required", TaskType)
	}
	log := opts.Logger.With(map[string]interface{}{"taskType": TaskType})

	if floor := opts.ResearchBudget + budgetSlack; opts.ResearchBudget > 0 && floor > cfg.Timeout {
		log.Warn("worker timeout is below the research worst case, raising it", map[string]interface{}{
			"configuredMs": cfg.Timeout.Milliseconds(),
			"worstCaseMs":  opts.ResearchBudget.Milliseconds(),
		})
		raised := *cfg
		raised.Timeout = floor
		cfg = &raised
	}

	return &Handler{
		config:     cfg,
		logger:     log,
		researcher: opts.Researcher,
		errors:     errors.NewErrorHandler(log),
	}, nil
}

// Config exposes the effective worker settings for registration.
func (h *Handler) Config() *Config { return h.config }

// JobTimeout is how long the engine should lock an activated job: the
// research budget plus the time to report its outcome.
func (h *Handler) JobTimeout() time.Duration { return h.config.Timeout + sendTimeout }

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
	})

	input, err := h.parseInput(job)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	output, err := h.Execute(ctx, input)
	if err != nil {
		h.failJob(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, errors.NewInvalidQueryError("job variables are not a JSON object: " + err.Error())
	}

	result, err := inputSchema.ValidateInput(variables)
	if err != nil {
		return nil, errors.NewInvalidQueryError(err.Error())
	}
	if !result.Valid {
		return nil, errors.NewInvalidQueryError(result.Error())
	}

	return &Input{Question: variables["question"].(string)}, nil
}

// Execute runs the research. Only an invalid question or a failed synthesis
// return an error; source failures are already folded into the answer.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	answer, err := h.researcher.Research(ctx, input.Question)
	if err != nil {
		return nil, err
	}

	h.logger.Info("research completed", map[string]interface{}{
		"requestId":   answer.RequestID,
		"sources":     len(answer.Sources),
		"unavailable": len(answer.Unavailable),
	})

	return &Output{
		Answer:             answer.Text,
		Sources:            sourceNames(answer.Sources),
		UnavailableSources: sourceNames(answer.Unavailable),
		SelectedURLs:       answer.SelectedURLs,
		SelectionReason:    string(answer.Selection),
		RequestID:          answer.RequestID,
		DurationMs:         answer.Duration.Milliseconds(),
	}, nil
}

func sourceNames(ids []models.SourceID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, string(id))
	}
	return out
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	ctx, cancel := detached(ctx)
	defer cancel()

	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.GetKey()).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
		return
	}

	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("Failed to send complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
		})
	}
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(errors.CodeOf(err))).Inc()
	ctx, cancel := detached(ctx)
	defer cancel()
	h.errors.HandleJobError(ctx, client, job, err)
}

// detached keeps ctx's values but not its deadline: a research that used up
// the job budget must still be able to report its outcome.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
}
