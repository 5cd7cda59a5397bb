package pipeline

import (
	"context"
	stderrors "errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "research-agent/internal/common/errors"
	"research-agent/internal/common/llm"
	"research-agent/internal/common/logger"
	"research-agent/internal/common/metrics"
	"research-agent/internal/common/observability"
	"research-agent/internal/fanout"
	"research-agent/internal/models"
	"research-agent/internal/ranking"
	"research-agent/internal/sources"
)

// Dependencies are the collaborators of one Orchestrator.
type Dependencies struct {
	Google     sources.Adapter
	Bing       sources.Adapter
	Reddit     sources.Adapter
	Posts      PostFetcher
	Selector   *ranking.Selector
	Capability llm.Capability
}

type Options struct {
	Budgets       Budgets
	Workers       int
	BatchDeadline time.Duration
	Obs           *observability.Observability
	Progress      ProgressFunc
}

// Orchestrator answers questions by running the research graph. It holds no
// per-request state and is safe for concurrent use.
type Orchestrator struct {
	graph  *Graph
	opts   Options
	logger logger.Logger
}

func NewOrchestrator(deps Dependencies, opts Options, log logger.Logger) (*Orchestrator, error) {
	if opts.Workers <= 0 {
		opts.Workers = fanout.DefaultWorkers
	}
	if opts.BatchDeadline <= 0 {
		opts.BatchDeadline = fanout.DefaultDeadline
	}
	if opts.Budgets == (Budgets{}) {
		opts.Budgets = DefaultBudgets()
	}

	graph, err := Compile([]AnyKey{KeyQuery}, ResearchStages(
		deps.Google, deps.Bing, deps.Reddit, deps.Posts, deps.Selector, deps.Capability, opts.Budgets,
	)...)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		graph:  graph,
		opts:   opts,
		logger: log.With(map[string]interface{}{"component": "orchestrator"}),
	}, nil
}

// WorstCase bounds the duration of one research, independent of provider latency.
func (o *Orchestrator) WorstCase() time.Duration {
	return o.graph.WorstCase(o.opts.BatchDeadline)
}

// Research runs one question end to end. The only errors are an invalid
// question and a failed synthesis; every other failure degrades the answer.
func (o *Orchestrator) Research(ctx context.Context, question string) (*models.Answer, error) {
	return o.ResearchWithProgress(ctx, question, o.opts.Progress)
}

// ResearchWithProgress is Research with a per-call progress observer.
func (o *Orchestrator) ResearchWithProgress(ctx context.Context, question string, progress ProgressFunc) (answer *models.Answer, err error) {
	start := time.Now()
	q := models.Query(strings.TrimSpace(question))
	requestID := uuid.New().String()
	log := o.logger.With(map[string]interface{}{"requestId": requestID})

	ctx, span := o.opts.Obs.StartSpan(ctx, "research", attribute.String("request.id", requestID))
	defer func() {
		status := "success"
		if err != nil {
			status = "failed"
		}
		metrics.ResearchRuns.WithLabelValues(status).Inc()
		o.opts.Obs.RecordResearch(ctx, status, time.Since(start))
		observability.EndSpan(span, err)
	}()

	if err := q.Validate(); err != nil {
		return nil, err
	}

	log.Info("research started", map[string]interface{}{"questionLength": len(q)})

	state, reports, err := o.graph.Execute(ctx, With(NewContext(), KeyQuery, q), ExecOptions{
		Workers:  o.opts.Workers,
		Deadline: o.opts.BatchDeadline,
		Logger:   log,
		Obs:      o.opts.Obs,
		Progress: progress,
	})
	if err != nil {
		log.Error("research failed", map[string]interface{}{
			"error":      err.Error(),
			"durationMs": time.Since(start).Milliseconds(),
		})
		return nil, err
	}

	answer = buildAnswer(state, requestID, q, time.Since(start))
	fallbacks := 0
	for _, r := range reports {
		if r.Outcome == OutcomeFallback {
			fallbacks++
		}
	}
	log.Info("research completed", map[string]interface{}{
		"sources":     len(answer.Sources),
		"unavailable": len(answer.Unavailable),
		"selected":    len(answer.SelectedURLs),
		"fallbacks":   fallbacks,
		"durationMs":  answer.Duration.Milliseconds(),
	})
	return answer, nil
}

func buildAnswer(state Context, requestID string, q models.Query, elapsed time.Duration) *models.Answer {
	text, _ := Lookup(state, KeyAnswer)
	selection, _ := Lookup(state, KeySelection)

	answer := &models.Answer{
		RequestID:    requestID,
		Question:     q.String(),
		Text:         text,
		Sources:      []models.SourceID{},
		Unavailable:  []models.SourceID{},
		SelectedURLs: selection.URLs,
		Selection:    selection.Reason,
		Duration:     elapsed,
		CreatedAt:    time.Now().UTC(),
	}
	if answer.SelectedURLs == nil {
		answer.SelectedURLs = []string{}
	}
	for _, k := range []Key[models.AnalysisResult]{KeyGoogleAnalysis, KeyBingAnalysis, KeyRedditAnalysis} {
		a, _ := Lookup(state, k)
		answer.Analyses = append(answer.Analyses, a)
		if a.Available {
			answer.Sources = append(answer.Sources, a.Source)
		} else {
			answer.Unavailable = append(answer.Unavailable, a.Source)
		}
	}
	return answer
}

// Apology is the user-facing message for a failed research.
func Apology(err error) string {
	cause := err
	var se *apperrors.StandardError
	if stderrors.As(err, &se) && se.Code == apperrors.ErrCodeResearchFailed && se.Cause != nil {
		cause = se.Cause
	}
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return "I apologize, but I encountered an error while researching your question: " + msg
}
