// Package pipeline executes a compiled graph of stages with typed data
// dependencies. Stages in the same wave run concurrently through the fan-out
// executor; a wave starts only after every stage of the previous wave has
// produced its outputs or its fallback outputs.
package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	apperrors "research-agent/internal/common/errors"
	"research-agent/internal/common/logger"
	"research-agent/internal/common/metrics"
	"research-agent/internal/common/observability"
	"research-agent/internal/fanout"
)

const (
	OutcomeCompleted = "completed"
	OutcomeFallback  = "fallback"
	OutcomeFatal     = "fatal"
)

// Stage is one node. Run sees only its declared inputs and must set every
// declared output. A non-fatal stage that fails, panics or times out resolves
// to Fallback's outputs instead.
type Stage struct {
	Name     string
	Inputs   []AnyKey
	Outputs  []AnyKey
	After    []string // ordering-only predecessors
	Timeout  time.Duration
	Run      func(ctx context.Context, in View) (*Outputs, error)
	Fallback func(in View, err error) *Outputs
	Fatal    bool
}

// ProgressFunc is called as each stage settles.
type ProgressFunc func(stage string, done, total int)

// Graph is a validated stage list grouped into waves.
type Graph struct {
	seeds  []AnyKey
	stages map[string]*Stage
	waves  [][]*Stage
	total  int
}

// Compile validates the declarations and orders the stages. seeds are the keys
// supplied by the caller before execution.
func Compile(seeds []AnyKey, stages ...Stage) (*Graph, error) {
	g := &Graph{seeds: seeds, stages: make(map[string]*Stage, len(stages)), total: len(stages)}

	types := map[string]reflect.Type{}
	checkType := func(k AnyKey, where string) error {
		if k.Name() == "" {
			return apperrors.NewInvalidGraphError(where + " declares an unnamed key")
		}
		if t, ok := types[k.Name()]; ok && t != k.typeOf() {
			return apperrors.NewInvalidGraphError(fmt.Sprintf("key %q declared as %s and %s", k.Name(), t, k.typeOf()))
		}
		types[k.Name()] = k.typeOf()
		return nil
	}

	producer := map[string]string{}
	for _, k := range seeds {
		if err := checkType(k, "seed"); err != nil {
			return nil, err
		}
		producer[k.Name()] = ""
	}

	order := make([]string, 0, len(stages))
	for i := range stages {
		s := &stages[i]
		if s.Name == "" {
			return nil, apperrors.NewInvalidGraphError(fmt.Sprintf("stage %d has no name", i))
		}
		if _, dup := g.stages[s.Name]; dup {
			return nil, apperrors.NewInvalidGraphError(fmt.Sprintf("duplicate stage %q", s.Name))
		}
		if s.Run == nil {
			return nil, apperrors.NewInvalidGraphError(fmt.Sprintf("stage %q has no Run", s.Name))
		}
		if !s.Fatal && s.Fallback == nil {
			return nil, apperrors.NewInvalidGraphError(fmt.Sprintf("stage %q is not fatal and has no Fallback", s.Name))
		}
		for _, k := range s.Outputs {
			if err := checkType(k, "stage "+s.Name); err != nil {
				return nil, err
			}
			if prev, taken := producer[k.Name()]; taken {
				if prev == "" {
					return nil, apperrors.NewInvalidGraphError(fmt.Sprintf("stage %q overwrites seed %q", s.Name, k.Name()))
				}
				return nil, apperrors.NewInvalidGraphError(fmt.Sprintf("key %q produced by %q and %q", k.Name(), prev, s.Name))
			}
			producer[k.Name()] = s.Name
		}
		g.stages[s.Name] = s
		order = append(order, s.Name)
	}

	deps := make(map[string]map[string]struct{}, len(stages))
	for _, name := range order {
		s := g.stages[name]
		d := map[string]struct{}{}
		for _, k := range s.Inputs {
			if err := checkType(k, "stage "+name); err != nil {
				return nil, err
			}
			p, ok := producer[k.Name()]
			if !ok {
				return nil, apperrors.NewInvalidGraphError(fmt.Sprintf("stage %q input %q is never produced", name, k.Name()))
			}
			if p == name {
				return nil, apperrors.NewInvalidGraphError(fmt.Sprintf("stage %q consumes its own output %q", name, k.Name()))
			}
			if p != "" {
				d[p] = struct{}{}
			}
		}
		for _, a := range s.After {
			if _, ok := g.stages[a]; !ok {
				return nil, apperrors.NewInvalidGraphError(fmt.Sprintf("stage %q runs after unknown stage %q", name, a))
			}
			if a == name {
				return nil, apperrors.NewInvalidGraphError(fmt.Sprintf("stage %q runs after itself", name))
			}
			d[a] = struct{}{}
		}
		deps[name] = d
	}

	// Kahn layering; declaration order within a wave
	placed := map[string]struct{}{}
	for len(placed) < len(order) {
		var wave []*Stage
		for _, name := range order {
			if _, done := placed[name]; done {
				continue
			}
			ready := true
			for d := range deps[name] {
				if _, ok := placed[d]; !ok {
					ready = false
					break
				}
			}
			if ready {
				wave = append(wave, g.stages[name])
			}
		}
		if len(wave) == 0 {
			var stuck []string
			for _, name := range order {
				if _, done := placed[name]; !done {
					stuck = append(stuck, name)
				}
			}
			sort.Strings(stuck)
			return nil, apperrors.NewInvalidGraphError("cycle among stages " + strings.Join(stuck, ", "))
		}
		for _, s := range wave {
			placed[s.Name] = struct{}{}
		}
		g.waves = append(g.waves, wave)
	}

	return g, nil
}

// Waves returns the stage names per wave, for inspection.
func (g *Graph) Waves() [][]string {
	out := make([][]string, len(g.waves))
	for i, w := range g.waves {
		for _, s := range w {
			out[i] = append(out[i], s.Name)
		}
	}
	return out
}

// WorstCase is the longest Execute can take with the given per-wave floor:
// every wave runs to its deadline.
func (g *Graph) WorstCase(floor time.Duration) time.Duration {
	var total time.Duration
	for _, wave := range g.waves {
		total += waveDeadline(wave, floor)
	}
	return total
}

func waveDeadline(wave []*Stage, floor time.Duration) time.Duration {
	deadline := floor
	for _, s := range wave {
		if s.Timeout > deadline {
			deadline = s.Timeout
		}
	}
	return deadline
}

type ExecOptions struct {
	Workers  int
	Deadline time.Duration // per-wave floor; a wave also gets its longest stage timeout
	Logger   logger.Logger
	Obs      *observability.Observability
	Progress ProgressFunc
}

// StageReport describes how one stage settled.
type StageReport struct {
	Stage    string
	Outcome  string
	Err      error
	Duration time.Duration
}

// Execute runs every wave in order starting from seed. A fatal stage that does
// not complete aborts the run with a ResearchFailed error; nothing partial is
// returned in that case.
func (g *Graph) Execute(ctx context.Context, seed Context, opts ExecOptions) (Context, []StageReport, error) {
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOpLogger()
	}
	for _, k := range g.seeds {
		if !seed.Has(k.Name()) {
			return Context{}, nil, apperrors.NewInvalidGraphError(fmt.Sprintf("seed %q missing", k.Name()))
		}
	}

	state := seed
	reports := make([]StageReport, 0, g.total)
	for i, wave := range g.waves {
		if err := ctx.Err(); err != nil {
			return Context{}, reports, apperrors.NewResearchFailedError(wave[0].Name, err)
		}

		tasks := make([]fanout.Task[*Outputs], 0, len(wave))
		deadline := waveDeadline(wave, opts.Deadline)
		for _, s := range wave {
			tasks = append(tasks, fanout.Task[*Outputs]{
				ID:      s.Name,
				Timeout: s.Timeout,
				Run:     g.runner(s, state, opts.Obs),
			})
		}

		results, err := fanout.RunAll(ctx, tasks, fanout.Options{
			Workers:  opts.Workers,
			Deadline: deadline,
			Name:     fmt.Sprintf("wave_%d", i+1),
			Logger:   opts.Logger,
		})
		if err != nil {
			return Context{}, reports, apperrors.NewInvalidGraphError(err.Error())
		}

		added := map[string]interface{}{}
		for _, s := range wave {
			r := results[s.Name]
			report := StageReport{Stage: s.Name, Duration: r.Duration, Err: r.Err}

			out := r.Value
			switch {
			case r.OK():
				report.Outcome = OutcomeCompleted
			case s.Fatal:
				report.Outcome = OutcomeFatal
				g.observe(ctx, opts, report)
				reports = append(reports, report)
				opts.Logger.Error("fatal stage failed", map[string]interface{}{
					"stage":  s.Name,
					"status": string(r.Status),
					"error":  fmt.Sprint(r.Err),
				})
				return Context{}, reports, apperrors.NewResearchFailedError(s.Name, r.Err)
			default:
				report.Outcome = OutcomeFallback
				out = s.Fallback(newView(s, state), r.Err)
				if err := out.complete(); err != nil {
					return Context{}, reports, apperrors.NewInvalidGraphError("fallback: " + err.Error())
				}
			}

			for k, v := range out.values {
				added[k] = v
			}
			g.observe(ctx, opts, report)
			reports = append(reports, report)
			if opts.Progress != nil {
				opts.Progress(s.Name, len(reports), g.total)
			}
		}
		state = state.merge(added)
	}
	return state, reports, nil
}

func (g *Graph) runner(s *Stage, state Context, obs *observability.Observability) func(context.Context) (*Outputs, error) {
	return func(ctx context.Context) (out *Outputs, err error) {
		ctx, span := obs.StartSpan(ctx, "stage."+s.Name, attribute.String("stage", s.Name))
		defer func() { observability.EndSpan(span, err) }()

		out, err = s.Run(ctx, newView(s, state))
		if err != nil {
			return nil, err
		}
		if err := out.complete(); err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (g *Graph) observe(ctx context.Context, opts ExecOptions, r StageReport) {
	metrics.StageDuration.WithLabelValues(r.Stage).Observe(r.Duration.Seconds())
	metrics.StageOutcomes.WithLabelValues(r.Stage, r.Outcome).Inc()
	opts.Obs.RecordStage(ctx, r.Stage, r.Outcome, r.Duration)
	if r.Outcome == OutcomeFallback {
		opts.Logger.Warn("stage degraded to fallback", map[string]interface{}{
			"stage":      r.Stage,
			"error":      fmt.Sprint(r.Err),
			"durationMs": r.Duration.Milliseconds(),
		})
	}
}
