// Package app wires configuration into a ready research orchestrator. Both the
// CLI and the workflow worker build their pipeline here.
package app

import (
	"context"
	"fmt"

	"research-agent/internal/common/config"
	"research-agent/internal/common/database"
	httpgw "research-agent/internal/common/http"
	"research-agent/internal/common/llm"
	"research-agent/internal/common/logger"
	"research-agent/internal/common/observability"
	"research-agent/internal/pipeline"
	"research-agent/internal/ranking"
	"research-agent/internal/snapshot"
	"research-agent/internal/sources"
)

// Deps are the optional shared resources of a process.
type Deps struct {
	Obs      *observability.Observability
	Redis    *database.RedisClient // nil disables the extraction job ledger
	Progress pipeline.ProgressFunc
}

// NewOrchestrator builds every adapter from cfg and compiles the research graph.
func NewOrchestrator(cfg *config.Config, deps Deps, log logger.Logger) (*pipeline.Orchestrator, error) {
	bd := cfg.APIs.BrightData
	gw := httpgw.NewClient(httpgw.Config{
		BaseURL: bd.BaseURL,
		APIKey:  bd.APIKey,
		Timeout: config.GetDuration(bd.Timeout),
	}, log.With(map[string]interface{}{"component": "brightdata"}))

	snapOpts := snapshot.Options{PollInterval: config.GetDuration(cfg.Pipeline.PollInterval)}
	if deps.Redis != nil {
		snapOpts.Recorder = snapshot.NewRedisLedger(deps.Redis, config.GetDuration(cfg.Database.Redis.LedgerTTL))
	}
	snap := snapshot.NewClient(gw, snapOpts, log)

	capability, err := llm.NewFromConfig(cfg.APIs.GenAI, log)
	if err != nil {
		return nil, fmt.Errorf("language model: %w", err)
	}

	return pipeline.NewOrchestrator(pipeline.Dependencies{
		Google:     sources.NewGoogleAdapter(gw, bd.Zone, log),
		Bing:       sources.NewBingAdapter(gw, bd.Zone, log),
		Reddit:     sources.NewDiscussionAdapter(snap, bd.DiscussionDataset, log),
		Posts:      sources.NewPostRetriever(snap, bd.PostsDataset, log),
		Selector:   ranking.NewSelector(capability, cfg.Pipeline.MaxSelectedURLs, log),
		Capability: capability,
	}, pipeline.Options{
		Budgets:       Budgets(cfg.Pipeline),
		Workers:       cfg.Pipeline.Workers,
		BatchDeadline: config.GetDuration(cfg.Pipeline.BatchDeadline),
		Obs:           deps.Obs,
		Progress:      deps.Progress,
	}, log)
}

// Budgets maps the millisecond settings onto stage budgets.
func Budgets(p config.PipelineConfig) pipeline.Budgets {
	return pipeline.Budgets{
		Search:     config.GetDuration(p.SearchTimeout),
		Discussion: config.GetDuration(p.DiscussionTimeout),
		Selection:  config.GetDuration(p.SelectionTimeout),
		Retrieval:  config.GetDuration(p.RetrievalTimeout),
		Analysis:   config.GetDuration(p.AnalysisTimeout),
		Synthesis:  config.GetDuration(p.SynthesisTimeout),
	}
}

// ConnectRedis opens the ledger connection when an address is configured. A
// nil client with a nil error means the ledger is disabled.
func ConnectRedis(ctx context.Context, cfg config.RedisConfig) (*database.RedisClient, error) {
	if cfg.Address == "" {
		return nil, nil
	}
	rc, err := database.NewRedis(cfg)
	if err != nil {
		return nil, err
	}
	if err := rc.Ping(ctx); err != nil {
		_ = rc.Close()
		return nil, err
	}
	return rc, nil
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig) logger.Logger {
	return logger.NewZapAdapter(logger.Build(logger.Options{
		Level:  cfg.Level,
		Format: cfg.Format,
		Output: cfg.Output,
		File: logger.FileOptions{
			Path:       cfg.File.Path,
			MaxSizeMB:  cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAgeDays: cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		},
	}))
}
