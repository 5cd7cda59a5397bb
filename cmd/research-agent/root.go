package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"research-agent/internal/app"
	"research-agent/internal/common/config"
	"research-agent/internal/common/observability"
	"research-agent/internal/pipeline"
)

var version = "dev"

var (
	flagConfig  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:           "research-agent",
	Short:         "Answer questions from Google, Bing and Reddit",
	Long:          "research-agent searches Google, Bing and Reddit in parallel, reads the most relevant discussion threads and synthesizes one answer.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "log pipeline activity to stderr")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "research-agent %s\n", version)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session is what a command needs to run researches.
type session struct {
	cfg          *config.Config
	orchestrator *pipeline.Orchestrator
	obs          *observability.Observability
	close        func()
}

func loadConfig() (*config.Config, error) {
	if flagConfig != "" {
		return config.LoadFromFile(flagConfig)
	}
	return config.Load()
}

func newSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	// stdout belongs to the answers
	logCfg := cfg.Logging
	if logCfg.Output == "stdout" {
		logCfg.Output = "stderr"
	}
	if !flagVerbose && logCfg.Output != "file" {
		logCfg.Level = "error"
	}
	log := app.NewLogger(logCfg)

	var opts []observability.Option
	if flagVerbose {
		opts = append(opts, observability.WithSpanProcessor(observability.NewLogProcessor(log)))
	}
	obs := observability.New(cfg.Observability.ServiceName, opts...)

	redis, err := app.ConnectRedis(ctx, cfg.Database.Redis)
	if err != nil {
		log.Warn("redis unavailable, extraction job ledger disabled", map[string]interface{}{"error": err.Error()})
		redis = nil
	}

	o, err := app.NewOrchestrator(cfg, app.Deps{Obs: obs, Redis: redis}, log)
	if err != nil {
		obs.Shutdown()
		if redis != nil {
			_ = redis.Close()
		}
		return nil, err
	}

	return &session{
		cfg:          cfg,
		orchestrator: o,
		obs:          obs,
		close: func() {
			if redis != nil {
				_ = redis.Close()
			}
			obs.Shutdown()
		},
	}, nil
}
