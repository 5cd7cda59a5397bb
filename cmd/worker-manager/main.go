// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"research-agent/internal/app"
	"research-agent/internal/common/camunda"
	"research-agent/internal/common/config"
	"research-agent/internal/common/database"
	"research-agent/internal/common/logger"
	"research-agent/internal/common/observability"
	"research-agent/pkg/registry"

	rq "research-agent/internal/workers/ai-conversation/research-question"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log logger.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName), map[string]interface{}{
				"error":         err.Error(),
				"attempt":       i + 1,
				"maxRetries":    maxRetries,
				"nextRetryInMs": delay.Milliseconds(),
			})
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func fatal(log logger.Logger, msg string, err error) {
	log.Error(msg, map[string]interface{}{"error": err.Error()})
	os.Exit(1)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	log := app.NewLogger(cfg.Logging)
	log.Info("Starting worker manager...", map[string]interface{}{
		"environment": cfg.App.Environment,
		"version":     cfg.App.Version,
	})

	if err := config.ValidateCamunda(cfg); err != nil {
		fatal(log, "invalid camunda configuration", err)
	}

	obs := observability.New(cfg.Observability.ServiceName,
		observability.WithSpanProcessor(observability.NewLogProcessor(log)))
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init Zeebe Client ---
	zeebe, err := camunda.Connect(ctx, cfg.Camunda, camunda.DefaultRetryConfig, log)
	if err != nil {
		fatal(log, "zeebe client failed after retries", err)
	}
	defer zeebe.Close()

	// --- Init Redis job ledger (optional) ---
	var redis *database.RedisClient
	if cfg.Database.Redis.Address != "" {
		err = retryWithBackoff(func() error {
			var err error
			redis, err = app.ConnectRedis(ctx, cfg.Database.Redis)
			return err
		}, 10, 2*time.Second, log, "Redis connection")
		if err != nil {
			fatal(log, "redis failed after retries", err)
		}
		defer redis.Close()
		log.Info("Redis connected successfully", nil)
	} else {
		log.Info("Redis address not set, extraction job ledger disabled", nil)
	}

	orchestrator, err := app.NewOrchestrator(cfg, app.Deps{Obs: obs, Redis: redis}, log)
	if err != nil {
		fatal(log, "failed to build research pipeline", err)
	}

	// --- Register workers ---
	handler, err := rq.NewHandler(rq.HandlerOptions{
		AppConfig:      cfg,
		Researcher:     orchestrator,
		ResearchBudget: orchestrator.WorstCase(),
		Logger:         &researchQuestionLoggerAdapter{log},
	})
	if err != nil {
		fatal(log, "failed to create research-question handler", err)
	}
	activities := registry.New(cfg.App.Version)
	activity, err := handler.Activity()
	if err != nil {
		fatal(log, "failed to describe research-question activity", err)
	}
	if err := activities.Register(activity); err != nil {
		fatal(log, "failed to register research-question activity", err)
	}

	wcfg := config.GetWorkerConfig(cfg, rq.TaskType)
	if wcfg.Enabled {
		jw := zeebe.StartWorker(rq.TaskType, config.WorkerConfig{
			Enabled:       true,
			MaxJobsActive: handler.Config().MaxJobsActive,
			Timeout:       int(handler.JobTimeout().Milliseconds()),
		}, handler.Handle, "question")
		defer jw.Close()
	} else {
		log.Info("worker disabled", map[string]interface{}{"taskType": rq.TaskType})
	}

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "healthy", nil)
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"zeebe": "ok"}
		status := http.StatusOK
		if err := zeebe.HealthCheck(r.Context()); err != nil {
			checks["zeebe"] = err.Error()
			status = http.StatusServiceUnavailable
		}
		if redis != nil {
			checks["redis"] = "ok"
			if err := redis.Ping(r.Context()); err != nil {
				checks["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		label := "ready"
		if status != http.StatusOK {
			label = "not_ready"
		}
		writeStatus(w, status, label, checks)
	})
	mux.HandleFunc("/activities", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(activities.Snapshot())
	})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/pprof/", http.DefaultServeMux)

	addr := fmt.Sprintf(":%d", cfg.Observability.MetricsPort)
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("Health/Metrics server listening", map[string]interface{}{"addr": addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Health/Metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	log.Info("Shutdown signal received, stopping workers...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Error stopping Health/Metrics server", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Worker manager stopped gracefully", nil)
}

// researchQuestionLoggerAdapter satisfies the worker's own Logger interface.
type researchQuestionLoggerAdapter struct {
	logger.Logger
}

func (a *researchQuestionLoggerAdapter) With(fields map[string]interface{}) rq.Logger {
	return &researchQuestionLoggerAdapter{a.Logger.With(fields)}
}

func writeStatus(w http.ResponseWriter, code int, status string, checks map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body := map[string]interface{}{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	}
	if checks != nil {
		body["checks"] = checks
	}
	_ = json.NewEncoder(w).Encode(body)
}
