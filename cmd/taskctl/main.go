// Command taskctl runs the orchestrator loop against its collaborators and
// exposes a health endpoint. The rollback directory and the notifier
// (webhook or no-op) are env-driven; the task store is always the in-memory
// reference store and no step executor is supplied, so the loop treats
// every step as succeeding. Swapping in durable backends for the reference
// in-memory/file ones does not touch the loop itself.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/swarmguard/taskctl/internal/audit"
	"github.com/swarmguard/taskctl/internal/core/logging"
	"github.com/swarmguard/taskctl/internal/core/otelinit"
	"github.com/swarmguard/taskctl/internal/learning"
	"github.com/swarmguard/taskctl/internal/orchestrator"
)

func main() {
	service := "taskctl"
	logging.Init(service)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTrace := otelinit.InitTracer(ctx, service)
	shutdownMetrics, _ := otelinit.InitMetrics(ctx, service)

	cfg := configFromEnv()

	auditPath := envOr("TASKCTL_AUDIT_LOG", "data/audit.log")
	auditLog, err := audit.Open(auditPath)
	if err != nil {
		slog.Error("open audit log", "error", err)
		os.Exit(1)
	}
	defer auditLog.Close()

	learningPath := envOr("TASKCTL_LEARNING_DB", "data/learning.db")
	learningStore, err := learning.Open(learningPath, cfg.LearningWindow)
	if err != nil {
		slog.Error("open learning store", "error", err)
		os.Exit(1)
	}
	defer learningStore.Close()

	taskStore := orchestrator.NewMemoryTaskStore()

	rollbackDir := envOr("TASKCTL_ROLLBACK_DIR", cfg.RollbackDir)
	cfg.RollbackDir = rollbackDir
	rollback, err := orchestrator.NewFileRollbackStore(rollbackDir, 24*time.Hour)
	if err != nil {
		slog.Error("open rollback store", "error", err)
		os.Exit(1)
	}

	var notifier orchestrator.Notifier = orchestrator.NoopNotifier{}
	if webhookURL := os.Getenv("TASKCTL_WEBHOOK_URL"); webhookURL != "" {
		notifier = orchestrator.NewWebhookNotifier(webhookURL, 5, 1, time.Minute, 20)
	}

	loop := orchestrator.New(cfg, auditLog, learningStore, taskStore, rollback, notifier,
		orchestrator.KeywordCredentialScanner{}, nil)

	if err := loop.Start(); err != nil {
		slog.Error("start orchestrator loop", "error", err)
		os.Exit(1)
	}
	defer loop.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: envOr("TASKCTL_ADDR", ":8080"), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	slog.Info("taskctl started")
	<-ctx.Done()
	slog.Info("shutdown initiated")

	ctxSd, cancelSd := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelSd()
	_ = srv.Shutdown(ctxSd)
	otelinit.Flush(ctxSd, shutdownTrace)
	_ = shutdownMetrics(ctxSd)
	slog.Info("shutdown complete")
}

func configFromEnv() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	if v := os.Getenv("TASKCTL_MAX_PARALLEL_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxParallelTasks = n
		}
	}
	if v := os.Getenv("TASKCTL_AUTO_EXECUTE_SIMPLE"); v != "" {
		cfg.AutoExecuteSimple = v == "1" || v == "true"
	}
	if v := os.Getenv("TASKCTL_AUTO_EXECUTE_COMPLEX"); v != "" {
		cfg.AutoExecuteComplex = v == "1" || v == "true"
	}
	if v := os.Getenv("TASKCTL_PLANS_DIR"); v != "" {
		cfg.PlansDir = v
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
