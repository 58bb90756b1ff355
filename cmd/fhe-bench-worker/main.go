// Command fhe-bench-worker runs measurement workers fed by a Redis queue.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luxfi/fhebench/internal/config"
	"github.com/luxfi/fhebench/internal/metrics"
	"github.com/luxfi/fhebench/internal/queue"
	"github.com/luxfi/fhebench/internal/storage"
	"github.com/luxfi/fhebench/internal/telemetry"
	"github.com/luxfi/fhebench/internal/worker"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("fhe-bench-worker", pflag.ContinueOnError)
	cfgFile := flags.String("config", "", "config file (default is ./fhebench.yaml)")
	flags.Int("workers", 0, "number of worker goroutines")
	flags.String("redis-addr", "", "Redis address")
	flags.Int("redis-db", 0, "Redis database number")
	flags.String("queue", "", "queue name")
	flags.String("storage", "", "snapshot storage directory")
	flags.String("metrics-addr", "", "metrics server address")
	flags.Int("iterations", 0, "default timed repetitions per kernel and width")
	flags.IntSlice("bit-widths", nil, "default operand bit widths")
	flags.String("hardware", "", "hardware descriptor recorded instead of the detected CPU")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("log-format", "", "log format: text or json")
	flags.String("log-file", "", "write logs to this file instead of stderr")
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(viper.New(), *cfgFile, flags)
	if err != nil {
		return err
	}
	closeLog, err := telemetry.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	if err != nil {
		return err
	}
	defer closeLog()

	slog.Info("FHE bench worker starting",
		"workers", cfg.Worker.Count,
		"redis", cfg.Redis.Addr,
		"queue", cfg.Queue,
		"storage", cfg.Storage.Dir,
		"metrics", cfg.Worker.MetricsAddr)

	q, err := queue.NewRedisQueue(cfg.RedisQueueConfig(), cfg.Queue)
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}
	defer q.Close()

	store, err := storage.Open(cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("create storage: %w", err)
	}
	defer store.Close()

	m := metrics.New()
	pool := worker.NewPool(worker.Config{
		NumWorkers: cfg.Worker.Count,
		Base:       cfg.MeasureConfig(),
	}, q, store, nil, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start workers: %w", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", m.Handler())

	server := &http.Server{
		Addr:    cfg.Worker.MetricsAddr,
		Handler: mux,
	}
	go func() {
		slog.Info("metrics server starting", "addr", cfg.Worker.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown error", "error", err)
	}
	if err := pool.Stop(); err != nil {
		slog.Warn("worker pool shutdown error", "error", err)
	}

	slog.Info("shutdown complete", "succeeded", pool.Succeeded(), "failed", pool.Failed())
	return nil
}
