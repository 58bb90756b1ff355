// Command fhe-bench-server serves a benchmark registry over HTTP.
//
// Run next to dashboards and CI jobs:
//
//	fhe-bench-server --source benchmarks.fhb --http-addr :8449
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/luxfi/fhebench"
	"github.com/luxfi/fhebench/internal/config"
	"github.com/luxfi/fhebench/internal/metrics"
	"github.com/luxfi/fhebench/internal/queue"
	"github.com/luxfi/fhebench/internal/sqlstore"
	"github.com/luxfi/fhebench/internal/telemetry"
	"github.com/luxfi/fhebench/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("fhe-bench-server", pflag.ContinueOnError)
	cfgFile := flags.String("config", "", "config file (default is ./fhebench.yaml)")
	flags.String("source", "", "registry source: .csv file or .fhb snapshot")
	flags.String("db", "", "SQLite database used instead of --source")
	flags.String("http-addr", "", "HTTP server address")
	flags.Bool("jobs", false, "accept measurement jobs and queue them in Redis")
	flags.String("redis-addr", "", "Redis address used by --jobs")
	flags.Int("redis-db", 0, "Redis database number")
	flags.String("queue", "", "queue name")
	flags.Uint64("size-limit", 0, "maximum snapshot body size in bytes")
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

	reg, source, err := loadRegistry(cfg)
	if err != nil {
		return err
	}
	slog.Info("FHE bench server starting",
		"addr", cfg.HTTP.Addr,
		"source", source,
		"records", reg.Len(),
		"operations", len(reg.Operations()),
		"hardware", reg.Hardware())

	scfg := server.Config{Address: cfg.HTTP.Addr, Source: source}
	if cfg.HTTP.Jobs {
		q, err := queue.NewRedisQueue(cfg.RedisQueueConfig(), cfg.Queue)
		if err != nil {
			return fmt.Errorf("create queue: %w", err)
		}
		defer q.Close()
		scfg.Jobs = q
		slog.Info("job API enabled", "redis", cfg.Redis.Addr, "queue", cfg.Queue)
	}

	m := metrics.New()
	srv := server.New(reg, scfg, m)

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// loadRegistry reads the database when one is configured, the source file
// otherwise.
func loadRegistry(cfg *config.Config) (*fhebench.Registry, string, error) {
	if cfg.DB != "" {
		store, err := sqlstore.Open(cfg.DB)
		if err != nil {
			return nil, "", err
		}
		defer store.Close()
		reg, err := store.Registry(context.Background())
		return reg, cfg.DB, err
	}

	f, err := os.Open(cfg.Source)
	if err != nil {
		return nil, "", fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	var reg *fhebench.Registry
	if isSnapshot(cfg.Source) {
		reg, err = fhebench.SafeDeserialize(f, cfg.DeserializationConfig())
	} else {
		reg, err = fhebench.Load(f)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", cfg.Source, err)
	}
	return reg, cfg.Source, nil
}

func isSnapshot(path string) bool {
	return strings.EqualFold(filepath.Ext(path), fhebench.SnapshotExt)
}
