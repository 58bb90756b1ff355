// Package worker runs measurement jobs popped from a queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/luxfi/fhebench"
	"github.com/luxfi/fhebench/internal/metrics"
	"github.com/luxfi/fhebench/internal/queue"
	"github.com/luxfi/fhebench/internal/storage"
	"github.com/luxfi/fhebench/measure"
)

// MeasureFunc produces records for a measurement config.
type MeasureFunc func(ctx context.Context, cfg measure.Config) ([]fhebench.Record, error)

// Config holds worker pool settings.
type Config struct {
	NumWorkers int
	// Base supplies the lattice parameters and defaults that jobs override.
	Base measure.Config
	// ShutdownTimeout bounds Stop.
	ShutdownTimeout time.Duration
	// RetryDelay is the pause after a failed Pop.
	RetryDelay time.Duration
}

// Pool manages a pool of measurement workers.
type Pool struct {
	cfg     Config
	queue   queue.Queue
	storage storage.Storage
	measure MeasureFunc
	metrics *metrics.Metrics

	wg           sync.WaitGroup
	cancel       context.CancelFunc
	running      atomic.Bool
	successCount atomic.Int64
	failureCount atomic.Int64
}

// NewPool creates a pool. A nil measureFn defaults to measure.Run; m may be nil.
func NewPool(cfg Config, q queue.Queue, s storage.Storage, measureFn MeasureFunc, m *metrics.Metrics) *Pool {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if measureFn == nil {
		measureFn = measure.Run
	}
	return &Pool{
		cfg:     cfg,
		queue:   q,
		storage: s,
		measure: measureFn,
		metrics: m,
	}
}

// Succeeded returns the number of completed jobs.
func (p *Pool) Succeeded() int64 { return p.successCount.Load() }

// Failed returns the number of failed jobs.
func (p *Pool) Failed() int64 { return p.failureCount.Load() }

// Start starts the worker pool.
func (p *Pool) Start(ctx context.Context) error {
	if p.running.Load() {
		return errors.New("pool already running")
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.running.Store(true)

	slog.Info("starting workers", "count", p.cfg.NumWorkers)

	for i := 0; i < p.cfg.NumWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	return nil
}

// Stop gracefully stops the worker pool.
func (p *Pool) Stop() error {
	if !p.running.Load() {
		return nil
	}

	slog.Info("stopping worker pool")
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("worker pool stopped")
	case <-time.After(p.cfg.ShutdownTimeout):
		return errors.New("shutdown timeout")
	}

	p.running.Store(false)
	return nil
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := slog.With("worker", id)
	log.Debug("worker started")

	for {
		if ctx.Err() != nil {
			log.Debug("worker stopping")
			return
		}

		job, err := p.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			log.Warn("failed to pop job", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.RetryDelay):
			}
			continue
		}

		p.processJob(ctx, log, job)
	}
}

// jobConfig overlays job settings on the base measurement config.
func (p *Pool) jobConfig(job *queue.Job) measure.Config {
	cfg := p.cfg.Base
	if len(job.Operations) > 0 {
		cfg.Operations = job.Operations
	}
	if len(job.BitWidths) > 0 {
		cfg.BitWidths = job.BitWidths
	}
	if job.Iterations > 0 {
		cfg.Iterations = job.Iterations
	}
	if job.Hardware != "" {
		cfg.Hardware = job.Hardware
	}
	return cfg
}

func (p *Pool) processJob(ctx context.Context, log *slog.Logger, job *queue.Job) {
	log = log.With("job", job.ID)
	log.Info("processing job", "bit_widths", job.BitWidths, "operations", job.Operations)
	start := time.Now()

	job.Status = queue.StatusProcessing
	if err := p.queue.Update(ctx, job); err != nil {
		log.Warn("failed to update job status", "error", err)
	}

	handle, n, err := p.run(ctx, job)
	if err != nil {
		job.Status = queue.StatusFailed
		job.Error = err.Error()
		if uerr := p.queue.Update(context.WithoutCancel(ctx), job); uerr != nil {
			log.Warn("failed to record job failure", "error", uerr)
		}
		p.failureCount.Add(1)
		p.metrics.ObserveJob(queue.StatusFailed.String(), time.Since(start))
		log.Error("job failed", "error", err)
		return
	}

	job.Status = queue.StatusCompleted
	job.SnapshotHandle = string(handle)
	job.Records = n
	job.Error = ""
	if err := p.queue.Update(ctx, job); err != nil {
		log.Warn("failed to update job result", "error", err)
	}

	p.successCount.Add(1)
	p.metrics.ObserveJob(queue.StatusCompleted.String(), time.Since(start))
	log.Info("job completed", "snapshot", handle, "records", n, "elapsed", time.Since(start))
}

func (p *Pool) run(ctx context.Context, job *queue.Job) (storage.Handle, int, error) {
	records, err := p.measure(ctx, p.jobConfig(job))
	if err != nil {
		return "", 0, fmt.Errorf("measure: %w", err)
	}
	reg, err := fhebench.New(records)
	if err != nil {
		return "", 0, fmt.Errorf("build registry: %w", err)
	}
	handle, err := storage.StoreRegistry(ctx, p.storage, reg)
	if err != nil {
		return "", 0, fmt.Errorf("store snapshot: %w", err)
	}
	return handle, reg.Len(), nil
}
