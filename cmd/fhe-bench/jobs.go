package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/luxfi/fhebench"
	"github.com/luxfi/fhebench/internal/queue"
	"github.com/luxfi/fhebench/internal/storage"
)

func (a *app) openQueue() (*queue.RedisQueue, error) {
	return queue.NewRedisQueue(a.cfg.RedisQueueConfig(), a.cfg.Queue)
}

func newEnqueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a measurement job to the worker queue",
		Long: `Enqueue pushes a measurement job to Redis. A fhe-bench-worker pops it,
runs the measurement and stores the resulting snapshot. Unset job fields
fall back to the worker's configuration.`,
		Example: `  fhe-bench enqueue --bit-widths 32,64 --operations add,mul --hardware 1xEPYC`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := cmd.Flags()
			job := &queue.Job{
				ID:        uuid.NewString(),
				Status:    queue.StatusPending,
				CreatedAt: time.Now().UTC(),
			}
			// Only explicitly set flags go into the job.
			if fs.Changed("bit-widths") {
				job.BitWidths = a.cfg.Measure.BitWidths
			}
			if fs.Changed("operations") {
				job.Operations = a.cfg.Measure.Operations
			}
			if fs.Changed("iterations") {
				job.Iterations = a.cfg.Measure.Iterations
			}
			if fs.Changed("hardware") {
				job.Hardware = a.cfg.Measure.Hardware
			}
			job.UpdatedAt = job.CreatedAt

			q, err := a.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()
			if err := q.Push(cmd.Context(), job); err != nil {
				return fmt.Errorf("enqueue: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.ID)
			return nil
		},
	}

	fs := cmd.Flags()
	fs.Int("iterations", 0, "timed repetitions per kernel and width")
	fs.IntSlice("bit-widths", nil, "operand bit widths to measure")
	fs.StringSlice("operations", nil, "operations to measure")
	fs.String("hardware", "", "hardware descriptor recorded by the worker")
	fs.String("redis-addr", "", "Redis address")
	fs.Int("redis-db", 0, "Redis database number")
	fs.String("queue", "", "queue name")
	return cmd
}

func newJobCmd(a *app) *cobra.Command {
	var fetch string
	cmd := &cobra.Command{
		Use:   "job <id>",
		Short: "Show the status of a measurement job",
		Long: `Job prints the state of a queued job. With --fetch, the snapshot of a
completed job is copied from the worker storage directory to a file.`,
		Example: `  fhe-bench job 0b5c... --fetch nightly.fhb`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := a.openQueue()
			if err != nil {
				return err
			}
			defer q.Close()

			job, err := q.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if fetch == "" {
				return writeJSON(cmd.OutOrStdout(), job)
			}

			if job.Status != queue.StatusCompleted {
				return fmt.Errorf("job %s is %s, no snapshot to fetch", job.ID, job.Status)
			}
			store, err := storage.Open(a.cfg.Storage.Dir)
			if err != nil {
				return err
			}
			defer store.Close()
			reg, err := storage.LoadRegistry(cmd.Context(), store, storage.Handle(job.SnapshotHandle))
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return fmt.Errorf("snapshot %s is not in %s: %w", job.SnapshotHandle, a.cfg.Storage.Dir, err)
				}
				return err
			}
			if err := writeFile(fetch, reg, fhebench.Versioned); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", reg.Len(), fetch)
			return nil
		},
	}
	cmd.Flags().StringVar(&fetch, "fetch", "", "write the job's snapshot to this .csv or .fhb file")
	cmd.Flags().String("redis-addr", "", "Redis address")
	cmd.Flags().Int("redis-db", 0, "Redis database number")
	cmd.Flags().String("queue", "", "queue name")
	cmd.Flags().String("storage", "", "snapshot storage directory")
	return cmd
}
