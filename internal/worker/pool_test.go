package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fhebench"
	"github.com/luxfi/fhebench/internal/metrics"
	"github.com/luxfi/fhebench/internal/queue"
	"github.com/luxfi/fhebench/internal/storage"
	"github.com/luxfi/fhebench/measure"
)

func fakeMeasure(ctx context.Context, cfg measure.Config) ([]fhebench.Record, error) {
	if cfg.Hardware == "broken" {
		return nil, errors.New("device lost")
	}
	var out []fhebench.Record
	for _, w := range cfg.BitWidths {
		out = append(out, fhebench.Record{
			Operation: "add",
			BitWidth:  w,
			Hardware:  cfg.Hardware,
			Mode:      fhebench.BothEncrypted,
			LatencyMs: float64(w) * 0.5,
		})
	}
	return out, nil
}

func waitStatus(t *testing.T, q queue.Queue, id string, want queue.JobStatus) *queue.Job {
	t.Helper()
	var job *queue.Job
	require.Eventually(t, func() bool {
		j, err := q.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = j
		return j.Status == want
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func TestPoolProcessesJobs(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue(8)
	s, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	m := metrics.New()

	base := measure.DefaultConfig()
	base.Hardware = "1xTest"
	pool := NewPool(Config{NumWorkers: 2, Base: base, RetryDelay: 10 * time.Millisecond}, q, s, fakeMeasure, m)
	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	require.NoError(t, q.Push(ctx, &queue.Job{ID: "ok", BitWidths: []int{8, 16}}))
	require.NoError(t, q.Push(ctx, &queue.Job{ID: "bad", Hardware: "broken"}))

	done := waitStatus(t, q, "ok", queue.StatusCompleted)
	assert.Equal(t, 2, done.Records)
	assert.Empty(t, done.Error)

	reg, err := storage.LoadRegistry(ctx, s, storage.Handle(done.SnapshotHandle))
	require.NoError(t, err)
	rec, err := reg.Query("add", 16, "1xTest", fhebench.BothEncrypted)
	require.NoError(t, err)
	assert.Equal(t, 8.0, rec.LatencyMs)

	failed := waitStatus(t, q, "bad", queue.StatusFailed)
	assert.Contains(t, failed.Error, "device lost")

	assert.Equal(t, int64(1), pool.Succeeded())
	assert.Equal(t, int64(1), pool.Failed())
}

func TestPoolStartStop(t *testing.T) {
	q := queue.NewMemoryQueue(1)
	s, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	pool := NewPool(Config{}, q, s, fakeMeasure, nil)

	require.NoError(t, pool.Stop(), "stopping an idle pool is a no-op")
	require.NoError(t, pool.Start(context.Background()))
	assert.Error(t, pool.Start(context.Background()))
	require.NoError(t, pool.Stop())
}

func TestJobConfigOverlay(t *testing.T) {
	base := measure.DefaultConfig()
	pool := NewPool(Config{Base: base}, nil, nil, fakeMeasure, nil)

	cfg := pool.jobConfig(&queue.Job{BitWidths: []int{4}, Iterations: 3, Operations: []string{"neg"}})
	assert.Equal(t, []int{4}, cfg.BitWidths)
	assert.Equal(t, 3, cfg.Iterations)
	assert.Equal(t, []string{"neg"}, cfg.Operations)
	assert.Equal(t, base.LogN, cfg.LogN)

	cfg = pool.jobConfig(&queue.Job{})
	assert.Equal(t, base.BitWidths, cfg.BitWidths)
	assert.Equal(t, base.Iterations, cfg.Iterations)
}
