package dispatcher

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brennhill/mcp-queue-daemon/internal/job"
	"github.com/brennhill/mcp-queue-daemon/internal/ratelimit"
	"github.com/brennhill/mcp-queue-daemon/internal/wal"
)

func newTestDispatcher(t *testing.T, cfg Config) *Dispatcher {
	t.Helper()
	w := wal.Open(filepath.Join(t.TempDir(), "queue.wal"), nil)
	return New(cfg, w, zap.NewNop().Sugar())
}

func mockJob(id string, duration, pollSlice float64) *job.Job {
	return job.New(id, "mock://ok", "submit", map[string]any{
		"duration":           duration,
		"mock_poll_interval": pollSlice,
	}, "status", "result", 0)
}

func TestDispatcherHappyPathSingleJob(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, Config{MaxConcurrent: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	j := mockJob("job-1", 0.3, 0.1)
	require.NoError(t, d.Submit(j))

	select {
	case snap := <-d.Done():
		assert.Equal(t, "job-1", snap.JobID)
		assert.Equal(t, job.StateCompleted, snap.Status)
		assert.Equal(t, true, snap.Result["mock"])
	case <-time.After(3 * time.Second):
		t.Fatal("job never completed")
	}
}

func TestDispatcherConcurrencyCap(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, Config{MaxConcurrent: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Submit(mockJob(fmt.Sprintf("job-%d", i), 0.4, 0.1)))
	}

	time.Sleep(100 * time.Millisecond)
	counts, _ := d.Snapshot()
	assert.LessOrEqual(t, counts.Running, 2)

	deadline := time.After(2 * time.Second)
	completed := 0
	for completed < 3 {
		select {
		case <-d.Done():
			completed++
		case <-deadline:
			t.Fatalf("only %d/3 jobs completed", completed)
		}
	}
}

func TestDispatcherStartSpacing(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, Config{MaxConcurrent: 4, StartInterval: 150 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	jobs := []*job.Job{
		mockJob("a", 0.05, 0.05),
		mockJob("b", 0.05, 0.05),
		mockJob("c", 0.05, 0.05),
	}
	for _, j := range jobs {
		require.NoError(t, d.Submit(j))
	}

	var starts []float64
	for i := 0; i < 3; i++ {
		select {
		case <-d.Done():
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for completions")
		}
	}
	for _, j := range jobs {
		starts = append(starts, j.Snapshot().StartedAt)
	}

	assert.GreaterOrEqual(t, starts[1]-starts[0], 0.1)
	assert.GreaterOrEqual(t, starts[2]-starts[1], 0.1)
}

func TestDispatcherJobTimeout(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, Config{MaxConcurrent: 1, JobTimeout: 200 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	require.NoError(t, d.Submit(mockJob("slow", 5.0, 1.0)))

	select {
	case snap := <-d.Done():
		assert.Equal(t, job.StateFailed, snap.Status)
		assert.Contains(t, snap.Error, "timed out")
	case <-time.After(2 * time.Second):
		t.Fatal("job never timed out")
	}
}

func TestDispatcherGlobalRateLimiting(t *testing.T) {
	t.Parallel()

	bucket := ratelimit.New(6.0/60.0, 2) // rate_per_min=6, burst=2 -> per-sec rate
	d := newTestDispatcher(t, Config{MaxConcurrent: 4, GlobalLimiter: bucket})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	for i := 0; i < 2; i++ {
		require.NoError(t, d.Submit(mockJob(fmt.Sprintf("fast-%d", i), 0.01, 0.01)))
	}

	for i := 0; i < 2; i++ {
		select {
		case <-d.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("burst jobs never completed")
		}
	}
}
