// Package dispatcher implements the daemon's job table, FIFO queue, and
// bounded worker pool: the component that turns an admitted SubmitJob into
// a running remote job and, eventually, a terminal notification.
//
// Concurrency model: the job table is a mutex-protected map (workers run
// as real goroutines, not cooperative tasks, so unlike the daemon's
// original single-threaded event loop this needs actual locking). Queueing
// is a buffered Go channel, which gives FIFO ordering for free. The pool
// of max_concurrent workers reads off that channel directly — bounding
// concurrency by worker count rather than a separate semaphore.
package dispatcher

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/brennhill/mcp-queue-daemon/internal/job"
	"github.com/brennhill/mcp-queue-daemon/internal/ratelimit"
	"github.com/brennhill/mcp-queue-daemon/internal/runner"
	"github.com/brennhill/mcp-queue-daemon/internal/wal"
)

// Config holds everything the dispatcher needs beyond its collaborators.
type Config struct {
	MaxConcurrent int
	StartInterval time.Duration
	JobTimeout    time.Duration

	GlobalLimiter   *ratelimit.Bucket
	EndpointLimiter func(endpoint string) *ratelimit.Bucket // nil means no per-endpoint limiting
}

// Dispatcher owns the job table and queue for one daemon instance.
type Dispatcher struct {
	cfg Config
	wal *wal.WAL
	log *zap.SugaredLogger
	now func() time.Time

	httpClient *http.Client

	mu             sync.RWMutex
	jobs           map[string]*job.Job
	completedCount int
	failedCount    int

	queue chan *job.Job
	done  chan job.Snapshot

	startGate startGate

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Dispatcher. Call Start to launch its worker pool.
func New(cfg Config, w *wal.WAL, log *zap.SugaredLogger) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	return &Dispatcher{
		cfg:        cfg,
		wal:        w,
		log:        log,
		now:        time.Now,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		jobs:       make(map[string]*job.Job),
		queue:      make(chan *job.Job, 4096),
		done:       make(chan job.Snapshot, 1024),
		startGate:  startGate{interval: cfg.StartInterval},
	}
}

// Done returns the channel on which terminal job snapshots are published,
// one per job, as soon as the job reaches Completed or Failed. The server
// layer drains this to deliver notifications to owning connections.
func (d *Dispatcher) Done() <-chan job.Snapshot {
	return d.done
}

// Start launches the worker pool, bound to ctx: cancelling ctx stops
// workers from picking up new jobs and aborts any in-flight job's remote
// call. Start returns immediately; call Stop to block for shutdown.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.MaxConcurrent; i++ {
		workerID := i
		g.Go(func() error {
			d.workerLoop(gctx, workerID)
			return nil
		})
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = g.Wait()
	}()
}

// Stop cancels the worker pool's context and waits for all workers to
// drain. Safe to call once; it does not close the queue, since Submit
// callers are expected to stop submitting before calling Stop.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// Submit registers j in the job table in StatePending and enqueues it for
// a worker. It appends the WAL submit record before returning so a crash
// immediately after Submit still leaves a durable trace.
func (d *Dispatcher) Submit(j *job.Job) error {
	d.mu.Lock()
	d.jobs[j.JobID] = j
	d.mu.Unlock()

	if err := d.wal.Append(wal.Entry{
		Action: wal.ActionSubmit,
		JobID:  j.JobID,
		Job:    submitSnapshot(j),
	}, nowSeconds(d.now)); err != nil {
		d.log.Warnw("wal append submit failed", "job_id", j.JobID, "error", err)
	}

	select {
	case d.queue <- j:
		return nil
	default:
		return fmt.Errorf("dispatcher: queue full, rejecting job %s", j.JobID)
	}
}

// Lookup returns the job with the given id, if known.
func (d *Dispatcher) Lookup(jobID string) (*job.Job, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	j, ok := d.jobs[jobID]
	return j, ok
}

// Counts summarizes the job table for a StatusResponse.
type Counts struct {
	Running   int
	Queued    int
	Completed int
	Failed    int
}

// Snapshot returns the current counters and a snapshot of every known job.
func (d *Dispatcher) Snapshot() (Counts, []job.Snapshot) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var c Counts
	c.Completed = d.completedCount
	c.Failed = d.failedCount

	snaps := make([]job.Snapshot, 0, len(d.jobs))
	for _, j := range d.jobs {
		snap := j.Snapshot()
		snaps = append(snaps, snap)
		switch snap.Status {
		case job.StateRunning:
			c.Running++
		case job.StatePending:
			c.Queued++
		}
	}
	return c, snaps
}

func (d *Dispatcher) workerLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-d.queue:
			if !ok {
				return
			}
			d.runJob(ctx, j)
		}
	}
}

func (d *Dispatcher) runJob(ctx context.Context, j *job.Job) {
	// Admission gates, in order: global rate, per-endpoint rate, start
	// spacing. Each gate is acquired and released independently; none is
	// held while waiting on another.
	if d.cfg.GlobalLimiter != nil {
		d.cfg.GlobalLimiter.Acquire()
	}
	if d.cfg.EndpointLimiter != nil {
		if b := d.cfg.EndpointLimiter(j.Endpoint); b != nil {
			b.Acquire()
		}
	}
	d.startGate.wait()

	startedAt := nowSeconds(d.now)
	if err := d.wal.Append(wal.Entry{Action: wal.ActionStart, JobID: j.JobID}, startedAt); err != nil {
		d.log.Warnw("wal append start failed", "job_id", j.JobID, "error", err)
	}
	if err := j.Transition(job.StateRunning, startedAt); err != nil {
		d.log.Errorw("invalid transition to running", "job_id", j.JobID, "error", err)
		return
	}

	jobCtx := ctx
	var cancel context.CancelFunc
	if d.cfg.JobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, d.cfg.JobTimeout)
		defer cancel()
	}

	result, err := runner.Run(jobCtx, d.httpClient, runner.Options{
		Endpoint:       j.Endpoint,
		SubmitTool:     j.SubmitTool,
		SubmitArgs:     j.SubmitArgs,
		StatusTool:     j.StatusTool,
		ResultTool:     j.ResultTool,
		Headers:        j.Headers,
		IDParamName:    j.IDParamName,
		PollInterval:   time.Duration(j.PollInterval * float64(time.Second)),
		MaxPolls:       j.MaxPolls,
		OutputDir:      j.OutputDir,
		OutputFile:     j.OutputFile,
		AutoFilename:   j.AutoFilename,
		SaveLogsToDir:  j.SaveLogsToDir,
		SaveLogsInline: j.SaveLogsInline,
	})

	completedAt := nowSeconds(d.now)
	if err != nil {
		errMsg := err.Error()
		if jobCtx.Err() == context.DeadlineExceeded {
			errMsg = fmt.Sprintf("job timed out after %s: %s", d.cfg.JobTimeout, errMsg)
		}
		d.finishFailed(j, errMsg, completedAt)
		return
	}
	resultMap := resultToMap(result)
	if strings.HasPrefix(j.Endpoint, "mock://") {
		// A mock job's synthetic fields (mock, poll_count) are also
		// surfaced at the top level of the result.
		for k, v := range result.RawResult {
			if _, taken := resultMap[k]; !taken {
				resultMap[k] = v
			}
		}
	}
	d.finishCompleted(j, resultMap, completedAt)
}

func (d *Dispatcher) finishCompleted(j *job.Job, result map[string]any, now float64) {
	if err := d.wal.Append(wal.Entry{
		Action: wal.ActionComplete,
		JobID:  j.JobID,
		Result: result,
	}, now); err != nil {
		d.log.Warnw("wal append complete failed", "job_id", j.JobID, "error", err)
	}
	if err := j.Complete(result, now); err != nil {
		d.log.Errorw("invalid transition to completed", "job_id", j.JobID, "error", err)
		return
	}
	d.mu.Lock()
	d.completedCount++
	d.mu.Unlock()
	d.publish(j)
}

func (d *Dispatcher) finishFailed(j *job.Job, errMsg string, now float64) {
	if err := d.wal.Append(wal.Entry{
		Action: wal.ActionFail,
		JobID:  j.JobID,
		Error:  errMsg,
	}, now); err != nil {
		d.log.Warnw("wal append fail failed", "job_id", j.JobID, "error", err)
	}
	if err := j.Fail(errMsg, now); err != nil {
		d.log.Errorw("invalid transition to failed", "job_id", j.JobID, "error", err)
		return
	}
	d.mu.Lock()
	d.failedCount++
	d.mu.Unlock()
	d.publish(j)
}

func (d *Dispatcher) publish(j *job.Job) {
	select {
	case d.done <- j.Snapshot():
	default:
		d.log.Warnw("done channel full, dropping terminal notification", "job_id", j.JobID)
	}
}

func resultToMap(r runner.Result) map[string]any {
	m := map[string]any{
		"request_id": r.RemoteID,
		"status":     r.Status,
	}
	if len(r.DownloadURLs) > 0 {
		m["download_urls"] = r.DownloadURLs
		m["download_url"] = r.DownloadURLs[0]
	}
	if len(r.SavedPaths) > 0 {
		m["saved_paths"] = r.SavedPaths
		m["saved_path"] = r.SavedPaths[0]
	}
	if len(r.LogPaths) > 0 {
		m["log_paths"] = r.LogPaths
	}
	if r.RawResult != nil {
		m["result"] = r.RawResult
	}
	if r.Note != "" {
		m["note"] = r.Note
	}
	return m
}

func submitSnapshot(j *job.Job) map[string]any {
	return map[string]any{
		"job_id":      j.JobID,
		"endpoint":    j.Endpoint,
		"submit_tool": j.SubmitTool,
	}
}

func nowSeconds(now func() time.Time) float64 {
	return float64(now().UnixNano()) / 1e9
}

// startGate enforces a minimum interval between any two consecutive job
// starts, serializing workers that finish their rate-limit wait at the
// same moment. Distinct from the rate-limit buckets: its mutex is held
// only across its own wait, never across a bucket's Acquire.
type startGate struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

func (g *startGate) wait() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.interval <= 0 {
		g.last = time.Now()
		return
	}
	if !g.last.IsZero() {
		elapsed := time.Since(g.last)
		if elapsed < g.interval {
			time.Sleep(g.interval - elapsed)
		}
	}
	g.last = time.Now()
}
