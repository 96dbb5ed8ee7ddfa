// Command queued is the queue daemon: it owns the job table, the worker
// pool, the write-ahead log, and the Unix-domain socket clients talk to.
// It is normally launched in the background by queuectl or the
// queueclient library, not run interactively.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/brennhill/mcp-queue-daemon/internal/config"
	"github.com/brennhill/mcp-queue-daemon/internal/dispatcher"
	"github.com/brennhill/mcp-queue-daemon/internal/ratelimit"
	"github.com/brennhill/mcp-queue-daemon/internal/server"
	"github.com/brennhill/mcp-queue-daemon/internal/state"
	"github.com/brennhill/mcp-queue-daemon/internal/wal"
)

const version = "0.1.0"

func main() {
	var (
		background = flag.Bool("background", false, "run as a detached background daemon (set by queueclient's auto-start)")
		runtimeDir = flag.String("runtime-dir", "", "override the runtime directory (default ~/.cache/mcp-queue)")
		configPath = flag.String("config", "", "path to queue_config.yaml")
		showVer    = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Println("queued " + version)
		return
	}
	_ = background // consumed by the exec invocation in queueclient; no behavior differs here

	log, err := newLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "queued: logger init: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	if err := run(*runtimeDir, *configPath, log); err != nil {
		log.Errorw("fatal", "error", err)
		os.Exit(1)
	}
}

func newLogger() (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func run(runtimeDirOverride, configPath string, log *zap.SugaredLogger) error {
	if runtimeDirOverride != "" {
		os.Setenv(state.RuntimeDirEnv, runtimeDirOverride)
	}

	dir, err := state.EnsureRootDir()
	if err != nil {
		return err
	}
	log.Infow("runtime directory ready", "dir", dir)

	socketPath := state.SocketPath(dir)
	pidPath := state.PIDPath(dir)
	walPath := state.WALPath(dir)

	cleaned, err := state.RemoveStale(socketPath, pidPath)
	if err != nil {
		return err
	}
	if cleaned {
		log.Infow("cleaned up stale socket/pid from a previous crash")
	}

	if err := state.WritePIDFile(pidPath); err != nil {
		return fmt.Errorf("queued: write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	cfg, err := config.Load(configPath, "")
	if err != nil {
		return fmt.Errorf("queued: load config: %w", err)
	}
	log.Infow("configuration loaded",
		"max_concurrent", cfg.MaxConcurrent,
		"global_rate_per_min", cfg.GlobalRatePerMin,
		"global_burst", cfg.GlobalBurst,
		"job_timeout", cfg.JobTimeout,
	)

	w := wal.Open(walPath, log)
	if err := recoverWAL(w, log); err != nil {
		return fmt.Errorf("queued: wal recovery: %w", err)
	}

	globalLimiter := ratelimit.New(cfg.GlobalRatePerMin/60.0, float64(cfg.GlobalBurst))
	endpointLimiters := newEndpointLimiters(cfg.EndpointRates)

	disp := dispatcher.New(dispatcher.Config{
		MaxConcurrent:   cfg.MaxConcurrent,
		StartInterval:   durationFromSeconds(cfg.StartInterval),
		JobTimeout:      durationFromSeconds(cfg.JobTimeout),
		GlobalLimiter:   globalLimiter,
		EndpointLimiter: endpointLimiters.limiterFor,
	}, w, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	disp.Start(ctx)

	srv := server.New(server.Config{
		SocketPath:         socketPath,
		PIDPath:            pidPath,
		ClientIdleTimeout:  durationFromSeconds(cfg.ClientIdleTimeout),
		DefaultPollSeconds: cfg.PollInterval,
		JobTimeout:         durationFromSeconds(cfg.JobTimeout),
	}, disp, log)

	defer os.Remove(socketPath)

	log.Infow("daemon ready", "socket", socketPath, "pid", os.Getpid())
	if err := srv.ListenAndServe(ctx); err != nil {
		disp.Stop()
		return err
	}

	disp.Stop()
	log.Infow("shutdown complete")
	return nil
}

// recoverWAL scans the write-ahead log left by a previous run for jobs that
// never reached a terminal record (submitted or started, but neither
// completed nor failed) and logs them as lost across the restart, then
// clears the log. The dispatcher starts with an empty job table regardless
// — a restarted daemon does not re-enqueue work it cannot prove is safe to
// repeat, so these jobs are recorded as failed in spirit only, via the log
// line below, rather than resurrected into the new job table.
func recoverWAL(w *wal.WAL, log *zap.SugaredLogger) error {
	entries, err := w.ReadAll()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	terminal := make(map[string]bool)
	inFlight := make(map[string]bool)
	for _, e := range entries {
		switch e.Action {
		case wal.ActionSubmit, wal.ActionStart:
			inFlight[e.JobID] = true
		case wal.ActionComplete, wal.ActionFail:
			terminal[e.JobID] = true
			delete(inFlight, e.JobID)
		}
	}

	lost := 0
	for jobID := range inFlight {
		if !terminal[jobID] {
			log.Warnw("job state lost across restart", "job_id", jobID)
			lost++
		}
	}
	if lost > 0 {
		log.Infow("discarded orphaned jobs from previous run", "count", lost)
	}

	return w.Clear()
}

// endpointLimiters lazily creates one rate-limit bucket per endpoint named
// in the config's per-endpoint table, and nil for any endpoint not listed
// there (meaning only the global limiter applies).
type endpointLimiters struct {
	buckets map[string]*ratelimit.Bucket
}

func newEndpointLimiters(rates map[string]config.EndpointRate) *endpointLimiters {
	buckets := make(map[string]*ratelimit.Bucket, len(rates))
	for endpoint, r := range rates {
		buckets[endpoint] = ratelimit.New(r.RatePerMin/60.0, float64(r.Burst))
	}
	return &endpointLimiters{buckets: buckets}
}

func (e *endpointLimiters) limiterFor(endpoint string) *ratelimit.Bucket {
	return e.buckets[endpoint]
}

func durationFromSeconds(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
