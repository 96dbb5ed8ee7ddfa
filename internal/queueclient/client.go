// Package queueclient is the daemon's client library: connect (auto-
// starting the daemon if needed), submit a job and block for its terminal
// result, check status, and request shutdown.
package queueclient

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/brennhill/mcp-queue-daemon/internal/protocol"
	"github.com/brennhill/mcp-queue-daemon/internal/state"
)

// Options configures a Connect or SubmitAndWait call.
type Options struct {
	RuntimeDir string // empty means state.RootDir()'s default
	DaemonPath string // path to the queued binary, for auto-start
	ConfigPath string
	AutoStart  bool
}

func (o Options) runtimeDir() (string, error) {
	if o.RuntimeDir != "" {
		return o.RuntimeDir, nil
	}
	return state.RootDir()
}

// IsDaemonRunning reports whether a daemon appears to own the runtime
// directory's socket and PID file right now.
func IsDaemonRunning(opts Options) bool {
	dir, err := opts.runtimeDir()
	if err != nil {
		return false
	}
	pid := state.ReadPIDFile(state.PIDPath(dir))
	if pid == 0 {
		return false
	}
	if _, err := os.Stat(state.SocketPath(dir)); err != nil {
		return false
	}
	return state.IsProcessAlive(pid)
}

// StartDaemon launches the daemon binary as a detached background child
// if one is not already running, then polls for the socket to accept a
// Ping/Pong round-trip before returning.
func StartDaemon(opts Options) error {
	if IsDaemonRunning(opts) {
		return nil
	}
	if opts.DaemonPath == "" {
		return fmt.Errorf("queueclient: daemon path not configured, cannot auto-start")
	}

	args := []string{"--background"}
	if opts.RuntimeDir != "" {
		args = append(args, "--runtime-dir", opts.RuntimeDir)
	}
	if opts.ConfigPath != "" {
		args = append(args, "--config", opts.ConfigPath)
	}

	cmd := exec.Command(opts.DaemonPath, args...)
	cmd.Stdin = nil
	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err == nil {
		cmd.Stdout = devnull
		cmd.Stderr = devnull
	}
	detachChild(cmd)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("queueclient: start daemon: %w", err)
	}
	// The child is now independent of this process; do not Wait() on it.

	dir, err := opts.runtimeDir()
	if err != nil {
		return err
	}
	socketPath := state.SocketPath(dir)

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 30)
	return backoff.Retry(func() error {
		conn, err := net.DialTimeout("unix", socketPath, time.Second)
		if err != nil {
			return err
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(time.Second))
		if err := protocol.WriteMessage(conn, protocol.TypePing, nil); err != nil {
			return err
		}
		env, err := protocol.ReadEnvelope(conn)
		if err != nil {
			return err
		}
		if env.Type != protocol.TypePong {
			return fmt.Errorf("queueclient: unexpected reply %s while waiting for daemon", env.Type)
		}
		return nil
	}, b)
}

// Connect dials the daemon's socket, starting it first if AutoStart is set
// and it isn't already running.
func Connect(opts Options) (net.Conn, error) {
	if opts.AutoStart && !IsDaemonRunning(opts) {
		if err := StartDaemon(opts); err != nil {
			return nil, fmt.Errorf("queueclient: failed to start daemon: %w", err)
		}
	}

	dir, err := opts.runtimeDir()
	if err != nil {
		return nil, err
	}
	socketPath := state.SocketPath(dir)
	if _, err := os.Stat(socketPath); err != nil {
		return nil, fmt.Errorf("queueclient: socket not found: %s", socketPath)
	}

	conn, err := net.DialTimeout("unix", socketPath, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("queueclient: connect: %w", err)
	}
	return conn, nil
}

// GetStatus fetches the current queue status, without auto-starting the
// daemon (a nonexistent daemon simply has no status).
func GetStatus(opts Options) (*protocol.StatusResponseMessage, error) {
	opts.AutoStart = false
	conn, err := Connect(opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := protocol.WriteMessage(conn, protocol.TypeStatus, nil); err != nil {
		return nil, err
	}
	env, err := protocol.ReadEnvelope(conn)
	if err != nil {
		return nil, err
	}
	if env.Type != protocol.TypeStatusResponse {
		return nil, fmt.Errorf("queueclient: unexpected reply type %s", env.Type)
	}
	var status protocol.StatusResponseMessage
	if err := env.Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ShutdownDaemon requests a graceful shutdown and waits for the ack.
func ShutdownDaemon(opts Options) error {
	opts.AutoStart = false
	conn, err := Connect(opts)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := protocol.WriteMessage(conn, protocol.TypeShutdown, nil); err != nil {
		return err
	}
	env, err := protocol.ReadEnvelope(conn)
	if err != nil {
		return err
	}
	if env.Type != protocol.TypeShutdownAck {
		return fmt.Errorf("queueclient: unexpected reply type %s", env.Type)
	}
	return nil
}

// SubmitAndWaitRequest mirrors a SubmitJob payload for the blocking
// convenience call below.
type SubmitAndWaitRequest struct {
	Endpoint       string
	SubmitTool     string
	SubmitArgs     map[string]any
	StatusTool     string
	ResultTool     string
	Headers        map[string]string
	IDParamName    string
	PollInterval   float64
	MaxPolls       int
	OutputDir      string
	OutputFile     string
	AutoFilename   bool
	SaveLogsToDir  bool
	SaveLogsInline bool
}

// SubmitAndWait submits req to the daemon (auto-starting it if needed) and
// blocks until the job reaches a terminal state, returning its result map
// or an error describing the failure.
func SubmitAndWait(ctx context.Context, opts Options, req SubmitAndWaitRequest) (map[string]any, error) {
	opts.AutoStart = true
	conn, err := Connect(opts)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	jobID := uuid.NewString()
	msg := protocol.SubmitJobMessage{
		JobID:          jobID,
		Endpoint:       req.Endpoint,
		SubmitTool:     req.SubmitTool,
		SubmitArgs:     req.SubmitArgs,
		StatusTool:     req.StatusTool,
		ResultTool:     req.ResultTool,
		Headers:        req.Headers,
		IDParamName:    req.IDParamName,
		PollInterval:   req.PollInterval,
		MaxPolls:       req.MaxPolls,
		OutputDir:      req.OutputDir,
		OutputFile:     req.OutputFile,
		AutoFilename:   req.AutoFilename,
		SaveLogsToDir:  req.SaveLogsToDir,
		SaveLogsInline: req.SaveLogsInline,
	}
	if err := protocol.WriteMessage(conn, protocol.TypeSubmitJob, msg); err != nil {
		return nil, fmt.Errorf("queueclient: submit: %w", err)
	}

	env, err := protocol.ReadEnvelope(conn)
	if err != nil {
		return nil, fmt.Errorf("queueclient: waiting for acceptance: %w", err)
	}
	switch env.Type {
	case protocol.TypeError:
		var errMsg protocol.ErrorMessage
		_ = env.Decode(&errMsg)
		return nil, fmt.Errorf("queueclient: job submission error: %s", errMsg.Error)
	case protocol.TypeJobAccepted:
		// expected path
	default:
		return nil, fmt.Errorf("queueclient: unexpected response %s", env.Type)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		env, err := protocol.ReadEnvelope(conn)
		if err != nil {
			return nil, fmt.Errorf("queueclient: connection closed while waiting for job: %w", err)
		}
		switch env.Type {
		case protocol.TypeJobCompleted:
			var completed protocol.JobCompletedMessage
			if err := env.Decode(&completed); err != nil {
				return nil, err
			}
			if !completed.Success {
				return nil, fmt.Errorf("queueclient: job failed: %s", completed.Error)
			}
			return completed.Result, nil
		case protocol.TypeJobFailed:
			var failed protocol.JobCompletedMessage
			if err := env.Decode(&failed); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("queueclient: job failed: %s", failed.Error)
		case protocol.TypeError:
			var errMsg protocol.ErrorMessage
			_ = env.Decode(&errMsg)
			return nil, fmt.Errorf("queueclient: error: %s", errMsg.Error)
		}
	}
}
