package queueclient

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/brennhill/mcp-queue-daemon/internal/dispatcher"
	"github.com/brennhill/mcp-queue-daemon/internal/job"
	"github.com/brennhill/mcp-queue-daemon/internal/protocol"
	"github.com/brennhill/mcp-queue-daemon/internal/server"
	"github.com/brennhill/mcp-queue-daemon/internal/state"
	"github.com/brennhill/mcp-queue-daemon/internal/wal"
)

func startDaemonForTest(t *testing.T) (runtimeDir string, disp *dispatcher.Dispatcher, shutdown func()) {
	t.Helper()
	dir := t.TempDir()
	// A real daemon writes its PID file at startup; the client relies on it
	// to decide that a daemon is already running.
	require.NoError(t, state.WritePIDFile(state.PIDPath(dir)))

	w := wal.Open(filepath.Join(dir, "mcp-queue.wal"), nil)
	d := dispatcher.New(dispatcher.Config{MaxConcurrent: 4}, w, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)

	srv := server.New(server.Config{
		SocketPath:         filepath.Join(dir, "mcp-queue.sock"),
		DefaultPollSeconds: 0.1,
		JobTimeout:         10 * time.Second,
	}, d, zap.NewNop().Sugar())

	go func() { _ = srv.ListenAndServe(ctx) }()

	require.Eventually(t, func() bool {
		c, err := net.Dial("unix", filepath.Join(dir, "mcp-queue.sock"))
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 2*time.Second, 10*time.Millisecond)

	return dir, d, func() {
		cancel()
		d.Stop()
	}
}

func TestSubmitAndWaitHappyPath(t *testing.T) {
	t.Parallel()

	dir, _, shutdown := startDaemonForTest(t)
	defer shutdown()

	result, err := SubmitAndWait(context.Background(), Options{RuntimeDir: dir}, SubmitAndWaitRequest{
		Endpoint:   "mock://ok",
		SubmitTool: "submit",
		SubmitArgs: map[string]any{"duration": 0.2, "mock_poll_interval": 0.05},
		StatusTool: "status",
		ResultTool: "result",
	})
	require.NoError(t, err)
	assert.Equal(t, "completed", result["status"])
}

func TestGetStatusReflectsDaemonState(t *testing.T) {
	t.Parallel()

	dir, _, shutdown := startDaemonForTest(t)
	defer shutdown()

	status, err := GetStatus(Options{RuntimeDir: dir})
	require.NoError(t, err)
	assert.Zero(t, status.Running)
}

// TestClientReconnectDoesNotDisruptOtherJob covers the scenario where a
// client submits a job, drops its connection before the terminal
// notification arrives, and a second, independent client submits its own
// job on a fresh connection: the dropped connection must not disrupt the
// first job's progress in the dispatcher, nor the second job's completion.
func TestClientReconnectDoesNotDisruptOtherJob(t *testing.T) {
	dir, disp, shutdown := startDaemonForTest(t)
	defer shutdown()

	conn, err := Connect(Options{RuntimeDir: dir})
	require.NoError(t, err)

	const firstJobID = "reconnect-job"
	require.NoError(t, protocol.WriteMessage(conn, protocol.TypeSubmitJob, protocol.SubmitJobMessage{
		JobID:      firstJobID,
		Endpoint:   "mock://ok",
		SubmitTool: "submit",
		SubmitArgs: map[string]any{"duration": 0.3, "mock_poll_interval": 0.05},
		StatusTool: "status",
		ResultTool: "result",
	}))
	env, err := protocol.ReadEnvelope(conn)
	require.NoError(t, err)
	require.Equal(t, protocol.TypeJobAccepted, env.Type)

	// Drop the connection before the job's terminal notification can be
	// delivered; the dispatcher must keep running it to completion anyway.
	conn.Close()

	result, err := SubmitAndWait(context.Background(), Options{RuntimeDir: dir}, SubmitAndWaitRequest{
		Endpoint:   "mock://ok",
		SubmitTool: "submit",
		SubmitArgs: map[string]any{"duration": 0.1, "mock_poll_interval": 0.05},
		StatusTool: "status",
		ResultTool: "result",
	})
	require.NoError(t, err)
	assert.Equal(t, "completed", result["status"])

	require.Eventually(t, func() bool {
		j, ok := disp.Lookup(firstJobID)
		return ok && j.State() == job.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
}
