// Package server implements the daemon's Unix-domain socket front end: one
// goroutine accepting connections, one goroutine per connection decoding
// framed messages, and a fan-in goroutine that turns dispatcher terminal
// notifications into JobCompleted/JobFailed deliveries on the right
// connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brennhill/mcp-queue-daemon/internal/dispatcher"
	"github.com/brennhill/mcp-queue-daemon/internal/job"
	"github.com/brennhill/mcp-queue-daemon/internal/protocol"
)

// Config configures the socket server.
type Config struct {
	SocketPath         string
	PIDPath            string
	ClientIdleTimeout  time.Duration
	DefaultPollSeconds float64
	JobTimeout         time.Duration
}

// Server owns the listener and the registry of in-flight connections
// awaiting a terminal notification for jobs they submitted.
type Server struct {
	cfg  Config
	disp *dispatcher.Dispatcher
	log  *zap.SugaredLogger

	listener net.Listener

	mu       sync.Mutex
	waiters  map[string]net.Conn // jobID -> connection awaiting its terminal notification
	shutdown chan struct{}
}

// New constructs a Server. Call ListenAndServe to start accepting
// connections.
func New(cfg Config, disp *dispatcher.Dispatcher, log *zap.SugaredLogger) *Server {
	return &Server{
		cfg:      cfg,
		disp:     disp,
		log:      log,
		waiters:  make(map[string]net.Conn),
		shutdown: make(chan struct{}),
	}
}

// ListenAndServe binds the Unix socket and serves connections until ctx is
// canceled or Shutdown is called. It blocks until the accept loop exits.
func (s *Server) ListenAndServe(ctx context.Context) error {
	l, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", s.cfg.SocketPath, err)
	}
	s.listener = l
	s.log.Infow("listening", "socket", s.cfg.SocketPath)

	go s.notifyLoop()

	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-s.shutdown:
				return nil
			default:
				return fmt.Errorf("server: accept: %w", err)
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// Shutdown stops the accept loop and closes the listener.
func (s *Server) Shutdown() {
	close(s.shutdown)
	if s.listener != nil {
		_ = s.listener.Close()
	}
}

// deliveryWriteTimeout bounds how long deliverTerminal will block writing to
// a single connection, so a delivery goroutine for a stalled client does
// not stay blocked indefinitely.
const deliveryWriteTimeout = 5 * time.Second

// notifyLoop drains the dispatcher's terminal-notification channel and
// delivers exactly one JobCompleted/JobFailed to whichever connection is
// still registered for that job id, if any. Delivery is best-effort: a
// closed or absent connection is simply dropped, matching the "at most
// once, no retry" contract a crashed client implies.
//
// Each delivery runs on its own goroutine rather than inline on this loop:
// notifyLoop must never block on one connection's write, since the
// dispatcher's done channel is shared by every in-flight job and a stalled
// reader must not delay notifications to anyone else (spec's back-pressure
// requirement that the socket server must not block the dispatcher).
func (s *Server) notifyLoop() {
	for snap := range s.disp.Done() {
		s.mu.Lock()
		conn, ok := s.waiters[snap.JobID]
		if ok {
			delete(s.waiters, snap.JobID)
		}
		s.mu.Unlock()
		if !ok {
			continue
		}
		go s.deliverTerminal(conn, snap)
	}
}

func (s *Server) deliverTerminal(conn net.Conn, snap job.Snapshot) {
	msgType := protocol.TypeJobCompleted
	success := snap.Status == job.StateCompleted
	if !success {
		msgType = protocol.TypeJobFailed
	}
	_ = conn.SetWriteDeadline(time.Now().Add(deliveryWriteTimeout))
	err := protocol.WriteMessage(conn, msgType, protocol.JobCompletedMessage{
		JobID:   snap.JobID,
		Success: success,
		Result:  snap.Result,
		Error:   snap.Error,
	})
	_ = conn.SetWriteDeadline(time.Time{})
	if err != nil {
		s.log.Debugw("failed to deliver terminal notification", "job_id", snap.JobID, "error", err)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	for {
		env, err := s.readEnvelope(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debugw("connection read error", "error", err)
			}
			return
		}

		switch env.Type {
		case protocol.TypePing:
			_ = protocol.WriteMessage(conn, protocol.TypePong, nil)

		case protocol.TypeSubmitJob:
			var msg protocol.SubmitJobMessage
			if err := env.Decode(&msg); err != nil {
				_ = protocol.WriteMessage(conn, protocol.TypeError, protocol.ErrorMessage{Error: "malformed submit_job"})
				continue
			}
			if err := s.handleSubmitJob(conn, msg); err != nil {
				_ = protocol.WriteMessage(conn, protocol.TypeError, protocol.ErrorMessage{Error: err.Error()})
			}

		case protocol.TypeStatus:
			counts, snaps := s.disp.Snapshot()
			resp := protocol.StatusResponseMessage{
				Running:   counts.Running,
				Queued:    counts.Queued,
				Completed: counts.Completed,
				Failed:    counts.Failed,
				Jobs:      toJobSummaries(snaps),
			}
			_ = protocol.WriteMessage(conn, protocol.TypeStatusResponse, resp)

		case protocol.TypeShutdown:
			_ = protocol.WriteMessage(conn, protocol.TypeShutdownAck, nil)
			s.Shutdown()
			return

		default:
			_ = protocol.WriteMessage(conn, protocol.TypeError, protocol.ErrorMessage{Error: "unknown message type: " + env.Type})
		}
	}
}

func (s *Server) readEnvelope(conn net.Conn) (protocol.Envelope, error) {
	if s.cfg.ClientIdleTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ClientIdleTimeout))
	}
	return protocol.ReadEnvelope(conn)
}

func (s *Server) handleSubmitJob(conn net.Conn, msg protocol.SubmitJobMessage) error {
	if msg.Endpoint == "" || msg.SubmitTool == "" || msg.StatusTool == "" || msg.ResultTool == "" {
		return fmt.Errorf("submit_job missing required field(s)")
	}

	jobID := msg.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	pollInterval := msg.PollInterval
	if pollInterval <= 0 {
		pollInterval = s.cfg.DefaultPollSeconds
	}
	maxPolls := msg.MaxPolls
	if maxPolls <= 0 {
		if pollInterval > 0 && s.cfg.JobTimeout > 0 {
			maxPolls = int(s.cfg.JobTimeout.Seconds() / pollInterval)
		} else {
			maxPolls = 300
		}
		if maxPolls < 1 {
			maxPolls = 1
		}
	}

	j := job.New(jobID, msg.Endpoint, msg.SubmitTool, msg.SubmitArgs, msg.StatusTool, msg.ResultTool, nowSeconds())
	j.Headers = msg.Headers
	if msg.IDParamName != "" {
		j.IDParamName = msg.IDParamName
	}
	j.PollInterval = pollInterval
	j.MaxPolls = maxPolls
	j.OutputDir = msg.OutputDir
	j.OutputFile = msg.OutputFile
	j.AutoFilename = msg.AutoFilename
	j.SaveLogsToDir = msg.SaveLogsToDir
	j.SaveLogsInline = msg.SaveLogsInline

	s.mu.Lock()
	s.waiters[jobID] = conn
	s.mu.Unlock()

	if err := s.disp.Submit(j); err != nil {
		s.mu.Lock()
		delete(s.waiters, jobID)
		s.mu.Unlock()
		return err
	}

	return protocol.WriteMessage(conn, protocol.TypeJobAccepted, protocol.JobAcceptedMessage{JobID: jobID})
}

func toJobSummaries(snaps []job.Snapshot) []protocol.JobSummary {
	out := make([]protocol.JobSummary, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, protocol.JobSummary{
			JobID:       s.JobID,
			Status:      string(s.Status),
			Endpoint:    s.Endpoint,
			SubmitTool:  s.SubmitTool,
			CreatedAt:   s.CreatedAt,
			StartedAt:   s.StartedAt,
			CompletedAt: s.CompletedAt,
		})
	}
	return out
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
