// Package job defines the Job record the dispatcher tracks from submission
// through a terminal state, and the strict state machine governing it.
package job

import (
	"fmt"
	"sync"
)

// State is a job's lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// validTransitions enumerates the only state changes Transition permits.
var validTransitions = map[State][]State{
	StatePending: {StateRunning, StateFailed},
	StateRunning: {StateCompleted, StateFailed},
}

// Job is one unit of work submitted to the queue: the parameters needed to
// drive a remote MCP job to completion, plus the bookkeeping the dispatcher
// and status endpoint need while it's in flight.
type Job struct {
	mu sync.RWMutex

	JobID      string
	Endpoint   string
	SubmitTool string
	SubmitArgs map[string]any
	StatusTool string
	ResultTool string

	Headers        map[string]string
	IDParamName    string
	PollInterval   float64
	MaxPolls       int
	OutputDir      string
	OutputFile     string
	AutoFilename   bool
	SaveLogsToDir  bool
	SaveLogsInline bool

	// SessionID holds an MCP session id for diagnostics. The dispatcher
	// does not set it from the runner's session, and it is not written to
	// the WAL.
	SessionID string
	// CorrelationID is a free-form id for correlating log lines; nothing in
	// this module sets or logs it.
	CorrelationID string

	state       State
	createdAt   float64
	startedAt   float64
	completedAt float64
	result      map[string]any
	errMsg      string
}

// New returns a Job in StatePending with CreatedAt set to now.
func New(jobID, endpoint, submitTool string, submitArgs map[string]any, statusTool, resultTool string, now float64) *Job {
	return &Job{
		JobID:        jobID,
		Endpoint:     endpoint,
		SubmitTool:   submitTool,
		SubmitArgs:   submitArgs,
		StatusTool:   statusTool,
		ResultTool:   resultTool,
		IDParamName:  "request_id",
		PollInterval: 30.0,
		MaxPolls:     300,
		state:        StatePending,
		createdAt:    now,
	}
}

// State returns the job's current state.
func (j *Job) State() State {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.state
}

// Transition moves the job to next, recording the timestamp now.
// It rejects any transition not present in validTransitions — notably,
// a job can never leave a terminal state.
func (j *Job) Transition(next State, now float64) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	allowed := validTransitions[j.state]
	ok := false
	for _, s := range allowed {
		if s == next {
			ok = true
			break
		}
	}
	if !ok {
		return fmt.Errorf("job %s: invalid transition %s -> %s", j.JobID, j.state, next)
	}

	j.state = next
	switch next {
	case StateRunning:
		j.startedAt = now
	case StateCompleted, StateFailed:
		j.completedAt = now
	}
	return nil
}

// Complete transitions the job to StateCompleted and stores result.
func (j *Job) Complete(result map[string]any, now float64) error {
	if err := j.Transition(StateCompleted, now); err != nil {
		return err
	}
	j.mu.Lock()
	j.result = result
	j.mu.Unlock()
	return nil
}

// Fail transitions the job to StateFailed and stores errMsg.
func (j *Job) Fail(errMsg string, now float64) error {
	if err := j.Transition(StateFailed, now); err != nil {
		return err
	}
	j.mu.Lock()
	j.errMsg = errMsg
	j.mu.Unlock()
	return nil
}

// Snapshot is a read-only, serialization-friendly view of a Job at one
// instant, safe to hand to the WAL or a status response after the Job
// itself has moved on.
type Snapshot struct {
	JobID       string
	Endpoint    string
	SubmitTool  string
	Status      State
	CreatedAt   float64
	StartedAt   float64
	CompletedAt float64
	Result      map[string]any
	Error       string
}

// Snapshot takes a consistent point-in-time copy of the job's visible state.
func (j *Job) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Snapshot{
		JobID:       j.JobID,
		Endpoint:    j.Endpoint,
		SubmitTool:  j.SubmitTool,
		Status:      j.state,
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
		Result:      j.result,
		Error:       j.errMsg,
	}
}
