package protocol

// SubmitJobMessage is the SubmitJob inbound payload (spec.md §6).
type SubmitJobMessage struct {
	JobID          string            `json:"job_id,omitempty"`
	Endpoint       string            `json:"endpoint"`
	SubmitTool     string            `json:"submit_tool"`
	SubmitArgs     map[string]any    `json:"submit_args"`
	StatusTool     string            `json:"status_tool"`
	ResultTool     string            `json:"result_tool"`
	Headers        map[string]string `json:"headers,omitempty"`
	IDParamName    string            `json:"id_param_name,omitempty"`
	PollInterval   float64           `json:"poll_interval,omitempty"`
	MaxPolls       int               `json:"max_polls,omitempty"`
	OutputDir      string            `json:"output_dir,omitempty"`
	OutputFile     string            `json:"output_file,omitempty"`
	AutoFilename   bool              `json:"auto_filename,omitempty"`
	SaveLogsToDir  bool              `json:"save_logs_to_dir,omitempty"`
	SaveLogsInline bool              `json:"save_logs_inline,omitempty"`
}

// JobAcceptedMessage is sent immediately after a SubmitJob is admitted to the queue.
type JobAcceptedMessage struct {
	JobID string `json:"job_id"`
}

// JobCompletedMessage is sent for both JobCompleted and JobFailed; Success
// discriminates, and exactly one of Result/Error is populated.
type JobCompletedMessage struct {
	JobID   string         `json:"job_id"`
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// JobSummary is one row of a StatusResponse's job list.
type JobSummary struct {
	JobID       string  `json:"job_id"`
	Status      string  `json:"status"`
	Endpoint    string  `json:"endpoint"`
	SubmitTool  string  `json:"submit_tool"`
	CreatedAt   float64 `json:"created_at"`
	StartedAt   float64 `json:"started_at,omitempty"`
	CompletedAt float64 `json:"completed_at,omitempty"`
}

// StatusResponseMessage answers a Status request with dispatcher counters
// and a point-in-time snapshot of every known job.
type StatusResponseMessage struct {
	Running   int          `json:"running"`
	Queued    int          `json:"queued"`
	Completed int          `json:"completed"`
	Failed    int          `json:"failed"`
	Jobs      []JobSummary `json:"jobs"`
}

// ErrorMessage reports a protocol-level or request-level error without
// closing the connection.
type ErrorMessage struct {
	Error string `json:"error"`
}
