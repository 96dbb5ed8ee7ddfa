package runner

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// defaultCompletedStatuses and defaultFailedStatuses are matched
// case-insensitively against whatever the status tool reports.
var (
	defaultCompletedStatuses = []string{"completed", "done", "success", "finished", "ready"}
	defaultFailedStatuses    = []string{"failed", "error", "cancelled", "timeout"}
)

// Options configures a single job run, mirroring the SubmitJob message
// fields the dispatcher hands the runner.
type Options struct {
	Endpoint     string
	SubmitTool   string
	SubmitArgs   map[string]any
	StatusTool   string
	ResultTool   string
	Headers      map[string]string
	IDParamName  string
	PollInterval time.Duration
	MaxPolls     int

	OutputDir      string
	OutputFile     string
	AutoFilename   bool
	SaveLogsToDir  bool
	SaveLogsInline bool
}

// Result is what a successful Run returns. The dispatcher turns it into the
// JobCompleted message's Result map, using the same keys as the JSON tags
// below plus download_url and saved_path aliases for the first entries.
type Result struct {
	RemoteID     string         `json:"request_id"`
	Status       string         `json:"status"`
	DownloadURLs []string       `json:"download_urls,omitempty"`
	SavedPaths   []string       `json:"saved_paths,omitempty"`
	LogPaths     []string       `json:"log_paths,omitempty"`
	RawResult    map[string]any `json:"result,omitempty"`
	Note         string         `json:"note,omitempty"`
}

// Run drives one job end to end: submit, poll until a terminal status,
// fetch the result, download every discovered artifact, and optionally
// persist request/response logs. Run never panics on upstream failure; it
// returns a wrapped ErrRemoteFailed/ErrPollTimeout/ErrNoRemoteID instead,
// so callers can classify the failure kind per the daemon's error
// taxonomy.
func Run(ctx context.Context, httpClient *http.Client, opts Options) (Result, error) {
	if strings.HasPrefix(opts.Endpoint, "mock://") {
		return runMock(ctx, opts)
	}

	idParam := opts.IDParamName
	if idParam == "" {
		idParam = "request_id"
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}
	maxPolls := opts.MaxPolls
	if maxPolls <= 0 {
		maxPolls = 300
	}

	client := NewClient(opts.Endpoint, opts.Headers, httpClient)
	logs := newJobLogs()

	logs.set("submit_request", map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"tool":      opts.SubmitTool,
		"arguments": opts.SubmitArgs,
	})
	submitResp, err := client.CallTool(ctx, opts.SubmitTool, opts.SubmitArgs)
	if err != nil {
		return Result{}, err
	}
	remoteID, ok := ExtractRemoteID(submitResp)
	if !ok {
		return Result{}, fmt.Errorf("%w: %v", ErrNoRemoteID, submitResp)
	}
	logs.set("submit_response", map[string]any{
		"timestamp":  time.Now().Format(time.RFC3339),
		"tool":       opts.SubmitTool,
		"request_id": remoteID,
	})

	status := "pending"
	var statusDetail map[string]any
	pollCount := 0
	for pollCount < maxPolls {
		pollCount++
		statusResp, err := client.CallTool(ctx, opts.StatusTool, map[string]any{idParam: remoteID})
		if err != nil {
			return Result{}, err
		}
		status, statusDetail = ParseStatusResponse(statusResp)

		if isOneOf(status, defaultCompletedStatuses) {
			break
		}
		if isOneOf(status, defaultFailedStatuses) {
			return Result{}, fmt.Errorf("%w: status=%s detail=%v", ErrRemoteFailed, status, statusDetail)
		}

		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	if pollCount >= maxPolls && !isOneOf(status, defaultCompletedStatuses) {
		return Result{}, fmt.Errorf("%w (%d polls)", ErrPollTimeout, maxPolls)
	}
	logs.set("status_final", map[string]any{
		"timestamp":  time.Now().Format(time.RFC3339),
		"tool":       opts.StatusTool,
		"poll_count": pollCount,
		"status":     status,
		"response":   statusDetail,
	})

	resultResp, err := client.CallTool(ctx, opts.ResultTool, map[string]any{idParam: remoteID})
	if err != nil {
		return Result{}, err
	}
	logs.set("result_response", map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"tool":      opts.ResultTool,
		"response":  resultResp,
	})

	downloadURLs := ExtractDownloadURLs(resultResp)
	if len(downloadURLs) == 0 {
		downloadURLs = ExtractDownloadURLs(statusDetail)
	}

	if len(downloadURLs) == 0 {
		var logPaths []string
		if opts.SaveLogsToDir || opts.SaveLogsInline {
			logPaths, _ = logs.saveLogs(opts.OutputDir, "", opts.SaveLogsToDir, false)
		}
		return Result{
			RemoteID:  remoteID,
			Status:    status,
			RawResult: resultResp,
			Note:      "No download URL found in result",
			LogPaths:  logPaths,
		}, nil
	}

	savedPaths := make([]string, 0, len(downloadURLs))
	for i, u := range downloadURLs {
		currentOutputFile := opts.OutputFile
		if opts.OutputFile != "" && len(downloadURLs) > 1 {
			ext := extOf(opts.OutputFile)
			base := opts.OutputFile[:len(opts.OutputFile)-len(ext)]
			currentOutputFile = fmt.Sprintf("%s_%d%s", base, i+1, ext)
		}
		saved, err := downloadFile(ctx, httpClient, downloadOptions{
			URL:          u,
			OutputDir:    opts.OutputDir,
			OutputFile:   currentOutputFile,
			RemoteID:     remoteID,
			AutoFilename: opts.AutoFilename,
		})
		if err != nil {
			return Result{}, err
		}
		savedPaths = append(savedPaths, saved)
	}

	var logPaths []string
	if opts.SaveLogsToDir || opts.SaveLogsInline {
		first := ""
		if len(savedPaths) > 0 {
			first = savedPaths[0]
		}
		logPaths, _ = logs.saveLogs(opts.OutputDir, first, opts.SaveLogsToDir, opts.SaveLogsInline)
	}

	return Result{
		RemoteID:     remoteID,
		Status:       status,
		DownloadURLs: downloadURLs,
		SavedPaths:   savedPaths,
		LogPaths:     logPaths,
	}, nil
}

func isOneOf(s string, set []string) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[i:]
		}
		if path[i] == '/' {
			break
		}
	}
	return ""
}

// runMock satisfies a mock:// endpoint without any network I/O, per
// spec: sleep for submit_args.duration seconds in
// submit_args.mock_poll_interval slices, then return a synthetic
// completed result carrying the poll count reached.
func runMock(ctx context.Context, opts Options) (Result, error) {
	duration := floatArg(opts.SubmitArgs, "duration", 1.0)
	sliceSeconds := floatArg(opts.SubmitArgs, "mock_poll_interval", 1.0)
	if sliceSeconds <= 0 {
		sliceSeconds = 1.0
	}

	slice := time.Duration(sliceSeconds * float64(time.Second))
	remaining := time.Duration(duration * float64(time.Second))

	pollCount := 0
	for remaining > 0 {
		step := slice
		if step > remaining {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(step):
		}
		remaining -= step
		pollCount++
	}

	shouldFail := strings.Contains(opts.Endpoint, "fail")
	if shouldFail {
		return Result{}, fmt.Errorf("%w: mock endpoint configured to fail", ErrRemoteFailed)
	}

	return Result{
		RemoteID: "mock-job",
		Status:   "completed",
		RawResult: map[string]any{
			"mock":       true,
			"poll_count": pollCount,
		},
	}, nil
}

func floatArg(args map[string]any, key string, def float64) float64 {
	v, ok := args[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	}
	return def
}
