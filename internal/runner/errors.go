package runner

import "errors"

// ErrNoRemoteID is returned when a submit response does not contain any of
// the recognized job-id keys.
var ErrNoRemoteID = errors.New("runner: could not extract job id from submit response")

// ErrRemoteFailed is returned when the remote endpoint reports a failed
// status (one of the configured failure status strings).
var ErrRemoteFailed = errors.New("runner: remote job reported failure")

// ErrPollTimeout is returned when MaxPolls is exhausted without reaching a
// completed or failed status.
var ErrPollTimeout = errors.New("runner: job did not complete within max polls")
