// Package wal implements the daemon's write-ahead log: an append-only
// JSON-lines file recording job lifecycle events (submit, start, complete,
// fail) so a crashed daemon can tell which jobs were in flight.
//
// The log is advisory, not transactional: a torn write at the tail (the
// process died mid-write) is tolerated by skipping unparsable lines rather
// than failing recovery outright.
package wal

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"

	"go.uber.org/zap"
)

// Action names recorded in the Action field of an Entry.
const (
	ActionSubmit   = "submit"
	ActionStart    = "start"
	ActionComplete = "complete"
	ActionFail     = "fail"
)

// Entry is one WAL record. Job and Result are only populated for the
// actions that carry them (Job on submit, Result on complete, Error on
// fail); omitted fields are left as their zero value on disk.
type Entry struct {
	Action    string         `json:"action"`
	JobID     string         `json:"job_id"`
	Timestamp float64        `json:"timestamp"`
	Job       map[string]any `json:"job,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// WAL is a process-local handle on the write-ahead log file. All methods
// are safe for concurrent use.
type WAL struct {
	mu   sync.Mutex
	path string
	log  *zap.SugaredLogger
}

// Open returns a handle to the WAL at path. The file is created lazily on
// first Append; Open itself does not touch the filesystem.
func Open(path string, log *zap.SugaredLogger) *WAL {
	return &WAL{path: path, log: log}
}

// Append adds entry to the log, stamping Timestamp with now. Appends are
// serialized by the WAL's mutex and written with O_APPEND, so concurrent
// appenders (every dispatcher worker and the submit path) cannot
// interleave partial lines.
func (w *WAL) Append(entry Entry, now float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry.Timestamp = now
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(line)
	return err
}

// Clear removes the WAL file, normally called after recovery has
// extracted everything useful from it. A missing file is not an error.
func (w *WAL) Clear() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := os.Remove(w.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ReadAll returns every parsable entry in file order. A missing file
// yields an empty slice, not an error. Lines that fail to parse as JSON
// are logged and skipped rather than aborting recovery.
func (w *WAL) ReadAll() ([]Entry, error) {
	f, err := os.Open(w.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			if w.log != nil {
				w.log.Warnw("skipping invalid WAL entry", "error", err)
			}
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, err
	}
	return entries, nil
}
