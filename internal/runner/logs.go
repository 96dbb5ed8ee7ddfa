package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// jobLogs accumulates the request/response events for one job run, keyed
// by event name (submit_request, submit_response, status_final,
// result_response), in the order SaveLogs should write them.
type jobLogs struct {
	order   []string
	entries map[string]any
}

func newJobLogs() *jobLogs {
	return &jobLogs{entries: make(map[string]any)}
}

func (l *jobLogs) set(name string, data any) {
	if _, exists := l.entries[name]; !exists {
		l.order = append(l.order, name)
	}
	l.entries[name] = data
}

func saveLogFile(data any, path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// saveLogs writes l to disk per the saveToDir/saveInline flags and returns
// the paths written. saveInline is skipped if savedFilepath is empty —
// there is no artifact to name the log files after.
func (l *jobLogs) saveLogs(outputDir, savedFilepath string, saveToDir, saveInline bool) ([]string, error) {
	var paths []string

	if saveToDir {
		dir := outputDir
		if dir == "" {
			dir = "./output"
		}
		logsDir := filepath.Join(dir, "logs")
		for _, name := range l.order {
			p := filepath.Join(logsDir, name+".json")
			if err := saveLogFile(l.entries[name], p); err != nil {
				return paths, fmt.Errorf("runner: save log %s: %w", name, err)
			}
			paths = append(paths, p)
		}
	}

	if saveInline && savedFilepath != "" {
		ext := filepath.Ext(savedFilepath)
		base := savedFilepath[:len(savedFilepath)-len(ext)]
		for _, name := range l.order {
			p := fmt.Sprintf("%s_%s.json", base, name)
			if err := saveLogFile(l.entries[name], p); err != nil {
				return paths, fmt.Errorf("runner: save inline log %s: %w", name, err)
			}
			paths = append(paths, p)
		}
	}

	return paths, nil
}
