package runner

import (
	"encoding/json"
	"sort"
	"strings"
)

// idKeys is the priority-ordered list of keys a submit response might carry
// the remote job id under; different upstream MCP servers use different
// naming conventions for the same concept.
var idKeys = []string{"request_id", "requestId", "session_id", "sessionId", "id", "job_id", "jobId"}

// ExtractRemoteID pulls the remote job id out of a submit response,
// checking top-level keys first and then falling back to any nested
// "content" list whose items carry a JSON-encoded "text" field (the MCP
// tool-result convention).
func ExtractRemoteID(result map[string]any) (string, bool) {
	if id, ok := findIDKey(result); ok {
		return id, true
	}

	content, _ := result["content"].([]any)
	for _, item := range content {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text, _ := obj["text"].(string)
		if text == "" {
			continue
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			continue
		}
		if id, ok := findIDKey(parsed); ok {
			return id, true
		}
	}
	return "", false
}

func findIDKey(m map[string]any) (string, bool) {
	for _, key := range idKeys {
		if v, ok := m[key]; ok {
			if s, ok := stringify(v); ok && s != "" {
				return s, true
			}
		}
	}
	return "", false
}

func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		// json numbers decode as float64; render without a decimal point
		// when the value is integral, matching Python's str(int) behavior.
		if t == float64(int64(t)) {
			return itoa(int64(t)), true
		}
	}
	return "", false
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// ParseStatusResponse extracts a normalized, lower-cased status string from
// a status-tool response, preferring a nested JSON-encoded "content[].text"
// payload over the top-level "status"/"state" field, matching upstream's
// own precedence (the nested payload is the more specific one).
func ParseStatusResponse(result map[string]any) (status string, detail map[string]any) {
	status = topLevelStatus(result)
	detail = result

	content, _ := result["content"].([]any)
	for _, item := range content {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text, _ := obj["text"].(string)
		if text == "" {
			continue
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(text), &parsed); err != nil {
			continue
		}
		nested := topLevelStatus(parsed)
		if nested != "unknown" {
			status = nested
		}
		return strings.ToLower(status), parsed
	}
	return strings.ToLower(status), detail
}

func topLevelStatus(m map[string]any) string {
	if s, ok := m["status"].(string); ok && s != "" {
		return s
	}
	if s, ok := m["state"].(string); ok && s != "" {
		return s
	}
	return "unknown"
}

// ExtractDownloadURLs walks result recursively — through maps, slices, and
// JSON-encoded strings — collecting every distinct http(s) URL it finds,
// in first-seen order. Slices are walked in index order and map keys in
// sorted order, so the result is deterministic. Upstream responses vary
// too much in shape to rely on a fixed key name.
func ExtractDownloadURLs(result any) []string {
	var urls []string
	seen := make(map[string]bool)
	walkForURLs(result, &urls, seen)
	return urls
}

func walkForURLs(v any, urls *[]string, seen map[string]bool) {
	switch t := v.(type) {
	case string:
		if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
			if !seen[t] {
				seen[t] = true
				*urls = append(*urls, t)
			}
			return
		}
		if strings.HasPrefix(t, "{") || strings.HasPrefix(t, "[") {
			var parsed any
			if err := json.Unmarshal([]byte(t), &parsed); err == nil {
				walkForURLs(parsed, urls, seen)
			}
		}
	case []any:
		for _, item := range t {
			walkForURLs(item, urls, seen)
		}
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkForURLs(t[k], urls, seen)
		}
	}
}
