package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractRemoteIDTopLevelKeys(t *testing.T) {
	t.Parallel()

	cases := []string{"request_id", "session_id", "id", "job_id", "jobId", "requestId", "sessionId"}
	for _, key := range cases {
		result := map[string]any{key: "abc-123"}
		id, ok := ExtractRemoteID(result)
		require.True(t, ok, "key %s", key)
		assert.Equal(t, "abc-123", id)
	}
}

func TestExtractRemoteIDFromNestedContentText(t *testing.T) {
	t.Parallel()

	result := map[string]any{
		"content": []any{
			map[string]any{"text": `{"request_id": "nested-id"}`},
		},
	}
	id, ok := ExtractRemoteID(result)
	require.True(t, ok)
	assert.Equal(t, "nested-id", id)
}

func TestExtractRemoteIDMissingReturnsFalse(t *testing.T) {
	t.Parallel()

	_, ok := ExtractRemoteID(map[string]any{"foo": "bar"})
	assert.False(t, ok)
}

func TestExtractDownloadURLsDeduplicatesAndPreservesOrder(t *testing.T) {
	t.Parallel()

	result := map[string]any{
		"a": "https://example.com/1.png",
		"b": []any{"https://example.com/2.png", "https://example.com/1.png"},
		"c": map[string]any{"d": "https://example.com/3.png"},
	}
	urls := ExtractDownloadURLs(result)
	assert.Equal(t, []string{
		"https://example.com/1.png",
		"https://example.com/2.png",
		"https://example.com/3.png",
	}, urls)
}

func TestExtractDownloadURLsWalksJSONEncodedStrings(t *testing.T) {
	t.Parallel()

	result := map[string]any{
		"payload": `{"nested": ["https://example.com/a.mp4"]}`,
	}
	urls := ExtractDownloadURLs(result)
	assert.Equal(t, []string{"https://example.com/a.mp4"}, urls)
}

func TestParseStatusResponsePrefersNestedContent(t *testing.T) {
	t.Parallel()

	result := map[string]any{
		"status": "PENDING",
		"content": []any{
			map[string]any{"text": `{"status": "COMPLETED"}`},
		},
	}
	status, detail := ParseStatusResponse(result)
	assert.Equal(t, "completed", status)
	assert.Equal(t, "COMPLETED", detail["status"])
}

func TestParseStatusResponseFallsBackToTopLevel(t *testing.T) {
	t.Parallel()

	status, _ := ParseStatusResponse(map[string]any{"state": "Running"})
	assert.Equal(t, "running", status)
}
