package runner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMockHappyPath(t *testing.T) {
	t.Parallel()

	start := time.Now()
	result, err := Run(context.Background(), nil, Options{
		Endpoint: "mock://ok",
		SubmitArgs: map[string]any{
			"duration":           2.0,
			"mock_poll_interval": 0.05,
		},
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "completed", result.Status)
	assert.Equal(t, true, result.RawResult["mock"])
	assert.GreaterOrEqual(t, elapsed, 1900*time.Millisecond)
}

func TestRunMockFailingEndpoint(t *testing.T) {
	t.Parallel()

	_, err := Run(context.Background(), nil, Options{
		Endpoint:   "mock://fail",
		SubmitArgs: map[string]any{"duration": 0.05, "mock_poll_interval": 0.05},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteFailed)
}

func TestRunMockRespectsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := Run(ctx, nil, Options{
		Endpoint:   "mock://slow",
		SubmitArgs: map[string]any{"duration": 10.0, "mock_poll_interval": 1.0},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
