package protocol

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	msg := SubmitJobMessage{
		JobID:      "job-1",
		Endpoint:   "mock://ok",
		SubmitTool: "submit",
		SubmitArgs: map[string]any{"duration": 2.0},
		StatusTool: "status",
		ResultTool: "result",
	}

	frame, err := Encode(TypeSubmitJob, msg)
	require.NoError(t, err)

	env, err := ReadEnvelope(bytes.NewReader(frame))
	require.NoError(t, err)
	require.Equal(t, TypeSubmitJob, env.Type)

	var decoded SubmitJobMessage
	require.NoError(t, env.Decode(&decoded))
	require.Equal(t, msg.JobID, decoded.JobID)
	require.Equal(t, msg.Endpoint, decoded.Endpoint)
}

func TestEncodePingHasNoPayloadFields(t *testing.T) {
	t.Parallel()

	frame, err := Encode(TypePing, nil)
	require.NoError(t, err)

	env, err := ReadEnvelope(bytes.NewReader(frame))
	require.NoError(t, err)
	require.Equal(t, TypePing, env.Type)
	require.JSONEq(t, `{"type":"ping"}`, string(env.Payload))
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	t.Parallel()

	huge := strings.Repeat("x", MaxMessageSize+1)
	_, err := Encode(TypeError, ErrorMessage{Error: huge})
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestReadEnvelopeShortHeader(t *testing.T) {
	t.Parallel()

	_, err := ReadEnvelope(bytes.NewReader([]byte{0x00, 0x00}))
	require.ErrorIs(t, err, ErrShortRead)
}

func TestReadEnvelopeShortBody(t *testing.T) {
	t.Parallel()

	frame, err := Encode(TypePing, nil)
	require.NoError(t, err)

	truncated := frame[:len(frame)-1]
	_, err = ReadEnvelope(bytes.NewReader(truncated))
	require.ErrorIs(t, err, ErrShortRead)
}

func TestReadEnvelopeEOFOnEmptyStream(t *testing.T) {
	t.Parallel()

	_, err := ReadEnvelope(bytes.NewReader(nil))
	require.ErrorIs(t, err, io.EOF)
}

func TestReadEnvelopeRejectsOversizedHeader(t *testing.T) {
	t.Parallel()

	var header [HeaderSize]byte
	header[0] = 0xFF // declares a length far beyond MaxMessageSize
	_, err := ReadEnvelope(bytes.NewReader(header[:]))
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestJobCompletedMessageDiscriminatesSuccess(t *testing.T) {
	t.Parallel()

	frame, err := Encode(TypeJobCompleted, JobCompletedMessage{
		JobID:   "job-2",
		Success: true,
		Result:  map[string]any{"mock": true},
	})
	require.NoError(t, err)

	env, err := ReadEnvelope(bytes.NewReader(frame))
	require.NoError(t, err)

	var decoded JobCompletedMessage
	require.NoError(t, env.Decode(&decoded))
	require.True(t, decoded.Success)
	require.Empty(t, decoded.Error)
	require.Equal(t, true, decoded.Result["mock"])
}
