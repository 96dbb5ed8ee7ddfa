// Package protocol implements the wire codec and message vocabulary shared
// between the queue daemon and its clients: a 4-byte big-endian length
// prefix followed by a UTF-8 JSON body, capped at MaxMessageSize.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the length of the big-endian frame-length prefix, in bytes.
const HeaderSize = 4

// MaxMessageSize is the hard per-message cap (10 MiB). Larger frames fail
// with ErrFrameTooLarge rather than being read.
const MaxMessageSize = 10 * 1024 * 1024

// Message type wire strings. These mirror the original Python daemon's
// MessageType constants verbatim so the framing stays interoperable.
const (
	TypePing           = "ping"
	TypePong           = "pong"
	TypeSubmitJob      = "submit_job"
	TypeJobAccepted    = "job_accepted"
	TypeJobCompleted   = "job_completed"
	TypeJobFailed      = "job_failed"
	TypeStatus         = "status"
	TypeStatusResponse = "status_response"
	TypeShutdown       = "shutdown"
	TypeShutdownAck    = "shutdown_ack"
	TypeError          = "error"
)

// ErrFrameTooLarge is returned when a frame's declared length exceeds MaxMessageSize.
var ErrFrameTooLarge = errors.New("protocol: frame too large")

// ErrShortRead is returned when the connection closes mid-header or mid-body.
var ErrShortRead = errors.New("protocol: short read")

// Envelope is the generic shape every wire message shares: a discriminant
// "type" field plus an arbitrary payload. Callers typically decode Payload
// into a more specific struct once Type is known.
type Envelope struct {
	Type    string
	Payload json.RawMessage
}

// Encode serializes msgType plus payload (which may be nil) into a framed
// message. payload's fields are flattened alongside "type", matching the
// original wire format where the envelope is just payload with "type" added.
func Encode(msgType string, payload any) ([]byte, error) {
	merged, err := mergeType(msgType, payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msgType, err)
	}
	if len(merged) > MaxMessageSize {
		return nil, fmt.Errorf("protocol: encode %s: %w (%d bytes)", msgType, ErrFrameTooLarge, len(merged))
	}

	frame := make([]byte, HeaderSize+len(merged))
	binary.BigEndian.PutUint32(frame[:HeaderSize], uint32(len(merged)))
	copy(frame[HeaderSize:], merged)
	return frame, nil
}

// mergeType marshals payload to a JSON object and injects the "type" field.
// A nil payload encodes as {"type": msgType}.
func mergeType(msgType string, payload any) ([]byte, error) {
	var fields map[string]json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("payload must marshal to a JSON object: %w", err)
		}
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	typeJSON, err := json.Marshal(msgType)
	if err != nil {
		return nil, err
	}
	fields["type"] = typeJSON
	return json.Marshal(fields)
}

// WriteMessage encodes and writes a framed message to w.
func WriteMessage(w io.Writer, msgType string, payload any) error {
	frame, err := Encode(msgType, payload)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadEnvelope reads one framed message from r and returns its type plus raw
// payload bytes (suitable for a further json.Unmarshal into a specific struct).
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Envelope{}, io.EOF
		}
		return Envelope{}, fmt.Errorf("%w: %v", ErrShortRead, err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > MaxMessageSize {
		return Envelope{}, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrShortRead, err)
	}

	var peek struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return Envelope{}, fmt.Errorf("protocol: invalid JSON body: %w", err)
	}
	return Envelope{Type: peek.Type, Payload: body}, nil
}

// Decode unmarshals an Envelope's payload into dst.
func (e Envelope) Decode(dst any) error {
	return json.Unmarshal(e.Payload, dst)
}
