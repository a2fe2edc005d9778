package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"progress-stream-service/internal/entity"
)

var ErrVersionMismatch = errors.New("unsupported schema version")

func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", env.Type, err)
	}
	return data, nil
}

// rawEnvelope defers payload decoding until the type is known.
type rawEnvelope struct {
	Type      MsgType         `json:"type"`
	JobID     string          `json:"jobId"`
	Pipeline  string          `json:"pipeline"`
	Timestamp int64           `json:"timestamp"`
	Version   string          `json:"version"`
	Payload   json.RawMessage `json:"payload"`
}

// Decode parses a frame in two passes: the generic envelope first, then the
// payload struct keyed by type. Unrecognized types come back as TypeUnknown
// with a nil payload; an unrecognized version major is a hard error.
func Decode(data []byte) (Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := checkVersion(raw.Version); err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		Type:      raw.Type,
		JobID:     raw.JobID,
		Pipeline:  entity.Pipeline(raw.Pipeline),
		Timestamp: raw.Timestamp,
		Version:   raw.Version,
	}

	payload, err := decodePayload(raw.Type, raw.Payload)
	if err != nil {
		return Envelope{}, err
	}
	if payload == nil && !known(raw.Type) {
		env.Type = TypeUnknown
	}
	env.Payload = payload
	return env, nil
}

func decodePayload(t MsgType, raw json.RawMessage) (any, error) {
	switch t {
	case TypeJobStarted:
		return unmarshalAs[StartedPayload](t, raw)
	case TypeJobProgress:
		return unmarshalAs[ProgressPayload](t, raw)
	case TypeJobComplete:
		return unmarshalAs[CompletePayload](t, raw)
	case TypeError:
		return unmarshalAs[ErrorPayload](t, raw)
	case TypePing:
		return unmarshalAs[PingPayload](t, raw)
	case TypePong:
		return unmarshalAs[PongPayload](t, raw)
	case TypeReconnected:
		return unmarshalAs[ReconnectedPayload](t, raw)
	case TypeReady, TypeReadyAck:
		return nil, nil
	default:
		return nil, nil
	}
}

func unmarshalAs[P any](t MsgType, raw json.RawMessage) (any, error) {
	var p P
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", t, err)
	}
	return p, nil
}

func known(t MsgType) bool {
	switch t {
	case TypeReady, TypeReadyAck, TypeJobStarted, TypeJobProgress,
		TypeJobComplete, TypeError, TypePing, TypePong, TypeReconnected:
		return true
	}
	return false
}

func checkVersion(v string) error {
	if v == "" {
		return fmt.Errorf("%w: missing version", ErrVersionMismatch)
	}
	major, _, _ := strings.Cut(v, ".")
	wantMajor, _, _ := strings.Cut(Version, ".")
	if major != wantMajor {
		return fmt.Errorf("%w: got %q, want major %s", ErrVersionMismatch, v, wantMajor)
	}
	return nil
}
