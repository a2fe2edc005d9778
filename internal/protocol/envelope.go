package protocol

import (
	"time"

	"progress-stream-service/internal/entity"
)

// MsgType discriminates the envelope payload.
type MsgType string

const (
	// client -> server
	TypeReady MsgType = "ready"
	TypePing  MsgType = "ping"

	// server -> client
	TypeReadyAck    MsgType = "ready_ack"
	TypeJobStarted  MsgType = "job_started"
	TypeJobProgress MsgType = "job_progress"
	TypeJobComplete MsgType = "job_complete"
	TypeError       MsgType = "error"
	TypePong        MsgType = "pong"
	TypeReconnected MsgType = "reconnected"

	// TypeUnknown is the decode sentinel for message types this build does
	// not recognize. Forward compatibility: skip, don't fail.
	TypeUnknown MsgType = "unknown"
)

// Version is the wire schema version stamped on every outgoing envelope.
// Decoders reject a different major and tolerate minor drift.
const Version = "1.0"

// Envelope is the outer frame common to every message: one JSON object per
// frame over the persistent connection.
type Envelope struct {
	Type      MsgType         `json:"type"`
	JobID     string          `json:"jobId"`
	Pipeline  entity.Pipeline `json:"pipeline,omitempty"`
	Timestamp int64           `json:"timestamp"`
	Version   string          `json:"version"`
	Payload   any             `json:"payload,omitempty"`
}

// New builds an envelope stamped with the current time and schema version.
func New(t MsgType, jobID string, pipeline entity.Pipeline, payload any) Envelope {
	return Envelope{
		Type:      t,
		JobID:     jobID,
		Pipeline:  pipeline,
		Timestamp: time.Now().UnixMilli(),
		Version:   Version,
		Payload:   payload,
	}
}
