package protocol_test

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"progress-stream-service/internal/entity"
	"progress-stream-service/internal/protocol"
)

func intPtr(v int) *int { return &v }

func TestCodec_RoundTripAllPayloadVariants(t *testing.T) {
	envelopes := []protocol.Envelope{
		protocol.New(protocol.TypeReady, "job-1", "", nil),
		protocol.New(protocol.TypeReadyAck, "job-1", entity.PipelineFileImport, nil),
		protocol.New(protocol.TypeJobStarted, "job-1", entity.PipelineFileImport, protocol.StartedPayload{
			TotalCount:               intPtr(50),
			EstimatedDurationSeconds: intPtr(120),
			Metadata:                 map[string]any{"source": "upload.csv"},
		}),
		protocol.New(protocol.TypeJobProgress, "job-1", entity.PipelineFileImport, protocol.ProgressPayload{
			ProcessedCount: 20,
			CurrentItem:    "The Left Hand of Darkness",
			UserMessage:    "20 of 50 imported",
		}),
		protocol.New(protocol.TypeJobComplete, "job-1", entity.PipelineFileImport, protocol.CompletePayload{
			SuccessCount: 48,
			FailureCount: 2,
			DurationMs:   91000,
			Result:       json.RawMessage(`{"imported":48}`),
		}),
		protocol.New(protocol.TypeError, "job-1", entity.PipelineImageScan, protocol.ErrorPayload{
			Code:        entity.CodeProducerFailed,
			Message:     "metadata lookup failed",
			UserMessage: "We could not finish the scan. Try again later.",
			Retryable:   true,
			Details:     map[string]any{"item": "page-4"},
		}),
		protocol.New(protocol.TypePing, "job-1", "", protocol.PingPayload{ClientTimeMs: 1700000000000}),
		protocol.New(protocol.TypePong, "job-1", "", protocol.PongPayload{ClientTimeMs: 1700000000000}),
		protocol.New(protocol.TypeReconnected, "job-1", entity.PipelineBatchEnrichment, protocol.ReconnectedPayload{
			Status:         entity.StatusRunning,
			ProcessedCount: 20,
			TotalCount:     intPtr(50),
			LastUpdateMs:   1700000000500,
		}),
	}

	for _, env := range envelopes {
		data, err := protocol.Encode(env)
		if err != nil {
			t.Fatalf("%s: encode: %v", env.Type, err)
		}
		got, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("%s: decode: %v", env.Type, err)
		}
		if !reflect.DeepEqual(got, env) {
			t.Fatalf("%s: round-trip mismatch:\n got  %#v\n want %#v", env.Type, got, env)
		}
	}
}

func TestDecode_UnknownTypeIsSentinelNotError(t *testing.T) {
	frame := `{"type":"job_paused","jobId":"job-1","timestamp":1,"version":"1.0","payload":{"x":1}}`

	env, err := protocol.Decode([]byte(frame))
	if err != nil {
		t.Fatalf("expected nil error for unknown type, got %v", err)
	}
	if env.Type != protocol.TypeUnknown {
		t.Fatalf("expected type %q, got %q", protocol.TypeUnknown, env.Type)
	}
	if env.JobID != "job-1" {
		t.Fatalf("expected envelope fields preserved, got jobId=%q", env.JobID)
	}
}

func TestDecode_VersionMajorMismatchFails(t *testing.T) {
	frame := `{"type":"job_progress","jobId":"job-1","timestamp":1,"version":"2.0","payload":{"processedCount":1}}`

	if _, err := protocol.Decode([]byte(frame)); !errors.Is(err, protocol.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestDecode_MinorVersionDriftTolerated(t *testing.T) {
	frame := `{"type":"job_progress","jobId":"job-1","timestamp":1,"version":"1.7","payload":{"processedCount":3}}`

	env, err := protocol.Decode([]byte(frame))
	if err != nil {
		t.Fatalf("expected minor drift to decode, got %v", err)
	}
	p, ok := env.Payload.(protocol.ProgressPayload)
	if !ok || p.ProcessedCount != 3 {
		t.Fatalf("expected progress payload with count=3, got %#v", env.Payload)
	}
}

func TestDecode_MissingVersionFails(t *testing.T) {
	frame := `{"type":"ping","jobId":"job-1","timestamp":1}`

	if _, err := protocol.Decode([]byte(frame)); !errors.Is(err, protocol.ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch for missing version, got %v", err)
	}
}

func TestDecode_GarbageFails(t *testing.T) {
	if _, err := protocol.Decode([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid frame")
	}
}
