package ws_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"progress-stream-service/internal/entity"
	"progress-stream-service/internal/protocol"
	"progress-stream-service/internal/repository"
	"progress-stream-service/internal/service"
	httptransport "progress-stream-service/internal/transport/http"
	"progress-stream-service/internal/transport/ws"
)

func newTestServer(t *testing.T, cfg service.Config) (*httptest.Server, *service.Registry) {
	t.Helper()
	registry := service.NewRegistry(repository.NewMemoryStore(), cfg)
	gateway := ws.NewGateway(registry, cfg.HeartbeatTimeout)
	router := httptransport.Routes(httptransport.NewHandler(registry), gateway)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, registry
}

func streamURL(srv *httptest.Server, jobID, token string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/" + jobID + "/stream?token=" + token
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) protocol.Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	env, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env protocol.Envelope) {
	t.Helper()
	data, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestStream_BadTokenAndUnknownJobAreIndistinguishable(t *testing.T) {
	srv, registry := newTestServer(t, service.DefaultConfig())

	jobID, _, err := registry.CreateJob(context.Background(), entity.PipelineImageScan, nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	for name, url := range map[string]string{
		"bad token":   streamURL(srv, jobID, "wrong"),
		"unknown job": streamURL(srv, "nonexistent", "wrong"),
	} {
		conn := dial(t, url)
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, data, err := conn.ReadMessage(); err == nil {
			t.Fatalf("%s: expected immediate close with no envelope, got frame %s", name, data)
		}
	}
}

func TestStream_ReadyHandshakeAndProgressPush(t *testing.T) {
	srv, registry := newTestServer(t, service.DefaultConfig())
	ctx := context.Background()

	total := 50
	jobID, token, err := registry.CreateJob(ctx, entity.PipelineFileImport, &total)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	co, _ := registry.Lookup(ctx, jobID)

	conn := dial(t, streamURL(srv, jobID, token))

	// attach pushes the snapshot before anything else
	env := readEnvelope(t, conn)
	if env.Type != protocol.TypeReconnected {
		t.Fatalf("expected reconnected snapshot first, got %s", env.Type)
	}

	writeEnvelope(t, conn, protocol.New(protocol.TypeReady, jobID, "", nil))
	if env := readEnvelope(t, conn); env.Type != protocol.TypeReadyAck {
		t.Fatalf("expected ready_ack, got %s", env.Type)
	}

	if err := co.ReportProgress(ctx, 7, "chapter-7.csv", ""); err != nil {
		t.Fatalf("report progress: %v", err)
	}
	env = readEnvelope(t, conn)
	if env.Type != protocol.TypeJobProgress {
		t.Fatalf("expected job_progress, got %s", env.Type)
	}
	p := env.Payload.(protocol.ProgressPayload)
	if p.ProcessedCount != 7 || p.CurrentItem != "chapter-7.csv" {
		t.Fatalf("unexpected progress payload %+v", p)
	}
}

func TestStream_PongEchoesClientTime(t *testing.T) {
	srv, registry := newTestServer(t, service.DefaultConfig())

	jobID, token, err := registry.CreateJob(context.Background(), entity.PipelineImageScan, nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	conn := dial(t, streamURL(srv, jobID, token))
	readEnvelope(t, conn) // snapshot

	writeEnvelope(t, conn, protocol.New(protocol.TypePing, jobID, "", protocol.PingPayload{ClientTimeMs: 12345}))
	env := readEnvelope(t, conn)
	if env.Type != protocol.TypePong {
		t.Fatalf("expected pong, got %s", env.Type)
	}
	if p := env.Payload.(protocol.PongPayload); p.ClientTimeMs != 12345 {
		t.Fatalf("expected clientTimeMs echoed, got %d", p.ClientTimeMs)
	}
}

func TestStream_ReconnectResumesFromSnapshot(t *testing.T) {
	srv, registry := newTestServer(t, service.DefaultConfig())
	ctx := context.Background()

	total := 50
	jobID, token, err := registry.CreateJob(ctx, entity.PipelineBatchEnrichment, &total)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	co, _ := registry.Lookup(ctx, jobID)
	if err := co.ReportProgress(ctx, 20, "", ""); err != nil {
		t.Fatalf("report progress: %v", err)
	}

	first := dial(t, streamURL(srv, jobID, token))
	readEnvelope(t, first) // snapshot at 20
	first.Close()

	second := dial(t, streamURL(srv, jobID, token))
	env := readEnvelope(t, second)
	if env.Type != protocol.TypeReconnected {
		t.Fatalf("expected reconnected after resume (not job_started), got %s", env.Type)
	}
	p := env.Payload.(protocol.ReconnectedPayload)
	if p.ProcessedCount != 20 {
		t.Fatalf("expected resumed processedCount=20, got %d", p.ProcessedCount)
	}
	if p.Status != entity.StatusRunning {
		t.Fatalf("expected status=running in snapshot, got %s", p.Status)
	}
}

func TestStream_SecondSubscriberPreemptsFirst(t *testing.T) {
	srv, registry := newTestServer(t, service.DefaultConfig())

	jobID, token, err := registry.CreateJob(context.Background(), entity.PipelineImageScan, nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	connA := dial(t, streamURL(srv, jobID, token))
	readEnvelope(t, connA) // A's snapshot

	connB := dial(t, streamURL(srv, jobID, token))
	if env := readEnvelope(t, connB); env.Type != protocol.TypeReconnected {
		t.Fatalf("expected snapshot for second subscriber, got %s", env.Type)
	}

	_ = connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := connA.ReadMessage(); err == nil {
		t.Fatal("expected first connection to be closed after preemption")
	}
}

func TestStream_SilentConnectionTimesOut(t *testing.T) {
	cfg := service.DefaultConfig()
	cfg.HeartbeatTimeout = 100 * time.Millisecond
	srv, registry := newTestServer(t, cfg)

	jobID, token, err := registry.CreateJob(context.Background(), entity.PipelineImageScan, nil)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	conn := dial(t, streamURL(srv, jobID, token))
	readEnvelope(t, conn) // snapshot

	// send nothing: the gateway must drop the half-dead socket
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected server to close a connection with no heartbeat")
	}
}
