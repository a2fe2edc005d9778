package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"progress-stream-service/internal/protocol"
	"progress-stream-service/internal/service"
)

// Gateway accepts streaming connections and binds them to the job's
// coordinator. An unknown job and a bad token behave identically: the socket
// closes with no envelope ever sent, so probes learn nothing.
type Gateway struct {
	registry         *service.Registry
	heartbeatTimeout time.Duration
	upgrader         websocket.Upgrader
}

func NewGateway(registry *service.Registry, heartbeatTimeout time.Duration) *Gateway {
	return &Gateway{
		registry:         registry,
		heartbeatTimeout: heartbeatTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleStream is mounted at GET /jobs/{id}/stream?token=...
func (g *Gateway) HandleStream(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	token := r.URL.Query().Get("token")

	// Upgrade before any lookup so rejection is indistinguishable from an
	// unknown job at the HTTP layer.
	wsc, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := newConn(wsc)

	co, ok := g.registry.Lookup(r.Context(), jobID)
	if !ok {
		_ = c.Close()
		return
	}
	if err := co.Attach(c, token); err != nil {
		// Attach already closed the socket without sending a frame.
		return
	}

	log.Printf("[gateway] job_id=%s client attached", jobID)
	g.readLoop(wsc, c, co, jobID)
}

// readLoop services inbound frames (ready handshake, heartbeats) until the
// connection dies or goes silent past the heartbeat timeout.
func (g *Gateway) readLoop(wsc *websocket.Conn, c *conn, co *service.Coordinator, jobID string) {
	defer func() {
		co.Detach(c)
		_ = c.Close()
	}()

	for {
		_ = wsc.SetReadDeadline(time.Now().Add(g.heartbeatTimeout))
		_, data, err := wsc.ReadMessage()
		if err != nil {
			log.Printf("[gateway] job_id=%s connection closed: %v", jobID, err)
			return
		}

		env, err := protocol.Decode(data)
		if err != nil {
			log.Printf("[gateway] job_id=%s bad frame: %v", jobID, err)
			continue
		}

		st := co.State()
		switch env.Type {
		case protocol.TypeReady:
			if err := c.Send(protocol.New(protocol.TypeReadyAck, jobID, st.Pipeline, nil)); err != nil {
				return
			}
		case protocol.TypePing:
			p, _ := env.Payload.(protocol.PingPayload)
			if err := c.Send(protocol.New(protocol.TypePong, jobID, st.Pipeline, protocol.PongPayload{
				ClientTimeMs: p.ClientTimeMs,
			})); err != nil {
				return
			}
		default:
			// clients only send ready and ping; ignore the rest
		}
	}
}
