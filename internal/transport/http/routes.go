package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "progress-stream-service/docs"
	"progress-stream-service/internal/transport/ws"
)

func Routes(h *Handler, gateway *ws.Gateway) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// our logger (after RequestID)
	r.Use(RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", h.CreateJob)
		r.Get("/{id}", h.GetJob)
		r.Post("/{id}/progress", h.ReportProgress)
		r.Post("/{id}/complete", h.CompleteJob)
		r.Post("/{id}/fail", h.FailJob)
		r.Post("/{id}/cancel", h.CancelJob)
		r.Get("/{id}/stream", gateway.HandleStream)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
