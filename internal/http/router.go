package http

import (
	"encoding/json"
	"net/http"

	"speech-relay-service/internal/app"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TranscribePath is where clients open transcription sessions.
const TranscribePath = "/v1/transcribe"

// Sessions is the gateway surface the router needs.
type Sessions interface {
	http.Handler
	ActiveSessions() int
}

// NewRouter constructs the HTTP router for the service.
func NewRouter(application *app.Application, sessions Sessions) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"service":        "speech-relay-service",
				"sttProvider":    application.Cfg.STT.Provider,
				"enhancement":    application.Cfg.Enhancement.Enabled,
				"activeSessions": sessions.ActiveSessions(),
			})
		})
		r.Get("/transcribe", sessions.ServeHTTP)
	})

	return r
}
