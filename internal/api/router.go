package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verbatim-audio/verbatim/internal/config"
)

// Router wires the API handlers into an HTTP mux
type Router struct {
	handler *Handler
	config  *config.Config
}

// NewRouter creates a new API router
func NewRouter(handler *Handler, cfg *config.Config) *Router {
	return &Router{
		handler: handler,
		config:  cfg,
	}
}

// Routes returns the HTTP routes for the API
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware(rt.config.Server.CORSAllowedOrigins))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", rt.handler.GetHealth)
		r.Get("/sessions", rt.handler.GetSessions)
		r.Post("/models/{model}/load", rt.handler.LoadModel)
		r.Get("/transcripts", rt.handler.GetTranscripts)
	})

	r.Get("/ws/transcribe", rt.handler.HandleWebSocket)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// corsMiddleware sets CORS headers from the configured origin list
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				if allowAll {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				} else {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
