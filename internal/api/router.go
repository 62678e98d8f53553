// Package api exposes one runtime's migration protocol over HTTP and
// streams its notifications over WebSocket. Client is the matching
// orchestrator peer.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/TomKopp/KP-WME-sub000/internal/engine"
	"github.com/TomKopp/KP-WME-sub000/internal/node"
)

// Server holds shared state for all API handlers.
type Server struct {
	Runtime *node.RuntimeContext
	Engine  *engine.Engine
	Log     *slog.Logger
}

// NewRouter builds the chi router with all protocol and inspection routes.
func NewRouter(s *Server) http.Handler {
	if s.Log == nil {
		s.Log = s.Runtime.Logger()
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/runtime", s.GetRuntime)

		// Protocol actions, serialized through the engine.
		r.Post("/prepare", s.Prepare)
		r.Post("/commit", s.Commit)
		r.Post("/cancel", s.Cancel)

		r.Get("/transactions", s.ListTransactions)
		r.Get("/transactions/{id}", s.GetTransaction)
		r.Get("/containers", s.ListContainers)
		r.Get("/notifications", s.ListNotifications)
	})

	// WebSocket (outside /v1 to avoid JSON content-type assumptions)
	r.Get("/ws/notifications", s.StreamNotifications)

	return r
}

// requestLogger logs every request through slog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// errorBody is the JSON body of every non-protocol error response.
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
