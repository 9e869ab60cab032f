package transport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/mhconf/internal/service"
)

// Server wires internal/service behind an HTTP + WebSocket surface.
type Server struct {
	svc    *service.Service
	logger *slog.Logger
	router *mux.Router
}

// NewServer builds the full route table: plain HTTP for Get/Update/RunGC,
// and bidirectional WebSocket streams for Watch and Trace (§6).
func NewServer(svc *service.Service, logger *slog.Logger) *Server {
	s := &Server{svc: svc, logger: logger.With("component", "transport")}

	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/get", s.handleGet).Methods(http.MethodGet)
	v1.HandleFunc("/update", s.handleUpdate).Methods(http.MethodPost)
	v1.HandleFunc("/gc/{pass}", s.handleRunGC).Methods(http.MethodPost)
	v1.HandleFunc("/watch", s.handleWatch).Methods(http.MethodGet)
	v1.HandleFunc("/trace", s.handleTrace).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func routeVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func secondsToDuration(seconds int64) time.Duration {
	return time.Duration(seconds) * time.Second
}
