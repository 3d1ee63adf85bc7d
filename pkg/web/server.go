// Package web serves the conversion rule API over HTTP, under /api and at
// the bare /conversions paths.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/ritzau/unitconv/pkg/conversion"
	"github.com/ritzau/unitconv/pkg/logging"
	"github.com/ritzau/unitconv/pkg/pubsub"
)

// shutdownTimeout bounds graceful shutdown
const shutdownTimeout = 5 * time.Second

// Server represents the web server
type Server struct {
	router    *mux.Router
	service   *conversion.Service
	publisher pubsub.Publisher
}

// NewServer creates a server for svc. Change events are streamed from pub.
func NewServer(svc *conversion.Service, pub pubsub.Publisher) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		service:   svc,
		publisher: pub,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// SSE subscription endpoint
	api.HandleFunc("/subscribe/conversions", s.handleSubscribeConversions).Methods("GET")

	s.conversionRoutes(api)
	// The rule API is also served unprefixed at /conversions
	s.conversionRoutes(s.router)

	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusNotFound, errorResponse{Error: "no such endpoint"})
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})
}

// conversionRoutes registers the rule API on r. Fixed paths must come before
// /conversions/{id}.
func (s *Server) conversionRoutes(r *mux.Router) {
	r.HandleFunc("/conversions", s.handleListRules).Methods("GET")
	r.HandleFunc("/conversions", s.handleCreateRule).Methods("POST")
	r.HandleFunc("/conversions/validate-cycle", s.handleValidateCycle).Methods("POST")
	r.HandleFunc("/conversions/calculate-path", s.handleCalculatePath).Methods("POST")
	r.HandleFunc("/conversions/convert", s.handleConvert).Methods("POST")
	r.HandleFunc("/conversions/audit", s.handleAudit).Methods("GET")
	r.HandleFunc("/conversions/graph", s.handleGraph).Methods("GET")
	r.HandleFunc("/conversions/export", s.handleExport).Methods("GET")
	r.HandleFunc("/conversions/import", s.handleImport).Methods("POST")
	r.HandleFunc("/conversions/{id}", s.handleGetRule).Methods("GET")
	r.HandleFunc("/conversions/{id}", s.handleUpdateRule).Methods("PUT")
	r.HandleFunc("/conversions/{id}", s.handleDeleteRule).Methods("DELETE")
}

// Handler returns the router wrapped in request logging
func (s *Server) Handler() http.Handler {
	return logging.RequestIDMiddleware(s.router)
}

func (s *Server) handleSubscribeConversions(w http.ResponseWriter, r *http.Request) {
	if s.publisher == nil {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event stream not available"})
		return
	}

	sub, err := s.publisher.Subscribe(r.Context(), pubsub.TopicConversions)
	if err != nil {
		respondError(w, r, err)
		return
	}
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Initial comment establishes the stream (Safari compatibility)
	fmt.Fprintf(w, ": connected\n\n")
	flush(w)

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := pubsub.WriteSSE(w, event); err != nil {
				logging.WarnContext(r.Context(), "failed to write SSE event", "error", err)
				return
			}
			flush(w)
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	version, err := s.service.Version(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"storeVersion": version,
	})
}

func flush(w http.ResponseWriter) {
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// respondJSON writes v with the given status
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("failed to encode response", "error", err)
	}
}

// Start serves on port until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info("starting web server", "url", fmt.Sprintf("http://localhost:%d/api/health", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
