// Package ingress receives webhook events from the messaging bridge and
// enqueues them verbatim. It does no business logic; the response only says
// whether the job made it onto the broker.
package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// Enqueuer persists a raw payload as a job and returns its id.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload json.RawMessage) (string, error)
}

// Server is the webhook HTTP receiver.
type Server struct {
	queue      Enqueuer
	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer creates an ingress server listening on host:port.
func NewServer(host string, port int, queue Enqueuer) *Server {
	s := &Server{queue: queue}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhooks", s.handleWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)
	s.mux = mux

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the mux (used by tests and additional listeners).
func (s *Server) Handler() http.Handler { return s.mux }

// Start runs the HTTP listener until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("ingress listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ingress listen: %w", err)
	}
	return nil
}

// Shutdown stops accepting new requests and drains in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	jobID, err := s.queue.Enqueue(r.Context(), body)
	if err != nil {
		// Surface a retryable status so the upstream relay redelivers
		// instead of silently losing the event.
		slog.Error("webhook enqueue failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue unavailable"})
		return
	}

	slog.Debug("webhook enqueued", "job_id", jobID, "bytes", len(body))
	writeJSON(w, http.StatusOK, map[string]string{"status": "queued", "job_id": jobID})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("ingress response write failed", "error", err)
	}
}
