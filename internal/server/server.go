// Package server exposes the orchestrator over HTTP. It hosts the agent
// pipeline behind the /v1/orchestrate contract used by the case engine.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"aioffice/internal/agents"
	"aioffice/internal/common"
)

// Server hosts the orchestration endpoints.
type Server struct {
	pipeline *agents.Pipeline
	version  string
}

// New creates a server around the given agent pipeline.
func New(pipeline *agents.Pipeline, version string) *Server {
	return &Server{pipeline: pipeline, version: version}
}

// Router builds the HTTP routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/v1/orchestrate", s.handleOrchestrate)
	r.Post("/v1/opos/match", s.handleOposMatch)
	return r
}

// Serve runs the server until the context is canceled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		common.LogInfo("Orchestrator listening", common.Fields{"addr": addr, "version": s.version})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: s.version})
}

type errorResponse struct {
	Status string `json:"status"`
	Detail string `json:"detail"`
}

func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req agents.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Detail: "invalid request body"})
		return
	}
	if req.CaseID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Detail: "case_id is required"})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	resp, err := s.pipeline.Run(r.Context(), req)
	if err != nil {
		common.LogError(err, "Pipeline run failed", common.Fields{
			"case_id":    req.CaseID,
			"request_id": req.RequestID,
		})
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOposMatch(w http.ResponseWriter, r *http.Request) {
	var req agents.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Detail: "invalid request body"})
		return
	}
	if req.CaseID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: "error", Detail: "case_id is required"})
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	resp, err := s.pipeline.MatchOpenItems(r.Context(), req)
	if err != nil {
		common.LogError(err, "Open item matching failed", common.Fields{
			"case_id":    req.CaseID,
			"request_id": req.RequestID,
		})
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: "error", Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("Request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
