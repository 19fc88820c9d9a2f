// Package mcp implements the gateway's JSON-RPC transport and tool-dispatch
// engine: envelope parsing, the tool registry and argument validation, and
// routing of validated calls to the local, GitHub, and filesystem handlers.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/mcpgate/mcpgate/internal/core"
	"github.com/mcpgate/mcpgate/internal/fsbox"
	gh "github.com/mcpgate/mcpgate/internal/github"
	"github.com/mcpgate/mcpgate/internal/telemetry"
)

const protocolVersion = "2025-06-18"

const maxRequestBodyBytes = 1 << 20

type ctxKey string

const ctxKeyTraceID ctxKey = "trace_id"

// Config carries the transport-level settings: bind address, the optional
// shared bearer secret, and the server identity reported to clients. An empty
// AuthToken means open mode; that is an explicit deployment choice, not a
// default security posture.
type Config struct {
	Addr      string
	AuthToken string
	Name      string
	Version   string
}

// Server owns the tool registry and the adapters. All fields are set once in
// NewServer and read-only afterwards; there is no cross-request mutable state.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	registry []Tool
	byName   map[string]*Tool
	gh       *gh.Client
	sandbox  *fsbox.Sandbox
	policy   *core.RepoPolicy
	intn     func(int) int
	srv      *http.Server
}

func NewServer(cfg Config, ghClient *gh.Client, sandbox *fsbox.Sandbox, policy *core.RepoPolicy, logger *slog.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		registry: toolRegistry(),
		gh:       ghClient,
		sandbox:  sandbox,
		policy:   policy,
		intn:     defaultIntn,
	}
	s.byName = make(map[string]*Tool, len(s.registry))
	for i := range s.registry {
		s.byName[s.registry[i].Name] = &s.registry[i]
	}

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Router builds the HTTP surface: health probes and metrics stay open, the
// JSON-RPC entry point sits behind the bearer check.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.withLogging)

	r.Get("/health", s.handleHealth)
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Group(func(r chi.Router) {
		r.Use(s.auth)
		r.Post("/", s.handleRPC)
	})

	return r
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("mcp server starting", "addr", s.srv.Addr)
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.srv.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.AuthToken {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := uuid.New().String()
		ctx := context.WithValue(r.Context(), ctxKeyTraceID, traceID)

		sw := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(sw, r.WithContext(ctx))

		s.logger.Info("http request",
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", fmt.Sprintf("%dms", time.Since(start).Milliseconds()),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"server": map[string]string{"name": s.cfg.Name, "version": s.cfg.Version},
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(telemetry.RenderPrometheus()))
}

// rpcRequest is one inbound JSON-RPC envelope. ID stays raw so that a missing
// id (notification) is distinguishable from an explicit null.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: core.CodeInvalidRequest, Message: "Invalid JSON"},
		})
		return
	}

	isNotification := req.ID == nil
	base := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "initialize":
		base.Result = map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities":    map[string]any{"tools": map[string]any{}},
			"serverInfo":      map[string]string{"name": s.cfg.Name, "version": s.cfg.Version},
		}
		writeJSON(w, http.StatusOK, base)

	case "initialized":
		w.WriteHeader(http.StatusNoContent)

	case "tools/list":
		base.Result = map[string]any{"tools": s.registry}
		writeJSON(w, http.StatusOK, base)

	case "tools/call":
		resp, status := s.handleToolCall(r.Context(), req, base)
		if isNotification {
			// Notifications never carry a result or error body.
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, status, resp)

	default:
		if isNotification {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		base.Error = &rpcError{Code: core.CodeMethodNotFound, Message: "Method not found"}
		writeJSON(w, http.StatusBadRequest, base)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
