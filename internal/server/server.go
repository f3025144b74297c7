// Package server exposes the pool cache over HTTP: a REST facade, an SSE
// stream, and the JSON-RPC MCP endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wyntrades-ai/defi-yields-mcp/internal/cache"
	"github.com/wyntrades-ai/defi-yields-mcp/internal/mcp"
	"github.com/wyntrades-ai/defi-yields-mcp/internal/query"
)

// Config holds runtime settings for the HTTP server.
type Config struct {
	Listen         string
	StreamInterval time.Duration
}

// Server wires the cache and dispatcher into HTTP routes.
type Server struct {
	cfg        Config
	cache      *cache.PoolCache
	dispatcher *mcp.Dispatcher
	logger     *zap.Logger
	startedAt  time.Time
}

// New builds a Server with its dependencies.
func New(cfg Config, poolCache *cache.PoolCache, logger *zap.Logger) *Server {
	if cfg.Listen == "" {
		cfg.Listen = ":8000"
	}
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		cache:      poolCache,
		dispatcher: mcp.NewDispatcher(poolCache, logger),
		logger:     logger,
		startedAt:  time.Now(),
	}
}

// Handler returns the full route table wrapped in logging, recovery, and
// CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/pools", s.handlePools)
	mux.HandleFunc("/pools/stream", s.handlePoolsStream)
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/refresh", s.handleRefresh)
	mux.HandleFunc("/health", s.handleHealth)

	return chainMiddleware(mux,
		corsMiddleware(),
		recoverMiddleware(s.logger),
		loggingMiddleware(s.logger),
	)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.cfg.Listen,
		Handler: s.Handler(),
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

// handleRoot serves the endpoint index on GET and JSON-RPC on POST.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"name":        mcp.ServerName,
			"version":     mcp.ServerVersion,
			"description": "HTTP API for DeFi yield pool data from DefiLlama",
			"endpoints": map[string]string{
				"health":       "/health",
				"pools":        "/pools",
				"pools_stream": "/pools/stream",
				"analyze":      "/analyze",
				"refresh":      "/refresh",
			},
		})
	case http.MethodPost:
		s.handleRPC(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleRPC decodes one JSON-RPC envelope, dispatches it, and writes the
// response envelope. Undecodable bodies still produce a JSON-RPC error so
// protocol clients never see a bare transport failure.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req mcp.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, mcp.Response{
			JSONRPC: "2.0",
			Error:   &mcp.Error{Code: mcp.CodeInvalidRequest, Message: "invalid request body"},
		})
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	criteria, err := criteriaFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ds, err := s.cache.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("pools fetch failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, fmt.Sprintf("fetch pools: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, query.Apply(ds, criteria))
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	criteria, err := criteriaFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"prompt": mcp.RenderAnalyzeYields(criteria.Chain, criteria.Project),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ds, err := s.cache.Refresh(r.Context(), true)
	if err != nil {
		s.logger.Error("forced refresh failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"status":   "error",
			"error":    err.Error(),
			"staleFor": s.cache.Age().Round(time.Second).String(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "refreshed",
		"pools":     len(ds.Pools),
		"fetchedAt": ds.FetchedAt,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": mcp.ServerVersion,
		"uptime":  time.Since(s.startedAt).Seconds(),
	})
}

// criteriaFromRequest reads filter criteria from query parameters, or from
// a JSON body on POST when one is present.
func criteriaFromRequest(r *http.Request) (query.Criteria, error) {
	criteria := query.Criteria{
		Chain:   r.URL.Query().Get("chain"),
		Project: r.URL.Query().Get("project"),
	}

	if r.Method == http.MethodPost && r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&criteria); err != nil {
			return query.Criteria{}, fmt.Errorf("invalid request body: %w", err)
		}
	}

	return criteria, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
