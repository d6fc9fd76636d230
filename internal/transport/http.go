// Package transport provides the HTTP API surface of the stress engine.
package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/stressor/internal/executor"
	"github.com/gateway-fm/stressor/internal/monitor"
	"github.com/gateway-fm/stressor/internal/storage"
	"github.com/gateway-fm/stressor/pkg/types"
)

// Engine is the executor surface the API serves. Narrow so tests can
// substitute a fake.
type Engine interface {
	Start(name string, cfg types.TestConfiguration) (*types.TestExecution, error)
	Pause()
	Resume()
	Stop()
	Status() types.ExecutionStatus
	Execution() *types.TestExecution
	Stats() types.ExecutionStats
	Latency() *types.LatencyStats
	InFlight() int
	ActiveMonitors() []monitor.Record
	Recheck(txHash common.Hash)
	RecentTransactions() []types.TestTransaction
	RecentErrors() []types.TestError
	Results() []types.TestExecution
	HistoryStats() types.HistoryStats
}

// Server handles HTTP requests for the stress engine.
type Server struct {
	engine    Engine
	store     *storage.SQLiteStorage // optional
	logger    *slog.Logger
	startTime time.Time
	wsServer  *WebSocketServer
}

// NewServer creates the HTTP server and starts its websocket broadcaster.
func NewServer(engine Engine, store *storage.SQLiteStorage, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	wsServer := NewWebSocketServer(engine, logger)
	wsServer.Start()

	return &Server{
		engine:    engine,
		store:     store,
		logger:    logger,
		startTime: time.Now(),
		wsServer:  wsServer,
	}
}

// Close stops the websocket broadcaster.
func (s *Server) Close() {
	s.wsServer.Stop()
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/test/start", s.handleStart)
	mux.HandleFunc("/v1/test/pause", s.handlePause)
	mux.HandleFunc("/v1/test/resume", s.handleResume)
	mux.HandleFunc("/v1/test/stop", s.handleStop)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/transactions", s.handleTransactions)
	mux.HandleFunc("/v1/transactions/recheck", s.handleRecheck)
	mux.HandleFunc("/v1/errors", s.handleErrors)
	mux.HandleFunc("/v1/history", s.handleHistory)
	mux.HandleFunc("/v1/monitors", s.handleMonitors)
	mux.HandleFunc("/v1/ws", s.wsServer.Handler())

	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func (s *Server) writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, map[string]string{"error": message})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req types.StartTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	exec, err := s.engine.Start(req.Name, req.Config)
	if err != nil {
		var cfgErr *executor.ConfigurationError
		switch {
		case errors.As(err, &cfgErr):
			s.writeJSONError(w, cfgErr.Error(), http.StatusBadRequest)
		case errors.Is(err, executor.ErrAlreadyRunning):
			s.writeJSONError(w, err.Error(), http.StatusConflict)
		default:
			s.writeJSONError(w, "Failed to start test: "+err.Error(), http.StatusInternalServerError)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, exec)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.engine.Pause()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(s.engine.Status())})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.engine.Resume()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(s.engine.Status())})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.engine.Stop()
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(s.engine.Status())})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := types.StatusResponse{
		Status:    s.engine.Status(),
		Execution: s.engine.Execution(),
		Stats:     s.engine.Stats(),
		Latency:   s.engine.Latency(),
		InFlight:  s.engine.InFlight(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	txs := s.engine.RecentTransactions()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"transactions": txs,
		"count":        len(txs),
	})
}

func (s *Server) handleRecheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	hash := strings.TrimSpace(r.URL.Query().Get("hash"))
	if hash == "" || !strings.HasPrefix(hash, "0x") || len(hash) != 66 {
		s.writeJSONError(w, "hash must be a 0x-prefixed 32-byte hex string", http.StatusBadRequest)
		return
	}

	s.engine.Recheck(common.HexToHash(hash))
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "recheck scheduled"})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	errs := s.engine.RecentErrors()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"errors": errs,
		"count":  len(errs),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	results := s.engine.Results()

	// Persisted history extends the in-memory buffer across restarts.
	if s.store != nil {
		limit := parseIntParam(r, "limit", 50)
		offset := parseIntParam(r, "offset", 0)
		persisted, err := s.store.ListExecutions(r.Context(), limit, offset)
		if err != nil {
			s.logger.Warn("failed to read persisted history", slog.String("error", err.Error()))
		} else {
			results = mergeHistory(results, persisted)
		}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"executions": results,
		"stats":      s.engine.HistoryStats(),
	})
}

func (s *Server) handleMonitors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	monitors := s.engine.ActiveMonitors()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"monitors": monitors,
		"count":    len(monitors),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"uptimeSeconds": int(time.Since(s.startTime).Seconds()),
		"execution":     string(s.engine.Status()),
	})
}

// mergeHistory combines in-memory and persisted executions, newest first,
// preferring the in-memory copy on id collisions.
func mergeHistory(memory, persisted []types.TestExecution) []types.TestExecution {
	seen := make(map[string]bool, len(memory))
	merged := make([]types.TestExecution, 0, len(memory)+len(persisted))

	// In-memory buffer is oldest first; reverse for the API.
	for i := len(memory) - 1; i >= 0; i-- {
		seen[memory[i].ID] = true
		merged = append(merged, memory[i])
	}
	for _, exec := range persisted {
		if !seen[exec.ID] {
			merged = append(merged, exec)
		}
	}
	return merged
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
