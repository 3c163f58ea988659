package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shardgate/internal/shard"
	"shardgate/pkg/types"
)

// ShardService is the slice of the shard manager the API needs.
type ShardService interface {
	Snapshots() []types.ShardSnapshot
	Revive(ctx context.Context, shardID int, force bool) error
}

// AdmissionInfo exposes the controller's reconnect state for the status page.
type AdmissionInfo interface {
	ReconnectActive() bool
}

// StoreInfo exposes the pieces of the database the API touches.
type StoreInfo interface {
	HealthCheck(ctx context.Context) error
	RecordRevive(ctx context.Context, shardID int, reason string) error
	ListRevives(ctx context.Context, limit int) ([]*types.Revive, error)
}

// Server is the ops HTTP surface: fleet status, manual revives, the revive
// audit log, and a health check. No business logic lives here.
type Server struct {
	shards  ShardService
	admit   AdmissionInfo
	store   StoreInfo
	router  *http.ServeMux
	started time.Time
}

// NewServer wires the API against its backing services.
func NewServer(shards ShardService, admit AdmissionInfo, store StoreInfo) *Server {
	s := &Server{
		shards:  shards,
		admit:   admit,
		store:   store,
		router:  http.NewServeMux(),
		started: time.Now(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/shards", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleShards))))
	s.router.Handle("/api/shards/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleShardByID))))
	s.router.Handle("/api/revives", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRevives))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response types for JSON serialization
type ShardListResponse struct {
	Shards          []types.ShardSnapshot `json:"shards"`
	ReconnectActive bool                  `json:"reconnect_active"`
}

type ReviveResponse struct {
	ShardID int    `json:"shard_id"`
	Status  string `json:"status"`
}

type ReviveLogResponse struct {
	Revives []*types.Revive `json:"revives"`
}

type HealthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime"`
	Database string `json:"database"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/shards - fleet status
func (s *Server) handleShards(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		json.NewEncoder(w).Encode(ShardListResponse{
			Shards:          s.shards.Snapshots(),
			ReconnectActive: s.admit.ReconnectActive(),
		})
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// POST /api/shards/{id}/revive - manual revive, ?force=true to override the
// reconnect-in-progress guard
func (s *Server) handleShardByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/shards/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.sendError(w, "Shard ID required", http.StatusBadRequest)
		return
	}

	shardID, err := strconv.Atoi(parts[0])
	if err != nil {
		s.sendError(w, "Invalid shard ID", http.StatusBadRequest)
		return
	}

	if len(parts) < 2 || parts[1] != "revive" {
		s.sendError(w, "Unknown shard operation", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	force := r.URL.Query().Get("force") == "true"
	if err := s.shards.Revive(r.Context(), shardID, force); err != nil {
		switch {
		case errors.Is(err, shard.ErrUnknownShard):
			s.sendError(w, "Shard not found", http.StatusNotFound)
		case errors.Is(err, shard.ErrShardReconnecting):
			s.sendError(w, "Shard is already reconnecting", http.StatusConflict)
		case errors.Is(err, shard.ErrShardShutdown):
			s.sendError(w, "Shard has been shut down", http.StatusConflict)
		default:
			s.sendError(w, "Failed to revive shard", http.StatusInternalServerError)
		}
		return
	}

	// Operator revives land in the same audit log the watchdog writes to.
	if err := s.store.RecordRevive(r.Context(), shardID, types.ReviveReasonOperator); err != nil {
		log.Printf("Failed to record operator revive of shard %d: %v", shardID, err)
	}

	json.NewEncoder(w).Encode(ReviveResponse{ShardID: shardID, Status: "revived"})
}

// GET /api/revives?limit=N - the revive audit log, newest first
func (s *Server) handleRevives(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.sendError(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	revives, err := s.store.ListRevives(r.Context(), limit)
	if err != nil {
		s.sendError(w, "Failed to list revives", http.StatusInternalServerError)
		return
	}
	if revives == nil {
		revives = []*types.Revive{}
	}
	json.NewEncoder(w).Encode(ReviveLogResponse{Revives: revives})
}

// GET /health - liveness plus a database round trip
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := HealthResponse{
		Status:   "healthy",
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		Database: "connected",
	}
	if err := s.store.HealthCheck(r.Context()); err != nil {
		resp.Status = "unhealthy"
		resp.Database = err.Error()
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
