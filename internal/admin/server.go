package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/ledger"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/orchestrator"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

const defaultListLimit = 50

// allowedOverrideTargets defines the valid statuses for admin override
// input validation. The orchestrator re-checks legality against the
// swap's current state.
var allowedOverrideTargets = map[model.SwapStatus]bool{
	model.StatusSettledSuccess: true,
	model.StatusFailed:         true,
	model.StatusFlagged:        true,
}

// Overrider is the interface the admin server uses to disposition
// swaps. In production this is satisfied by *orchestrator.Orchestrator,
// but tests can provide a simple mock.
type Overrider interface {
	AdminSetStatus(ctx context.Context, id uuid.UUID, to model.SwapStatus, actorID, reason string) error
	GetStatus(ctx context.Context, id uuid.UUID) (model.SwapStatus, error)
}

// HealthProvider reports the serving process's component health as
// JSON-encodable data.
type HealthProvider interface {
	HealthSnapshot() any
}

// Server provides the HTTP admin API for swap review and disposition.
type Server struct {
	store          ledger.Ledger
	overrider      Overrider
	users          ledger.UserStore
	healthProvider HealthProvider
	logger         *slog.Logger
}

// NewServer creates a new admin API server.
func NewServer(store ledger.Ledger, overrider Overrider, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		store:     store,
		overrider: overrider,
		logger:    logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

// WithUserStore enables the user management endpoints.
func WithUserStore(users ledger.UserStore) ServerOption {
	return func(s *Server) { s.users = users }
}

// WithHealthProvider sets the health provider on the admin server.
func WithHealthProvider(hp HealthProvider) ServerOption {
	return func(s *Server) { s.healthProvider = hp }
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/swaps", s.handleListSwaps)
	mux.HandleFunc("GET /admin/v1/swaps/all", s.handleListAllSwaps)
	mux.HandleFunc("GET /admin/v1/swaps/status", s.handleGetStatus)
	mux.HandleFunc("GET /admin/v1/swaps/audit", s.handleListAudit)
	mux.HandleFunc("POST /admin/v1/swaps/override", s.handleOverride)
	mux.HandleFunc("GET /admin/v1/users", s.handleListUsers)
	mux.HandleFunc("POST /admin/v1/users/role", s.handleSetRole)
	mux.HandleFunc("GET /admin/v1/overview", s.handleOverview)
	mux.HandleFunc("GET /admin/v1/health", s.handleHealth)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

// limitQuery parses the limit query param, falling back to the default.
func limitQuery(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return n
		}
	}
	return defaultListLimit
}

// requireSwapIDQuery extracts and validates the swap_id query param.
// Returns false (and writes an error response) if validation fails.
func requireSwapIDQuery(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.URL.Query().Get("swap_id")
	if raw == "" {
		http.Error(w, `{"error":"swap_id query param required"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		http.Error(w, `{"error":"swap_id must be a UUID"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// writeStoreError maps ledger failures onto HTTP statuses. Transient
// outages surface as 503 so operators can distinguish them from bugs.
func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, orchestrator.ErrUnknownSwap):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case errors.Is(err, ledger.ErrUnavailable):
		s.logger.Error(op+" failed, ledger unavailable", "error", err)
		http.Error(w, `{"error":"record store unavailable"}`, http.StatusServiceUnavailable)
	case errors.Is(err, ledger.ErrPermissionDenied):
		http.Error(w, `{"error":"permission denied by record store"}`, http.StatusForbidden)
	default:
		s.logger.Error(op+" failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
	}
}

func (s *Server) handleListSwaps(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, `{"error":"user_id query param required"}`, http.StatusBadRequest)
		return
	}

	records, err := s.store.List(r.Context(), userID, limitQuery(r))
	if err != nil {
		s.writeStoreError(w, "list swaps", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleListAllSwaps(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListAll(r.Context(), limitQuery(r))
	if err != nil {
		s.writeStoreError(w, "list all swaps", err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

type statusResponse struct {
	SwapID string `json:"swap_id"`
	Status string `json:"status"`
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := requireSwapIDQuery(w, r)
	if !ok {
		return
	}

	status, err := s.overrider.GetStatus(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get status", err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{SwapID: id.String(), Status: status.String()})
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := requireSwapIDQuery(w, r)
	if !ok {
		return
	}

	entries, err := s.store.ListAudit(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "list audit", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type overrideRequest struct {
	SwapID  string `json:"swap_id"`
	Status  string `json:"status"`
	ActorID string `json:"actor_id"`
	Reason  string `json:"reason"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.SwapID == "" || req.Status == "" || req.ActorID == "" {
		http.Error(w, `{"error":"swap_id, status, and actor_id are required"}`, http.StatusBadRequest)
		return
	}

	id, err := uuid.Parse(req.SwapID)
	if err != nil {
		http.Error(w, `{"error":"swap_id must be a UUID"}`, http.StatusBadRequest)
		return
	}

	status := model.SwapStatus(req.Status)
	if !allowedOverrideTargets[status] {
		http.Error(w, `{"error":"status must be SETTLED_SUCCESS, FAILED, or FLAGGED"}`, http.StatusBadRequest)
		return
	}

	if err := s.overrider.AdminSetStatus(r.Context(), id, status, req.ActorID, req.Reason); err != nil {
		if errors.Is(err, orchestrator.ErrOverrideConflict) {
			http.Error(w, `{"error":"current state disallows this override"}`, http.StatusConflict)
			return
		}
		s.writeStoreError(w, "override", err)
		return
	}

	s.logger.Info("swap overridden via admin API",
		"swap_id", req.SwapID,
		"status", req.Status,
		"actor_id", req.ActorID,
	)

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		http.Error(w, `{"error":"user management not available"}`, http.StatusServiceUnavailable)
		return
	}

	profiles, err := s.users.ListProfiles(r.Context(), limitQuery(r))
	if err != nil {
		s.writeStoreError(w, "list users", err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

type setRoleRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		http.Error(w, `{"error":"user management not available"}`, http.StatusServiceUnavailable)
		return
	}

	var req setRoleRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if req.UserID == "" {
		http.Error(w, `{"error":"user_id is required"}`, http.StatusBadRequest)
		return
	}

	role := model.Role(req.Role)
	if role != model.RoleUser && role != model.RoleAdmin {
		http.Error(w, `{"error":"role must be user or admin"}`, http.StatusBadRequest)
		return
	}

	if err := s.users.SetRole(r.Context(), req.UserID, role); err != nil {
		s.writeStoreError(w, "set role", err)
		return
	}

	s.logger.Info("user role changed via admin API", "user_id", req.UserID, "role", req.Role)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type overviewResponse struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"by_status"`
	Flagged  int            `json:"flagged"`
	Degraded int            `json:"degraded"`
}

// handleOverview summarizes recent swaps for the dashboard: a status
// histogram over up to the most recent 500 records.
func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListAll(r.Context(), 500)
	if err != nil {
		s.writeStoreError(w, "overview", err)
		return
	}

	resp := overviewResponse{ByStatus: make(map[string]int)}
	for _, rec := range records {
		resp.Total++
		resp.ByStatus[rec.Status.String()]++
		if rec.Status == model.StatusFlagged {
			resp.Flagged++
		}
		if rec.Degraded {
			resp.Degraded++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.healthProvider == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusOK, s.healthProvider.HealthSnapshot())
}
