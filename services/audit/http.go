package audit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// Service is the HTTP surface of the audit trail: entry lookups, actor
// and type queries, on-demand compensation and actor purge. Tenancy is
// explicit via the tenant_id query parameter until upstream auth owns it.
type Service struct {
	mgr    *Manager
	logger *slog.Logger
}

// NewHTTPService wraps a Manager with HTTP handlers.
func NewHTTPService(mgr *Manager, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{mgr: mgr, logger: logger}
}

// LoadRoutes registers audit HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/audit").Subrouter()
	router.StrictSlash(false)
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/entries/{id}", s.HandleGetEntry).Methods("GET")
	router.HandleFunc("/entries/{id}/compensate", s.HandleCompensate).Methods("POST")
	router.HandleFunc("/actors/{actor_id}", s.HandleGetByActor).Methods("GET")
	router.HandleFunc("/actors/{actor_id}", s.HandlePurgeActor).Methods("DELETE")
	router.HandleFunc("/actors/{actor_id}/compensable", s.HandleCompensableCandidates).Methods("GET")
	router.HandleFunc("/types/{type}", s.HandleGetByType).Methods("GET")
	router.HandleFunc("/types/{type}/counts", s.HandleCounts).Methods("GET")
}

func tenantID(r *http.Request) string {
	return r.URL.Query().Get("tenant_id")
}

// HandleGetEntry returns a single audit entry.
func (s *Service) HandleGetEntry(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeAuditError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	id := mux.Vars(r)["id"]

	e, err := s.mgr.GetByID(r.Context(), tenant, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeAuditError(w, http.StatusNotFound, "audit entry not found")
			return
		}
		s.logger.Error("Failed to get audit entry", "id", id, "error", err)
		writeAuditError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(e)
}

// CompensateRequest is the body of POST /audit/entries/{id}/compensate.
type CompensateRequest struct {
	Reason string `json:"reason"`
	By     string `json:"by"`
}

// HandleCompensate marks a successful, compensable entry as compensated.
func (s *Service) HandleCompensate(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeAuditError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	id := mux.Vars(r)["id"]

	var req CompensateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAuditError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Reason == "" {
		writeAuditError(w, http.StatusBadRequest, "reason is required")
		return
	}

	err := s.mgr.Compensate(r.Context(), tenant, id, req.Reason, req.By)
	if err != nil {
		var stateErr *InvalidStateError
		switch {
		case errors.Is(err, ErrNotFound):
			writeAuditError(w, http.StatusNotFound, "audit entry not found")
		case errors.As(err, &stateErr):
			writeAuditError(w, http.StatusConflict, stateErr.Error())
		default:
			s.logger.Error("Failed to compensate audit entry", "id", id, "error", err)
			writeAuditError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	e, err := s.mgr.GetByID(r.Context(), tenant, id)
	if err != nil {
		s.logger.Error("Failed to reload compensated entry", "id", id, "error", err)
		writeAuditError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(e)
}

// HandleGetByActor returns an actor's entries newest first. Optional
// type and limit query parameters narrow the result.
func (s *Service) HandleGetByActor(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeAuditError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	actor := mux.Vars(r)["actor_id"]

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeAuditError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.mgr.GetByActor(r.Context(), tenant, actor, r.URL.Query().Get("type"), limit)
	if err != nil {
		s.logger.Error("Failed to query audit entries by actor", "actor", actor, "error", err)
		writeAuditError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(entries)
}

// HandlePurgeActor deletes all of an actor's entries, for data removal
// requests.
func (s *Service) HandlePurgeActor(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeAuditError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	actor := mux.Vars(r)["actor_id"]

	n, err := s.mgr.PurgeActor(r.Context(), tenant, actor)
	if err != nil {
		s.logger.Error("Failed to purge audit entries", "actor", actor, "error", err)
		writeAuditError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]int{"purged": n})
}

// HandleCompensableCandidates lists successful, compensable entries for
// an actor, optionally scoped to one conversation.
func (s *Service) HandleCompensableCandidates(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeAuditError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	actor := mux.Vars(r)["actor_id"]

	entries, err := s.mgr.CompensableCandidates(r.Context(), tenant, actor, r.URL.Query().Get("conversation_id"))
	if err != nil {
		s.logger.Error("Failed to list compensable entries", "actor", actor, "error", err)
		writeAuditError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(entries)
}

// HandleGetByType returns entries of one action type, optionally
// filtered by status.
func (s *Service) HandleGetByType(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeAuditError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	actionType := mux.Vars(r)["type"]

	entries, err := s.mgr.GetByType(r.Context(), tenant, actionType, Status(r.URL.Query().Get("status")))
	if err != nil {
		s.logger.Error("Failed to query audit entries by type", "type", actionType, "error", err)
		writeAuditError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(entries)
}

// HandleCounts returns per-status counts for one action type.
func (s *Service) HandleCounts(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	if tenant == "" {
		writeAuditError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}
	actionType := mux.Vars(r)["type"]

	counts, err := s.mgr.CountsByType(r.Context(), tenant, actionType)
	if err != nil {
		s.logger.Error("Failed to count audit entries", "type", actionType, "error", err)
		writeAuditError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(counts)
}

func writeAuditError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
