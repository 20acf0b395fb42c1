package workflow

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"flowcore/services/audit"
	"flowcore/services/engine"
	"flowcore/services/graph"
)

// ExecuteRequest is the body of POST /workflows/{id}/execute.
type ExecuteRequest struct {
	Message        string         `json:"message"`
	ActorID        string         `json:"actor_id"`
	ConversationID string         `json:"conversation_id"`
	Context        map[string]any `json:"context,omitempty"`
}

// SaveResponse returns the stored graph together with its validation
// report. Drafts with validation errors are stored; they fail fast at
// execution time instead.
type SaveResponse struct {
	Workflow   *graph.Graph           `json:"workflow"`
	Validation graph.ValidationReport `json:"validation"`
}

// HandleListWorkflows returns the latest version of every workflow owned
// by a tenant.
func (s *Service) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id query parameter is required")
		return
	}

	graphs, err := s.repo.ListByTenant(r.Context(), tenantID)
	if err != nil {
		s.logger.Error("Failed to list workflows", "tenant", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(graphs)
}

// HandleGetWorkflow loads a workflow definition and returns it as JSON.
// The optional version query parameter selects a historical version.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.logger.Debug("Getting workflow", "id", id)

	var (
		g   *graph.Graph
		err error
	)
	if v := r.URL.Query().Get("version"); v != "" {
		version, convErr := strconv.Atoi(v)
		if convErr != nil || version < 1 {
			writeError(w, http.StatusBadRequest, "version must be a positive integer")
			return
		}
		g, err = s.repo.GetVersion(r.Context(), id, version)
	} else {
		g, err = s.repo.Get(r.Context(), id)
	}
	if err != nil {
		s.logger.Error("Failed to get workflow", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(g)
}

// HandleSaveWorkflow stores the posted document as the next version of
// the workflow. The path id wins over any id in the body.
func (s *Service) HandleSaveWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.logger.Debug("Saving workflow", "id", id)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}

	g, err := graph.Unmarshal(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g.ID = id
	if g.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	if err := s.repo.Save(r.Context(), g); err != nil {
		s.logger.Error("Failed to save workflow", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(SaveResponse{Workflow: g, Validation: g.Validate()})
}

// HandleDeleteWorkflow removes a workflow and all of its versions.
func (s *Service) HandleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.logger.Debug("Deleting workflow", "id", id)

	if err := s.repo.Delete(r.Context(), id); err != nil {
		s.logger.Error("Failed to delete workflow", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleValidateWorkflow runs structural validation against the stored
// workflow and returns the full report.
func (s *Service) HandleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	g, err := s.repo.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to get workflow for validation", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(g.Validate())
}

// HandleExecuteWorkflow parses execution input, runs the workflow graph
// and returns the run report. A failed run is still a successful HTTP
// exchange; the report carries the failure.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.logger.Debug("Executing workflow", "id", id)

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required")
		return
	}

	g, err := s.repo.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("Failed to get workflow for execution", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if g == nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	var auditID string
	if s.audits != nil {
		entry := s.audits.LogAction(r.Context(), audit.LogRequest{
			TenantID:   g.TenantID,
			ActorID:    req.ActorID,
			ActionType: "workflow_run",
			ActionName: g.Name,
			Input:      map[string]any{"message": req.Message},
			Tags: map[string]string{
				"workflow_id":     g.ID,
				"conversation_id": req.ConversationID,
			},
		})
		auditID = entry.ID
	}

	report := s.runner.Execute(r.Context(), g, engine.RunInput{
		Message:        req.Message,
		ActorID:        req.ActorID,
		ConversationID: req.ConversationID,
		Context:        req.Context,
	})

	if s.audits != nil {
		duration := report.CompletedAt.Sub(report.StartedAt)
		if report.Status == engine.RunSuccess {
			s.audits.MarkSuccess(r.Context(), g.TenantID, auditID, report.FinalOutput, duration)
		} else {
			s.audits.MarkFailed(r.Context(), g.TenantID, auditID, strings.Join(report.Errors, "; "), duration)
		}
	}

	if report.Status == engine.RunFailed && s.sagas != nil {
		if out := s.rollbackCompensables(r.Context(), g, req.ActorID, report); out != nil {
			s.logger.Info("Rolled back compensable actions",
				"workflow", g.ID, "run", report.RunID, "compensated", out.Compensated)
		}
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(report)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": message})
}
