// Package workflow is the HTTP surface of the engine: load, save,
// validate and execute workflow graphs. Tenant resolution and auth live
// upstream; handlers trust the tenant_id already present on stored
// graphs and in request bodies.
package workflow

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"

	"flowcore/services/audit"
	"flowcore/services/engine"
	"flowcore/services/graph"
	"flowcore/services/saga"
)

// GraphRepo abstracts graph persistence for testability.
type GraphRepo interface {
	Get(ctx context.Context, id string) (*graph.Graph, error)
	GetVersion(ctx context.Context, id string, version int) (*graph.Graph, error)
	Save(ctx context.Context, g *graph.Graph) error
	ListByTenant(ctx context.Context, tenantID string) ([]*graph.Graph, error)
	Delete(ctx context.Context, id string) error
}

// Runner executes a graph for one run.
type Runner interface {
	Execute(ctx context.Context, g *graph.Graph, input engine.RunInput) *engine.Report
}

// Service wires together the repository and execution engine for the
// workflow domain.
type Service struct {
	repo   GraphRepo
	runner Runner
	audits *audit.Manager
	sagas  *saga.Coordinator
	tools  engine.ToolInvoker
	logger *slog.Logger
}

// NewService creates a Service backed by a PostgreSQL repository and the
// given runner. Every execution is recorded through the audit manager;
// failed runs roll back their compensable tool invocations through the
// saga coordinator.
func NewService(pool *pgxpool.Pool, runner Runner, audits *audit.Manager, sagas *saga.Coordinator, tools engine.ToolInvoker, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   graph.NewRepository(pool),
		runner: runner,
		audits: audits,
		sagas:  sagas,
		tools:  tools,
		logger: logger,
	}, nil
}

// jsonMiddleware sets the Content-Type header to application/json.
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// LoadRoutes registers workflow HTTP handlers on the given router.
func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/workflows").Subrouter()
	router.StrictSlash(false)
	router.Use(jsonMiddleware)

	router.HandleFunc("", s.HandleListWorkflows).Methods("GET")
	router.HandleFunc("/{id}", s.HandleGetWorkflow).Methods("GET")
	router.HandleFunc("/{id}", s.HandleSaveWorkflow).Methods("PUT")
	router.HandleFunc("/{id}", s.HandleDeleteWorkflow).Methods("DELETE")
	router.HandleFunc("/{id}/validate", s.HandleValidateWorkflow).Methods("POST")
	router.HandleFunc("/{id}/execute", s.HandleExecuteWorkflow).Methods("POST")
}
