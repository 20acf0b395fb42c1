package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"flowcore/pkg/config"
	"flowcore/pkg/db"
	"flowcore/services/audit"
	"flowcore/services/engine"
	"flowcore/services/graph"
	"flowcore/services/saga"
	"flowcore/services/workflow"
)

func main() {
	ctx := context.Background()
	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	})
	slog.SetDefault(slog.New(logHandler))

	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return
	}
	if cfg.DB.URL == "" {
		slog.Error("Database URL is not set (DATABASE_URL or FLOWCORE_DB_URL)")
		return
	}

	pool, err := db.Connect(ctx, cfg.DB.URL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		return
	}
	defer pool.Close()

	graphRepo := graph.NewRepository(pool)
	if err := graphRepo.InitSchema(ctx); err != nil {
		slog.Error("Failed to initialize workflow schema", "error", err)
		return
	}
	if err := graphRepo.Seed(ctx); err != nil {
		slog.Error("Failed to seed workflows", "error", err)
		return
	}

	auditStore := audit.NewPostgresStore(pool)
	if err := auditStore.InitSchema(ctx); err != nil {
		slog.Error("Failed to initialize audit schema", "error", err)
		return
	}
	auditMgr := audit.NewManager(auditStore, cfg.AuditRetention(), slog.Default())

	toolInvoker := engine.NewHTTPToolInvoker(cfg.Invokers.ToolBaseURL)
	executor := engine.NewExecutor(
		engine.NewHTTPAgentInvoker(cfg.Invokers.AgentBaseURL),
		toolInvoker,
		engine.NewWebhookClient(),
		slog.Default(),
	)

	sagaCoord := saga.NewCoordinator(auditMgr, saga.Config{
		MaxAttempts: cfg.Saga.MaxAttempts,
		BaseDelay:   cfg.SagaBaseDelay(),
	}, slog.Default())

	// setup router
	mainRouter := mux.NewRouter()

	apiRouter := mainRouter.PathPrefix("/api/v1").Subrouter()

	workflowService, err := workflow.NewService(pool, executor, auditMgr, sagaCoord, toolInvoker, slog.Default())
	if err != nil {
		slog.Error("Failed to create workflow service", "error", err)
		return
	}

	workflowService.LoadRoutes(apiRouter)
	audit.NewHTTPService(auditMgr, slog.Default()).LoadRoutes(apiRouter)

	corsHandler := handlers.CORS(
		handlers.AllowedOrigins(cfg.Server.CORSOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		handlers.AllowCredentials(),
	)(mainRouter)

	srv := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: corsHandler,
	}

	serverErrors := make(chan error, 1)

	go func() {
		slog.Info("Starting server", "addr", cfg.Server.ListenAddr)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		slog.Error("Server error", "error", err)

	case sig := <-shutdown:
		slog.Info("Shutdown signal received", "signal", sig)

		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Could not stop server gracefully", "error", err)
			srv.Close()
		}
	}
}
