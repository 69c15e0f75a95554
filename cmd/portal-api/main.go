package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"etmf-portal/portal-backend/internal/api"
	"etmf-portal/portal-backend/internal/auth"
	"etmf-portal/portal-backend/internal/config"
	"etmf-portal/portal-backend/internal/documents"
	"etmf-portal/portal-backend/internal/notifications"
	"etmf-portal/portal-backend/internal/notifications/websocket"
	"etmf-portal/portal-backend/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	zlog, err := logger.NewLogger(cfg.Environment, cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	policy, err := documents.LoadPolicy(cfg.Workflow.PolicyFile, cfg.Workflow.ApprovalFinalizes)
	if err != nil {
		zlog.Fatal("Invalid workflow policy", zap.Error(err))
	}
	zlog.Info("Workflow policy loaded",
		zap.String("file", cfg.Workflow.PolicyFile),
		zap.Bool("approval_finalizes", policy.StateMachine().ApprovalFinalizes()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Document module
	repo := documents.NewRepository(documents.APIConfig{
		BaseURL: cfg.DocumentAPI.BaseURL,
		Token:   cfg.DocumentAPI.Token,
		Timeout: cfg.DocumentAPI.Timeout,
	}, nil, zlog)
	cache := documents.NewProjectionCache(cfg.Projection.TTL)
	defer cache.Stop()
	projector := documents.NewProjector(policy, cache, zlog)
	workflowService := documents.NewWorkflowService(repo, policy, zlog)
	documentService := documents.NewService(repo, workflowService, projector, zlog)
	documentHandler := documents.NewHandler(documentService, zlog)

	// Dependent views
	projector.Subscribe(documents.NewPanelRefresher(repo, projector, cfg.Projection.PanelTimeout, zlog))

	realtime := websocket.NewManager(cfg.Server.AllowedOrigins, zlog)
	defer realtime.Shutdown()
	projector.Subscribe(realtime)

	if cfg.Notifications.SNSTopicARN != "" {
		publisher, err := notifications.NewSNSPublisher(ctx, cfg.Notifications.AWSRegion, cfg.Notifications.SNSTopicARN, zlog)
		if err != nil {
			zlog.Fatal("Failed to initialize SNS publisher", zap.Error(err))
		}
		projector.Subscribe(publisher)
		zlog.Info("Publishing document transitions", zap.String("topic_arn", cfg.Notifications.SNSTopicARN))
	}

	resync := documents.NewResyncManager(cfg.Projection.ResyncSchedule, repo, projector, 0, zlog)
	if err := resync.Start(ctx); err != nil {
		zlog.Fatal("Failed to start projection resync", zap.Error(err))
	}
	defer resync.Stop()

	// Setup Router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Dependencies{
		Documents:      documentHandler,
		Auth:           auth.NewHandler(),
		Verifier:       auth.NewTokenVerifier(cfg.Security.JWTSecret, cfg.Security.JWTIssuer),
		Realtime:       realtime.Serve,
		Cache:          cache,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         zlog,
	})

	// Start Server
	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("listen", zap.Error(err))
		}
	}()

	zlog.Info("Server started",
		zap.String("addr", srv.Addr),
		zap.String("document_api", cfg.DocumentAPI.BaseURL))

	// Graceful Shutdown
	<-ctx.Done()
	zlog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("Server forced to shutdown", zap.Error(err))
	}

	zlog.Info("Server exiting")
}
