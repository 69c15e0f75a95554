package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"etmf-portal/portal-backend/internal/config"
	"etmf-portal/portal-backend/internal/documents"
	"etmf-portal/portal-backend/internal/notifications"
	"etmf-portal/portal-backend/pkg/logger"
	"etmf-portal/portal-backend/pkg/workflows"
)

// TransitionWorker polls the document listing and projects every document it
// sees, so status changes made by any client reach the projector's listeners
type TransitionWorker struct {
	repo      documents.Repository
	projector *documents.Projector
	logger    *zap.Logger
	config    TransitionWorkerConfig
	done      chan struct{}
	stopOnce  sync.Once
}

// TransitionWorkerConfig configuration for the transition worker
type TransitionWorkerConfig struct {
	PollInterval  time.Duration
	MaxConcurrent int
	Filter        documents.ListFilter
}

// DefaultTransitionWorkerConfig returns default configuration
func DefaultTransitionWorkerConfig() TransitionWorkerConfig {
	return TransitionWorkerConfig{
		PollInterval:  30 * time.Second,
		MaxConcurrent: 5,
	}
}

func NewTransitionWorker(repo documents.Repository, projector *documents.Projector, logger *zap.Logger, config TransitionWorkerConfig) *TransitionWorker {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = 1
	}
	return &TransitionWorker{
		repo:      repo,
		projector: projector,
		logger:    logger,
		config:    config,
		done:      make(chan struct{}),
	}
}

// Start polls until ctx is cancelled or Stop is called
func (w *TransitionWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting transition worker",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("max_concurrent", w.config.MaxConcurrent))

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Transition worker shutting down")
			return nil
		case <-w.done:
			w.logger.Info("Transition worker stopped")
			return nil
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// Stop stops the worker
func (w *TransitionWorker) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// poll projects the current listing and evicts documents that left it
func (w *TransitionWorker) poll(ctx context.Context) {
	docs, err := w.repo.ListDocuments(ctx, w.config.Filter)
	if err != nil {
		w.logger.Error("Failed to list documents", zap.Error(err))
		return
	}

	seen := make(map[string]bool, len(docs))
	sem := make(chan struct{}, w.config.MaxConcurrent)
	var wg sync.WaitGroup

	for i := range docs {
		doc := &docs[i]
		if err := doc.Validate(); err != nil {
			w.logger.Warn("Skipping malformed document", zap.Error(err))
			continue
		}
		seen[doc.ID] = true

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			w.projector.Apply(ctx, doc)
		}()
	}
	wg.Wait()

	for _, id := range w.projector.ProjectedIDs() {
		if !seen[id] {
			w.projector.Evict(id)
		}
	}
}

func transitionLogger(logger *zap.Logger) documents.ListenerFunc {
	return func(_ context.Context, doc *documents.Document, previous workflows.Status) {
		if previous == "" || previous == doc.Status {
			return
		}
		logger.Info("Document transitioned",
			zap.String("document_id", doc.ID),
			zap.String("from", string(previous)),
			zap.String("to", string(doc.Status)))
	}
}

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON config file")
	studyID := flag.String("study", "", "only watch documents of this study")
	interval := flag.Duration("interval", 30*time.Second, "poll interval")
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := documents.NewRepository(documents.APIConfig{
		BaseURL: cfg.DocumentAPI.BaseURL,
		Token:   cfg.DocumentAPI.Token,
		Timeout: cfg.DocumentAPI.Timeout,
	}, nil, zlog)
	// entries outlive several polls so a slow listing never looks like a deletion
	cache := documents.NewProjectionCache(10 * *interval)
	defer cache.Stop()
	projector := documents.NewProjector(policy, cache, zlog)
	projector.Subscribe(transitionLogger(zlog))

	if cfg.Notifications.SNSTopicARN != "" {
		publisher, err := notifications.NewSNSPublisher(ctx, cfg.Notifications.AWSRegion, cfg.Notifications.SNSTopicARN, zlog)
		if err != nil {
			zlog.Fatal("Failed to initialize SNS publisher", zap.Error(err))
		}
		projector.Subscribe(publisher)
	} else {
		zlog.Warn("SNS_TOPIC_ARN not set, transitions are only logged")
	}

	workerCfg := DefaultTransitionWorkerConfig()
	workerCfg.PollInterval = *interval
	workerCfg.Filter.StudyID = *studyID
	worker := NewTransitionWorker(repo, projector, zlog, workerCfg)

	if err := worker.Start(ctx); err != nil {
		zlog.Error("Worker error", zap.Error(err))
	}

	zlog.Info("Transition worker exited")
}
