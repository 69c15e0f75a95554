package documents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ResyncManager periodically re-fetches projected documents so changes made
// elsewhere (another tab, another user) eventually reach connected views
type ResyncManager struct {
	cron      *cron.Cron
	schedule  string
	repo      Repository
	projector *Projector
	timeout   time.Duration
	logger    *zap.Logger
	mu        sync.Mutex
	running   bool
}

func NewResyncManager(schedule string, repo Repository, projector *Projector, timeout time.Duration, logger *zap.Logger) *ResyncManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ResyncManager{
		cron:      cron.New(),
		schedule:  schedule,
		repo:      repo,
		projector: projector,
		timeout:   timeout,
		logger:    logger,
	}
}

// Start schedules the resync job
func (m *ResyncManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("resync manager already running")
	}
	if _, err := m.cron.AddFunc(m.schedule, func() { m.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid resync schedule %q: %w", m.schedule, err)
	}

	m.logger.Info("Starting projection resync", zap.String("schedule", m.schedule))
	m.cron.Start()
	m.running = true
	return nil
}

// Stop stops the scheduler and waits for a running job to finish
func (m *ResyncManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	<-m.cron.Stop().Done()
	m.running = false
	m.logger.Info("Projection resync stopped")
}

// RunOnce re-fetches every projected document. Deleted documents are evicted.
func (m *ResyncManager) RunOnce(ctx context.Context) {
	ids := m.projector.ProjectedIDs()
	if len(ids) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	refreshed, evicted, failed, superseded := 0, 0, 0, 0
	for _, id := range ids {
		gen, ok := m.projector.Generation(id)
		if !ok {
			continue
		}
		doc, err := m.repo.GetDocument(ctx, id)
		switch {
		case errors.Is(err, ErrDocumentNotFound):
			m.projector.Evict(id)
			evicted++
		case err != nil:
			failed++
			m.logger.Debug("Resync fetch failed", zap.String("document_id", id), zap.Error(err))
		default:
			if held, ok := m.projector.Document(id); ok && sameRevision(held, doc) {
				continue
			}
			// a submission landing during the fetch is newer than doc
			if !m.projector.ApplyIfGeneration(ctx, doc, gen) {
				superseded++
				continue
			}
			refreshed++
		}
	}

	m.logger.Info("Projection resync complete",
		zap.Int("refreshed", refreshed),
		zap.Int("evicted", evicted),
		zap.Int("failed", failed),
		zap.Int("superseded", superseded))
}

// sameRevision reports whether b carries nothing a view would render
// differently from a
func sameRevision(a, b *Document) bool {
	if a.Status != b.Status || a.CurrentVersion != b.CurrentVersion {
		return false
	}
	am, bm := a.Metadata, b.Metadata
	if am.Title != bm.Title || am.Category != bm.Category || am.StudyID != bm.StudyID ||
		am.Site != bm.Site || am.Author != bm.Author {
		return false
	}
	return len(MergeAuditTrail(a.AuditTrail, b.AuditTrail)) == len(a.AuditTrail)
}
