package documents

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"etmf-portal/portal-backend/pkg/workflows"
)

// PanelRefresher re-fetches the audit trail and version history of a document
// each time it is projected
type PanelRefresher struct {
	repo      Repository
	projector *Projector
	timeout   time.Duration
	logger    *zap.Logger
}

func NewPanelRefresher(repo Repository, projector *Projector, timeout time.Duration, logger *zap.Logger) *PanelRefresher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PanelRefresher{repo: repo, projector: projector, timeout: timeout, logger: logger}
}

// DocumentProjected implements Listener. Failures leave the previous panels
// in place; they never undo the projection.
func (r *PanelRefresher) DocumentProjected(ctx context.Context, doc *Document, _ workflows.Status) {
	if err := r.Refresh(ctx, doc.ID); err != nil {
		r.logger.Warn("Failed to refresh document panels",
			zap.String("document_id", doc.ID),
			zap.Error(err))
	}
}

// Refresh fetches both panels concurrently and stores them on the projection
func (r *PanelRefresher) Refresh(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var (
		audit    []AuditEntry
		versions []Version
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		audit, err = r.repo.ListAuditLog(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		versions, err = r.repo.ListVersions(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}

	r.projector.UpdatePanels(id, audit, versions)
	return nil
}
