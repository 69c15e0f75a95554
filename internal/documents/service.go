package documents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"etmf-portal/portal-backend/internal/auth"
	"etmf-portal/portal-backend/pkg/workflows"
)

type Service interface {
	GetDocument(ctx context.Context, id string, actor auth.Actor) (*View, error)
	ListDocuments(ctx context.Context, filter ListFilter) ([]Document, error)
	DeleteDocument(ctx context.Context, id string, actor auth.Actor) error

	AvailableActions(ctx context.Context, id string, actor auth.Actor) ([]ActionSpec, error)
	SubmitAction(ctx context.Context, id string, actor auth.Actor, action WorkflowAction) (*View, error)
	SubmitReview(ctx context.Context, id string, actor auth.Actor, form ReviewForm) (*View, error)
	SubmitApproval(ctx context.Context, id string, actor auth.Actor, form ApprovalForm) (*View, error)

	AuditTrail(ctx context.Context, id string) ([]AuditEntry, error)
	ListVersions(ctx context.Context, id string) ([]Version, error)
	ListReviewers(ctx context.Context, id string) ([]Reviewer, error)
	AssignReviewer(ctx context.Context, id string, actor auth.Actor, reviewer Reviewer) error
}

type documentService struct {
	repo      Repository
	workflow  *WorkflowService
	projector *Projector
	logger    *zap.Logger
}

func NewService(repo Repository, workflow *WorkflowService, projector *Projector, logger *zap.Logger) Service {
	return &documentService{
		repo:      repo,
		workflow:  workflow,
		projector: projector,
		logger:    logger,
	}
}

// load returns the projected document, fetching and projecting it on a miss
func (s *documentService) load(ctx context.Context, id string) (*Document, error) {
	if doc, ok := s.projector.Document(id); ok {
		return doc, nil
	}
	doc, err := s.repo.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	s.projector.Apply(ctx, doc)
	return doc, nil
}

func (s *documentService) view(ctx context.Context, id string, role workflows.Role) (*View, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	v, ok := s.projector.Snapshot(id, role)
	if !ok {
		// evicted between load and snapshot
		return nil, fmt.Errorf("document %s: %w", id, ErrDocumentNotFound)
	}
	return &v, nil
}

func (s *documentService) GetDocument(ctx context.Context, id string, actor auth.Actor) (*View, error) {
	return s.view(ctx, id, actor.Role)
}

func (s *documentService) ListDocuments(ctx context.Context, filter ListFilter) ([]Document, error) {
	return s.repo.ListDocuments(ctx, filter)
}

func (s *documentService) DeleteDocument(ctx context.Context, id string, actor auth.Actor) error {
	if actor.Role != workflows.RoleAdmin {
		return &WorkflowError{Kind: KindValidation, Message: "only administrators can delete documents", Err: ErrActionNotAvailable}
	}
	if err := s.repo.DeleteDocument(ctx, id); err != nil {
		return err
	}
	s.projector.Evict(id)
	s.logger.Info("Document deleted", zap.String("document_id", id), zap.String("actor_id", actor.ID))
	return nil
}

func (s *documentService) AvailableActions(ctx context.Context, id string, actor auth.Actor) ([]ActionSpec, error) {
	v, err := s.view(ctx, id, actor.Role)
	if err != nil {
		return nil, err
	}
	return v.Actions, nil
}

func (s *documentService) SubmitAction(ctx context.Context, id string, actor auth.Actor, action WorkflowAction) (*View, error) {
	return s.submit(ctx, id, actor, action.Action, func(doc *Document) (*Document, error) {
		return s.workflow.Submit(ctx, doc, actor, action)
	})
}

func (s *documentService) SubmitReview(ctx context.Context, id string, actor auth.Actor, form ReviewForm) (*View, error) {
	return s.submit(ctx, id, actor, workflows.ActionReview, func(doc *Document) (*Document, error) {
		return s.workflow.SubmitReview(ctx, doc, actor, form)
	})
}

func (s *documentService) SubmitApproval(ctx context.Context, id string, actor auth.Actor, form ApprovalForm) (*View, error) {
	return s.submit(ctx, id, actor, workflows.ActionApproval, func(doc *Document) (*Document, error) {
		return s.workflow.SubmitApproval(ctx, doc, actor, form)
	})
}

// submit holds the latch for the action while the request is in flight and
// projects the result only once the server has confirmed it
func (s *documentService) submit(ctx context.Context, id string, actor auth.Actor, action workflows.Action, send func(*Document) (*Document, error)) (*View, error) {
	release, err := s.projector.Acquire(id, actor.ID, action)
	if err != nil {
		return nil, err
	}
	defer release()

	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	updated, err := send(doc)
	if err != nil {
		return nil, err
	}

	s.projector.Apply(ctx, updated)
	return s.view(ctx, id, actor.Role)
}

func (s *documentService) AuditTrail(ctx context.Context, id string) ([]AuditEntry, error) {
	fetched, err := s.repo.ListAuditLog(ctx, id)
	if err != nil {
		return nil, err
	}
	s.projector.UpdatePanels(id, fetched, nil)
	if doc, ok := s.projector.Document(id); ok {
		return SortedForDisplay(doc.AuditTrail), nil
	}
	return SortedForDisplay(fetched), nil
}

func (s *documentService) ListVersions(ctx context.Context, id string) ([]Version, error) {
	versions, err := s.repo.ListVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	s.projector.UpdatePanels(id, nil, versions)
	return versions, nil
}

func (s *documentService) ListReviewers(ctx context.Context, id string) ([]Reviewer, error) {
	return s.repo.ListReviewers(ctx, id)
}

func (s *documentService) AssignReviewer(ctx context.Context, id string, actor auth.Actor, reviewer Reviewer) error {
	if actor.Role != workflows.RoleAdmin {
		return &WorkflowError{Kind: KindValidation, Message: "only administrators can assign reviewers", Err: ErrActionNotAvailable}
	}
	if strings.TrimSpace(reviewer.ReviewerID) == "" {
		return validationError("reviewer id required")
	}
	if err := s.repo.AssignReviewer(ctx, id, reviewer); err != nil {
		return err
	}
	s.logger.Info("Reviewer assigned",
		zap.String("document_id", id),
		zap.String("reviewer_id", reviewer.ReviewerID),
		zap.String("actor_id", actor.ID))
	return nil
}
