package documents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"etmf-portal/portal-backend/internal/auth"
	"etmf-portal/portal-backend/pkg/workflows"
)

// WorkflowAction is an action chosen by a user together with its inputs. It
// only exists for the duration of one submission.
type WorkflowAction struct {
	Action    workflows.Action   `json:"action"`
	Decision  workflows.Decision `json:"decision,omitempty"`
	Comment   string             `json:"comment,omitempty"`
	Signature string             `json:"signature,omitempty"`
}

// WorkflowService validates workflow actions and submits them to the backend
type WorkflowService struct {
	repo   Repository
	policy *Policy
	logger *zap.Logger
}

func NewWorkflowService(repo Repository, policy *Policy, logger *zap.Logger) *WorkflowService {
	return &WorkflowService{repo: repo, policy: policy, logger: logger}
}

// Policy returns the table actions are checked against
func (s *WorkflowService) Policy() *Policy {
	return s.policy
}

// Submit checks that the action is legal for the document and actor, that
// the required inputs are present, and then sends exactly one request. It
// never retries and never touches any projection; on success the returned
// document is the server's authoritative state.
func (s *WorkflowService) Submit(ctx context.Context, doc *Document, actor auth.Actor, wa WorkflowAction) (*Document, error) {
	if actor.ID == "" {
		return nil, validationError("actor is required")
	}
	if wa.Action.NeedsDecision() && !wa.Decision.Valid() {
		return nil, validationError("decision must be APPROVED or REJECTED")
	}

	spec, ok := s.policy.Lookup(doc.Status, actor.Role, wa.Action, wa.Decision)
	if !ok {
		return nil, &WorkflowError{
			Kind:    KindValidation,
			Message: fmt.Sprintf("%s is not available for a %s document", wa.Action, doc.Status),
			Err:     ErrActionNotAvailable,
		}
	}

	comment := strings.TrimSpace(wa.Comment)
	signature := strings.TrimSpace(wa.Signature)
	if signature == "" && spec.Endpoint == EndpointApprove {
		signature = DefaultSignature(actor.DisplayName())
	}
	if spec.RequiresComment && comment == "" {
		return nil, validationError("comment required")
	}
	if spec.RequiresSignature && signature == "" {
		return nil, validationError("signature required")
	}

	var (
		updated *Document
		err     error
	)
	switch spec.Endpoint {
	case EndpointReview:
		updated, err = s.repo.PostReview(ctx, doc.ID, ReviewRequest{
			ReviewerID:   actor.ID,
			ReviewerName: actor.DisplayName(),
			Status:       spec.Decision,
			Comments:     comment,
		})
	case EndpointApprove:
		updated, err = s.repo.PostApproval(ctx, doc.ID, ApprovalRequest{
			ApproverID:   actor.ID,
			ApproverName: actor.DisplayName(),
			Status:       spec.Decision,
			Comments:     comment,
			Signature:    signature,
		})
	default:
		updated, err = s.repo.PostWorkflow(ctx, doc.ID, WorkflowRequest{
			Action:    spec.Action,
			UserID:    actor.ID,
			UserName:  actor.DisplayName(),
			Comment:   comment,
			Signature: signature,
		})
	}
	if err != nil {
		s.logger.Warn("Workflow submission failed",
			zap.String("document_id", doc.ID),
			zap.String("action", string(spec.Action)),
			zap.String("decision", string(spec.Decision)),
			zap.String("actor_id", actor.ID),
			zap.Error(err))
		return nil, err
	}

	if updated.ID != doc.ID {
		s.logger.Warn("Rejected response for another document",
			zap.String("document_id", doc.ID),
			zap.String("response_document_id", updated.ID),
			zap.String("action", string(spec.Action)))
		return nil, malformedError(fmt.Errorf("response is for document %s, not %s", updated.ID, doc.ID))
	}

	if want, ok := s.policy.StateMachine().Target(doc.Status, spec.Action, spec.Decision); ok && want != updated.Status {
		// the server is authoritative; the mismatch is only worth noting
		s.logger.Warn("Unexpected status after transition",
			zap.String("document_id", doc.ID),
			zap.String("action", string(spec.Action)),
			zap.String("expected", string(want)),
			zap.String("actual", string(updated.Status)))
	}

	s.logger.Info("Workflow action submitted",
		zap.String("document_id", doc.ID),
		zap.String("action", string(spec.Action)),
		zap.String("decision", string(spec.Decision)),
		zap.String("actor_id", actor.ID),
		zap.String("status", string(updated.Status)))

	return updated, nil
}
