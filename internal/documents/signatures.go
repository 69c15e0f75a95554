package documents

import (
	"context"
	"fmt"
	"strings"

	"etmf-portal/portal-backend/internal/auth"
	"etmf-portal/portal-backend/pkg/workflows"
)

// ReviewForm is the reviewer's decision on a document in review
type ReviewForm struct {
	Decision workflows.Decision `json:"status"`
	Comments string             `json:"comments"`
}

// ApprovalForm is the approver's decision. Signature is an opaque attestation
// string, not a cryptographic signature.
type ApprovalForm struct {
	Decision  workflows.Decision `json:"status"`
	Comments  string             `json:"comments"`
	Signature string             `json:"signature"`
}

// DefaultSignature is the attestation used when an approver leaves the
// signature blank
func DefaultSignature(approverName string) string {
	return fmt.Sprintf("Signed by %s", approverName)
}

// SubmitReview submits a review decision. Comments are always required.
func (s *WorkflowService) SubmitReview(ctx context.Context, doc *Document, actor auth.Actor, form ReviewForm) (*Document, error) {
	return s.Submit(ctx, doc, actor, form.Action())
}

// SubmitApproval submits an approval decision, filling in the default
// signature when none was given
func (s *WorkflowService) SubmitApproval(ctx context.Context, doc *Document, actor auth.Actor, form ApprovalForm) (*Document, error) {
	return s.Submit(ctx, doc, actor, form.Action(actor))
}

// Action converts the form into a workflow action
func (f ReviewForm) Action() WorkflowAction {
	return WorkflowAction{
		Action:   workflows.ActionReview,
		Decision: f.Decision,
		Comment:  f.Comments,
	}
}

// Action converts the form into a workflow action signed by actor
func (f ApprovalForm) Action(actor auth.Actor) WorkflowAction {
	signature := strings.TrimSpace(f.Signature)
	if signature == "" {
		signature = DefaultSignature(actor.DisplayName())
	}
	return WorkflowAction{
		Action:    workflows.ActionApproval,
		Decision:  f.Decision,
		Comment:   f.Comments,
		Signature: signature,
	}
}
