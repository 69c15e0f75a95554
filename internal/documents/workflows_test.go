package documents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"etmf-portal/portal-backend/internal/auth"
	"etmf-portal/portal-backend/pkg/workflows"
)

func newWorkflowService(t *testing.T) (*WorkflowService, *MockRepository) {
	t.Helper()
	repo := new(MockRepository)
	return NewWorkflowService(repo, testPolicy(t), zap.NewNop()), repo
}

func TestSubmitForReviewNeedsNoInput(t *testing.T) {
	svc, repo := newWorkflowService(t)
	doc := testDocument("doc-1", workflows.StatusDraft)
	repo.On("PostWorkflow", mock.Anything, "doc-1", WorkflowRequest{
		Action:   workflows.ActionSubmitForReview,
		UserID:   submitter.ID,
		UserName: submitter.Name,
	}).Return(withStatus(doc, workflows.StatusInReview), nil).Once()

	updated, err := svc.Submit(context.Background(), doc, submitter, WorkflowAction{Action: workflows.ActionSubmitForReview})
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusInReview, updated.Status)
	// the caller's document is untouched
	assert.Equal(t, workflows.StatusDraft, doc.Status)
	repo.AssertExpectations(t)
}

func TestRejectionWithoutCommentFailsValidation(t *testing.T) {
	svc, repo := newWorkflowService(t)
	doc := testDocument("doc-1", workflows.StatusInReview)

	for _, comments := range []string{"", "   \n\t"} {
		_, err := svc.SubmitReview(context.Background(), doc, reviewer, ReviewForm{
			Decision: workflows.DecisionRejected,
			Comments: comments,
		})
		var we *WorkflowError
		require.True(t, errors.As(err, &we))
		assert.Equal(t, KindValidation, we.Kind)
		assert.Equal(t, "comment required", we.Message)
	}
	repo.AssertNotCalled(t, "PostReview", mock.Anything, mock.Anything, mock.Anything)
}

func TestRejectionWithCommentIsSent(t *testing.T) {
	svc, repo := newWorkflowService(t)
	doc := testDocument("doc-1", workflows.StatusInReview)
	repo.On("PostReview", mock.Anything, "doc-1", ReviewRequest{
		ReviewerID:   reviewer.ID,
		ReviewerName: reviewer.Name,
		Status:       workflows.DecisionRejected,
		Comments:     "Missing signature page",
	}).Return(withStatus(doc, workflows.StatusDraft), nil).Once()

	updated, err := svc.SubmitReview(context.Background(), doc, reviewer, ReviewForm{
		Decision: workflows.DecisionRejected,
		Comments: "  Missing signature page ",
	})
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusDraft, updated.Status)
	repo.AssertExpectations(t)
}

func TestApprovalDefaultsSignature(t *testing.T) {
	svc, repo := newWorkflowService(t)
	doc := testDocument("doc-1", workflows.StatusApproved)
	repo.On("PostApproval", mock.Anything, "doc-1", ApprovalRequest{
		ApproverID:   approver.ID,
		ApproverName: approver.Name,
		Status:       workflows.DecisionApproved,
		Comments:     "OK",
		Signature:    "Signed by Avery Approver",
	}).Return(withStatus(doc, workflows.StatusFinal), nil).Once()

	updated, err := svc.SubmitApproval(context.Background(), doc, approver, ApprovalForm{
		Decision: workflows.DecisionApproved,
		Comments: "OK",
	})
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusFinal, updated.Status)
	repo.AssertExpectations(t)
}

func TestWorkflowRouteApprovalDefaultsSignature(t *testing.T) {
	svc, repo := newWorkflowService(t)
	doc := testDocument("doc-1", workflows.StatusApproved)
	repo.On("PostApproval", mock.Anything, "doc-1", ApprovalRequest{
		ApproverID:   approver.ID,
		ApproverName: approver.Name,
		Status:       workflows.DecisionApproved,
		Comments:     "OK",
		Signature:    "Signed by Avery Approver",
	}).Return(withStatus(doc, workflows.StatusFinal), nil).Once()

	updated, err := svc.Submit(context.Background(), doc, approver, WorkflowAction{
		Action:    workflows.ActionApproval,
		Decision:  workflows.DecisionApproved,
		Comment:   "OK",
		Signature: " ",
	})
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusFinal, updated.Status)
	repo.AssertExpectations(t)
}

func TestApprovalWithoutCommentFails(t *testing.T) {
	svc, repo := newWorkflowService(t)
	doc := testDocument("doc-1", workflows.StatusApproved)

	_, err := svc.SubmitApproval(context.Background(), doc, approver, ApprovalForm{Decision: workflows.DecisionApproved})
	assert.True(t, IsKind(err, KindValidation))
	repo.AssertNotCalled(t, "PostApproval", mock.Anything, mock.Anything, mock.Anything)
}

func TestExplicitSignatureIsKept(t *testing.T) {
	form := ApprovalForm{Decision: workflows.DecisionApproved, Comments: "OK", Signature: "A. Approver, 2024-03-01"}
	assert.Equal(t, "A. Approver, 2024-03-01", form.Action(approver).Signature)

	anonymous := approver
	anonymous.Name = ""
	blank := ApprovalForm{Decision: workflows.DecisionApproved, Comments: "OK", Signature: "  "}
	assert.Equal(t, "Signed by u-app", blank.Action(anonymous).Signature)
}

func TestSubmitRejectsUnavailableAction(t *testing.T) {
	svc, repo := newWorkflowService(t)

	cases := []struct {
		name   string
		doc    *Document
		actor  auth.Actor
		action WorkflowAction
	}{
		{"wrong role", testDocument("d", workflows.StatusInReview), submitter, WorkflowAction{Action: workflows.ActionReview, Decision: workflows.DecisionApproved, Comment: "x"}},
		{"wrong status", testDocument("d", workflows.StatusDraft), admin, WorkflowAction{Action: workflows.ActionArchive}},
		{"terminal", testDocument("d", workflows.StatusArchived), admin, WorkflowAction{Action: workflows.ActionArchive}},
		{"unknown role", testDocument("d", workflows.StatusDraft), auth.Actor{ID: "u-x", Role: ""}, WorkflowAction{Action: workflows.ActionSubmitForReview}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), tc.doc, tc.actor, tc.action)
			assert.ErrorIs(t, err, ErrActionNotAvailable)
			assert.True(t, IsKind(err, KindValidation))
		})
	}
	assert.Empty(t, repo.Calls)
}

func TestSubmitRequiresDecisionAndActor(t *testing.T) {
	svc, repo := newWorkflowService(t)
	doc := testDocument("doc-1", workflows.StatusInReview)

	_, err := svc.Submit(context.Background(), doc, reviewer, WorkflowAction{Action: workflows.ActionReview, Comment: "fine"})
	assert.True(t, IsKind(err, KindValidation))

	_, err = svc.Submit(context.Background(), doc, auth.Actor{Role: workflows.RoleReviewer}, WorkflowAction{
		Action: workflows.ActionReview, Decision: workflows.DecisionApproved, Comment: "fine",
	})
	assert.True(t, IsKind(err, KindValidation))
	assert.Empty(t, repo.Calls)
}

func TestSubmitSurfacesServerError(t *testing.T) {
	svc, repo := newWorkflowService(t)
	doc := testDocument("doc-1", workflows.StatusFinal)
	repo.On("PostWorkflow", mock.Anything, "doc-1", mock.AnythingOfType("documents.WorkflowRequest")).
		Return(nil, serverError(409, "Document is locked by another user"))

	_, err := svc.Submit(context.Background(), doc, admin, WorkflowAction{Action: workflows.ActionArchive})
	var we *WorkflowError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, KindServer, we.Kind)
	assert.Equal(t, "Document is locked by another user", we.Message)
	assert.False(t, we.Retryable())
}

func TestSubmitRejectsResponseForOtherDocument(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	repo := new(MockRepository)
	svc := NewWorkflowService(repo, testPolicy(t), zap.New(core))
	doc := testDocument("doc-1", workflows.StatusDraft)
	repo.On("PostWorkflow", mock.Anything, "doc-1", mock.AnythingOfType("documents.WorkflowRequest")).
		Return(testDocument("doc-2", workflows.StatusInReview), nil)

	_, err := svc.Submit(context.Background(), doc, submitter, WorkflowAction{Action: workflows.ActionSubmitForReview})
	assert.True(t, IsKind(err, KindMalformedResponse))

	logged := logs.FilterMessage("Rejected response for another document").All()
	require.Len(t, logged, 1)
	assert.Equal(t, "doc-2", logged[0].ContextMap()["response_document_id"])
}

func TestPendingFinalizePolicy(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.ApprovalFinalizes = false
	policy, err := NewPolicy(cfg)
	require.NoError(t, err)

	repo := new(MockRepository)
	svc := NewWorkflowService(repo, policy, zap.NewNop())
	doc := testDocument("doc-1", workflows.StatusApproved)
	repo.On("PostApproval", mock.Anything, "doc-1", mock.AnythingOfType("documents.ApprovalRequest")).
		Return(withStatus(doc, workflows.StatusApproved), nil)
	repo.On("PostWorkflow", mock.Anything, "doc-1", mock.AnythingOfType("documents.WorkflowRequest")).
		Return(withStatus(doc, workflows.StatusFinal), nil)

	updated, err := svc.SubmitApproval(context.Background(), doc, approver, ApprovalForm{Decision: workflows.DecisionApproved, Comments: "OK"})
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusApproved, updated.Status)

	final, err := svc.Submit(context.Background(), updated, admin, WorkflowAction{Action: workflows.ActionFinalize})
	require.NoError(t, err)
	assert.Equal(t, workflows.StatusFinal, final.Status)
}
