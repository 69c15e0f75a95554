package documents

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"etmf-portal/portal-backend/pkg/workflows"
)

func TestResyncRunOnce(t *testing.T) {
	repo := new(MockRepository)
	p := newTestProjector(t)
	ctx := context.Background()

	p.Apply(ctx, testDocument("doc-changed", workflows.StatusInReview))
	p.Apply(ctx, testDocument("doc-same", workflows.StatusDraft))
	p.Apply(ctx, testDocument("doc-deleted", workflows.StatusDraft))
	p.Apply(ctx, testDocument("doc-down", workflows.StatusFinal))

	var notified []string
	p.Subscribe(ListenerFunc(func(_ context.Context, doc *Document, _ workflows.Status) {
		notified = append(notified, doc.ID)
	}))

	notFound := serverError(404, "Document not found")
	notFound.Err = ErrDocumentNotFound
	repo.On("GetDocument", mock.Anything, "doc-changed").Return(testDocument("doc-changed", workflows.StatusApproved), nil)
	repo.On("GetDocument", mock.Anything, "doc-same").Return(testDocument("doc-same", workflows.StatusDraft), nil)
	repo.On("GetDocument", mock.Anything, "doc-deleted").Return(nil, notFound)
	repo.On("GetDocument", mock.Anything, "doc-down").Return(nil, networkError(errors.New("timeout")))

	m := NewResyncManager("@every 1h", repo, p, time.Second, zap.NewNop())
	m.RunOnce(ctx)

	assert.Equal(t, []string{"doc-changed"}, notified)
	assert.ElementsMatch(t, []string{"doc-changed", "doc-same", "doc-down"}, p.ProjectedIDs())

	held, ok := p.Document("doc-changed")
	require.True(t, ok)
	assert.Equal(t, workflows.StatusApproved, held.Status)

	down, ok := p.Document("doc-down")
	require.True(t, ok)
	assert.Equal(t, workflows.StatusFinal, down.Status)
}

func TestResyncDoesNotOverwriteNewerProjection(t *testing.T) {
	repo := new(MockRepository)
	p := newTestProjector(t)
	ctx := context.Background()

	p.Apply(ctx, testDocument("doc-1", workflows.StatusInReview))

	// a review is projected while the resync fetch is still in flight
	repo.On("GetDocument", mock.Anything, "doc-1").
		Run(func(mock.Arguments) { p.Apply(ctx, testDocument("doc-1", workflows.StatusApproved)) }).
		Return(testDocument("doc-1", workflows.StatusInReview), nil).Once()

	m := NewResyncManager("@every 1h", repo, p, time.Second, zap.NewNop())
	m.RunOnce(ctx)

	view, ok := p.Snapshot("doc-1", workflows.RoleApprover)
	require.True(t, ok)
	assert.Equal(t, workflows.StatusApproved, view.Document.Status)
	require.NotEmpty(t, view.Actions)
	for _, a := range view.Actions {
		assert.Equal(t, workflows.ActionApproval, a.Action)
	}
	repo.AssertExpectations(t)
}

func TestResyncStartStop(t *testing.T) {
	p := newTestProjector(t)

	bad := NewResyncManager("every tuesday", new(MockRepository), p, 0, zap.NewNop())
	assert.Error(t, bad.Start(context.Background()))

	m := NewResyncManager("@every 1h", new(MockRepository), p, 0, zap.NewNop())
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))
	m.Stop()
	m.Stop()
}

func TestSameRevision(t *testing.T) {
	a := testDocument("doc-1", workflows.StatusDraft)
	a.AuditTrail = []AuditEntry{{ID: "a1"}}

	b := a.Clone()
	assert.True(t, sameRevision(a, b))

	b.AuditTrail = nil
	assert.True(t, sameRevision(a, b))

	b.AuditTrail = []AuditEntry{{ID: "a2"}}
	assert.False(t, sameRevision(a, b))

	c := a.Clone()
	c.Metadata.Site = "Site 40"
	assert.False(t, sameRevision(a, c))

	d := a.Clone()
	d.CurrentVersion = 2
	assert.False(t, sameRevision(a, d))
}

func TestPanelRefresher(t *testing.T) {
	repo := new(MockRepository)
	p := newTestProjector(t)
	ctx := context.Background()
	p.Subscribe(NewPanelRefresher(repo, p, time.Second, zap.NewNop()))

	repo.On("ListAuditLog", mock.Anything, "doc-1").Return([]AuditEntry{{ID: "a1", Action: "CREATED"}}, nil).Once()
	repo.On("ListVersions", mock.Anything, "doc-1").Return([]Version{{VersionNumber: 1}}, nil).Once()
	p.Apply(ctx, testDocument("doc-1", workflows.StatusDraft))

	view, ok := p.Snapshot("doc-1", workflows.RoleSubmitter)
	require.True(t, ok)
	assert.Len(t, view.AuditTrail, 1)
	assert.Len(t, view.Versions, 1)

	// a failed refresh keeps the projection and the old panels
	repo.On("ListAuditLog", mock.Anything, "doc-1").Return(nil, networkError(errors.New("reset"))).Once()
	repo.On("ListVersions", mock.Anything, "doc-1").Return([]Version{{VersionNumber: 1}, {VersionNumber: 2}}, nil).Once()
	p.Apply(ctx, testDocument("doc-1", workflows.StatusInReview))

	view, ok = p.Snapshot("doc-1", workflows.RoleSubmitter)
	require.True(t, ok)
	assert.Equal(t, workflows.StatusInReview, view.Document.Status)
	assert.Len(t, view.AuditTrail, 1)
	assert.Len(t, view.Versions, 1)
	repo.AssertExpectations(t)
}
