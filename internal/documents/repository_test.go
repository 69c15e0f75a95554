package documents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"etmf-portal/portal-backend/pkg/requestid"
	"etmf-portal/portal-backend/pkg/workflows"
)

func newTestRepository(t *testing.T, handler http.HandlerFunc) Repository {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRepository(APIConfig{BaseURL: srv.URL + "/", Token: "service-token"}, srv.Client(), zap.NewNop())
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func TestPostWorkflowSendsOneAuthenticatedRequest(t *testing.T) {
	calls := 0
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/documents/doc-1/workflow", r.URL.Path)
		assert.Equal(t, "Bearer service-token", r.Header.Get("Authorization"))
		assert.Equal(t, "req-42", r.Header.Get(requestid.Header))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body WorkflowRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, workflows.ActionSubmitForReview, body.Action)
		assert.Equal(t, "u-sub", body.UserID)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":             "doc-1",
			"status":         "IN_REVIEW",
			"currentVersion": 2,
			"versionHistory": []map[string]interface{}{
				{"versionNumber": 1, "status": "DRAFT"},
				{"versionNumber": 2, "status": "IN_REVIEW"},
			},
			"metadata": map[string]interface{}{"title": "Protocol", "studyId": "STUDY-001"},
		})
	})

	ctx := requestid.With(context.Background(), "req-42")
	doc, err := repo.PostWorkflow(ctx, "doc-1", WorkflowRequest{
		Action:   workflows.ActionSubmitForReview,
		UserID:   "u-sub",
		UserName: "Sam Submitter",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, workflows.StatusInReview, doc.Status)
	assert.Equal(t, 2, doc.CurrentVersion)
	assert.Equal(t, "STUDY-001", doc.Metadata.StudyID)
}

func TestServerErrorMessages(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		message string
	}{
		{"message field", http.StatusConflict, `{"message":"Document is locked"}`, "Document is locked"},
		{"error field", http.StatusBadRequest, `{"error":"comments too long"}`, "comments too long"},
		{"no body", http.StatusInternalServerError, ``, "the document service rejected the request (HTTP 500)"},
		{"html body", http.StatusBadGateway, `<html>bad gateway</html>`, "the document service rejected the request (HTTP 502)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := repo.PostReview(context.Background(), "doc-1", ReviewRequest{Status: workflows.DecisionApproved})
			var we *WorkflowError
			require.True(t, errors.As(err, &we))
			assert.Equal(t, KindServer, we.Kind)
			assert.Equal(t, tc.status, we.StatusCode)
			assert.Equal(t, tc.message, we.Message)
		})
	}
}

func TestNotFoundWrapsSentinel(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Document not found"})
	})

	_, err := repo.GetDocument(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.True(t, IsKind(err, KindServer))
}

func TestMalformedResponses(t *testing.T) {
	cases := map[string]string{
		"empty body":       ``,
		"not json":         `ok`,
		"unknown status":   `{"id":"doc-1","status":"PENDING","currentVersion":1}`,
		"missing id":       `{"status":"DRAFT","currentVersion":1}`,
		"version mismatch": `{"id":"doc-1","status":"DRAFT","currentVersion":3,"versionHistory":[{"versionNumber":1},{"versionNumber":2}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte(body))
			})

			_, err := repo.PostApproval(context.Background(), "doc-1", ApprovalRequest{Status: workflows.DecisionApproved})
			assert.True(t, IsKind(err, KindMalformedResponse), "got %v", err)
		})
	}
}

func TestUnreachableServiceIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	repo := NewRepository(APIConfig{BaseURL: url}, nil, zap.NewNop())
	_, err := repo.GetDocument(context.Background(), "doc-1")

	var we *WorkflowError
	require.True(t, errors.As(err, &we))
	assert.Equal(t, KindNetwork, we.Kind)
	assert.True(t, we.Retryable())
}

func TestListDocumentsFilter(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/documents", r.URL.Path)
		assert.Equal(t, "IN_REVIEW", r.URL.Query().Get("status"))
		assert.Equal(t, "STUDY-001", r.URL.Query().Get("studyId"))
		assert.Empty(t, r.URL.Query().Get("category"))
		writeJSON(w, http.StatusOK, []map[string]interface{}{
			{"id": "doc-1", "status": "IN_REVIEW", "currentVersion": 1},
		})
	})

	status := workflows.StatusInReview
	docs, err := repo.ListDocuments(context.Background(), ListFilter{Status: &status, StudyID: "STUDY-001"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "doc-1", docs[0].ID)
}

func TestListDocumentsSkipsMalformedEntries(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []interface{}{
			map[string]interface{}{"id": "doc-1", "status": "DRAFT", "currentVersion": 1},
			map[string]interface{}{"id": "doc-2", "status": "WITHDRAWN", "currentVersion": 1},
			"not a document",
			map[string]interface{}{"id": "doc-3", "status": "final", "currentVersion": 1},
		})
	})

	docs, err := repo.ListDocuments(context.Background(), ListFilter{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-1", docs[0].ID)
	assert.Equal(t, "doc-3", docs[1].ID)
	assert.Equal(t, workflows.StatusFinal, docs[1].Status)

	// a body that is not a list at all is still malformed
	bad := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": "doc-1"})
	})
	_, err = bad.ListDocuments(context.Background(), ListFilter{})
	assert.True(t, IsKind(err, KindMalformedResponse))
}

func TestPanelEndpoints(t *testing.T) {
	repo := newTestRepository(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/documents/doc-1/audit-log":
			writeJSON(w, http.StatusOK, []map[string]interface{}{
				{"id": "a1", "action": "CREATED", "timestamp": "2024-03-01T09:00:00Z"},
			})
		case "/api/documents/doc-1/versions":
			writeJSON(w, http.StatusOK, []map[string]interface{}{{"versionNumber": 1}})
		case "/api/documents/doc-1/reviewers":
			if r.Method == http.MethodPost {
				w.WriteHeader(http.StatusCreated)
				return
			}
			writeJSON(w, http.StatusOK, []map[string]interface{}{{"reviewerId": "u-rev"}})
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	audit, err := repo.ListAuditLog(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, SystemActor, audit[0].Actor())

	versions, err := repo.ListVersions(ctx, "doc-1")
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	reviewers, err := repo.ListReviewers(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "u-rev", reviewers[0].ReviewerID)

	// a write whose body is ignored succeeds on an empty 201
	require.NoError(t, repo.AssignReviewer(ctx, "doc-1", Reviewer{ReviewerID: "u-rev"}))
}
