package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"etmf-portal/portal-backend/pkg/requestid"
	"etmf-portal/portal-backend/pkg/workflows"
)

const maxResponseBytes = 10 << 20

// Repository is the eTMF REST API. Every document, audit and reviewer record
// lives behind it; this service only ever holds projections.
type Repository interface {
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, filter ListFilter) ([]Document, error)
	DeleteDocument(ctx context.Context, id string) error

	ListAuditLog(ctx context.Context, id string) ([]AuditEntry, error)
	ListVersions(ctx context.Context, id string) ([]Version, error)

	ListReviewers(ctx context.Context, id string) ([]Reviewer, error)
	AssignReviewer(ctx context.Context, id string, reviewer Reviewer) error

	PostWorkflow(ctx context.Context, id string, req WorkflowRequest) (*Document, error)
	PostReview(ctx context.Context, id string, req ReviewRequest) (*Document, error)
	PostApproval(ctx context.Context, id string, req ApprovalRequest) (*Document, error)
}

// WorkflowRequest is the body of POST /api/documents/{id}/workflow
type WorkflowRequest struct {
	Action    workflows.Action `json:"action"`
	UserID    string           `json:"userId"`
	UserName  string           `json:"userName"`
	Comment   string           `json:"comment,omitempty"`
	Signature string           `json:"signature,omitempty"`
}

// ReviewRequest is the body of POST /api/documents/{id}/review
type ReviewRequest struct {
	ReviewerID   string             `json:"reviewerId"`
	ReviewerName string             `json:"reviewerName"`
	Status       workflows.Decision `json:"status"`
	Comments     string             `json:"comments"`
}

// ApprovalRequest is the body of POST /api/documents/{id}/approve
type ApprovalRequest struct {
	ApproverID   string             `json:"approverId"`
	ApproverName string             `json:"approverName"`
	Status       workflows.Decision `json:"status"`
	Comments     string             `json:"comments"`
	Signature    string             `json:"signature"`
}

// APIConfig configures the HTTP repository
type APIConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type apiRepository struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *zap.Logger
}

// NewRepository creates a Repository backed by the eTMF REST API
func NewRepository(cfg APIConfig, client *http.Client, logger *zap.Logger) Repository {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &apiRepository{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  client,
		logger:  logger,
	}
}

func documentPath(id string, parts ...string) string {
	p := "/api/documents/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (r *apiRepository) GetDocument(ctx context.Context, id string) (*Document, error) {
	return r.documentCall(ctx, http.MethodGet, documentPath(id), nil)
}

func (r *apiRepository) ListDocuments(ctx context.Context, filter ListFilter) ([]Document, error) {
	q := url.Values{}
	if filter.Status != nil {
		q.Set("status", string(*filter.Status))
	}
	if filter.StudyID != "" {
		q.Set("studyId", filter.StudyID)
	}
	if filter.Category != "" {
		q.Set("category", filter.Category)
	}
	path := "/api/documents"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var items []json.RawMessage
	if err := r.do(ctx, http.MethodGet, path, nil, &items); err != nil {
		return nil, err
	}

	// one bad entry must not hide the rest of the listing
	docs := make([]Document, 0, len(items))
	for i, item := range items {
		var doc Document
		err := json.Unmarshal(item, &doc)
		if err == nil {
			err = doc.Validate()
		}
		if err != nil {
			r.logger.Warn("Skipping malformed document in listing",
				zap.String("path", path),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (r *apiRepository) DeleteDocument(ctx context.Context, id string) error {
	return r.do(ctx, http.MethodDelete, documentPath(id), nil, nil)
}

func (r *apiRepository) ListAuditLog(ctx context.Context, id string) ([]AuditEntry, error) {
	var entries []AuditEntry
	if err := r.do(ctx, http.MethodGet, documentPath(id, "audit-log"), nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *apiRepository) ListVersions(ctx context.Context, id string) ([]Version, error) {
	var versions []Version
	if err := r.do(ctx, http.MethodGet, documentPath(id, "versions"), nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (r *apiRepository) ListReviewers(ctx context.Context, id string) ([]Reviewer, error) {
	var reviewers []Reviewer
	if err := r.do(ctx, http.MethodGet, documentPath(id, "reviewers"), nil, &reviewers); err != nil {
		return nil, err
	}
	return reviewers, nil
}

func (r *apiRepository) AssignReviewer(ctx context.Context, id string, reviewer Reviewer) error {
	return r.do(ctx, http.MethodPost, documentPath(id, "reviewers"), reviewer, nil)
}

func (r *apiRepository) PostWorkflow(ctx context.Context, id string, req WorkflowRequest) (*Document, error) {
	return r.documentCall(ctx, http.MethodPost, documentPath(id, "workflow"), req)
}

func (r *apiRepository) PostReview(ctx context.Context, id string, req ReviewRequest) (*Document, error) {
	return r.documentCall(ctx, http.MethodPost, documentPath(id, "review"), req)
}

func (r *apiRepository) PostApproval(ctx context.Context, id string, req ApprovalRequest) (*Document, error) {
	return r.documentCall(ctx, http.MethodPost, documentPath(id, "approve"), req)
}

// documentCall performs a request whose 2xx body must be a valid document
func (r *apiRepository) documentCall(ctx context.Context, method, path string, body interface{}) (*Document, error) {
	var doc Document
	if err := r.do(ctx, method, path, body, &doc); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		r.logger.Warn("Rejected malformed document payload",
			zap.String("path", path),
			zap.Error(err))
		return nil, malformedError(err)
	}
	return &doc, nil
}

// do sends exactly one request. out may be nil when the body is ignored.
func (r *apiRepository) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	if id := requestid.From(ctx); id != "" {
		req.Header.Set(requestid.Header, id)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Warn("Document service unreachable",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return networkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return networkError(err)
	}

	r.logger.Debug("Document service call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		werr := serverError(resp.StatusCode, errorMessage(resp.StatusCode, data))
		if resp.StatusCode == http.StatusNotFound {
			werr.Err = ErrDocumentNotFound
		}
		return werr
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return malformedError(fmt.Errorf("empty response body"))
	}
	if err := json.Unmarshal(data, out); err != nil {
		r.logger.Warn("Undecodable response from document service",
			zap.String("path", path),
			zap.Error(err))
		return malformedError(err)
	}
	return nil
}

// errorMessage extracts a user-facing message from an error body
func errorMessage(status int, body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Error); msg != "" {
			return msg
		}
	}
	return fmt.Sprintf("the document service rejected the request (HTTP %d)", status)
}
