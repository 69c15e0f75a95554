package documents

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"etmf-portal/portal-backend/internal/auth"
	"etmf-portal/portal-backend/pkg/workflows"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes expects rg to carry auth.RequireActor
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	docs := rg.Group("/documents")
	{
		docs.GET("", h.List)
		docs.GET("/:id", h.Get)
		docs.DELETE("/:id", h.Delete)
		docs.GET("/:id/actions", h.Actions)
		docs.POST("/:id/workflow", h.Transition)
		docs.POST("/:id/review", h.Review)
		docs.POST("/:id/approve", h.Approve)
		docs.GET("/:id/audit-trail", h.AuditTrail)
		docs.GET("/:id/versions", h.ListVersions)
		docs.GET("/:id/reviewers", h.ListReviewers)
		docs.POST("/:id/reviewers", h.AssignReviewer)
	}
}

func (h *Handler) actor(c *gin.Context) (auth.Actor, bool) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrMissingToken.Error()})
	}
	return actor, ok
}

func (h *Handler) List(c *gin.Context) {
	filter := ListFilter{
		StudyID:  c.Query("studyId"),
		Category: c.Query("category"),
	}
	if raw := c.Query("status"); raw != "" {
		status, err := workflows.ParseStatus(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Status = &status
	}

	docs, err := h.service.ListDocuments(c.Request.Context(), filter)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if docs == nil {
		docs = []Document{}
	}
	c.JSON(http.StatusOK, docs)
}

func (h *Handler) Get(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	view, err := h.service.GetDocument(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) Delete(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	if err := h.service.DeleteDocument(c.Request.Context(), c.Param("id"), actor); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Actions(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	actions, err := h.service.AvailableActions(c.Request.Context(), c.Param("id"), actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, actions)
}

func (h *Handler) Transition(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req WorkflowAction
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := h.service.SubmitAction(c.Request.Context(), c.Param("id"), actor, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) Review(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req ReviewForm
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := h.service.SubmitReview(c.Request.Context(), c.Param("id"), actor, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) Approve(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req ApprovalForm
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	view, err := h.service.SubmitApproval(c.Request.Context(), c.Param("id"), actor, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) AuditTrail(c *gin.Context) {
	trail, err := h.service.AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, trail)
}

func (h *Handler) ListVersions(c *gin.Context) {
	versions, err := h.service.ListVersions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if versions == nil {
		versions = []Version{}
	}
	c.JSON(http.StatusOK, versions)
}

func (h *Handler) ListReviewers(c *gin.Context) {
	reviewers, err := h.service.ListReviewers(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if reviewers == nil {
		reviewers = []Reviewer{}
	}
	c.JSON(http.StatusOK, reviewers)
}

func (h *Handler) AssignReviewer(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req Reviewer
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.service.AssignReviewer(c.Request.Context(), c.Param("id"), actor, req); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// writeError maps submission failures to responses. The document view stays
// usable after any of them.
func (h *Handler) writeError(c *gin.Context, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("document_id", c.Param("id")),
			zap.Error(err))
	}
	c.JSON(status, body)
}

func errorResponse(err error) (int, gin.H) {
	if errors.Is(err, ErrSubmissionInFlight) {
		return http.StatusConflict, gin.H{"error": err.Error()}
	}
	if errors.Is(err, ErrDocumentNotFound) {
		return http.StatusNotFound, gin.H{"error": ErrDocumentNotFound.Error()}
	}

	var we *WorkflowError
	if !errors.As(err, &we) {
		return http.StatusInternalServerError, gin.H{"error": "internal error"}
	}

	body := gin.H{"error": we.Message, "kind": we.Kind, "retryable": we.Retryable()}
	switch we.Kind {
	case KindValidation:
		if errors.Is(err, ErrActionNotAvailable) {
			return http.StatusConflict, body
		}
		return http.StatusUnprocessableEntity, body
	case KindServer:
		// upstream 401/403 concern the service token, not the caller's session
		switch we.StatusCode {
		case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity:
			return we.StatusCode, body
		}
		return http.StatusBadGateway, body
	default:
		return http.StatusBadGateway, body
	}
}
