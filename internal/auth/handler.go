package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type Handler struct{}

func NewHandler() *Handler {
	return &Handler{}
}

// Ping endpoint
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "auth service alive!"})
}

// Me returns the actor the session token identifies
func (h *Handler) Me(c *gin.Context) {
	actor, ok := ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrMissingToken.Error()})
		return
	}
	c.JSON(http.StatusOK, actor)
}
