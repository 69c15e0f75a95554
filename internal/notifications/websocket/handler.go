package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"etmf-portal/portal-backend/internal/auth"
)

// Serve upgrades an authenticated request. Clients pass document_id query
// parameters or send subscribe messages to choose what they receive.
func (m *Manager) Serve(c *gin.Context) {
	actor, ok := auth.ActorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrMissingToken.Error()})
		return
	}
	conn, err := m.HandleConnection(c.Writer, c.Request, actor.ID)
	if err != nil {
		m.logger.Warn("WebSocket upgrade failed", zap.String("user_id", actor.ID), zap.Error(err))
		return
	}
	m.logger.Debug("WebSocket connected", zap.String("connection_id", conn.ID), zap.String("user_id", actor.ID))
}
