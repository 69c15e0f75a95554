package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const actorKey = "actor"

// RequireActor rejects requests without a valid bearer token and stores the
// decoded actor on the gin context
func RequireActor(verifier *TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if header == "" || token == header {
			// websocket clients cannot set headers from the browser
			token = c.Query("access_token")
		}

		actor, err := verifier.Verify(token)
		if err != nil {
			logger.Debug("Rejected request", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(actorKey, actor)
		c.Next()
	}
}

// ActorFrom returns the actor stored by RequireActor
func ActorFrom(c *gin.Context) (Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return Actor{}, false
	}
	actor, ok := v.(Actor)
	return actor, ok
}
