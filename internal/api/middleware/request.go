package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"etmf-portal/portal-backend/internal/auth"
	"etmf-portal/portal-backend/pkg/requestid"
)

type RequestMiddleware struct {
	logger *zap.Logger
}

func NewRequestMiddleware(logger *zap.Logger) *RequestMiddleware {
	return &RequestMiddleware{logger: logger}
}

// ProcessRequest tags the request with an id, reusing the caller's
// X-Request-ID when present, and logs its completion
func (rm *RequestMiddleware) ProcessRequest() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestid.Header)
		if id == "" || len(id) > 128 {
			id = uuid.New().String()
		}
		c.Request = c.Request.WithContext(requestid.With(c.Request.Context(), id))
		c.Header(requestid.Header, id)

		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("request_id", id),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if actor, ok := auth.ActorFrom(c); ok {
			fields = append(fields, zap.String("actor_id", actor.ID))
		}

		switch status := c.Writer.Status(); {
		case status >= 500:
			rm.logger.Error("HTTP Request", fields...)
		case status >= 400:
			rm.logger.Warn("HTTP Request", fields...)
		default:
			rm.logger.Info("HTTP Request", fields...)
		}
	}
}

func (rm *RequestMiddleware) RecoverPanic() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				rm.logger.Error("Panic recovered",
					zap.String("request_id", requestid.From(c.Request.Context())),
					zap.Any("error", err),
					zap.Stack("stack"))
				c.AbortWithStatusJSON(500, gin.H{
					"error": "Internal server error",
				})
			}
		}()
		c.Next()
	}
}
