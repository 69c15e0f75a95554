package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"etmf-portal/portal-backend/internal/api/middleware"
	"etmf-portal/portal-backend/internal/auth"
	"etmf-portal/portal-backend/internal/documents"
)

// Dependencies are the handlers the router mounts. Realtime may be nil.
type Dependencies struct {
	Documents      *documents.Handler
	Auth           *auth.Handler
	Verifier       *auth.TokenVerifier
	Realtime       gin.HandlerFunc
	Cache          *documents.ProjectionCache
	AllowedOrigins []string
	Logger         *zap.Logger
}

// NewRouter builds the HTTP surface
func NewRouter(deps Dependencies) *gin.Engine {
	router := gin.New()

	requests := middleware.NewRequestMiddleware(deps.Logger)
	router.Use(requests.RecoverPanic())
	router.Use(requests.ProcessRequest())
	router.Use(middleware.CORS(deps.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		body := gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		}
		if deps.Cache != nil {
			body["projections"] = deps.Cache.Stats()
		}
		c.JSON(http.StatusOK, body)
	})

	requireActor := auth.RequireActor(deps.Verifier, deps.Logger)

	public := router.Group("/api/v1")
	protected := router.Group("/api/v1")
	protected.Use(requireActor)
	{
		auth.RegisterRoutes(public, protected, deps.Auth)
		deps.Documents.RegisterRoutes(protected)
	}

	if deps.Realtime != nil {
		router.GET("/ws", requireActor, deps.Realtime)
	}

	return router
}
