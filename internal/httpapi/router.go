// Package httpapi implements the REST task API, analytics/queue
// projections, and the WebSocket mount point described in the HTTP
// surface section of the expanded specification: gin-gonic/gin +
// gin-contrib/cors over the same Store/Audit/Bus every TCP command
// handler uses, so a write through either transport is observed by
// both.
package httpapi

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cklxx/taskwarden/internal/registry"
	"github.com/cklxx/taskwarden/internal/shared/logging"
	"github.com/cklxx/taskwarden/internal/telemetry"
)

// Resolver resolves an environment name to its Services tuple,
// satisfied by *registry.Registry.
type Resolver interface {
	Resolve(name string) (*registry.Services, bool)
}

// NewRouter builds the gin.Engine mounting every route this package
// serves. allowedOrigins configures gin-contrib/cors the same way it
// configures the WebSocket broadcaster's origin check.
func NewRouter(resolver Resolver, allowedOrigins []string, logger logging.Logger) *gin.Engine {
	logger = logging.OrNop(logger).With("httpapi")
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.GinMiddleware())
	r.Use(requestLogger(logger))
	r.Use(corsMiddleware(allowedOrigins))

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	protected := r.Group("/")
	protected.Use(environmentMiddleware(resolver))

	v1 := protected.Group("/api/v1")
	registerTaskRoutes(v1)
	v1.GET("/analytics", handleAnalytics)
	v1.GET("/queue", handleQueue)

	protected.GET("/ws", handleWebSocket)
	return r
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	cfg.AllowMethods = []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"}
	cfg.AllowHeaders = []string{"Origin", "Content-Type", "X-Environment"}
	return cors.New(cfg)
}

func requestLogger(logger logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("%s %s -> %d", c.Request.Method, c.Request.URL.Path, c.Writer.Status())
	}
}

const servicesKey = "taskwarden.services"

// environmentMiddleware resolves the target environment from the
// `environment` query parameter or the `X-Environment` header, falling
// back to the registry's default, and stashes the resolved Services in
// the gin context for handlers to retrieve via servicesFrom.
func environmentMiddleware(resolver Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Query("environment")
		if name == "" {
			name = c.GetHeader("X-Environment")
		}
		svc, ok := resolver.Resolve(name)
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "unknown environment " + name})
			return
		}
		c.Set(servicesKey, svc)
		c.Next()
	}
}

func servicesFrom(c *gin.Context) *registry.Services {
	return c.MustGet(servicesKey).(*registry.Services)
}
