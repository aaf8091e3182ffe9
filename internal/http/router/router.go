package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"docuchat.app/engine/core/config"
	"docuchat.app/engine/internal/http/handler"
	"docuchat.app/engine/internal/http/middleware"
	"docuchat.app/engine/internal/service"
)

// Handlers groups everything the router wires up.
type Handlers struct {
	Auth      *handler.AuthHandler
	Agent     *handler.AgentHandler
	Documents *handler.DocumentHandler
}

// New builds the gin engine with middleware and all routes registered.
func New(cfg config.Config, auth *service.AuthService, h Handlers) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Order matters: OTel creates span, Recovery catches panics, Logger logs
	// with trace context.
	if cfg.OTel.Enabled() {
		r.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	r.Use(gin.Recovery())
	r.Use(middleware.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/auth/login", h.Auth.Login)
	r.GET("/auth/callback", h.Auth.Callback)
	r.POST("/auth/logout", h.Auth.Logout)

	authed := r.Group("/", middleware.Auth(auth))
	{
		authed.GET("/auth/me", h.Auth.Me)

		authed.POST("/documents", h.Documents.Upload)
		authed.GET("/documents", h.Documents.List)

		authed.POST("/agent/run", h.Agent.Run)
		authed.POST("/agent/stream", h.Agent.Stream)
	}

	return r
}
