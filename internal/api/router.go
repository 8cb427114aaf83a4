// Package api assembles the HTTP surface: the operator API, the agent channel, health and metrics.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/kitchenprint/internal/agent"
	"github.com/orrn/kitchenprint/internal/api/handlers"
	"github.com/orrn/kitchenprint/internal/api/middleware"
	"github.com/orrn/kitchenprint/internal/archive"
	"github.com/orrn/kitchenprint/internal/config"
	"github.com/orrn/kitchenprint/internal/core"
	"github.com/orrn/kitchenprint/internal/db"
	"github.com/orrn/kitchenprint/internal/webhook"
)

type Deps struct {
	DB          *sql.DB
	Queue       *core.Queue
	Printers    *db.PrinterStore
	Registry    *agent.Registry
	Archiver    *archive.Archiver
	Webhooks    *webhook.Sender
	Config      *config.Config
	AgentServer http.Handler
	Metrics     http.Handler
	MetricsPath string
	AdminAuth   *middleware.AdminAuth
	MaxRetries  int
	Logger      *zap.SugaredLogger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop().Sugar()
	}
	if d.AdminAuth == nil {
		d.AdminAuth = middleware.NewAdminAuth("", d.Logger)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(d.Logger))

	r.GET("/healthz", healthz(d.DB))
	if d.Metrics != nil {
		path := d.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(d.Metrics))
	}
	if d.AgentServer != nil {
		r.GET("/agents/ws", gin.WrapH(d.AgentServer))
	}

	agents := handlers.NewAgentHandler(d.Registry, d.Printers)

	apiGroup := r.Group("/api")
	apiGroup.Use(d.AdminAuth.RequireAdmin())
	handlers.NewJobHandler(d.Queue, d.MaxRetries).RegisterRoutes(apiGroup)
	handlers.NewPrinterHandler(d.Printers, d.Queue, agents).RegisterRoutes(apiGroup)
	agents.RegisterRoutes(apiGroup)
	if d.Archiver != nil {
		handlers.NewArchiveHandler(d.Archiver).RegisterRoutes(apiGroup)
	}
	if d.Webhooks != nil {
		handlers.NewWebhookHandler(d.Webhooks).RegisterRoutes(apiGroup)
	}
	if d.Config != nil {
		handlers.NewSettingsHandler(d.Config).RegisterRoutes(apiGroup)
	}

	return r
}

func healthz(conn *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if conn != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := conn.PingContext(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
