package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/kitchenprint/internal/config"
)

// ServerConfigResponse is the effective runtime configuration, without secrets.
// Configuration is read once at startup, so this view is read-only.
type ServerConfigResponse struct {
	Port              int     `json:"port"`
	DatabasePath      string  `json:"database_path"`
	BatchSize         int     `json:"batch_size"`
	MaxRetries        int     `json:"max_retries"`
	RetryCooldown     string  `json:"retry_cooldown"`
	PollFallback      string  `json:"poll_fallback"`
	ErrorBackoff      string  `json:"error_backoff"`
	StaleAfter        string  `json:"stale_after"`
	MaxSendsPerSecond float64 `json:"max_sends_per_second"`
	ConnectionTimeout string  `json:"connection_timeout"`
	WriteTimeout      string  `json:"write_timeout"`
	AgentAckTimeout   string  `json:"agent_ack_timeout"`
	AgentTokens       bool    `json:"agent_tokens_required"`
	ArchiveEnabled    bool    `json:"archive_enabled"`
	ArchiveDays       int     `json:"archive_days"`
	LogLevel          string  `json:"log_level"`
	LogFormat         string  `json:"log_format"`
}

type SettingsHandler struct {
	config *config.Config
}

func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{config: cfg}
}

func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	cfg := h.config
	c.JSON(http.StatusOK, ServerConfigResponse{
		Port:              cfg.Server.Port,
		DatabasePath:      cfg.Database.Path,
		BatchSize:         cfg.Queue.BatchSize,
		MaxRetries:        cfg.Queue.MaxRetries,
		RetryCooldown:     cfg.Queue.RetryCooldown.String(),
		PollFallback:      cfg.Queue.PollFallback.String(),
		ErrorBackoff:      cfg.Queue.ErrorBackoff.String(),
		StaleAfter:        cfg.Queue.StaleAfter.String(),
		MaxSendsPerSecond: cfg.Queue.MaxSendsPerSecond,
		ConnectionTimeout: cfg.Printers.ConnectionTimeout.String(),
		WriteTimeout:      cfg.Printers.WriteTimeout.String(),
		AgentAckTimeout:   cfg.Agents.AckTimeout.String(),
		AgentTokens:       cfg.Agents.RequireToken,
		ArchiveEnabled:    cfg.Archive.Enabled,
		ArchiveDays:       cfg.Archive.RetentionDays,
		LogLevel:          cfg.Logging.Level,
		LogFormat:         cfg.Logging.Format,
	})
}

func (h *SettingsHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/settings/server", h.GetServerConfig)
}
