package handlers

import (
	"net/http"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/orrn/kitchenprint/internal/webhook"
)

// WebhookHandler exposes the configured receivers. Endpoints come from the config file.
type WebhookHandler struct {
	sender *webhook.Sender
}

func NewWebhookHandler(sender *webhook.Sender) *WebhookHandler {
	return &WebhookHandler{sender: sender}
}

func (h *WebhookHandler) ListWebhooks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"webhooks": h.sender.Endpoints()})
}

func (h *WebhookHandler) TestWebhook(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		badRequest(c, "invalid webhook index", err)
		return
	}

	switch err := h.sender.SendTest(index); {
	case errors.Is(err, webhook.ErrUnknownEndpoint):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, webhook.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to queue test webhook"})
	default:
		c.JSON(http.StatusAccepted, gin.H{"message": "test webhook queued"})
	}
}

func (h *WebhookHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/webhooks", h.ListWebhooks)
	r.POST("/webhooks/:index/test", h.TestWebhook)
}
