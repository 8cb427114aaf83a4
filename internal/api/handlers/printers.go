package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/kitchenprint/internal/core"
	"github.com/orrn/kitchenprint/internal/db"
	"github.com/orrn/kitchenprint/internal/escpos"
)

type CreatePrinterRequest struct {
	Name    string `json:"name" binding:"required"`
	Type    string `json:"type" binding:"required,oneof=network agent"`
	Address string `json:"address" binding:"required"`
	Enabled *bool  `json:"enabled"`
	Mode    string `json:"mode" binding:"omitempty,oneof=immediate on_demand"`
}

type UpdatePrinterRequest struct {
	Name    *string `json:"name"`
	Type    *string `json:"type" binding:"omitempty,oneof=network agent"`
	Address *string `json:"address"`
	Enabled *bool   `json:"enabled"`
	Mode    *string `json:"mode" binding:"omitempty,oneof=immediate on_demand"`
}

type PrinterResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Address   string    `json:"address"`
	Enabled   bool      `json:"enabled"`
	Mode      string    `json:"mode"`
	Connected *bool     `json:"connected,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentPresence reports whether a remote agent currently holds a session.
type AgentPresence interface {
	Connected(agentID string) bool
}

type PrinterHandler struct {
	printers *db.PrinterStore
	queue    *core.Queue
	agents   AgentPresence
	now      func() time.Time
}

func NewPrinterHandler(printers *db.PrinterStore, queue *core.Queue, agents AgentPresence) *PrinterHandler {
	return &PrinterHandler{printers: printers, queue: queue, agents: agents, now: time.Now}
}

func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	printers, err := h.printers.ListPrinters(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]PrinterResponse, 0, len(printers))
	for _, p := range printers {
		resp = append(resp, h.printerToResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"printers": resp})
}

func (h *PrinterHandler) CreatePrinter(c *gin.Context) {
	var req CreatePrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err)
		return
	}

	p := &core.Printer{
		Name:    req.Name,
		Type:    core.PrinterType(req.Type),
		Address: req.Address,
		Enabled: req.Enabled == nil || *req.Enabled,
		Mode:    core.PrintMode(req.Mode),
	}
	if err := h.printers.CreatePrinter(c.Request.Context(), p); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.printerToResponse(p))
}

func (h *PrinterHandler) GetPrinter(c *gin.Context) {
	p, err := h.printers.GetPrinter(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.printerToResponse(p))
}

func (h *PrinterHandler) UpdatePrinter(c *gin.Context) {
	var req UpdatePrinterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request", err)
		return
	}

	p, err := h.printers.GetPrinter(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.Type != nil {
		p.Type = core.PrinterType(*req.Type)
	}
	if req.Address != nil {
		p.Address = *req.Address
	}
	if req.Enabled != nil {
		p.Enabled = *req.Enabled
	}
	if req.Mode != nil {
		p.Mode = core.PrintMode(*req.Mode)
	}

	if err := h.printers.UpdatePrinter(c.Request.Context(), p); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.printerToResponse(p))
}

func (h *PrinterHandler) DeletePrinter(c *gin.Context) {
	if err := h.printers.DeletePrinter(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TestPrinter queues a short test ticket through the normal job path.
func (h *PrinterHandler) TestPrinter(c *gin.Context) {
	p, err := h.printers.GetPrinter(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	job, err := h.queue.Enqueue(c.Request.Context(), p.ID, core.JobTypeTest, escpos.TestPage(p.Name, h.now()))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "message": "test print queued"})
}

func (h *PrinterHandler) printerToResponse(p *core.Printer) PrinterResponse {
	resp := PrinterResponse{
		ID:        p.ID,
		Name:      p.Name,
		Type:      string(p.Type),
		Address:   p.Address,
		Enabled:   p.Enabled,
		Mode:      string(p.Mode),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	if p.Type == core.PrinterTypeAgent && h.agents != nil {
		connected := h.agents.Connected(p.Address)
		resp.Connected = &connected
	}
	return resp
}

func (h *PrinterHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/printers", h.ListPrinters)
	r.POST("/printers", h.CreatePrinter)
	r.GET("/printers/:id", h.GetPrinter)
	r.PUT("/printers/:id", h.UpdatePrinter)
	r.DELETE("/printers/:id", h.DeletePrinter)
	r.POST("/printers/:id/test", h.TestPrinter)
}
