package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/kitchenprint/internal/agent"
	"github.com/orrn/kitchenprint/internal/db"
)

type AgentResponse struct {
	agent.Registration
	Printers []string `json:"printers"`
}

type AgentHandler struct {
	registry *agent.Registry
	printers *db.PrinterStore
}

func NewAgentHandler(registry *agent.Registry, printers *db.PrinterStore) *AgentHandler {
	return &AgentHandler{registry: registry, printers: printers}
}

// Connected implements AgentPresence for the printer listing.
func (h *AgentHandler) Connected(agentID string) bool {
	_, ok := h.registry.Lookup(agentID)
	return ok
}

// ListAgents returns the live sessions and the printers each agent serves.
func (h *AgentHandler) ListAgents(c *gin.Context) {
	snapshot := h.registry.Snapshot()
	resp := make([]AgentResponse, 0, len(snapshot))
	for _, reg := range snapshot {
		printers, err := h.printers.PrintersForAgent(c.Request.Context(), reg.AgentID)
		if err != nil {
			respondError(c, err)
			return
		}
		names := make([]string, 0, len(printers))
		for _, p := range printers {
			names = append(names, p.Name)
		}
		resp = append(resp, AgentResponse{Registration: reg, Printers: names})
	}
	c.JSON(http.StatusOK, gin.H{"agents": resp, "count": len(resp)})
}

func (h *AgentHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/agents", h.ListAgents)
}
