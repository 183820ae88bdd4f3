package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

// AgentHandler serves the per-sector agent roster.
type AgentHandler struct {
	orch  *engine.Orchestrator
	repos *storage.Repos
}

func NewAgentHandler(orch *engine.Orchestrator, repos *storage.Repos) *AgentHandler {
	return &AgentHandler{orch: orch, repos: repos}
}

func (h *AgentHandler) Create(c *gin.Context) {
	var in engine.AgentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondBindError(c, err)
		return
	}
	agent, err := h.orch.AddAgent(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, agent)
}

func (h *AgentHandler) List(c *gin.Context) {
	sectorID := c.Param("id")
	if _, err := h.repos.Sectors.Get(c.Request.Context(), sectorID); err != nil {
		respondError(c, err)
		return
	}
	agents, err := h.repos.Agents.ListBySector(c.Request.Context(), sectorID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, agents)
}

func (h *AgentHandler) Delete(c *gin.Context) {
	if err := h.orch.RemoveAgent(c.Request.Context(), c.Param("id"), c.Param("agentID")); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"deleted": true})
}
