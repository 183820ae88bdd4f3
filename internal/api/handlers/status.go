package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

// StatusHandler reports orchestrator state: mode, running tickers,
// engine counters, and storage reachability.
type StatusHandler struct {
	orch      *engine.Orchestrator
	repos     *storage.Repos
	startedAt time.Time
}

func NewStatusHandler(orch *engine.Orchestrator, repos *storage.Repos, startedAt time.Time) *StatusHandler {
	return &StatusHandler{orch: orch, repos: repos, startedAt: startedAt}
}

func (h *StatusHandler) Get(c *gin.Context) {
	storageStatus := "up"
	if err := h.repos.Store.Ping(c.Request.Context()); err != nil {
		storageStatus = "down"
	}
	respondData(c, http.StatusOK, gin.H{
		"mode":           h.orch.Mode(),
		"uptimeSeconds":  int64(time.Since(h.startedAt).Seconds()),
		"runningSectors": h.orch.RunningSectors(),
		"metrics":        h.orch.Metrics().GetMetrics(),
		"storage":        storageStatus,
	})
}

type setModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (h *StatusHandler) SetMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	mode, ok := models.ParseMode(req.Mode)
	if !ok {
		respondError(c, apperrors.Validation("unknown mode %q", req.Mode))
		return
	}
	if err := h.orch.SetMode(mode); err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{"mode": mode})
}
