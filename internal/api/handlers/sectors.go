package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/engine"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

// SectorHandler serves sector CRUD plus the funding and tick operations.
// Mutations go through the orchestrator so ticker registration and the
// user-account ledger stay consistent; reads hit the repos directly.
type SectorHandler struct {
	orch  *engine.Orchestrator
	repos *storage.Repos
}

func NewSectorHandler(orch *engine.Orchestrator, repos *storage.Repos) *SectorHandler {
	return &SectorHandler{orch: orch, repos: repos}
}

func (h *SectorHandler) Create(c *gin.Context) {
	var in engine.CreateSectorInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondBindError(c, err)
		return
	}
	sector, manager, err := h.orch.CreateSector(c.Request.Context(), in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusCreated, gin.H{
		"sector":  sector,
		"manager": manager,
	})
}

func (h *SectorHandler) List(c *gin.Context) {
	sectors, err := h.repos.Sectors.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, sectors)
}

func (h *SectorHandler) Get(c *gin.Context) {
	sector, err := h.repos.Sectors.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, sector)
}

func (h *SectorHandler) Update(c *gin.Context) {
	var in engine.UpdateSectorInput
	if err := c.ShouldBindJSON(&in); err != nil {
		respondBindError(c, err)
		return
	}
	sector, err := h.orch.UpdateSector(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, sector)
}

type deleteSectorRequest struct {
	Confirm string `json:"confirm" binding:"required"`
}

// Delete tears a sector down. The request must repeat the sector name
// (case-insensitively) to confirm; the freed balance is returned.
func (h *SectorHandler) Delete(c *gin.Context) {
	var req deleteSectorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	refund, err := h.orch.DeleteSector(c.Request.Context(), c.Param("id"), req.Confirm)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"deleted":  true,
		"refunded": refund,
	})
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

func (h *SectorHandler) Deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	sector, err := h.orch.Deposit(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, sector)
}

// withdrawRequest accepts a decimal amount or the literal "all".
type withdrawRequest struct {
	Amount string `json:"amount" binding:"required"`
}

func (h *SectorHandler) Withdraw(c *gin.Context) {
	var req withdrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	all := strings.EqualFold(strings.TrimSpace(req.Amount), "all")
	amount := decimal.Zero
	if !all {
		parsed, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
		if err != nil {
			respondError(c, apperrors.Validation("amount must be a decimal or \"all\", got %q", req.Amount))
			return
		}
		amount = parsed
	}
	withdrawn, sector, err := h.orch.Withdraw(c.Request.Context(), c.Param("id"), amount, all)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, gin.H{
		"withdrawn": withdrawn,
		"sector":    sector,
	})
}

// agentConfidence is the per-agent slice of a tick response.
type agentConfidence struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Role       string  `json:"role"`
	Confidence float64 `json:"confidence"`
}

// ConfidenceTick runs one synchronous engine tick for the sector and
// reports the refreshed confidences and whether the gate is met.
func (h *SectorHandler) ConfidenceTick(c *gin.Context) {
	result, err := h.orch.TickOnce(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	agents := make([]agentConfidence, 0, len(result.Agents))
	for _, a := range result.Agents {
		agents = append(agents, agentConfidence{
			ID:         a.ID,
			Name:       a.Name,
			Role:       string(a.Role),
			Confidence: a.Confidence,
		})
	}
	respondData(c, http.StatusOK, gin.H{
		"agents":          agents,
		"discussionReady": result.DiscussionReady,
		"discussion":      result.Discussion,
		"executed":        result.Executed,
		"currentPrice":    result.Sector.CurrentPrice,
	})
}

type messageManagerRequest struct {
	Message string `json:"message" binding:"required"`
}

func (h *SectorHandler) MessageManager(c *gin.Context) {
	var req messageManagerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}
	entry, err := h.orch.MessageManager(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, entry)
}
