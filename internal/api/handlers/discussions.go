package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ayushsreejith06/MAX-sub002/internal/apperrors"
	"github.com/ayushsreejith06/MAX-sub002/internal/models"
	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

// DiscussionHandler serves read-only access to discussions. Discussions
// are created and advanced by the engine only.
type DiscussionHandler struct {
	repos *storage.Repos
}

func NewDiscussionHandler(repos *storage.Repos) *DiscussionHandler {
	return &DiscussionHandler{repos: repos}
}

func (h *DiscussionHandler) List(c *gin.Context) {
	filter := storage.DiscussionFilter{SectorID: c.Query("sectorId")}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := models.DiscussionStatus(strings.ToUpper(raw))
		if status != models.DiscussionInProgress && status != models.DiscussionDecided {
			respondError(c, apperrors.Validation("unknown discussion status %q", raw))
			return
		}
		filter.Status = status
	}
	discussions, err := h.repos.Discussions.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, discussions)
}

func (h *DiscussionHandler) Get(c *gin.Context) {
	discussion, err := h.repos.Discussions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, discussion)
}

// ExecutionHandler serves the execution-log ring, newest first.
type ExecutionHandler struct {
	repos *storage.Repos
}

func NewExecutionHandler(repos *storage.Repos) *ExecutionHandler {
	return &ExecutionHandler{repos: repos}
}

func (h *ExecutionHandler) List(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondError(c, apperrors.Validation("limit must be a non-negative integer, got %q", raw))
			return
		}
		limit = parsed
	}
	logs, err := h.repos.Executions.List(c.Request.Context(), c.Query("sectorId"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, logs)
}

// AccountHandler serves the single user-account ledger document.
type AccountHandler struct {
	repos *storage.Repos
}

func NewAccountHandler(repos *storage.Repos) *AccountHandler {
	return &AccountHandler{repos: repos}
}

func (h *AccountHandler) Get(c *gin.Context) {
	account, err := h.repos.Account.Get(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	respondData(c, http.StatusOK, account)
}
