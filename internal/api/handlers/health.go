package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ayushsreejith06/MAX-sub002/internal/storage"
)

// HealthHandler serves the liveness and system health probes.
type HealthHandler struct {
	store storage.Store
	redis *redis.Client
}

func NewHealthHandler(store storage.Store, redisClient *redis.Client) *HealthHandler {
	return &HealthHandler{store: store, redis: redisClient}
}

// Health reports overall service status plus per-dependency state. The
// response is 200 whenever the process can answer; dependency failures
// show up in the body so probes can distinguish degraded from dead.
func (h *HealthHandler) Health(c *gin.Context) {
	storageStatus := "up"
	status := "ok"
	if err := h.store.Ping(c.Request.Context()); err != nil {
		storageStatus = "down"
		status = "degraded"
	}
	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "up"
		if err := h.redis.Ping(c.Request.Context()).Err(); err != nil {
			redisStatus = "down"
			status = "degraded"
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"services": gin.H{
			"storage": storageStatus,
			"redis":   redisStatus,
		},
	})
}

// SystemHealth adds host-level stats to the dependency checks.
func (h *HealthHandler) SystemHealth(c *gin.Context) {
	stats := gin.H{}
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		stats["cpuPercent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		stats["memoryPercent"] = vm.UsedPercent
		stats["memoryUsedMB"] = vm.Used / 1024 / 1024
		stats["memoryTotalMB"] = vm.Total / 1024 / 1024
	}
	if uptime, err := host.Uptime(); err == nil {
		stats["hostUptimeSeconds"] = uptime
	}
	respondData(c, http.StatusOK, stats)
}
