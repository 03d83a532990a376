package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LookupVehicle 查询车辆档案
// GET /api/vehicles/:registration?force_refresh=true
func (h *Handler) LookupVehicle(c *gin.Context) {
	force, _ := strconv.ParseBool(c.Query("force_refresh"))

	profile, err := h.vehicleService.Lookup(c.Request.Context(), c.Param("registration"), force)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": profile})
}

// InvalidateVehicle 清除车辆缓存
// DELETE /api/vehicles/:registration/cache
func (h *Handler) InvalidateVehicle(c *gin.Context) {
	reg := c.Param("registration")
	if err := h.vehicleService.InvalidateVehicle(c.Request.Context(), reg); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"registration": reg, "invalidated": true}})
}

// TestConnections 检测上游 API 连通性并返回调用统计
// GET /api/connections
func (h *Handler) TestConnections(c *gin.Context) {
	statuses := h.vehicleService.TestConnections(c.Request.Context())
	for _, s := range statuses {
		if !s.OK {
			h.logger.Warn("Upstream connection check failed", zap.String("api", s.API), zap.String("message", s.Message))
		}
	}

	resp := gin.H{"connections": statuses}
	if h.tally != nil {
		resp["calls"] = h.tally.Snapshot()
	}
	c.JSON(http.StatusOK, gin.H{"data": resp})
}
