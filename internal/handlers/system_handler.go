package handlers

import (
	"snowbridge/internal/services"
	"snowbridge/pkg/errors"
	"snowbridge/pkg/response"

	"github.com/gin-gonic/gin"
)

// SystemHandler 系统状态处理器
type SystemHandler struct {
	bridge      *services.ServiceNowBridge
	coordinator *services.SyncCoordinator
	store       services.TicketStore
	cache       services.SyncCache
}

// NewSystemHandler 创建系统处理器
func NewSystemHandler(bridge *services.ServiceNowBridge, coordinator *services.SyncCoordinator, store services.TicketStore, cacheLayer services.SyncCache) *SystemHandler {
	return &SystemHandler{
		bridge:      bridge,
		coordinator: coordinator,
		store:       store,
		cache:       cacheLayer,
	}
}

// Health 聚合健康检查
// 各组件独立上报，coordinator要求存储与缓存同时健康
func (h *SystemHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	storeHealthy := h.store != nil && h.store.HealthCheck(ctx)
	cacheHealthy := h.cache != nil && h.cache.HealthCheck(ctx)
	coordinatorHealthy := h.coordinator.HealthCheck(ctx)

	bridgeHealth := h.bridge.HealthCheck(ctx)

	status := gin.H{
		"store":       storeHealthy,
		"cache":       cacheHealthy,
		"coordinator": coordinatorHealthy,
		"bridge": gin.H{
			"reachable": bridgeHealth.Success,
			"auth":      bridgeHealth.Auth,
		},
	}

	if !coordinatorHealthy {
		response.ErrorWithResult(c, errors.CodeUnavailable, "部分组件不健康", status)
		return
	}
	response.Success(c, status)
}

// Metrics 运行指标：桥接请求计数与各表同步统计
func (h *SystemHandler) Metrics(c *gin.Context) {
	response.Success(c, gin.H{
		"bridge": h.bridge.GetMetrics(),
		"sync":   h.coordinator.GetAllSyncStats(),
		"auto":   h.coordinator.GetAutoSyncStatus(),
	})
}
