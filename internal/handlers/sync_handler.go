package handlers

import (
	"strconv"
	"strings"

	"snowbridge/internal/models"
	"snowbridge/internal/services"
	"snowbridge/pkg/response"

	"github.com/gin-gonic/gin"
)

// SyncHandler 同步管理处理器
type SyncHandler struct {
	coordinator *services.SyncCoordinator
}

// NewSyncHandler 创建同步处理器
func NewSyncHandler(coordinator *services.SyncCoordinator) *SyncHandler {
	return &SyncHandler{
		coordinator: coordinator,
	}
}

// SyncTable 触发单表同步
func (h *SyncHandler) SyncTable(c *gin.Context) {
	table := c.Param("table")

	var opts models.SyncOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			response.BadRequest(c, formatBindError(err))
			return
		}
	}

	result, err := h.coordinator.SyncTable(c.Request.Context(), table, &opts)
	if err != nil {
		// 同步冲突返回409，表不支持返回400
		if strings.Contains(err.Error(), "已在进行中") {
			response.Conflict(c, err.Error())
		} else {
			response.BadRequest(c, err.Error())
		}
		return
	}

	response.Success(c, result)
}

// SyncBatch 触发多表批量同步
func (h *SyncHandler) SyncBatch(c *gin.Context) {
	var req struct {
		Tables  []string           `json:"tables" binding:"required,min=1"`
		Options models.SyncOptions `json:"options"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, formatBindError(err))
		return
	}

	results := h.coordinator.SyncTables(c.Request.Context(), req.Tables, &req.Options)
	response.Success(c, results)
}

// SyncAll 触发全量表集合同步
func (h *SyncHandler) SyncAll(c *gin.Context) {
	var opts models.SyncOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			response.BadRequest(c, formatBindError(err))
			return
		}
	}

	results := h.coordinator.SyncAll(c.Request.Context(), &opts)
	response.Success(c, results)
}

// GetStats 获取同步统计
// 带table参数返回该表最近一次，否则返回全部表的最近统计（时间倒序）
func (h *SyncHandler) GetStats(c *gin.Context) {
	if table := c.Query("table"); table != "" {
		stats := h.coordinator.GetSyncStats(table)
		if stats == nil {
			response.NotFound(c, "该表暂无同步记录")
			return
		}
		response.Success(c, stats)
		return
	}

	response.Success(c, h.coordinator.GetAllSyncStats())
}

// GetHistory 获取表的同步历史
func (h *SyncHandler) GetHistory(c *gin.Context) {
	table := c.Param("table")

	limit := 20
	if limitStr := c.Query("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	response.Success(c, h.coordinator.GetSyncHistory(table, limit))
}

// ClearHistory 清空同步历史（table查询参数为空时清空全部）
func (h *SyncHandler) ClearHistory(c *gin.Context) {
	table := c.Query("table")
	h.coordinator.ClearSyncHistory(c.Request.Context(), table)
	response.Success(c, gin.H{"cleared": true})
}

// ========== 自动同步 ==========

// StartAutoSync 启动自动同步
func (h *SyncHandler) StartAutoSync(c *gin.Context) {
	var cfg models.AutoSyncConfig
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&cfg); err != nil {
			response.BadRequest(c, formatBindError(err))
			return
		}
	}

	if err := h.coordinator.StartAutoSync(&cfg); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	response.Success(c, h.coordinator.GetAutoSyncStatus())
}

// StopAutoSync 停止自动同步
func (h *SyncHandler) StopAutoSync(c *gin.Context) {
	if err := h.coordinator.StopAutoSync(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, h.coordinator.GetAutoSyncStatus())
}

// PauseAutoSync 暂停自动同步
func (h *SyncHandler) PauseAutoSync(c *gin.Context) {
	if err := h.coordinator.PauseAutoSync(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, h.coordinator.GetAutoSyncStatus())
}

// ResumeAutoSync 恢复自动同步
func (h *SyncHandler) ResumeAutoSync(c *gin.Context) {
	if err := h.coordinator.ResumeAutoSync(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, h.coordinator.GetAutoSyncStatus())
}

// GetAutoSyncStatus 查询自动同步状态
func (h *SyncHandler) GetAutoSyncStatus(c *gin.Context) {
	response.Success(c, h.coordinator.GetAutoSyncStatus())
}

// ========== 增量同步标记 ==========

// EnableDelta 启用表的增量同步
func (h *SyncHandler) EnableDelta(c *gin.Context) {
	table := c.Param("table")
	if err := h.coordinator.EnableDeltaSync(c.Request.Context(), table); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, gin.H{"table": table, "delta_enabled": true})
}

// DisableDelta 禁用表的增量同步
func (h *SyncHandler) DisableDelta(c *gin.Context) {
	table := c.Param("table")
	if err := h.coordinator.DisableDeltaSync(c.Request.Context(), table); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, gin.H{"table": table, "delta_enabled": false})
}

// ========== 实时同步 ==========

// StartRealTime 启动实时同步
func (h *SyncHandler) StartRealTime(c *gin.Context) {
	var req struct {
		Tables []string `json:"tables"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, formatBindError(err))
			return
		}
	}

	if err := h.coordinator.StartRealTimeSync(req.Tables); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, gin.H{"realtime": true})
}

// StopRealTime 停止实时同步
func (h *SyncHandler) StopRealTime(c *gin.Context) {
	if err := h.coordinator.StopRealTimeSync(); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	response.Success(c, gin.H{"realtime": false})
}
