package handlers

import (
	"encoding/json"
	"fmt"
	"time"

	"snowbridge/internal/models"
	"snowbridge/internal/services"
	"snowbridge/pkg/config"
	"snowbridge/pkg/pagination"
	"snowbridge/pkg/response"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// TicketHandler 工单代理处理器
// 写操作直通桥接，读操作支持缓存旁路和副本库查询
type TicketHandler struct {
	bridge services.TicketBridge
	store  services.TicketStore
	cache  services.SyncCache
	ttl    time.Duration
}

// NewTicketHandler 创建工单处理器
func NewTicketHandler(bridge services.TicketBridge, store services.TicketStore, cache services.SyncCache, syncCfg *config.SyncConfig) *TicketHandler {
	ttl := time.Duration(syncCfg.CacheTTL) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &TicketHandler{
		bridge: bridge,
		store:  store,
		cache:  cache,
		ttl:    ttl,
	}
}

// List 查询工单列表
// cached=true时从本地副本库读取并分页，否则直通ServiceNow
func (h *TicketHandler) List(c *gin.Context) {
	table := c.Param("table")
	if !models.IsSupportedTable(table) {
		response.BadRequest(c, fmt.Sprintf("不支持的表: %s", table))
		return
	}

	if c.Query("cached") == "true" {
		h.listFromReplica(c, table)
		return
	}

	params := map[string]string{}
	if query := c.Query("query"); query != "" {
		params["sysparm_query"] = query
	}
	if limit := c.Query("limit"); limit != "" {
		params["sysparm_limit"] = limit
	}
	if offset := c.Query("offset"); offset != "" {
		params["sysparm_offset"] = offset
	}

	result := h.bridge.QueryTable(c.Request.Context(), table, params)
	if !result.Success {
		response.UpstreamError(c, result.Error)
		return
	}

	response.Success(c, result.Records)
}

// listFromReplica 从副本库分页读取工单
func (h *TicketHandler) listFromReplica(c *gin.Context, table string) {
	ctx := c.Request.Context()
	params := pagination.ParsePageParams(c)

	filter := bson.M{}
	if state := c.Query("state"); state != "" {
		filter["state"] = state
	}

	total := h.store.Count(ctx, table, filter)

	findOpts := options.Find().
		SetSkip(int64(params.GetOffset())).
		SetLimit(int64(params.GetLimit())).
		SetSort(bson.D{{Key: "sys_updated_on", Value: -1}})

	records := h.store.Find(ctx, table, filter, findOpts)

	pageInfo := pagination.NewPageInfo(params.Page, params.PageSize, total)
	response.SuccessWithPage(c, records, pageInfo)
}

// GetByID 获取单条工单，缓存旁路读
func (h *TicketHandler) GetByID(c *gin.Context) {
	table := c.Param("table")
	sysID := c.Param("sys_id")
	if !models.IsSupportedTable(table) {
		response.BadRequest(c, fmt.Sprintf("不支持的表: %s", table))
		return
	}

	ctx := c.Request.Context()
	cacheKey := fmt.Sprintf("ticket:%s:%s", table, sysID)

	// 缓存命中直接返回
	if cached, ok := h.cache.Get(ctx, cacheKey); ok {
		var record models.Record
		if err := json.Unmarshal([]byte(cached), &record); err == nil {
			response.Success(c, record)
			return
		}
	}

	result := h.bridge.GetRecord(ctx, table, sysID)
	if !result.Success {
		response.UpstreamError(c, result.Error)
		return
	}
	if result.Record == nil {
		response.NotFound(c, "工单不存在")
		return
	}

	// 尽力回填缓存
	_ = h.cache.SetJSON(ctx, cacheKey, result.Record, h.ttl)

	response.Success(c, result.Record)
}

// Create 创建工单
func (h *TicketHandler) Create(c *gin.Context) {
	table := c.Param("table")
	if !models.IsSupportedTable(table) {
		response.BadRequest(c, fmt.Sprintf("不支持的表: %s", table))
		return
	}

	var data models.Record
	if err := c.ShouldBindJSON(&data); err != nil {
		response.BadRequest(c, "请求体必须是JSON对象")
		return
	}

	result := h.bridge.CreateRecord(c.Request.Context(), table, data)
	if !result.Success {
		response.UpstreamError(c, result.Error)
		return
	}

	response.Success(c, result.Record)
}

// Update 更新工单
func (h *TicketHandler) Update(c *gin.Context) {
	table := c.Param("table")
	sysID := c.Param("sys_id")
	if !models.IsSupportedTable(table) {
		response.BadRequest(c, fmt.Sprintf("不支持的表: %s", table))
		return
	}

	var data models.Record
	if err := c.ShouldBindJSON(&data); err != nil {
		response.BadRequest(c, "请求体必须是JSON对象")
		return
	}

	ctx := c.Request.Context()
	result := h.bridge.UpdateRecord(ctx, table, sysID, data)
	if !result.Success {
		response.UpstreamError(c, result.Error)
		return
	}

	// 更新后失效缓存
	_ = h.cache.Del(ctx, fmt.Sprintf("ticket:%s:%s", table, sysID))

	response.Success(c, result.Record)
}

// Delete 删除工单
func (h *TicketHandler) Delete(c *gin.Context) {
	table := c.Param("table")
	sysID := c.Param("sys_id")
	if !models.IsSupportedTable(table) {
		response.BadRequest(c, fmt.Sprintf("不支持的表: %s", table))
		return
	}

	ctx := c.Request.Context()
	result := h.bridge.DeleteRecord(ctx, table, sysID)
	if !result.Success {
		response.UpstreamError(c, result.Error)
		return
	}

	_ = h.cache.Del(ctx, fmt.Sprintf("ticket:%s:%s", table, sysID))

	response.Success(c, gin.H{"deleted": sysID})
}
