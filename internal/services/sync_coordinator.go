package services

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"
	"time"

	"snowbridge/internal/models"
	"snowbridge/pkg/config"
	"snowbridge/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// 同步历史每表保留的最大条数
const syncHistoryCap = 50

// 同步统计在缓存层的TTL
const syncStatsTTL = time.Hour

// TicketStore 工单副本存储接口
type TicketStore interface {
	FindOne(ctx context.Context, table string, filter bson.M) (models.Record, bool)
	Find(ctx context.Context, table string, filter bson.M, opts ...*options.FindOptions) []models.Record
	InsertOne(ctx context.Context, table string, doc models.Record) bool
	UpdateOne(ctx context.Context, table string, filter bson.M, update bson.M) bool
	DeleteOne(ctx context.Context, table string, filter bson.M) bool
	Upsert(ctx context.Context, table string, filter bson.M, doc models.Record) bool
	DeleteMany(ctx context.Context, table string, filter bson.M) int64
	Distinct(ctx context.Context, table, field string, filter bson.M) []interface{}
	Count(ctx context.Context, table string, filter bson.M) int64
	HealthCheck(ctx context.Context) bool
}

// SyncCache 同步协调器使用的缓存层接口
type SyncCache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Publish(ctx context.Context, channel string, message interface{}) error
	XRead(ctx context.Context, stream, lastID string, block time.Duration) ([]redis.XMessage, error)
	HealthCheck(ctx context.Context) bool
}

// SyncCoordinator 同步协调器
// 负责表级同步的调度、历史记录、增量标记和实时变更应用
// 表级互斥仅在单进程内有效，不提供跨实例锁
type SyncCoordinator struct {
	bridge TicketBridge
	store  TicketStore
	cache  SyncCache
	cfg    *config.SyncConfig

	initialized bool

	mu      sync.Mutex
	active  map[string]bool
	history map[string][]*models.SyncResult
	markers map[string]*models.DeltaSyncMarker

	// 自动同步
	autoMu     sync.RWMutex
	cron       *cron.Cron
	cronEntry  cron.EntryID
	autoStatus models.AutoSyncStatus
	autoTables []string

	// 实时同步
	rtMu     sync.Mutex
	rtCancel context.CancelFunc
	rtDone   chan struct{}
}

// NewSyncCoordinator 创建同步协调器
// 任一协作方缺失时协调器以降级模式构建：所有方法返回失败结果而不是panic
func NewSyncCoordinator(bridge TicketBridge, store TicketStore, cache SyncCache, cfg *config.SyncConfig) *SyncCoordinator {
	if cfg == nil {
		cfg = &config.SyncConfig{
			Tables:         models.SupportedTables,
			Interval:       300,
			ParallelTables: 3,
			BatchSize:      100,
		}
	}

	c := &SyncCoordinator{
		bridge:      bridge,
		store:       store,
		cache:       cache,
		cfg:         cfg,
		initialized: bridge != nil && store != nil && cache != nil,
		active:      make(map[string]bool),
		history:     make(map[string][]*models.SyncResult),
		markers:     make(map[string]*models.DeltaSyncMarker),
	}

	if !c.initialized {
		logger.GetLogger().Warn("同步协调器以降级模式启动：缺少桥接/存储/缓存协作方")
	}

	return c
}

// SyncTable 执行一次表同步
// 业务失败不返回error，而是转换为Success=false的结果
// 仅协调性冲突（表不支持、同步进行中）作为error返回
func (c *SyncCoordinator) SyncTable(ctx context.Context, table string, opts *models.SyncOptions) (*models.SyncResult, error) {
	if !c.initialized {
		return failedResult(table, "同步协调器未初始化"), nil
	}

	if !models.IsSupportedTable(table) {
		return nil, fmt.Errorf("不支持的表: %s", table)
	}

	// 表级互斥：同一张表同时只允许一次同步，不排队不取消
	c.mu.Lock()
	if c.active[table] {
		c.mu.Unlock()
		return nil, fmt.Errorf("表 %s 的同步已在进行中", table)
	}
	c.active[table] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.active, table)
		c.mu.Unlock()
	}()

	result := c.performTableSync(ctx, table, opts)
	c.recordResult(ctx, result)

	return result, nil
}

// SyncTables 多表批量同步
// 按并发上限分块扇出，单表失败不影响同块内的其他表
// 协调性冲突（如表正在同步）转换为该表的失败结果，保持批量语义
func (c *SyncCoordinator) SyncTables(ctx context.Context, tables []string, opts *models.SyncOptions) []*models.SyncResult {
	if !c.initialized {
		results := make([]*models.SyncResult, 0, len(tables))
		for _, table := range tables {
			results = append(results, failedResult(table, "同步协调器未初始化"))
		}
		return results
	}

	parallel := c.cfg.ParallelTables
	if opts != nil && opts.ParallelTables > 0 {
		parallel = opts.ParallelTables
	}
	if parallel <= 0 {
		parallel = 3
	}

	results := make([]*models.SyncResult, len(tables))

	// 分块执行，每块全部完成后再进入下一块
	for start := 0; start < len(tables); start += parallel {
		end := start + parallel
		if end > len(tables) {
			end = len(tables)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				result, err := c.SyncTable(ctx, tables[idx], opts)
				if err != nil {
					result = failedResult(tables[idx], err.Error())
				}
				results[idx] = result
			}(i)
		}
		wg.Wait()
	}

	return results
}

// SyncAll 同步配置的全部表
func (c *SyncCoordinator) SyncAll(ctx context.Context, opts *models.SyncOptions) []*models.SyncResult {
	return c.SyncTables(ctx, c.cfg.Tables, opts)
}

// performTableSync 执行实际的同步逻辑
// 拉取 -> 逐条比对副本 -> 插入/更新/跳过 -> 全量时做删除检测
func (c *SyncCoordinator) performTableSync(ctx context.Context, table string, opts *models.SyncOptions) *models.SyncResult {
	log := logger.GetLogger()

	result := &models.SyncResult{
		ID:        uuid.New().String(),
		Table:     table,
		Status:    models.SyncStatusRunning,
		StartTime: time.Now(),
	}

	batchSize := c.cfg.BatchSize
	if opts != nil && opts.BatchSize > 0 {
		batchSize = opts.BatchSize
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	// 确定同步策略
	// 标记指针与Enable/DisableDeltaSync共享，字段读写都必须在锁内完成
	marker := c.getDeltaMarker(ctx, table)
	deltaEnabled := false
	var lastSync time.Time
	if marker != nil {
		c.mu.Lock()
		deltaEnabled = marker.Enabled
		lastSync = marker.LastSync
		c.mu.Unlock()
	}

	strategy := ""
	if opts != nil {
		strategy = opts.Strategy
	}
	switch strategy {
	case models.StrategyIncremental:
		strategy = models.StrategyDelta
	case models.StrategyFull, models.StrategyDelta:
	default:
		if deltaEnabled {
			strategy = models.StrategyDelta
		} else {
			strategy = models.StrategyFull
		}
	}
	result.Strategy = strategy

	params := map[string]string{}
	if strategy == models.StrategyDelta && !lastSync.IsZero() {
		params["sysparm_query"] = fmt.Sprintf("sys_updated_on>=%s", lastSync.UTC().Format("2006-01-02 15:04:05"))
	}

	log.Infof("开始同步表 %s（策略: %s, 批大小: %d）", table, strategy, batchSize)

	// 分批拉取
	fetched := make(map[string]bool)
	offset := 0
	fetchComplete := true
	for {
		params["sysparm_limit"] = strconv.Itoa(batchSize)
		params["sysparm_offset"] = strconv.Itoa(offset)

		query := c.bridge.QueryTable(ctx, table, params)
		if !query.Success {
			result.Errors = append(result.Errors, fmt.Sprintf("拉取失败（偏移 %d）: %s", offset, query.Error))
			fetchComplete = false
			break
		}

		for _, record := range query.Records {
			result.Processed++
			c.applyRecord(ctx, table, record, result)
			if id := record.SysID(); id != "" {
				fetched[id] = true
			}
		}

		if len(query.Records) < batchSize {
			break
		}
		offset += batchSize
	}

	// 全量同步且拉取完整时做删除检测：副本中上游已消失的记录被删除
	if strategy == models.StrategyFull && fetchComplete {
		result.Deleted = int(c.detectDeletes(ctx, table, fetched))
	}

	// 收尾
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime).Milliseconds()

	switch {
	case result.Processed == 0 && len(result.Errors) > 0:
		result.Status = models.SyncStatusFailed
		result.Success = false
	case result.Failed > 0 || len(result.Errors) > 0:
		result.Status = models.SyncStatusPartial
		result.Success = true
	default:
		result.Status = models.SyncStatusSuccess
		result.Success = true
	}

	// 成功的增量同步推进标记时间戳
	if result.Success && marker != nil && deltaEnabled {
		c.mu.Lock()
		marker.LastSync = result.StartTime
		snapshot := *marker
		c.mu.Unlock()
		c.saveDeltaMarker(ctx, &snapshot)
	}

	log.Infof("表 %s 同步完成: 状态 %s, 处理 %d, 新建 %d, 更新 %d, 删除 %d, 跳过 %d, 失败 %d",
		table, result.Status, result.Processed, result.Inserted, result.Updated,
		result.Deleted, result.Skipped, result.Failed)

	return result
}

// applyRecord 把单条上游记录落入副本库
// 单条失败只计数，不中断本次同步
func (c *SyncCoordinator) applyRecord(ctx context.Context, table string, record models.Record, result *models.SyncResult) {
	sysID := record.SysID()
	if sysID == "" {
		result.Failed++
		result.Errors = append(result.Errors, "记录缺少sys_id，已跳过")
		return
	}

	filter := bson.M{"sys_id": sysID}
	existing, found := c.store.FindOne(ctx, table, filter)

	if !found {
		if c.store.Upsert(ctx, table, filter, record) {
			result.Inserted++
		} else {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("写入记录 %s 失败", sysID))
		}
		return
	}

	// 字段级变更检测：先比更新时间戳，相同时再做深比较兜底
	if existing.UpdatedOn() == record.UpdatedOn() && recordsEqual(existing, record) {
		result.Skipped++
		return
	}

	if c.store.Upsert(ctx, table, filter, record) {
		result.Updated++
	} else {
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("更新记录 %s 失败", sysID))
	}
}

// detectDeletes 删除检测：副本中存在而本次全量拉取未见的sys_id
func (c *SyncCoordinator) detectDeletes(ctx context.Context, table string, fetched map[string]bool) int64 {
	existing := c.store.Distinct(ctx, table, "sys_id", bson.M{})
	if len(existing) == 0 {
		return 0
	}

	var missing []string
	for _, value := range existing {
		id, ok := value.(string)
		if !ok {
			continue
		}
		if !fetched[id] {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		return 0
	}

	return c.store.DeleteMany(ctx, table, bson.M{"sys_id": bson.M{"$in": missing}})
}

// recordsEqual 比较两条记录是否等价，忽略副本库自身的_id字段
func recordsEqual(a, b models.Record) bool {
	cleanA := make(models.Record, len(a))
	for key, value := range a {
		if key == "_id" {
			continue
		}
		cleanA[key] = value
	}
	cleanB := make(models.Record, len(b))
	for key, value := range b {
		if key == "_id" {
			continue
		}
		cleanB[key] = value
	}
	return reflect.DeepEqual(cleanA, cleanB)
}

// ========== 增量同步标记 ==========

// EnableDeltaSync 启用表的增量同步
func (c *SyncCoordinator) EnableDeltaSync(ctx context.Context, table string) error {
	if !c.initialized {
		return fmt.Errorf("同步协调器未初始化")
	}
	if !models.IsSupportedTable(table) {
		return fmt.Errorf("不支持的表: %s", table)
	}

	c.mu.Lock()
	marker, ok := c.markers[table]
	if !ok {
		marker = &models.DeltaSyncMarker{Table: table}
		c.markers[table] = marker
	}
	marker.Enabled = true
	snapshot := *marker
	c.mu.Unlock()

	c.saveDeltaMarker(ctx, &snapshot)
	return nil
}

// DisableDeltaSync 禁用表的增量同步
func (c *SyncCoordinator) DisableDeltaSync(ctx context.Context, table string) error {
	if !c.initialized {
		return fmt.Errorf("同步协调器未初始化")
	}
	if !models.IsSupportedTable(table) {
		return fmt.Errorf("不支持的表: %s", table)
	}

	c.mu.Lock()
	marker, ok := c.markers[table]
	if !ok {
		marker = &models.DeltaSyncMarker{Table: table}
		c.markers[table] = marker
	}
	marker.Enabled = false
	snapshot := *marker
	c.mu.Unlock()

	c.saveDeltaMarker(ctx, &snapshot)
	return nil
}

// getDeltaMarker 读取表的增量标记，内存优先，缓存层兜底
func (c *SyncCoordinator) getDeltaMarker(ctx context.Context, table string) *models.DeltaSyncMarker {
	c.mu.Lock()
	if marker, ok := c.markers[table]; ok {
		c.mu.Unlock()
		return marker
	}
	c.mu.Unlock()

	value, ok := c.cache.Get(ctx, deltaMarkerKey(table))
	if !ok {
		return nil
	}

	var marker models.DeltaSyncMarker
	if err := json.Unmarshal([]byte(value), &marker); err != nil {
		return nil
	}

	c.mu.Lock()
	c.markers[table] = &marker
	c.mu.Unlock()
	return &marker
}

// saveDeltaMarker 持久化增量标记到缓存层，尽力而为
func (c *SyncCoordinator) saveDeltaMarker(ctx context.Context, marker *models.DeltaSyncMarker) {
	if err := c.cache.SetJSON(ctx, deltaMarkerKey(marker.Table), marker, 0); err != nil {
		logger.GetLogger().WithError(err).Warnf("持久化增量标记失败: %s", marker.Table)
	}
}

func deltaMarkerKey(table string) string {
	return fmt.Sprintf("sync:delta:%s", table)
}

// ========== 同步历史 ==========

// recordResult 记录同步结果到历史环（每表上限50条，最新在前）
// 同时尽力镜像到缓存层（1小时TTL）
func (c *SyncCoordinator) recordResult(ctx context.Context, result *models.SyncResult) {
	c.mu.Lock()
	entries := append([]*models.SyncResult{result}, c.history[result.Table]...)
	if len(entries) > syncHistoryCap {
		entries = entries[:syncHistoryCap]
	}
	c.history[result.Table] = entries
	c.mu.Unlock()

	if err := c.cache.SetJSON(ctx, syncStatsKey(result.Table), result, syncStatsTTL); err != nil {
		logger.GetLogger().WithError(err).Warnf("镜像同步统计到缓存失败: %s", result.Table)
	}
}

// GetSyncStats 获取指定表的最近一次同步统计，没有记录时返回nil
func (c *SyncCoordinator) GetSyncStats(table string) *models.SyncResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.history[table]
	if len(entries) == 0 {
		return nil
	}
	return entries[0]
}

// GetAllSyncStats 获取所有表的最近统计，整体按时间倒序
func (c *SyncCoordinator) GetAllSyncStats() []*models.SyncResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	var latest []*models.SyncResult
	for _, entries := range c.history {
		if len(entries) > 0 {
			latest = append(latest, entries[0])
		}
	}

	// 最新在前
	sort.Slice(latest, func(i, j int) bool {
		return latest[i].StartTime.After(latest[j].StartTime)
	})
	return latest
}

// GetSyncHistory 获取表的同步历史，最新在前
func (c *SyncCoordinator) GetSyncHistory(table string, limit int) []*models.SyncResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := c.history[table]
	if limit <= 0 || limit > len(entries) {
		limit = len(entries)
	}

	out := make([]*models.SyncResult, limit)
	copy(out, entries[:limit])
	return out
}

// ClearSyncHistory 清空同步历史，table为空时清空全部表
func (c *SyncCoordinator) ClearSyncHistory(ctx context.Context, table string) {
	c.mu.Lock()
	var keys []string
	if table == "" {
		for t := range c.history {
			keys = append(keys, syncStatsKey(t))
		}
		c.history = make(map[string][]*models.SyncResult)
	} else {
		keys = append(keys, syncStatsKey(table))
		delete(c.history, table)
	}
	c.mu.Unlock()

	if len(keys) > 0 {
		if err := c.cache.Del(ctx, keys...); err != nil {
			logger.GetLogger().WithError(err).Warn("清理缓存中的同步统计失败")
		}
	}
}

func syncStatsKey(table string) string {
	return fmt.Sprintf("sync:stats:%s", table)
}

// ========== 健康检查 ==========

// HealthCheck 协调器健康：已初始化且存储与缓存分别健康
func (c *SyncCoordinator) HealthCheck(ctx context.Context) bool {
	if !c.initialized {
		return false
	}
	return c.store.HealthCheck(ctx) && c.cache.HealthCheck(ctx)
}

// IsSyncing 检查表是否正在同步
func (c *SyncCoordinator) IsSyncing(table string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active[table]
}

// failedResult 构造失败结果（processed=0）
func failedResult(table, message string) *models.SyncResult {
	now := time.Now()
	return &models.SyncResult{
		ID:        uuid.New().String(),
		Table:     table,
		Status:    models.SyncStatusFailed,
		Success:   false,
		Errors:    []string{message},
		StartTime: now,
		EndTime:   now,
	}
}
