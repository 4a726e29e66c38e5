package models

import "time"

// 同步策略
const (
	StrategyFull        = "full"
	StrategyDelta       = "delta"
	StrategyIncremental = "incremental" // delta的别名，兼容旧接口
)

// 同步终态
const (
	SyncStatusRunning = "running"
	SyncStatusSuccess = "success"
	SyncStatusPartial = "partial"
	SyncStatusFailed  = "failed"
)

// SyncOptions 单次同步选项
type SyncOptions struct {
	Strategy       string `json:"strategy"`        // full | delta | incremental，空则按delta标记决定
	BatchSize      int    `json:"batch_size"`      // 单次拉取记录数
	ParallelTables int    `json:"parallel_tables"` // 批量同步的并发表数
}

// SyncResult 一次同步的统计结果
type SyncResult struct {
	ID        string    `json:"id" bson:"id"`
	Table     string    `json:"table" bson:"table"`
	Strategy  string    `json:"strategy" bson:"strategy"`
	Status    string    `json:"status" bson:"status"`
	Success   bool      `json:"success" bson:"success"`
	Processed int       `json:"processed" bson:"processed"`
	Inserted  int       `json:"inserted" bson:"inserted"`
	Updated   int       `json:"updated" bson:"updated"`
	Deleted   int       `json:"deleted" bson:"deleted"`
	Skipped   int       `json:"skipped" bson:"skipped"`
	Failed    int       `json:"failed" bson:"failed"`
	Errors    []string  `json:"errors" bson:"errors"`
	StartTime time.Time `json:"start_time" bson:"start_time"`
	EndTime   time.Time `json:"end_time" bson:"end_time"`
	Duration  int64     `json:"duration_ms" bson:"duration_ms"`
}

// AutoSyncConfig 自动同步配置
type AutoSyncConfig struct {
	SyncInterval int      `json:"sync_interval" binding:"omitempty,min=1"` // 间隔（秒）
	Tables       []string `json:"tables"`
}

// AutoSyncStatus 自动同步运行状态
// 进程内可变状态，不做持久化，重启即丢失
type AutoSyncStatus struct {
	IsRunning  bool       `json:"is_running"`
	Paused     bool       `json:"paused"`
	Interval   int        `json:"interval"` // 秒
	Tables     []string   `json:"tables"`
	LastSync   *time.Time `json:"last_sync,omitempty"`
	NextSync   *time.Time `json:"next_sync,omitempty"`
	TotalSyncs int64      `json:"total_syncs"`
	Errors     int64      `json:"errors"`
}

// DeltaSyncMarker 增量同步标记，按表存入缓存层
type DeltaSyncMarker struct {
	Table    string    `json:"table" bson:"table"`
	Enabled  bool      `json:"enabled" bson:"enabled"`
	LastSync time.Time `json:"last_sync" bson:"last_sync"`
}

// TicketUpdateEvent 实时同步的变更事件
type TicketUpdateEvent struct {
	Table     string    `json:"table"`
	SysID     string    `json:"sys_id"`
	Action    string    `json:"action"` // create | update | delete
	Data      Record    `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncCompletedEvent 自动同步周期完成事件，发布到缓存层频道
type SyncCompletedEvent struct {
	Cycle     int64         `json:"cycle"`
	Tables    []string      `json:"tables"`
	Results   []*SyncResult `json:"results"`
	Timestamp time.Time     `json:"timestamp"`
}
