package services

import (
	"context"
	"fmt"
	"time"

	"snowbridge/internal/models"
	"snowbridge/pkg/logger"

	"github.com/robfig/cron/v3"
)

// 自动同步完成事件的发布频道
const syncCompletedChannel = "sync:completed"

// StartAutoSync 启动自动同步
// 已在运行时先停止旧的定时任务再启动，保证同一时间只有一个周期定时器
func (c *SyncCoordinator) StartAutoSync(cfg *models.AutoSyncConfig) error {
	if !c.initialized {
		return fmt.Errorf("同步协调器未初始化")
	}

	log := logger.GetLogger()

	c.autoMu.Lock()
	defer c.autoMu.Unlock()

	// 先停止已有的定时任务
	if c.cron != nil {
		stopCtx := c.cron.Stop()
		<-stopCtx.Done()
		c.cron = nil
		log.Info("已停止旧的自动同步定时任务")
	}

	interval := c.cfg.Interval
	tables := c.cfg.Tables
	if cfg != nil {
		if cfg.SyncInterval > 0 {
			interval = cfg.SyncInterval
		}
		if len(cfg.Tables) > 0 {
			tables = cfg.Tables
		}
	}
	if interval <= 0 {
		interval = 300
	}

	for _, table := range tables {
		if !models.IsSupportedTable(table) {
			return fmt.Errorf("不支持的表: %s", table)
		}
	}

	c.cron = cron.New()
	entryID, err := c.cron.AddFunc(fmt.Sprintf("@every %ds", interval), func() {
		c.runAutoSyncCycle()
	})
	if err != nil {
		c.cron = nil
		return fmt.Errorf("创建自动同步任务失败: %v", err)
	}

	c.cronEntry = entryID
	c.autoTables = tables
	c.cron.Start()

	next := c.cron.Entry(entryID).Next
	c.autoStatus = models.AutoSyncStatus{
		IsRunning:  true,
		Paused:     false,
		Interval:   interval,
		Tables:     tables,
		NextSync:   &next,
		TotalSyncs: c.autoStatus.TotalSyncs,
		Errors:     c.autoStatus.Errors,
	}

	log.Infof("自动同步已启动，间隔 %d 秒，覆盖 %d 张表", interval, len(tables))
	return nil
}

// StopAutoSync 停止自动同步
// 已在途的同步周期运行至完成，定时器立即清除
func (c *SyncCoordinator) StopAutoSync() error {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()

	if c.cron == nil {
		return fmt.Errorf("自动同步未在运行")
	}

	stopCtx := c.cron.Stop()
	<-stopCtx.Done()
	c.cron = nil

	c.autoStatus.IsRunning = false
	c.autoStatus.Paused = false
	c.autoStatus.NextSync = nil

	logger.GetLogger().Info("自动同步已停止")
	return nil
}

// PauseAutoSync 暂停自动同步：定时器保留，周期体短路
func (c *SyncCoordinator) PauseAutoSync() error {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()

	if c.cron == nil {
		return fmt.Errorf("自动同步未在运行")
	}
	if c.autoStatus.Paused {
		return fmt.Errorf("自动同步已处于暂停状态")
	}

	c.autoStatus.Paused = true
	logger.GetLogger().Info("自动同步已暂停")
	return nil
}

// ResumeAutoSync 恢复被暂停的自动同步
func (c *SyncCoordinator) ResumeAutoSync() error {
	c.autoMu.Lock()
	defer c.autoMu.Unlock()

	if c.cron == nil {
		return fmt.Errorf("自动同步未在运行")
	}
	if !c.autoStatus.Paused {
		return fmt.Errorf("自动同步未处于暂停状态")
	}

	c.autoStatus.Paused = false
	logger.GetLogger().Info("自动同步已恢复")
	return nil
}

// GetAutoSyncStatus 获取自动同步状态快照
func (c *SyncCoordinator) GetAutoSyncStatus() models.AutoSyncStatus {
	c.autoMu.RLock()
	defer c.autoMu.RUnlock()

	status := c.autoStatus
	status.Tables = append([]string(nil), c.autoStatus.Tables...)
	return status
}

// runAutoSyncCycle 执行一个自动同步周期
// 周期失败只累计错误计数，不会停止定时器
func (c *SyncCoordinator) runAutoSyncCycle() {
	c.autoMu.RLock()
	if c.autoStatus.Paused {
		c.autoMu.RUnlock()
		return
	}
	tables := c.autoTables
	c.autoMu.RUnlock()

	ctx := context.Background()
	results := c.SyncTables(ctx, tables, nil)

	var failed int64
	for _, result := range results {
		if result != nil && !result.Success {
			failed++
		}
	}

	now := time.Now()
	c.autoMu.Lock()
	c.autoStatus.LastSync = &now
	c.autoStatus.TotalSyncs++
	c.autoStatus.Errors += failed
	cycle := c.autoStatus.TotalSyncs
	if c.cron != nil {
		next := c.cron.Entry(c.cronEntry).Next
		c.autoStatus.NextSync = &next
	}
	c.autoMu.Unlock()

	// 尽力发布周期完成事件
	event := &models.SyncCompletedEvent{
		Cycle:     cycle,
		Tables:    tables,
		Results:   results,
		Timestamp: now,
	}
	if err := c.cache.Publish(ctx, syncCompletedChannel, event); err != nil {
		logger.GetLogger().WithError(err).Warn("发布自动同步完成事件失败")
	}
}
