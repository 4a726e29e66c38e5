package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"snowbridge/internal/models"
	"snowbridge/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.mongodb.org/mongo-driver/bson"
)

// 实时同步轮询间隔
const realTimeTick = 5 * time.Second

// 单次流读取的阻塞时长
const realTimeBlock = 2 * time.Second

// StartRealTimeSync 启动实时同步
// 以固定5秒节拍轮询各表的变更事件流，把create/update/delete事件应用到副本库
// 读取超时静默跳过，其余错误仅记录日志不向外传播
func (c *SyncCoordinator) StartRealTimeSync(tables []string) error {
	if !c.initialized {
		return fmt.Errorf("同步协调器未初始化")
	}

	if len(tables) == 0 {
		tables = c.cfg.Tables
	}
	for _, table := range tables {
		if !models.IsSupportedTable(table) {
			return fmt.Errorf("不支持的表: %s", table)
		}
	}

	c.rtMu.Lock()
	defer c.rtMu.Unlock()

	if c.rtCancel != nil {
		return fmt.Errorf("实时同步已在运行")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.rtCancel = cancel
	c.rtDone = done

	go c.realTimePoll(ctx, tables, done)

	logger.GetLogger().Infof("实时同步已启动，监听 %d 张表的变更流", len(tables))
	return nil
}

// StopRealTimeSync 停止实时同步
// 取消轮询上下文并等待轮询协程退出
func (c *SyncCoordinator) StopRealTimeSync() error {
	c.rtMu.Lock()
	cancel := c.rtCancel
	done := c.rtDone
	c.rtCancel = nil
	c.rtDone = nil
	c.rtMu.Unlock()

	if cancel == nil {
		return fmt.Errorf("实时同步未在运行")
	}

	cancel()
	<-done

	logger.GetLogger().Info("实时同步已停止")
	return nil
}

// IsRealTimeSyncRunning 检查实时同步是否在运行
func (c *SyncCoordinator) IsRealTimeSyncRunning() bool {
	c.rtMu.Lock()
	defer c.rtMu.Unlock()
	return c.rtCancel != nil
}

// realTimePoll 实时同步轮询循环
func (c *SyncCoordinator) realTimePoll(ctx context.Context, tables []string, done chan struct{}) {
	defer close(done)

	log := logger.GetLogger()
	lastIDs := make(map[string]string, len(tables))
	for _, table := range tables {
		lastIDs[table] = "$"
	}

	ticker := time.NewTicker(realTimeTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		for _, table := range tables {
			messages, err := c.cache.XRead(ctx, "tickets:"+table, lastIDs[table], realTimeBlock)
			if err != nil {
				if err == redis.Nil || ctx.Err() != nil {
					continue
				}
				log.WithError(err).Warnf("读取表 %s 的变更流失败", table)
				continue
			}

			for _, message := range messages {
				lastIDs[table] = message.ID
				c.applyStreamEvent(ctx, table, message)
			}
		}
	}
}

// applyStreamEvent 把一条流事件应用到副本库
func (c *SyncCoordinator) applyStreamEvent(ctx context.Context, table string, message redis.XMessage) {
	log := logger.GetLogger()

	action, _ := message.Values["action"].(string)
	sysID, _ := message.Values["sys_id"].(string)
	if sysID == "" {
		log.Warnf("表 %s 的流事件缺少sys_id，已忽略: %s", table, message.ID)
		return
	}

	var data models.Record
	if raw, ok := message.Values["data"].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			log.WithError(err).Warnf("解析流事件数据失败: %s", message.ID)
			return
		}
	}

	filter := bson.M{"sys_id": sysID}
	applied := false
	switch action {
	case "create":
		applied = c.store.Upsert(ctx, table, filter, data)
	case "update":
		applied = c.store.UpdateOne(ctx, table, filter, bson.M(data))
	case "delete":
		applied = c.store.DeleteOne(ctx, table, filter)
	default:
		log.Warnf("未知的流事件类型 %q: %s", action, message.ID)
		return
	}

	if !applied {
		log.Warnf("应用%s事件失败: %s/%s", action, table, sysID)
		return
	}

	// 尽力向UI侧广播变更
	event := &models.TicketUpdateEvent{
		Table:     table,
		SysID:     sysID,
		Action:    action,
		Data:      data,
		Timestamp: time.Now(),
	}
	if err := c.cache.Publish(ctx, "tickets:"+table, event); err != nil {
		log.WithError(err).Debugf("广播变更事件失败: %s/%s", table, sysID)
	}
}
