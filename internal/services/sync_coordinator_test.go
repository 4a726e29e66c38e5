package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"snowbridge/internal/models"
	"snowbridge/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func testSyncConfig() *config.SyncConfig {
	return &config.SyncConfig{
		Tables:         []string{"incident", "change_task", "sc_task"},
		Interval:       300,
		ParallelTables: 3,
		BatchSize:      100,
	}
}

func newTestCoordinator(bridge *fakeBridge, store *fakeStore, cache *fakeCache) *SyncCoordinator {
	return NewSyncCoordinator(bridge, store, cache, testSyncConfig())
}

func ticketRecord(sysID, number, updatedOn string) models.Record {
	return models.Record{
		"sys_id":         sysID,
		"number":         number,
		"sys_updated_on": updatedOn,
		"state":          models.StateNew,
	}
}

func TestSyncTableInsertsFetchedRecords(t *testing.T) {
	bridge := newFakeBridge()
	bridge.records["incident"] = []models.Record{
		ticketRecord("sys1", "INC0001", "2026-08-01 10:00:00"),
		ticketRecord("sys2", "INC0002", "2026-08-01 10:01:00"),
		ticketRecord("sys3", "INC0003", "2026-08-01 10:02:00"),
	}
	store := newFakeStore()
	coordinator := newTestCoordinator(bridge, store, newFakeCache())

	result, err := coordinator.SyncTable(context.Background(), "incident", nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Success)
	assert.Equal(t, models.SyncStatusSuccess, result.Status)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, 3, result.Inserted)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, result.Errors)

	for _, sysID := range []string{"sys1", "sys2", "sys3"} {
		_, ok := store.get("incident", sysID)
		assert.True(t, ok, "记录 %s 应已写入副本库", sysID)
	}
}

func TestSyncTableSkipsUnchangedRecords(t *testing.T) {
	bridge := newFakeBridge()
	bridge.records["incident"] = []models.Record{
		ticketRecord("sys1", "INC0001", "2026-08-01 10:00:00"),
	}
	coordinator := newTestCoordinator(bridge, newFakeStore(), newFakeCache())
	ctx := context.Background()

	first, err := coordinator.SyncTable(ctx, "incident", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Inserted)

	second, err := coordinator.SyncTable(ctx, "incident", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Processed)
	assert.Equal(t, 0, second.Inserted)
	assert.Equal(t, 0, second.Updated)
	assert.Equal(t, 1, second.Skipped)
}

func TestSyncTableUpdatesChangedRecords(t *testing.T) {
	bridge := newFakeBridge()
	bridge.records["incident"] = []models.Record{
		ticketRecord("sys1", "INC0001", "2026-08-01 10:00:00"),
	}
	coordinator := newTestCoordinator(bridge, newFakeStore(), newFakeCache())
	ctx := context.Background()

	_, err := coordinator.SyncTable(ctx, "incident", nil)
	require.NoError(t, err)

	// 上游记录发生变化
	bridge.records["incident"] = []models.Record{
		{
			"sys_id":         "sys1",
			"number":         "INC0001",
			"sys_updated_on": "2026-08-02 09:00:00",
			"state":          models.StateInProgress,
		},
	}

	result, err := coordinator.SyncTable(ctx, "incident", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, 0, result.Skipped)
}

func TestSyncTableRejectsUnsupportedTable(t *testing.T) {
	coordinator := newTestCoordinator(newFakeBridge(), newFakeStore(), newFakeCache())

	result, err := coordinator.SyncTable(context.Background(), "cmdb_ci", nil)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "不支持的表")
}

func TestSyncTableMutualExclusion(t *testing.T) {
	bridge := newFakeBridge()
	bridge.records["incident"] = []models.Record{
		ticketRecord("sys1", "INC0001", "2026-08-01 10:00:00"),
	}
	bridge.block = make(chan struct{})
	bridge.blockTable = "incident"
	bridge.started = make(chan struct{}, 1)

	coordinator := newTestCoordinator(bridge, newFakeStore(), newFakeCache())
	ctx := context.Background()

	type syncOutcome struct {
		result *models.SyncResult
		err    error
	}
	firstDone := make(chan syncOutcome, 1)
	go func() {
		result, err := coordinator.SyncTable(ctx, "incident", nil)
		firstDone <- syncOutcome{result, err}
	}()

	// 等第一次同步进入拉取阶段
	select {
	case <-bridge.started:
	case <-time.After(2 * time.Second):
		t.Fatal("第一次同步未开始")
	}
	assert.True(t, coordinator.IsSyncing("incident"))

	// 同表的第二次同步应被拒绝，不排队
	_, err := coordinator.SyncTable(ctx, "incident", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "已在进行中")

	// 其他表不受影响
	other, err := coordinator.SyncTable(ctx, "change_task", nil)
	require.NoError(t, err)
	assert.True(t, other.Success)

	close(bridge.block)
	select {
	case outcome := <-firstDone:
		require.NoError(t, outcome.err)
		assert.True(t, outcome.result.Success)
	case <-time.After(2 * time.Second):
		t.Fatal("第一次同步未结束")
	}
	assert.False(t, coordinator.IsSyncing("incident"))
}

func TestSyncTablesIsolatesFailures(t *testing.T) {
	bridge := newFakeBridge()
	bridge.records["incident"] = []models.Record{
		ticketRecord("sys1", "INC0001", "2026-08-01 10:00:00"),
	}
	bridge.records["sc_task"] = []models.Record{
		ticketRecord("sys2", "TASK0001", "2026-08-01 10:00:00"),
	}
	bridge.failTables["change_task"] = true

	coordinator := newTestCoordinator(bridge, newFakeStore(), newFakeCache())

	results := coordinator.SyncTables(context.Background(), []string{"incident", "change_task", "sc_task"}, nil)
	require.Len(t, results, 3)

	assert.True(t, results[0].Success)
	assert.Equal(t, "incident", results[0].Table)

	assert.False(t, results[1].Success)
	assert.Equal(t, models.SyncStatusFailed, results[1].Status)
	assert.NotEmpty(t, results[1].Errors)

	assert.True(t, results[2].Success)
	assert.Equal(t, "sc_task", results[2].Table)
}

func TestSyncTablesConvertsUnsupportedTableToFailedResult(t *testing.T) {
	coordinator := newTestCoordinator(newFakeBridge(), newFakeStore(), newFakeCache())

	results := coordinator.SyncTables(context.Background(), []string{"incident", "cmdb_ci"}, nil)
	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Errors[0], "不支持的表")
}

func TestSyncHistoryCapAndOrder(t *testing.T) {
	bridge := newFakeBridge()
	coordinator := newTestCoordinator(bridge, newFakeStore(), newFakeCache())
	ctx := context.Background()

	var lastID string
	for i := 0; i < syncHistoryCap+10; i++ {
		result, err := coordinator.SyncTable(ctx, "incident", nil)
		require.NoError(t, err)
		lastID = result.ID
	}

	history := coordinator.GetSyncHistory("incident", 0)
	assert.Len(t, history, syncHistoryCap)
	assert.Equal(t, lastID, history[0].ID, "历史应保持最新在前")

	limited := coordinator.GetSyncHistory("incident", 10)
	assert.Len(t, limited, 10)
	assert.Equal(t, lastID, limited[0].ID)

	stats := coordinator.GetSyncStats("incident")
	require.NotNil(t, stats)
	assert.Equal(t, lastID, stats.ID)
}

func TestSyncStatsMirroredToCache(t *testing.T) {
	cache := newFakeCache()
	coordinator := newTestCoordinator(newFakeBridge(), newFakeStore(), cache)

	_, err := coordinator.SyncTable(context.Background(), "incident", nil)
	require.NoError(t, err)

	_, ok := cache.Get(context.Background(), "sync:stats:incident")
	assert.True(t, ok)
}

func TestClearSyncHistory(t *testing.T) {
	cache := newFakeCache()
	coordinator := newTestCoordinator(newFakeBridge(), newFakeStore(), cache)
	ctx := context.Background()

	_, err := coordinator.SyncTable(ctx, "incident", nil)
	require.NoError(t, err)
	_, err = coordinator.SyncTable(ctx, "change_task", nil)
	require.NoError(t, err)

	coordinator.ClearSyncHistory(ctx, "incident")
	assert.Empty(t, coordinator.GetSyncHistory("incident", 0))
	assert.NotEmpty(t, coordinator.GetSyncHistory("change_task", 0))
	_, ok := cache.Get(ctx, "sync:stats:incident")
	assert.False(t, ok)

	coordinator.ClearSyncHistory(ctx, "")
	assert.Empty(t, coordinator.GetSyncHistory("change_task", 0))
}

func TestDegradedCoordinatorNeverPanics(t *testing.T) {
	coordinator := NewSyncCoordinator(nil, nil, nil, nil)
	ctx := context.Background()

	result, err := coordinator.SyncTable(ctx, "incident", nil)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, models.SyncStatusFailed, result.Status)
	assert.Contains(t, result.Errors[0], "未初始化")

	results := coordinator.SyncTables(ctx, []string{"incident", "change_task"}, nil)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.False(t, r.Success)
	}

	assert.False(t, coordinator.HealthCheck(ctx))
	assert.Error(t, coordinator.StartAutoSync(nil))
	assert.Error(t, coordinator.EnableDeltaSync(ctx, "incident"))
	assert.Error(t, coordinator.DisableDeltaSync(ctx, "incident"))
}

func TestDeltaSyncMarkerDrivesQuery(t *testing.T) {
	bridge := newFakeBridge()
	bridge.records["incident"] = []models.Record{
		ticketRecord("sys1", "INC0001", "2026-08-01 10:00:00"),
	}
	cache := newFakeCache()
	coordinator := newTestCoordinator(bridge, newFakeStore(), cache)
	ctx := context.Background()

	require.NoError(t, coordinator.EnableDeltaSync(ctx, "incident"))

	// 标记已持久化到缓存层
	_, ok := cache.Get(ctx, "sync:delta:incident")
	assert.True(t, ok)

	// 首次增量：没有上次同步时间，不带时间过滤
	first, err := coordinator.SyncTable(ctx, "incident", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyDelta, first.Strategy)
	assert.NotContains(t, bridge.lastQuery("incident"), "sysparm_query")

	// 第二次增量：携带基于标记时间戳的过滤
	second, err := coordinator.SyncTable(ctx, "incident", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyDelta, second.Strategy)
	query := bridge.lastQuery("incident")["sysparm_query"]
	assert.Contains(t, query, "sys_updated_on>=")

	// 禁用后回落到全量
	require.NoError(t, coordinator.DisableDeltaSync(ctx, "incident"))
	third, err := coordinator.SyncTable(ctx, "incident", nil)
	require.NoError(t, err)
	assert.Equal(t, models.StrategyFull, third.Strategy)
}

func TestDeltaMarkerConcurrentToggle(t *testing.T) {
	bridge := newFakeBridge()
	bridge.records["incident"] = []models.Record{
		ticketRecord("sys1", "INC0001", "2026-08-01 10:00:00"),
	}
	coordinator := newTestCoordinator(bridge, newFakeStore(), newFakeCache())
	ctx := context.Background()

	require.NoError(t, coordinator.EnableDeltaSync(ctx, "incident"))

	// 同步进行中切换增量标记不允许产生数据竞争
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = coordinator.SyncTable(ctx, "incident", nil)
		}()
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				_ = coordinator.EnableDeltaSync(ctx, "incident")
			} else {
				_ = coordinator.DisableDeltaSync(ctx, "incident")
			}
		}(i)
	}
	wg.Wait()

	marker := coordinator.getDeltaMarker(ctx, "incident")
	require.NotNil(t, marker)
}

func TestReplicaUpsertIdempotent(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()

	doc := ticketRecord("sys1", "INC0001", "2026-08-01 10:00:00")
	filter := bson.M{"sys_id": "sys1"}

	require.True(t, store.Upsert(ctx, "incident", filter, doc))
	require.True(t, store.Upsert(ctx, "incident", filter, doc))

	assert.Equal(t, int64(1), store.Count(ctx, "incident", filter))
	got, ok := store.FindOne(ctx, "incident", filter)
	require.True(t, ok)
	assert.Equal(t, doc, got)
}

func TestIncrementalStrategyAliasesToDelta(t *testing.T) {
	coordinator := newTestCoordinator(newFakeBridge(), newFakeStore(), newFakeCache())

	result, err := coordinator.SyncTable(context.Background(), "incident",
		&models.SyncOptions{Strategy: models.StrategyIncremental})
	require.NoError(t, err)
	assert.Equal(t, models.StrategyDelta, result.Strategy)
}

func TestFullSyncDetectsDeletes(t *testing.T) {
	bridge := newFakeBridge()
	bridge.records["incident"] = []models.Record{
		ticketRecord("sys1", "INC0001", "2026-08-01 10:00:00"),
		ticketRecord("sys2", "INC0002", "2026-08-01 10:01:00"),
	}
	store := newFakeStore()
	// 副本库中存在一条上游已删除的残留记录
	store.table("incident")["stale"] = ticketRecord("stale", "INC9999", "2026-07-01 00:00:00")

	coordinator := newTestCoordinator(bridge, store, newFakeCache())

	result, err := coordinator.SyncTable(context.Background(), "incident",
		&models.SyncOptions{Strategy: models.StrategyFull})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Deleted)
	_, ok := store.get("incident", "stale")
	assert.False(t, ok)
	_, ok = store.get("incident", "sys1")
	assert.True(t, ok)
	_, ok = store.get("incident", "sys2")
	assert.True(t, ok)
}

func TestFailedFetchSkipsDeleteDetection(t *testing.T) {
	bridge := newFakeBridge()
	bridge.failTables["incident"] = true
	store := newFakeStore()
	store.table("incident")["sys1"] = ticketRecord("sys1", "INC0001", "2026-08-01 10:00:00")

	coordinator := newTestCoordinator(bridge, store, newFakeCache())

	result, err := coordinator.SyncTable(context.Background(), "incident",
		&models.SyncOptions{Strategy: models.StrategyFull})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, 0, result.Deleted)
	_, ok := store.get("incident", "sys1")
	assert.True(t, ok, "拉取失败时不应清理副本记录")
}

func TestSyncTablePagination(t *testing.T) {
	bridge := newFakeBridge()
	for i := 0; i < 25; i++ {
		bridge.records["incident"] = append(bridge.records["incident"],
			ticketRecord(fmt.Sprintf("sys%02d", i), fmt.Sprintf("INC%04d", i), "2026-08-01 10:00:00"))
	}
	store := newFakeStore()
	coordinator := newTestCoordinator(bridge, store, newFakeCache())

	result, err := coordinator.SyncTable(context.Background(), "incident",
		&models.SyncOptions{BatchSize: 10})
	require.NoError(t, err)

	assert.Equal(t, 25, result.Processed)
	assert.Equal(t, 25, result.Inserted)
	assert.Equal(t, int64(25), store.Count(context.Background(), "incident", nil))
}

func TestAutoSyncLifecycle(t *testing.T) {
	coordinator := newTestCoordinator(newFakeBridge(), newFakeStore(), newFakeCache())

	require.NoError(t, coordinator.StartAutoSync(&models.AutoSyncConfig{
		SyncInterval: 60,
		Tables:       []string{"incident"},
	}))

	status := coordinator.GetAutoSyncStatus()
	assert.True(t, status.IsRunning)
	assert.False(t, status.Paused)
	assert.Equal(t, 60, status.Interval)
	assert.Equal(t, []string{"incident"}, status.Tables)
	require.NotNil(t, status.NextSync)

	require.NoError(t, coordinator.PauseAutoSync())
	assert.True(t, coordinator.GetAutoSyncStatus().Paused)
	assert.Error(t, coordinator.PauseAutoSync())

	require.NoError(t, coordinator.ResumeAutoSync())
	assert.False(t, coordinator.GetAutoSyncStatus().Paused)
	assert.Error(t, coordinator.ResumeAutoSync())

	require.NoError(t, coordinator.StopAutoSync())
	status = coordinator.GetAutoSyncStatus()
	assert.False(t, status.IsRunning)
	assert.Nil(t, status.NextSync)

	assert.Error(t, coordinator.StopAutoSync())
	assert.Error(t, coordinator.PauseAutoSync())
}

func TestAutoSyncRejectsUnsupportedTable(t *testing.T) {
	coordinator := newTestCoordinator(newFakeBridge(), newFakeStore(), newFakeCache())

	err := coordinator.StartAutoSync(&models.AutoSyncConfig{Tables: []string{"cmdb_ci"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "不支持的表")
	assert.False(t, coordinator.GetAutoSyncStatus().IsRunning)
}

func TestAutoSyncRestartReplacesTimer(t *testing.T) {
	coordinator := newTestCoordinator(newFakeBridge(), newFakeStore(), newFakeCache())

	require.NoError(t, coordinator.StartAutoSync(&models.AutoSyncConfig{SyncInterval: 300}))
	require.NoError(t, coordinator.StartAutoSync(&models.AutoSyncConfig{SyncInterval: 120}))

	status := coordinator.GetAutoSyncStatus()
	assert.True(t, status.IsRunning)
	assert.Equal(t, 120, status.Interval)

	require.NoError(t, coordinator.StopAutoSync())
}

func TestAutoSyncCyclePublishesCompletionEvent(t *testing.T) {
	bridge := newFakeBridge()
	bridge.records["incident"] = []models.Record{
		ticketRecord("sys1", "INC0001", "2026-08-01 10:00:00"),
	}
	cache := newFakeCache()
	coordinator := newTestCoordinator(bridge, newFakeStore(), cache)

	require.NoError(t, coordinator.StartAutoSync(&models.AutoSyncConfig{
		SyncInterval: 3600,
		Tables:       []string{"incident"},
	}))
	defer coordinator.StopAutoSync()

	coordinator.runAutoSyncCycle()

	status := coordinator.GetAutoSyncStatus()
	assert.Equal(t, int64(1), status.TotalSyncs)
	assert.Equal(t, int64(0), status.Errors)
	require.NotNil(t, status.LastSync)
	assert.Equal(t, 1, cache.publishCount(syncCompletedChannel))
}

func TestAutoSyncCycleShortCircuitsWhenPaused(t *testing.T) {
	cache := newFakeCache()
	coordinator := newTestCoordinator(newFakeBridge(), newFakeStore(), cache)

	require.NoError(t, coordinator.StartAutoSync(&models.AutoSyncConfig{
		SyncInterval: 3600,
		Tables:       []string{"incident"},
	}))
	defer coordinator.StopAutoSync()
	require.NoError(t, coordinator.PauseAutoSync())

	coordinator.runAutoSyncCycle()

	status := coordinator.GetAutoSyncStatus()
	assert.Equal(t, int64(0), status.TotalSyncs)
	assert.Equal(t, 0, cache.publishCount(syncCompletedChannel))
}

func TestHealthCheckReflectsCollaborators(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	coordinator := newTestCoordinator(newFakeBridge(), store, cache)
	ctx := context.Background()

	assert.True(t, coordinator.HealthCheck(ctx))

	store.healthy = false
	assert.False(t, coordinator.HealthCheck(ctx))

	store.healthy = true
	cache.healthy = false
	assert.False(t, coordinator.HealthCheck(ctx))
}

func TestGetAllSyncStatsNewestFirst(t *testing.T) {
	coordinator := newTestCoordinator(newFakeBridge(), newFakeStore(), newFakeCache())
	ctx := context.Background()

	_, err := coordinator.SyncTable(ctx, "incident", nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = coordinator.SyncTable(ctx, "change_task", nil)
	require.NoError(t, err)

	stats := coordinator.GetAllSyncStats()
	require.Len(t, stats, 2)
	assert.Equal(t, "change_task", stats[0].Table)
	assert.Equal(t, "incident", stats[1].Table)
}
