package services

import (
	"context"
	"encoding/json"
	"testing"

	"snowbridge/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func streamMessage(id, action, sysID string, data models.Record) redis.XMessage {
	values := map[string]interface{}{
		"action": action,
		"sys_id": sysID,
	}
	if data != nil {
		raw, _ := json.Marshal(data)
		values["data"] = string(raw)
	}
	return redis.XMessage{ID: id, Values: values}
}

func TestRealTimeSyncLifecycle(t *testing.T) {
	coordinator := newTestCoordinator(newFakeBridge(), newFakeStore(), newFakeCache())

	assert.False(t, coordinator.IsRealTimeSyncRunning())
	assert.Error(t, coordinator.StopRealTimeSync())

	require.NoError(t, coordinator.StartRealTimeSync([]string{"incident"}))
	assert.True(t, coordinator.IsRealTimeSyncRunning())

	// 重复启动被拒绝
	assert.Error(t, coordinator.StartRealTimeSync([]string{"incident"}))

	require.NoError(t, coordinator.StopRealTimeSync())
	assert.False(t, coordinator.IsRealTimeSyncRunning())
}

func TestRealTimeSyncRejectsUnsupportedTable(t *testing.T) {
	coordinator := newTestCoordinator(newFakeBridge(), newFakeStore(), newFakeCache())

	err := coordinator.StartRealTimeSync([]string{"cmdb_ci"})
	require.Error(t, err)
	assert.False(t, coordinator.IsRealTimeSyncRunning())
}

func TestRealTimeSyncDegradedCoordinator(t *testing.T) {
	coordinator := NewSyncCoordinator(nil, nil, nil, nil)
	assert.Error(t, coordinator.StartRealTimeSync(nil))
}

func TestApplyStreamEventCreate(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	coordinator := newTestCoordinator(newFakeBridge(), store, cache)
	ctx := context.Background()

	coordinator.applyStreamEvent(ctx, "incident", streamMessage("1-0", "create", "sys1", models.Record{
		"sys_id": "sys1",
		"number": "INC0001",
	}))

	record, ok := store.get("incident", "sys1")
	require.True(t, ok)
	assert.Equal(t, "INC0001", record.Number())
	assert.Equal(t, 1, cache.publishCount("tickets:incident"))
}

func TestApplyStreamEventUpdate(t *testing.T) {
	store := newFakeStore()
	store.table("incident")["sys1"] = models.Record{
		"sys_id": "sys1",
		"state":  models.StateNew,
	}
	coordinator := newTestCoordinator(newFakeBridge(), store, newFakeCache())

	coordinator.applyStreamEvent(context.Background(), "incident",
		streamMessage("2-0", "update", "sys1", models.Record{"state": models.StateInProgress}))

	record, ok := store.get("incident", "sys1")
	require.True(t, ok)
	assert.Equal(t, models.StateInProgress, record.GetString("state"))
}

func TestApplyStreamEventDelete(t *testing.T) {
	store := newFakeStore()
	store.table("incident")["sys1"] = models.Record{"sys_id": "sys1"}
	coordinator := newTestCoordinator(newFakeBridge(), store, newFakeCache())

	coordinator.applyStreamEvent(context.Background(), "incident",
		streamMessage("3-0", "delete", "sys1", nil))

	_, ok := store.get("incident", "sys1")
	assert.False(t, ok)
}

func TestApplyStreamEventIgnoresMalformed(t *testing.T) {
	store := newFakeStore()
	cache := newFakeCache()
	coordinator := newTestCoordinator(newFakeBridge(), store, cache)
	ctx := context.Background()

	// 缺少sys_id
	coordinator.applyStreamEvent(ctx, "incident", redis.XMessage{
		ID:     "4-0",
		Values: map[string]interface{}{"action": "create"},
	})
	// 未知事件类型
	coordinator.applyStreamEvent(ctx, "incident", streamMessage("5-0", "merge", "sys1", nil))

	assert.Equal(t, 0, store.writeCount())
	assert.Equal(t, 0, cache.publishCount("tickets:incident"))
}
