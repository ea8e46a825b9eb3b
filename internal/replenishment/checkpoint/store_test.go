package checkpoint

import (
	"context"
	"testing"

	"backend/internal/replenishment"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupGormStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	store := NewGormStore(db)
	require.NoError(t, store.AutoMigrate())
	return store
}

func sampleState() *replenishment.WorkflowState {
	state := replenishment.NewWorkflowState("sku-1", "WIDGET-A", 120)
	conf := 0.92
	replenishment.MergeState(state, &replenishment.StateDelta{
		ForecastConfidence: &conf,
		AuditLog: []replenishment.AuditEntry{
			{Agent: "demand_forecaster", Action: "demand_forecast", Reasoning: "12 周预测完成"},
		},
	})
	return state
}

func runStoreRoundTrip(t *testing.T, store Store) {
	ctx := context.Background()

	// 1. 未保存时返回 ErrNotFound
	_, _, err := store.Load(ctx, "thread-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// 2. 保存后能完整读回状态与阶段名
	state := sampleState()
	require.NoError(t, store.Save(ctx, "thread-1", "forecast", state))

	loaded, stage, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "forecast", stage)
	assert.Equal(t, "WIDGET-A", loaded.SKU)
	assert.Equal(t, 0.92, loaded.ForecastConfidence)
	require.Len(t, loaded.AuditLog, 1)
	assert.Equal(t, "demand_forecast", loaded.AuditLog[0].Action)

	// 3. 同键重复保存按最后写入生效
	state.CurrentInventory = 80
	require.NoError(t, store.Save(ctx, "thread-1", "optimize", state))

	loaded, stage, err = store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "optimize", stage)
	assert.Equal(t, 80, loaded.CurrentInventory)

	// 4. 读回的快照与调用方对象隔离
	loaded.AuditLog[0].Action = "mutated"
	again, _, err := store.Load(ctx, "thread-1")
	require.NoError(t, err)
	assert.Equal(t, "demand_forecast", again.AuditLog[0].Action)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	runStoreRoundTrip(t, NewMemoryStore())
}

func TestGormStoreRoundTrip(t *testing.T) {
	runStoreRoundTrip(t, setupGormStore(t))
}
