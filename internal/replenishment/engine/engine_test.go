package engine_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"backend/internal/config"
	"backend/internal/forecast"
	"backend/internal/policy"
	"backend/internal/replenishment"
	"backend/internal/replenishment/checkpoint"
	"backend/internal/replenishment/engine"
	"backend/internal/replenishment/graph"
	"backend/internal/replenishment/stage"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeForecasts struct {
	series *forecast.Series
	err    error
}

func (f *fakeForecasts) GetForecast(ctx context.Context, skuID string) (*forecast.Series, error) {
	return f.series, f.err
}

type fakeVendors struct {
	vendors []replenishment.Vendor
}

func (f *fakeVendors) GetVendorsForSKU(ctx context.Context, skuID string) ([]replenishment.Vendor, error) {
	return f.vendors, nil
}

func goodSeries() *forecast.Series {
	points := make([]replenishment.ForecastPoint, 12)
	for i := range points {
		points[i] = replenishment.ForecastPoint{Week: i + 1, PointEstimate: 100, LowerBound: 80, UpperBound: 120}
	}
	return &forecast.Series{Points: points, MAPE: 0.08}
}

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:engine_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&replenishment.Workflow{}, &checkpoint.CheckpointRow{}))
	return db
}

func newService(t *testing.T, db *gorm.DB, forecasts stage.ForecastProvider, vendors stage.VendorProvider) *engine.Service {
	t.Helper()
	policyEngine, err := policy.NewEngine(nil)
	require.NoError(t, err)
	set := stage.NewSet(forecasts, vendors, policyEngine, config.PlanningConfig{
		TargetWeeksOfSupply: 8,
		ServiceFactor:       1.65,
		FallbackLeadTime:    14,
		RequiredHistoryDays: 728,
	})
	store := checkpoint.NewGormStore(db)
	runner := graph.NewRunner(set, store)
	return engine.NewService(db, runner, store, nil)
}

func auditActions(t *testing.T, raw []byte) []string {
	t.Helper()
	var entries []replenishment.AuditEntry
	require.NoError(t, json.Unmarshal(raw, &entries))
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

// TestStartWorkflow_AutoApproval 测试小额高置信度订单全自动完成
func TestStartWorkflow_AutoApproval(t *testing.T) {
	db := setupDB(t)
	vendor := replenishment.Vendor{ID: "v1", Name: "供应商", UnitPrice: 5.00, LeadTimeDays: 14, MinOrderQty: 50, ReliabilityScore: 0.95}
	svc := newService(t, db, &fakeForecasts{series: goodSeries()}, &fakeVendors{vendors: []replenishment.Vendor{vendor}})

	workflowID, state, err := svc.StartWorkflow(context.Background(), uuid.NewString(), "WIDGET-A", 120)
	require.NoError(t, err)

	assert.Equal(t, replenishment.StatusCompleted, state.WorkflowStatus)
	assert.Equal(t, replenishment.ApprovalAutoApproved, state.ApprovalStatus)

	// 持久化记录与状态一致
	row, err := svc.GetWorkflow(context.Background(), workflowID)
	require.NoError(t, err)
	assert.Equal(t, string(replenishment.StatusCompleted), row.WorkflowStatus)
	assert.Equal(t, string(replenishment.ApprovalAutoApproved), row.ApprovalStatus)
	assert.Equal(t, []string{
		"demand_forecast",
		"inventory_optimization",
		"vendor_selection",
		"approval_request",
		"purchase_order_generation",
	}, auditActions(t, row.AuditLog))
}

// TestStartWorkflow_SuspendThenApprove 测试挂起后经另一个服务实例恢复（模拟进程重启）
func TestStartWorkflow_SuspendThenApprove(t *testing.T) {
	db := setupDB(t)
	vendor := replenishment.Vendor{ID: "v1", Name: "供应商", UnitPrice: 12.00, LeadTimeDays: 14, MinOrderQty: 50, ReliabilityScore: 0.95}
	forecasts := &fakeForecasts{series: goodSeries()}
	vendorsProvider := &fakeVendors{vendors: []replenishment.Vendor{vendor}}
	svc := newService(t, db, forecasts, vendorsProvider)

	// 1. 启动后在审批点挂起
	workflowID, state, err := svc.StartWorkflow(context.Background(), uuid.NewString(), "WIDGET-A", 120)
	require.NoError(t, err)
	require.Equal(t, replenishment.StatusAwaitingApproval, state.WorkflowStatus)
	require.Equal(t, replenishment.ApprovalPending, state.ApprovalStatus)
	require.Equal(t, policy.LevelManager, state.ApprovalRequiredLevel)

	// 2. 用全新的服务实例恢复，验证检查点跨实例可用
	restarted := newService(t, db, forecasts, vendorsProvider)
	final, err := restarted.ResumeWorkflow(context.Background(), workflowID, true, "mgr-1", "补货合理")
	require.NoError(t, err)

	assert.Equal(t, replenishment.StatusCompleted, final.WorkflowStatus)
	assert.Equal(t, replenishment.ApprovalApproved, final.ApprovalStatus)
	assert.Equal(t, "mgr-1", final.ReviewerID)

	// 3. 审计按执行顺序排列：人工决策在采购单生成之前
	row, err := restarted.GetWorkflow(context.Background(), workflowID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"demand_forecast",
		"inventory_optimization",
		"vendor_selection",
		"approval_request",
		"human_approval",
		"purchase_order_generation",
	}, auditActions(t, row.AuditLog))
	require.NotNil(t, row.ReviewerID)
	assert.Equal(t, "mgr-1", *row.ReviewerID)
}

// TestResumeWorkflow_Reject 测试拒绝后正常完结且不生成采购单
func TestResumeWorkflow_Reject(t *testing.T) {
	db := setupDB(t)
	vendor := replenishment.Vendor{ID: "v1", Name: "供应商", UnitPrice: 12.00, LeadTimeDays: 14, MinOrderQty: 50, ReliabilityScore: 0.95}
	svc := newService(t, db, &fakeForecasts{series: goodSeries()}, &fakeVendors{vendors: []replenishment.Vendor{vendor}})

	workflowID, _, err := svc.StartWorkflow(context.Background(), uuid.NewString(), "WIDGET-A", 120)
	require.NoError(t, err)

	final, err := svc.ResumeWorkflow(context.Background(), workflowID, false, "mgr-2", "本季度预算冻结")
	require.NoError(t, err)

	assert.Equal(t, replenishment.StatusCompleted, final.WorkflowStatus)
	assert.Equal(t, replenishment.ApprovalRejected, final.ApprovalStatus)
	assert.Equal(t, "本季度预算冻结", final.HumanFeedback)

	row, err := svc.GetWorkflow(context.Background(), workflowID)
	require.NoError(t, err)
	actions := auditActions(t, row.AuditLog)
	assert.Equal(t, "human_approval", actions[len(actions)-1])
	assert.NotContains(t, actions, "purchase_order_generation")
}

// TestResumeWorkflow_ConcurrentDecisions 测试并发决策恰好一个成功
func TestResumeWorkflow_ConcurrentDecisions(t *testing.T) {
	db := setupDB(t)
	vendor := replenishment.Vendor{ID: "v1", Name: "供应商", UnitPrice: 12.00, LeadTimeDays: 14, MinOrderQty: 50, ReliabilityScore: 0.95}
	svc := newService(t, db, &fakeForecasts{series: goodSeries()}, &fakeVendors{vendors: []replenishment.Vendor{vendor}})

	workflowID, _, err := svc.StartWorkflow(context.Background(), uuid.NewString(), "WIDGET-A", 120)
	require.NoError(t, err)

	// 两个审批人同时提交相反的决策
	type result struct {
		state *replenishment.WorkflowState
		err   error
	}
	results := make([]result, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		state, err := svc.ResumeWorkflow(context.Background(), workflowID, true, "mgr-a", "")
		results[0] = result{state, err}
	}()
	go func() {
		defer wg.Done()
		state, err := svc.ResumeWorkflow(context.Background(), workflowID, false, "mgr-b", "")
		results[1] = result{state, err}
	}()
	wg.Wait()

	// 恰好一个成功，另一个拿到状态冲突
	var succeeded, conflicted int
	var winner *replenishment.WorkflowState
	for _, r := range results {
		if r.err == nil {
			succeeded++
			winner = r.state
		} else {
			assert.ErrorIs(t, r.err, replenishment.ErrInvalidWorkflowState)
			conflicted++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, conflicted)

	// 落库结果与胜者一致，只有一条人工审计
	row, err := svc.GetWorkflow(context.Background(), workflowID)
	require.NoError(t, err)
	assert.Equal(t, string(winner.ApprovalStatus), row.ApprovalStatus)
	actions := auditActions(t, row.AuditLog)
	human := 0
	for _, a := range actions {
		if a == "human_approval" {
			human++
		}
	}
	assert.Equal(t, 1, human)
}

// TestResumeWorkflow_DoubleDecision 测试重复决策返回状态冲突
func TestResumeWorkflow_DoubleDecision(t *testing.T) {
	db := setupDB(t)
	vendor := replenishment.Vendor{ID: "v1", Name: "供应商", UnitPrice: 12.00, LeadTimeDays: 14, MinOrderQty: 50, ReliabilityScore: 0.95}
	svc := newService(t, db, &fakeForecasts{series: goodSeries()}, &fakeVendors{vendors: []replenishment.Vendor{vendor}})

	workflowID, _, err := svc.StartWorkflow(context.Background(), uuid.NewString(), "WIDGET-A", 120)
	require.NoError(t, err)

	_, err = svc.ResumeWorkflow(context.Background(), workflowID, true, "mgr-1", "")
	require.NoError(t, err)

	_, err = svc.ResumeWorkflow(context.Background(), workflowID, false, "mgr-2", "")
	assert.ErrorIs(t, err, replenishment.ErrInvalidWorkflowState)
}

// TestResumeWorkflow_NotFound 测试未知工作流 ID
func TestResumeWorkflow_NotFound(t *testing.T) {
	db := setupDB(t)
	svc := newService(t, db, &fakeForecasts{series: goodSeries()}, &fakeVendors{})

	_, err := svc.ResumeWorkflow(context.Background(), uuid.NewString(), true, "mgr-1", "")
	assert.ErrorIs(t, err, replenishment.ErrWorkflowNotFound)
}

// TestStartWorkflow_Validation 测试启动参数校验
func TestStartWorkflow_Validation(t *testing.T) {
	db := setupDB(t)
	svc := newService(t, db, &fakeForecasts{series: goodSeries()}, &fakeVendors{})

	// 1. sku_id 必须是 UUID
	_, _, err := svc.StartWorkflow(context.Background(), "not-a-uuid", "WIDGET-A", 120)
	assert.ErrorIs(t, err, replenishment.ErrValidation)

	// 2. sku 不能为空
	_, _, err = svc.StartWorkflow(context.Background(), uuid.NewString(), "", 120)
	assert.ErrorIs(t, err, replenishment.ErrValidation)

	// 3. 没有库存服务时必须显式提供当前库存
	_, _, err = svc.StartWorkflow(context.Background(), uuid.NewString(), "WIDGET-A", -1)
	assert.ErrorIs(t, err, replenishment.ErrValidation)
}

// TestStartWorkflow_DegradedForecastRoutesToHuman 测试历史不足时小额订单也转人工审批
func TestStartWorkflow_DegradedForecastRoutesToHuman(t *testing.T) {
	db := setupDB(t)
	vendor := replenishment.Vendor{ID: "v1", Name: "供应商", UnitPrice: 2.00, LeadTimeDays: 14, MinOrderQty: 10, ReliabilityScore: 0.95}
	svc := newService(t, db, &fakeForecasts{err: &forecast.InsufficientDataError{
		AvailableDays: 182,
		RequiredDays:  728,
	}}, &fakeVendors{vendors: []replenishment.Vendor{vendor}})

	workflowID, state, err := svc.StartWorkflow(context.Background(), uuid.NewString(), "NEW-SKU", 260)
	require.NoError(t, err)

	// 降级置信度低于自动批准下限，小额订单也要人工把关
	assert.Equal(t, replenishment.StatusAwaitingApproval, state.WorkflowStatus)
	assert.Equal(t, policy.LevelManager, state.ApprovalRequiredLevel)
	assert.Less(t, state.ForecastConfidence, 0.85)

	row, err := svc.GetWorkflow(context.Background(), workflowID)
	require.NoError(t, err)
	actions := auditActions(t, row.AuditLog)
	assert.Contains(t, actions, "demand_forecast_degraded")
}

// TestListPendingAndHistory 测试审批队列与历史查询
func TestListPendingAndHistory(t *testing.T) {
	db := setupDB(t)
	cheap := replenishment.Vendor{ID: "v1", Name: "便宜", UnitPrice: 5.00, LeadTimeDays: 14, MinOrderQty: 50, ReliabilityScore: 0.95}
	pricey := replenishment.Vendor{ID: "v2", Name: "贵", UnitPrice: 12.00, LeadTimeDays: 14, MinOrderQty: 50, ReliabilityScore: 0.95}

	autoSvc := newService(t, db, &fakeForecasts{series: goodSeries()}, &fakeVendors{vendors: []replenishment.Vendor{cheap}})
	suspendSvc := newService(t, db, &fakeForecasts{series: goodSeries()}, &fakeVendors{vendors: []replenishment.Vendor{pricey}})

	_, _, err := autoSvc.StartWorkflow(context.Background(), uuid.NewString(), "SKU-AUTO", 120)
	require.NoError(t, err)
	suspendedID, _, err := suspendSvc.StartWorkflow(context.Background(), uuid.NewString(), "SKU-SUSPEND", 120)
	require.NoError(t, err)

	// 1. 审批队列只包含挂起的工作流
	pending, err := autoSvc.ListPending(context.Background(), &engine.PendingQuery{})
	require.NoError(t, err)
	require.Len(t, pending.Items, 1)
	assert.Equal(t, suspendedID, pending.Items[0].ID)
	assert.Equal(t, int64(1), pending.Total)

	// 2. 按审批级别过滤
	empty, err := autoSvc.ListPending(context.Background(), &engine.PendingQuery{Level: "executive"})
	require.NoError(t, err)
	assert.Empty(t, empty.Items)

	// 3. 历史包含全部工作流
	history, err := autoSvc.ListHistory(context.Background(), &engine.HistoryQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), history.Total)

	// 4. 按生命周期状态过滤
	completed, err := autoSvc.ListHistory(context.Background(), &engine.HistoryQuery{Status: string(replenishment.StatusCompleted)})
	require.NoError(t, err)
	require.Len(t, completed.Items, 1)
	assert.Equal(t, "SKU-AUTO", completed.Items[0].SKU)
}

// TestGetWorkflow_NotFound 测试查询未知工作流
func TestGetWorkflow_NotFound(t *testing.T) {
	db := setupDB(t)
	svc := newService(t, db, &fakeForecasts{series: goodSeries()}, &fakeVendors{})

	_, err := svc.GetWorkflow(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, replenishment.ErrWorkflowNotFound)
}
