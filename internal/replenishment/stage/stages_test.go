package stage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"backend/internal/config"
	"backend/internal/forecast"
	"backend/internal/policy"
	"backend/internal/replenishment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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
	err     error
}

func (f *fakeVendors) GetVendorsForSKU(ctx context.Context, skuID string) ([]replenishment.Vendor, error) {
	return f.vendors, f.err
}

func testPlanning() config.PlanningConfig {
	return config.PlanningConfig{
		TargetWeeksOfSupply: 8,
		ServiceFactor:       1.65,
		FallbackLeadTime:    14,
		RequiredHistoryDays: 728,
	}
}

func newTestSet(t *testing.T, forecasts ForecastProvider, vendors VendorProvider) *Set {
	t.Helper()
	engine, err := policy.NewEngine(nil)
	require.NoError(t, err)
	return NewSet(forecasts, vendors, engine, testPlanning())
}

func flatForecast(weeks int, estimate, lower, upper float64) []replenishment.ForecastPoint {
	points := make([]replenishment.ForecastPoint, weeks)
	for i := range points {
		points[i] = replenishment.ForecastPoint{
			Week:          i + 1,
			PointEstimate: estimate,
			LowerBound:    lower,
			UpperBound:    upper,
		}
	}
	return points
}

// TestForecast_Success 测试正常预测路径
func TestForecast_Success(t *testing.T) {
	set := newTestSet(t, &fakeForecasts{series: &forecast.Series{
		Points: flatForecast(12, 100, 80, 120),
		MAPE:   0.08,
	}}, &fakeVendors{})

	state := replenishment.NewWorkflowState("sku-1", "WIDGET-A", 120)
	delta := set.Forecast(context.Background(), state)
	replenishment.MergeState(state, delta)

	assert.Equal(t, replenishment.StatusOptimizing, state.WorkflowStatus)
	assert.InDelta(t, 0.92, state.ForecastConfidence, 1e-9)
	assert.Len(t, state.Forecast, 12)
	require.Len(t, state.AuditLog, 1)
	assert.Equal(t, AgentForecaster, state.AuditLog[0].Agent)
	assert.Equal(t, "demand_forecast", state.AuditLog[0].Action)
}

// TestForecast_InsufficientHistory 测试历史不足的降级路径：流水线继续而非失败
func TestForecast_InsufficientHistory(t *testing.T) {
	set := newTestSet(t, &fakeForecasts{err: &forecast.InsufficientDataError{
		AvailableDays: 182,
		RequiredDays:  728,
	}}, &fakeVendors{})

	state := replenishment.NewWorkflowState("sku-1", "WIDGET-A", 120)
	delta := set.Forecast(context.Background(), state)
	replenishment.MergeState(state, delta)

	// 1. 继续到优化阶段，而不是失败
	assert.Equal(t, replenishment.StatusOptimizing, state.WorkflowStatus)
	// 2. 置信度按可用比例折算且不超过降级上限
	assert.InDelta(t, 182.0/728.0*0.60, state.ForecastConfidence, 1e-9)
	assert.Less(t, state.ForecastConfidence, 0.85)
	// 3. 审计记录降级原因
	require.Len(t, state.AuditLog, 1)
	assert.Equal(t, "demand_forecast_degraded", state.AuditLog[0].Action)
	assert.Empty(t, state.Forecast)
}

// TestForecast_FatalError 测试不可恢复错误落终态失败
func TestForecast_FatalError(t *testing.T) {
	set := newTestSet(t, &fakeForecasts{err: errors.New("数据库连接中断")}, &fakeVendors{})

	state := replenishment.NewWorkflowState("sku-1", "WIDGET-A", 120)
	delta := set.Forecast(context.Background(), state)
	replenishment.MergeState(state, delta)

	assert.Equal(t, replenishment.StatusFailed, state.WorkflowStatus)
	assert.NotEmpty(t, state.ErrorMessage)
	require.Len(t, state.AuditLog, 1)
	require.NotNil(t, state.AuditLog[0].Confidence)
	assert.Equal(t, 0.0, *state.AuditLog[0].Confidence)
}

// TestOptimize_FromForecastBand 测试由预测不确定带推导补货参数
func TestOptimize_FromForecastBand(t *testing.T) {
	set := newTestSet(t, &fakeForecasts{}, &fakeVendors{})

	state := replenishment.NewWorkflowState("sku-1", "WIDGET-A", 120)
	state.Forecast = flatForecast(12, 100, 80, 120)

	delta := set.Optimize(context.Background(), state)
	replenishment.MergeState(state, delta)

	// 周均 100、半带宽 20：安全库存 ceil(1.65*20)=33
	assert.Equal(t, 33, state.SafetyStock)
	// 提前期 2 周：再订货点 ceil(2*100)+33=233
	assert.Equal(t, 233, state.ReorderPoint)
	// 目标 8 周供应：建议订量 ceil(800+33-120)=713
	assert.Equal(t, 713, state.RecommendedQuantity)
	assert.Equal(t, replenishment.StatusAnalyzingVendor, state.WorkflowStatus)
	require.Len(t, state.AuditLog, 1)
	assert.Equal(t, AgentOptimizer, state.AuditLog[0].Agent)
}

// TestOptimize_DegradedWithoutForecast 测试无预测点时的保守估计路径
func TestOptimize_DegradedWithoutForecast(t *testing.T) {
	set := newTestSet(t, &fakeForecasts{}, &fakeVendors{})

	state := replenishment.NewWorkflowState("sku-1", "WIDGET-A", 260)

	delta := set.Optimize(context.Background(), state)
	replenishment.MergeState(state, delta)

	// 周均 260/26=10，半带宽 5：安全库存 ceil(8.25)=9
	assert.Equal(t, 9, state.SafetyStock)
	assert.Equal(t, 29, state.ReorderPoint)
	// 在手库存覆盖目标供应，建议订量为 0
	assert.Equal(t, 0, state.RecommendedQuantity)
	assert.Equal(t, replenishment.StatusAnalyzingVendor, state.WorkflowStatus)
}

// TestSelectVendor_WeightedScore 测试加权评分选择与订单金额计算
func TestSelectVendor_WeightedScore(t *testing.T) {
	cheap := replenishment.Vendor{ID: "v1", Name: "便宜但慢", UnitPrice: 10.00, LeadTimeDays: 28, MinOrderQty: 50, ReliabilityScore: 0.80}
	fast := replenishment.Vendor{ID: "v2", Name: "贵但可靠", UnitPrice: 12.00, LeadTimeDays: 7, MinOrderQty: 100, ReliabilityScore: 0.98}
	set := newTestSet(t, &fakeForecasts{}, &fakeVendors{vendors: []replenishment.Vendor{cheap, fast}})

	state := replenishment.NewWorkflowState("sku-1", "WIDGET-A", 120)
	state.RecommendedQuantity = 500

	delta := set.SelectVendor(context.Background(), state)
	replenishment.MergeState(state, delta)

	require.NotNil(t, state.SelectedVendor)
	// v2: 0.40*(10/12)+0.25*1+0.35*0.98=0.9263 > v1: 0.40*1+0.25*0.25+0.35*0.80=0.7425
	assert.Equal(t, "v2", state.SelectedVendor.ID)
	assert.Equal(t, 500, state.RecommendedQuantity)
	assert.InDelta(t, 6000.00, state.OrderValue, 1e-9)
	assert.Equal(t, replenishment.StatusAwaitingApproval, state.WorkflowStatus)
	assert.Len(t, state.Vendors, 2)
	require.Len(t, state.AuditLog, 1)
	assert.Equal(t, "vendor_selection", state.AuditLog[0].Action)
}

// TestSelectVendor_MOQClamp 测试订量向最小起订量收紧后金额不变式依然成立
func TestSelectVendor_MOQClamp(t *testing.T) {
	vendor := replenishment.Vendor{ID: "v1", Name: "唯一供应商", UnitPrice: 4.50, LeadTimeDays: 14, MinOrderQty: 200, ReliabilityScore: 0.90}
	set := newTestSet(t, &fakeForecasts{}, &fakeVendors{vendors: []replenishment.Vendor{vendor}})

	state := replenishment.NewWorkflowState("sku-1", "WIDGET-A", 120)
	state.RecommendedQuantity = 80

	delta := set.SelectVendor(context.Background(), state)
	replenishment.MergeState(state, delta)

	assert.Equal(t, 200, state.RecommendedQuantity)
	assert.InDelta(t, 900.00, state.OrderValue, 1e-9)
}

// TestSelectVendor_NoCandidates 测试无候选供应商落终态失败
func TestSelectVendor_NoCandidates(t *testing.T) {
	set := newTestSet(t, &fakeForecasts{}, &fakeVendors{vendors: nil})

	state := replenishment.NewWorkflowState("sku-1", "WIDGET-A", 120)
	delta := set.SelectVendor(context.Background(), state)
	replenishment.MergeState(state, delta)

	assert.Equal(t, replenishment.StatusFailed, state.WorkflowStatus)
	require.Len(t, state.AuditLog, 1)
	assert.Equal(t, "vendor_selection_failed", state.AuditLog[0].Action)
}

// TestRequestApproval_Routing 测试审批级别路由
func TestRequestApproval_Routing(t *testing.T) {
	set := newTestSet(t, &fakeForecasts{}, &fakeVendors{})

	tests := []struct {
		name       string
		orderValue float64
		confidence float64
		want       policy.Level
	}{
		{"小额高置信度自动批准", 1200.00, 0.95, policy.LevelAuto},
		{"中额需经理审批", 6000.00, 0.95, policy.LevelManager},
		{"大额需高管审批", 15000.00, 0.95, policy.LevelExecutive},
		{"低置信度需经理审批", 1200.00, 0.40, policy.LevelManager},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := replenishment.NewWorkflowState("sku-1", "WIDGET-A", 120)
			state.OrderValue = tt.orderValue
			state.ForecastConfidence = tt.confidence

			delta := set.RequestApproval(context.Background(), state)
			replenishment.MergeState(state, delta)

			assert.Equal(t, tt.want, state.ApprovalRequiredLevel)
			assert.Equal(t, replenishment.ApprovalPending, state.ApprovalStatus)
			require.Len(t, state.AuditLog, 1)
			assert.Equal(t, "approval_request", state.AuditLog[0].Action)
		})
	}
}

// TestGeneratePurchaseOrder 测试采购单生成
func TestGeneratePurchaseOrder(t *testing.T) {
	set := newTestSet(t, &fakeForecasts{}, &fakeVendors{})

	state := replenishment.NewWorkflowState("sku-1", "WIDGET-A", 120)
	state.SelectedVendor = &replenishment.Vendor{ID: "v1", Name: "供应商", UnitPrice: 4.50}
	state.RecommendedQuantity = 200
	state.OrderValue = 900.00
	state.ApprovalStatus = replenishment.ApprovalApproved

	delta := set.GeneratePurchaseOrder(context.Background(), state)
	replenishment.MergeState(state, delta)

	assert.Equal(t, replenishment.StatusCompleted, state.WorkflowStatus)
	require.Len(t, state.AuditLog, 1)
	entry := state.AuditLog[0]
	assert.Equal(t, AgentPOGenerator, entry.Agent)
	poNumber, ok := entry.Outputs["po_number"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(poNumber, "PO-"))
}

// TestGeneratePurchaseOrder_MissingVendor 测试缺少供应商时落终态失败
func TestGeneratePurchaseOrder_MissingVendor(t *testing.T) {
	set := newTestSet(t, &fakeForecasts{}, &fakeVendors{})

	state := replenishment.NewWorkflowState("sku-1", "WIDGET-A", 120)
	delta := set.GeneratePurchaseOrder(context.Background(), state)
	replenishment.MergeState(state, delta)

	assert.Equal(t, replenishment.StatusFailed, state.WorkflowStatus)
}
