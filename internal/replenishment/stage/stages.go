package stage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"backend/internal/config"
	"backend/internal/forecast"
	"backend/internal/logger"
	"backend/internal/policy"
	"backend/internal/replenishment"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 审计日志中的决策主体标识
const (
	AgentForecaster     = "demand_forecaster"
	AgentOptimizer      = "inventory_optimizer"
	AgentVendorAnalyst  = "vendor_analyst"
	AgentApprovalRouter = "approval_router"
	AgentPOGenerator    = "po_generator"
)

// 降级预测的置信度上限
const degradedConfidenceCap = 0.60

// Set 五个阶段函数的集合。
// 每个阶段只读取所需字段，产出增量更新，且恰好追加一条审计日志。
type Set struct {
	forecasts ForecastProvider
	vendors   VendorProvider
	policy    *policy.Engine
	planning  config.PlanningConfig
	logger    *zap.Logger
}

// NewSet 创建阶段函数集合
func NewSet(forecasts ForecastProvider, vendors VendorProvider, policyEngine *policy.Engine, planning config.PlanningConfig) *Set {
	return &Set{
		forecasts: forecasts,
		vendors:   vendors,
		policy:    policyEngine,
		planning:  planning,
		logger:    logger.Get(),
	}
}

// Forecast 预测阶段：生成周需求预测与置信度。
// 历史数据不足是可恢复错误：以降级置信度继续，由低置信度驱动后续人工审批。
func (s *Set) Forecast(ctx context.Context, state *replenishment.WorkflowState) *replenishment.StateDelta {
	series, err := s.forecasts.GetForecast(ctx, state.SKUID)

	var insufficient *forecast.InsufficientDataError
	if errors.As(err, &insufficient) {
		confidence := math.Min(degradedConfidenceCap,
			float64(insufficient.AvailableDays)/float64(insufficient.RequiredDays)*degradedConfidenceCap)
		next := replenishment.StatusOptimizing
		return &replenishment.StateDelta{
			ForecastConfidence: &confidence,
			WorkflowStatus:     &next,
			AuditLog: []replenishment.AuditEntry{
				newEntry(AgentForecaster, "demand_forecast_degraded",
					fmt.Sprintf("历史数据不足（%d/%d 天），以降级置信度继续并转人工审批", insufficient.AvailableDays, insufficient.RequiredDays),
					map[string]any{
						"sku_id":         state.SKUID,
						"available_days": insufficient.AvailableDays,
						"required_days":  insufficient.RequiredDays,
					},
					map[string]any{"forecast_confidence": confidence},
					&confidence,
				),
			},
		}
	}

	if err != nil {
		return replenishment.FailureDelta(AgentForecaster, "demand_forecast_failed",
			fmt.Sprintf("需求预测失败: %v", err),
			map[string]any{"sku_id": state.SKUID})
	}

	confidence := clamp(1-series.MAPE, 0, 1)
	next := replenishment.StatusOptimizing
	return &replenishment.StateDelta{
		Forecast:           series.Points,
		ForecastConfidence: &confidence,
		WorkflowStatus:     &next,
		AuditLog: []replenishment.AuditEntry{
			newEntry(AgentForecaster, "demand_forecast",
				fmt.Sprintf("基于 %d 周预测视野生成需求预测，模型 MAPE=%.4f", len(series.Points), series.MAPE),
				map[string]any{"sku_id": state.SKUID},
				map[string]any{
					"horizon_weeks":       len(series.Points),
					"forecast_confidence": confidence,
				},
				&confidence,
			),
		},
	}
}

// Optimize 优化阶段：由预测不确定带推导安全库存，计算再订货点与建议订量。
// 供应商最小起订量的约束在选定供应商后再收紧。
func (s *Set) Optimize(ctx context.Context, state *replenishment.WorkflowState) *replenishment.StateDelta {
	avgWeekly, halfBand := forecastAggregates(state.Forecast)
	degraded := len(state.Forecast) == 0
	if degraded {
		// 降级路径没有预测点，用在手库存折算一个保守的周需求估计
		avgWeekly = math.Max(1, float64(state.CurrentInventory)/26.0)
		halfBand = avgWeekly * 0.5
	}

	safetyStock := int(math.Ceil(s.planning.ServiceFactor * halfBand))

	leadTimeDays := s.planning.FallbackLeadTime
	leadWeeks := float64(leadTimeDays) / 7.0
	reorderPoint := int(math.Ceil(leadWeeks*avgWeekly)) + safetyStock

	target := float64(s.planning.TargetWeeksOfSupply) * avgWeekly
	recommended := int(math.Ceil(math.Max(0, target+float64(safetyStock)-float64(state.CurrentInventory))))

	basis := "预测不确定带"
	if degraded {
		basis = "降级保守估计"
	}

	next := replenishment.StatusAnalyzingVendor
	return &replenishment.StateDelta{
		SafetyStock:         &safetyStock,
		ReorderPoint:        &reorderPoint,
		RecommendedQuantity: &recommended,
		WorkflowStatus:      &next,
		AuditLog: []replenishment.AuditEntry{
			newEntry(AgentOptimizer, "inventory_optimization",
				fmt.Sprintf("基于%s计算：周均需求 %.1f，安全库存 %d，再订货点 %d，建议订量 %d",
					basis, avgWeekly, safetyStock, reorderPoint, recommended),
				map[string]any{
					"current_inventory":      state.CurrentInventory,
					"avg_weekly_demand":      round2(avgWeekly),
					"lead_time_days":         leadTimeDays,
					"target_weeks_of_supply": s.planning.TargetWeeksOfSupply,
				},
				map[string]any{
					"safety_stock":         safetyStock,
					"reorder_point":        reorderPoint,
					"recommended_quantity": recommended,
				},
				nil,
			),
		},
	}
}

// SelectVendor 供应商选择阶段：按价格/交期/可靠性加权评分选定供应商并计算订单金额
func (s *Set) SelectVendor(ctx context.Context, state *replenishment.WorkflowState) *replenishment.StateDelta {
	vendors, err := s.vendors.GetVendorsForSKU(ctx, state.SKUID)
	if err != nil {
		return replenishment.FailureDelta(AgentVendorAnalyst, "vendor_selection_failed",
			fmt.Sprintf("供应商查询失败: %v", err),
			map[string]any{"sku_id": state.SKUID})
	}
	if len(vendors) == 0 {
		return replenishment.FailureDelta(AgentVendorAnalyst, "vendor_selection_failed",
			"没有可用的候选供应商",
			map[string]any{"sku_id": state.SKUID})
	}

	selected, score := pickVendor(vendors)

	// 建议订量向选定供应商的最小起订量收紧
	quantity := state.RecommendedQuantity
	clamped := false
	if quantity < selected.MinOrderQty {
		quantity = selected.MinOrderQty
		clamped = true
	}

	orderValue := round2(selected.UnitPrice * float64(quantity))

	reasoning := fmt.Sprintf("从 %d 个候选中选定 %s（综合评分 %.3f），订单金额 %.2f", len(vendors), selected.Name, score, orderValue)
	if clamped {
		reasoning += fmt.Sprintf("；订量已提升至最小起订量 %d", selected.MinOrderQty)
	}

	next := replenishment.StatusAwaitingApproval
	return &replenishment.StateDelta{
		Vendors:             vendors,
		SelectedVendor:      &selected,
		RecommendedQuantity: &quantity,
		OrderValue:          &orderValue,
		WorkflowStatus:      &next,
		AuditLog: []replenishment.AuditEntry{
			newEntry(AgentVendorAnalyst, "vendor_selection",
				reasoning,
				map[string]any{
					"sku_id":               state.SKUID,
					"candidate_count":      len(vendors),
					"recommended_quantity": state.RecommendedQuantity,
				},
				map[string]any{
					"vendor_id":    selected.ID,
					"vendor_name":  selected.Name,
					"unit_price":   selected.UnitPrice,
					"quantity":     quantity,
					"order_value":  orderValue,
					"vendor_score": round3(score),
					"moq_clamped":  clamped,
				},
				&score,
			),
		},
	}
}

// RequestApproval 审批请求阶段：计算所需审批级别并置为待审批。
// 这里是指定的挂起点，编排器不会自动越过它。
func (s *Set) RequestApproval(ctx context.Context, state *replenishment.WorkflowState) *replenishment.StateDelta {
	reliability := 0.0
	if state.SelectedVendor != nil {
		reliability = state.SelectedVendor.ReliabilityScore
	}

	level := s.policy.Decide(policy.Inputs{
		OrderValue:          state.OrderValue,
		Confidence:          state.ForecastConfidence,
		VendorReliability:   reliability,
		RecommendedQuantity: state.RecommendedQuantity,
	})

	pending := replenishment.ApprovalPending
	return &replenishment.StateDelta{
		ApprovalRequiredLevel: &level,
		ApprovalStatus:        &pending,
		AuditLog: []replenishment.AuditEntry{
			newEntry(AgentApprovalRouter, "approval_request",
				fmt.Sprintf("订单金额 %.2f、预测置信度 %.2f，所需审批级别: %s", state.OrderValue, state.ForecastConfidence, level),
				map[string]any{
					"order_value":         state.OrderValue,
					"forecast_confidence": state.ForecastConfidence,
				},
				map[string]any{"required_level": string(level)},
				nil,
			),
		},
	}
}

// GeneratePurchaseOrder 采购单生成阶段（终态）。
// 自动批准与人工批准都走同一路径。
func (s *Set) GeneratePurchaseOrder(ctx context.Context, state *replenishment.WorkflowState) *replenishment.StateDelta {
	if state.SelectedVendor == nil {
		return replenishment.FailureDelta(AgentPOGenerator, "purchase_order_failed",
			"未选定供应商，无法生成采购单",
			map[string]any{"sku_id": state.SKUID})
	}

	poNumber := fmt.Sprintf("PO-%s-%s",
		time.Now().UTC().Format("20060102"),
		strings.ToUpper(uuid.NewString()[:8]))

	s.logger.Info("采购单已生成",
		zap.String("po_number", poNumber),
		zap.String("sku", state.SKU),
		zap.Float64("order_value", state.OrderValue),
	)

	completed := replenishment.StatusCompleted
	return &replenishment.StateDelta{
		WorkflowStatus: &completed,
		AuditLog: []replenishment.AuditEntry{
			newEntry(AgentPOGenerator, "purchase_order_generation",
				fmt.Sprintf("生成采购单 %s：%s x%d @ %.2f", poNumber, state.SKU, state.RecommendedQuantity, state.SelectedVendor.UnitPrice),
				map[string]any{
					"sku_id":          state.SKUID,
					"approval_status": string(state.ApprovalStatus),
				},
				map[string]any{
					"po_number":   poNumber,
					"vendor_id":   state.SelectedVendor.ID,
					"quantity":    state.RecommendedQuantity,
					"order_value": state.OrderValue,
				},
				nil,
			),
		},
	}
}

// pickVendor 加权评分选择供应商：价格 0.40、交期 0.25、可靠性 0.35
func pickVendor(vendors []replenishment.Vendor) (replenishment.Vendor, float64) {
	minPrice := vendors[0].UnitPrice
	minLead := vendors[0].LeadTimeDays
	for _, v := range vendors[1:] {
		if v.UnitPrice < minPrice {
			minPrice = v.UnitPrice
		}
		if v.LeadTimeDays < minLead {
			minLead = v.LeadTimeDays
		}
	}

	best := vendors[0]
	bestScore := -1.0
	for _, v := range vendors {
		priceScore := 1.0
		if v.UnitPrice > 0 {
			priceScore = minPrice / v.UnitPrice
		}
		leadScore := 1.0
		if v.LeadTimeDays > 0 {
			leadScore = float64(minLead) / float64(v.LeadTimeDays)
		}
		score := 0.40*priceScore + 0.25*leadScore + 0.35*clamp(v.ReliabilityScore, 0, 1)
		if score > bestScore {
			best = v
			bestScore = score
		}
	}
	return best, bestScore
}

// forecastAggregates 返回预测点的平均需求与平均半带宽
func forecastAggregates(points []replenishment.ForecastPoint) (float64, float64) {
	if len(points) == 0 {
		return 0, 0
	}
	var sum, band float64
	for _, p := range points {
		sum += p.PointEstimate
		band += (p.UpperBound - p.LowerBound) / 2
	}
	n := float64(len(points))
	return sum / n, band / n
}

func newEntry(agent, action, reasoning string, inputs, outputs map[string]any, confidence *float64) replenishment.AuditEntry {
	return replenishment.AuditEntry{
		Timestamp:  time.Now().UTC(),
		Agent:      agent,
		Action:     action,
		Reasoning:  reasoning,
		Inputs:     inputs,
		Outputs:    outputs,
		Confidence: confidence,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
