package policy

import (
	"testing"

	"backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDecideApprovalLevel_Boundaries 测试审批级别阈值边界
func TestDecideApprovalLevel_Boundaries(t *testing.T) {
	tests := []struct {
		name       string
		orderValue float64
		confidence float64
		want       Level
	}{
		{"低金额高置信度自动批准", 1200.00, 0.95, LevelAuto},
		{"金额恰好 5000 仍自动批准", 5000.00, 0.90, LevelAuto},
		{"金额刚过 5000 需经理审批", 5000.01, 0.95, LevelManager},
		{"金额恰好 10000 仍是经理审批", 10000.00, 0.95, LevelManager},
		{"金额刚过 10000 需高管审批", 10000.01, 0.95, LevelExecutive},
		{"大额订单始终高管审批", 50000.00, 0.99, LevelExecutive},
		{"置信度恰好 0.85 自动批准", 4000.00, 0.85, LevelAuto},
		{"置信度低于 0.85 需经理审批", 4000.00, 0.84, LevelManager},
		{"低金额低置信度需经理审批", 100.00, 0.50, LevelManager},
		{"高金额高置信度仍需高管审批", 20000.00, 0.99, LevelExecutive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecideApprovalLevel(tt.orderValue, tt.confidence)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRequiresHumanApproval(t *testing.T) {
	assert.False(t, RequiresHumanApproval(1000, 0.95))
	assert.True(t, RequiresHumanApproval(6000, 0.95))
	assert.True(t, RequiresHumanApproval(1000, 0.50))
}

func TestLevelMaxLevel(t *testing.T) {
	assert.Equal(t, LevelExecutive, MaxLevel(LevelManager, LevelExecutive))
	assert.Equal(t, LevelManager, MaxLevel(LevelManager, LevelAuto))
	assert.Equal(t, LevelAuto, MaxLevel(LevelAuto, LevelAuto))
}

// TestEngineDecide_EscalationRules 测试规则引擎只升不降
func TestEngineDecide_EscalationRules(t *testing.T) {
	engine, err := NewEngine([]config.EscalationRule{
		{Name: "low_vendor_reliability", Expression: "vendor_reliability < 0.7", Level: "manager"},
		{Name: "bulk_order", Expression: "recommended_quantity > 5000", Level: "executive"},
	})
	require.NoError(t, err)

	// 1. 固定阈值本可自动批准，规则命中后升级为经理审批
	got := engine.Decide(Inputs{OrderValue: 1000, Confidence: 0.95, VendorReliability: 0.60, RecommendedQuantity: 100})
	assert.Equal(t, LevelManager, got)

	// 2. 大批量订单升级为高管审批
	got = engine.Decide(Inputs{OrderValue: 1000, Confidence: 0.95, VendorReliability: 0.90, RecommendedQuantity: 6000})
	assert.Equal(t, LevelExecutive, got)

	// 3. 规则不命中时保持固定阈值结果
	got = engine.Decide(Inputs{OrderValue: 1000, Confidence: 0.95, VendorReliability: 0.90, RecommendedQuantity: 100})
	assert.Equal(t, LevelAuto, got)

	// 4. 规则不能把固定阈值的高管审批降级
	got = engine.Decide(Inputs{OrderValue: 20000, Confidence: 0.95, VendorReliability: 0.90, RecommendedQuantity: 100})
	assert.Equal(t, LevelExecutive, got)
}

func TestNewEngine_InvalidExpression(t *testing.T) {
	_, err := NewEngine([]config.EscalationRule{
		{Name: "broken", Expression: "vendor_reliability < (", Level: "manager"},
	})
	require.Error(t, err)
}
