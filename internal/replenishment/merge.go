package replenishment

import (
	"time"

	"backend/internal/policy"
)

// StateDelta 单个阶段产出的增量更新。
// 指针字段为 nil 表示不修改；AuditLog 永远只做追加。
type StateDelta struct {
	CurrentInventory *int

	Forecast           []ForecastPoint
	ForecastConfidence *float64

	SafetyStock         *int
	ReorderPoint        *int
	RecommendedQuantity *int

	Vendors        []Vendor
	SelectedVendor *Vendor
	OrderValue     *float64

	ApprovalStatus        *ApprovalStatus
	ApprovalRequiredLevel *policy.Level
	ReviewerID            *string
	HumanFeedback         *string

	WorkflowStatus *WorkflowStatus
	ErrorMessage   *string

	AuditLog []AuditEntry
}

// MergeState 把增量合并进状态：标量覆盖，审计日志按阶段执行顺序拼接。
// 已有的审计条目绝不会被替换或重排。
func MergeState(state *WorkflowState, delta *StateDelta) {
	if delta == nil {
		return
	}

	if delta.CurrentInventory != nil {
		state.CurrentInventory = *delta.CurrentInventory
	}

	if delta.Forecast != nil {
		state.Forecast = delta.Forecast
	}
	if delta.ForecastConfidence != nil {
		state.ForecastConfidence = *delta.ForecastConfidence
	}

	if delta.SafetyStock != nil {
		state.SafetyStock = *delta.SafetyStock
	}
	if delta.ReorderPoint != nil {
		state.ReorderPoint = *delta.ReorderPoint
	}
	if delta.RecommendedQuantity != nil {
		state.RecommendedQuantity = *delta.RecommendedQuantity
	}

	if delta.Vendors != nil {
		state.Vendors = delta.Vendors
	}
	if delta.SelectedVendor != nil {
		state.SelectedVendor = delta.SelectedVendor
	}
	if delta.OrderValue != nil {
		state.OrderValue = *delta.OrderValue
	}

	if delta.ApprovalStatus != nil {
		state.ApprovalStatus = *delta.ApprovalStatus
	}
	if delta.ApprovalRequiredLevel != nil {
		state.ApprovalRequiredLevel = *delta.ApprovalRequiredLevel
	}
	if delta.ReviewerID != nil {
		state.ReviewerID = *delta.ReviewerID
	}
	if delta.HumanFeedback != nil {
		state.HumanFeedback = *delta.HumanFeedback
	}

	if delta.WorkflowStatus != nil {
		state.WorkflowStatus = *delta.WorkflowStatus
	}
	if delta.ErrorMessage != nil {
		state.ErrorMessage = *delta.ErrorMessage
	}

	state.AuditLog = append(state.AuditLog, delta.AuditLog...)
	state.UpdatedAt = time.Now().UTC()
}

// FailureDelta 构造终态失败的增量，附带解释失败原因的审计条目（置信度 0）
func FailureDelta(agent, action, reason string, inputs map[string]any) *StateDelta {
	failed := StatusFailed
	msg := reason
	zero := 0.0
	return &StateDelta{
		WorkflowStatus: &failed,
		ErrorMessage:   &msg,
		AuditLog: []AuditEntry{
			{
				Timestamp:  time.Now().UTC(),
				Agent:      agent,
				Action:     action,
				Reasoning:  reason,
				Inputs:     inputs,
				Confidence: &zero,
			},
		},
	}
}
