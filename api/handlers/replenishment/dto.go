package replenishment

import (
	"time"

	"backend/internal/replenishment"
)

// StartWorkflowRequest 启动补货工作流请求。
// current_inventory 缺省时由库存服务查询；async 为 true 走任务队列异步执行。
type StartWorkflowRequest struct {
	SKUID            string `json:"sku_id" binding:"required,uuid"`
	SKU              string `json:"sku" binding:"required"`
	CurrentInventory *int   `json:"current_inventory" binding:"omitempty,min=0"`
	Async            bool   `json:"async"`
}

// StartWorkflowResponse 启动结果：同步模式返回执行停住时的状态
type StartWorkflowResponse struct {
	WorkflowID            string  `json:"workflow_id,omitempty"`
	WorkflowStatus        string  `json:"workflow_status,omitempty"`
	ApprovalStatus        string  `json:"approval_status,omitempty"`
	ApprovalRequiredLevel string  `json:"approval_required_level,omitempty"`
	OrderValue            float64 `json:"order_value,omitempty"`
	Queued                bool    `json:"queued,omitempty"`
	ErrorMessage          string  `json:"error_message,omitempty"`
}

// DecisionRequest 人工审批决策请求
type DecisionRequest struct {
	Approved   *bool  `json:"approved" binding:"required"`
	ReviewerID string `json:"reviewer_id" binding:"required"`
	Feedback   string `json:"feedback"`
}

// DecisionResponse 审批决策结果
type DecisionResponse struct {
	WorkflowID     string `json:"workflow_id"`
	WorkflowStatus string `json:"workflow_status"`
	ApprovalStatus string `json:"approval_status"`
	ReviewerID     string `json:"reviewer_id"`
}

// WorkflowDetail 工作流详情，含完整审计日志
type WorkflowDetail struct {
	*replenishment.Workflow
	AuditEntries []replenishment.AuditEntry `json:"audit_entries"`
	SuspendedAt  *time.Time                 `json:"suspended_at,omitempty"`
}
