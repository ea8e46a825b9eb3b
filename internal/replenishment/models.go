package replenishment

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"backend/internal/policy"

	"gorm.io/datatypes"
)

// WorkflowStatus 工作流生命周期状态
type WorkflowStatus string

const (
	StatusInitialized      WorkflowStatus = "initialized"
	StatusForecasting      WorkflowStatus = "forecasting"
	StatusOptimizing       WorkflowStatus = "optimizing"
	StatusAnalyzingVendor  WorkflowStatus = "analyzing_vendor"
	StatusAwaitingApproval WorkflowStatus = "awaiting_approval"
	StatusGeneratingPO     WorkflowStatus = "generating_po"
	StatusCompleted        WorkflowStatus = "completed"
	StatusFailed           WorkflowStatus = "failed"
)

var validWorkflowStatuses = map[WorkflowStatus]bool{
	StatusInitialized:      true,
	StatusForecasting:      true,
	StatusOptimizing:       true,
	StatusAnalyzingVendor:  true,
	StatusAwaitingApproval: true,
	StatusGeneratingPO:     true,
	StatusCompleted:        true,
	StatusFailed:           true,
}

var terminalWorkflowStatuses = map[WorkflowStatus]bool{
	StatusCompleted: true,
	StatusFailed:    true,
}

// IsValid 判断是否为合法状态
func (s WorkflowStatus) IsValid() bool {
	return validWorkflowStatuses[s]
}

// IsTerminal 判断是否为终态（不再允许任何流转）
func (s WorkflowStatus) IsTerminal() bool {
	return terminalWorkflowStatuses[s]
}

// ApprovalStatus 审批状态
type ApprovalStatus string

const (
	ApprovalPending      ApprovalStatus = "pending"
	ApprovalApproved     ApprovalStatus = "approved"
	ApprovalRejected     ApprovalStatus = "rejected"
	ApprovalAutoApproved ApprovalStatus = "auto_approved"
)

// IsDecided 判断审批是否已有结论
func (s ApprovalStatus) IsDecided() bool {
	return s == ApprovalApproved || s == ApprovalRejected || s == ApprovalAutoApproved
}

// ForecastPoint 单周需求预测点
type ForecastPoint struct {
	Week          int       `json:"week"`
	Date          time.Time `json:"date"`
	PointEstimate float64   `json:"point_estimate"`
	LowerBound    float64   `json:"lower_bound"`
	UpperBound    float64   `json:"upper_bound"`
}

// Vendor 供应商候选记录
type Vendor struct {
	ID               string  `json:"id"`
	Name             string  `json:"name"`
	UnitPrice        float64 `json:"unit_price"`
	LeadTimeDays     int     `json:"lead_time_days"`
	MinOrderQty      int     `json:"min_order_qty"`
	ReliabilityScore float64 `json:"reliability_score"`
}

// Value 实现 driver.Valuer 接口，用于 GORM 存储 JSONB
func (v Vendor) Value() (driver.Value, error) {
	return json.Marshal(v)
}

// Scan 实现 sql.Scanner 接口，用于 GORM 读取 JSONB
func (v *Vendor) Scan(value interface{}) error {
	switch data := value.(type) {
	case []byte:
		return json.Unmarshal(data, v)
	case string:
		return json.Unmarshal([]byte(data), v)
	default:
		return errors.New("不支持的供应商列类型")
	}
}

// AuditEntry 审计日志条目，记录每次自动决策
type AuditEntry struct {
	Timestamp  time.Time      `json:"timestamp"`
	Agent      string         `json:"agent"`
	Action     string         `json:"action"`
	Reasoning  string         `json:"reasoning"`
	Inputs     map[string]any `json:"inputs,omitempty"`
	Outputs    map[string]any `json:"outputs,omitempty"`
	Confidence *float64       `json:"confidence,omitempty"`
}

// WorkflowState 流水线工作数据，各阶段只做增量修改
type WorkflowState struct {
	// 标识
	SKUID            string `json:"sku_id"`
	SKU              string `json:"sku"`
	CurrentInventory int    `json:"current_inventory"`

	// 预测
	Forecast           []ForecastPoint `json:"forecast,omitempty"`
	ForecastConfidence float64         `json:"forecast_confidence"`

	// 优化
	SafetyStock         int `json:"safety_stock"`
	ReorderPoint        int `json:"reorder_point"`
	RecommendedQuantity int `json:"recommended_quantity"`

	// 供应商
	Vendors        []Vendor `json:"vendors,omitempty"`
	SelectedVendor *Vendor  `json:"selected_vendor,omitempty"`
	OrderValue     float64  `json:"order_value"`

	// 审批
	ApprovalStatus        ApprovalStatus `json:"approval_status"`
	ApprovalRequiredLevel policy.Level   `json:"approval_required_level"`
	ReviewerID            string         `json:"reviewer_id,omitempty"`
	HumanFeedback         string         `json:"human_feedback,omitempty"`

	// 生命周期
	WorkflowStatus WorkflowStatus `json:"workflow_status"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// 审计日志（只追加，永不重排或替换）
	AuditLog []AuditEntry `json:"audit_log"`
}

// NewWorkflowState 创建初始工作流状态
func NewWorkflowState(skuID, sku string, currentInventory int) *WorkflowState {
	now := time.Now().UTC()
	return &WorkflowState{
		SKUID:            skuID,
		SKU:              sku,
		CurrentInventory: currentInventory,
		ApprovalStatus:   ApprovalPending,
		WorkflowStatus:   StatusInitialized,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Clone 深拷贝状态（经由 JSON 往返，避免切片别名）
func (s *WorkflowState) Clone() (*WorkflowState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out WorkflowState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Workflow 工作流持久化记录（人工审批队列查询的就是这张表）
type Workflow struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	ThreadID string `json:"threadId" gorm:"size:100;not null;uniqueIndex"`

	// SKU 信息
	SKUID            string `json:"skuId" gorm:"type:uuid;not null;index"`
	SKU              string `json:"sku" gorm:"size:100;not null;index"`
	CurrentInventory int    `json:"currentInventory" gorm:"not null"`

	// 预测与优化结果
	ForecastConfidence  *float64 `json:"forecastConfidence"`
	SafetyStock         *int     `json:"safetyStock"`
	ReorderPoint        *int     `json:"reorderPoint"`
	RecommendedQuantity *int     `json:"recommendedQuantity"`

	// 供应商与订单
	SelectedVendor *Vendor  `json:"selectedVendor,omitempty" gorm:"type:jsonb"`
	OrderValue     *float64 `json:"orderValue"`

	// 审批
	ApprovalStatus        string  `json:"approvalStatus" gorm:"size:50;not null;default:pending;index"`
	ApprovalRequiredLevel *string `json:"approvalRequiredLevel" gorm:"size:50;index"`
	ReviewerID            *string `json:"reviewerId" gorm:"size:100"`
	HumanFeedback         *string `json:"humanFeedback" gorm:"type:text"`

	// 生命周期
	WorkflowStatus string  `json:"workflowStatus" gorm:"size:50;not null;default:initialized;index"`
	ErrorMessage   *string `json:"errorMessage" gorm:"type:text"`

	// 审计日志
	AuditLog datatypes.JSON `json:"auditLog" gorm:"type:jsonb"`

	// 时间戳
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

func (Workflow) TableName() string {
	return "replenishment_workflows"
}
