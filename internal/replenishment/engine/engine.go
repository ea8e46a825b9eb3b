package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"backend/internal/common"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/policy"
	"backend/internal/replenishment"
	"backend/internal/replenishment/checkpoint"
	"backend/internal/replenishment/graph"
	"backend/internal/replenishment/stage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AgentHumanReviewer 人工审批者在审计日志中的身份标识
const AgentHumanReviewer = "human_reviewer"

// Service 补货工作流编排服务。
// 负责启动流水线、在审批点挂起、接收人工决策后恢复执行。
type Service struct {
	*common.BaseService
	runner      *graph.Runner
	checkpoints checkpoint.Store
	inventory   stage.InventoryProvider
	logger      *zap.Logger
}

// NewService 创建编排服务。inventory 可为 nil，此时启动请求必须携带当前库存。
func NewService(db *gorm.DB, runner *graph.Runner, store checkpoint.Store, inventory stage.InventoryProvider) *Service {
	return &Service{
		BaseService: common.NewBaseService(db),
		runner:      runner,
		checkpoints: store,
		inventory:   inventory,
		logger:      logger.Get(),
	}
}

// StartWorkflow 启动一条补货工作流并同步执行到完成、失败或审批挂起点。
// currentInventory 传负数表示由库存服务查询当前库存。
// 返回新工作流 ID 与执行停住时的状态快照。
func (s *Service) StartWorkflow(ctx context.Context, skuID, sku string, currentInventory int) (string, *replenishment.WorkflowState, error) {
	if _, err := uuid.Parse(skuID); err != nil {
		return "", nil, fmt.Errorf("%w: sku_id 必须是 UUID", replenishment.ErrValidation)
	}
	if sku == "" {
		return "", nil, fmt.Errorf("%w: sku 不能为空", replenishment.ErrValidation)
	}

	if currentInventory < 0 {
		if s.inventory == nil {
			return "", nil, fmt.Errorf("%w: 未提供当前库存", replenishment.ErrValidation)
		}
		qty, err := s.inventory.GetCurrentInventory(ctx, skuID)
		if err != nil {
			return "", nil, fmt.Errorf("查询当前库存失败: %w", err)
		}
		currentInventory = qty
	}

	workflowID := uuid.NewString()
	threadID := "replenish-" + workflowID
	state := replenishment.NewWorkflowState(skuID, sku, currentInventory)

	row := &replenishment.Workflow{
		ID:               workflowID,
		ThreadID:         threadID,
		SKUID:            skuID,
		SKU:              sku,
		CurrentInventory: currentInventory,
		ApprovalStatus:   string(replenishment.ApprovalPending),
		WorkflowStatus:   string(replenishment.StatusInitialized),
	}
	if err := s.DB().WithContext(ctx).Create(row).Error; err != nil {
		return "", nil, fmt.Errorf("创建工作流记录失败: %w", err)
	}
	metrics.WorkflowStartedTotal.Inc()

	s.logger.Info("补货工作流已启动",
		zap.String("workflow_id", workflowID),
		zap.String("sku", sku),
		zap.Int("current_inventory", currentInventory),
	)

	outcome, err := s.runner.Run(logger.WithWorkflowID(ctx, workflowID), threadID, state)
	if err != nil {
		failMsg := err.Error()
		s.DB().WithContext(ctx).Model(row).Updates(map[string]any{
			"workflow_status": string(replenishment.StatusFailed),
			"error_message":   failMsg,
		})
		return workflowID, nil, fmt.Errorf("工作流执行失败: %w", err)
	}

	if err := s.persistState(ctx, workflowID, outcome.State); err != nil {
		return workflowID, outcome.State, err
	}
	s.recordOutcome(outcome)

	return workflowID, outcome.State, nil
}

// ResumeWorkflow 接收人工审批决策并恢复挂起的工作流。
// 通过条件更新原子认领决策权：并发的多个审批人只有一个能成功，
// 其余得到 ErrInvalidWorkflowState。
func (s *Service) ResumeWorkflow(ctx context.Context, workflowID string, approved bool, reviewerID, feedback string) (*replenishment.WorkflowState, error) {
	if _, err := uuid.Parse(workflowID); err != nil {
		return nil, fmt.Errorf("%w: workflow_id 必须是 UUID", replenishment.ErrValidation)
	}
	if reviewerID == "" {
		return nil, fmt.Errorf("%w: reviewer_id 不能为空", replenishment.ErrValidation)
	}

	decision := replenishment.ApprovalRejected
	if approved {
		decision = replenishment.ApprovalApproved
	}

	// 原子认领：只有处于挂起待审批状态的工作流才能被更新，
	// RowsAffected 为 0 说明已被并发决策抢先或状态不符
	res := s.DB().WithContext(ctx).Model(&replenishment.Workflow{}).
		Where("id = ? AND approval_status = ? AND workflow_status = ?",
			workflowID,
			string(replenishment.ApprovalPending),
			string(replenishment.StatusAwaitingApproval),
		).
		Updates(map[string]any{
			"approval_status": string(decision),
			"reviewer_id":     reviewerID,
			"human_feedback":  feedback,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("认领审批决策失败: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var exists int64
		if err := s.DB().WithContext(ctx).Model(&replenishment.Workflow{}).
			Where("id = ?", workflowID).Count(&exists).Error; err != nil {
			return nil, fmt.Errorf("查询工作流失败: %w", err)
		}
		if exists == 0 {
			return nil, replenishment.ErrWorkflowNotFound
		}
		return nil, replenishment.ErrInvalidWorkflowState
	}

	var row replenishment.Workflow
	if err := s.DB().WithContext(ctx).First(&row, "id = ?", workflowID).Error; err != nil {
		return nil, fmt.Errorf("加载工作流记录失败: %w", err)
	}

	state, _, err := s.checkpoints.Load(ctx, row.ThreadID)
	if err != nil {
		return nil, fmt.Errorf("加载检查点失败: %w", err)
	}

	// 决策先写进工作数据，再追加人工审批的审计条目
	reviewer := reviewerID
	fb := feedback
	replenishment.MergeState(state, &replenishment.StateDelta{
		ApprovalStatus: &decision,
		ReviewerID:     &reviewer,
		HumanFeedback:  &fb,
		AuditLog: []replenishment.AuditEntry{
			{
				Timestamp: time.Now().UTC(),
				Agent:     AgentHumanReviewer,
				Action:    "human_approval",
				Reasoning: humanReasoning(approved, feedback),
				Inputs: map[string]any{
					"order_value":    state.OrderValue,
					"required_level": string(state.ApprovalRequiredLevel),
				},
				Outputs: map[string]any{
					"decision":    string(decision),
					"reviewer_id": reviewerID,
				},
			},
		},
	})

	metrics.ApprovalDecisionsTotal.WithLabelValues(string(decision), string(state.ApprovalRequiredLevel)).Inc()
	metrics.ApprovalPendingGauge.Dec()

	rctx := logger.WithWorkflowID(ctx, workflowID)

	if !approved {
		// 拒绝即终止：记录决策后正常完结，不生成采购单
		state.WorkflowStatus = replenishment.StatusCompleted
		state.UpdatedAt = time.Now().UTC()
		if err := s.checkpoints.Save(rctx, row.ThreadID, string(graph.StageRequestApproval), state); err != nil {
			return nil, fmt.Errorf("保存检查点失败: %w", err)
		}
		if err := s.persistState(ctx, workflowID, state); err != nil {
			return nil, err
		}
		metrics.WorkflowCompletedTotal.WithLabelValues(
			string(state.WorkflowStatus), string(state.ApprovalStatus)).Inc()
		s.logger.Info("补货申请被拒绝",
			zap.String("workflow_id", workflowID),
			zap.String("reviewer_id", reviewerID),
		)
		return state, nil
	}

	outcome, err := s.runner.ResumeFrom(rctx, row.ThreadID, state, graph.StageGeneratePO)
	if err != nil {
		return nil, fmt.Errorf("恢复工作流执行失败: %w", err)
	}
	if err := s.persistState(ctx, workflowID, outcome.State); err != nil {
		return outcome.State, err
	}
	s.recordOutcome(outcome)

	return outcome.State, nil
}

// GetWorkflow 查询单条工作流记录
func (s *Service) GetWorkflow(ctx context.Context, workflowID string) (*replenishment.Workflow, error) {
	if _, err := uuid.Parse(workflowID); err != nil {
		return nil, fmt.Errorf("%w: workflow_id 必须是 UUID", replenishment.ErrValidation)
	}
	var row replenishment.Workflow
	if err := s.DB().WithContext(ctx).First(&row, "id = ?", workflowID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, replenishment.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("查询工作流失败: %w", err)
	}
	return &row, nil
}

// PendingQuery 审批队列查询参数
type PendingQuery struct {
	common.PaginationRequest
	Level string `form:"level" binding:"omitempty,oneof=manager executive"`
	SKU   string `form:"sku"`
}

// ListPending 列出挂起待人工审批的工作流，按挂起时间先后排序
func (s *Service) ListPending(ctx context.Context, q *PendingQuery) (*common.PaginatedResult[replenishment.Workflow], error) {
	query := s.DB().WithContext(ctx).Model(&replenishment.Workflow{}).
		Where("workflow_status = ? AND approval_status = ?",
			string(replenishment.StatusAwaitingApproval),
			string(replenishment.ApprovalPending),
		)
	if q.Level != "" {
		query = query.Where("approval_required_level = ?", q.Level)
	}
	query = s.ApplyStatusFilter(query, "sku", q.SKU)

	total, err := s.Count(query, &replenishment.Workflow{})
	if err != nil {
		return nil, err
	}

	var rows []replenishment.Workflow
	if err := s.ApplyPagination(query.Order("updated_at asc"), &q.PaginationRequest).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询审批队列失败: %w", err)
	}

	return &common.PaginatedResult[replenishment.Workflow]{
		Items:    rows,
		Total:    total,
		Page:     q.Page,
		PageSize: q.GetPageSize(),
	}, nil
}

// HistoryQuery 历史查询参数
type HistoryQuery struct {
	common.PaginationRequest
	common.SortRequest
	common.DateRange
	Status         string `form:"status"`
	ApprovalStatus string `form:"approval_status"`
	SKU            string `form:"sku"`
}

// historySortFields 历史查询允许的排序字段白名单
var historySortFields = map[string]bool{
	"created_at":  true,
	"updated_at":  true,
	"order_value": true,
	"sku":         true,
}

// ListHistory 列出全部工作流记录，支持状态、SKU 与时间范围过滤
func (s *Service) ListHistory(ctx context.Context, q *HistoryQuery) (*common.PaginatedResult[replenishment.Workflow], error) {
	query := s.DB().WithContext(ctx).Model(&replenishment.Workflow{})
	query = s.ApplyStatusFilter(query, "workflow_status", q.Status)
	query = s.ApplyStatusFilter(query, "approval_status", q.ApprovalStatus)
	query = s.ApplyStatusFilter(query, "sku", q.SKU)
	query = s.ApplyDateRange(query, "created_at", &q.DateRange)

	total, err := s.Count(query, &replenishment.Workflow{})
	if err != nil {
		return nil, err
	}

	query = s.ApplySorting(query, &q.SortRequest, historySortFields, "created_at desc")

	var rows []replenishment.Workflow
	if err := s.ApplyPagination(query, &q.PaginationRequest).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("查询工作流历史失败: %w", err)
	}

	return &common.PaginatedResult[replenishment.Workflow]{
		Items:    rows,
		Total:    total,
		Page:     q.Page,
		PageSize: q.GetPageSize(),
	}, nil
}

// persistState 把工作数据投影回工作流记录表
func (s *Service) persistState(ctx context.Context, workflowID string, state *replenishment.WorkflowState) error {
	auditJSON, err := json.Marshal(state.AuditLog)
	if err != nil {
		return fmt.Errorf("序列化审计日志失败: %w", err)
	}

	updates := map[string]any{
		"current_inventory": state.CurrentInventory,
		"approval_status":   string(state.ApprovalStatus),
		"workflow_status":   string(state.WorkflowStatus),
		"audit_log":         datatypes.JSON(auditJSON),
	}
	if state.ForecastConfidence > 0 || len(state.Forecast) > 0 {
		updates["forecast_confidence"] = state.ForecastConfidence
	}
	if state.WorkflowStatus != replenishment.StatusForecasting &&
		state.WorkflowStatus != replenishment.StatusInitialized {
		updates["safety_stock"] = state.SafetyStock
		updates["reorder_point"] = state.ReorderPoint
		updates["recommended_quantity"] = state.RecommendedQuantity
	}
	if state.SelectedVendor != nil {
		updates["selected_vendor"] = state.SelectedVendor
		updates["order_value"] = state.OrderValue
	}
	if state.ApprovalRequiredLevel != "" {
		updates["approval_required_level"] = string(state.ApprovalRequiredLevel)
	}
	if state.ReviewerID != "" {
		updates["reviewer_id"] = state.ReviewerID
	}
	if state.HumanFeedback != "" {
		updates["human_feedback"] = state.HumanFeedback
	}
	if state.ErrorMessage != "" {
		updates["error_message"] = state.ErrorMessage
	}

	if err := s.DB().WithContext(ctx).Model(&replenishment.Workflow{}).
		Where("id = ?", workflowID).Updates(updates).Error; err != nil {
		return fmt.Errorf("持久化工作流状态失败: %w", err)
	}
	return nil
}

// recordOutcome 记录一次图执行结束后的指标
func (s *Service) recordOutcome(outcome *graph.Outcome) {
	if outcome.Suspended {
		metrics.ApprovalPendingGauge.Inc()
		return
	}
	if outcome.State.WorkflowStatus.IsTerminal() {
		metrics.WorkflowCompletedTotal.WithLabelValues(
			string(outcome.State.WorkflowStatus),
			string(outcome.State.ApprovalStatus),
		).Inc()
	}
}

// RequiredLevelOf 解析记录中的审批级别，缺失时按无需审批处理
func RequiredLevelOf(row *replenishment.Workflow) policy.Level {
	if row.ApprovalRequiredLevel == nil {
		return policy.LevelAuto
	}
	return policy.Level(*row.ApprovalRequiredLevel)
}

func humanReasoning(approved bool, feedback string) string {
	verb := "拒绝"
	if approved {
		verb = "批准"
	}
	if feedback == "" {
		return fmt.Sprintf("人工审批%s", verb)
	}
	return fmt.Sprintf("人工审批%s: %s", verb, feedback)
}
