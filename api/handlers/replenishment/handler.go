package replenishment

import (
	"encoding/json"
	"errors"
	"net/http"

	response "backend/api/handlers/common"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	replmodel "backend/internal/replenishment"
	"backend/internal/replenishment/engine"
	"backend/internal/worker/tasks"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler 补货工作流 Handler
type Handler struct {
	service *engine.Service
	queue   queue.Client
}

// NewHandler 创建 Handler 实例。queueClient 可为 nil，此时仅支持同步执行。
func NewHandler(service *engine.Service, queueClient queue.Client) *Handler {
	return &Handler{service: service, queue: queueClient}
}

// StartWorkflow 启动补货工作流
// @Summary 启动补货工作流
// @Description 同步执行到完成、失败或审批挂起点；async 模式入队后立即返回
// @Tags Replenishment
// @Accept json
// @Produce json
// @Param request body StartWorkflowRequest true "启动参数"
// @Success 201 {object} StartWorkflowResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /api/replenishment/workflows [post]
func (h *Handler) StartWorkflow(c *gin.Context) {
	var req StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "请求参数错误: " + err.Error()})
		return
	}

	inventory := -1
	if req.CurrentInventory != nil {
		inventory = *req.CurrentInventory
	}

	if req.Async {
		if h.queue == nil {
			c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "异步执行未启用"})
			return
		}
		if err := h.queue.EnqueueRunReplenishment(tasks.RunReplenishmentPayload{
			SKUID:            req.SKUID,
			SKU:              req.SKU,
			CurrentInventory: inventory,
		}); err != nil {
			c.JSON(http.StatusInternalServerError, response.ErrorResponse{Success: false, Message: err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, StartWorkflowResponse{Queued: true})
		return
	}

	workflowID, state, err := h.service.StartWorkflow(c.Request.Context(), req.SKUID, req.SKU, inventory)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, StartWorkflowResponse{
		WorkflowID:            workflowID,
		WorkflowStatus:        string(state.WorkflowStatus),
		ApprovalStatus:        string(state.ApprovalStatus),
		ApprovalRequiredLevel: string(state.ApprovalRequiredLevel),
		OrderValue:            state.OrderValue,
		ErrorMessage:          state.ErrorMessage,
	})
}

// Decide 提交人工审批决策
// @Summary 提交审批决策
// @Description 并发决策只有一个能成功，其余返回 409
// @Tags Replenishment
// @Accept json
// @Produce json
// @Param id path string true "工作流 ID"
// @Param request body DecisionRequest true "决策参数"
// @Success 200 {object} DecisionResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Router /api/replenishment/workflows/{id}/decision [post]
func (h *Handler) Decide(c *gin.Context) {
	workflowID := c.Param("id")

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "请求参数错误: " + err.Error()})
		return
	}

	state, err := h.service.ResumeWorkflow(c.Request.Context(), workflowID, *req.Approved, req.ReviewerID, req.Feedback)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, DecisionResponse{
		WorkflowID:     workflowID,
		WorkflowStatus: string(state.WorkflowStatus),
		ApprovalStatus: string(state.ApprovalStatus),
		ReviewerID:     state.ReviewerID,
	})
}

// GetWorkflow 查询工作流详情
// @Summary 查询工作流详情
// @Tags Replenishment
// @Produce json
// @Param id path string true "工作流 ID"
// @Success 200 {object} WorkflowDetail
// @Failure 404 {object} response.ErrorResponse
// @Router /api/replenishment/workflows/{id} [get]
func (h *Handler) GetWorkflow(c *gin.Context) {
	workflowID := c.Param("id")

	row, err := h.service.GetWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		writeError(c, err)
		return
	}

	detail := WorkflowDetail{Workflow: row}
	if len(row.AuditLog) > 0 {
		if err := json.Unmarshal(row.AuditLog, &detail.AuditEntries); err != nil {
			logger.Get().Warn("审计日志反序列化失败",
				zap.String("workflow_id", workflowID),
				zap.Error(err),
			)
		}
	}
	if row.WorkflowStatus == string(replmodel.StatusAwaitingApproval) {
		suspendedAt := row.UpdatedAt
		detail.SuspendedAt = &suspendedAt
	}

	c.JSON(http.StatusOK, detail)
}

// ListPending 查询审批队列
// @Summary 查询待审批队列
// @Tags Replenishment
// @Produce json
// @Param level query string false "审批级别"
// @Param sku query string false "SKU 编码"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.ListResponse
// @Router /api/replenishment/workflows/pending [get]
func (h *Handler) ListPending(c *gin.Context) {
	var q engine.PendingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "请求参数错误: " + err.Error()})
		return
	}

	result, err := h.service.ListPending(c.Request.Context(), &q)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponse(result.Items, result.Total, result.Page, result.PageSize))
}

// ListHistory 查询工作流历史
// @Summary 查询工作流历史
// @Tags Replenishment
// @Produce json
// @Param status query string false "生命周期状态"
// @Param approval_status query string false "审批状态"
// @Param sku query string false "SKU 编码"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} response.ListResponse
// @Router /api/replenishment/workflows/history [get]
func (h *Handler) ListHistory(c *gin.Context) {
	var q engine.HistoryQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, response.ErrorResponse{Success: false, Message: "请求参数错误: " + err.Error()})
		return
	}

	result, err := h.service.ListHistory(c.Request.Context(), &q)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponse(result.Items, result.Total, result.Page, result.PageSize))
}

// writeError 按错误类别映射 HTTP 状态码
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, replmodel.ErrWorkflowNotFound):
		status = http.StatusNotFound
	case errors.Is(err, replmodel.ErrInvalidWorkflowState):
		status = http.StatusConflict
	case errors.Is(err, replmodel.ErrValidation):
		status = http.StatusBadRequest
	}
	c.JSON(status, response.ErrorResponse{Success: false, Message: err.Error()})
}

func listResponse(items any, total int64, page, pageSize int) response.ListResponse {
	totalPage := 0
	if pageSize > 0 {
		totalPage = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return response.ListResponse{
		Items: items,
		Pagination: response.PaginationMeta{
			Page:      page,
			PageSize:  pageSize,
			Total:     total,
			TotalPage: totalPage,
		},
	}
}
