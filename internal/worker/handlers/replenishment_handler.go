package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"backend/internal/replenishment"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// WorkflowStarter 工作流启动器抽象，便于注入 mock
type WorkflowStarter interface {
	StartWorkflow(ctx context.Context, skuID, sku string, currentInventory int) (string, *replenishment.WorkflowState, error)
}

type ReplenishmentHandler struct {
	starter WorkflowStarter
	logger  *zap.Logger
}

func NewReplenishmentHandler(starter WorkflowStarter, logger *zap.Logger) *ReplenishmentHandler {
	return &ReplenishmentHandler{
		starter: starter,
		logger:  logger,
	}
}

func (h *ReplenishmentHandler) HandleRunReplenishment(ctx context.Context, t *asynq.Task) error {
	var p tasks.RunReplenishmentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始执行补货工作流任务",
		zap.String("sku_id", p.SKUID),
		zap.String("sku", p.SKU),
	)

	workflowID, state, err := h.starter.StartWorkflow(ctx, p.SKUID, p.SKU, p.CurrentInventory)
	if err != nil {
		h.logger.Error("补货工作流执行失败",
			zap.String("sku_id", p.SKUID),
			zap.Error(err),
		)
		return err
	}

	h.logger.Info("补货工作流任务结束",
		zap.String("workflow_id", workflowID),
		zap.String("workflow_status", string(state.WorkflowStatus)),
	)
	return nil
}
