package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"backend/internal/replenishment"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap/zaptest"
)

type fakeStarter struct {
	called bool
	skuID  string
	retErr error
}

func (f *fakeStarter) StartWorkflow(ctx context.Context, skuID, sku string, currentInventory int) (string, *replenishment.WorkflowState, error) {
	f.called = true
	f.skuID = skuID
	if f.retErr != nil {
		return "", nil, f.retErr
	}
	state := replenishment.NewWorkflowState(skuID, sku, currentInventory)
	state.WorkflowStatus = replenishment.StatusAwaitingApproval
	return "wf-1", state, nil
}

func TestReplenishmentHandlerHandleRunReplenishment_Success(t *testing.T) {
	starter := &fakeStarter{}
	h := NewReplenishmentHandler(starter, zaptest.NewLogger(t))
	ctx := context.Background()
	payload, _ := json.Marshal(tasks.RunReplenishmentPayload{SKUID: "sku-1", SKU: "WIDGET-A", CurrentInventory: 120})
	task := asynq.NewTask(tasks.TypeRunReplenishment, payload)
	if err := h.HandleRunReplenishment(ctx, task); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !starter.called || starter.skuID != "sku-1" {
		t.Fatalf("starter not invoked correctly: called=%v id=%s", starter.called, starter.skuID)
	}
}

func TestReplenishmentHandlerHandleRunReplenishment_StartError(t *testing.T) {
	expectedErr := errors.New("boom")
	starter := &fakeStarter{retErr: expectedErr}
	h := NewReplenishmentHandler(starter, zaptest.NewLogger(t))
	ctx := context.Background()
	payload, _ := json.Marshal(tasks.RunReplenishmentPayload{SKUID: "sku-2", SKU: "WIDGET-B", CurrentInventory: 0})
	task := asynq.NewTask(tasks.TypeRunReplenishment, payload)
	if err := h.HandleRunReplenishment(ctx, task); !errors.Is(err, expectedErr) {
		t.Fatalf("expected error %v, got %v", expectedErr, err)
	}
}

func TestReplenishmentHandlerHandleRunReplenishment_InvalidPayload(t *testing.T) {
	starter := &fakeStarter{}
	h := NewReplenishmentHandler(starter, zaptest.NewLogger(t))
	ctx := context.Background()
	task := asynq.NewTask(tasks.TypeRunReplenishment, []byte("not-json"))
	if err := h.HandleRunReplenishment(ctx, task); err == nil {
		t.Fatalf("expected error for invalid payload")
	}
	if starter.called {
		t.Fatalf("starter should not be called when payload invalid")
	}
}
