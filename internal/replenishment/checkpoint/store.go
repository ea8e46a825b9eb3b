package checkpoint

import (
	"context"
	"errors"

	"backend/internal/replenishment"
)

// ErrNotFound threadID 对应的检查点不存在
var ErrNotFound = errors.New("检查点不存在")

// Store 检查点存储契约。
// Save 以 threadID 为键原子落盘快照，同键重复写入按最后写入生效，
// 且不允许出现半写状态；Load 返回最近一次快照与其阶段名。
type Store interface {
	Save(ctx context.Context, threadID, stageName string, state *replenishment.WorkflowState) error
	Load(ctx context.Context, threadID string) (*replenishment.WorkflowState, string, error)
}

// envelope 序列化快照的统一封装
type envelope struct {
	Stage string                       `json:"stage"`
	State *replenishment.WorkflowState `json:"state"`
}
