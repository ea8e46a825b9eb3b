package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"backend/internal/metrics"
	"backend/internal/replenishment"
)

// MemoryStore 进程内检查点存储，主要用于测试。
// 快照经 JSON 往返深拷贝，与调用方的状态对象完全隔离。
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
	stages    map[string]string
}

// NewMemoryStore 创建内存检查点存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]byte),
		stages:    make(map[string]string),
	}
}

// Save 保存快照（最后写入生效）
func (s *MemoryStore) Save(ctx context.Context, threadID, stageName string, state *replenishment.WorkflowState) error {
	data, err := json.Marshal(state)
	if err != nil {
		metrics.CheckpointOpsTotal.WithLabelValues("memory", "save", "error").Inc()
		return fmt.Errorf("序列化检查点失败: %w", err)
	}

	s.mu.Lock()
	s.snapshots[threadID] = data
	s.stages[threadID] = stageName
	s.mu.Unlock()

	metrics.CheckpointOpsTotal.WithLabelValues("memory", "save", "ok").Inc()
	return nil
}

// Load 读取最近一次快照
func (s *MemoryStore) Load(ctx context.Context, threadID string) (*replenishment.WorkflowState, string, error) {
	s.mu.RLock()
	data, ok := s.snapshots[threadID]
	stageName := s.stages[threadID]
	s.mu.RUnlock()

	if !ok {
		return nil, "", ErrNotFound
	}

	var state replenishment.WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		metrics.CheckpointOpsTotal.WithLabelValues("memory", "load", "error").Inc()
		return nil, "", fmt.Errorf("解析检查点失败: %w", err)
	}

	metrics.CheckpointOpsTotal.WithLabelValues("memory", "load", "ok").Inc()
	return &state, stageName, nil
}
