package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"backend/internal/metrics"
	"backend/internal/replenishment"

	"github.com/redis/go-redis/v9"
)

// RedisStore Redis 检查点存储。
// 快照不设 TTL：工作流可能挂起数周，过期即丢失执行状态。
type RedisStore struct {
	redis redis.UniversalClient
}

// NewRedisStore 创建 Redis 检查点存储
func NewRedisStore(redisClient redis.UniversalClient) *RedisStore {
	return &RedisStore{redis: redisClient}
}

// Save 保存快照（SET 覆盖写，最后写入生效）
func (s *RedisStore) Save(ctx context.Context, threadID, stageName string, state *replenishment.WorkflowState) error {
	data, err := json.Marshal(envelope{Stage: stageName, State: state})
	if err != nil {
		metrics.CheckpointOpsTotal.WithLabelValues("redis", "save", "error").Inc()
		return fmt.Errorf("序列化检查点失败: %w", err)
	}

	if err := s.redis.Set(ctx, s.key(threadID), data, 0).Err(); err != nil {
		metrics.CheckpointOpsTotal.WithLabelValues("redis", "save", "error").Inc()
		return fmt.Errorf("保存检查点失败: %w", err)
	}

	metrics.CheckpointOpsTotal.WithLabelValues("redis", "save", "ok").Inc()
	return nil
}

// Load 读取最近一次快照
func (s *RedisStore) Load(ctx context.Context, threadID string) (*replenishment.WorkflowState, string, error) {
	data, err := s.redis.Get(ctx, s.key(threadID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", ErrNotFound
		}
		metrics.CheckpointOpsTotal.WithLabelValues("redis", "load", "error").Inc()
		return nil, "", fmt.Errorf("读取检查点失败: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.CheckpointOpsTotal.WithLabelValues("redis", "load", "error").Inc()
		return nil, "", fmt.Errorf("解析检查点失败: %w", err)
	}

	metrics.CheckpointOpsTotal.WithLabelValues("redis", "load", "ok").Inc()
	return env.State, env.Stage, nil
}

// key 生成 Redis key
func (s *RedisStore) key(threadID string) string {
	return fmt.Sprintf("replenish:checkpoint:%s", threadID)
}
