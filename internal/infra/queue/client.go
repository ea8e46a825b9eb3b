package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"backend/internal/config"
	"backend/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// Client 任务队列客户端接口
type Client interface {
	EnqueueRunReplenishment(payload tasks.RunReplenishmentPayload) error
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建任务队列客户端
func NewClient(cfg config.RedisConfig) Client {
	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &asynqClient{client: client}
}

func (c *asynqClient) EnqueueRunReplenishment(payload tasks.RunReplenishmentPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload failed: %w", err)
	}

	task := asynq.NewTask(tasks.TypeRunReplenishment, data)

	// 同一 SKU 执行中的任务去重，避免重复补货
	if _, err := c.client.Enqueue(task,
		asynq.MaxRetry(0), // 工作流失败会落终态审计，不做队列级重试
		asynq.Timeout(10*time.Minute),
		asynq.Queue("replenish"),
		asynq.Unique(10*time.Minute),
	); err != nil {
		return fmt.Errorf("enqueue task failed: %w", err)
	}

	return nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
