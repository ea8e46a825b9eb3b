package api

import (
	"fmt"

	replenishHandlers "backend/api/handlers/replenishment"
	"backend/internal/config"
	"backend/internal/forecast"
	"backend/internal/infra/queue"
	"backend/internal/inventory"
	"backend/internal/policy"
	"backend/internal/replenishment/checkpoint"
	"backend/internal/replenishment/engine"
	"backend/internal/replenishment/graph"
	"backend/internal/replenishment/stage"
	"backend/internal/suppliers"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// AppContainer 汇集所有服务依赖
type AppContainer struct {
	Config      *config.Config
	DB          *gorm.DB
	RedisClient *redis.Client
	QueueClient queue.Client

	ForecastService  *forecast.Service
	InventoryService *inventory.Service
	SupplierService  *suppliers.Service

	PolicyEngine *policy.Engine
	Checkpoints  checkpoint.Store
	Runner       *graph.Runner
	Engine       *engine.Service
}

// Handlers 汇集所有 HTTP Handler
type Handlers struct {
	Replenishment *replenishHandlers.Handler
}

// BuildContainer 按依赖顺序装配服务
func BuildContainer(db *gorm.DB, cfg *config.Config, redisClient *redis.Client, queueClient queue.Client) (*AppContainer, error) {
	forecastSvc := forecast.NewService(db, cfg.Planning.RequiredHistoryDays)
	inventorySvc := inventory.NewService(db)
	supplierSvc := suppliers.NewService(db)

	policyEngine, err := policy.NewEngine(cfg.Policy.EscalationRules)
	if err != nil {
		return nil, fmt.Errorf("编译审批升级规则失败: %w", err)
	}

	store, err := buildCheckpointStore(cfg, db, redisClient)
	if err != nil {
		return nil, err
	}

	stageSet := stage.NewSet(forecastSvc, supplierSvc, policyEngine, cfg.Planning)
	runner := graph.NewRunner(stageSet, store)
	engineSvc := engine.NewService(db, runner, store, inventorySvc)

	return &AppContainer{
		Config:           cfg,
		DB:               db,
		RedisClient:      redisClient,
		QueueClient:      queueClient,
		ForecastService:  forecastSvc,
		InventoryService: inventorySvc,
		SupplierService:  supplierSvc,
		PolicyEngine:     policyEngine,
		Checkpoints:      store,
		Runner:           runner,
		Engine:           engineSvc,
	}, nil
}

// buildCheckpointStore 按配置选择检查点存储。
// 审批挂起可能长达数周，生产环境默认落数据库。
func buildCheckpointStore(cfg *config.Config, db *gorm.DB, redisClient *redis.Client) (checkpoint.Store, error) {
	switch cfg.Checkpoint.Store {
	case "database", "":
		store := checkpoint.NewGormStore(db)
		if cfg.Database.AutoMigrate {
			if err := store.AutoMigrate(); err != nil {
				return nil, fmt.Errorf("迁移检查点表失败: %w", err)
			}
		}
		return store, nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("检查点存储配置为 redis，但 Redis 不可用")
		}
		return checkpoint.NewRedisStore(redisClient), nil
	case "memory":
		return checkpoint.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("未知的检查点存储类型: %s", cfg.Checkpoint.Store)
	}
}

// NewHandlers 创建所有 Handler
func NewHandlers(c *AppContainer) *Handlers {
	return &Handlers{
		Replenishment: replenishHandlers.NewHandler(c.Engine, c.QueueClient),
	}
}
