package api

import (
	"context"
	"fmt"

	"backend/internal/config"
	"backend/internal/infra/queue"
	"backend/internal/logger"
	"backend/internal/metrics"
	"backend/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRouter 设置并返回 Gin 路由和 Worker 服务器
func SetupRouter(db *gorm.DB, cfg *config.Config) (*gin.Engine, *worker.Server, error) {
	router := gin.New()

	// 统一归一化 Redis 配置，优先使用 cfg.Redis，再回退到环境变量
	redisCfg := normalizeRedisConfig(cfg.Redis)
	cfg.Redis = redisCfg

	// 初始化 Redis 客户端（任务队列与可选的检查点存储）
	redisClient := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", redisCfg.Host, redisCfg.Port),
		Password:     redisCfg.Password,
		DB:           redisCfg.DB,
		PoolSize:     redisCfg.PoolSize,
		MinIdleConns: redisCfg.MinIdleConns,
	})
	var queueClient queue.Client
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("Redis 不可用，异步执行已禁用", zap.Error(err))
		redisClient = nil
	} else {
		queueClient = queue.NewClient(redisCfg)
	}

	container, err := BuildContainer(db, cfg, redisClient, queueClient)
	if err != nil {
		return nil, nil, fmt.Errorf("装配服务依赖失败: %w", err)
	}
	handlers := NewHandlers(container)

	// 全局中间件
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(CORS())
	router.Use(metrics.PrometheusMiddleware())

	// 系统端点
	router.GET("/healthz", HealthCheck(db))
	router.GET("/ready", ReadinessCheck(db))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	RegisterRoutes(router, handlers)

	// Worker 服务器（仅在 Redis 可用时创建）
	var workerServer *worker.Server
	if redisClient != nil {
		workerServer = worker.NewServer(redisCfg, container.Engine, logger.Get())
	}

	return router, workerServer, nil
}
