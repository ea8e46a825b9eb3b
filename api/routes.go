package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册所有 API 路由
func RegisterRoutes(router *gin.Engine, handlers *Handlers) {
	api := router.Group("/api")
	registerReplenishmentRoutes(api, handlers)

	// 版本化 API 组
	apiV1 := router.Group("/api/v1")
	registerReplenishmentRoutes(apiV1, handlers)
}

// registerReplenishmentRoutes 注册补货工作流路由
func registerReplenishmentRoutes(apiGroup *gin.RouterGroup, h *Handlers) {
	group := apiGroup.Group("/replenishment")
	{
		group.POST("/workflows", h.Replenishment.StartWorkflow)
		group.GET("/workflows/pending", h.Replenishment.ListPending)
		group.GET("/workflows/history", h.Replenishment.ListHistory)
		group.GET("/workflows/:id", h.Replenishment.GetWorkflow)
		group.POST("/workflows/:id/decision", h.Replenishment.Decide)
	}
}
