package router

import (
	"snowbridge/internal/handlers"
	"snowbridge/internal/middleware"
	"snowbridge/internal/services"
	"snowbridge/pkg/cache"
	"snowbridge/pkg/config"
	"snowbridge/pkg/jwt"
	"snowbridge/pkg/response"
	"snowbridge/pkg/store"

	"github.com/gin-gonic/gin"
)

// Deps 路由依赖，由组合根（main）显式构造注入
type Deps struct {
	Config      *config.Config
	Bridge      *services.ServiceNowBridge
	Store       *store.MongoStore
	Cache       *cache.RedisCache
	Coordinator *services.SyncCoordinator
	JWTManager  *jwt.JWTManager
}

// SetupRouter 设置路由
func SetupRouter(deps *Deps) *gin.Engine {
	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.ErrorHandler())
	router.Use(middleware.SetupCORS(deps.Config))

	// 注册路由
	registerRoutes(router, deps)
	return router
}

// 注册所有路由
func registerRoutes(router *gin.Engine, deps *Deps) {

	auth := middleware.NewAuthMiddleware(deps.JWTManager)

	actionService := services.NewTicketActionService(deps.Bridge)

	authHandler := handlers.NewAuthHandler(&deps.Config.Auth, deps.JWTManager)
	ticketHandler := handlers.NewTicketHandler(deps.Bridge, deps.Store, deps.Cache, &deps.Config.Sync)
	actionHandler := handlers.NewTicketActionHandler(actionService)
	syncHandler := handlers.NewSyncHandler(deps.Coordinator)
	streamHandler := handlers.NewStreamHandler(deps.Cache, deps.JWTManager)
	systemHandler := handlers.NewSystemHandler(deps.Bridge, deps.Coordinator, deps.Store, deps.Cache)

	// 根级健康检查，供负载均衡探针使用
	router.GET("/health", systemHandler.Health)

	// API路由组
	api := router.Group("/api/v1")
	{
		// 健康检查接口
		api.GET("/health", systemHandler.Health)
		api.GET("/ping", ping)

		// 认证路由（无需认证）
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/login", authHandler.Login)
		}

		// 系统指标
		api.GET("/system/metrics", auth.RequireLogin(), systemHandler.Metrics)

		// 工单代理路由
		tickets := api.Group("/tickets")
		{
			tickets.GET("/:table", auth.RequireLogin(), ticketHandler.List)
			tickets.GET("/:table/:sys_id", auth.RequireLogin(), ticketHandler.GetByID)
			tickets.POST("/:table", auth.RequireLogin(), ticketHandler.Create)
			tickets.PUT("/:table/:sys_id", auth.RequireLogin(), ticketHandler.Update)
			tickets.DELETE("/:table/:sys_id", auth.RequireLogin(), ticketHandler.Delete)

			// 工作流动作
			tickets.POST("/:table/:sys_id/resolve", auth.RequireLogin(), actionHandler.Resolve)
			tickets.POST("/:table/:sys_id/close", auth.RequireLogin(), actionHandler.Close)
			tickets.POST("/:table/:sys_id/reopen", auth.RequireLogin(), actionHandler.Reopen)
			tickets.POST("/:table/:sys_id/assign", auth.RequireLogin(), actionHandler.Assign)
			tickets.POST("/:table/:sys_id/priority", auth.RequireLogin(), actionHandler.UpdatePriority)
			tickets.POST("/:table/:sys_id/category", auth.RequireLogin(), actionHandler.UpdateCategory)
			tickets.POST("/:table/:sys_id/escalate", auth.RequireLogin(), actionHandler.Escalate)
			tickets.POST("/:table/:sys_id/self-assign", auth.RequireLogin(), actionHandler.SelfAssign)
		}

		// 解决代码
		api.GET("/resolution-codes", auth.RequireLogin(), actionHandler.GetResolutionCodes)

		// 同步管理路由
		sync := api.Group("/sync")
		sync.Use(auth.RequireLogin())
		{
			sync.POST("/table/:table", syncHandler.SyncTable)
			sync.POST("/batch", syncHandler.SyncBatch)
			sync.POST("/all", syncHandler.SyncAll)

			sync.GET("/stats", syncHandler.GetStats)
			sync.GET("/history/:table", syncHandler.GetHistory)
			sync.DELETE("/history", syncHandler.ClearHistory)

			sync.POST("/auto/start", syncHandler.StartAutoSync)
			sync.POST("/auto/stop", syncHandler.StopAutoSync)
			sync.POST("/auto/pause", syncHandler.PauseAutoSync)
			sync.POST("/auto/resume", syncHandler.ResumeAutoSync)
			sync.GET("/auto/status", syncHandler.GetAutoSyncStatus)

			sync.POST("/delta/:table/enable", syncHandler.EnableDelta)
			sync.POST("/delta/:table/disable", syncHandler.DisableDelta)

			sync.POST("/realtime/start", syncHandler.StartRealTime)
			sync.POST("/realtime/stop", syncHandler.StopRealTime)
		}

		// 实时推送（SSE鉴权在处理器内完成，支持token查询参数）
		api.GET("/stream/tickets/:table", streamHandler.StreamTickets)
		api.GET("/ws/tickets", streamHandler.WatchTickets)
	}
}

// ping 存活检查
func ping(c *gin.Context) {
	response.Success(c, gin.H{"message": "pong"})
}
