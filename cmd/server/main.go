package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"snowbridge/internal/router"
	"snowbridge/internal/services"
	"snowbridge/pkg/cache"
	"snowbridge/pkg/config"
	"snowbridge/pkg/jwt"
	"snowbridge/pkg/logger"
	"snowbridge/pkg/store"

	"github.com/gin-gonic/gin"
)

func main() {
	// 加载配置
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	appLogger := logger.GetLogger()
	appLogger.Info("Starting ServiceNow Bridge Middleware...")

	ctx := context.Background()

	// 初始化MongoDB存储（有界重试，失败后进入降级模式继续启动）
	mongoStore := store.NewMongoStore(&store.Config{
		URI:              cfg.Mongo.URI,
		Database:         cfg.Mongo.Database,
		CollectionPrefix: cfg.Mongo.CollectionPrefix,
		MaxRetries:       cfg.Mongo.MaxRetries,
		RetryDelay:       time.Duration(cfg.Mongo.RetryDelay) * time.Second,
	})
	if err := mongoStore.Connect(ctx); err != nil {
		appLogger.Errorf("MongoDB unavailable, continuing degraded: %v", err)
	} else {
		mongoStore.EnsureIndexes(ctx, cfg.Sync.Tables)
	}
	defer func() {
		if err := mongoStore.Close(ctx); err != nil {
			appLogger.Error("Failed to close MongoDB:", err)
		}
	}()

	// 初始化Redis缓存/流
	redisCache := cache.NewRedisCache(&cache.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		CacheDB:  cfg.Redis.CacheDB,
		StreamDB: cfg.Redis.StreamDB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err := redisCache.Ping(ctx); err != nil {
		appLogger.Errorf("Redis unavailable, continuing degraded: %v", err)
	}
	defer func() {
		if err := redisCache.Close(); err != nil {
			appLogger.Error("Failed to close Redis:", err)
		}
	}()

	// 初始化ServiceNow桥接
	bridge := services.NewServiceNowBridge(&cfg.ServiceNow)

	// 初始化同步协调器
	coordinator := services.NewSyncCoordinator(bridge, mongoStore, redisCache, &cfg.Sync)

	// 按配置自动开启周期同步
	if cfg.Sync.AutoStart {
		if err := coordinator.StartAutoSync(nil); err != nil {
			appLogger.Errorf("Failed to start auto sync: %v", err)
			// 不影响主服务启动
		}
		defer func() {
			if err := coordinator.StopAutoSync(); err != nil {
				appLogger.Errorf("Failed to stop auto sync: %v", err)
			}
		}()
	}

	// 设置Gin模式
	gin.SetMode(cfg.Server.Mode)

	// 设置路由
	r := router.SetupRouter(&router.Deps{
		Config:      cfg,
		Bridge:      bridge,
		Store:       mongoStore,
		Cache:       redisCache,
		Coordinator: coordinator,
		JWTManager:  jwt.GetJWTManager(),
	})

	// 启动服务器
	// WriteTimeout为0：SSE长连接不能被服务器写超时切断
	server := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
	}

	// 启动服务
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	appLogger.Infof("Server started on port %s", cfg.Server.Port)

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	if coordinator.IsRealTimeSyncRunning() {
		if err := coordinator.StopRealTimeSync(); err != nil {
			appLogger.Errorf("Failed to stop realtime sync: %v", err)
		}
	}
	if err := server.Close(); err != nil {
		appLogger.Error("Server forced to shutdown:", err)
	}
	appLogger.Info("Server exited")
}
