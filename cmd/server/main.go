package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/garagebook/internal/api/handlers"
	"github.com/langchou/garagebook/internal/api/mock"
	"github.com/langchou/garagebook/internal/api/mot"
	"github.com/langchou/garagebook/internal/api/registry"
	"github.com/langchou/garagebook/internal/cache"
	"github.com/langchou/garagebook/internal/config"
	"github.com/langchou/garagebook/internal/metrics"
	"github.com/langchou/garagebook/internal/pricing"
	"github.com/langchou/garagebook/internal/repository"
	"github.com/langchou/garagebook/internal/scheduler"
	"github.com/langchou/garagebook/internal/service"
	"github.com/langchou/garagebook/internal/worker"
	"github.com/langchou/garagebook/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting Garagebook", zap.String("port", cfg.ServerPort))

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 缓存
	var store cache.Store = cache.NewMemory()
	if cfg.RedisURL != "" {
		rdb, err := cache.NewRedis(ctx, cfg.RedisURL, "garagebook:")
		if err != nil {
			logger.Fatal("Failed to connect redis", zap.Error(err))
		}
		defer rdb.Close()
		store = rdb
		logger.Info("Using redis cache")
	}

	// 调用统计
	tally := metrics.NewTally()
	recorder := metrics.Multi{tally}
	if cfg.OTLPEndpoint != "" {
		provider, err := metrics.NewOTLPProvider(ctx, "garagebook", cfg.OTLPEndpoint, cfg.MetricInterval)
		if err != nil {
			logger.Fatal("Failed to create meter provider", zap.Error(err))
		}
		otel.SetMeterProvider(provider)
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := provider.Shutdown(flushCtx); err != nil {
				logger.Warn("Failed to flush metrics", zap.Error(err))
			}
		}()

		otelRecorder, err := metrics.NewOtel(otel.Meter(metrics.MeterName))
		if err != nil {
			logger.Fatal("Failed to create otel recorder", zap.Error(err))
		}
		recorder = append(recorder, otelRecorder)
		logger.Info("Exporting metrics over OTLP", zap.String("endpoint", cfg.OTLPEndpoint))
	}

	// 上游客户端，未配置凭证时使用模拟数据
	var registryLookup service.RegistryLookup
	if cfg.RegistryConfigured() {
		registryLookup = registry.NewClient(registry.Options{
			BaseURL:   cfg.RegistryBaseURL,
			APIKey:    cfg.RegistryAPIKey,
			Timeout:   cfg.UpstreamTimeout,
			RateLimit: cfg.RegistryRateLimit,
			Burst:     int(cfg.RegistryRateLimit),
			CacheTTL:  cfg.VehicleCacheTTL,
		}, store, recorder, logger.Named("registry"))
	} else {
		logger.Warn("DVLA credentials not configured, using mock registry data")
		registryLookup = &mock.Registry{Recorder: recorder}
	}

	var historyLookup service.HistoryLookup
	if cfg.MOTConfigured() {
		historyLookup = mot.NewClient(mot.Options{
			BaseURL:      cfg.MOTBaseURL,
			TokenURL:     cfg.MOTTokenURL,
			ClientID:     cfg.MOTClientID,
			ClientSecret: cfg.MOTClientSecret,
			Scope:        cfg.MOTScope,
			APIKey:       cfg.MOTAPIKey,
			Timeout:      cfg.UpstreamTimeout,
			RateLimit:    cfg.MOTRateLimit,
			Burst:        int(cfg.MOTRateLimit),
			CacheTTL:     cfg.MOTCacheTTL,
		}, store, recorder, logger.Named("mot"))
	} else {
		logger.Warn("DVSA credentials not configured, using mock MOT history")
		historyLookup = &mock.History{Recorder: recorder}
	}

	vehicleService := service.NewVehicleService(registryLookup, historyLookup, store, service.VehicleOptions{
		ProfileTTL:    cfg.ProfileCacheTTL,
		LookupTimeout: cfg.LookupTimeout,
	}, logger.Named("vehicle"))

	// 报价
	engine, err := pricing.NewEngine(cfg.Catalogue, logger.Named("pricing"))
	if err != nil {
		logger.Fatal("Failed to load catalogue", zap.Error(err))
	}

	// 预约存储
	var bookingStore repository.BookingStore
	if cfg.DatabaseURL != "" {
		db, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect database", zap.Error(err))
		}
		defer db.Close()

		// 执行数据库迁移
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
		logger.Info("Database migrated successfully")
		bookingStore = repository.NewBookingRepository(db)
	} else {
		logger.Warn("DATABASE_URL not set, bookings are kept in memory")
		bookingStore = repository.NewMemoryBookingStore()
	}

	sched := scheduler.New(bookingStore, scheduler.Options{
		Location:    cfg.Location,
		Step:        cfg.SlotStep,
		HorizonDays: cfg.HorizonDays,
		Hours:       cfg.OpeningHours,
		Resources:   cfg.Resources,
	}, logger.Named("scheduler"))

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger.Named("ws"))
	wsHub.SetInitDataProvider(func() any {
		return gin.H{
			"services": engine.Services(),
			"bays":     sched.Resources(),
		}
	})
	go wsHub.Run(ctx)

	bookingService := service.NewBookingService(
		engine,
		sched,
		bookingStore,
		vehicleService,
		service.NewDispatcher(wsHub, logger.Named("notify")),
		service.BookingOptions{HoldWindow: cfg.HoldWindow},
		logger.Named("booking"),
	)

	// 过期与完成清理
	sweeper := worker.NewSweeper(bookingService, cfg.SweepInterval, logger.Named("sweeper"))
	go sweeper.Start(ctx)

	// 创建 HTTP 处理器
	handler := handlers.NewHandler(
		logger,
		vehicleService,
		bookingService,
		engine,
		sched,
		tally,
		wsHub,
	)

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	// 停止后台任务
	cancel()

	logger.Info("Server exited", zap.Any("sweeper", sweeper.Stats()))
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

// corsMiddleware CORS 中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
