package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"deskify/internal/automation"
	"deskify/internal/config"
	"deskify/internal/handlers"
	"deskify/internal/middleware"
	"deskify/internal/models"
	"deskify/internal/observability"
	"deskify/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	gormtracing "gorm.io/plugin/opentelemetry/tracing"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the deskify API server",
	Long: `Start the HTTP API together with its background loops: the follow-up
scheduler, the SLA breach monitor and the time-based automation sweep.`,
	Run: run,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func run(cmd *cobra.Command, args []string) {
	// 加载配置
	cfg := config.Load()

	// 初始化日志系统
	if err := config.InitLogger(cfg); err != nil {
		logrus.Fatalf("Failed to initialize logger: %v", err)
	}
	appLogger := logrus.StandardLogger()

	// OpenTelemetry 初始化（可选）
	if shutdown, err := observability.SetupTracing(context.Background(), cfg); err == nil {
		defer func() { _ = shutdown(context.Background()) }()
	} else {
		logrus.Warnf("init tracing: %v", err)
	}

	db := openDatabase(cfg, appLogger)
	rdb := openRedis(cfg, appLogger)

	// 轮询指派游标：有 Redis 用 Redis，否则退回进程内存
	var cursors automation.CursorStore
	if rdb != nil {
		cursors = automation.NewRedisCursorStore(rdb, cfg.Automation.CursorTTL)
	} else {
		cursors = automation.NewMemoryCursorStore()
	}

	// 初始化业务服务
	hub := services.NewWebSocketHub()
	categories := services.NewCategoryService(db, appLogger)
	webhooks := services.NewWebhookService(cfg.Automation.WebhookTimeout, appLogger)
	notifications := services.NewNotificationService(db, hub, appLogger)
	scheduler := services.NewSchedulerService(db, nil, appLogger)
	rules := services.NewAutomationService(db, cfg.Automation.MaxRulesPerRun,
		categories, notifications, scheduler, webhooks, cursors, appLogger)
	scheduler.SetSink(rules) // 跟进到点后回灌 time_elapsed 规则
	sla := services.NewSLAService(db, rules, appLogger)
	tickets := services.NewTicketService(db, rules, sla, scheduler, appLogger)

	// 启动后台循环
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go hub.Run()
	if err := scheduler.Load(bgCtx); err != nil {
		appLogger.Warnf("Recover pending follow-ups: %v", err)
	}
	go scheduler.Run(bgCtx, time.Second)
	go sla.StartMonitor(bgCtx, cfg.SLA.SweepInterval)
	go rules.StartSweep(bgCtx, cfg.Automation.SweepInterval)

	// 设置 Gin 模式
	if cfg.Server.Host != "localhost" {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := setupRouter(cfg, db, rdb, hub, scheduler,
		tickets, rules, categories, sla, notifications, appLogger)

	// 创建服务器
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	// 启动服务器
	go func() {
		appLogger.Infof("Starting server on %s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// 先停后台循环，再优雅关闭 HTTP
	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Errorf("Server forced to shutdown: %v", err)
	}
	if rdb != nil {
		_ = rdb.Close()
	}

	appLogger.Info("Server exited")
}

// openDatabase 连接 Postgres 并迁移 schema。工单数据没有降级可言，连不上直接退出。
func openDatabase(cfg *config.Config, appLogger *logrus.Logger) *gorm.DB {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable TimeZone=UTC",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password, cfg.Database.Name, cfg.Database.Port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		appLogger.Fatalf("Failed to connect to database: %v", err)
	}

	// GORM OTel 插件
	if cfg.Monitoring.Tracing.Enabled {
		_ = db.Use(gormtracing.NewPlugin())
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	}

	if err := db.AutoMigrate(
		&models.User{}, &models.Team{}, &models.TeamMember{},
		&models.Category{}, &models.Tag{},
		&models.Ticket{}, &models.TicketComment{}, &models.TicketStatusChange{}, &models.TicketSubscription{},
		&models.SLAPolicy{}, &models.Notification{}, &models.FollowUp{},
		&models.AutomationRule{}, &models.AutomationExecution{},
	); err != nil {
		appLogger.Fatalf("Failed to migrate database: %v", err)
	}
	return db
}

// openRedis 按配置连接 Redis。Redis 只承载指派游标，连不上不阻塞启动。
func openRedis(cfg *config.Config, appLogger *logrus.Logger) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Warnf("Redis unreachable, assignment cursors fall back per call: %v", err)
	}
	return rdb
}

func setupRouter(cfg *config.Config, db *gorm.DB, rdb *redis.Client,
	hub *services.WebSocketHub, scheduler *services.SchedulerService,
	tickets *services.TicketService, rules *services.AutomationService,
	categories *services.CategoryService, sla *services.SLAService,
	notifications *services.NotificationService, appLogger *logrus.Logger) *gin.Engine {

	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg))
	router.Use(middleware.RateLimit(cfg))
	router.Use(otelgin.Middleware("deskify"))

	// 健康检查
	healthHandler := handlers.NewHealthHandler(cfg, db, rdb, hub, scheduler)
	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)

	// Prometheus 文本指标
	if cfg.Monitoring.Enabled {
		metricsHandler := handlers.NewMetricsHandler(hub, scheduler, db)
		router.GET(cfg.Monitoring.MetricsPath, metricsHandler.GetMetrics)
	}

	// API 路由组
	api := router.Group("/api")
	{
		// WebSocket 连接（通知推送）
		api.GET("/ws", hub.HandleWebSocket)

		handlers.RegisterTicketRoutes(api, handlers.NewTicketHandler(tickets, appLogger))
		handlers.RegisterAutomationRoutes(api, handlers.NewAutomationHandler(rules))
		handlers.RegisterCategoryRoutes(api, handlers.NewCategoryHandler(categories))
		handlers.RegisterSLARoutes(api, handlers.NewSLAHandler(sla))
		handlers.RegisterNotificationRoutes(api, handlers.NewNotificationHandler(notifications))
	}

	return router
}
