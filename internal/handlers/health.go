package handlers

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"deskify/internal/config"
	dmetrics "deskify/internal/metrics"
	"deskify/internal/services"
	"deskify/internal/version"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HealthHandler 健康检查处理器
type HealthHandler struct {
	config    *config.Config
	db        *gorm.DB
	redis     *redis.Client // 未启用时为 nil
	hub       *services.WebSocketHub
	scheduler *services.SchedulerService
	logger    *logrus.Logger
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(cfg *config.Config, db *gorm.DB, rdb *redis.Client, hub *services.WebSocketHub, scheduler *services.SchedulerService) *HealthHandler {
	return &HealthHandler{
		config:    cfg,
		db:        db,
		redis:     rdb,
		hub:       hub,
		scheduler: scheduler,
		logger:    logrus.StandardLogger(),
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Services  map[string]ServiceInfo `json:"services"`
	System    SystemInfo             `json:"system"`
}

// ServiceInfo 服务信息
type ServiceInfo struct {
	Status  string      `json:"status"`
	Latency string      `json:"latency,omitempty"`
	Error   string      `json:"error,omitempty"`
	Details interface{} `json:"details,omitempty"`
}

// SystemInfo 系统信息
type SystemInfo struct {
	Uptime    time.Duration `json:"uptime"`
	Version   string        `json:"version"`
	GoVersion string        `json:"go_version"`
}

var startTime = time.Now()

// Health 健康检查端点
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:    "healthy",
		Version:   version.Version,
		Timestamp: time.Now(),
		Services:  make(map[string]ServiceInfo),
		System: SystemInfo{
			Uptime:    time.Since(startTime),
			Version:   version.Version,
			GoVersion: runtime.Version(),
		},
	}

	// 数据库不可用视为整体不可用，redis 只降级
	dbHealthy := h.checkDatabase(ctx, &response)
	redisHealthy := h.checkRedis(ctx, &response)
	h.checkWebSocket(&response)
	h.checkScheduler(&response)

	statusCode := http.StatusOK
	if !dbHealthy {
		response.Status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
	} else if !redisHealthy {
		response.Status = "degraded"
	}

	c.JSON(statusCode, response)
}

// Ready 就绪检查端点，只探测数据库
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	ready := true
	checks := make(map[string]string)

	if err := h.pingDB(ctx); err != nil {
		checks["database"] = "not_ready"
		ready = false
	} else {
		checks["database"] = "ready"
	}

	response := map[string]interface{}{
		"ready":     ready,
		"timestamp": time.Now(),
		"services":  checks,
	}

	statusCode := http.StatusOK
	if !ready {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, response)
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	if h.db == nil {
		return fmt.Errorf("database connection not initialized")
	}
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// checkDatabase 检查数据库状态
func (h *HealthHandler) checkDatabase(ctx context.Context, response *HealthResponse) bool {
	start := time.Now()

	serviceInfo := ServiceInfo{
		Latency: time.Since(start).String(),
		Details: map[string]interface{}{
			"driver": "postgresql",
			"host":   h.config.Database.Host,
			"port":   h.config.Database.Port,
		},
	}

	if err := h.pingDB(ctx); err != nil {
		serviceInfo.Status = "unhealthy"
		serviceInfo.Error = err.Error()
		serviceInfo.Latency = time.Since(start).String()
		response.Services["database"] = serviceInfo
		return false
	}

	serviceInfo.Status = "healthy"
	serviceInfo.Latency = time.Since(start).String()
	response.Services["database"] = serviceInfo
	return true
}

// checkRedis 检查 Redis 状态，未启用时标记 disabled 不影响整体
func (h *HealthHandler) checkRedis(ctx context.Context, response *HealthResponse) bool {
	if h.redis == nil {
		response.Services["redis"] = ServiceInfo{Status: "disabled"}
		return true
	}

	start := time.Now()
	serviceInfo := ServiceInfo{
		Details: map[string]interface{}{
			"host": h.config.Redis.Host,
			"port": h.config.Redis.Port,
		},
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		serviceInfo.Status = "unhealthy"
		serviceInfo.Error = err.Error()
		serviceInfo.Latency = time.Since(start).String()
		response.Services["redis"] = serviceInfo
		h.logger.Warnf("Redis unhealthy, assignment cursors fall back per call: %v", err)
		return false
	}

	serviceInfo.Status = "healthy"
	serviceInfo.Latency = time.Since(start).String()
	response.Services["redis"] = serviceInfo
	return true
}

// checkWebSocket 上报推送中心连接数
func (h *HealthHandler) checkWebSocket(response *HealthResponse) {
	if h.hub == nil {
		response.Services["websocket"] = ServiceInfo{Status: "disabled"}
		return
	}
	response.Services["websocket"] = ServiceInfo{
		Status: "healthy",
		Details: map[string]interface{}{
			"active_connections": h.hub.GetClientCount(),
		},
	}
}

// checkScheduler 上报跟进调度队列深度
func (h *HealthHandler) checkScheduler(response *HealthResponse) {
	if h.scheduler == nil {
		response.Services["scheduler"] = ServiceInfo{Status: "disabled"}
		return
	}
	response.Services["scheduler"] = ServiceInfo{
		Status: "healthy",
		Details: map[string]interface{}{
			"pending_followups": h.scheduler.PendingCount(),
		},
	}
}

// MetricsHandler 指标处理器
type MetricsHandler struct {
	hub       *services.WebSocketHub
	scheduler *services.SchedulerService
	db        *gorm.DB
	startedAt time.Time
}

// NewMetricsHandler 创建指标处理器
func NewMetricsHandler(hub *services.WebSocketHub, scheduler *services.SchedulerService, db *gorm.DB) *MetricsHandler {
	return &MetricsHandler{hub: hub, scheduler: scheduler, db: db, startedAt: time.Now()}
}

// GetMetrics 获取系统指标（Prometheus 格式）
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	c.Header("Content-Type", "text/plain")

	uptime := time.Since(h.startedAt).Seconds()
	wsClients := 0
	pending := 0
	if h.hub != nil {
		wsClients = h.hub.GetClientCount()
	}
	if h.scheduler != nil {
		pending = h.scheduler.PendingCount()
	}

	b := &strings.Builder{}
	fmt.Fprintf(b, "# HELP deskify_info Information about the Deskify instance\n")
	fmt.Fprintf(b, "# TYPE deskify_info gauge\n")
	v := strings.ReplaceAll(version.Version, "\"", "\\\"")
	cmt := strings.ReplaceAll(version.Commit, "\"", "\\\"")
	bt := strings.ReplaceAll(version.BuildTime, "\"", "\\\"")
	fmt.Fprintf(b, "deskify_info{version=\"%s\",commit=\"%s\",build_time=\"%s\"} 1\n\n", v, cmt, bt)

	fmt.Fprintf(b, "# HELP deskify_uptime_seconds Total uptime of the Deskify instance in seconds\n")
	fmt.Fprintf(b, "# TYPE deskify_uptime_seconds counter\n")
	fmt.Fprintf(b, "deskify_uptime_seconds %.0f\n\n", uptime)

	fmt.Fprintf(b, "# HELP deskify_websocket_active_connections Active WebSocket connections\n")
	fmt.Fprintf(b, "# TYPE deskify_websocket_active_connections gauge\n")
	fmt.Fprintf(b, "deskify_websocket_active_connections %d\n\n", wsClients)

	fmt.Fprintf(b, "# HELP deskify_scheduler_pending_followups Follow-ups waiting in the scheduler queue\n")
	fmt.Fprintf(b, "# TYPE deskify_scheduler_pending_followups gauge\n")
	fmt.Fprintf(b, "deskify_scheduler_pending_followups %d\n\n", pending)

	// 自动化引擎计数器
	ac := dmetrics.AutomationSnapshot()
	fmt.Fprintf(b, "# HELP deskify_automation_rules_evaluated_total Total automation rules evaluated\n")
	fmt.Fprintf(b, "# TYPE deskify_automation_rules_evaluated_total counter\n")
	fmt.Fprintf(b, "deskify_automation_rules_evaluated_total %d\n\n", ac.RulesEvaluated)

	fmt.Fprintf(b, "# HELP deskify_automation_rules_matched_total Total automation rules whose conditions matched\n")
	fmt.Fprintf(b, "# TYPE deskify_automation_rules_matched_total counter\n")
	fmt.Fprintf(b, "deskify_automation_rules_matched_total %d\n\n", ac.RulesMatched)

	fmt.Fprintf(b, "# HELP deskify_automation_rules_failed_total Total automation rule runs that ended in error\n")
	fmt.Fprintf(b, "# TYPE deskify_automation_rules_failed_total counter\n")
	fmt.Fprintf(b, "deskify_automation_rules_failed_total %d\n\n", ac.RulesFailed)

	fmt.Fprintf(b, "# HELP deskify_automation_actions_executed_total Total automation actions executed\n")
	fmt.Fprintf(b, "# TYPE deskify_automation_actions_executed_total counter\n")
	fmt.Fprintf(b, "deskify_automation_actions_executed_total %d\n\n", ac.ActionsExecuted)

	fmt.Fprintf(b, "# HELP deskify_automation_triggers_total Automation trigger events processed by trigger name\n")
	fmt.Fprintf(b, "# TYPE deskify_automation_triggers_total counter\n")
	for trigger, n := range ac.ByTrigger {
		label := strings.ReplaceAll(trigger, "\"", "\\\"")
		fmt.Fprintf(b, "deskify_automation_triggers_total{trigger=\"%s\"} %d\n", label, n)
	}
	fmt.Fprintf(b, "\n")

	fmt.Fprintf(b, "# HELP deskify_automation_effects_total Side effects delivered by kind\n")
	fmt.Fprintf(b, "# TYPE deskify_automation_effects_total counter\n")
	for kind, n := range ac.EffectsByKind {
		label := strings.ReplaceAll(kind, "\"", "\\\"")
		fmt.Fprintf(b, "deskify_automation_effects_total{kind=\"%s\"} %d\n", label, n)
	}
	fmt.Fprintf(b, "\n")

	fmt.Fprintf(b, "# HELP deskify_automation_webhooks_total Webhook deliveries by result\n")
	fmt.Fprintf(b, "# TYPE deskify_automation_webhooks_total counter\n")
	fmt.Fprintf(b, "deskify_automation_webhooks_total{result=\"ok\"} %d\n", ac.WebhooksOK)
	fmt.Fprintf(b, "deskify_automation_webhooks_total{result=\"failed\"} %d\n\n", ac.WebhooksFailed)

	// Go runtime minimal metrics
	fmt.Fprintf(b, "# HELP deskify_go_goroutines Number of goroutines\n")
	fmt.Fprintf(b, "# TYPE deskify_go_goroutines gauge\n")
	fmt.Fprintf(b, "deskify_go_goroutines %d\n\n", runtime.NumGoroutine())

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	fmt.Fprintf(b, "# HELP deskify_go_mem_alloc_bytes Bytes of allocated heap objects\n")
	fmt.Fprintf(b, "# TYPE deskify_go_mem_alloc_bytes gauge\n")
	fmt.Fprintf(b, "deskify_go_mem_alloc_bytes %d\n", ms.Alloc)

	// Database/sql stats (if available)
	if h.db != nil {
		var sqlDB *sql.DB
		if s, err := h.db.DB(); err == nil {
			sqlDB = s
		}
		if sqlDB != nil {
			ds := sqlDB.Stats()
			fmt.Fprintf(b, "\n# HELP deskify_db_max_open_connections Maximum number of open connections to the database\n")
			fmt.Fprintf(b, "# TYPE deskify_db_max_open_connections gauge\n")
			fmt.Fprintf(b, "deskify_db_max_open_connections %d\n", ds.MaxOpenConnections)

			fmt.Fprintf(b, "# HELP deskify_db_open_connections The number of established connections both in use and idle\n")
			fmt.Fprintf(b, "# TYPE deskify_db_open_connections gauge\n")
			fmt.Fprintf(b, "deskify_db_open_connections %d\n", ds.OpenConnections)

			fmt.Fprintf(b, "# HELP deskify_db_inuse_connections The number of connections currently in use\n")
			fmt.Fprintf(b, "# TYPE deskify_db_inuse_connections gauge\n")
			fmt.Fprintf(b, "deskify_db_inuse_connections %d\n", ds.InUse)

			fmt.Fprintf(b, "# HELP deskify_db_idle_connections The number of idle connections\n")
			fmt.Fprintf(b, "# TYPE deskify_db_idle_connections gauge\n")
			fmt.Fprintf(b, "deskify_db_idle_connections %d\n", ds.Idle)

			fmt.Fprintf(b, "# HELP deskify_db_wait_count The total number of connections waited for\n")
			fmt.Fprintf(b, "# TYPE deskify_db_wait_count counter\n")
			fmt.Fprintf(b, "deskify_db_wait_count %d\n", ds.WaitCount)

			fmt.Fprintf(b, "# HELP deskify_db_wait_duration_seconds The total time blocked waiting for a new connection\n")
			fmt.Fprintf(b, "# TYPE deskify_db_wait_duration_seconds counter\n")
			fmt.Fprintf(b, "deskify_db_wait_duration_seconds %.6f\n", ds.WaitDuration.Seconds())

			fmt.Fprintf(b, "# HELP deskify_db_max_idle_closed_total The total number of connections closed due to SetMaxIdleConns\n")
			fmt.Fprintf(b, "# TYPE deskify_db_max_idle_closed_total counter\n")
			fmt.Fprintf(b, "deskify_db_max_idle_closed_total %d\n", ds.MaxIdleClosed)

			fmt.Fprintf(b, "# HELP deskify_db_max_lifetime_closed_total The total number of connections closed due to SetConnMaxLifetime\n")
			fmt.Fprintf(b, "# TYPE deskify_db_max_lifetime_closed_total counter\n")
			fmt.Fprintf(b, "deskify_db_max_lifetime_closed_total %d\n", ds.MaxLifetimeClosed)
		}
	}

	// 限流丢弃计数（按路由前缀）
	totalDrops, byPrefix := dmetrics.RateLimitSnapshot()
	fmt.Fprintf(b, "\n# HELP deskify_ratelimit_dropped_total Total HTTP 429 responses due to rate limiting\n")
	fmt.Fprintf(b, "# TYPE deskify_ratelimit_dropped_total counter\n")
	if len(byPrefix) == 0 {
		fmt.Fprintf(b, "deskify_ratelimit_dropped_total{prefix=\"global\"} %d\n", 0)
	} else {
		for p, n := range byPrefix {
			label := strings.ReplaceAll(p, "\"", "\\\"")
			fmt.Fprintf(b, "deskify_ratelimit_dropped_total{prefix=\"%s\"} %d\n", label, n)
		}
	}
	fmt.Fprintf(b, "deskify_ratelimit_dropped_sum %d\n", totalDrops)

	c.String(http.StatusOK, b.String())
}
