package database

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coresense/coredata/internal/metrics"
)

// =============================================================================
// 🏥 数据库健康监控
// =============================================================================

// HealthStatus 数据库健康状态
type HealthStatus string

const (
	HealthUnknown   HealthStatus = "unknown"
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthClosed    HealthStatus = "closed"
)

// Prober 主动健康探测接口，由连接管理器实现
type Prober interface {
	TestConnection(ctx context.Context, maxRetries int, baseDelay time.Duration) bool
	Stats() (sql.DBStats, bool)
}

// Snapshot 健康监控的单调计数快照
type Snapshot struct {
	Status            HealthStatus   `json:"status"`
	ConnectionCount   uint64         `json:"connection_count"`
	QueryCount        uint64         `json:"query_count"`
	SlowQueryCount    uint64         `json:"slow_query_count"`
	ErrorCount        uint64         `json:"error_count"`
	LastHealthCheck   time.Time      `json:"last_health_check"`
	ConnectionHealthy bool           `json:"connection_healthy"`
	Pool              *PoolOccupancy `json:"pool,omitempty"`
}

// PoolOccupancy 连接池占用情况。嵌入式单连接模式下为 nil。
type PoolOccupancy struct {
	MaxOpen int   `json:"max_open"`
	Open    int   `json:"open"`
	InUse   int   `json:"in_use"`
	Idle    int   `json:"idle"`
	Waits   int64 `json:"waits"`
}

// HealthMonitor 被动收集连接与查询事件，并支持主动健康检查。
// 所有计数器单调递增，记录方法可在回调热路径上并发调用。
type HealthMonitor struct {
	slowThreshold time.Duration
	logger        *zap.Logger
	collector     *metrics.Collector

	connectionCount atomic.Uint64
	queryCount      atomic.Uint64
	slowQueryCount  atomic.Uint64
	errorCount      atomic.Uint64

	mu        sync.RWMutex
	status    HealthStatus
	lastCheck time.Time
	prober    Prober

	// 慢查询日志限流，避免持续慢查询刷爆日志
	slowLogLimiter *rate.Limiter
}

// NewHealthMonitor 创建健康监控器。collector 可以为 nil。
func NewHealthMonitor(slowThreshold time.Duration, logger *zap.Logger, collector *metrics.Collector) *HealthMonitor {
	return &HealthMonitor{
		slowThreshold:  slowThreshold,
		logger:         logger.With(zap.String("component", "health")),
		collector:      collector,
		status:         HealthUnknown,
		slowLogLimiter: rate.NewLimiter(rate.Every(10*time.Second), 5),
	}
}

// BindProber 绑定主动探测实现，由连接管理器在初始化时调用
func (h *HealthMonitor) BindProber(p Prober) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.prober = p
}

// =============================================================================
// 📊 事件记录
// =============================================================================

// RecordConnection 记录一次新建连接
func (h *HealthMonitor) RecordConnection(database string) {
	h.connectionCount.Add(1)
	if h.collector != nil {
		h.collector.RecordConnectionOpened(database)
	}
}

// RecordQuery 记录一次查询。超过慢查询阈值的同时计入慢查询。
func (h *HealthMonitor) RecordQuery(database string, duration time.Duration) {
	h.queryCount.Add(1)

	slow := h.slowThreshold > 0 && duration >= h.slowThreshold
	if slow {
		h.slowQueryCount.Add(1)
		if h.slowLogLimiter.Allow() {
			h.logger.Warn("slow query detected",
				zap.Duration("duration", duration),
				zap.Duration("threshold", h.slowThreshold))
		}
	}

	if h.collector != nil {
		h.collector.RecordQuery(database, duration, slow)
	}
}

// RecordError 记录一次失败操作
func (h *HealthMonitor) RecordError(database string) {
	h.errorCount.Add(1)
	if h.collector != nil {
		h.collector.RecordError(database)
	}
}

// =============================================================================
// 🔍 健康检查
// =============================================================================

// CheckHealth 执行一次主动健康检查并返回最新快照。
// 探测本身失败不会返回错误，而是反映在快照的状态字段中。
func (h *HealthMonitor) CheckHealth(ctx context.Context) Snapshot {
	h.mu.RLock()
	prober := h.prober
	h.mu.RUnlock()

	healthy := false
	if prober != nil {
		healthy = prober.TestConnection(ctx, 1, 0)
	}

	now := time.Now()

	h.mu.Lock()
	h.lastCheck = now
	switch {
	case h.status == HealthClosed:
		// 关闭后状态保持不变
	case prober == nil:
		h.status = HealthUnknown
	case healthy:
		h.status = HealthHealthy
	default:
		h.status = HealthUnhealthy
	}
	h.mu.Unlock()

	return h.Snapshot()
}

// Snapshot 返回当前计数快照，不触发主动探测
func (h *HealthMonitor) Snapshot() Snapshot {
	h.mu.RLock()
	status := h.status
	lastCheck := h.lastCheck
	prober := h.prober
	h.mu.RUnlock()

	snap := Snapshot{
		Status:            status,
		ConnectionCount:   h.connectionCount.Load(),
		QueryCount:        h.queryCount.Load(),
		SlowQueryCount:    h.slowQueryCount.Load(),
		ErrorCount:        h.errorCount.Load(),
		LastHealthCheck:   lastCheck,
		ConnectionHealthy: status == HealthHealthy,
	}

	if prober != nil {
		if stats, pooled := prober.Stats(); pooled {
			snap.Pool = &PoolOccupancy{
				MaxOpen: stats.MaxOpenConnections,
				Open:    stats.OpenConnections,
				InUse:   stats.InUse,
				Idle:    stats.Idle,
				Waits:   stats.WaitCount,
			}
			if h.collector != nil {
				h.collector.SetPoolStats("primary", stats.OpenConnections, stats.InUse, stats.Idle)
			}
		}
	}

	return snap
}

// MarkClosed 标记监控对应的连接已关闭
func (h *HealthMonitor) MarkClosed() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.status = HealthClosed
	h.prober = nil
}
