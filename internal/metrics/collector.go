// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 数据库指标
	dbConnectionsOpened *prometheus.CounterVec
	dbConnectionsOpen   *prometheus.GaugeVec
	dbConnectionsInUse  *prometheus.GaugeVec
	dbConnectionsIdle   *prometheus.GaugeVec
	dbQueriesTotal      *prometheus.CounterVec
	dbSlowQueriesTotal  *prometheus.CounterVec
	dbErrorsTotal       *prometheus.CounterVec
	dbQueryDuration     *prometheus.HistogramVec

	// 缓存指标
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	cacheFallbacks *prometheus.CounterVec

	// 迁移指标
	migrationsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 数据库指标
	c.dbConnectionsOpened = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_connections_opened_total",
			Help:      "Total number of database connections opened",
		},
		[]string{"database"},
	)

	c.dbConnectionsOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsInUse = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_in_use",
			Help:      "Number of database connections currently checked out",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_queries_total",
			Help:      "Total number of executed statements",
		},
		[]string{"database"},
	)

	c.dbSlowQueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_slow_queries_total",
			Help:      "Total number of statements exceeding the slow-query threshold",
		},
		[]string{"database"},
	)

	c.dbErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_errors_total",
			Help:      "Total number of database errors",
		},
		[]string{"database"},
	)

	c.dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"database"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"tier"}, // tier: remote, local
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"tier"},
	)

	c.cacheFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_fallbacks_total",
			Help:      "Total number of operations served by the local tier after a remote failure",
		},
		[]string{"operation"},
	)

	// 迁移指标
	c.migrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "migrations_total",
			Help:      "Total number of migration operations",
		},
		[]string{"direction", "status"}, // direction: up, down; status: ok, error
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordConnectionOpened 记录新建连接
func (c *Collector) RecordConnectionOpened(database string) {
	c.dbConnectionsOpened.WithLabelValues(database).Inc()
}

// RecordQuery 记录一次语句执行
func (c *Collector) RecordQuery(database string, duration time.Duration, slow bool) {
	c.dbQueriesTotal.WithLabelValues(database).Inc()
	c.dbQueryDuration.WithLabelValues(database).Observe(duration.Seconds())
	if slow {
		c.dbSlowQueriesTotal.WithLabelValues(database).Inc()
	}
}

// RecordError 记录数据库错误
func (c *Collector) RecordError(database string) {
	c.dbErrorsTotal.WithLabelValues(database).Inc()
}

// SetPoolStats 更新连接池占用快照
func (c *Collector) SetPoolStats(database string, open, inUse, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsInUse.WithLabelValues(database).Set(float64(inUse))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(tier string) {
	c.cacheHits.WithLabelValues(tier).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(tier string) {
	c.cacheMisses.WithLabelValues(tier).Inc()
}

// RecordCacheFallback 记录远程层故障后的本地兜底
func (c *Collector) RecordCacheFallback(operation string) {
	c.cacheFallbacks.WithLabelValues(operation).Inc()
}

// =============================================================================
// 🔀 迁移指标记录
// =============================================================================

// RecordMigration 记录迁移操作结果
func (c *Collector) RecordMigration(direction string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.migrationsTotal.WithLabelValues(direction, status).Inc()
}
