// Package cache provides internal cache management.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/coresense/coredata/config"
	"github.com/coresense/coredata/internal/metrics"
)

// =============================================================================
// 💾 两级缓存管理器
// =============================================================================

// Manager 两级缓存管理器: 远程共享 Redis 层 + 本地有界兜底层。
// 远程层任何失败都透明降级到本地层，缓存错误永远不会传导给调用方。
type Manager struct {
	redis     *redis.Client
	local     *expirable.LRU[string, string]
	config    config.CacheConfig
	logger    *zap.Logger
	collector *metrics.Collector

	mu            sync.RWMutex
	remoteHealthy bool
	closed        bool
}

// NewManager 创建缓存管理器。远程层不可达不是错误:
// 管理器以仅本地模式启动，并在后续操作时惰性重探。
func NewManager(cfg config.CacheConfig, logger *zap.Logger, collector *metrics.Collector) *Manager {
	localTTL := cfg.LocalTTL
	if localTTL <= 0 {
		localTTL = cfg.DefaultTTL
	}

	m := &Manager{
		redis: redis.NewClient(&redis.Options{
			Addr:         cfg.Addr,
			Password:     cfg.Password,
			DB:           cfg.DB,
			PoolSize:     cfg.PoolSize,
			MinIdleConns: cfg.MinIdleConns,
		}),
		local:     expirable.NewLRU[string, string](cfg.LocalSize, nil, localTTL),
		config:    cfg,
		logger:    logger.With(zap.String("component", "cache")),
		collector: collector,
	}

	// 测试远程连接
	ctx, cancel := context.WithTimeout(context.Background(), cfg.OpTimeout)
	defer cancel()

	if err := m.redis.Ping(ctx).Err(); err != nil {
		m.logger.Warn("remote cache unavailable, starting in local-only mode",
			zap.String("addr", cfg.Addr), zap.Error(err))
		m.remoteHealthy = false
	} else {
		m.remoteHealthy = true
		m.logger.Info("cache manager initialized",
			zap.String("addr", cfg.Addr),
			zap.Duration("default_ttl", cfg.DefaultTTL),
			zap.Int("local_size", cfg.LocalSize),
		)
	}

	return m
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Get 获取缓存值。先查远程层，远程失败或未命中时回落本地层。
// 第二个返回值表示是否命中，任何错误都按未命中处理。
func (m *Manager) Get(ctx context.Context, key string) (string, bool) {
	if m.isClosed() {
		return "", false
	}

	if m.remoteAvailable(ctx) {
		rctx, cancel := m.opContext(ctx)
		val, err := m.redis.Get(rctx, key).Result()
		cancel()

		switch {
		case err == nil:
			m.recordHit("remote")
			return val, true
		case err == redis.Nil:
			// 远程未命中，继续查本地
		default:
			m.markRemoteDown("get", err)
		}
	}

	if val, ok := m.local.Get(key); ok {
		m.recordHit("local")
		return val, true
	}

	m.recordMiss()
	return "", false
}

// Set 设置缓存值。远程层可达时双写，否则仅写本地层。
// ttl 为零时取配置的默认 TTL。返回值仅表示远程层是否成功。
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if m.isClosed() {
		return false
	}

	if ttl <= 0 {
		ttl = m.config.DefaultTTL
	}

	remoteOK := false
	if m.remoteAvailable(ctx) {
		rctx, cancel := m.opContext(ctx)
		err := m.redis.Set(rctx, key, value, ttl).Err()
		cancel()

		if err != nil {
			m.markRemoteDown("set", err)
		} else {
			remoteOK = true
		}
	}

	// 本地层始终写入，作为远程层失效时的兜底
	m.local.Add(key, value)

	return remoteOK
}

// GetJSON 获取并反序列化 JSON 缓存值
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) bool {
	val, ok := m.Get(ctx, key)
	if !ok {
		return false
	}

	if err := json.Unmarshal([]byte(val), dest); err != nil {
		// 损坏的条目当作未命中并清除
		m.logger.Warn("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		m.Delete(ctx, key)
		return false
	}

	return true
}

// SetJSON 序列化并设置 JSON 缓存值
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) bool {
	data, err := json.Marshal(value)
	if err != nil {
		m.logger.Warn("cache value not serializable", zap.String("key", key), zap.Error(err))
		return false
	}

	return m.Set(ctx, key, string(data), ttl)
}

// Delete 删除缓存值（两层都删除）
func (m *Manager) Delete(ctx context.Context, keys ...string) bool {
	if m.isClosed() || len(keys) == 0 {
		return false
	}

	remoteOK := false
	if m.remoteAvailable(ctx) {
		rctx, cancel := m.opContext(ctx)
		err := m.redis.Del(rctx, keys...).Err()
		cancel()

		if err != nil {
			m.markRemoteDown("delete", err)
		} else {
			remoteOK = true
		}
	}

	for _, key := range keys {
		m.local.Remove(key)
	}

	return remoteOK
}

// InvalidatePrefix 清除指定前缀的所有键。
// 在任何可能使缓存读取过期的写操作之后调用，
// 例如更新用户资料后清除 "user:<id>:" 命名空间。
func (m *Manager) InvalidatePrefix(ctx context.Context, prefix string) {
	if m.isClosed() || prefix == "" {
		return
	}

	if m.remoteAvailable(ctx) {
		rctx, cancel := m.opContext(ctx)
		err := m.invalidateRemotePrefix(rctx, prefix)
		cancel()

		if err != nil {
			m.markRemoteDown("invalidate_prefix", err)
		}
	}

	for _, key := range m.local.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.local.Remove(key)
		}
	}
}

// invalidateRemotePrefix 通过 SCAN 游标遍历删除远程键
func (m *Manager) invalidateRemotePrefix(ctx context.Context, prefix string) error {
	var cursor uint64
	pattern := prefix + "*"

	for {
		keys, next, err := m.redis.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := m.redis.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Ping 检查远程层连接
func (m *Manager) Ping(ctx context.Context) error {
	rctx, cancel := m.opContext(ctx)
	defer cancel()
	return m.redis.Ping(rctx).Err()
}

// RemoteHealthy 返回远程层当前是否可用
func (m *Manager) RemoteHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.remoteHealthy
}

// Close 关闭缓存管理器
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	m.local.Purge()
	m.logger.Info("closing cache manager")

	return m.redis.Close()
}

// =============================================================================
// 🏥 远程层健康跟踪
// =============================================================================

// remoteAvailable 返回远程层是否可用。
// 上次失败后，下一次操作在此惰性重探一次。
func (m *Manager) remoteAvailable(ctx context.Context) bool {
	m.mu.RLock()
	healthy := m.remoteHealthy
	m.mu.RUnlock()

	if healthy {
		return true
	}

	rctx, cancel := m.opContext(ctx)
	err := m.redis.Ping(rctx).Err()
	cancel()

	if err != nil {
		return false
	}

	m.mu.Lock()
	m.remoteHealthy = true
	m.mu.Unlock()

	m.logger.Info("remote cache recovered, resuming dual-tier writes")
	return true
}

// markRemoteDown 记录远程层失败并切换到仅本地模式
func (m *Manager) markRemoteDown(op string, err error) {
	m.mu.Lock()
	wasHealthy := m.remoteHealthy
	m.remoteHealthy = false
	m.mu.Unlock()

	if wasHealthy {
		m.logger.Warn("remote cache failed, degrading to local-only mode",
			zap.String("operation", op), zap.Error(err))
	}
	if m.collector != nil {
		m.collector.RecordCacheFallback(op)
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

func (m *Manager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.config.OpTimeout)
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

func (m *Manager) recordHit(tier string) {
	if m.collector != nil {
		m.collector.RecordCacheHit(tier)
	}
}

func (m *Manager) recordMiss() {
	if m.collector != nil {
		m.collector.RecordCacheMiss("local")
	}
}
