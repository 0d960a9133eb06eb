// Package database provides internal database connection management.
// This package is internal and should not be imported by external projects.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/coresense/coredata/config"
	"github.com/coresense/coredata/types"
)

// =============================================================================
// 🔌 数据库连接管理器
// =============================================================================

// Manager 数据库连接管理器。持有单个 gorm 句柄及其底层连接池，
// 负责按驱动类型选择池化策略并向健康监控上报事件。
type Manager struct {
	config  config.DatabaseConfig
	logger  *zap.Logger
	monitor *HealthMonitor

	mu          sync.RWMutex
	db          *gorm.DB
	sqlDB       *sql.DB
	initialized bool
	closed      bool
}

// NewManager 创建连接管理器，依赖通过构造函数显式注入
func NewManager(cfg config.DatabaseConfig, monitor *HealthMonitor, logger *zap.Logger) *Manager {
	return &Manager{
		config:  cfg,
		monitor: monitor,
		logger:  logger.With(zap.String("component", "database")),
	}
}

// Initialize 建立数据库连接并配置连接池。
// 重复初始化返回 ErrAlreadyOpen，失败后管理器保持未初始化状态可重试。
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		return types.NewError(types.ErrAlreadyOpen, "connection manager already initialized")
	}
	if m.closed {
		return types.NewError(types.ErrClosed, "connection manager is closed")
	}

	dialector, err := m.dialector()
	if err != nil {
		return err
	}

	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if m.config.EchoSQL {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return types.NewError(types.ErrUnreachable,
			fmt.Sprintf("failed to open %s database", m.config.Driver)).
			WithCause(err).WithRetryable(true)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return types.NewError(types.ErrQueryFailed, "failed to access connection pool").WithCause(err)
	}

	m.applyPoolPolicy(sqlDB)

	// 初始连通性验证，失败则不进入已初始化状态
	pingCtx, cancel := context.WithTimeout(ctx, m.config.PoolTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return classifyConnError(err, m.config.Driver)
	}

	if err := m.instrument(db); err != nil {
		_ = sqlDB.Close()
		return types.NewError(types.ErrQueryFailed, "failed to register query callbacks").WithCause(err)
	}

	m.db = db
	m.sqlDB = sqlDB
	m.initialized = true

	if m.monitor != nil {
		m.monitor.RecordConnection(m.config.Driver)
		m.monitor.BindProber(m)
	}

	m.logger.Info("database connection established",
		zap.String("driver", m.config.Driver),
		zap.String("dsn", m.config.MaskedDSN()),
		zap.Bool("embedded", m.config.IsEmbedded()),
	)

	return nil
}

// dialector 根据配置的驱动选择 gorm 方言
func (m *Manager) dialector() (gorm.Dialector, error) {
	dsn := m.config.DSN()

	switch m.config.Driver {
	case "sqlite":
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	default:
		return nil, types.NewError(types.ErrQueryFailed,
			fmt.Sprintf("unsupported database driver: %s", m.config.Driver))
	}
}

// applyPoolPolicy 按驱动类型配置连接池。
// 嵌入式数据库使用单一静态连接，客户端-服务器数据库使用动态池。
func (m *Manager) applyPoolPolicy(sqlDB *sql.DB) {
	if m.config.IsEmbedded() {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
		sqlDB.SetConnMaxLifetime(0)
		return
	}

	sqlDB.SetMaxOpenConns(m.config.PoolSize + m.config.MaxOverflow)
	sqlDB.SetMaxIdleConns(m.config.PoolSize)
	sqlDB.SetConnMaxLifetime(m.config.PoolRecycle)
}

// =============================================================================
// 📊 查询观测回调
// =============================================================================

const startTimeKey = "coredata:query_start"

// instrument 注册 gorm 回调，向健康监控上报每次操作的耗时与错误
func (m *Manager) instrument(db *gorm.DB) error {
	before := func(tx *gorm.DB) {
		tx.InstanceSet(startTimeKey, time.Now())
	}
	after := func(tx *gorm.DB) {
		if m.monitor == nil {
			return
		}
		if v, ok := tx.InstanceGet(startTimeKey); ok {
			if started, ok := v.(time.Time); ok {
				m.monitor.RecordQuery(m.config.Driver, time.Since(started))
			}
		}
		if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
			m.monitor.RecordError(m.config.Driver)
		}
	}

	callbacks := []struct {
		before func(string, func(*gorm.DB)) error
		after  func(string, func(*gorm.DB)) error
		name   string
	}{
		{db.Callback().Create().Before("gorm:create").Register, db.Callback().Create().After("gorm:create").Register, "create"},
		{db.Callback().Query().Before("gorm:query").Register, db.Callback().Query().After("gorm:query").Register, "query"},
		{db.Callback().Update().Before("gorm:update").Register, db.Callback().Update().After("gorm:update").Register, "update"},
		{db.Callback().Delete().Before("gorm:delete").Register, db.Callback().Delete().After("gorm:delete").Register, "delete"},
		{db.Callback().Row().Before("gorm:row").Register, db.Callback().Row().After("gorm:row").Register, "row"},
		{db.Callback().Raw().Before("gorm:raw").Register, db.Callback().Raw().After("gorm:raw").Register, "raw"},
	}

	for _, cb := range callbacks {
		if err := cb.before("coredata:before_"+cb.name, before); err != nil {
			return err
		}
		if err := cb.after("coredata:after_"+cb.name, after); err != nil {
			return err
		}
	}

	return nil
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// Session 获取绑定了调用方上下文的数据库会话。
// 未初始化或已关闭时快速失败，配置了 pre_ping 时先验证连接存活。
func (m *Manager) Session(ctx context.Context) (*gorm.DB, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, types.NewError(types.ErrClosed, "connection manager is closed")
	}
	if !m.initialized {
		return nil, types.NewError(types.ErrNotInitialized, "connection manager not initialized")
	}

	if m.config.PrePing {
		pingCtx, cancel := context.WithTimeout(ctx, m.config.PoolTimeout)
		err := m.sqlDB.PingContext(pingCtx)
		cancel()
		if err != nil {
			return nil, classifyConnError(err, m.config.Driver)
		}
	}

	return m.db.WithContext(ctx), nil
}

// TestConnection 通过空查询验证连通性，指数退避重试。
// maxRetries 是总尝试次数。任何失败都吞掉并返回 false，绝不 panic。
func (m *Manager) TestConnection(ctx context.Context, maxRetries int, baseDelay time.Duration) bool {
	m.mu.RLock()
	sqlDB := m.sqlDB
	initialized := m.initialized && !m.closed
	m.mu.RUnlock()

	if !initialized {
		return false
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	delay := baseDelay
	for attempt := 1; attempt <= maxRetries; attempt++ {
		var probe int
		err := sqlDB.QueryRowContext(ctx, "SELECT 1").Scan(&probe)
		if err == nil {
			return true
		}

		m.logger.Warn("connection probe failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		delay *= 2
	}

	return false
}

// Stats 返回底层连接池统计。嵌入式单连接模式下第二个返回值为 false。
func (m *Manager) Stats() (sql.DBStats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized || m.closed {
		return sql.DBStats{}, false
	}
	return m.sqlDB.Stats(), !m.config.IsEmbedded()
}

// DB 返回 gorm 句柄，仅供自动建表等初始化路径使用
func (m *Manager) DB() (*gorm.DB, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized || m.closed {
		return nil, types.NewError(types.ErrNotInitialized, "connection manager not initialized")
	}
	return m.db, nil
}

// Config 返回管理器的数据库配置
func (m *Manager) Config() config.DatabaseConfig {
	return m.config
}

// Close 关闭连接池。幂等，关闭后所有获取会话的调用返回 ErrClosed。
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || !m.initialized {
		m.closed = true
		return nil
	}

	m.closed = true
	m.initialized = false

	if m.monitor != nil {
		m.monitor.MarkClosed()
	}

	m.logger.Info("closing database connection", zap.String("driver", m.config.Driver))
	return m.sqlDB.Close()
}
