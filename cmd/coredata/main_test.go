package main

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coresense/coredata/config"
	"github.com/coresense/coredata/internal/database"
	"github.com/coresense/coredata/internal/metrics"
	"github.com/coresense/coredata/internal/migration"
)

// TestBinaryLinksSingleSQLiteDriver 确保迁移引擎与 gorm 方言共用同一个
// sqlite 驱动注册（链接两个同名驱动会在 init 阶段 panic）
func TestBinaryLinksSingleSQLiteDriver(t *testing.T) {
	assert.Contains(t, sql.Drivers(), "sqlite3")
}

// TestSetupFlow 按 setup 命令的装配顺序走通整个进程：
// 迁移环境初始化、升级到最新修订、建立连接并通过健康检查
func TestSetupFlow(t *testing.T) {
	dir := t.TempDir()
	logger := zap.NewNop()

	cfg := config.DefaultConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Name = filepath.Join(dir, "smoke.db")
	cfg.Database.MigrationsDir = filepath.Join(dir, "migrations")
	cfg.Database.BackupsDir = filepath.Join(dir, "backups")
	cfg.Database.AutoMigrate = true
	require.NoError(t, cfg.Validate())

	ctx := context.Background()
	collector := metrics.NewCollector("coredata_smoke", logger)

	migrator, _, err := migration.NewMigratorFromConfig(cfg, logger, collector)
	require.NoError(t, err)
	defer migrator.Close()

	require.NoError(t, migrator.Init())
	require.NoError(t, migrator.Up(ctx, migration.TargetHead))

	svc := newService(cfg, logger, collector, false)
	require.NoError(t, svc.Initialize(ctx))
	defer svc.Close()

	report := svc.HealthCheck(ctx)
	assert.Equal(t, database.HealthHealthy, report.Database.Status)
}
