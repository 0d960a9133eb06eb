package migration

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/coresense/coredata/config"
	"github.com/coresense/coredata/types"
)

func newTestMigrator(t *testing.T) (*FileMigrator, *BackupManager, config.DatabaseConfig) {
	t.Helper()

	dir := t.TempDir()
	cfg := config.DefaultDatabaseConfig()
	cfg.Driver = "sqlite"
	cfg.Name = filepath.Join(dir, "test.db")
	cfg.MigrationsDir = filepath.Join(dir, "migrations")
	cfg.BackupsDir = filepath.Join(dir, "backups")
	cfg.BackupBeforeMigrate = true

	migrator, backups, err := NewMigratorFromDatabaseConfig(cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	require.NoError(t, migrator.Init())
	t.Cleanup(func() { _ = migrator.Close() })

	return migrator, backups, cfg
}

// writeRevision fills a generated revision pair with real SQL
func writeRevision(t *testing.T, m *FileMigrator, description, upSQL, downSQL string) uint {
	t.Helper()

	version, err := m.Generate(description)
	require.NoError(t, err)

	slug := slugify(description)
	up := filepath.Join(m.cfg.MigrationsDir, fmt.Sprintf("%06d_%s.up.sql", version, slug))
	down := filepath.Join(m.cfg.MigrationsDir, fmt.Sprintf("%06d_%s.down.sql", version, slug))
	require.NoError(t, os.WriteFile(up, []byte(upSQL), 0o644))
	require.NoError(t, os.WriteFile(down, []byte(downSQL), 0o644))

	return version
}

func TestMigrator_InitIdempotent(t *testing.T) {
	m, _, _ := newTestMigrator(t)

	require.NoError(t, m.Init())
	require.NoError(t, m.Init())
	assert.Equal(t, StateInitialized, m.State())
}

func TestMigrator_RequiresInit(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultDatabaseConfig()
	cfg.Driver = "sqlite"
	cfg.Name = filepath.Join(dir, "test.db")
	cfg.MigrationsDir = filepath.Join(dir, "migrations")
	cfg.BackupsDir = filepath.Join(dir, "backups")

	m := NewFileMigrator(cfg, nil, zap.NewNop(), nil)

	_, err := m.Generate("too early")
	require.Error(t, err)
	assert.Equal(t, types.ErrNotInitialized, types.GetErrorCode(err))
}

func TestMigrator_Generate(t *testing.T) {
	m, _, cfg := newTestMigrator(t)

	v1, err := m.Generate("create users table")
	require.NoError(t, err)
	assert.Equal(t, uint(1), v1)

	v2, err := m.Generate("add sessions!!")
	require.NoError(t, err)
	assert.Equal(t, uint(2), v2)

	// 生成的文件名使用零填充版本号与清洗后的描述
	assert.FileExists(t, filepath.Join(cfg.MigrationsDir, "000001_create_users_table.up.sql"))
	assert.FileExists(t, filepath.Join(cfg.MigrationsDir, "000001_create_users_table.down.sql"))
	assert.FileExists(t, filepath.Join(cfg.MigrationsDir, "000002_add_sessions.up.sql"))
}

func TestMigrator_UpDown(t *testing.T) {
	m, _, _ := newTestMigrator(t)
	ctx := context.Background()

	writeRevision(t, m, "create users",
		"CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL);",
		"DROP TABLE users;")
	writeRevision(t, m, "create sessions",
		"CREATE TABLE sessions (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL);",
		"DROP TABLE sessions;")

	require.NoError(t, m.Up(ctx, TargetHead))
	assert.Equal(t, StateUpToDate, m.State())

	version, dirty, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	// 没有新修订时重复升级是幂等的
	require.NoError(t, m.Up(ctx, TargetHead))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Contains(t, info.Tables, "users")
	assert.Contains(t, info.Tables, "sessions")

	// 回滚到上一个修订
	require.NoError(t, m.Down(ctx, 1))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	info, err = m.Info(ctx)
	require.NoError(t, err)
	assert.Contains(t, info.Tables, "users")
	assert.NotContains(t, info.Tables, "sessions")

	// 回滚到根
	require.NoError(t, m.Down(ctx, 0))
	version, _, err = m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(0), version)
}

func TestMigrator_UpToSpecificVersion(t *testing.T) {
	m, _, _ := newTestMigrator(t)
	ctx := context.Background()

	writeRevision(t, m, "first", "CREATE TABLE a (id INTEGER);", "DROP TABLE a;")
	writeRevision(t, m, "second", "CREATE TABLE b (id INTEGER);", "DROP TABLE b;")

	require.NoError(t, m.Up(ctx, 1))

	version, _, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestMigrator_UpNoRevisions(t *testing.T) {
	m, _, _ := newTestMigrator(t)
	require.NoError(t, m.Up(context.Background(), TargetHead))
}

func TestMigrator_BackupBeforeChange(t *testing.T) {
	m, backups, _ := newTestMigrator(t)
	ctx := context.Background()

	writeRevision(t, m, "first", "CREATE TABLE a (id INTEGER);", "DROP TABLE a;")

	// 首次升级时数据库文件尚不存在，跳过备份
	require.NoError(t, m.Up(ctx, TargetHead))
	names, err := backups.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	writeRevision(t, m, "second", "CREATE TABLE b (id INTEGER);", "DROP TABLE b;")
	require.NoError(t, m.Up(ctx, TargetHead))

	names, err = backups.List()
	require.NoError(t, err)
	assert.Len(t, names, 1, "second upgrade must back up the existing database")

	// 降级总是创建新备份，即使升级刚创建过一个
	require.NoError(t, m.Down(ctx, 1))
	names, err = backups.List()
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestMigrator_BackupFailureAborts(t *testing.T) {
	m, _, cfg := newTestMigrator(t)
	ctx := context.Background()

	writeRevision(t, m, "first", "CREATE TABLE a (id INTEGER);", "DROP TABLE a;")
	require.NoError(t, m.Up(ctx, TargetHead))

	// 用同名文件占住备份目录，使备份无法创建
	require.NoError(t, os.RemoveAll(cfg.BackupsDir))
	require.NoError(t, os.WriteFile(cfg.BackupsDir, []byte("not a directory"), 0o644))

	writeRevision(t, m, "second", "CREATE TABLE b (id INTEGER);", "DROP TABLE b;")
	err := m.Up(ctx, TargetHead)
	require.Error(t, err)
	assert.Equal(t, types.ErrBackupFailed, types.GetErrorCode(err))

	// 备份失败时不得执行任何语句，版本保持不变
	version, _, err := m.Version(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
}

func TestMigrator_ApplyFailure(t *testing.T) {
	m, _, _ := newTestMigrator(t)
	ctx := context.Background()

	writeRevision(t, m, "broken", "THIS IS NOT SQL;", "SELECT 1;")

	err := m.Up(ctx, TargetHead)
	require.Error(t, err)
	assert.Equal(t, types.ErrApplyFailed, types.GetErrorCode(err))
	assert.Equal(t, StatePending, m.State())
}

func TestMigrator_LockBlocksConcurrentRuns(t *testing.T) {
	m, _, cfg := newTestMigrator(t)
	ctx := context.Background()

	writeRevision(t, m, "first", "CREATE TABLE a (id INTEGER);", "DROP TABLE a;")

	lockPath := filepath.Join(cfg.MigrationsDir, lockFileName)
	require.NoError(t, os.WriteFile(lockPath, []byte("pid=1\n"), 0o644))

	err := m.Up(ctx, TargetHead)
	require.Error(t, err)
	assert.Equal(t, types.ErrMigrationLocked, types.GetErrorCode(err))

	// 释放锁后迁移继续
	require.NoError(t, os.Remove(lockPath))
	require.NoError(t, m.Up(ctx, TargetHead))
}

func TestMigrator_History(t *testing.T) {
	m, _, _ := newTestMigrator(t)
	ctx := context.Background()

	writeRevision(t, m, "create users", "CREATE TABLE users (id INTEGER);", "DROP TABLE users;")
	writeRevision(t, m, "create sessions", "CREATE TABLE sessions (id INTEGER);", "DROP TABLE sessions;")

	require.NoError(t, m.Up(ctx, 1))

	records, err := m.History(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, uint(1), records[0].Version)
	assert.Equal(t, uint(0), records[0].Parent)
	assert.Equal(t, "create users", records[0].Description)
	assert.True(t, records[0].Applied)

	assert.Equal(t, uint(2), records[1].Version)
	assert.Equal(t, uint(1), records[1].Parent, "chain is linear")
	assert.False(t, records[1].Applied)
}

func TestBackupManager_CreateAndRestore(t *testing.T) {
	dir := t.TempDir()
	b := NewBackupManager(filepath.Join(dir, "backups"), zap.NewNop())

	dbPath := filepath.Join(dir, "data.db")
	require.NoError(t, os.WriteFile(dbPath, []byte("original"), 0o644))

	backupPath, err := b.Create(dbPath)
	require.NoError(t, err)
	assert.FileExists(t, backupPath)

	// 同一秒内的第二个备份不覆盖第一个
	second, err := b.Create(dbPath)
	require.NoError(t, err)
	assert.NotEqual(t, backupPath, second)

	require.NoError(t, os.WriteFile(dbPath, []byte("corrupted"), 0o644))
	require.NoError(t, b.Restore(backupPath, dbPath))

	content, err := os.ReadFile(dbPath)
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))

	names, err := b.List()
	require.NoError(t, err)
	assert.Len(t, names, 2)
}

func TestBackupManager_MissingSource(t *testing.T) {
	dir := t.TempDir()
	b := NewBackupManager(filepath.Join(dir, "backups"), zap.NewNop())

	_, err := b.Create(filepath.Join(dir, "nope.db"))
	require.Error(t, err)
	assert.Equal(t, types.ErrBackupFailed, types.GetErrorCode(err))
}

func TestCLI_Flow(t *testing.T) {
	m, backups, _ := newTestMigrator(t)
	ctx := context.Background()

	var out bytes.Buffer
	cli := NewCLI(m, backups)
	cli.SetOutput(&out)

	require.NoError(t, cli.RunGenerate(ctx, "create users"))
	assert.Contains(t, out.String(), "000001")

	up := filepath.Join(m.cfg.MigrationsDir, "000001_create_users.up.sql")
	down := filepath.Join(m.cfg.MigrationsDir, "000001_create_users.down.sql")
	require.NoError(t, os.WriteFile(up, []byte("CREATE TABLE users (id INTEGER);"), 0o644))
	require.NoError(t, os.WriteFile(down, []byte("DROP TABLE users;"), 0o644))

	writeRevision(t, m, "create sessions", "CREATE TABLE sessions (id INTEGER);", "DROP TABLE sessions;")

	out.Reset()
	require.NoError(t, cli.RunUp(ctx, TargetHead))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, cli.RunStatus(ctx))
	assert.Contains(t, out.String(), "Revisions: 2 total, 2 applied, 0 pending")

	out.Reset()
	require.NoError(t, cli.RunHistory(ctx))
	assert.Contains(t, out.String(), "create sessions")
}
