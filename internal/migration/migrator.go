package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	mmysql "github.com/golang-migrate/migrate/v4/database/mysql"
	mpostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	msqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/coresense/coredata/config"
	"github.com/coresense/coredata/internal/metrics"
	"github.com/coresense/coredata/types"
)

// =============================================================================
// Types and Interfaces
// =============================================================================

// State describes the migrator lifecycle
type State string

const (
	StateUninitialized State = "uninitialized"
	StateInitialized   State = "initialized"
	StateUpToDate      State = "up_to_date"
	StatePending       State = "pending"
	StateApplying      State = "applying"
	StateRollingBack   State = "rolling_back"
)

// TargetHead upgrades to the newest available revision
const TargetHead uint = 0

const lockFileName = ".migrate.lock"

// Record describes one revision in the linear migration chain
type Record struct {
	Version     uint
	Parent      uint // 0 for the root revision
	Description string
	CreatedAt   time.Time
	Applied     bool
	Dirty       bool
}

// Info summarizes the current schema state
type Info struct {
	CurrentVersion uint
	Dirty          bool
	Total          int
	Applied        int
	Pending        int
	Tables         []string
}

// Migrator defines versioned schema migration operations
type Migrator interface {
	// Init prepares the migrations and backups directories.
	// Calling Init on an initialized migrator is a no-op.
	Init() error

	// Generate creates an empty up/down revision pair at the head of the
	// chain and returns the new version number.
	Generate(description string) (uint, error)

	// Up applies pending revisions through target, TargetHead for all
	Up(ctx context.Context, target uint) error

	// Down rolls back applied revisions to target, 0 for the root
	Down(ctx context.Context, target uint) error

	// Version returns the current version and whether the schema is dirty
	Version(ctx context.Context) (uint, bool, error)

	// History returns all known revisions with their applied state
	History(ctx context.Context) ([]Record, error)

	// Info returns a summary of the current schema state
	Info(ctx context.Context) (*Info, error)

	// State returns the current lifecycle state
	State() State

	// Close releases the database connection
	Close() error
}

// =============================================================================
// File Migrator Implementation
// =============================================================================

// FileMigrator implements Migrator over on-disk revision files using
// golang-migrate. Revisions are generated at runtime, so the source is
// re-read from the migrations directory on every engine operation.
type FileMigrator struct {
	cfg       config.DatabaseConfig
	backups   *BackupManager
	logger    *zap.Logger
	collector *metrics.Collector

	mu    sync.Mutex
	db    *sql.DB
	state State
}

// NewFileMigrator creates a migrator for the configured database.
// backups and collector may be nil.
func NewFileMigrator(cfg config.DatabaseConfig, backups *BackupManager, logger *zap.Logger, collector *metrics.Collector) *FileMigrator {
	return &FileMigrator{
		cfg:       cfg,
		backups:   backups,
		logger:    logger.With(zap.String("component", "migration")),
		collector: collector,
		state:     StateUninitialized,
	}
}

// Init prepares the migrations and backups directories
func (m *FileMigrator) Init() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateUninitialized {
		return nil
	}

	if err := os.MkdirAll(m.cfg.MigrationsDir, 0o755); err != nil {
		return types.NewError(types.ErrApplyFailed, "cannot create migrations directory").WithCause(err)
	}
	if err := os.MkdirAll(m.cfg.BackupsDir, 0o755); err != nil {
		return types.NewError(types.ErrApplyFailed, "cannot create backups directory").WithCause(err)
	}

	m.state = StateInitialized
	m.logger.Info("migration environment initialized",
		zap.String("migrations_dir", m.cfg.MigrationsDir),
		zap.String("backups_dir", m.cfg.BackupsDir))

	return nil
}

// Generate creates a new empty revision pair at the head of the chain
func (m *FileMigrator) Generate(description string) (uint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureInitialized(); err != nil {
		return 0, err
	}

	revisions, err := m.available()
	if err != nil {
		return 0, err
	}

	next := uint(1)
	if n := len(revisions); n > 0 {
		next = revisions[n-1].Version + 1
	}

	slug := slugify(description)
	upPath := filepath.Join(m.cfg.MigrationsDir, fmt.Sprintf("%06d_%s.up.sql", next, slug))
	downPath := filepath.Join(m.cfg.MigrationsDir, fmt.Sprintf("%06d_%s.down.sql", next, slug))

	header := fmt.Sprintf("-- %s\n-- revision %d\n\n", description, next)
	if err := os.WriteFile(upPath, []byte(header), 0o644); err != nil {
		return 0, types.NewError(types.ErrApplyFailed, "cannot write up revision").WithCause(err)
	}
	if err := os.WriteFile(downPath, []byte(header), 0o644); err != nil {
		_ = os.Remove(upPath)
		return 0, types.NewError(types.ErrApplyFailed, "cannot write down revision").WithCause(err)
	}

	m.logger.Info("revision generated",
		zap.Uint("version", next),
		zap.String("description", description))

	return next, nil
}

// =============================================================================
// Upgrade / Downgrade
// =============================================================================

// Up applies pending revisions through target.
// When backups are enabled, a verified backup must exist before any
// statement runs; a failed backup aborts the upgrade.
func (m *FileMigrator) Up(ctx context.Context, target uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureInitialized(); err != nil {
		return err
	}

	unlock, err := m.acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	revisions, err := m.available()
	if err != nil {
		return err
	}
	if len(revisions) == 0 {
		m.logger.Info("no revisions available, nothing to apply")
		return nil
	}

	expected := target
	if target == TargetHead {
		expected = revisions[len(revisions)-1].Version
	}

	if m.cfg.BackupBeforeMigrate {
		if err := m.backupBeforeChange("upgrade"); err != nil {
			return err
		}
	}

	m.state = StateApplying
	err = m.runEngine(ctx, "up", func(engine *migrate.Migrate) error {
		if target == TargetHead {
			return engine.Up()
		}
		return engine.Migrate(target)
	})
	if m.collector != nil {
		m.collector.RecordMigration("up", err)
	}
	if err != nil {
		m.state = StatePending
		return err
	}

	if err := m.verifyVersion(expected); err != nil {
		m.state = StatePending
		return err
	}

	m.state = StateUpToDate
	m.logger.Info("upgrade complete", zap.Uint("version", expected))
	return nil
}

// Down rolls back applied revisions to target, 0 for the root.
// A fresh verified backup is always taken first for embedded databases,
// even when one was just created by an upgrade.
func (m *FileMigrator) Down(ctx context.Context, target uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureInitialized(); err != nil {
		return err
	}

	unlock, err := m.acquireLock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := m.backupBeforeChange("downgrade"); err != nil {
		return err
	}

	m.state = StateRollingBack
	err = m.runEngine(ctx, "down", func(engine *migrate.Migrate) error {
		if target == 0 {
			return engine.Down()
		}
		return engine.Migrate(target)
	})
	if m.collector != nil {
		m.collector.RecordMigration("down", err)
	}
	if err != nil {
		m.state = StatePending
		return err
	}

	if err := m.verifyVersion(target); err != nil {
		m.state = StatePending
		return err
	}

	m.state = StatePending
	m.logger.Info("downgrade complete", zap.Uint("version", target))
	return nil
}

// backupBeforeChange creates a verified backup before touching the schema.
// Backup failure aborts the migration. Client-server databases are not
// file-backed, so they are skipped with a warning.
func (m *FileMigrator) backupBeforeChange(operation string) error {
	if !m.cfg.IsEmbedded() {
		m.logger.Warn("file backup not supported for this driver, proceeding without backup",
			zap.String("driver", m.cfg.Driver),
			zap.String("operation", operation))
		return nil
	}
	if m.backups == nil {
		return types.NewError(types.ErrBackupFailed, "backups required but no backup manager configured")
	}

	dbPath := m.cfg.Name
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		// Nothing to back up yet, first upgrade against a fresh database
		m.logger.Info("database file does not exist yet, skipping backup",
			zap.String("path", dbPath))
		return nil
	}

	backupPath, err := m.backups.Create(dbPath)
	if err != nil {
		return err
	}

	m.logger.Info("pre-migration backup ready",
		zap.String("operation", operation),
		zap.String("backup", backupPath))
	return nil
}

// =============================================================================
// Inspection
// =============================================================================

// Version returns the current version and whether the schema is dirty
func (m *FileMigrator) Version(ctx context.Context) (uint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.version(ctx)
}

func (m *FileMigrator) version(ctx context.Context) (uint, bool, error) {
	var version uint
	var dirty bool

	err := m.runEngine(ctx, "version", func(engine *migrate.Migrate) error {
		v, d, err := engine.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return nil
		}
		if err != nil {
			return err
		}
		version, dirty = v, d
		return nil
	})
	if err != nil {
		return 0, false, err
	}
	return version, dirty, nil
}

// History returns all known revisions with their applied state
func (m *FileMigrator) History(ctx context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history(ctx)
}

func (m *FileMigrator) history(ctx context.Context) ([]Record, error) {
	revisions, err := m.available()
	if err != nil {
		return nil, err
	}

	current, dirty := uint(0), false
	if len(revisions) > 0 {
		current, dirty, err = m.version(ctx)
		if err != nil {
			return nil, err
		}
	}

	records := make([]Record, 0, len(revisions))
	parent := uint(0)
	for _, rev := range revisions {
		rev.Parent = parent
		rev.Applied = rev.Version <= current
		rev.Dirty = dirty && rev.Version == current
		records = append(records, rev)
		parent = rev.Version
	}

	return records, nil
}

// Info returns a summary of the current schema state
func (m *FileMigrator) Info(ctx context.Context) (*Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.history(ctx)
	if err != nil {
		return nil, err
	}

	info := &Info{Total: len(records)}
	for _, rec := range records {
		if rec.Applied {
			info.Applied++
			info.CurrentVersion = rec.Version
		}
		if rec.Dirty {
			info.Dirty = true
		}
	}
	info.Pending = info.Total - info.Applied

	tables, err := m.listTables(ctx)
	if err != nil {
		return nil, err
	}
	info.Tables = tables

	return info, nil
}

// State returns the current lifecycle state
func (m *FileMigrator) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Close releases the database connection
func (m *FileMigrator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}

// =============================================================================
// Engine Plumbing
// =============================================================================

// runEngine builds a fresh migrate instance over the current revision
// files, runs op against it, and maps engine failures to typed errors.
// ErrNoChange is not a failure.
func (m *FileMigrator) runEngine(ctx context.Context, name string, op func(*migrate.Migrate) error) error {
	db, err := m.openDatabase(ctx)
	if err != nil {
		return err
	}

	dbDriver, err := m.databaseDriver(db)
	if err != nil {
		return types.NewError(types.ErrApplyFailed, "cannot create migration driver").WithCause(err)
	}

	sourceDriver, err := iofs.New(os.DirFS(m.cfg.MigrationsDir), ".")
	if err != nil {
		return types.NewError(types.ErrApplyFailed, "cannot read migrations directory").WithCause(err)
	}

	engine, err := migrate.NewWithInstance("iofs", sourceDriver, m.cfg.Driver, dbDriver)
	if err != nil {
		return types.NewError(types.ErrApplyFailed, "cannot create migration engine").WithCause(err)
	}

	if err := op(engine); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return types.NewError(types.ErrApplyFailed,
			fmt.Sprintf("migration %s failed", name)).WithCause(err)
	}
	return nil
}

// verifyVersion confirms the schema landed on the expected version
func (m *FileMigrator) verifyVersion(expected uint) error {
	actual, dirty, err := m.version(context.Background())
	if err != nil {
		return err
	}
	if dirty {
		return types.NewError(types.ErrApplyFailed,
			fmt.Sprintf("schema is dirty at version %d, manual repair required", actual))
	}
	if actual != expected {
		return types.NewError(types.ErrVerificationMismatch,
			fmt.Sprintf("schema version is %d after migration, expected %d", actual, expected))
	}
	return nil
}

// openDatabase opens (once) the connection used for migrations
func (m *FileMigrator) openDatabase(ctx context.Context) (*sql.DB, error) {
	if m.db != nil {
		return m.db, nil
	}

	var driverName string
	switch m.cfg.Driver {
	case "sqlite":
		driverName = "sqlite3"
	case "postgres":
		driverName = "postgres"
	case "mysql":
		driverName = "mysql"
	default:
		return nil, types.NewError(types.ErrApplyFailed,
			fmt.Sprintf("unsupported database driver: %s", m.cfg.Driver))
	}

	db, err := sql.Open(driverName, m.cfg.DSN())
	if err != nil {
		return nil, types.NewError(types.ErrUnreachable, "cannot open database for migration").WithCause(err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, types.NewError(types.ErrUnreachable, "cannot reach database for migration").
			WithCause(err).WithRetryable(true)
	}

	m.db = db
	return db, nil
}

func (m *FileMigrator) databaseDriver(db *sql.DB) (database.Driver, error) {
	switch m.cfg.Driver {
	case "sqlite":
		return msqlite3.WithInstance(db, &msqlite3.Config{})
	case "postgres":
		return mpostgres.WithInstance(db, &mpostgres.Config{})
	case "mysql":
		return mmysql.WithInstance(db, &mmysql.Config{})
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", m.cfg.Driver)
	}
}

// listTables enumerates user tables for the status report
func (m *FileMigrator) listTables(ctx context.Context) ([]string, error) {
	db, err := m.openDatabase(ctx)
	if err != nil {
		return nil, err
	}

	var query string
	switch m.cfg.Driver {
	case "sqlite":
		query = "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	case "postgres":
		query = "SELECT tablename FROM pg_tables WHERE schemaname = 'public' ORDER BY tablename"
	case "mysql":
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() ORDER BY table_name"
	default:
		return nil, nil
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, types.NewError(types.ErrQueryFailed, "cannot list tables").WithCause(err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, types.NewError(types.ErrQueryFailed, "cannot scan table name").WithCause(err)
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

// =============================================================================
// Locking and Revision Files
// =============================================================================

// acquireLock takes the advisory lock guarding concurrent migrations.
// The lock is a file created exclusively in the migrations directory,
// so it also covers separate processes sharing the directory.
func (m *FileMigrator) acquireLock() (func(), error) {
	lockPath := filepath.Join(m.cfg.MigrationsDir, lockFileName)

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, types.NewError(types.ErrMigrationLocked,
				"another migration is in progress, remove the lock file if it is stale: "+lockPath)
		}
		return nil, types.NewError(types.ErrApplyFailed, "cannot acquire migration lock").WithCause(err)
	}

	fmt.Fprintf(f, "pid=%d\n", os.Getpid())
	_ = f.Close()

	return func() { _ = os.Remove(lockPath) }, nil
}

func (m *FileMigrator) ensureInitialized() error {
	if m.state == StateUninitialized {
		return types.NewError(types.ErrNotInitialized, "migrator not initialized, run init first")
	}
	return nil
}

var revisionFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.up\.sql$`)

// available reads the revision chain from disk, sorted by version
func (m *FileMigrator) available() ([]Record, error) {
	entries, err := os.ReadDir(m.cfg.MigrationsDir)
	if err != nil {
		return nil, types.NewError(types.ErrApplyFailed, "cannot read migrations directory").WithCause(err)
	}

	var records []Record
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := revisionFilePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}

		version, err := strconv.ParseUint(match[1], 10, 32)
		if err != nil {
			continue
		}

		rec := Record{
			Version:     uint(version),
			Description: strings.ReplaceAll(match[2], "_", " "),
		}
		if info, err := entry.Info(); err == nil {
			rec.CreatedAt = info.ModTime()
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Version < records[j].Version })
	return records, nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns a human description into a file-name-safe slug
func slugify(description string) string {
	slug := slugPattern.ReplaceAllString(strings.ToLower(description), "_")
	slug = strings.Trim(slug, "_")
	if slug == "" {
		slug = "revision"
	}
	return slug
}
