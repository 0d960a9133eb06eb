package migration

import (
	"fmt"

	"go.uber.org/zap"

	appconfig "github.com/coresense/coredata/config"
	"github.com/coresense/coredata/internal/metrics"
)

// NewMigratorFromConfig creates a migrator from application configuration
func NewMigratorFromConfig(cfg *appconfig.Config, logger *zap.Logger, collector *metrics.Collector) (*FileMigrator, *BackupManager, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("config is required")
	}

	return NewMigratorFromDatabaseConfig(cfg.Database, logger, collector)
}

// NewMigratorFromDatabaseConfig creates a migrator from database configuration
func NewMigratorFromDatabaseConfig(dbCfg appconfig.DatabaseConfig, logger *zap.Logger, collector *metrics.Collector) (*FileMigrator, *BackupManager, error) {
	switch dbCfg.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, nil, fmt.Errorf("unsupported database driver: %s", dbCfg.Driver)
	}

	backups := NewBackupManager(dbCfg.BackupsDir, logger)
	migrator := NewFileMigrator(dbCfg, backups, logger, collector)

	return migrator, backups, nil
}
