package migration

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/coresense/coredata/types"
)

// =============================================================================
// Database Backups
// =============================================================================

// BackupManager creates and restores file-level backups of embedded
// databases. Only single-file databases can be backed up this way;
// client-server databases rely on their own dump tooling.
type BackupManager struct {
	backupsDir string
	logger     *zap.Logger
}

// NewBackupManager creates a backup manager rooted at backupsDir
func NewBackupManager(backupsDir string, logger *zap.Logger) *BackupManager {
	return &BackupManager{
		backupsDir: backupsDir,
		logger:     logger.With(zap.String("component", "backup")),
	}
}

// Create copies the database file into the backups directory under a
// timestamped name and verifies the copy before returning its path.
// Existing backups are never overwritten.
func (b *BackupManager) Create(dbPath string) (string, error) {
	src, err := os.Open(dbPath)
	if err != nil {
		return "", types.NewError(types.ErrBackupFailed,
			fmt.Sprintf("cannot open database file %s", dbPath)).WithCause(err)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return "", types.NewError(types.ErrBackupFailed, "cannot stat database file").WithCause(err)
	}

	if err := os.MkdirAll(b.backupsDir, 0o755); err != nil {
		return "", types.NewError(types.ErrBackupFailed, "cannot create backups directory").WithCause(err)
	}

	dest, err := b.reserveBackupPath(dbPath)
	if err != nil {
		return "", err
	}

	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", types.NewError(types.ErrBackupFailed,
			fmt.Sprintf("cannot create backup file %s", dest)).WithCause(err)
	}

	written, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(dest)
		err := copyErr
		if err == nil {
			err = closeErr
		}
		return "", types.NewError(types.ErrBackupFailed, "backup copy failed").WithCause(err)
	}

	// Verify the copy is complete before declaring success
	if written != srcInfo.Size() {
		_ = os.Remove(dest)
		return "", types.NewError(types.ErrBackupFailed,
			fmt.Sprintf("backup verification failed: copied %d of %d bytes", written, srcInfo.Size()))
	}

	b.logger.Info("backup created",
		zap.String("source", dbPath),
		zap.String("backup", dest),
		zap.Int64("bytes", written))

	return dest, nil
}

// reserveBackupPath picks a timestamped, collision-free backup file name
func (b *BackupManager) reserveBackupPath(dbPath string) (string, error) {
	base := filepath.Base(dbPath)
	stamp := time.Now().Format("20060102_150405")

	for seq := 0; seq < 100; seq++ {
		name := fmt.Sprintf("%s.%s.bak", base, stamp)
		if seq > 0 {
			name = fmt.Sprintf("%s.%s_%d.bak", base, stamp, seq)
		}
		candidate := filepath.Join(b.backupsDir, name)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}

	return "", types.NewError(types.ErrBackupFailed, "could not reserve a unique backup file name")
}

// Restore copies a backup file back over the database file
func (b *BackupManager) Restore(backupPath, dbPath string) error {
	src, err := os.Open(backupPath)
	if err != nil {
		return types.NewError(types.ErrBackupFailed,
			fmt.Sprintf("cannot open backup %s", backupPath)).WithCause(err)
	}
	defer src.Close()

	out, err := os.OpenFile(dbPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return types.NewError(types.ErrBackupFailed,
			fmt.Sprintf("cannot open database file %s for restore", dbPath)).WithCause(err)
	}

	_, copyErr := io.Copy(out, src)
	closeErr := out.Close()
	if copyErr != nil {
		return types.NewError(types.ErrBackupFailed, "restore copy failed").WithCause(copyErr)
	}
	if closeErr != nil {
		return types.NewError(types.ErrBackupFailed, "restore copy failed").WithCause(closeErr)
	}

	b.logger.Info("backup restored",
		zap.String("backup", backupPath),
		zap.String("target", dbPath))

	return nil
}

// List returns the backup file names sorted by name, oldest first
func (b *BackupManager) List() ([]string, error) {
	entries, err := os.ReadDir(b.backupsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrBackupFailed, "cannot read backups directory").WithCause(err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".bak" {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}
