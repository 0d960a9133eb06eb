package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/coresense/coredata/config"
	"github.com/coresense/coredata/internal/cache"
	"github.com/coresense/coredata/models"
	"github.com/coresense/coredata/types"
)

// =============================================================================
// 🎛️ 数据访问服务
// =============================================================================

// Service 统一的数据访问门面，组合连接管理、健康监控与两级缓存。
// 缓存不可用时所有读操作自动回源数据库，缓存错误不会暴露给调用方。
type Service struct {
	manager *Manager
	monitor *HealthMonitor
	cache   *cache.Manager
	logger  *zap.Logger

	// 并发缓存未命中合并为单次回源查询
	group singleflight.Group
}

// NewService 创建数据访问服务。cache 可以为 nil，此时所有读操作直接回源。
func NewService(manager *Manager, monitor *HealthMonitor, cacheMgr *cache.Manager, logger *zap.Logger) *Service {
	return &Service{
		manager: manager,
		monitor: monitor,
		cache:   cacheMgr,
		logger:  logger.With(zap.String("component", "data_service")),
	}
}

// Initialize 初始化底层连接，并按配置自动建表
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.manager.Initialize(ctx); err != nil {
		return err
	}

	if s.manager.Config().AutoMigrate {
		db, err := s.manager.DB()
		if err != nil {
			return err
		}
		if err := db.WithContext(ctx).AutoMigrate(models.All()...); err != nil {
			return types.NewError(types.ErrApplyFailed, "auto migration failed").WithCause(err)
		}
		s.logger.Info("auto migration completed", zap.Int("models", len(models.All())))
	}

	return nil
}

// =============================================================================
// 💼 事务会话
// =============================================================================

// WithSession 在单个事务中执行 fn。fn 返回错误或 panic 时回滚，
// 否则提交。fn 的错误原样透传，panic 在回滚后继续向上抛出。
func (s *Service) WithSession(ctx context.Context, fn func(tx *gorm.DB) error) error {
	session, err := s.manager.Session(ctx)
	if err != nil {
		return err
	}

	tx := session.Begin()
	if tx.Error != nil {
		return classifyConnError(tx.Error, s.manager.Config().Driver)
	}

	committed := false
	defer func() {
		if !committed {
			// 错误或 panic 路径，连接必须归还
			tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit().Error; err != nil {
		return classifyQueryError(err)
	}
	committed = true

	return nil
}

// WithSessionRetry 带重试的事务执行，仅对可重试错误退避重试。
// maxRetries 是总尝试次数。
func (s *Service) WithSessionRetry(ctx context.Context, maxRetries int, fn func(tx *gorm.DB) error) error {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	delay := 100 * time.Millisecond

	for attempt := 1; attempt <= maxRetries; attempt++ {
		lastErr = s.WithSession(ctx, fn)
		if lastErr == nil {
			return nil
		}
		if !isRetryableError(lastErr) || attempt == maxRetries {
			return lastErr
		}

		s.logger.Warn("retrying transaction",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
		delay *= 2
	}

	return lastErr
}

// =============================================================================
// 📖 缓存读取
// =============================================================================

// CachedRead 旁路缓存读取。命中直接返回，未命中时回源查询并回填缓存，
// 并发的同键未命中合并为一次查询。缓存回填失败不影响读取结果。
func (s *Service) CachedRead(ctx context.Context, key string, ttl time.Duration, dest any, loader func(tx *gorm.DB) (any, error)) error {
	if s.cache != nil && s.cache.GetJSON(ctx, key, dest) {
		return nil
	}

	payload, err, _ := s.group.Do(key, func() (any, error) {
		var result any
		err := s.WithSession(ctx, func(tx *gorm.DB) error {
			v, err := loader(tx)
			if err != nil {
				return err
			}
			result = v
			return nil
		})
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(result)
		if err != nil {
			return nil, types.NewError(types.ErrQueryFailed, "cached read result not serializable").WithCause(err)
		}

		if s.cache != nil {
			s.cache.Set(ctx, key, string(data), ttl)
		}
		return data, nil
	})
	if err != nil {
		return err
	}

	return json.Unmarshal(payload.([]byte), dest)
}

// BatchWrite 单事务分批插入，任一批失败整体回滚
func (s *Service) BatchWrite(ctx context.Context, records any, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}

	return s.WithSession(ctx, func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(records, batchSize).Error; err != nil {
			return classifyQueryError(err)
		}
		return nil
	})
}

// =============================================================================
// 👤 用户操作
// =============================================================================

func userKey(id uint) string         { return fmt.Sprintf("user:%d", id) }
func userPrefix(id uint) string      { return fmt.Sprintf("user:%d:", id) }
func userSessionsKey(id uint) string { return fmt.Sprintf("user:%d:sessions", id) }
func userProgressKey(id uint) string { return fmt.Sprintf("user:%d:progress", id) }

// CreateUser 创建用户
func (s *Service) CreateUser(ctx context.Context, user *models.User) error {
	return s.WithSession(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return classifyQueryError(err)
		}
		return nil
	})
}

// GetUserByID 按 ID 查询用户，经过缓存
func (s *Service) GetUserByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.CachedRead(ctx, userKey(id), 0, &user, func(tx *gorm.DB) (any, error) {
		var u models.User
		if err := tx.First(&u, id).Error; err != nil {
			return nil, classifyQueryError(err)
		}
		return &u, nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser 应用部分更新并清除该用户的缓存命名空间
func (s *Service) UpdateUser(ctx context.Context, id uint, update models.UserUpdate) (*models.User, error) {
	var user models.User
	err := s.WithSession(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&user, id).Error; err != nil {
			return classifyQueryError(err)
		}
		user.ApplyUpdate(update)
		if err := tx.Save(&user).Error; err != nil {
			return classifyQueryError(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// 写后失效，避免后续缓存读取拿到旧值
	if s.cache != nil {
		s.cache.Delete(ctx, userKey(id))
		s.cache.InvalidatePrefix(ctx, userPrefix(id))
	}

	return &user, nil
}

// =============================================================================
// 🏃 训练会话与进度操作
// =============================================================================

// CreateExerciseSession 记录一次训练会话，未提供 UUID 时自动生成
func (s *Service) CreateExerciseSession(ctx context.Context, session *models.ExerciseSession) error {
	if session.SessionUUID == "" {
		session.SessionUUID = uuid.NewString()
	}

	err := s.WithSession(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(session).Error; err != nil {
			return classifyQueryError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.InvalidatePrefix(ctx, userSessionsKey(session.UserID)+":")
	}
	return nil
}

// ListUserSessions 查询用户最近的训练会话，经过缓存
func (s *Service) ListUserSessions(ctx context.Context, userID uint, limit int) ([]models.ExerciseSession, error) {
	if limit <= 0 {
		limit = 20
	}

	var sessions []models.ExerciseSession
	key := fmt.Sprintf("%s:%d", userSessionsKey(userID), limit)
	err := s.CachedRead(ctx, key, time.Minute, &sessions, func(tx *gorm.DB) (any, error) {
		var out []models.ExerciseSession
		err := tx.Where("user_id = ?", userID).
			Order("started_at DESC").
			Limit(limit).
			Find(&out).Error
		if err != nil {
			return nil, classifyQueryError(err)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// RecordProgress 记录一条进度数据
func (s *Service) RecordProgress(ctx context.Context, record *models.ProgressRecord) error {
	err := s.WithSession(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(record).Error; err != nil {
			return classifyQueryError(err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if s.cache != nil {
		s.cache.Delete(ctx, userProgressKey(record.UserID))
	}
	return nil
}

// CleanupExpiredSessions 批量失效过期的登录会话，返回失效条数
func (s *Service) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	var affected int64
	err := s.WithSession(ctx, func(tx *gorm.DB) error {
		result := tx.Model(&models.UserSession{}).
			Where("is_active = ? AND expires_at < ?", true, time.Now()).
			Update("is_active", false)
		if result.Error != nil {
			return classifyQueryError(result.Error)
		}
		affected = result.RowsAffected
		return nil
	})
	return affected, err
}

// =============================================================================
// 🏥 健康与生命周期
// =============================================================================

// HealthReport 服务整体健康报告
type HealthReport struct {
	Database Snapshot `json:"database"`
	Cache    struct {
		RemoteHealthy bool `json:"remote_healthy"`
	} `json:"cache"`
}

// HealthCheck 执行主动健康检查并汇总缓存状态
func (s *Service) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{Database: s.monitor.CheckHealth(ctx)}
	if s.cache != nil {
		report.Cache.RemoteHealthy = s.cache.RemoteHealthy()
	}
	return report
}

// Config 返回底层数据库配置
func (s *Service) Config() config.DatabaseConfig {
	return s.manager.Config()
}

// Close 依次关闭缓存与数据库连接
func (s *Service) Close() error {
	var firstErr error
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.manager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
