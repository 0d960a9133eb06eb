package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coresense/coredata/config"
	"github.com/coresense/coredata/internal/cache"
	"github.com/coresense/coredata/models"
	"github.com/coresense/coredata/types"
)

func newTestService(t *testing.T, withCache bool) (*Service, *HealthMonitor) {
	t.Helper()

	cfg := testDatabaseConfig(t)
	cfg.AutoMigrate = true

	monitor := NewHealthMonitor(cfg.SlowQueryThreshold, zap.NewNop(), nil)
	manager := NewManager(cfg, monitor, zap.NewNop())

	var cacheMgr *cache.Manager
	if withCache {
		mr := miniredis.RunT(t)
		cacheCfg := config.DefaultCacheConfig()
		cacheCfg.Addr = mr.Addr()
		cacheCfg.OpTimeout = 250 * time.Millisecond
		cacheMgr = cache.NewManager(cacheCfg, zap.NewNop(), nil)
	}

	svc := NewService(manager, monitor, cacheMgr, zap.NewNop())
	require.NoError(t, svc.Initialize(context.Background()))
	t.Cleanup(func() { _ = svc.Close() })

	return svc, monitor
}

func testUser(email string) *models.User {
	return &models.User{
		Email:          email,
		Username:       email[:len(email)-len("@example.com")],
		HashedPassword: "x",
		IsActive:       true,
		Role:           models.RoleFree,
		FitnessLevel:   models.LevelBeginner,
	}
}

func TestService_WithSession_Commit(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	err := svc.WithSession(ctx, func(tx *gorm.DB) error {
		return tx.Create(testUser("a@example.com")).Error
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, svc.WithSession(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.User{}).Count(&count).Error
	}))
	assert.Equal(t, int64(1), count)
}

func TestService_WithSession_RollbackOnError(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	sentinel := errors.New("business rule violated")
	err := svc.WithSession(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(testUser("b@example.com")).Error; err != nil {
			return err
		}
		return sentinel
	})

	// 回调错误原样透传
	require.ErrorIs(t, err, sentinel)

	var count int64
	require.NoError(t, svc.WithSession(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.User{}).Count(&count).Error
	}))
	assert.Equal(t, int64(0), count, "failed transaction must leave no rows")
}

func TestService_WithSession_RollbackOnPanic(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = svc.WithSession(ctx, func(tx *gorm.DB) error {
			_ = tx.Create(testUser("c@example.com")).Error
			panic("boom")
		})
	})

	// panic 后连接已归还，服务仍可用
	var count int64
	require.NoError(t, svc.WithSession(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.User{}).Count(&count).Error
	}))
	assert.Equal(t, int64(0), count)
}

func TestService_WithSessionRetry_GivesUpOnPermanentError(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	attempts := 0
	err := svc.WithSessionRetry(ctx, 3, func(tx *gorm.DB) error {
		attempts++
		return errors.New("permanent failure")
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "non-retryable errors must not be retried")
}

func TestService_CreateAndGetUser(t *testing.T) {
	svc, monitor := newTestService(t, true)
	ctx := context.Background()

	user := testUser("dana@example.com")
	require.NoError(t, svc.CreateUser(ctx, user))
	require.NotZero(t, user.ID)

	got, err := svc.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", got.Email)

	// 第二次读取命中缓存，不再产生数据库查询
	before := monitor.Snapshot().QueryCount
	got, err = svc.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "dana@example.com", got.Email)
	assert.Equal(t, before, monitor.Snapshot().QueryCount)
}

func TestService_GetUserByID_NotFound(t *testing.T) {
	svc, _ := newTestService(t, true)

	_, err := svc.GetUserByID(context.Background(), 9999)
	require.Error(t, err)
	assert.Equal(t, types.ErrRecordNotFound, types.GetErrorCode(err))
}

func TestService_DuplicateUser(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	require.NoError(t, svc.CreateUser(ctx, testUser("dup@example.com")))

	err := svc.CreateUser(ctx, testUser("dup@example.com"))
	require.Error(t, err)
	assert.Equal(t, types.ErrDuplicateRecord, types.GetErrorCode(err))
}

func TestService_UpdateUser_InvalidatesCache(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	user := testUser("erin@example.com")
	require.NoError(t, svc.CreateUser(ctx, user))

	// 先读一次，填充缓存
	_, err := svc.GetUserByID(ctx, user.ID)
	require.NoError(t, err)

	newName := "Erin"
	newLevel := models.LevelAdvanced
	updated, err := svc.UpdateUser(ctx, user.ID, models.UserUpdate{
		FirstName:    &newName,
		FitnessLevel: &newLevel,
	})
	require.NoError(t, err)
	assert.Equal(t, "Erin", updated.FirstName)

	// 写后失效，缓存读取必须拿到新值
	got, err := svc.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Erin", got.FirstName)
	assert.Equal(t, models.LevelAdvanced, got.FitnessLevel)
}

func TestService_UpdateUser_NotFound(t *testing.T) {
	svc, _ := newTestService(t, false)

	name := "ghost"
	_, err := svc.UpdateUser(context.Background(), 404, models.UserUpdate{FirstName: &name})
	require.Error(t, err)
	assert.Equal(t, types.ErrRecordNotFound, types.GetErrorCode(err))
}

func TestService_ExerciseSessions(t *testing.T) {
	svc, _ := newTestService(t, true)
	ctx := context.Background()

	user := testUser("finn@example.com")
	require.NoError(t, svc.CreateUser(ctx, user))

	now := time.Now()
	for i := 0; i < 3; i++ {
		started := now.Add(time.Duration(-i) * time.Hour)
		session := &models.ExerciseSession{
			UserID:          user.ID,
			ExerciseType:    models.ExercisePlank,
			Status:          models.StatusCompleted,
			DurationSeconds: 60 + i,
			StartedAt:       &started,
		}
		require.NoError(t, svc.CreateExerciseSession(ctx, session))
		assert.NotEmpty(t, session.SessionUUID, "uuid assigned when absent")
	}

	sessions, err := svc.ListUserSessions(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	assert.Equal(t, 60, sessions[0].DurationSeconds, "newest session first")

	// 新写入使缓存失效，再次列出包含新会话
	require.NoError(t, svc.CreateExerciseSession(ctx, &models.ExerciseSession{
		UserID:       user.ID,
		ExerciseType: models.ExerciseDeadBug,
		Status:       models.StatusCompleted,
		StartedAt:    &now,
	}))

	sessions, err = svc.ListUserSessions(ctx, user.ID, 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 4)
}

func TestService_BatchWrite(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	users := make([]models.User, 0, 250)
	for i := 0; i < 250; i++ {
		users = append(users, *testUser(fmt.Sprintf("bulk%d@example.com", i)))
	}

	require.NoError(t, svc.BatchWrite(ctx, users, 100))

	var count int64
	require.NoError(t, svc.WithSession(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.User{}).Count(&count).Error
	}))
	assert.Equal(t, int64(250), count)
}

func TestService_BatchWrite_RollsBackWhole(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	users := []models.User{
		*testUser("one@example.com"),
		*testUser("two@example.com"),
		*testUser("one@example.com"), // 与第一批冲突
	}

	err := svc.BatchWrite(ctx, users, 2)
	require.Error(t, err)

	var count int64
	require.NoError(t, svc.WithSession(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.User{}).Count(&count).Error
	}))
	assert.Equal(t, int64(0), count, "partial batches must not survive")
}

func TestService_CleanupExpiredSessions(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	user := testUser("gus@example.com")
	require.NoError(t, svc.CreateUser(ctx, user))

	now := time.Now()
	require.NoError(t, svc.WithSession(ctx, func(tx *gorm.DB) error {
		rows := []models.UserSession{
			{UserID: user.ID, Token: "expired-1", IsActive: true, ExpiresAt: now.Add(-time.Hour)},
			{UserID: user.ID, Token: "expired-2", IsActive: true, ExpiresAt: now.Add(-time.Minute)},
			{UserID: user.ID, Token: "valid", IsActive: true, ExpiresAt: now.Add(time.Hour)},
		}
		return tx.Create(&rows).Error
	}))

	affected, err := svc.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	// 幂等：再清理一次没有新的失效
	affected, err = svc.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), affected)
}

func TestService_RecordProgress(t *testing.T) {
	svc, _ := newTestService(t, false)
	ctx := context.Background()

	user := testUser("hana@example.com")
	require.NoError(t, svc.CreateUser(ctx, user))

	record := &models.ProgressRecord{
		UserID:       user.ID,
		ExerciseType: models.ExercisePlank,
		PeriodStart:  time.Now().Add(-7 * 24 * time.Hour),
		PeriodEnd:    time.Now(),
		SessionCount: 5,
		AvgStability: 0.82,
	}
	require.NoError(t, svc.RecordProgress(ctx, record))
	assert.NotZero(t, record.ID)
}

func TestService_HealthCheck(t *testing.T) {
	svc, _ := newTestService(t, true)

	report := svc.HealthCheck(context.Background())
	assert.Equal(t, HealthHealthy, report.Database.Status)
	assert.True(t, report.Cache.RemoteHealthy)
}

func TestService_CacheOutageFallsBackToDatabase(t *testing.T) {
	cfg := testDatabaseConfig(t)
	cfg.AutoMigrate = true

	monitor := NewHealthMonitor(cfg.SlowQueryThreshold, zap.NewNop(), nil)
	manager := NewManager(cfg, monitor, zap.NewNop())

	mr := miniredis.RunT(t)
	cacheCfg := config.DefaultCacheConfig()
	cacheCfg.Addr = mr.Addr()
	cacheCfg.OpTimeout = 100 * time.Millisecond
	cacheCfg.LocalSize = 4
	cacheMgr := cache.NewManager(cacheCfg, zap.NewNop(), nil)

	svc := NewService(manager, monitor, cacheMgr, zap.NewNop())
	require.NoError(t, svc.Initialize(context.Background()))
	defer svc.Close()

	ctx := context.Background()
	user := testUser("ida@example.com")
	require.NoError(t, svc.CreateUser(ctx, user))

	// 缓存整体宕机后读取仍然成功
	mr.Close()

	got, err := svc.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ida@example.com", got.Email)
}
