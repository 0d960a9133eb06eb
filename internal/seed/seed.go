// Package seed generates sample fitness data for development databases.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/coresense/coredata/internal/database"
	"github.com/coresense/coredata/models"
)

// Generator produces deterministic sample data from a fixed seed so
// repeated runs against a fresh database yield the same rows.
type Generator struct {
	rng    *rand.Rand
	logger *zap.Logger
}

// NewGenerator creates a generator with the given random seed
func NewGenerator(seed int64, logger *zap.Logger) *Generator {
	return &Generator{
		rng:    rand.New(rand.NewSource(seed)),
		logger: logger.With(zap.String("component", "seed")),
	}
}

var (
	firstNames = []string{"Alex", "Bella", "Chris", "Dana", "Eli", "Fay", "Gus", "Hana"}
	lastNames  = []string{"Smith", "Ito", "Garcia", "Khan", "Novak", "Lee", "Okafor", "Weber"}
	levels     = []models.FitnessLevel{
		models.LevelBeginner, models.LevelIntermediate, models.LevelAdvanced, models.LevelExpert,
	}
	exercises = []models.ExerciseType{
		models.ExercisePlank, models.ExerciseSidePlank, models.ExerciseDeadBug,
		models.ExerciseBirdDog, models.ExerciseGluteBridge, models.ExerciseWallSit,
	}
)

// Users generates n sample users with unique emails
func (g *Generator) Users(n int) []models.User {
	users := make([]models.User, 0, n)
	for i := 0; i < n; i++ {
		first := firstNames[g.rng.Intn(len(firstNames))]
		last := lastNames[g.rng.Intn(len(lastNames))]

		users = append(users, models.User{
			Email:          fmt.Sprintf("%s.%s.%d@example.com", first, last, i),
			Username:       fmt.Sprintf("%s%d", first, i),
			HashedPassword: "$2a$10$seeddata",
			IsActive:       true,
			IsVerified:     g.rng.Intn(4) > 0,
			Role:           models.RoleFree,
			FirstName:      first,
			LastName:       last,
			HeightCm:       150 + g.rng.Intn(50),
			WeightKg:       50 + g.rng.Float64()*50,
			FitnessLevel:   levels[g.rng.Intn(len(levels))],
			TrainingGoals: models.TrainingGoals{
				Primary:               "core_strength",
				Secondary:             []string{"posture"},
				TargetSessionsPerWeek: 2 + g.rng.Intn(4),
			},
		})
	}
	return users
}

// Sessions generates completed exercise sessions spread over the past weeks
func (g *Generator) Sessions(userIDs []uint, perUser int) []models.ExerciseSession {
	sessions := make([]models.ExerciseSession, 0, len(userIDs)*perUser)
	now := time.Now()

	for _, userID := range userIDs {
		for i := 0; i < perUser; i++ {
			started := now.Add(-time.Duration(g.rng.Intn(21*24)) * time.Hour)
			duration := 30 + g.rng.Intn(240)
			completed := started.Add(time.Duration(duration) * time.Second)

			sessions = append(sessions, models.ExerciseSession{
				SessionUUID:     uuid.NewString(),
				UserID:          userID,
				ExerciseType:    exercises[g.rng.Intn(len(exercises))],
				Status:          models.StatusCompleted,
				DurationSeconds: duration,
				StabilityScore:  0.5 + g.rng.Float64()*0.5,
				FormScore:       0.5 + g.rng.Float64()*0.5,
				CaloriesBurned:  float64(duration) * 0.12,
				StartedAt:       &started,
				CompletedAt:     &completed,
			})
		}
	}
	return sessions
}

// Progress generates one weekly progress summary per user
func (g *Generator) Progress(userIDs []uint) []models.ProgressRecord {
	records := make([]models.ProgressRecord, 0, len(userIDs))
	weekStart := time.Now().AddDate(0, 0, -7)

	for _, userID := range userIDs {
		avg := 0.5 + g.rng.Float64()*0.4
		records = append(records, models.ProgressRecord{
			UserID:           userID,
			ExerciseType:     exercises[g.rng.Intn(len(exercises))],
			PeriodStart:      weekStart,
			PeriodEnd:        weekStart.AddDate(0, 0, 7),
			SessionCount:     1 + g.rng.Intn(6),
			TotalDurationSec: 300 + g.rng.Intn(3600),
			AvgStability:     avg,
			BestStability:    avg + (1-avg)*g.rng.Float64(),
		})
	}
	return records
}

// Populate inserts sample users and their sessions through the data service
func (g *Generator) Populate(ctx context.Context, svc *database.Service, userCount, sessionsPerUser int) error {
	users := g.Users(userCount)
	if err := svc.BatchWrite(ctx, users, 100); err != nil {
		return err
	}

	userIDs := make([]uint, 0, len(users))
	err := svc.WithSession(ctx, func(tx *gorm.DB) error {
		return tx.Model(&models.User{}).Order("id").Pluck("id", &userIDs).Error
	})
	if err != nil {
		return err
	}

	sessions := g.Sessions(userIDs, sessionsPerUser)
	if err := svc.BatchWrite(ctx, sessions, 100); err != nil {
		return err
	}

	progress := g.Progress(userIDs)
	if err := svc.BatchWrite(ctx, progress, 100); err != nil {
		return err
	}

	g.logger.Info("sample data populated",
		zap.Int("users", len(users)),
		zap.Int("sessions", len(sessions)),
		zap.Int("progress_records", len(progress)))

	return nil
}

// Clear removes all rows in reverse dependency order
func Clear(ctx context.Context, svc *database.Service) error {
	tables := []any{
		&models.ProgressRecord{},
		&models.ExerciseSession{},
		&models.UserSession{},
		&models.User{},
	}

	return svc.WithSession(ctx, func(tx *gorm.DB) error {
		for _, table := range tables {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(table).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
