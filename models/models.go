// Package models defines the persistent records of the CoreSense data layer.
//
// Records are explicit tagged structs with declared fields; partial updates
// go through typed update structs and ApplyUpdate rather than blind map
// overlays. Preference blobs are typed sub-structs stored as JSON columns.
package models

import (
	"time"
)

// UserRole controls role-based access.
type UserRole string

const (
	RoleFree    UserRole = "free"
	RolePremium UserRole = "premium"
	RoleAdmin   UserRole = "admin"
)

// Valid reports whether the role is a known value.
func (r UserRole) Valid() bool {
	switch r {
	case RoleFree, RolePremium, RoleAdmin:
		return true
	}
	return false
}

// FitnessLevel is the user's self-reported training level.
type FitnessLevel string

const (
	LevelBeginner     FitnessLevel = "beginner"
	LevelIntermediate FitnessLevel = "intermediate"
	LevelAdvanced     FitnessLevel = "advanced"
	LevelExpert       FitnessLevel = "expert"
)

// Valid reports whether the level is a known value.
func (l FitnessLevel) Valid() bool {
	switch l {
	case LevelBeginner, LevelIntermediate, LevelAdvanced, LevelExpert:
		return true
	}
	return false
}

// ExerciseType identifies the tracked exercise.
type ExerciseType string

const (
	ExercisePlank       ExerciseType = "plank"
	ExerciseSidePlank   ExerciseType = "side_plank"
	ExerciseDeadBug     ExerciseType = "dead_bug"
	ExerciseBirdDog     ExerciseType = "bird_dog"
	ExerciseGluteBridge ExerciseType = "glute_bridge"
	ExerciseWallSit     ExerciseType = "wall_sit"
	ExerciseCustom      ExerciseType = "custom"
)

// Valid reports whether the exercise type is a known value.
func (e ExerciseType) Valid() bool {
	switch e {
	case ExercisePlank, ExerciseSidePlank, ExerciseDeadBug, ExerciseBirdDog,
		ExerciseGluteBridge, ExerciseWallSit, ExerciseCustom:
		return true
	}
	return false
}

// SessionStatus tracks an exercise session's lifecycle.
type SessionStatus string

const (
	StatusPlanned    SessionStatus = "planned"
	StatusInProgress SessionStatus = "in_progress"
	StatusCompleted  SessionStatus = "completed"
	StatusCancelled  SessionStatus = "cancelled"
	StatusFailed     SessionStatus = "failed"
)

// Valid reports whether the status is a known value.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusCompleted, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// User is an account with a fitness profile.
type User struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	Email    string `gorm:"size:255;uniqueIndex;not null" json:"email"`
	Username string `gorm:"size:50;uniqueIndex;not null" json:"username"`

	HashedPassword string `gorm:"size:255;not null" json:"-"`
	IsActive       bool   `gorm:"default:true" json:"is_active"`
	IsVerified     bool   `gorm:"default:false" json:"is_verified"`

	Role UserRole `gorm:"size:20;default:free" json:"role"`

	FirstName string  `gorm:"size:100" json:"first_name"`
	LastName  string  `gorm:"size:100" json:"last_name"`
	HeightCm  int     `json:"height_cm"`
	WeightKg  float64 `json:"weight_kg"`

	FitnessLevel             FitnessLevel  `gorm:"size:20;default:beginner" json:"fitness_level"`
	TrainingGoals            TrainingGoals `gorm:"type:text" json:"training_goals"`
	PreferredSessionDuration int           `gorm:"default:30" json:"preferred_session_duration"`
	WeeklyTrainingFrequency  int           `gorm:"default:3" json:"weekly_training_frequency"`

	NotificationPreferences NotificationPreferences `gorm:"type:text" json:"notification_preferences"`
	CoachingPreferences     CoachingPreferences     `gorm:"type:text" json:"coaching_preferences"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

// UserUpdate carries a partial user update. Nil fields are left untouched.
type UserUpdate struct {
	Email                    *string
	FirstName                *string
	LastName                 *string
	HeightCm                 *int
	WeightKg                 *float64
	Role                     *UserRole
	FitnessLevel             *FitnessLevel
	TrainingGoals            *TrainingGoals
	PreferredSessionDuration *int
	WeeklyTrainingFrequency  *int
	NotificationPreferences  *NotificationPreferences
	CoachingPreferences      *CoachingPreferences
	IsActive                 *bool
}

// ApplyUpdate merges the set fields of u into the user, field by field.
func (usr *User) ApplyUpdate(u UserUpdate) {
	if u.Email != nil {
		usr.Email = *u.Email
	}
	if u.FirstName != nil {
		usr.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		usr.LastName = *u.LastName
	}
	if u.HeightCm != nil {
		usr.HeightCm = *u.HeightCm
	}
	if u.WeightKg != nil {
		usr.WeightKg = *u.WeightKg
	}
	if u.Role != nil {
		usr.Role = *u.Role
	}
	if u.FitnessLevel != nil {
		usr.FitnessLevel = *u.FitnessLevel
	}
	if u.TrainingGoals != nil {
		usr.TrainingGoals = *u.TrainingGoals
	}
	if u.PreferredSessionDuration != nil {
		usr.PreferredSessionDuration = *u.PreferredSessionDuration
	}
	if u.WeeklyTrainingFrequency != nil {
		usr.WeeklyTrainingFrequency = *u.WeeklyTrainingFrequency
	}
	if u.NotificationPreferences != nil {
		usr.NotificationPreferences = *u.NotificationPreferences
	}
	if u.CoachingPreferences != nil {
		usr.CoachingPreferences = *u.CoachingPreferences
	}
	if u.IsActive != nil {
		usr.IsActive = *u.IsActive
	}
}

// UserSession is an authenticated login session with an expiry.
type UserSession struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Token     string    `gorm:"size:255;uniqueIndex;not null" json:"-"`
	IsActive  bool      `gorm:"default:true;index" json:"is_active"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ExerciseSession is one tracked workout.
type ExerciseSession struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	SessionUUID string `gorm:"size:36;uniqueIndex;not null" json:"session_uuid"`
	UserID      uint   `gorm:"index;not null" json:"user_id"`

	ExerciseType ExerciseType  `gorm:"size:20;index;not null" json:"exercise_type"`
	Status       SessionStatus `gorm:"size:20;default:planned" json:"status"`

	DurationSeconds int     `json:"duration_seconds"`
	StabilityScore  float64 `json:"stability_score"`
	FormScore       float64 `json:"form_score"`
	CaloriesBurned  float64 `json:"calories_burned"`

	StartedAt   *time.Time `gorm:"index" json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ProgressRecord is a periodic aggregate of a user's performance.
type ProgressRecord struct {
	ID     uint `gorm:"primaryKey" json:"id"`
	UserID uint `gorm:"index;not null" json:"user_id"`

	ExerciseType     ExerciseType `gorm:"size:20;index" json:"exercise_type"`
	PeriodStart      time.Time    `gorm:"index" json:"period_start"`
	PeriodEnd        time.Time    `json:"period_end"`
	SessionCount     int          `json:"session_count"`
	TotalDurationSec int          `json:"total_duration_sec"`
	AvgStability     float64      `json:"avg_stability"`
	BestStability    float64      `json:"best_stability"`

	CreatedAt time.Time `json:"created_at"`
}

// All returns the full model set for schema auto-migration.
func All() []any {
	return []any{
		&User{},
		&UserSession{},
		&ExerciseSession{},
		&ProgressRecord{},
	}
}
