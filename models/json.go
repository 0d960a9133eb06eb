package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// TrainingGoals is the structured goals blob stored as a JSON column.
type TrainingGoals struct {
	Primary               string   `json:"primary"`
	Secondary             []string `json:"secondary,omitempty"`
	TargetSessionsPerWeek int      `json:"target_sessions_per_week"`
}

// NotificationPreferences controls outbound notifications.
type NotificationPreferences struct {
	WorkoutReminders         bool   `json:"workout_reminders"`
	ProgressUpdates          bool   `json:"progress_updates"`
	AchievementNotifications bool   `json:"achievement_notifications"`
	EmailFrequency           string `json:"email_frequency,omitempty"`
}

// CoachingPreferences controls coaching feedback style.
type CoachingPreferences struct {
	FeedbackStyle         string `json:"feedback_style,omitempty"`
	CorrectionFrequency   string `json:"correction_frequency,omitempty"`
	DifficultyProgression string `json:"difficulty_progression,omitempty"`
}

func jsonValue(v any) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func jsonScan(dest any, src any) error {
	switch s := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(s) == 0 {
			return nil
		}
		return json.Unmarshal(s, dest)
	case string:
		if s == "" {
			return nil
		}
		return json.Unmarshal([]byte(s), dest)
	default:
		return fmt.Errorf("unsupported JSON column source type %T", src)
	}
}

// Value implements driver.Valuer.
func (g TrainingGoals) Value() (driver.Value, error) { return jsonValue(g) }

// Scan implements sql.Scanner.
func (g *TrainingGoals) Scan(src any) error { return jsonScan(g, src) }

// Value implements driver.Valuer.
func (p NotificationPreferences) Value() (driver.Value, error) { return jsonValue(p) }

// Scan implements sql.Scanner.
func (p *NotificationPreferences) Scan(src any) error { return jsonScan(p, src) }

// Value implements driver.Valuer.
func (p CoachingPreferences) Value() (driver.Value, error) { return jsonValue(p) }

// Scan implements sql.Scanner.
func (p *CoachingPreferences) Scan(src any) error { return jsonScan(p, src) }
