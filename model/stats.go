package model

import (
	"encoding/json"
	"time"
)

// UserStats holds the gamified progress for one user. Mutated only by the
// stats pipeline, exactly once per session record. Record-shaped synced
// entity (last-writer-wins).
type UserStats struct {
	UserID                   string          `json:"user_id" gorm:"primaryKey;type:text;not null"`
	TotalXP                  int             `json:"total_xp" gorm:"default:0;not null"`
	Level                    int             `json:"level" gorm:"default:1;not null"`
	CurrentStreakDays        int             `json:"current_streak_days" gorm:"default:0;not null"`
	LongestStreakDays        int             `json:"longest_streak_days" gorm:"default:0;not null"`
	LastQualifyingDate       *time.Time      `json:"last_qualifying_date,omitempty"`
	StreakFreezesAvailable   int             `json:"streak_freezes_available" gorm:"default:0;not null"`
	LastFreezeReplenishMonth string          `json:"last_freeze_replenish_month,omitempty" gorm:"size:7"` // YYYY-MM
	TotalSessions            int             `json:"total_sessions" gorm:"default:0;not null"`
	TotalCompletedSessions   int             `json:"total_completed_sessions" gorm:"default:0;not null"`
	TotalHardModeSessions    int             `json:"total_hard_mode_sessions" gorm:"default:0;not null"`
	TotalFocusSeconds        int             `json:"total_focus_seconds" gorm:"default:0;not null"`
	EarlyBirdSessions        int             `json:"early_bird_sessions" gorm:"default:0;not null"`
	NightOwlSessions         int             `json:"night_owl_sessions" gorm:"default:0;not null"`
	UnlockedAchievementIDs   json.RawMessage `json:"unlocked_achievement_ids" gorm:"type:text"`
	DoubleXPPending          bool            `json:"double_xp_pending" gorm:"default:false;not null"`
	UnlockedThemes           json.RawMessage `json:"unlocked_themes" gorm:"type:text"`
	UpdatedAt                time.Time       `json:"updated_at" gorm:"not null"`
}

// LevelForXP follows the product curve: a level per 1000 XP, starting at 1.
func LevelForXP(totalXP int) int {
	return totalXP/1000 + 1
}

// ProcessedSession is the idempotency ledger for the stats pipeline. One row
// per session record ever processed, storing the computed delta so replays
// return the original result.
type ProcessedSession struct {
	SessionID   string          `json:"session_id" gorm:"primaryKey;type:text;not null"`
	UserID      string          `json:"user_id" gorm:"not null;index"`
	Delta       json.RawMessage `json:"delta" gorm:"type:text"`
	ProcessedAt time.Time       `json:"processed_at" gorm:"not null"`
}

// Achievement is a static definition seeded at install time. Unlock state
// lives in UserStats so it syncs with the rest of the user's progress.
type Achievement struct {
	ID          string `json:"id" gorm:"primaryKey;type:text;not null"`
	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description" gorm:"type:text"`
	Category    string `json:"category" gorm:"size:50"`
	BadgeKey    string `json:"badge_key" gorm:"size:100"`
	XPReward    int    `json:"xp_reward" gorm:"default:0;not null"`

	// Predicate inputs. A zero threshold means the dimension does not apply.
	MinSessions         int `json:"min_sessions" gorm:"default:0"`
	MinStreakDays       int `json:"min_streak_days" gorm:"default:0"`
	MinFocusHours       int `json:"min_focus_hours" gorm:"default:0"`
	MinHardModeSessions int `json:"min_hard_mode_sessions" gorm:"default:0"`
	MinEarlyBird        int `json:"min_early_bird" gorm:"default:0"`
	MinNightOwl         int `json:"min_night_owl" gorm:"default:0"`
}

// Satisfied evaluates the predicate against cumulative stats. Every non-zero
// threshold must hold.
func (a *Achievement) Satisfied(s *UserStats) bool {
	if a.MinSessions > 0 && s.TotalSessions < a.MinSessions {
		return false
	}
	if a.MinStreakDays > 0 && s.CurrentStreakDays < a.MinStreakDays {
		return false
	}
	if a.MinFocusHours > 0 && s.TotalFocusSeconds < a.MinFocusHours*3600 {
		return false
	}
	if a.MinHardModeSessions > 0 && s.TotalHardModeSessions < a.MinHardModeSessions {
		return false
	}
	if a.MinEarlyBird > 0 && s.EarlyBirdSessions < a.MinEarlyBird {
		return false
	}
	if a.MinNightOwl > 0 && s.NightOwlSessions < a.MinNightOwl {
		return false
	}
	return true
}

// StatsDelta is the outcome of processing one session record.
type StatsDelta struct {
	SessionID              string   `json:"session_id"`
	XPAwarded              int      `json:"xp_awarded"`
	NewLevel               int      `json:"new_level"`
	LeveledUp              bool     `json:"leveled_up"`
	StreakAfter            int      `json:"streak_after"`
	FreezeConsumed         bool     `json:"freeze_consumed"`
	AchievementsUnlocked   []string `json:"achievements_unlocked,omitempty"`
	RewardRolled           bool     `json:"reward_rolled"`
	RewardKind             string   `json:"reward_kind,omitempty"`
	RewardXP               int      `json:"reward_xp,omitempty"`
	DoubleXPConsumed       bool     `json:"double_xp_consumed"`
	StreakFreezesAvailable int      `json:"streak_freezes_available"`
}
