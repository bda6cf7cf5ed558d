package model

import "time"

// FocusMode is a named session preset. List-shaped synced entity.
type FocusMode struct {
	ID              string              `json:"id" gorm:"primaryKey;type:text;not null"`
	Name            string              `json:"name" gorm:"not null"`
	DurationSeconds int                 `json:"duration_seconds" gorm:"not null"`
	HardMode        bool                `json:"hard_mode" gorm:"default:false;not null"`
	Restrictions    []RestrictionTarget `json:"restrictions,omitempty" gorm:"serializer:json"`
	CreatedAt       time.Time           `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time           `json:"updated_at" gorm:"not null"`
}

// Schedule is a recurring blocking window owned by the schedule enforcement
// context. Days is a bitmask, Sunday = bit 0. List-shaped synced entity.
type Schedule struct {
	ID           string              `json:"id" gorm:"primaryKey;type:text;not null"`
	Name         string              `json:"name" gorm:"not null"`
	Days         int                 `json:"days" gorm:"not null"`
	StartMinute  int                 `json:"start_minute" gorm:"not null"` // minutes from midnight
	EndMinute    int                 `json:"end_minute" gorm:"not null"`
	Enabled      bool                `json:"enabled" gorm:"default:true;not null"`
	Restrictions []RestrictionTarget `json:"restrictions,omitempty" gorm:"serializer:json"`
	UpdatedAt    time.Time           `json:"updated_at" gorm:"not null"`
}

// ActiveAt reports whether the window covers the given local time. Windows
// crossing midnight wrap into the next day.
func (s *Schedule) ActiveAt(t time.Time) bool {
	if !s.Enabled {
		return false
	}
	day := int(t.Weekday())
	minute := t.Hour()*60 + t.Minute()

	if s.StartMinute <= s.EndMinute {
		return s.Days&(1<<day) != 0 && minute >= s.StartMinute && minute < s.EndMinute
	}
	// Wraps midnight: the tail belongs to the previous day's window.
	if minute >= s.StartMinute {
		return s.Days&(1<<day) != 0
	}
	if minute < s.EndMinute {
		prev := (day + 6) % 7
		return s.Days&(1<<prev) != 0
	}
	return false
}

// BlockedItem is one user-managed entry of the regret-prevention blocklist.
// List-shaped synced entity.
type BlockedItem struct {
	ID         string    `json:"id" gorm:"primaryKey;type:text;not null"`
	Kind       string    `json:"kind" gorm:"not null;size:20"`
	Identifier string    `json:"identifier" gorm:"not null"`
	AddedAt    time.Time `json:"added_at" gorm:"not null"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"not null"`
}

func (b *BlockedItem) Target() RestrictionTarget {
	return RestrictionTarget{Kind: b.Kind, Identifier: b.Identifier}
}

// UserSettings is the record-shaped settings entity (last-writer-wins).
type UserSettings struct {
	UserID             string    `json:"user_id" gorm:"primaryKey;type:text;not null"`
	DefaultModeID      string    `json:"default_mode_id,omitempty"`
	HardModeDefault    bool      `json:"hard_mode_default" gorm:"default:false;not null"`
	PauseKeepsBlocking bool      `json:"pause_keeps_blocking" gorm:"default:true;not null"`
	Theme              string    `json:"theme" gorm:"size:50"`
	DailyGoalMinutes   int       `json:"daily_goal_minutes" gorm:"default:120;not null"`
	UpdatedAt          time.Time `json:"updated_at" gorm:"not null"`
}
