package model

import (
	"time"

	"github.com/focusgrove/focus_api/shared"
)

// SessionState is the single per-user authoritative timer record. It is a
// record-shaped synced entity: the remote copy wins conflicts by server
// timestamp.
type SessionState struct {
	SessionID           string     `json:"session_id" gorm:"primaryKey;type:text;not null"`
	UserID              string     `json:"user_id" gorm:"not null;index"`
	Status              string     `json:"status" gorm:"not null;size:20"`
	StartedAt           time.Time  `json:"started_at"`
	EndsAt              *time.Time `json:"ends_at,omitempty"`
	PausedAt            *time.Time `json:"paused_at,omitempty"`
	TotalPausedSeconds  int        `json:"total_paused_seconds" gorm:"default:0;not null"`
	PlannedDurationSecs int        `json:"planned_duration_seconds" gorm:"not null"`
	ModeID              string     `json:"mode_id,omitempty"`
	IsHardMode          bool       `json:"is_hard_mode" gorm:"default:false;not null"`
	UpdatedAt           time.Time  `json:"updated_at" gorm:"not null"`
}

// Live reports whether the session still owns the timer.
func (s *SessionState) Live() bool {
	return s.Status == shared.SessionActive || s.Status == shared.SessionPaused
}

func (s *SessionState) Terminal() bool {
	return s.Status == shared.SessionCompleted || s.Status == shared.SessionCancelled
}

// Elapsed is wall time since start minus accumulated pauses. While paused the
// current pause span is excluded up to pausedAt.
func (s *SessionState) Elapsed(now time.Time) time.Duration {
	end := now
	if s.Status == shared.SessionPaused && s.PausedAt != nil {
		end = *s.PausedAt
	}
	elapsed := end.Sub(s.StartedAt) - time.Duration(s.TotalPausedSeconds)*time.Second
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// SessionRecord is the immutable history entry derived from a terminal
// transition. Created exactly once per session, never mutated, and the sole
// input to the stats pipeline.
type SessionRecord struct {
	SessionID           string    `json:"session_id" gorm:"primaryKey;type:text;not null"`
	UserID              string    `json:"user_id" gorm:"not null;index"`
	ModeID              string    `json:"mode_id,omitempty"`
	PlannedDurationSecs int       `json:"planned_duration_seconds" gorm:"not null"`
	ActualDurationSecs  int       `json:"actual_duration_seconds" gorm:"not null"`
	CompletedAt         time.Time `json:"completed_at" gorm:"not null;index"`
	WasHardMode         bool      `json:"was_hard_mode" gorm:"default:false;not null"`
	Outcome             string    `json:"outcome" gorm:"not null;size:20"`
	CreatedAt           time.Time `json:"created_at" gorm:"not null"`
}

// SessionExtension audits every extend call. Extensions are unbounded but
// each one leaves a row.
type SessionExtension struct {
	ID             string    `json:"id" gorm:"primaryKey;type:text;not null"`
	SessionID      string    `json:"session_id" gorm:"not null;index"`
	AddedSeconds   int       `json:"added_seconds" gorm:"not null"`
	RequestedAt    time.Time `json:"requested_at" gorm:"not null"`
	SourceDeviceID string    `json:"source_device_id,omitempty"`
}
