package dto

import (
	"time"

	"github.com/focusgrove/focus_api/model"
)

type StartSessionRequest struct {
	DurationMinutes int    `json:"duration_minutes" validate:"required,min=1,max=480"`
	ModeID          string `json:"mode_id,omitempty"`
	HardMode        *bool  `json:"hard_mode,omitempty"`
	// Replace stops a live session (as cancelled) before starting. Without it
	// starting over a live session is rejected, on every device.
	Replace bool `json:"replace,omitempty"`
}

type ExtendSessionRequest struct {
	Minutes int `json:"minutes" validate:"required,min=1,max=240"`
}

type SessionStateResponse struct {
	SessionID        string     `json:"session_id,omitempty"`
	Status           string     `json:"status"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	EndsAt           *time.Time `json:"ends_at,omitempty"`
	PausedAt         *time.Time `json:"paused_at,omitempty"`
	RemainingSeconds int        `json:"remaining_seconds"`
	ElapsedSeconds   int        `json:"elapsed_seconds"`
	PlannedSeconds   int        `json:"planned_seconds,omitempty"`
	ModeID           string     `json:"mode_id,omitempty"`
	IsHardMode       bool       `json:"is_hard_mode"`
}

type SessionRecordResponse struct {
	SessionID          string    `json:"session_id"`
	ModeID             string    `json:"mode_id,omitempty"`
	ActualDurationSecs int       `json:"actual_duration_seconds"`
	CompletedAt        time.Time `json:"completed_at"`
	WasHardMode        bool      `json:"was_hard_mode"`
	Outcome            string    `json:"outcome"`
}

type StopSessionResponse struct {
	Record *SessionRecordResponse `json:"record,omitempty"`
	Delta  *model.StatsDelta      `json:"delta,omitempty"`
}

type SessionHistoryResponse struct {
	Records []SessionRecordResponse `json:"records"`
	Total   int                     `json:"total"`
}

type DayTotalsResponse struct {
	Date             string `json:"date"`
	Sessions         int    `json:"sessions"`
	CompletedMinutes int    `json:"completed_minutes"`
	GoalMinutes      int    `json:"goal_minutes"`
}

type ModeTotalsResponse struct {
	ModeID           string `json:"mode_id,omitempty"`
	Sessions         int    `json:"sessions"`
	CompletedMinutes int    `json:"completed_minutes"`
}

type SessionSummaryResponse struct {
	From              string               `json:"from"`
	To                string               `json:"to"`
	Sessions          int                  `json:"sessions"`
	CompletedSessions int                  `json:"completed_sessions"`
	CompletedMinutes  int                  `json:"completed_minutes"`
	ByMode            []ModeTotalsResponse `json:"by_mode,omitempty"`
}
