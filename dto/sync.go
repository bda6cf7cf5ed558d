package dto

import "time"

type SyncStatusResponse struct {
	Degraded      bool                   `json:"degraded"`
	PendingPushes int                    `json:"pending_pushes"`
	LastSyncedAt  *time.Time             `json:"last_synced_at,omitempty"`
	Engines       []EngineStatusResponse `json:"engines"`
}

type EngineStatusResponse struct {
	EntityKind    string     `json:"entity_kind"`
	RemoteVersion int64      `json:"remote_version"`
	Dirty         bool       `json:"dirty"`
	LastSyncedAt  *time.Time `json:"last_synced_at,omitempty"`
}

type BlocklistAddRequest struct {
	Kind       string `json:"kind" validate:"required,oneof=app domain"`
	Identifier string `json:"identifier" validate:"required,min=1,max=255"`
}

type ModeRequest struct {
	Name            string                     `json:"name" validate:"required,min=1,max=60"`
	DurationMinutes int                        `json:"duration_minutes" validate:"required,min=1,max=480"`
	HardMode        bool                       `json:"hard_mode"`
	Restrictions    []RestrictionTargetRequest `json:"restrictions" validate:"dive"`
}

type ScheduleRequest struct {
	Name            string                     `json:"name" validate:"required,min=1,max=60"`
	Days            int                        `json:"days" validate:"required,min=1,max=127"`
	StartMinute     int                        `json:"start_minute" validate:"min=0,max=1439"`
	EndMinute       int                        `json:"end_minute" validate:"min=0,max=1439"`
	Enabled         bool                       `json:"enabled"`
	Restrictions    []RestrictionTargetRequest `json:"restrictions" validate:"dive"`
}

type RestrictionTargetRequest struct {
	Kind       string `json:"kind" validate:"required,oneof=app domain"`
	Identifier string `json:"identifier" validate:"required,min=1,max=255"`
}

type SettingsRequest struct {
	DefaultModeID      *string `json:"default_mode_id,omitempty"`
	HardModeDefault    *bool   `json:"hard_mode_default,omitempty"`
	PauseKeepsBlocking *bool   `json:"pause_keeps_blocking,omitempty"`
	Theme              *string `json:"theme,omitempty" validate:"omitempty,max=50"`
	DailyGoalMinutes   *int    `json:"daily_goal_minutes,omitempty" validate:"omitempty,min=5,max=1440"`
}

type EnforcementStatusResponse struct {
	Contexts  []ContextStatusResponse    `json:"contexts"`
	Effective []RestrictionTargetRequest `json:"effective"`
}

type ContextStatusResponse struct {
	Name         string `json:"name"`
	Active       bool   `json:"active"`
	Restrictions int    `json:"restrictions"`
}
