package handlers

import (
	"time"

	"github.com/focusgrove/focus_api/dto"
	"github.com/focusgrove/focus_api/model"
)

type SessionServiceInterface interface {
	StartSession(req dto.StartSessionRequest) (*model.SessionState, error)
	Pause() (*model.SessionState, error)
	Resume() (*model.SessionState, error)
	Extend(minutes int) (*model.SessionState, error)
	Stop() (*model.SessionRecord, error)
	Toggle() (*model.SessionState, *model.SessionRecord, error)
	Current() dto.SessionStateResponse
	History(limit int) (*dto.SessionHistoryResponse, error)
	DayTotals(day time.Time) (*dto.DayTotalsResponse, error)
	Summary(days int) (*dto.SessionSummaryResponse, error)
}

type StatsServiceInterface interface {
	GetStats() (*dto.StatsResponse, error)
	OnSessionCompleted(rec model.SessionRecord) (*model.StatsDelta, error)
}

type EnforcementServiceInterface interface {
	Snapshot() []model.EnforcementContext
	Recompute() []model.RestrictionTarget
}

type SyncServiceInterface interface {
	Status() (*dto.SyncStatusResponse, error)
}

type LibraryServiceInterface interface {
	ListModes() ([]model.FocusMode, error)
	SaveMode(mode *model.FocusMode) error
	RemoveMode(id string) error
	ListSchedules() ([]model.Schedule, error)
	SaveSchedule(s *model.Schedule) error
	RemoveSchedule(id string) error
	ListBlockedItems() ([]model.BlockedItem, error)
	SaveBlockedItem(item *model.BlockedItem) error
	RemoveBlockedItem(id string) error
	GetSettings() (*model.UserSettings, error)
	SaveSettings(settings *model.UserSettings) error
}

type DeviceServiceInterface interface {
	Register(req dto.RegisterDeviceRequest) (*dto.DeviceInfoResponse, error)
	Token(req dto.DeviceTokenRequest) (*dto.DeviceTokenResponse, error)
	List() ([]dto.DeviceInfoResponse, error)
	Revoke(id string) error
}
