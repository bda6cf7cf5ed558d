package services

import (
	"errors"
	"os"
	"time"

	"github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/focusgrove/focus_api/model"
)

// SqliteService is the local cache: the read-through, write-behind mirror of
// the remote state plus device-local data. It is available offline; every
// local operation succeeds regardless of connectivity.
type SqliteService struct {
	context.DefaultService
	db *gorm.DB

	database string
}

const SQLITE_SVC = "sqlite_svc"

func (ds SqliteService) Id() string {
	return SQLITE_SVC
}

// Db Access to raw SqliteService db
func (ds SqliteService) Db() *gorm.DB {
	return ds.db
}

func (ds *SqliteService) Configure(ctx *context.Context) error {
	ds.database = os.Getenv("DB_DATABASE")
	if ds.database == "" {
		ds.database = "focusgrove.db"
	}

	return ds.DefaultService.Configure(ctx)
}

// Start opens the database and migrates any tables that have changed since
// last runtime.
func (ds *SqliteService) Start() (err error) {
	ds.db, err = gorm.Open(sqlite.Open(ds.database), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	})
	if err != nil {
		return err
	}

	models := []interface{}{
		&model.SessionState{},
		&model.SessionRecord{},
		&model.SessionExtension{},
		&model.UserStats{},
		&model.ProcessedSession{},
		&model.Achievement{},
		&model.EnforcementContext{},
		&model.SyncState{},
		&model.PendingPush{},
		&model.FocusMode{},
		&model.Schedule{},
		&model.BlockedItem{},
		&model.UserSettings{},
		&model.Device{},
		&model.DeviceLocal{},
		&model.RateLimit{},
	}

	err = ds.db.AutoMigrate(models...)
	if err != nil {
		log.WithError(err).Error("Failed to migrate database")
		return err
	}

	log.Println("Local cache connected and migrated")
	return nil
}

func (ds *SqliteService) Shutdown() {
}

// ==================== SESSION STATE ====================

// GetLiveSessionState returns the single live (active or paused) session for
// the user, or nil when idle.
func (ds *SqliteService) GetLiveSessionState(userID string) (*model.SessionState, error) {
	var state model.SessionState
	err := ds.db.Where("user_id = ? AND status IN ?", userID,
		[]string{"active", "paused"}).Order("updated_at DESC").First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (ds *SqliteService) GetSessionState(sessionID string) (*model.SessionState, error) {
	var state model.SessionState
	if err := ds.db.First(&state, "session_id = ?", sessionID).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

func (ds *SqliteService) SaveSessionState(state *model.SessionState) error {
	return ds.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(state).Error
}

// ==================== SESSION RECORDS ====================

// CreateSessionRecord inserts the immutable history entry. Returns false when
// a record for the session already exists, which callers treat as a duplicate
// completion to absorb.
func (ds *SqliteService) CreateSessionRecord(rec *model.SessionRecord) (bool, error) {
	res := ds.db.Clauses(clause.OnConflict{DoNothing: true}).Create(rec)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (ds *SqliteService) GetSessionRecord(sessionID string) (*model.SessionRecord, error) {
	var rec model.SessionRecord
	err := ds.db.First(&rec, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (ds *SqliteService) ListSessionRecords(userID string, limit int) ([]model.SessionRecord, error) {
	var recs []model.SessionRecord
	q := ds.db.Where("user_id = ?", userID).Order("completed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return recs, q.Find(&recs).Error
}

func (ds *SqliteService) ListSessionRecordsSince(userID string, since time.Time) ([]model.SessionRecord, error) {
	var recs []model.SessionRecord
	return recs, ds.db.Where("user_id = ? AND completed_at >= ?", userID, since).
		Order("completed_at ASC").Find(&recs).Error
}

func (ds *SqliteService) CreateSessionExtension(ext *model.SessionExtension) error {
	return ds.db.Create(ext).Error
}

// ==================== STATS ====================

func (ds *SqliteService) GetUserStats(userID string) (*model.UserStats, error) {
	var stats model.UserStats
	err := ds.db.First(&stats, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		stats = model.UserStats{
			UserID:                 userID,
			Level:                  1,
			UnlockedAchievementIDs: []byte("[]"),
			UnlockedThemes:         []byte("[]"),
			UpdatedAt:              time.Now(),
		}
		if err := ds.db.Create(&stats).Error; err != nil {
			return nil, err
		}
		return &stats, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (ds *SqliteService) SaveUserStats(stats *model.UserStats) error {
	return ds.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(stats).Error
}

func (ds *SqliteService) GetProcessedSession(sessionID string) (*model.ProcessedSession, error) {
	var p model.ProcessedSession
	err := ds.db.First(&p, "session_id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProcessedSession claims the idempotency key. Returns false when the
// session was already processed.
func (ds *SqliteService) CreateProcessedSession(p *model.ProcessedSession) (bool, error) {
	res := ds.db.Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListProcessedSessionIDs returns every session the stats pipeline has
// counted, oldest first. Rides in the synced stats payload so other devices
// inherit the processed-set.
func (ds *SqliteService) ListProcessedSessionIDs(userID string) ([]string, error) {
	var ids []string
	return ids, ds.db.Model(&model.ProcessedSession{}).Where("user_id = ?", userID).
		Order("processed_at ASC").Pluck("session_id", &ids).Error
}

func (ds *SqliteService) ListAchievements() ([]model.Achievement, error) {
	var defs []model.Achievement
	return defs, ds.db.Order("id ASC").Find(&defs).Error
}

func (ds *SqliteService) UpsertAchievement(a *model.Achievement) error {
	return ds.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(a).Error
}

// ==================== ENFORCEMENT ====================

func (ds *SqliteService) GetEnforcementContexts() ([]model.EnforcementContext, error) {
	var ctxs []model.EnforcementContext
	return ctxs, ds.db.Find(&ctxs).Error
}

func (ds *SqliteService) SaveEnforcementContext(ctx *model.EnforcementContext) error {
	return ds.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(ctx).Error
}

// ==================== SYNC MIRROR ====================

func (ds *SqliteService) GetSyncState(kind string) (*model.SyncState, error) {
	var st model.SyncState
	err := ds.db.First(&st, "entity_kind = ?", kind).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &model.SyncState{EntityKind: kind, UpdatedAt: time.Now()}, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (ds *SqliteService) SaveSyncState(st *model.SyncState) error {
	st.UpdatedAt = time.Now()
	return ds.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(st).Error
}

// UpsertPendingPush queues an outbound write. One row per entity kind: a
// newer payload supersedes a queued one instead of stacking behind it.
func (ds *SqliteService) UpsertPendingPush(p *model.PendingPush) error {
	return ds.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "entity_kind"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"payload", "expected_version", "queued_at", "attempts",
		}),
	}).Create(p).Error
}

func (ds *SqliteService) ListPendingPushes() ([]model.PendingPush, error) {
	var pushes []model.PendingPush
	return pushes, ds.db.Order("queued_at ASC").Find(&pushes).Error
}

func (ds *SqliteService) DeletePendingPush(kind string) error {
	return ds.db.Delete(&model.PendingPush{}, "entity_kind = ?", kind).Error
}

func (ds *SqliteService) CountPendingPushes() (int64, error) {
	var n int64
	return n, ds.db.Model(&model.PendingPush{}).Count(&n).Error
}

// ==================== MODES / SCHEDULES / BLOCKLIST / SETTINGS ====================

func (ds *SqliteService) ListModes() ([]model.FocusMode, error) {
	var modes []model.FocusMode
	return modes, ds.db.Order("name ASC").Find(&modes).Error
}

func (ds *SqliteService) GetMode(id string) (*model.FocusMode, error) {
	var mode model.FocusMode
	if err := ds.db.First(&mode, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &mode, nil
}

func (ds *SqliteService) UpsertMode(mode *model.FocusMode) error {
	return ds.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(mode).Error
}

func (ds *SqliteService) DeleteMode(id string) error {
	return ds.db.Delete(&model.FocusMode{}, "id = ?", id).Error
}

func (ds *SqliteService) ListSchedules() ([]model.Schedule, error) {
	var schedules []model.Schedule
	return schedules, ds.db.Order("start_minute ASC").Find(&schedules).Error
}

func (ds *SqliteService) UpsertSchedule(s *model.Schedule) error {
	return ds.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(s).Error
}

func (ds *SqliteService) DeleteSchedule(id string) error {
	return ds.db.Delete(&model.Schedule{}, "id = ?", id).Error
}

func (ds *SqliteService) ListBlockedItems() ([]model.BlockedItem, error) {
	var items []model.BlockedItem
	return items, ds.db.Order("added_at ASC").Find(&items).Error
}

func (ds *SqliteService) UpsertBlockedItem(item *model.BlockedItem) error {
	return ds.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(item).Error
}

func (ds *SqliteService) DeleteBlockedItem(id string) error {
	return ds.db.Delete(&model.BlockedItem{}, "id = ?", id).Error
}

func (ds *SqliteService) GetUserSettings(userID string) (*model.UserSettings, error) {
	var settings model.UserSettings
	err := ds.db.First(&settings, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		settings = model.UserSettings{
			UserID:             userID,
			PauseKeepsBlocking: true,
			DailyGoalMinutes:   120,
			UpdatedAt:          time.Now(),
		}
		if err := ds.db.Create(&settings).Error; err != nil {
			return nil, err
		}
		return &settings, nil
	}
	if err != nil {
		return nil, err
	}
	return &settings, nil
}

func (ds *SqliteService) SaveUserSettings(settings *model.UserSettings) error {
	return ds.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(settings).Error
}

// ==================== DEVICES ====================

func (ds *SqliteService) CreateDevice(d *model.Device) error {
	return ds.db.Create(d).Error
}

func (ds *SqliteService) GetDevice(id string) (*model.Device, error) {
	var d model.Device
	if err := ds.db.First(&d, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

func (ds *SqliteService) ListDevices(userID string) ([]model.Device, error) {
	var devices []model.Device
	return devices, ds.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&devices).Error
}

func (ds *SqliteService) TouchDevice(id string) error {
	now := time.Now()
	return ds.db.Model(&model.Device{}).Where("id = ?", id).
		Update("last_seen_at", &now).Error
}

func (ds *SqliteService) RevokeDevice(id string) error {
	return ds.db.Model(&model.Device{}).Where("id = ?", id).
		Update("revoked", true).Error
}

// ==================== RATE LIMITS ====================

func (ds *SqliteService) GetRateLimit(identifier, endpointType string) (*model.RateLimit, error) {
	var rl model.RateLimit
	err := ds.db.First(&rl, "identifier = ? AND endpoint_type = ?", identifier, endpointType).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rl, nil
}

func (ds *SqliteService) SaveRateLimit(rl *model.RateLimit) error {
	if rl.ID == "" {
		rl.ID = rl.Identifier + ":" + rl.EndpointType
	}
	return ds.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(rl).Error
}

// ==================== DEVICE-LOCAL KV ====================

func (ds *SqliteService) GetLocal(key string) (string, error) {
	var kv model.DeviceLocal
	err := ds.db.First(&kv, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return kv.Value, nil
}

func (ds *SqliteService) PutLocal(key, value string) error {
	return ds.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&model.DeviceLocal{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}).Error
}
