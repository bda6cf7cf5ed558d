package services

import (
	"os"
	"sort"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

// CoordinatorService glues the engines together without owning any business
// logic. It registers every synced entity with the sync service in dependency
// order, routes local mutations into the push path, routes remote records
// into the owning engine, and keeps the schedule and regret-prevention
// enforcement contexts fed from their local tables.
type CoordinatorService struct {
	appContext.DefaultService

	store       *SqliteService
	syncSvc     *SyncService
	sessionSvc  *SessionService
	statsSvc    *StatsService
	enforcement *EnforcementService
	redisSvc    *RedisService

	userID   string
	deviceID string

	closed chan struct{}
}

const COORDINATOR_SVC = "coordinator_svc"

const localDeviceIDKey = "device_id"

func (svc CoordinatorService) Id() string {
	return COORDINATOR_SVC
}

func (svc *CoordinatorService) Configure(ctx *appContext.Context) error {
	svc.userID = os.Getenv("FOCUS_USER_ID")
	svc.closed = make(chan struct{})
	return svc.DefaultService.Configure(ctx)
}

func (svc *CoordinatorService) Start() error {
	svc.store = svc.Service(SQLITE_SVC).(*SqliteService)
	svc.syncSvc = svc.Service(SYNC_SVC).(*SyncService)
	svc.sessionSvc = svc.Service(SESSION_SVC).(*SessionService)
	svc.statsSvc = svc.Service(STATS_SVC).(*StatsService)
	svc.enforcement = svc.Service(ENFORCEMENT_SVC).(*EnforcementService)
	svc.redisSvc = svc.Service(REDIS_SVC).(*RedisService)

	if err := svc.initDeviceID(); err != nil {
		return err
	}

	svc.registerEntities()

	// Local mutations fan out to sync without blocking the mutating call.
	svc.sessionSvc.OnStateChanged(func(model.SessionState) {
		go svc.syncSvc.LocalChanged(shared.EntityTimer)
	})
	svc.sessionSvc.OnSessionFinished(func(rec model.SessionRecord) {
		go func() {
			if _, err := svc.statsSvc.OnSessionCompleted(rec); err != nil {
				log.WithError(err).WithField("session_id", rec.SessionID).Error("Stats pipeline failed")
			}
			svc.syncSvc.LocalChanged(shared.EntitySessions)
		}()
	})
	svc.statsSvc.OnDeltaApplied(func(model.StatsDelta) {
		go svc.syncSvc.LocalChanged(shared.EntityStats)
	})

	svc.syncSvc.StartEngines()

	svc.refreshRegretPrevention()
	svc.refreshScheduleContext()
	go svc.scheduleLoop()

	return nil
}

func (svc *CoordinatorService) Shutdown() {
	close(svc.closed)
}

// DeviceID is this installation's stable identity, minted on first launch
// and never synced.
func (svc *CoordinatorService) DeviceID() string {
	return svc.deviceID
}

func (svc *CoordinatorService) initDeviceID() error {
	id, err := svc.store.GetLocal(localDeviceIDKey)
	if err != nil {
		return err
	}
	if id == "" {
		v7, err := uuid.NewV7()
		if err != nil {
			return err
		}
		id = v7.String()
		if err := svc.store.PutLocal(localDeviceIDKey, id); err != nil {
			return err
		}
		log.WithField("device_id", id).Info("Minted device identity")
	}

	svc.deviceID = id
	svc.redisSvc.SetDeviceID(id)
	svc.syncSvc.SetDeviceID(id)
	svc.sessionSvc.SetDeviceID(id)
	return nil
}

// registerEntities wires every synced entity, settings first and the timer
// last so remote timer state lands on already-consistent modes and settings.
func (svc *CoordinatorService) registerEntities() {
	svc.syncSvc.RegisterRecord(shared.EntitySettings, svc.settingsPayload, svc.applySettings)
	svc.syncSvc.RegisterList(shared.EntityModes, svc.modesPayload, svc.applyModes)
	svc.syncSvc.RegisterList(shared.EntitySchedules, svc.schedulesPayload, svc.applySchedules)
	svc.syncSvc.RegisterList(shared.EntityBlocklist, svc.blocklistPayload, svc.applyBlocklist)
	svc.syncSvc.RegisterRecord(shared.EntityStats, svc.statsPayload, svc.applyStats)
	svc.syncSvc.RegisterList(shared.EntitySessions, svc.sessionsPayload, svc.applySessions)
	svc.syncSvc.RegisterRecord(shared.EntityTimer, svc.timerPayload, svc.applyTimer)
}

// ==================== RECORD ENTITIES ====================

func (svc *CoordinatorService) settingsPayload() ([]byte, error) {
	settings, err := svc.store.GetUserSettings(svc.userID)
	if err != nil {
		return nil, err
	}
	return shared.MarshalJSON(settings)
}

func (svc *CoordinatorService) applySettings(payload []byte) error {
	var settings model.UserSettings
	if err := shared.UnmarshalJSON(payload, &settings); err != nil {
		return err
	}
	return svc.store.SaveUserSettings(&settings)
}

// statsPayload carries the processed-set with the stats so a receiving device
// never re-awards a session this device already counted.
type statsPayload struct {
	Stats     model.UserStats `json:"stats"`
	Processed []string        `json:"processed,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (svc *CoordinatorService) statsPayload() ([]byte, error) {
	stats, err := svc.store.GetUserStats(svc.userID)
	if err != nil {
		return nil, err
	}
	ids, err := svc.store.ListProcessedSessionIDs(svc.userID)
	if err != nil {
		return nil, err
	}
	return shared.MarshalJSON(statsPayload{Stats: *stats, Processed: ids, UpdatedAt: stats.UpdatedAt})
}

func (svc *CoordinatorService) applyStats(payload []byte) error {
	var p statsPayload
	if err := shared.UnmarshalJSON(payload, &p); err != nil {
		return err
	}
	return svc.statsSvc.ImportRemote(p.Stats, p.Processed)
}

func (svc *CoordinatorService) timerPayload() ([]byte, error) {
	state := svc.sessionSvc.StateSnapshot()
	if state == nil {
		return nil, nil
	}
	return shared.MarshalJSON(state)
}

func (svc *CoordinatorService) applyTimer(payload []byte) error {
	var state model.SessionState
	if err := shared.UnmarshalJSON(payload, &state); err != nil {
		return err
	}
	return svc.sessionSvc.ApplyRemote(state)
}

// ==================== LIST ENTITIES ====================

func (svc *CoordinatorService) modesPayload() ([]byte, error) {
	modes, err := svc.store.ListModes()
	if err != nil {
		return nil, err
	}
	items := make([]model.SyncItem, 0, len(modes))
	for _, m := range modes {
		data, err := shared.MarshalJSON(m)
		if err != nil {
			return nil, err
		}
		items = append(items, model.SyncItem{ID: m.ID, Data: data, UpdatedAt: m.UpdatedAt})
	}
	return svc.listPayload(shared.EntityModes, items)
}

func (svc *CoordinatorService) applyModes(payload []byte) error {
	return svc.applyList(payload, func(data []byte) error {
		var mode model.FocusMode
		if err := shared.UnmarshalJSON(data, &mode); err != nil {
			return err
		}
		return svc.store.UpsertMode(&mode)
	}, svc.store.DeleteMode)
}

func (svc *CoordinatorService) schedulesPayload() ([]byte, error) {
	schedules, err := svc.store.ListSchedules()
	if err != nil {
		return nil, err
	}
	items := make([]model.SyncItem, 0, len(schedules))
	for _, s := range schedules {
		data, err := shared.MarshalJSON(s)
		if err != nil {
			return nil, err
		}
		items = append(items, model.SyncItem{ID: s.ID, Data: data, UpdatedAt: s.UpdatedAt})
	}
	return svc.listPayload(shared.EntitySchedules, items)
}

func (svc *CoordinatorService) applySchedules(payload []byte) error {
	err := svc.applyList(payload, func(data []byte) error {
		var s model.Schedule
		if err := shared.UnmarshalJSON(data, &s); err != nil {
			return err
		}
		return svc.store.UpsertSchedule(&s)
	}, svc.store.DeleteSchedule)
	if err != nil {
		return err
	}
	svc.refreshScheduleContext()
	return nil
}

func (svc *CoordinatorService) blocklistPayload() ([]byte, error) {
	blocked, err := svc.store.ListBlockedItems()
	if err != nil {
		return nil, err
	}
	items := make([]model.SyncItem, 0, len(blocked))
	for _, b := range blocked {
		data, err := shared.MarshalJSON(b)
		if err != nil {
			return nil, err
		}
		items = append(items, model.SyncItem{ID: b.ID, Data: data, UpdatedAt: b.UpdatedAt})
	}
	return svc.listPayload(shared.EntityBlocklist, items)
}

func (svc *CoordinatorService) applyBlocklist(payload []byte) error {
	err := svc.applyList(payload, func(data []byte) error {
		var item model.BlockedItem
		if err := shared.UnmarshalJSON(data, &item); err != nil {
			return err
		}
		return svc.store.UpsertBlockedItem(&item)
	}, svc.store.DeleteBlockedItem)
	if err != nil {
		return err
	}
	svc.refreshRegretPrevention()
	return nil
}

func (svc *CoordinatorService) sessionsPayload() ([]byte, error) {
	recs, err := svc.store.ListSessionRecords(svc.userID, 500)
	if err != nil {
		return nil, err
	}
	items := make([]model.SyncItem, 0, len(recs))
	for _, r := range recs {
		data, err := shared.MarshalJSON(r)
		if err != nil {
			return nil, err
		}
		items = append(items, model.SyncItem{ID: r.SessionID, Data: data, UpdatedAt: r.CreatedAt})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return shared.MarshalJSON(items)
}

// applySessions imports records finished on other devices. A record this
// device has not seen enters the stats pipeline; the deterministic pipeline
// and the shared processed-set make both devices converge on the same stats.
func (svc *CoordinatorService) applySessions(payload []byte) error {
	var items []model.SyncItem
	if err := shared.UnmarshalJSON(payload, &items); err != nil {
		return err
	}
	for _, it := range items {
		if it.Deleted {
			continue
		}
		var rec model.SessionRecord
		if err := shared.UnmarshalJSON(it.Data, &rec); err != nil {
			return err
		}
		created, err := svc.store.CreateSessionRecord(&rec)
		if err != nil {
			return err
		}
		if created {
			if _, err := svc.statsSvc.OnSessionCompleted(rec); err != nil {
				log.WithError(err).WithField("session_id", rec.SessionID).Error("Stats pipeline failed for remote record")
			}
		}
	}
	return nil
}

// listPayload appends tombstones for items the local table no longer holds,
// carried over from the previous synced payload so a delete travels instead
// of silently vanishing. Sorted by ID for stable wire bytes.
func (svc *CoordinatorService) listPayload(kind string, items []model.SyncItem) ([]byte, error) {
	st, err := svc.store.GetSyncState(kind)
	if err != nil {
		return nil, err
	}

	present := make(map[string]bool, len(items))
	for _, it := range items {
		present[it.ID] = true
	}

	var prev []model.SyncItem
	if len(st.Payload) > 0 {
		if err := shared.UnmarshalJSON(st.Payload, &prev); err != nil {
			return nil, err
		}
	}
	now := time.Now()
	for _, p := range prev {
		if present[p.ID] {
			continue
		}
		if !p.Deleted {
			p.Deleted = true
			p.Data = nil
			p.UpdatedAt = now
			p.DeletedAt = &now
		}
		items = append(items, p)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return shared.MarshalJSON(items)
}

func (svc *CoordinatorService) applyList(payload []byte, upsert func([]byte) error, remove func(string) error) error {
	var items []model.SyncItem
	if err := shared.UnmarshalJSON(payload, &items); err != nil {
		return err
	}
	for _, it := range items {
		if it.Deleted {
			if err := remove(it.ID); err != nil {
				return err
			}
			continue
		}
		if err := upsert(it.Data); err != nil {
			return err
		}
	}
	return nil
}

// ==================== LOCAL MUTATIONS ====================

// Local CRUD enters sync here: write the table, refresh the enforcement
// context it feeds, then hand the kind to the push path.

func (svc *CoordinatorService) SaveMode(mode *model.FocusMode) error {
	if err := svc.store.UpsertMode(mode); err != nil {
		return err
	}
	go svc.syncSvc.LocalChanged(shared.EntityModes)
	return nil
}

func (svc *CoordinatorService) RemoveMode(id string) error {
	if err := svc.store.DeleteMode(id); err != nil {
		return err
	}
	go svc.syncSvc.LocalChanged(shared.EntityModes)
	return nil
}

func (svc *CoordinatorService) SaveSchedule(s *model.Schedule) error {
	if err := svc.store.UpsertSchedule(s); err != nil {
		return err
	}
	svc.refreshScheduleContext()
	go svc.syncSvc.LocalChanged(shared.EntitySchedules)
	return nil
}

func (svc *CoordinatorService) RemoveSchedule(id string) error {
	if err := svc.store.DeleteSchedule(id); err != nil {
		return err
	}
	svc.refreshScheduleContext()
	go svc.syncSvc.LocalChanged(shared.EntitySchedules)
	return nil
}

func (svc *CoordinatorService) SaveBlockedItem(item *model.BlockedItem) error {
	if err := svc.store.UpsertBlockedItem(item); err != nil {
		return err
	}
	svc.refreshRegretPrevention()
	go svc.syncSvc.LocalChanged(shared.EntityBlocklist)
	return nil
}

func (svc *CoordinatorService) RemoveBlockedItem(id string) error {
	if err := svc.store.DeleteBlockedItem(id); err != nil {
		return err
	}
	svc.refreshRegretPrevention()
	go svc.syncSvc.LocalChanged(shared.EntityBlocklist)
	return nil
}

func (svc *CoordinatorService) SaveSettings(settings *model.UserSettings) error {
	settings.UserID = svc.userID
	settings.UpdatedAt = time.Now()
	if err := svc.store.SaveUserSettings(settings); err != nil {
		return err
	}
	go svc.syncSvc.LocalChanged(shared.EntitySettings)
	return nil
}

func (svc *CoordinatorService) ListModes() ([]model.FocusMode, error) {
	return svc.store.ListModes()
}

func (svc *CoordinatorService) ListSchedules() ([]model.Schedule, error) {
	return svc.store.ListSchedules()
}

func (svc *CoordinatorService) ListBlockedItems() ([]model.BlockedItem, error) {
	return svc.store.ListBlockedItems()
}

func (svc *CoordinatorService) GetSettings() (*model.UserSettings, error) {
	return svc.store.GetUserSettings(svc.userID)
}

// ==================== ENFORCEMENT FEEDS ====================

// refreshRegretPrevention points the regret-prevention context at the
// current blocklist. The context is active whenever the list is non-empty.
func (svc *CoordinatorService) refreshRegretPrevention() {
	blocked, err := svc.store.ListBlockedItems()
	if err != nil {
		log.WithError(err).Error("Blocklist read failed")
		return
	}

	targets := make([]model.RestrictionTarget, 0, len(blocked))
	for _, b := range blocked {
		targets = append(targets, b.Target())
	}

	if err := svc.enforcement.SetRestrictions(shared.ContextRegretPrevention, targets); err != nil {
		log.WithError(err).Error("Failed to hand blocklist to enforcement")
		return
	}
	if len(targets) > 0 {
		_ = svc.enforcement.Activate(shared.ContextRegretPrevention)
	} else {
		_ = svc.enforcement.Deactivate(shared.ContextRegretPrevention)
	}
}

// refreshScheduleContext evaluates every schedule window against the clock
// and flips the schedule context at boundaries.
func (svc *CoordinatorService) refreshScheduleContext() {
	schedules, err := svc.store.ListSchedules()
	if err != nil {
		log.WithError(err).Error("Schedule read failed")
		return
	}

	now := time.Now()
	active := false
	var targets []model.RestrictionTarget
	for _, s := range schedules {
		if !s.ActiveAt(now) {
			continue
		}
		active = true
		targets = append(targets, s.Restrictions...)
	}

	if err := svc.enforcement.SetRestrictions(shared.ContextSchedule, targets); err != nil {
		log.WithError(err).Error("Failed to hand schedule windows to enforcement")
		return
	}
	if active {
		_ = svc.enforcement.Activate(shared.ContextSchedule)
	} else {
		_ = svc.enforcement.Deactivate(shared.ContextSchedule)
	}
}

func (svc *CoordinatorService) scheduleLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			svc.refreshScheduleContext()
		case <-svc.closed:
			return
		}
	}
}
