package services

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/focusgrove/focus_api/dto"
	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

// BackendChannel is the realtime backend as the sync engines see it: versioned
// compare-and-set writes, point reads and a change feed per entity kind.
type BackendChannel interface {
	Push(ctx context.Context, kind string, payload []byte, expectedVersion int64) (*model.RemoteRecord, bool, error)
	Fetch(ctx context.Context, kind string) (*model.RemoteRecord, error)
	Subscribe(kind string, handler func(model.RemoteRecord)) (func(), error)
	Healthy(ctx context.Context) bool
}

type syncStore interface {
	GetSyncState(kind string) (*model.SyncState, error)
	SaveSyncState(st *model.SyncState) error
	UpsertPendingPush(p *model.PendingPush) error
	ListPendingPushes() ([]model.PendingPush, error)
	DeletePendingPush(kind string) error
	CountPendingPushes() (int64, error)
}

type entityShape int

const (
	shapeRecord entityShape = iota
	shapeList
)

// entityEngine drives one synced entity kind. localGet serializes the current
// local truth, applyRemote installs a winning payload into the local store.
type entityEngine struct {
	kind  string
	shape entityShape

	localGet    func() ([]byte, error)
	applyRemote func(payload []byte) error

	mu   sync.Mutex
	stop func()
}

// SyncService owns the bidirectional state synchronization between the local
// SQLite mirror and the realtime backend. Local writes are pushed with an
// expected version; conflicts are merged (last-writer-wins for records,
// per-item timestamps with tombstones for lists) and the merge re-pushed.
// Pushes that cannot reach the backend queue in SQLite, one slot per entity
// kind, and replay oldest-first once the backend answers again.
type SyncService struct {
	appContext.DefaultService

	store   syncStore
	backend BackendChannel

	deviceID string

	mu      sync.Mutex
	engines map[string]*entityEngine
	order   []string

	degraded atomic.Bool
	closed   chan struct{}

	// Replay backoff while the backend stays down, capped so recovery is
	// picked up within a minute.
	replayBackoff time.Duration
	replayAfter   time.Time
}

const SYNC_SVC = "sync_svc"

const replayInterval = 5 * time.Second

func (svc *SyncService) Id() string {
	return SYNC_SVC
}

func (svc *SyncService) Configure(ctx *appContext.Context) error {
	svc.engines = map[string]*entityEngine{}
	svc.closed = make(chan struct{})
	return svc.DefaultService.Configure(ctx)
}

func (svc *SyncService) Start() error {
	svc.store = svc.Service(SQLITE_SVC).(*SqliteService)
	svc.backend = svc.Service(REDIS_SVC).(*RedisService)
	return nil
}

func (svc *SyncService) Shutdown() {
	close(svc.closed)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, eng := range svc.engines {
		if eng.stop != nil {
			eng.stop()
		}
	}

	// Best effort final flush so a clean quit does not strand queued writes.
	svc.replayPending()
}

func (svc *SyncService) SetDeviceID(id string) {
	svc.deviceID = id
}

// RegisterRecord wires a record-shaped entity: the payload is one JSON object
// carrying an updated_at field, and conflicts resolve whole-record by it.
func (svc *SyncService) RegisterRecord(kind string, localGet func() ([]byte, error), applyRemote func([]byte) error) {
	svc.register(&entityEngine{kind: kind, shape: shapeRecord, localGet: localGet, applyRemote: applyRemote})
}

// RegisterList wires a list-shaped entity: the payload is a JSON array of
// items with per-item timestamps and tombstones, merged element-wise.
func (svc *SyncService) RegisterList(kind string, localGet func() ([]byte, error), applyRemote func([]byte) error) {
	svc.register(&entityEngine{kind: kind, shape: shapeList, localGet: localGet, applyRemote: applyRemote})
}

func (svc *SyncService) register(eng *entityEngine) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.engines[eng.kind] = eng
	svc.order = append(svc.order, eng.kind)
}

// StartEngines reconciles every registered entity against the backend,
// subscribes to its change feed and starts the offline replay loop. Called
// once all entities are registered; a dead backend only degrades sync, the
// rest of the system keeps working on local state.
func (svc *SyncService) StartEngines() {
	svc.mu.Lock()
	kinds := append([]string(nil), svc.order...)
	svc.mu.Unlock()

	for _, kind := range kinds {
		eng := svc.engine(kind)

		if err := svc.reconcile(eng); err != nil {
			log.WithError(err).WithField("kind", kind).Warn("Initial sync reconcile failed, continuing offline")
			svc.degraded.Store(true)
		}

		stop, err := svc.backend.Subscribe(kind, func(rec model.RemoteRecord) {
			svc.onRemote(eng, rec)
		})
		if err != nil {
			log.WithError(err).WithField("kind", kind).Warn("Subscribe failed, relying on replay polling")
			svc.degraded.Store(true)
			continue
		}
		eng.stop = stop
	}

	go svc.replayLoop()
}

func (svc *SyncService) engine(kind string) *entityEngine {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	return svc.engines[kind]
}

// Degraded reports whether the backend was unreachable on the last contact.
func (svc *SyncService) Degraded() bool {
	return svc.degraded.Load()
}

// QueueDepth is the number of entity kinds with a pending offline push.
func (svc *SyncService) QueueDepth() int64 {
	n, err := svc.store.CountPendingPushes()
	if err != nil {
		return 0
	}
	return n
}

// EngineStates snapshots per-kind sync state for the status surface.
func (svc *SyncService) EngineStates() ([]model.SyncState, error) {
	svc.mu.Lock()
	kinds := append([]string(nil), svc.order...)
	svc.mu.Unlock()
	sort.Strings(kinds)

	out := make([]model.SyncState, 0, len(kinds))
	for _, kind := range kinds {
		st, err := svc.store.GetSyncState(kind)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, nil
}

// Status summarizes sync health for the local API surface.
func (svc *SyncService) Status() (*dto.SyncStatusResponse, error) {
	states, err := svc.EngineStates()
	if err != nil {
		return nil, err
	}

	resp := &dto.SyncStatusResponse{
		Degraded:      svc.Degraded(),
		PendingPushes: int(svc.QueueDepth()),
	}
	for _, st := range states {
		resp.Engines = append(resp.Engines, dto.EngineStatusResponse{
			EntityKind:    st.EntityKind,
			RemoteVersion: st.RemoteVersion,
			Dirty:         st.Dirty,
			LastSyncedAt:  st.LastSyncedAt,
		})
		if st.LastSyncedAt != nil &&
			(resp.LastSyncedAt == nil || st.LastSyncedAt.After(*resp.LastSyncedAt)) {
			resp.LastSyncedAt = st.LastSyncedAt
		}
	}
	return resp, nil
}

// LocalChanged is the single entry point for "this entity mutated locally".
// It snapshots the local payload and pushes it, queueing on backend failure.
func (svc *SyncService) LocalChanged(kind string) {
	eng := svc.engine(kind)
	if eng == nil {
		log.WithField("kind", kind).Warn("Local change for unregistered sync entity")
		return
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()

	payload, err := eng.localGet()
	if err != nil {
		log.WithError(err).WithField("kind", kind).Error("Snapshot of local entity failed")
		return
	}
	if len(payload) == 0 {
		return
	}

	st, err := svc.store.GetSyncState(kind)
	if err != nil {
		log.WithError(err).WithField("kind", kind).Error("Sync state read failed")
		return
	}
	st.Dirty = true
	st.Payload = payload
	st.UpdatedAt = time.Now()
	if err := svc.store.SaveSyncState(st); err != nil {
		log.WithError(err).WithField("kind", kind).Error("Sync state write failed")
		return
	}

	svc.pushLocked(eng, st, payload)
}

// pushLocked attempts one CAS push cycle for the held engine. On version
// conflict it merges with the remote winner, installs the merge locally and
// pushes the merge once more. On transport failure the payload is queued.
func (svc *SyncService) pushLocked(eng *entityEngine, st *model.SyncState, payload []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	remote, accepted, err := svc.backend.Push(ctx, eng.kind, payload, st.RemoteVersion)
	if err != nil {
		svc.queue(eng.kind, payload, st.RemoteVersion, err)
		return
	}
	svc.degraded.Store(false)

	if !accepted {
		syncConflictsTotal.WithLabelValues(eng.kind).Inc()

		merged, err := svc.merge(eng, payload, remote.Payload)
		if err != nil {
			log.WithError(err).WithField("kind", eng.kind).Error("Conflict merge failed")
			return
		}
		if err := eng.applyRemote(merged); err != nil {
			log.WithError(err).WithField("kind", eng.kind).Error("Install of merged entity failed")
			return
		}

		payload = merged
		remote2, accepted2, err := svc.backend.Push(ctx, eng.kind, merged, remote.Version)
		if err != nil {
			svc.queue(eng.kind, merged, remote.Version, err)
			return
		}
		if !accepted2 {
			// Lost the race twice, leave it queued for the replay loop.
			syncConflictsTotal.WithLabelValues(eng.kind).Inc()
			svc.queue(eng.kind, merged, remote2.Version, shared.ErrSyncUnavailable)
			return
		}
		remote = remote2
	}

	syncPushesTotal.WithLabelValues("accepted").Inc()
	now := time.Now()
	st.RemoteVersion = remote.Version
	st.Payload = payload
	st.Dirty = false
	st.LastSyncedAt = &now
	st.UpdatedAt = now
	if err := svc.store.SaveSyncState(st); err != nil {
		log.WithError(err).WithField("kind", eng.kind).Error("Sync state write failed")
		return
	}
	_ = svc.store.DeletePendingPush(eng.kind)
	syncQueueDepth.Set(float64(svc.QueueDepth()))
}

func (svc *SyncService) queue(kind string, payload []byte, expectedVersion int64, cause error) {
	syncPushesTotal.WithLabelValues("queued").Inc()
	svc.degraded.Store(true)
	log.WithError(cause).WithField("kind", kind).Info("Backend unreachable, queueing push")

	if err := svc.store.UpsertPendingPush(&model.PendingPush{
		EntityKind:      kind,
		Payload:         payload,
		ExpectedVersion: expectedVersion,
		QueuedAt:        time.Now(),
	}); err != nil {
		log.WithError(err).WithField("kind", kind).Error("Pending push write failed")
		return
	}
	syncQueueDepth.Set(float64(svc.QueueDepth()))
}

// onRemote handles one record off the change feed. Our own writes echo back
// through pub/sub, so anything from this device or at or below the version we
// already hold is dropped.
func (svc *SyncService) onRemote(eng *entityEngine, rec model.RemoteRecord) {
	if rec.SourceDevice == svc.deviceID {
		return
	}

	eng.mu.Lock()
	defer eng.mu.Unlock()

	st, err := svc.store.GetSyncState(eng.kind)
	if err != nil {
		log.WithError(err).WithField("kind", eng.kind).Error("Sync state read failed")
		return
	}
	if rec.Version <= st.RemoteVersion {
		return
	}

	if st.Dirty {
		// A local write is in flight. Merge instead of clobbering it and
		// push the result back so both sides converge.
		merged, err := svc.merge(eng, st.Payload, rec.Payload)
		if err != nil {
			log.WithError(err).WithField("kind", eng.kind).Error("Conflict merge failed")
			return
		}
		if err := eng.applyRemote(merged); err != nil {
			log.WithError(err).WithField("kind", eng.kind).Error("Install of merged entity failed")
			return
		}
		st.RemoteVersion = rec.Version
		st.Payload = merged
		st.UpdatedAt = time.Now()
		_ = svc.store.SaveSyncState(st)
		svc.pushLocked(eng, st, merged)
		return
	}

	if err := eng.applyRemote(rec.Payload); err != nil {
		log.WithError(err).WithField("kind", eng.kind).Error("Install of remote entity failed")
		return
	}
	syncRemoteAppliesTotal.WithLabelValues(eng.kind).Inc()

	now := time.Now()
	st.RemoteVersion = rec.Version
	st.Payload = rec.Payload
	st.LastSyncedAt = &now
	st.UpdatedAt = now
	if err := svc.store.SaveSyncState(st); err != nil {
		log.WithError(err).WithField("kind", eng.kind).Error("Sync state write failed")
	}
}

// reconcile runs the startup exchange for one entity: fetch the remote copy,
// merge it with whatever is local, and push if the local side had changes the
// backend has not seen.
func (svc *SyncService) reconcile(eng *entityEngine) error {
	eng.mu.Lock()
	defer eng.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	remote, err := svc.backend.Fetch(ctx, eng.kind)
	if err != nil {
		return err
	}
	svc.degraded.Store(false)

	st, err := svc.store.GetSyncState(eng.kind)
	if err != nil {
		return err
	}

	if remote == nil {
		// Backend has never seen this entity. Seed it from local state.
		payload, err := eng.localGet()
		if err != nil {
			return err
		}
		if len(payload) > 0 {
			svc.pushLocked(eng, st, payload)
		}
		return nil
	}

	if remote.Version > st.RemoteVersion {
		target := remote.Payload
		if st.Dirty {
			target, err = svc.merge(eng, st.Payload, remote.Payload)
			if err != nil {
				return err
			}
		}
		if err := eng.applyRemote(target); err != nil {
			return err
		}
		syncRemoteAppliesTotal.WithLabelValues(eng.kind).Inc()

		now := time.Now()
		st.RemoteVersion = remote.Version
		st.Payload = target
		st.LastSyncedAt = &now
		st.UpdatedAt = now
		if err := svc.store.SaveSyncState(st); err != nil {
			return err
		}
		if st.Dirty {
			svc.pushLocked(eng, st, target)
		}
		return nil
	}

	if st.Dirty {
		svc.pushLocked(eng, st, st.Payload)
	}
	return nil
}

func (svc *SyncService) merge(eng *entityEngine, local, remote []byte) ([]byte, error) {
	switch eng.shape {
	case shapeList:
		return mergeLists(local, remote)
	default:
		return mergeRecords(local, remote)
	}
}

// replayLoop drains the offline queue whenever the backend is reachable.
// Oldest first, so dependent entities land in the order they changed.
func (svc *SyncService) replayLoop() {
	ticker := time.NewTicker(replayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			svc.replayPending()
		case <-svc.closed:
			return
		}
	}
}

func (svc *SyncService) replayPending() {
	pending, err := svc.store.ListPendingPushes()
	if err != nil || len(pending) == 0 {
		return
	}
	if time.Now().Before(svc.replayAfter) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	healthy := svc.backend.Healthy(ctx)
	cancel()
	if !healthy {
		svc.degraded.Store(true)
		if svc.replayBackoff == 0 {
			svc.replayBackoff = replayInterval
		}
		svc.replayBackoff *= 2
		if svc.replayBackoff > time.Minute {
			svc.replayBackoff = time.Minute
		}
		svc.replayAfter = time.Now().Add(svc.replayBackoff)
		return
	}
	svc.replayBackoff = 0
	svc.replayAfter = time.Time{}

	log.WithField("pending", len(pending)).Info("Backend reachable, replaying queued pushes")
	for _, p := range pending {
		eng := svc.engine(p.EntityKind)
		if eng == nil {
			_ = svc.store.DeletePendingPush(p.EntityKind)
			continue
		}

		eng.mu.Lock()
		st, err := svc.store.GetSyncState(p.EntityKind)
		if err != nil {
			eng.mu.Unlock()
			continue
		}
		// The queued payload may predate later local writes; the mirror row
		// holds the freshest snapshot, so push that.
		payload := st.Payload
		if len(payload) == 0 {
			payload = p.Payload
		}
		svc.pushLocked(eng, st, payload)
		eng.mu.Unlock()
	}
}

// mergeRecords resolves a whole-record conflict by update time, remote
// winning ties. Payloads must carry an updated_at field.
func mergeRecords(local, remote []byte) ([]byte, error) {
	lt, err := shared.PayloadUpdatedAt(local)
	if err != nil {
		return remote, nil
	}
	rt, err := shared.PayloadUpdatedAt(remote)
	if err != nil {
		return local, nil
	}
	if lt.After(rt) {
		return local, nil
	}
	return remote, nil
}

// mergeLists merges two item arrays element-wise: per item the newer write
// wins, and on equal timestamps the tombstone wins so a removal is never
// undone by a concurrent stale add.
func mergeLists(local, remote []byte) ([]byte, error) {
	var localItems, remoteItems []model.SyncItem
	if len(local) > 0 {
		if err := shared.UnmarshalJSON(local, &localItems); err != nil {
			return nil, err
		}
	}
	if len(remote) > 0 {
		if err := shared.UnmarshalJSON(remote, &remoteItems); err != nil {
			return nil, err
		}
	}

	byID := make(map[string]model.SyncItem, len(localItems)+len(remoteItems))
	order := make([]string, 0, len(localItems)+len(remoteItems))
	for _, it := range localItems {
		byID[it.ID] = it
		order = append(order, it.ID)
	}
	for _, it := range remoteItems {
		cur, seen := byID[it.ID]
		if !seen {
			byID[it.ID] = it
			order = append(order, it.ID)
			continue
		}
		switch {
		case it.UpdatedAt.After(cur.UpdatedAt):
			byID[it.ID] = it
		case it.UpdatedAt.Equal(cur.UpdatedAt) && it.Deleted && !cur.Deleted:
			byID[it.ID] = it
		}
	}

	merged := make([]model.SyncItem, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	return shared.MarshalJSON(merged)
}
