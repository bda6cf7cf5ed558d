package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focusgrove/focus_api/dto"
	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

type fakeSyncStore struct {
	mu      sync.Mutex
	states  map[string]*model.SyncState
	pending map[string]*model.PendingPush
}

func newFakeSyncStore() *fakeSyncStore {
	return &fakeSyncStore{
		states:  map[string]*model.SyncState{},
		pending: map[string]*model.PendingPush{},
	}
}

func (f *fakeSyncStore) GetSyncState(kind string) (*model.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[kind]; ok {
		cp := *st
		return &cp, nil
	}
	return &model.SyncState{EntityKind: kind, UpdatedAt: time.Now()}, nil
}

func (f *fakeSyncStore) SaveSyncState(st *model.SyncState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *st
	f.states[st.EntityKind] = &cp
	return nil
}

func (f *fakeSyncStore) UpsertPendingPush(p *model.PendingPush) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *p
	f.pending[p.EntityKind] = &cp
	return nil
}

func (f *fakeSyncStore) ListPendingPushes() ([]model.PendingPush, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.PendingPush, 0, len(f.pending))
	for _, p := range f.pending {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeSyncStore) DeletePendingPush(kind string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, kind)
	return nil
}

func (f *fakeSyncStore) CountPendingPushes() (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.pending)), nil
}

// fakeBackend is an in-memory backend channel with CAS semantics matching the
// real one: a push with a stale expected version is rejected and returns the
// current record.
type fakeBackend struct {
	mu      sync.Mutex
	healthy bool
	version int64
	payload []byte
	pushErr error
	pushes  int
}

func (b *fakeBackend) Push(_ context.Context, kind string, payload []byte, expectedVersion int64) (*model.RemoteRecord, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pushes++
	if b.pushErr != nil {
		return nil, false, b.pushErr
	}
	if expectedVersion != b.version {
		return &model.RemoteRecord{EntityKind: kind, Payload: b.payload, Version: b.version}, false, nil
	}
	b.version++
	b.payload = append([]byte(nil), payload...)
	return &model.RemoteRecord{EntityKind: kind, Payload: b.payload, Version: b.version}, true, nil
}

func (b *fakeBackend) Fetch(_ context.Context, kind string) (*model.RemoteRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pushErr != nil {
		return nil, b.pushErr
	}
	if b.version == 0 {
		return nil, nil
	}
	return &model.RemoteRecord{EntityKind: kind, Payload: b.payload, Version: b.version}, nil
}

func (b *fakeBackend) Subscribe(string, func(model.RemoteRecord)) (func(), error) {
	return func() {}, nil
}

func (b *fakeBackend) Healthy(context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

func (b *fakeBackend) seed(version int64, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.version = version
	b.payload = payload
}

func newTestSync(store *fakeSyncStore, backend *fakeBackend) *SyncService {
	return &SyncService{
		store:    store,
		backend:  backend,
		deviceID: "dev1",
		engines:  map[string]*entityEngine{},
		closed:   make(chan struct{}),
	}
}

func recordPayload(value string, at time.Time) []byte {
	return []byte(fmt.Sprintf(`{"value":%q,"updated_at":%q}`, value, at.Format(time.RFC3339)))
}

func TestLocalChangePushAccepted(t *testing.T) {
	store := newFakeSyncStore()
	backend := &fakeBackend{healthy: true}
	svc := newTestSync(store, backend)

	payload := recordPayload("local", time.Now())
	svc.RegisterRecord(shared.EntitySettings,
		func() ([]byte, error) { return payload, nil },
		func([]byte) error { return nil },
	)

	svc.LocalChanged(shared.EntitySettings)

	st, err := store.GetSyncState(shared.EntitySettings)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.RemoteVersion)
	assert.False(t, st.Dirty)
	assert.NotNil(t, st.LastSyncedAt)
	assert.JSONEq(t, string(payload), string(st.Payload))
	assert.False(t, svc.Degraded())
	assert.Equal(t, int64(0), svc.QueueDepth())
}

func TestConflictMergesAndRepushes(t *testing.T) {
	store := newFakeSyncStore()
	backend := &fakeBackend{healthy: true}
	svc := newTestSync(store, backend)

	now := time.Now().Truncate(time.Second)
	remotePayload := recordPayload("remote", now.Add(time.Minute))
	localPayload := recordPayload("local", now)

	// Another device already pushed version 3; our mirror still thinks 0.
	backend.seed(3, remotePayload)

	var applied []byte
	svc.RegisterRecord(shared.EntitySettings,
		func() ([]byte, error) { return localPayload, nil },
		func(p []byte) error { applied = p; return nil },
	)

	svc.LocalChanged(shared.EntitySettings)

	// Remote copy is newer, so the merge installs it locally and the re-push
	// carries it back with the winning version.
	assert.JSONEq(t, string(remotePayload), string(applied))

	st, err := store.GetSyncState(shared.EntitySettings)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.RemoteVersion)
	assert.False(t, st.Dirty)
	assert.JSONEq(t, string(remotePayload), string(st.Payload))
	assert.Equal(t, 2, backend.pushes, "one rejected CAS, one merged re-push")
}

func TestLocalNewerWinsConflict(t *testing.T) {
	store := newFakeSyncStore()
	backend := &fakeBackend{healthy: true}
	svc := newTestSync(store, backend)

	now := time.Now().Truncate(time.Second)
	remotePayload := recordPayload("remote", now)
	localPayload := recordPayload("local", now.Add(time.Minute))
	backend.seed(3, remotePayload)

	svc.RegisterRecord(shared.EntitySettings,
		func() ([]byte, error) { return localPayload, nil },
		func([]byte) error { return nil },
	)

	svc.LocalChanged(shared.EntitySettings)

	st, err := store.GetSyncState(shared.EntitySettings)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.RemoteVersion)
	assert.JSONEq(t, string(localPayload), string(st.Payload))
	assert.JSONEq(t, string(localPayload), string(backend.payload), "newer local write survives the merge")
}

func TestOfflinePushQueuesAndReplays(t *testing.T) {
	store := newFakeSyncStore()
	backend := &fakeBackend{healthy: false, pushErr: errors.New("connection refused")}
	svc := newTestSync(store, backend)

	payload := recordPayload("local", time.Now())
	svc.RegisterRecord(shared.EntitySettings,
		func() ([]byte, error) { return payload, nil },
		func([]byte) error { return nil },
	)

	svc.LocalChanged(shared.EntitySettings)

	assert.True(t, svc.Degraded())
	assert.Equal(t, int64(1), svc.QueueDepth())

	// A second local write supersedes the queued one, never stacks.
	svc.LocalChanged(shared.EntitySettings)
	assert.Equal(t, int64(1), svc.QueueDepth())

	// Backend still down: replay leaves the queue alone.
	svc.replayPending()
	assert.Equal(t, int64(1), svc.QueueDepth())

	// Backend recovers; once the backoff window elapses the queued payload
	// drains on the next replay tick.
	backend.mu.Lock()
	backend.healthy = true
	backend.pushErr = nil
	backend.mu.Unlock()
	svc.replayAfter = time.Time{}

	svc.replayPending()
	assert.Equal(t, int64(0), svc.QueueDepth())
	assert.False(t, svc.Degraded())

	st, err := store.GetSyncState(shared.EntitySettings)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.RemoteVersion)
	assert.False(t, st.Dirty)
}

func TestRemoteEchoesSuppressed(t *testing.T) {
	store := newFakeSyncStore()
	svc := newTestSync(store, &fakeBackend{healthy: true})

	applies := 0
	svc.RegisterRecord(shared.EntitySettings,
		func() ([]byte, error) { return recordPayload("local", time.Now()), nil },
		func([]byte) error { applies++; return nil },
	)
	eng := svc.engine(shared.EntitySettings)

	// Our own write echoing back through the feed must not re-apply.
	svc.onRemote(eng, model.RemoteRecord{
		EntityKind:   shared.EntitySettings,
		Payload:      recordPayload("echo", time.Now()),
		Version:      5,
		SourceDevice: "dev1",
	})
	assert.Zero(t, applies)

	// A genuinely foreign newer write applies.
	svc.onRemote(eng, model.RemoteRecord{
		EntityKind:   shared.EntitySettings,
		Payload:      recordPayload("other", time.Now()),
		Version:      5,
		SourceDevice: "dev2",
	})
	assert.Equal(t, 1, applies)

	// Stale or already-seen versions are dropped.
	svc.onRemote(eng, model.RemoteRecord{
		EntityKind:   shared.EntitySettings,
		Payload:      recordPayload("stale", time.Now()),
		Version:      5,
		SourceDevice: "dev2",
	})
	assert.Equal(t, 1, applies)

	st, err := store.GetSyncState(shared.EntitySettings)
	require.NoError(t, err)
	assert.Equal(t, int64(5), st.RemoteVersion)
}

func TestReconcileSeedsEmptyBackend(t *testing.T) {
	store := newFakeSyncStore()
	backend := &fakeBackend{healthy: true}
	svc := newTestSync(store, backend)

	payload := recordPayload("local", time.Now())
	svc.RegisterRecord(shared.EntitySettings,
		func() ([]byte, error) { return payload, nil },
		func([]byte) error { return nil },
	)

	require.NoError(t, svc.reconcile(svc.engine(shared.EntitySettings)))

	assert.JSONEq(t, string(payload), string(backend.payload))
	st, err := store.GetSyncState(shared.EntitySettings)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.RemoteVersion)
}

func TestReconcileAdoptsNewerRemote(t *testing.T) {
	store := newFakeSyncStore()
	backend := &fakeBackend{healthy: true}
	svc := newTestSync(store, backend)

	remotePayload := recordPayload("remote", time.Now())
	backend.seed(7, remotePayload)

	var applied []byte
	svc.RegisterRecord(shared.EntitySettings,
		func() ([]byte, error) { return nil, nil },
		func(p []byte) error { applied = p; return nil },
	)

	require.NoError(t, svc.reconcile(svc.engine(shared.EntitySettings)))

	assert.JSONEq(t, string(remotePayload), string(applied))
	st, err := store.GetSyncState(shared.EntitySettings)
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.RemoteVersion)
}

func TestMergeRecordsLastWriterWins(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	older := recordPayload("older", now)
	newer := recordPayload("newer", now.Add(time.Minute))

	merged, err := mergeRecords(older, newer)
	require.NoError(t, err)
	assert.JSONEq(t, string(newer), string(merged))

	merged, err = mergeRecords(newer, older)
	require.NoError(t, err)
	assert.JSONEq(t, string(newer), string(merged))

	// Equal timestamps resolve to the remote side.
	remote := recordPayload("remote", now)
	merged, err = mergeRecords(older, remote)
	require.NoError(t, err)
	assert.JSONEq(t, string(remote), string(merged))
}

func TestMergeListsPerItem(t *testing.T) {
	now := time.Now().Truncate(time.Second)

	item := func(id string, at time.Time, deleted bool) model.SyncItem {
		it := model.SyncItem{ID: id, UpdatedAt: at, Deleted: deleted}
		if !deleted {
			it.Data = []byte(`{"name":"` + id + `"}`)
		}
		return it
	}
	marshal := func(items ...model.SyncItem) []byte {
		raw, err := shared.MarshalJSON(items)
		require.NoError(t, err)
		return raw
	}

	local := marshal(
		item("a", now, false),
		item("b", now.Add(time.Minute), false), // newer local edit
		item("c", now, true),                   // local delete
	)
	remote := marshal(
		item("b", now, false),                  // stale remote copy
		item("c", now, false),                  // concurrent stale add, same timestamp
		item("d", now.Add(time.Minute), false), // new remote item
	)

	merged, err := mergeLists(local, remote)
	require.NoError(t, err)

	var items []model.SyncItem
	require.NoError(t, shared.UnmarshalJSON(merged, &items))

	byID := map[string]model.SyncItem{}
	for _, it := range items {
		byID[it.ID] = it
	}
	require.Len(t, byID, 4)

	assert.False(t, byID["a"].Deleted)
	assert.Equal(t, now.Add(time.Minute).Unix(), byID["b"].UpdatedAt.Unix(), "newer local edit wins")
	assert.True(t, byID["c"].Deleted, "tombstone wins an equal-timestamp race")
	assert.False(t, byID["d"].Deleted, "remote-only item joins the merge")
}

// syncHub is the realtime backend shared by every device in multi-device
// tests: one CAS register per kind with a change feed that echoes accepted
// writes to every subscriber, the writer included, the way the real pub/sub
// channel does.
type syncHub struct {
	mu      sync.Mutex
	version int64
	payload []byte
	source  string
	subs    []func(model.RemoteRecord)
	pushes  int
}

func (h *syncHub) push(device, kind string, payload []byte, expectedVersion int64) (*model.RemoteRecord, bool, error) {
	h.mu.Lock()
	h.pushes++
	if expectedVersion != h.version {
		rec := model.RemoteRecord{EntityKind: kind, Payload: h.payload, Version: h.version, SourceDevice: h.source}
		h.mu.Unlock()
		return &rec, false, nil
	}
	h.version++
	h.payload = append([]byte(nil), payload...)
	h.source = device
	rec := model.RemoteRecord{EntityKind: kind, Payload: h.payload, Version: h.version, SourceDevice: device}
	subs := append([]func(model.RemoteRecord){}, h.subs...)
	h.mu.Unlock()

	for _, fn := range subs {
		fn(rec)
	}
	return &rec, true, nil
}

func (h *syncHub) pushCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pushes
}

func (h *syncHub) currentVersion() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

// hubBackend is one device's connection to the hub; it stamps outbound
// writes with the device identity like the real backend channel.
type hubBackend struct {
	hub    *syncHub
	device string
}

func (b *hubBackend) Push(_ context.Context, kind string, payload []byte, expectedVersion int64) (*model.RemoteRecord, bool, error) {
	return b.hub.push(b.device, kind, payload, expectedVersion)
}

func (b *hubBackend) Fetch(_ context.Context, kind string) (*model.RemoteRecord, error) {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	if b.hub.version == 0 {
		return nil, nil
	}
	return &model.RemoteRecord{EntityKind: kind, Payload: b.hub.payload, Version: b.hub.version, SourceDevice: b.hub.source}, nil
}

func (b *hubBackend) Subscribe(_ string, handler func(model.RemoteRecord)) (func(), error) {
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	b.hub.subs = append(b.hub.subs, handler)
	return func() {}, nil
}

func (b *hubBackend) Healthy(context.Context) bool { return true }

// timerDevice wires one device's session service to its sync engine the way
// the runtime does: local transitions fan out through LocalChanged, remote
// payloads install through ApplyRemote.
type timerDevice struct {
	sess    *SessionService
	syncSvc *SyncService

	mu   sync.Mutex
	last model.SessionState
}

func newTimerDevice(id string, hub *syncHub) *timerDevice {
	d := &timerDevice{
		sess: newTestSession(newFakeSessionStore(), newFakeEnforcementDriver(), startOfDay()),
	}
	d.sess.deviceID = id
	d.syncSvc = &SyncService{
		store:    newFakeSyncStore(),
		backend:  &hubBackend{hub: hub, device: id},
		deviceID: id,
		engines:  map[string]*entityEngine{},
		closed:   make(chan struct{}),
	}

	d.syncSvc.RegisterRecord(shared.EntityTimer,
		func() ([]byte, error) {
			d.mu.Lock()
			defer d.mu.Unlock()
			return shared.MarshalJSON(d.last)
		},
		func(payload []byte) error {
			var state model.SessionState
			if err := shared.UnmarshalJSON(payload, &state); err != nil {
				return err
			}
			return d.sess.ApplyRemote(state)
		},
	)
	d.sess.OnStateChanged(func(st model.SessionState) {
		d.mu.Lock()
		d.last = st
		d.mu.Unlock()
		d.syncSvc.LocalChanged(shared.EntityTimer)
	})

	eng := d.syncSvc.engine(shared.EntityTimer)
	_, _ = d.syncSvc.backend.Subscribe(shared.EntityTimer, func(rec model.RemoteRecord) {
		d.syncSvc.onRemote(eng, rec)
	})
	return d
}

func TestTimerConvergesAcrossDevicesWithoutEcho(t *testing.T) {
	hub := &syncHub{}
	a := newTimerDevice("device-a", hub)
	b := newTimerDevice("device-b", hub)

	state, err := a.sess.StartSession(dto.StartSessionRequest{DurationMinutes: 25})
	require.NoError(t, err)

	// One local transition is exactly one backend write; the receiving
	// device installs it without pushing it back out under a new version.
	assert.Equal(t, 1, hub.pushCount())
	assert.EqualValues(t, 1, hub.currentVersion())

	got := b.sess.StateSnapshot()
	require.NotNil(t, got)
	assert.Equal(t, state.SessionID, got.SessionID)
	assert.Equal(t, shared.SessionActive, got.Status)

	_, err = a.sess.Pause()
	require.NoError(t, err)

	assert.Equal(t, 2, hub.pushCount())
	assert.EqualValues(t, 2, hub.currentVersion())
	got = b.sess.StateSnapshot()
	require.NotNil(t, got)
	assert.Equal(t, shared.SessionPaused, got.Status)

	// The receiver holds the installed version clean: nothing dirty,
	// nothing queued, nothing left to converge.
	st, err := b.syncSvc.store.GetSyncState(shared.EntityTimer)
	require.NoError(t, err)
	assert.False(t, st.Dirty)
	assert.EqualValues(t, 2, st.RemoteVersion)
	assert.EqualValues(t, 0, b.syncSvc.QueueDepth())
}
