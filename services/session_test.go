package services

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focusgrove/focus_api/dto"
	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

type fakeSessionStore struct {
	mu         sync.Mutex
	states     map[string]*model.SessionState
	records    map[string]*model.SessionRecord
	extensions []model.SessionExtension
	modes      map[string]*model.FocusMode
	settings   *model.UserSettings

	recordCreates int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{
		states:  map[string]*model.SessionState{},
		records: map[string]*model.SessionRecord{},
		modes:   map[string]*model.FocusMode{},
		settings: &model.UserSettings{
			UserID:             "u1",
			PauseKeepsBlocking: true,
			DailyGoalMinutes:   120,
		},
	}
}

func (f *fakeSessionStore) GetLiveSessionState(string) (*model.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, st := range f.states {
		if st.Live() {
			cp := *st
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakeSessionStore) GetSessionState(id string) (*model.SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.states[id]; ok {
		cp := *st
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeSessionStore) SaveSessionState(state *model.SessionState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *state
	f.states[state.SessionID] = &cp
	return nil
}

func (f *fakeSessionStore) CreateSessionRecord(rec *model.SessionRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[rec.SessionID]; ok {
		return false, nil
	}
	cp := *rec
	f.records[rec.SessionID] = &cp
	f.recordCreates++
	return true, nil
}

func (f *fakeSessionStore) GetSessionRecord(id string) (*model.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec, ok := f.records[id]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeSessionStore) CreateSessionExtension(ext *model.SessionExtension) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extensions = append(f.extensions, *ext)
	return nil
}

func (f *fakeSessionStore) ListSessionRecords(_ string, limit int) ([]model.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.SessionRecord, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, *rec)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeSessionStore) ListSessionRecordsSince(_ string, since time.Time) ([]model.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SessionRecord
	for _, rec := range f.records {
		if !rec.CompletedAt.Before(since) {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) GetMode(id string) (*model.FocusMode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.modes[id]; ok {
		return m, nil
	}
	return nil, errors.New("mode not found")
}

func (f *fakeSessionStore) GetUserSettings(string) (*model.UserSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings, nil
}

type fakeEnforcementDriver struct {
	mu     sync.Mutex
	active map[string]bool
	sets   map[string][]model.RestrictionTarget
}

func newFakeEnforcementDriver() *fakeEnforcementDriver {
	return &fakeEnforcementDriver{active: map[string]bool{}, sets: map[string][]model.RestrictionTarget{}}
}

func (f *fakeEnforcementDriver) Activate(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[name] = true
	return nil
}

func (f *fakeEnforcementDriver) Deactivate(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[name] = false
	return nil
}

func (f *fakeEnforcementDriver) SetRestrictions(name string, targets []model.RestrictionTarget) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sets[name] = targets
	return nil
}

func (f *fakeEnforcementDriver) isActive(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[name]
}

// testClock is a manually advanced clock so elapsed time is exact.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestSession(store *fakeSessionStore, enforcement *fakeEnforcementDriver, clock *testClock) *SessionService {
	return &SessionService{
		store:                 store,
		enforcement:           enforcement,
		userID:                "u1",
		deviceID:              "dev1",
		minCompletionFraction: 0.5,
		now:                   clock.Now,
		closed:                make(chan struct{}),
	}
}

func startOfDay() *testClock {
	return &testClock{now: time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)}
}

func TestStartSessionValidation(t *testing.T) {
	svc := newTestSession(newFakeSessionStore(), newFakeEnforcementDriver(), startOfDay())

	_, err := svc.StartSession(dto.StartSessionRequest{DurationMinutes: 0})
	assert.True(t, errors.Is(err, shared.ErrInvalidDuration))

	_, err = svc.StartSession(dto.StartSessionRequest{DurationMinutes: -5})
	assert.True(t, errors.Is(err, shared.ErrInvalidDuration))
}

func TestStartSessionActivatesTimerContext(t *testing.T) {
	store := newFakeSessionStore()
	enforcement := newFakeEnforcementDriver()
	clock := startOfDay()
	svc := newTestSession(store, enforcement, clock)

	state, err := svc.StartSession(dto.StartSessionRequest{DurationMinutes: 25})
	require.NoError(t, err)

	assert.Equal(t, shared.SessionActive, state.Status)
	assert.Equal(t, 25*60, state.PlannedDurationSecs)
	require.NotNil(t, state.EndsAt)
	assert.Equal(t, clock.Now().Add(25*time.Minute), *state.EndsAt)
	assert.True(t, enforcement.isActive(shared.ContextTimer))
	assert.False(t, enforcement.isActive(shared.ContextHardMode))
}

func TestStartOverLiveSessionRequiresReplace(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSession(store, newFakeEnforcementDriver(), startOfDay())

	first, err := svc.StartSession(dto.StartSessionRequest{DurationMinutes: 25})
	require.NoError(t, err)

	_, err = svc.StartSession(dto.StartSessionRequest{DurationMinutes: 10})
	assert.True(t, errors.Is(err, shared.ErrSessionAlreadyLive))

	second, err := svc.StartSession(dto.StartSessionRequest{DurationMinutes: 10, Replace: true})
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)

	rec, err := store.GetSessionRecord(first.SessionID)
	require.NoError(t, err)
	require.NotNil(t, rec, "replaced session must leave a record")
	assert.Equal(t, shared.OutcomeCancelled, rec.Outcome)
}

func TestHardModeRejectsPause(t *testing.T) {
	store := newFakeSessionStore()
	svc := newTestSession(store, newFakeEnforcementDriver(), startOfDay())

	hard := true
	state, err := svc.StartSession(dto.StartSessionRequest{DurationMinutes: 50, HardMode: &hard})
	require.NoError(t, err)
	require.True(t, state.IsHardMode)

	_, err = svc.Pause()
	assert.True(t, errors.Is(err, shared.ErrNotAllowedInHardMode))

	// Session is untouched by the rejected pause.
	assert.Equal(t, shared.SessionActive, svc.Current().Status)
}

func TestPauseResumeShiftsDeadline(t *testing.T) {
	store := newFakeSessionStore()
	clock := startOfDay()
	svc := newTestSession(store, newFakeEnforcementDriver(), clock)

	state, err := svc.StartSession(dto.StartSessionRequest{DurationMinutes: 25})
	require.NoError(t, err)
	originalEnd := *state.EndsAt

	clock.Advance(5 * time.Minute)
	paused, err := svc.Pause()
	require.NoError(t, err)
	assert.Equal(t, shared.SessionPaused, paused.Status)
	require.NotNil(t, paused.PausedAt)

	// Elapsed freezes while paused.
	clock.Advance(10 * time.Minute)
	assert.Equal(t, 5*60, svc.Current().ElapsedSeconds)

	resumed, err := svc.Resume()
	require.NoError(t, err)
	assert.Equal(t, shared.SessionActive, resumed.Status)
	assert.Nil(t, resumed.PausedAt)
	assert.Equal(t, 10*60, resumed.TotalPausedSeconds)
	require.NotNil(t, resumed.EndsAt)
	assert.Equal(t, originalEnd.Add(10*time.Minute), *resumed.EndsAt, "deadline shifts by the pause span")
}

func TestResumeWithoutPauseRejected(t *testing.T) {
	svc := newTestSession(newFakeSessionStore(), newFakeEnforcementDriver(), startOfDay())

	_, err := svc.Resume()
	assert.True(t, errors.Is(err, shared.ErrNoLiveSession))

	_, err = svc.StartSession(dto.StartSessionRequest{DurationMinutes: 25})
	require.NoError(t, err)

	_, err = svc.Resume()
	assert.True(t, errors.Is(err, shared.ErrSessionNotPaused))
}

func TestStopOutcomeByCompletionFraction(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		outcome string
	}{
		{name: "under_half_cancelled", elapsed: 10 * time.Minute, outcome: shared.OutcomeCancelled},
		{name: "over_half_completed", elapsed: 13 * time.Minute, outcome: shared.OutcomeCompleted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeSessionStore()
			enforcement := newFakeEnforcementDriver()
			clock := startOfDay()
			svc := newTestSession(store, enforcement, clock)

			_, err := svc.StartSession(dto.StartSessionRequest{DurationMinutes: 25})
			require.NoError(t, err)

			clock.Advance(tt.elapsed)
			rec, err := svc.Stop()
			require.NoError(t, err)

			assert.Equal(t, tt.outcome, rec.Outcome)
			assert.Equal(t, int(tt.elapsed/time.Second), rec.ActualDurationSecs)
			assert.False(t, enforcement.isActive(shared.ContextTimer))
		})
	}
}

func TestExactlyOneRecordPerSession(t *testing.T) {
	store := newFakeSessionStore()
	clock := startOfDay()
	svc := newTestSession(store, newFakeEnforcementDriver(), clock)

	var finished []model.SessionRecord
	svc.OnSessionFinished(func(rec model.SessionRecord) {
		finished = append(finished, rec)
	})

	state, err := svc.StartSession(dto.StartSessionRequest{DurationMinutes: 25})
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)
	rec, err := svc.Stop()
	require.NoError(t, err)

	// A second stop finds no live session.
	_, err = svc.Stop()
	assert.True(t, errors.Is(err, shared.ErrNoLiveSession))

	// A late elapse trigger on the terminal state returns the stored record
	// and emits nothing new.
	svc.mu.Lock()
	again, err := svc.finalizeLocked(svc.current, shared.OutcomeCompleted)
	svc.mu.Unlock()
	require.NoError(t, err)
	assert.Equal(t, rec.SessionID, again.SessionID)
	assert.Equal(t, rec.Outcome, again.Outcome)

	assert.Equal(t, 1, store.recordCreates)
	require.Len(t, finished, 1)
	assert.Equal(t, state.SessionID, finished[0].SessionID)
}

func TestExtendAuditsAndShiftsDeadline(t *testing.T) {
	store := newFakeSessionStore()
	clock := startOfDay()
	svc := newTestSession(store, newFakeEnforcementDriver(), clock)

	state, err := svc.StartSession(dto.StartSessionRequest{DurationMinutes: 25})
	require.NoError(t, err)
	originalEnd := *state.EndsAt

	extended, err := svc.Extend(10)
	require.NoError(t, err)
	assert.Equal(t, originalEnd.Add(10*time.Minute), *extended.EndsAt)
	assert.Equal(t, 35*60, extended.PlannedDurationSecs)

	require.Len(t, store.extensions, 1)
	assert.Equal(t, state.SessionID, store.extensions[0].SessionID)
	assert.Equal(t, 10*60, store.extensions[0].AddedSeconds)

	_, err = svc.Extend(0)
	assert.True(t, errors.Is(err, shared.ErrInvalidDuration))
}

func TestSummaryAggregatesPerMode(t *testing.T) {
	store := newFakeSessionStore()
	clock := startOfDay()
	svc := newTestSession(store, newFakeEnforcementDriver(), clock)

	day := clock.Now()
	store.records["s1"] = &model.SessionRecord{
		SessionID: "s1", ModeID: "mode_pomodoro", ActualDurationSecs: 25 * 60,
		CompletedAt: day.AddDate(0, 0, -1), Outcome: shared.OutcomeCompleted,
	}
	store.records["s2"] = &model.SessionRecord{
		SessionID: "s2", ModeID: "mode_pomodoro", ActualDurationSecs: 25 * 60,
		CompletedAt: day, Outcome: shared.OutcomeCompleted,
	}
	store.records["s3"] = &model.SessionRecord{
		SessionID: "s3", ModeID: "mode_deep_work", ActualDurationSecs: 10 * 60,
		CompletedAt: day, Outcome: shared.OutcomeCancelled,
	}

	summary, err := svc.Summary(7)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Sessions)
	assert.Equal(t, 2, summary.CompletedSessions)
	assert.Equal(t, 50, summary.CompletedMinutes, "cancelled sessions add no minutes")
	require.Len(t, summary.ByMode, 2)
	assert.Equal(t, "mode_deep_work", summary.ByMode[0].ModeID)
	assert.Equal(t, 0, summary.ByMode[0].CompletedMinutes)
	assert.Equal(t, "mode_pomodoro", summary.ByMode[1].ModeID)
	assert.Equal(t, 50, summary.ByMode[1].CompletedMinutes)
}

func TestCurrentReportsIdleWithoutSession(t *testing.T) {
	svc := newTestSession(newFakeSessionStore(), newFakeEnforcementDriver(), startOfDay())
	assert.Equal(t, shared.SessionIdle, svc.Current().Status)
}

func TestApplyRemoteTerminalEmitsNoRecord(t *testing.T) {
	store := newFakeSessionStore()
	enforcement := newFakeEnforcementDriver()
	clock := startOfDay()
	svc := newTestSession(store, enforcement, clock)

	state, err := svc.StartSession(dto.StartSessionRequest{DurationMinutes: 25})
	require.NoError(t, err)

	// The other device finished the session; local converges silently.
	remote := *state
	remote.Status = shared.SessionCompleted
	remote.UpdatedAt = clock.Now().Add(20 * time.Minute)
	require.NoError(t, svc.ApplyRemote(remote))

	assert.Equal(t, shared.SessionIdle, svc.Current().Status)
	assert.False(t, enforcement.isActive(shared.ContextTimer))
	assert.Equal(t, 0, store.recordCreates, "record arrives via the history entity, not here")
}
