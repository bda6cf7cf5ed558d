package services

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/focusgrove/focus_api/dto"
	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

type sessionStore interface {
	GetLiveSessionState(userID string) (*model.SessionState, error)
	GetSessionState(sessionID string) (*model.SessionState, error)
	SaveSessionState(state *model.SessionState) error
	CreateSessionRecord(rec *model.SessionRecord) (bool, error)
	GetSessionRecord(sessionID string) (*model.SessionRecord, error)
	CreateSessionExtension(ext *model.SessionExtension) error
	ListSessionRecords(userID string, limit int) ([]model.SessionRecord, error)
	ListSessionRecordsSince(userID string, since time.Time) ([]model.SessionRecord, error)
	GetMode(id string) (*model.FocusMode, error)
	GetUserSettings(userID string) (*model.UserSettings, error)
}

type enforcementDriver interface {
	Activate(name string) error
	Deactivate(name string) error
	SetRestrictions(name string, targets []model.RestrictionTarget) error
}

// SessionService owns the canonical lifecycle of a focus session:
// idle -> active -> paused -> completed/cancelled. Every mutation is
// serialized behind one lock; enforcement and sync side effects never block
// the caller. Exactly one SessionRecord is emitted per session: a session
// already in a terminal state absorbs further stop and elapse triggers.
type SessionService struct {
	appContext.DefaultService

	store       sessionStore
	enforcement enforcementDriver

	userID   string
	deviceID string

	// minCompletionFraction decides completed vs cancelled on explicit stop.
	// Policy constant pending product confirmation, so env-tunable.
	minCompletionFraction float64

	mu      sync.Mutex
	current *model.SessionState

	stateListeners    []func(model.SessionState)
	terminalListeners []func(model.SessionRecord)

	now    func() time.Time
	closed chan struct{}
}

const SESSION_SVC = "session_svc"

func (svc *SessionService) Id() string {
	return SESSION_SVC
}

func (svc *SessionService) Configure(ctx *appContext.Context) error {
	svc.userID = os.Getenv("FOCUS_USER_ID")
	svc.now = time.Now
	svc.closed = make(chan struct{})

	svc.minCompletionFraction = 0.5
	if raw := os.Getenv("MIN_COMPLETION_FRACTION"); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 && f <= 1 {
			svc.minCompletionFraction = f
		}
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *SessionService) Start() error {
	svc.store = svc.Service(SQLITE_SVC).(*SqliteService)
	svc.enforcement = svc.Service(ENFORCEMENT_SVC).(*EnforcementService)

	// A live session survives a relaunch; pick it back up and let the
	// watcher finish it if its time already ran out.
	live, err := svc.store.GetLiveSessionState(svc.userID)
	if err != nil {
		return err
	}
	svc.mu.Lock()
	svc.current = live
	svc.mu.Unlock()

	go svc.watchElapsed()
	return nil
}

func (svc *SessionService) Shutdown() {
	close(svc.closed)
}

func (svc *SessionService) SetDeviceID(id string) {
	svc.deviceID = id
}

// OnStateChanged registers a listener for locally initiated state
// transitions. Remote installs via ApplyRemote do not fire it, so wiring it
// to the sync push path cannot echo a received state back out.
func (svc *SessionService) OnStateChanged(fn func(model.SessionState)) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.stateListeners = append(svc.stateListeners, fn)
}

// OnSessionFinished registers a listener for locally emitted session records.
func (svc *SessionService) OnSessionFinished(fn func(model.SessionRecord)) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.terminalListeners = append(svc.terminalListeners, fn)
}

// StartSession begins a new focus session. A live session rejects the start
// unless replace is set, in which case it is stopped as cancelled first —
// the same policy on every device, so the synced timer state stays single.
func (svc *SessionService) StartSession(req dto.StartSessionRequest) (*model.SessionState, error) {
	if req.DurationMinutes <= 0 {
		return nil, fmt.Errorf("%w: %d minutes", shared.ErrInvalidDuration, req.DurationMinutes)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	if svc.current != nil && svc.current.Live() {
		if !req.Replace {
			return nil, shared.ErrSessionAlreadyLive
		}
		if _, err := svc.finalizeLocked(svc.current, shared.OutcomeCancelled); err != nil {
			return nil, err
		}
	}

	hardMode := false
	var restrictions []model.RestrictionTarget
	if req.ModeID != "" {
		mode, err := svc.store.GetMode(req.ModeID)
		if err != nil {
			return nil, shared.NewConfigurationError(err, "Unknown focus mode")
		}
		hardMode = mode.HardMode
		restrictions = mode.Restrictions
	}
	if req.HardMode != nil {
		hardMode = *req.HardMode
	}

	now := svc.now()
	endsAt := now.Add(time.Duration(req.DurationMinutes) * time.Minute)
	id, _ := uuid.NewV7()

	state := &model.SessionState{
		SessionID:           id.String(),
		UserID:              svc.userID,
		Status:              shared.SessionActive,
		StartedAt:           now,
		EndsAt:              &endsAt,
		PlannedDurationSecs: req.DurationMinutes * 60,
		ModeID:              req.ModeID,
		IsHardMode:          hardMode,
		UpdatedAt:           now,
	}

	if err := svc.store.SaveSessionState(state); err != nil {
		return nil, err
	}
	svc.current = state

	if err := svc.enforcement.SetRestrictions(shared.ContextTimer, restrictions); err != nil {
		log.WithError(err).Error("Failed to hand restrictions to timer context")
	}
	if err := svc.enforcement.Activate(shared.ContextTimer); err != nil {
		log.WithError(err).Error("Failed to activate timer context")
	}
	if hardMode {
		_ = svc.enforcement.SetRestrictions(shared.ContextHardMode, restrictions)
		_ = svc.enforcement.Activate(shared.ContextHardMode)
	}

	sessionsStartedTotal.Inc()
	log.WithFields(log.Fields{
		"session_id": state.SessionID,
		"minutes":    req.DurationMinutes,
		"hard_mode":  hardMode,
	}).Info("Focus session started")

	svc.notifyStateLocked(*state)
	return state, nil
}

// Pause suspends an active session. Hard mode disallows pausing outright.
// Blocking stays up while paused unless the user's settings opt out.
func (svc *SessionService) Pause() (*model.SessionState, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	state := svc.current
	if state == nil || !state.Live() {
		return nil, shared.ErrNoLiveSession
	}
	if state.IsHardMode {
		return nil, shared.ErrNotAllowedInHardMode
	}
	if state.Status != shared.SessionActive {
		return nil, shared.ErrSessionNotPaused
	}

	now := svc.now()
	state.Status = shared.SessionPaused
	state.PausedAt = &now
	state.UpdatedAt = now

	if err := svc.store.SaveSessionState(state); err != nil {
		return nil, err
	}

	keepBlocking := true
	if settings, err := svc.store.GetUserSettings(svc.userID); err == nil {
		keepBlocking = settings.PauseKeepsBlocking
	}
	if !keepBlocking {
		if err := svc.enforcement.Deactivate(shared.ContextTimer); err != nil {
			log.WithError(err).Error("Failed to deactivate timer context on pause")
		}
	}

	log.WithField("session_id", state.SessionID).Info("Focus session paused")
	svc.notifyStateLocked(*state)
	return state, nil
}

// Resume continues a paused session, pushing the deadline out by the pause
// span so planned focus time is preserved.
func (svc *SessionService) Resume() (*model.SessionState, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	state := svc.current
	if state == nil || !state.Live() {
		return nil, shared.ErrNoLiveSession
	}
	if state.Status != shared.SessionPaused || state.PausedAt == nil {
		return nil, shared.ErrSessionNotPaused
	}

	now := svc.now()
	pausedFor := now.Sub(*state.PausedAt)
	if pausedFor < 0 {
		pausedFor = 0
	}
	state.TotalPausedSeconds += int(pausedFor / time.Second)
	if state.EndsAt != nil {
		shifted := state.EndsAt.Add(pausedFor)
		state.EndsAt = &shifted
	}
	state.Status = shared.SessionActive
	state.PausedAt = nil
	state.UpdatedAt = now

	if err := svc.store.SaveSessionState(state); err != nil {
		return nil, err
	}

	if err := svc.enforcement.Activate(shared.ContextTimer); err != nil {
		log.WithError(err).Error("Failed to reactivate timer context on resume")
	}

	log.WithField("session_id", state.SessionID).Info("Focus session resumed")
	svc.notifyStateLocked(*state)
	return state, nil
}

// Extend pushes the deadline forward. Unbounded, but every call is audited.
func (svc *SessionService) Extend(minutes int) (*model.SessionState, error) {
	if minutes <= 0 {
		return nil, fmt.Errorf("%w: %d minutes", shared.ErrInvalidDuration, minutes)
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()

	state := svc.current
	if state == nil || state.Status != shared.SessionActive {
		return nil, shared.ErrNoLiveSession
	}

	now := svc.now()
	added := time.Duration(minutes) * time.Minute
	if state.EndsAt != nil {
		shifted := state.EndsAt.Add(added)
		state.EndsAt = &shifted
	}
	state.PlannedDurationSecs += minutes * 60
	state.UpdatedAt = now

	if err := svc.store.SaveSessionState(state); err != nil {
		return nil, err
	}

	extID, _ := uuid.NewV7()
	if err := svc.store.CreateSessionExtension(&model.SessionExtension{
		ID:             extID.String(),
		SessionID:      state.SessionID,
		AddedSeconds:   minutes * 60,
		RequestedAt:    now,
		SourceDeviceID: svc.deviceID,
	}); err != nil {
		log.WithError(err).Warn("Failed to audit session extension")
	}

	log.WithFields(log.Fields{"session_id": state.SessionID, "minutes": minutes}).Info("Focus session extended")
	svc.notifyStateLocked(*state)
	return state, nil
}

// Stop ends the live session. Outcome is completed when elapsed reached the
// minimum completion fraction of the planned duration, else cancelled.
func (svc *SessionService) Stop() (*model.SessionRecord, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	state := svc.current
	if state == nil || !state.Live() {
		return nil, shared.ErrNoLiveSession
	}

	elapsed := state.Elapsed(svc.now())
	outcome := shared.OutcomeCancelled
	if elapsed.Seconds() >= svc.minCompletionFraction*float64(state.PlannedDurationSecs) {
		outcome = shared.OutcomeCompleted
	}

	return svc.finalizeLocked(state, outcome)
}

// Toggle is the deep-link surface: stop when live, start defaults otherwise.
func (svc *SessionService) Toggle() (*model.SessionState, *model.SessionRecord, error) {
	svc.mu.Lock()
	live := svc.current != nil && svc.current.Live()
	svc.mu.Unlock()

	if live {
		rec, err := svc.Stop()
		return nil, rec, err
	}

	req := dto.StartSessionRequest{DurationMinutes: 25}
	if settings, err := svc.store.GetUserSettings(svc.userID); err == nil && settings.DefaultModeID != "" {
		if mode, err := svc.store.GetMode(settings.DefaultModeID); err == nil {
			req.ModeID = mode.ID
			req.DurationMinutes = mode.DurationSeconds / 60
		}
	}
	state, err := svc.StartSession(req)
	return state, nil, err
}

// StateSnapshot returns a copy of the most recent session state, live or
// terminal, or nil when no session ever ran.
func (svc *SessionService) StateSnapshot() *model.SessionState {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.current == nil {
		return nil
	}
	cp := *svc.current
	return &cp
}

// Current returns a snapshot of the live session, or an idle response.
func (svc *SessionService) Current() dto.SessionStateResponse {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	state := svc.current
	if state == nil || !state.Live() {
		return dto.SessionStateResponse{Status: shared.SessionIdle}
	}

	now := svc.now()
	remaining := 0
	if state.EndsAt != nil {
		remaining = int(state.EndsAt.Sub(now) / time.Second)
		if remaining < 0 {
			remaining = 0
		}
	}
	return dto.SessionStateResponse{
		SessionID:        state.SessionID,
		Status:           state.Status,
		StartedAt:        &state.StartedAt,
		EndsAt:           state.EndsAt,
		PausedAt:         state.PausedAt,
		RemainingSeconds: remaining,
		ElapsedSeconds:   int(state.Elapsed(now) / time.Second),
		PlannedSeconds:   state.PlannedDurationSecs,
		ModeID:           state.ModeID,
		IsHardMode:       state.IsHardMode,
	}
}

// ApplyRemote installs timer state written by another device. Stale versions
// were already dropped by the sync engine; here newer remote truth simply
// replaces local. A remote terminal state finishes the local session without
// emitting a record — the finishing device owns that emission and the record
// arrives through the session history entity.
func (svc *SessionService) ApplyRemote(remote model.SessionState) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	local := svc.current
	if local != nil && local.SessionID == remote.SessionID && local.Terminal() {
		// Already finished here; nothing to converge.
		return nil
	}

	if err := svc.store.SaveSessionState(&remote); err != nil {
		return err
	}

	if remote.Live() {
		svc.current = &remote
		_ = svc.enforcement.Activate(shared.ContextTimer)
		if remote.IsHardMode {
			_ = svc.enforcement.Activate(shared.ContextHardMode)
		}
	} else {
		if local != nil && local.SessionID == remote.SessionID {
			svc.current = &remote
		}
		_ = svc.enforcement.Deactivate(shared.ContextTimer)
		_ = svc.enforcement.Deactivate(shared.ContextHardMode)
	}

	// No state listener fire here: the originating device already synced
	// this state, and notifying would push it back out under a new version,
	// with both devices echoing the same payload at each other forever.
	return nil
}

// finalizeLocked performs the terminal transition. Idempotent on sessionID:
// an already-terminal session returns its existing record and triggers no
// side effects.
func (svc *SessionService) finalizeLocked(state *model.SessionState, outcome string) (*model.SessionRecord, error) {
	if state.Terminal() {
		return svc.store.GetSessionRecord(state.SessionID)
	}

	now := svc.now()
	elapsed := state.Elapsed(now)

	if outcome == shared.OutcomeCompleted {
		state.Status = shared.SessionCompleted
	} else {
		state.Status = shared.SessionCancelled
	}
	state.PausedAt = nil
	state.UpdatedAt = now

	if err := svc.store.SaveSessionState(state); err != nil {
		return nil, err
	}

	rec := &model.SessionRecord{
		SessionID:           state.SessionID,
		UserID:              state.UserID,
		ModeID:              state.ModeID,
		PlannedDurationSecs: state.PlannedDurationSecs,
		ActualDurationSecs:  int(elapsed / time.Second),
		CompletedAt:         now,
		WasHardMode:         state.IsHardMode,
		Outcome:             outcome,
		CreatedAt:           now,
	}

	created, err := svc.store.CreateSessionRecord(rec)
	if err != nil {
		return nil, err
	}

	if err := svc.enforcement.Deactivate(shared.ContextTimer); err != nil {
		log.WithError(err).Error("Failed to deactivate timer context")
	}
	if state.IsHardMode {
		_ = svc.enforcement.Deactivate(shared.ContextHardMode)
	}

	if created {
		sessionsFinishedTotal.WithLabelValues(outcome).Inc()
		log.WithFields(log.Fields{
			"session_id": rec.SessionID,
			"outcome":    outcome,
			"minutes":    rec.ActualDurationSecs / 60,
		}).Info("Focus session finished")

		for _, fn := range svc.terminalListeners {
			fn(*rec)
		}
	}

	svc.notifyStateLocked(*state)
	return rec, nil
}

// History lists finished sessions, newest first.
func (svc *SessionService) History(limit int) (*dto.SessionHistoryResponse, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	recs, err := svc.store.ListSessionRecords(svc.userID, limit)
	if err != nil {
		return nil, err
	}

	resp := &dto.SessionHistoryResponse{Records: make([]dto.SessionRecordResponse, 0, len(recs)), Total: len(recs)}
	for _, r := range recs {
		resp.Records = append(resp.Records, dto.SessionRecordResponse{
			SessionID:          r.SessionID,
			ModeID:             r.ModeID,
			ActualDurationSecs: r.ActualDurationSecs,
			CompletedAt:        r.CompletedAt,
			WasHardMode:        r.WasHardMode,
			Outcome:            r.Outcome,
		})
	}
	return resp, nil
}

// DayTotals aggregates completed focus time for one calendar day against the
// user's daily goal.
func (svc *SessionService) DayTotals(day time.Time) (*dto.DayTotalsResponse, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	recs, err := svc.store.ListSessionRecordsSince(svc.userID, start)
	if err != nil {
		return nil, err
	}

	resp := &dto.DayTotalsResponse{Date: start.Format("2006-01-02")}
	end := start.AddDate(0, 0, 1)
	for _, r := range recs {
		if !r.CompletedAt.Before(end) {
			continue
		}
		resp.Sessions++
		if r.Outcome == shared.OutcomeCompleted {
			resp.CompletedMinutes += r.ActualDurationSecs / 60
		}
	}
	if settings, err := svc.store.GetUserSettings(svc.userID); err == nil {
		resp.GoalMinutes = settings.DailyGoalMinutes
	}
	return resp, nil
}

// Summary aggregates the trailing window (default a week) with a per-mode
// breakdown. Only completed sessions contribute minutes.
func (svc *SessionService) Summary(days int) (*dto.SessionSummaryResponse, error) {
	if days <= 0 || days > 365 {
		days = 7
	}
	now := svc.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, -(days - 1))

	recs, err := svc.store.ListSessionRecordsSince(svc.userID, start)
	if err != nil {
		return nil, err
	}

	resp := &dto.SessionSummaryResponse{
		From: start.Format("2006-01-02"),
		To:   now.Format("2006-01-02"),
	}
	byMode := map[string]*dto.ModeTotalsResponse{}
	var order []string
	for _, r := range recs {
		resp.Sessions++
		m, ok := byMode[r.ModeID]
		if !ok {
			m = &dto.ModeTotalsResponse{ModeID: r.ModeID}
			byMode[r.ModeID] = m
			order = append(order, r.ModeID)
		}
		m.Sessions++
		if r.Outcome == shared.OutcomeCompleted {
			resp.CompletedSessions++
			resp.CompletedMinutes += r.ActualDurationSecs / 60
			m.CompletedMinutes += r.ActualDurationSecs / 60
		}
	}
	sort.Strings(order)
	for _, id := range order {
		resp.ByMode = append(resp.ByMode, *byMode[id])
	}
	return resp, nil
}

func (svc *SessionService) notifyStateLocked(state model.SessionState) {
	for _, fn := range svc.stateListeners {
		fn(state)
	}
}

// watchElapsed is the background completion watcher: a scheduled check, not
// a blocking wait, so a device that sleeps past the deadline completes the
// session on its next tick.
func (svc *SessionService) watchElapsed() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-svc.closed:
			return
		case <-ticker.C:
			svc.mu.Lock()
			state := svc.current
			if state != nil && state.Status == shared.SessionActive &&
				state.EndsAt != nil && !svc.now().Before(*state.EndsAt) {
				if _, err := svc.finalizeLocked(state, shared.OutcomeCompleted); err != nil {
					log.WithError(err).Error("Elapsed watcher failed to finish session")
				}
			}
			svc.mu.Unlock()
		}
	}
}
