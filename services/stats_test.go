package services

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

type fakeStatsStore struct {
	mu           sync.Mutex
	stats        *model.UserStats
	processed    map[string]*model.ProcessedSession
	achievements []model.Achievement

	statsSaves int
}

func newFakeStatsStore() *fakeStatsStore {
	return &fakeStatsStore{
		stats:     &model.UserStats{UserID: "u1", Level: 1},
		processed: map[string]*model.ProcessedSession{},
	}
}

func (f *fakeStatsStore) GetUserStats(string) (*model.UserStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.stats
	return &cp, nil
}

func (f *fakeStatsStore) SaveUserStats(stats *model.UserStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *stats
	f.stats = &cp
	f.statsSaves++
	return nil
}

func (f *fakeStatsStore) GetProcessedSession(id string) (*model.ProcessedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.processed[id]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeStatsStore) CreateProcessedSession(p *model.ProcessedSession) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.processed[p.SessionID]; ok {
		return false, nil
	}
	cp := *p
	f.processed[p.SessionID] = &cp
	return true, nil
}

func (f *fakeStatsStore) ListAchievements() ([]model.Achievement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Achievement(nil), f.achievements...), nil
}

func newTestStats(store *fakeStatsStore) *StatsService {
	return &StatsService{
		store:            store,
		media:            &MediaService{},
		userID:           "u1",
		baseXPPerMinute:  10,
		completionBonus:  1.5,
		streakBonusWeek:  1.25,
		streakBonusMonth: 1.5,
		hardModeBonus:    2.0,
		doubleXPBonus:    2.0,
		rewardChance:     0, // tests enable rolls explicitly
		rewardXPAmount:   100,
		freezeCap:        3,
		freezeReplenish:  1,
		rewardWeights: []rewardWeight{
			{shared.RewardXPBonus, 40},
			{shared.RewardStreakFreeze, 25},
			{shared.RewardDoubleXP, 20},
			{shared.RewardTheme, 15},
		},
	}
}

func completedRecord(id string, minutes int, at time.Time) model.SessionRecord {
	return model.SessionRecord{
		SessionID:           id,
		UserID:              "u1",
		PlannedDurationSecs: minutes * 60,
		ActualDurationSecs:  minutes * 60,
		CompletedAt:         at,
		Outcome:             shared.OutcomeCompleted,
	}
}

func noon(day int) time.Time {
	return time.Date(2026, 3, day, 12, 0, 0, 0, time.UTC)
}

func TestXPForCompletedSession(t *testing.T) {
	store := newFakeStatsStore()
	// Stop replenish from granting a freeze mid-test.
	store.stats.LastFreezeReplenishMonth = "2026-03"
	svc := newTestStats(store)

	delta, err := svc.OnSessionCompleted(completedRecord("s1", 25, noon(10)))
	require.NoError(t, err)

	// 25 minutes at 10 XP/min, completion bonus applied.
	assert.Equal(t, 375, delta.XPAwarded)
	assert.Equal(t, 1, delta.StreakAfter)
	assert.Equal(t, 1, delta.NewLevel)
	assert.False(t, delta.LeveledUp)
	assert.Equal(t, 375, store.stats.TotalXP)
	assert.Equal(t, 1, store.stats.TotalSessions)
	assert.Equal(t, 25*60, store.stats.TotalFocusSeconds)
}

func TestXPMultipliersStack(t *testing.T) {
	tests := []struct {
		name     string
		streak   int
		hardMode bool
		doubleXP bool
		wantXP   int
	}{
		{name: "plain", wantXP: 375},
		{name: "week_streak", streak: 7, wantXP: 469},            // 250 * 1.5 * 1.25
		{name: "month_streak", streak: 30, wantXP: 563},          // 250 * 1.5 * 1.5
		{name: "hard_mode", hardMode: true, wantXP: 750},         // 250 * 1.5 * 2
		{name: "double_xp_pending", doubleXP: true, wantXP: 750}, // 250 * 1.5 * 2
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStatsStore()
			store.stats.LastFreezeReplenishMonth = "2026-03"
			store.stats.CurrentStreakDays = tt.streak
			if tt.streak > 0 {
				prev := noon(9)
				store.stats.LastQualifyingDate = &prev
			}
			store.stats.DoubleXPPending = tt.doubleXP
			svc := newTestStats(store)

			rec := completedRecord("s1", 25, noon(10))
			rec.WasHardMode = tt.hardMode

			delta, err := svc.OnSessionCompleted(rec)
			require.NoError(t, err)
			assert.Equal(t, tt.wantXP, delta.XPAwarded)
			assert.Equal(t, tt.doubleXP, delta.DoubleXPConsumed)
			if tt.doubleXP {
				assert.False(t, store.stats.DoubleXPPending, "double XP is consumed by one session")
			}
		})
	}
}

func TestCancelledSessionGetsNoCompletionBonusOrStreak(t *testing.T) {
	store := newFakeStatsStore()
	store.stats.LastFreezeReplenishMonth = "2026-03"
	svc := newTestStats(store)

	rec := completedRecord("s1", 10, noon(10))
	rec.Outcome = shared.OutcomeCancelled

	delta, err := svc.OnSessionCompleted(rec)
	require.NoError(t, err)

	assert.Equal(t, 100, delta.XPAwarded, "partial time still earns base XP")
	assert.Equal(t, 0, delta.StreakAfter)
	assert.Equal(t, 0, store.stats.TotalCompletedSessions)
	assert.Equal(t, 1, store.stats.TotalSessions)
}

func TestStreakProgression(t *testing.T) {
	store := newFakeStatsStore()
	store.stats.LastFreezeReplenishMonth = "2026-03"
	svc := newTestStats(store)

	// Day 1 starts the streak, same-day sessions don't extend it.
	_, err := svc.OnSessionCompleted(completedRecord("s1", 25, noon(10)))
	require.NoError(t, err)
	_, err = svc.OnSessionCompleted(completedRecord("s2", 25, noon(10)))
	require.NoError(t, err)
	assert.Equal(t, 1, store.stats.CurrentStreakDays)

	// Next day extends.
	_, err = svc.OnSessionCompleted(completedRecord("s3", 25, noon(11)))
	require.NoError(t, err)
	assert.Equal(t, 2, store.stats.CurrentStreakDays)

	// A three-day gap with no freeze resets to 1.
	_, err = svc.OnSessionCompleted(completedRecord("s4", 25, noon(14)))
	require.NoError(t, err)
	assert.Equal(t, 1, store.stats.CurrentStreakDays)
	assert.Equal(t, 2, store.stats.LongestStreakDays)
}

func TestStreakSpansShortenedDSTDay(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	store := newFakeStatsStore()
	store.stats.LastFreezeReplenishMonth = "2026-03"
	svc := newTestStats(store)

	// Clocks spring forward on March 8th, so the span between the two
	// local midnights is 23 hours, not 24. Still a one-day gap.
	_, err = svc.OnSessionCompleted(completedRecord("s1", 25, time.Date(2026, 3, 8, 12, 0, 0, 0, loc)))
	require.NoError(t, err)
	_, err = svc.OnSessionCompleted(completedRecord("s2", 25, time.Date(2026, 3, 9, 12, 0, 0, 0, loc)))
	require.NoError(t, err)

	assert.Equal(t, 2, store.stats.CurrentStreakDays)
}

func TestStreakFreezeBridgesOneMissedDay(t *testing.T) {
	store := newFakeStatsStore()
	store.stats.LastFreezeReplenishMonth = "2026-03"
	store.stats.CurrentStreakDays = 10
	store.stats.LongestStreakDays = 10
	store.stats.StreakFreezesAvailable = 1
	prev := noon(8)
	store.stats.LastQualifyingDate = &prev
	svc := newTestStats(store)

	// Day 9 missed, session lands on day 10.
	delta, err := svc.OnSessionCompleted(completedRecord("s1", 25, noon(10)))
	require.NoError(t, err)

	assert.True(t, delta.FreezeConsumed)
	assert.Equal(t, 10, store.stats.CurrentStreakDays, "freeze preserves, never increments")
	assert.Equal(t, 0, store.stats.StreakFreezesAvailable)
}

func TestStreakResetsWhenGapExceedsFreeze(t *testing.T) {
	store := newFakeStatsStore()
	store.stats.LastFreezeReplenishMonth = "2026-03"
	store.stats.CurrentStreakDays = 10
	store.stats.StreakFreezesAvailable = 3
	prev := noon(5)
	store.stats.LastQualifyingDate = &prev
	svc := newTestStats(store)

	// Three missed days can't be bridged, freezes stay untouched.
	delta, err := svc.OnSessionCompleted(completedRecord("s1", 25, noon(9)))
	require.NoError(t, err)

	assert.False(t, delta.FreezeConsumed)
	assert.Equal(t, 1, store.stats.CurrentStreakDays)
	assert.Equal(t, 3, store.stats.StreakFreezesAvailable)
}

func TestFreezeReplenishOncePerMonth(t *testing.T) {
	store := newFakeStatsStore()
	store.stats.LastFreezeReplenishMonth = "2026-02"
	svc := newTestStats(store)

	_, err := svc.OnSessionCompleted(completedRecord("s1", 25, noon(10)))
	require.NoError(t, err)
	assert.Equal(t, 1, store.stats.StreakFreezesAvailable)
	assert.Equal(t, "2026-03", store.stats.LastFreezeReplenishMonth)

	// Same month again: no second top-up.
	_, err = svc.OnSessionCompleted(completedRecord("s2", 25, noon(11)))
	require.NoError(t, err)
	assert.Equal(t, 1, store.stats.StreakFreezesAvailable)
}

func TestDuplicateSessionAbsorbed(t *testing.T) {
	store := newFakeStatsStore()
	store.stats.LastFreezeReplenishMonth = "2026-03"
	svc := newTestStats(store)

	rec := completedRecord("s1", 25, noon(10))
	first, err := svc.OnSessionCompleted(rec)
	require.NoError(t, err)
	savesAfterFirst := store.statsSaves

	// Replays return the original delta and mutate nothing.
	second, err := svc.OnSessionCompleted(rec)
	require.NoError(t, err)
	assert.Equal(t, first.XPAwarded, second.XPAwarded)
	assert.Equal(t, first.StreakAfter, second.StreakAfter)
	assert.Equal(t, savesAfterFirst, store.statsSaves)
	assert.Equal(t, 1, store.stats.TotalSessions)
}

func TestAchievementUnlockOnceWithXP(t *testing.T) {
	store := newFakeStatsStore()
	store.stats.LastFreezeReplenishMonth = "2026-03"
	store.achievements = []model.Achievement{
		{ID: "ach_first", Name: "First Steps", XPReward: 50, MinSessions: 1},
		{ID: "ach_ten", Name: "Getting Serious", XPReward: 100, MinSessions: 10},
	}
	svc := newTestStats(store)

	delta, err := svc.OnSessionCompleted(completedRecord("s1", 25, noon(10)))
	require.NoError(t, err)

	assert.Equal(t, []string{"ach_first"}, delta.AchievementsUnlocked)
	assert.Equal(t, 375+50, delta.XPAwarded, "unlock XP rides in the same delta")

	// The next session must not re-unlock it.
	delta2, err := svc.OnSessionCompleted(completedRecord("s2", 25, noon(10)))
	require.NoError(t, err)
	assert.Empty(t, delta2.AchievementsUnlocked)
}

func TestLevelUpAtThousandXP(t *testing.T) {
	store := newFakeStatsStore()
	store.stats.LastFreezeReplenishMonth = "2026-03"
	store.stats.TotalXP = 900
	svc := newTestStats(store)

	delta, err := svc.OnSessionCompleted(completedRecord("s1", 25, noon(10)))
	require.NoError(t, err)

	assert.True(t, delta.LeveledUp)
	assert.Equal(t, 2, delta.NewLevel)
	assert.Equal(t, 2, store.stats.Level)
}

func TestRewardRollIsDeterministic(t *testing.T) {
	run := func() *model.StatsDelta {
		store := newFakeStatsStore()
		store.stats.LastFreezeReplenishMonth = "2026-03"
		svc := newTestStats(store)
		svc.rewardChance = 1

		delta, err := svc.OnSessionCompleted(completedRecord("same-session", 25, noon(10)))
		require.NoError(t, err)
		return delta
	}

	first := run()
	second := run()

	assert.True(t, first.RewardRolled)
	assert.Equal(t, first.RewardKind, second.RewardKind, "same session ID draws the same reward everywhere")
	assert.Equal(t, first.RewardXP, second.RewardXP)
	assert.Equal(t, first.XPAwarded, second.XPAwarded)
}

func TestRewardNeverRollsForCancelled(t *testing.T) {
	store := newFakeStatsStore()
	store.stats.LastFreezeReplenishMonth = "2026-03"
	svc := newTestStats(store)
	svc.rewardChance = 1

	rec := completedRecord("s1", 25, noon(10))
	rec.Outcome = shared.OutcomeCancelled

	delta, err := svc.OnSessionCompleted(rec)
	require.NoError(t, err)
	assert.False(t, delta.RewardRolled)
}

func TestImportRemoteAdoptsProcessedSet(t *testing.T) {
	store := newFakeStatsStore()
	svc := newTestStats(store)

	remote := model.UserStats{UserID: "u1", TotalXP: 5000, Level: 6, TotalSessions: 40}
	require.NoError(t, svc.ImportRemote(remote, []string{"s1", "s2"}))

	assert.Equal(t, 5000, store.stats.TotalXP)

	// Sessions the other device already counted are never re-awarded here.
	delta, err := svc.OnSessionCompleted(completedRecord("s1", 25, noon(10)))
	require.NoError(t, err)
	assert.Equal(t, 0, delta.XPAwarded)
	assert.Equal(t, 40, store.stats.TotalSessions)
}
