package services

import (
	"encoding/json"
	"hash/fnv"
	"math"
	"math/rand"
	"os"
	"strconv"
	"sync"
	"time"

	appContext "github.com/alphabatem/common/context"
	log "github.com/sirupsen/logrus"

	"github.com/focusgrove/focus_api/dto"
	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

type statsStore interface {
	GetUserStats(userID string) (*model.UserStats, error)
	SaveUserStats(stats *model.UserStats) error
	GetProcessedSession(sessionID string) (*model.ProcessedSession, error)
	CreateProcessedSession(p *model.ProcessedSession) (bool, error)
	ListAchievements() ([]model.Achievement, error)
}

// StatsService turns finished session records into XP, levels, streaks,
// achievement unlocks and variable rewards. Exactly once per session: a
// processed-set keyed by session ID absorbs retries, multi-device echoes and
// relaunch replays, returning the originally computed delta. Every step is
// deterministic in the record and prior stats, so two devices recomputing
// the same record from the same base produce identical stats and converge.
type StatsService struct {
	appContext.DefaultService

	store statsStore
	media *MediaService

	userID string
	mu     sync.Mutex

	baseXPPerMinute  int
	completionBonus  float64
	streakBonusWeek  float64
	streakBonusMonth float64
	hardModeBonus    float64
	doubleXPBonus    float64

	rewardChance    float64
	rewardXPAmount  int
	rewardWeights   []rewardWeight
	freezeCap       int
	freezeReplenish int

	deltaListeners []func(model.StatsDelta)
}

type rewardWeight struct {
	kind   string
	weight int
}

const STATS_SVC = "stats_svc"

func (svc *StatsService) Id() string {
	return STATS_SVC
}

func (svc *StatsService) Configure(ctx *appContext.Context) error {
	svc.userID = os.Getenv("FOCUS_USER_ID")

	svc.baseXPPerMinute = 10
	svc.completionBonus = 1.5
	svc.streakBonusWeek = 1.25
	svc.streakBonusMonth = 1.5
	svc.hardModeBonus = 2.0
	svc.doubleXPBonus = 2.0

	// Reward policy constants pending product confirmation, hence tunable.
	svc.rewardChance = envFloat("REWARD_CHANCE", 0.2)
	svc.rewardXPAmount = envInt("REWARD_XP_AMOUNT", 100)
	svc.freezeCap = envInt("STREAK_FREEZE_CAP", 3)
	svc.freezeReplenish = envInt("STREAK_FREEZE_MONTHLY", 1)
	svc.rewardWeights = []rewardWeight{
		{shared.RewardXPBonus, envInt("REWARD_WEIGHT_XP", 40)},
		{shared.RewardStreakFreeze, envInt("REWARD_WEIGHT_FREEZE", 25)},
		{shared.RewardDoubleXP, envInt("REWARD_WEIGHT_DOUBLE", 20)},
		{shared.RewardTheme, envInt("REWARD_WEIGHT_THEME", 15)},
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *StatsService) Start() error {
	svc.store = svc.Service(SQLITE_SVC).(*SqliteService)
	svc.media = svc.Service(MEDIA_SVC).(*MediaService)
	return nil
}

// GetStats assembles the gamification read model, achievement definitions
// included so the client can render locked ones greyed out.
func (svc *StatsService) GetStats() (*dto.StatsResponse, error) {
	stats, err := svc.store.GetUserStats(svc.userID)
	if err != nil {
		return nil, err
	}
	defs, err := svc.store.ListAchievements()
	if err != nil {
		return nil, err
	}

	unlocked := map[string]bool{}
	var ids []string
	if len(stats.UnlockedAchievementIDs) > 0 {
		_ = json.Unmarshal(stats.UnlockedAchievementIDs, &ids)
	}
	for _, id := range ids {
		unlocked[id] = true
	}

	var themes []string
	if len(stats.UnlockedThemes) > 0 {
		_ = json.Unmarshal(stats.UnlockedThemes, &themes)
	}

	resp := &dto.StatsResponse{
		TotalXP:                stats.TotalXP,
		Level:                  stats.Level,
		XPIntoLevel:            stats.TotalXP % 1000,
		CurrentStreakDays:      stats.CurrentStreakDays,
		LongestStreakDays:      stats.LongestStreakDays,
		StreakFreezesAvailable: stats.StreakFreezesAvailable,
		TotalSessions:          stats.TotalSessions,
		TotalFocusMinutes:      stats.TotalFocusSeconds / 60,
		DoubleXPPending:        stats.DoubleXPPending,
	}
	for _, theme := range themes {
		resp.UnlockedThemes = append(resp.UnlockedThemes, dto.ThemeResponse{
			Name:     theme,
			AssetURL: svc.media.ThemeURL(theme),
		})
	}
	for _, def := range defs {
		resp.Achievements = append(resp.Achievements, dto.AchievementResponse{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			Category:    def.Category,
			BadgeURL:    svc.media.BadgeURL(def.BadgeKey),
			XPReward:    def.XPReward,
			Unlocked:    unlocked[def.ID],
		})
	}
	return resp, nil
}

// OnDeltaApplied registers a listener for every newly applied delta.
func (svc *StatsService) OnDeltaApplied(fn func(model.StatsDelta)) {
	svc.mu.Lock()
	defer svc.mu.Unlock()
	svc.deltaListeners = append(svc.deltaListeners, fn)
}

// OnSessionCompleted runs the pipeline for one session record. Safe to call
// any number of times with the same record.
func (svc *StatsService) OnSessionCompleted(rec model.SessionRecord) (*model.StatsDelta, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	// Idempotency guard: a session already processed returns its original
	// delta unchanged. Duplicate completions are absorbed, never an error.
	if processed, err := svc.store.GetProcessedSession(rec.SessionID); err != nil {
		return nil, err
	} else if processed != nil {
		var delta model.StatsDelta
		if len(processed.Delta) > 0 {
			_ = json.Unmarshal(processed.Delta, &delta)
		}
		return &delta, nil
	}

	stats, err := svc.store.GetUserStats(svc.userID)
	if err != nil {
		return nil, err
	}

	delta := svc.compute(rec, stats)

	stats.UpdatedAt = time.Now()
	if err := svc.store.SaveUserStats(stats); err != nil {
		return nil, err
	}

	deltaJSON, _ := json.Marshal(delta)
	if _, err := svc.store.CreateProcessedSession(&model.ProcessedSession{
		SessionID:   rec.SessionID,
		UserID:      rec.UserID,
		Delta:       deltaJSON,
		ProcessedAt: time.Now(),
	}); err != nil {
		return nil, err
	}

	xpAwardedTotal.Add(float64(delta.XPAwarded))
	log.WithFields(log.Fields{
		"session_id": rec.SessionID,
		"xp":         delta.XPAwarded,
		"streak":     delta.StreakAfter,
		"level":      delta.NewLevel,
	}).Info("Stats delta applied")

	for _, fn := range svc.deltaListeners {
		fn(*delta)
	}
	return delta, nil
}

// compute mutates stats in place and reports the delta. Pure in its inputs:
// no clock reads, no global randomness.
func (svc *StatsService) compute(rec model.SessionRecord, stats *model.UserStats) *model.StatsDelta {
	delta := &model.StatsDelta{SessionID: rec.SessionID}
	oldLevel := stats.Level

	svc.replenishFreezes(rec.CompletedAt, stats)

	// XP, with multipliers read against the streak as it stood before this
	// session updates it.
	baseXP := svc.baseXPPerMinute * (rec.ActualDurationSecs / 60)
	multiplier := 1.0
	if rec.Outcome == shared.OutcomeCompleted {
		multiplier *= svc.completionBonus
	}
	if stats.CurrentStreakDays >= 30 {
		multiplier *= svc.streakBonusMonth
	} else if stats.CurrentStreakDays >= 7 {
		multiplier *= svc.streakBonusWeek
	}
	if rec.WasHardMode {
		multiplier *= svc.hardModeBonus
	}
	if stats.DoubleXPPending {
		multiplier *= svc.doubleXPBonus
		stats.DoubleXPPending = false
		delta.DoubleXPConsumed = true
	}
	xp := int(math.Round(float64(baseXP) * multiplier))

	// Streak continuity. Only completed sessions qualify.
	if rec.Outcome == shared.OutcomeCompleted {
		svc.updateStreak(rec.CompletedAt, stats, delta)
	}
	delta.StreakAfter = stats.CurrentStreakDays

	// Cumulative counters feed achievement predicates.
	stats.TotalSessions++
	stats.TotalFocusSeconds += rec.ActualDurationSecs
	if rec.Outcome == shared.OutcomeCompleted {
		stats.TotalCompletedSessions++
		if rec.WasHardMode {
			stats.TotalHardModeSessions++
		}
		switch h := rec.CompletedAt.Hour(); {
		case h < 9:
			stats.EarlyBirdSessions++
		case h >= 22:
			stats.NightOwlSessions++
		}
	}

	xp += svc.unlockAchievements(stats, delta)

	if rec.Outcome == shared.OutcomeCompleted {
		xp += svc.rollReward(rec.SessionID, stats, delta)
	}

	stats.TotalXP += xp
	stats.Level = model.LevelForXP(stats.TotalXP)

	delta.XPAwarded = xp
	delta.NewLevel = stats.Level
	delta.LeveledUp = stats.Level > oldLevel
	delta.StreakFreezesAvailable = stats.StreakFreezesAvailable
	return delta
}

// replenishFreezes tops streak freezes up by a fixed amount once per
// calendar month, bounded by the hard cap.
func (svc *StatsService) replenishFreezes(at time.Time, stats *model.UserStats) {
	month := at.Format("2006-01")
	if stats.LastFreezeReplenishMonth == month {
		return
	}
	stats.LastFreezeReplenishMonth = month
	stats.StreakFreezesAvailable += svc.freezeReplenish
	if stats.StreakFreezesAvailable > svc.freezeCap {
		stats.StreakFreezesAvailable = svc.freezeCap
	}
}

func (svc *StatsService) updateStreak(at time.Time, stats *model.UserStats, delta *model.StatsDelta) {
	day := dateOnly(at)

	if stats.LastQualifyingDate == nil {
		stats.CurrentStreakDays = 1
	} else {
		// Rounded because a DST change makes the span between two local
		// midnights 23 or 25 hours.
		gap := int(math.Round(day.Sub(dateOnly(*stats.LastQualifyingDate)).Hours() / 24))
		switch {
		case gap == 0:
			// Same day, streak unchanged.
		case gap == 1:
			stats.CurrentStreakDays++
		case gap == 2 && stats.StreakFreezesAvailable > 0:
			// One missed day bridged by a freeze: streak preserved, not
			// incremented.
			stats.StreakFreezesAvailable--
			delta.FreezeConsumed = true
		default:
			stats.CurrentStreakDays = 1
		}
	}

	if stats.CurrentStreakDays > stats.LongestStreakDays {
		stats.LongestStreakDays = stats.CurrentStreakDays
	}
	stats.LastQualifyingDate = &day
}

// unlockAchievements evaluates every definition against the updated stats.
// Unlocks are once-only and their XP rides in the same delta.
func (svc *StatsService) unlockAchievements(stats *model.UserStats, delta *model.StatsDelta) int {
	defs, err := svc.store.ListAchievements()
	if err != nil {
		log.WithError(err).Warn("Achievement definitions unavailable, skipping check")
		return 0
	}

	unlocked := map[string]bool{}
	var ids []string
	if len(stats.UnlockedAchievementIDs) > 0 {
		_ = json.Unmarshal(stats.UnlockedAchievementIDs, &ids)
	}
	for _, id := range ids {
		unlocked[id] = true
	}

	bonus := 0
	for _, def := range defs {
		if unlocked[def.ID] || !def.Satisfied(stats) {
			continue
		}
		ids = append(ids, def.ID)
		unlocked[def.ID] = true
		bonus += def.XPReward
		delta.AchievementsUnlocked = append(delta.AchievementsUnlocked, def.ID)
		achievementsUnlockedTotal.Inc()
	}

	if len(delta.AchievementsUnlocked) > 0 {
		raw, _ := json.Marshal(ids)
		stats.UnlockedAchievementIDs = raw
	}
	return bonus
}

// rollReward draws the variable reward. Randomness is keyed by session ID so
// the outcome is deterministic and replay-safe: reprocessing the same session
// anywhere reproduces the same roll.
func (svc *StatsService) rollReward(sessionID string, stats *model.UserStats, delta *model.StatsDelta) int {
	rng := rand.New(rand.NewSource(seedFor(sessionID)))

	if rng.Float64() >= svc.rewardChance {
		return 0
	}
	delta.RewardRolled = true

	total := 0
	for _, w := range svc.rewardWeights {
		total += w.weight
	}
	pick := rng.Intn(total)
	kind := svc.rewardWeights[len(svc.rewardWeights)-1].kind
	for _, w := range svc.rewardWeights {
		if pick < w.weight {
			kind = w.kind
			break
		}
		pick -= w.weight
	}
	delta.RewardKind = kind
	rewardsRolledTotal.WithLabelValues(kind).Inc()

	switch kind {
	case shared.RewardXPBonus:
		delta.RewardXP = svc.rewardXPAmount
		return svc.rewardXPAmount
	case shared.RewardStreakFreeze:
		if stats.StreakFreezesAvailable < svc.freezeCap {
			stats.StreakFreezesAvailable++
		}
	case shared.RewardDoubleXP:
		stats.DoubleXPPending = true
	case shared.RewardTheme:
		themes := []string{"aurora", "ember", "tide", "grove"}
		svc.unlockTheme(stats, themes[rng.Intn(len(themes))])
	}
	return 0
}

func (svc *StatsService) unlockTheme(stats *model.UserStats, theme string) {
	var themes []string
	if len(stats.UnlockedThemes) > 0 {
		_ = json.Unmarshal(stats.UnlockedThemes, &themes)
	}
	for _, t := range themes {
		if t == theme {
			return
		}
	}
	themes = append(themes, theme)
	raw, _ := json.Marshal(themes)
	stats.UnlockedThemes = raw
}

// ImportRemote installs stats written by another device (the remote copy is
// authoritative) and adopts its processed-set so this device never re-awards
// a session the other device already counted.
func (svc *StatsService) ImportRemote(stats model.UserStats, processedIDs []string) error {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if err := svc.store.SaveUserStats(&stats); err != nil {
		return err
	}
	for _, id := range processedIDs {
		_, err := svc.store.CreateProcessedSession(&model.ProcessedSession{
			SessionID:   id,
			UserID:      stats.UserID,
			ProcessedAt: time.Now(),
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func seedFor(sessionID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sessionID))
	return int64(h.Sum64())
}

func envInt(key string, def int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
	}
	return def
}
