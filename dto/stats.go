package dto

import "time"

type StatsResponse struct {
	TotalXP                int                   `json:"total_xp"`
	Level                  int                   `json:"level"`
	XPIntoLevel            int                   `json:"xp_into_level"`
	CurrentStreakDays      int                   `json:"current_streak_days"`
	LongestStreakDays      int                   `json:"longest_streak_days"`
	StreakFreezesAvailable int                   `json:"streak_freezes_available"`
	TotalSessions          int                   `json:"total_sessions"`
	TotalFocusMinutes      int                   `json:"total_focus_minutes"`
	DoubleXPPending        bool                  `json:"double_xp_pending"`
	UnlockedThemes         []ThemeResponse       `json:"unlocked_themes"`
	Achievements           []AchievementResponse `json:"achievements"`
}

type ThemeResponse struct {
	Name     string `json:"name"`
	AssetURL string `json:"asset_url,omitempty"`
}

type AchievementResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	BadgeURL    string     `json:"badge_url,omitempty"`
	XPReward    int        `json:"xp_reward"`
	Unlocked    bool       `json:"unlocked"`
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
}
