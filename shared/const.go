package shared

const (
	UserID   = "user_id"
	DeviceID = "device_id"

	// Enforcement context names. The set is fixed at startup; activating an
	// unknown name is a configuration error.
	ContextTimer            = "timer"
	ContextSchedule         = "schedule"
	ContextRegretPrevention = "regret_prevention"
	ContextHardMode         = "hard_mode"

	// Session lifecycle states. Completed and cancelled are terminal.
	SessionIdle      = "idle"
	SessionActive    = "active"
	SessionPaused    = "paused"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"

	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"

	// Synced entity kinds. Record kinds resolve conflicts last-writer-wins,
	// list kinds merge per item with tombstones.
	EntityTimer     = "timer_state"
	EntitySessions  = "sessions"
	EntityStats     = "stats"
	EntityModes     = "modes"
	EntitySchedules = "schedules"
	EntityBlocklist = "blocklist"
	EntitySettings  = "settings"

	// Variable reward kinds, in rarity order.
	RewardXPBonus      = "xp_bonus"
	RewardStreakFreeze = "streak_freeze"
	RewardDoubleXP     = "double_xp"
	RewardTheme        = "theme"

	TargetKindApp    = "app"
	TargetKindDomain = "domain"

	// Rate limit endpoint classes.
	EndpointSessionTrigger = "session_trigger"
	EndpointDeviceToken    = "device_token"
	EndpointAPIGeneral     = "api_general"
)
