package seeders

import (
	"log"

	"github.com/focusgrove/focus_api/model"
	"gorm.io/gorm"
)

// AchievementSeeder handles seeding achievement definitions
type AchievementSeeder struct {
	db *gorm.DB
}

// NewAchievementSeeder creates a new achievement seeder
func NewAchievementSeeder(db *gorm.DB) *AchievementSeeder {
	return &AchievementSeeder{db: db}
}

// SeedAchievements seeds the database with the achievement catalogue
func (s *AchievementSeeder) SeedAchievements() error {
	achievements := s.getAchievements()

	for _, achievement := range achievements {
		// Check if achievement already exists
		var existing model.Achievement
		if err := s.db.Where("id = ?", achievement.ID).First(&existing).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				if err := s.db.Create(&achievement).Error; err != nil {
					log.Printf("Error creating achievement %s: %v", achievement.Name, err)
					return err
				}
				log.Printf("Created achievement: %s", achievement.Name)
			} else {
				log.Printf("Error checking achievement %s: %v", achievement.Name, err)
				return err
			}
		} else {
			log.Printf("Achievement %s already exists, skipping", achievement.Name)
		}
	}

	log.Println("Achievement seeding completed successfully")
	return nil
}

// getAchievements returns the full achievement catalogue
func (s *AchievementSeeder) getAchievements() []model.Achievement {
	return []model.Achievement{
		{
			ID:          "ach_first_session",
			Name:        "First Steps",
			Description: "Complete your first focus session",
			Category:    "sessions",
			BadgeKey:    "first_steps",
			XPReward:    50,
			MinSessions: 1,
		},
		{
			ID:          "ach_ten_sessions",
			Name:        "Getting Serious",
			Description: "Complete 10 focus sessions",
			Category:    "sessions",
			BadgeKey:    "getting_serious",
			XPReward:    100,
			MinSessions: 10,
		},
		{
			ID:          "ach_hundred_sessions",
			Name:        "Centurion",
			Description: "Complete 100 focus sessions",
			Category:    "sessions",
			BadgeKey:    "centurion",
			XPReward:    500,
			MinSessions: 100,
		},
		{
			ID:            "ach_week_streak",
			Name:          "Week Warrior",
			Description:   "Keep a 7 day streak alive",
			Category:      "streaks",
			BadgeKey:      "week_warrior",
			XPReward:      150,
			MinStreakDays: 7,
		},
		{
			ID:            "ach_month_streak",
			Name:          "Unbreakable",
			Description:   "Keep a 30 day streak alive",
			Category:      "streaks",
			BadgeKey:      "unbreakable",
			XPReward:      750,
			MinStreakDays: 30,
		},
		{
			ID:            "ach_hundred_streak",
			Name:          "Iron Will",
			Description:   "Keep a 100 day streak alive",
			Category:      "streaks",
			BadgeKey:      "iron_will",
			XPReward:      2000,
			MinStreakDays: 100,
		},
		{
			ID:            "ach_ten_hours",
			Name:          "Deep Diver",
			Description:   "Accumulate 10 hours of focus time",
			Category:      "hours",
			BadgeKey:      "deep_diver",
			XPReward:      200,
			MinFocusHours: 10,
		},
		{
			ID:            "ach_hundred_hours",
			Name:          "Focus Master",
			Description:   "Accumulate 100 hours of focus time",
			Category:      "hours",
			BadgeKey:      "focus_master",
			XPReward:      1000,
			MinFocusHours: 100,
		},
		{
			ID:                  "ach_hard_mode_initiate",
			Name:                "No Way Out",
			Description:         "Complete 5 hard mode sessions",
			Category:            "hard_mode",
			BadgeKey:            "no_way_out",
			XPReward:            250,
			MinHardModeSessions: 5,
		},
		{
			ID:                  "ach_hard_mode_veteran",
			Name:                "Locked In",
			Description:         "Complete 25 hard mode sessions",
			Category:            "hard_mode",
			BadgeKey:            "locked_in",
			XPReward:            750,
			MinHardModeSessions: 25,
		},
		{
			ID:           "ach_early_bird",
			Name:         "Early Bird",
			Description:  "Complete 10 sessions started before 9am",
			Category:     "habits",
			BadgeKey:     "early_bird",
			XPReward:     150,
			MinEarlyBird: 10,
		},
		{
			ID:          "ach_night_owl",
			Name:        "Night Owl",
			Description: "Complete 10 sessions started after 10pm",
			Category:    "habits",
			BadgeKey:    "night_owl",
			XPReward:    150,
			MinNightOwl: 10,
		},
	}
}
