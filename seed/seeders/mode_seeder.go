package seeders

import (
	"log"
	"time"

	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
	"gorm.io/gorm"
)

// ModeSeeder handles seeding the built-in focus modes
type ModeSeeder struct {
	db *gorm.DB
}

// NewModeSeeder creates a new mode seeder
func NewModeSeeder(db *gorm.DB) *ModeSeeder {
	return &ModeSeeder{db: db}
}

// SeedModes seeds the database with the default focus modes
func (s *ModeSeeder) SeedModes() error {
	modes := s.getDefaultModes()

	for _, mode := range modes {
		// Check if mode already exists
		var existing model.FocusMode
		if err := s.db.Where("id = ?", mode.ID).First(&existing).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				if err := s.db.Create(&mode).Error; err != nil {
					log.Printf("Error creating mode %s: %v", mode.Name, err)
					return err
				}
				log.Printf("Created mode: %s", mode.Name)
			} else {
				log.Printf("Error checking mode %s: %v", mode.Name, err)
				return err
			}
		} else {
			log.Printf("Mode %s already exists, skipping", mode.Name)
		}
	}

	log.Println("Mode seeding completed successfully")
	return nil
}

// getDefaultModes returns the stock focus modes shipped with a fresh install
func (s *ModeSeeder) getDefaultModes() []model.FocusMode {
	now := time.Now()

	return []model.FocusMode{
		{
			ID:              "mode_pomodoro",
			Name:            "Pomodoro",
			DurationSeconds: 25 * 60,
			HardMode:        false,
			Restrictions: []model.RestrictionTarget{
				{Kind: shared.TargetKindDomain, Identifier: "twitter.com"},
				{Kind: shared.TargetKindDomain, Identifier: "reddit.com"},
				{Kind: shared.TargetKindDomain, Identifier: "youtube.com"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:              "mode_deep_work",
			Name:            "Deep Work",
			DurationSeconds: 50 * 60,
			HardMode:        true,
			Restrictions: []model.RestrictionTarget{
				{Kind: shared.TargetKindDomain, Identifier: "twitter.com"},
				{Kind: shared.TargetKindDomain, Identifier: "reddit.com"},
				{Kind: shared.TargetKindDomain, Identifier: "youtube.com"},
				{Kind: shared.TargetKindDomain, Identifier: "news.ycombinator.com"},
				{Kind: shared.TargetKindApp, Identifier: "com.apple.MobileSMS"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:              "mode_shallow",
			Name:            "Shallow",
			DurationSeconds: 15 * 60,
			HardMode:        false,
			Restrictions: []model.RestrictionTarget{
				{Kind: shared.TargetKindDomain, Identifier: "twitter.com"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}
