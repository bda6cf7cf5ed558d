package seeders

import (
	"log"

	"gorm.io/gorm"
)

// MainSeeder coordinates all seeding operations
type MainSeeder struct {
	db *gorm.DB
}

// NewMainSeeder creates a new main seeder
func NewMainSeeder(db *gorm.DB) *MainSeeder {
	return &MainSeeder{db: db}
}

// SeedAll runs all seeders
func (s *MainSeeder) SeedAll() error {
	log.Println("Starting database seeding...")

	modeSeeder := NewModeSeeder(s.db)
	if err := modeSeeder.SeedModes(); err != nil {
		log.Printf("Mode seeding failed: %v", err)
		return err
	}

	achievementSeeder := NewAchievementSeeder(s.db)
	if err := achievementSeeder.SeedAchievements(); err != nil {
		log.Printf("Achievement seeding failed: %v", err)
		return err
	}

	log.Println("Database seeding completed successfully!")
	return nil
}

// SeedModesOnly seeds only the default focus modes
func (s *MainSeeder) SeedModesOnly() error {
	modeSeeder := NewModeSeeder(s.db)
	return modeSeeder.SeedModes()
}

// SeedAchievementsOnly seeds only the achievement catalogue
func (s *MainSeeder) SeedAchievementsOnly() error {
	achievementSeeder := NewAchievementSeeder(s.db)
	return achievementSeeder.SeedAchievements()
}
