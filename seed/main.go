// cmd/seed/main.go
package main

import (
	"flag"
	"log"
	"os"

	"github.com/focusgrove/focus_api/seed/seeders"
	"github.com/joho/godotenv"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Parse command line flags
	var (
		seedType = flag.String("type", "all", "Type of seeding: all, modes, achievements")
		dbPath   = flag.String("db", "", "Database path (overrides DB_DATABASE env var)")
		help     = flag.Bool("help", false, "Show help message")
	)
	flag.Parse()

	if *help {
		showHelp()
		return
	}

	// Get database path
	databasePath := *dbPath
	if databasePath == "" {
		databasePath = os.Getenv("DB_DATABASE")
		if databasePath == "" {
			databasePath = "focusgrove.db" // Default database name
		}
	}

	// Connect to database
	db, err := gorm.Open(sqlite.Open(databasePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Printf("Connected to database: %s", databasePath)

	// Create main seeder
	mainSeeder := seeders.NewMainSeeder(db)

	// Run seeding based on type
	switch *seedType {
	case "all":
		log.Println("Running complete database seeding...")
		if err := mainSeeder.SeedAll(); err != nil {
			log.Fatalf("Failed to seed database: %v", err)
		}
	case "modes":
		log.Println("Seeding focus modes only...")
		if err := mainSeeder.SeedModesOnly(); err != nil {
			log.Fatalf("Failed to seed modes: %v", err)
		}
	case "achievements":
		log.Println("Seeding achievements only...")
		if err := mainSeeder.SeedAchievementsOnly(); err != nil {
			log.Fatalf("Failed to seed achievements: %v", err)
		}
	default:
		log.Fatalf("Unknown seed type: %s. Use 'all', 'modes', or 'achievements'", *seedType)
	}

	log.Println("Seeding operation completed successfully!")
}

func showHelp() {
	log.Println(`
Database Seeding Tool for the Focus Session Daemon

Usage: go run seed/main.go [flags]

Flags:
  -type string
        Type of seeding to perform (default "all")
        Options: all, modes, achievements
  -db string
        Database path (overrides DB_DATABASE environment variable)
  -help
        Show this help message

Examples:
  go run seed/main.go
  go run seed/main.go -type modes
  go run seed/main.go -type achievements -db focusgrove.db`)
}
