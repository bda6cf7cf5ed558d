package main

import (
	"github.com/focusgrove/focus_api/middleware"
	"github.com/focusgrove/focus_api/services"

	"github.com/alphabatem/common/context"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Warn().Err(err).Msg("No .env file found, using system environment variables")
	}

	ctx, err := context.NewCtx(
		&services.SqliteService{},
		&services.RedisService{},
		&services.JWTService{},
		&services.DeviceService{},
		&services.MediaService{},

		&services.EnforcementService{},
		&services.SessionService{},
		&services.StatsService{},
		&services.SyncService{},
		&services.CoordinatorService{},
		&services.ArchiveService{},

		&middleware.AuthMiddleware{},
		&middleware.RateLimitMiddleware{},

		&services.MonitoringService{},
		&services.HttpService{},
	)
	if err != nil {
		log.Fatal().Err(err)
		return
	}

	err = ctx.Run()
	if err != nil {
		log.Fatal().Err(err)
		return
	}
}
