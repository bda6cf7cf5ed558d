package services

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	log "github.com/sirupsen/logrus"

	"github.com/focusgrove/focus_api/services/handlers"
	"github.com/focusgrove/focus_api/shared"
)

// Guards live in the middleware package; looked up by service id through
// narrow interfaces to keep the packages acyclic.
type authGuard interface {
	RequiredAuth() fiber.Handler
}

type rateLimiter interface {
	Limit(endpointType string) fiber.Handler
}

// HttpService is the local trigger surface: deep links, widgets and the UI
// process talk to the daemon here. Binds loopback by default.
type HttpService struct {
	context.DefaultService

	port   int
	server *fiber.App
}

const HTTP_SVC = "http_svc"

func (svc HttpService) Id() string {
	return HTTP_SVC
}

func (svc *HttpService) Configure(ctx *context.Context) error {
	if port := os.Getenv("HTTP_PORT"); port != "" {
		var err error
		if svc.port, err = strconv.Atoi(port); err != nil {
			return err
		}
	} else {
		svc.port = 8000
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *HttpService) Start() error {
	sessionSvc := svc.Service(SESSION_SVC).(*SessionService)
	statsSvc := svc.Service(STATS_SVC).(*StatsService)
	syncSvc := svc.Service(SYNC_SVC).(*SyncService)
	enforcementSvc := svc.Service(ENFORCEMENT_SVC).(*EnforcementService)
	coordinatorSvc := svc.Service(COORDINATOR_SVC).(*CoordinatorService)
	deviceSvc := svc.Service(DEVICE_SVC).(*DeviceService)
	auth := svc.Service("auth").(authGuard)
	limiter := svc.Service("rate_limit").(rateLimiter)

	app := fiber.New(fiber.Config{
		AppName:      "focus_api",
		ErrorHandler: svc.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))
	app.Use(MonitoringMiddleware())

	app.Get("/ping", svc.ping)

	sessionHandler := handlers.NewSessionHandler(sessionSvc, statsSvc)
	statsHandler := handlers.NewStatsHandler(statsSvc)
	syncHandler := handlers.NewSyncHandler(syncSvc, enforcementSvc)
	libraryHandler := handlers.NewLibraryHandler(coordinatorSvc)
	deviceHandler := handlers.NewDeviceHandler(deviceSvc)

	v1 := app.Group("/api/v1", limiter.Limit(shared.EndpointAPIGeneral))

	v1.Post("/device/register", deviceHandler.Register)
	v1.Post("/device/token", limiter.Limit(shared.EndpointDeviceToken), deviceHandler.Token)

	authed := v1.Group("", auth.RequiredAuth())

	session := authed.Group("/session")
	trigger := limiter.Limit(shared.EndpointSessionTrigger)
	session.Get("", sessionHandler.Current)
	session.Post("/start", trigger, sessionHandler.Start)
	session.Post("/pause", trigger, sessionHandler.Pause)
	session.Post("/resume", trigger, sessionHandler.Resume)
	session.Post("/extend", trigger, sessionHandler.Extend)
	session.Post("/stop", trigger, sessionHandler.Stop)
	session.Post("/toggle", trigger, sessionHandler.Toggle)
	session.Get("/history", sessionHandler.History)
	session.Get("/day", sessionHandler.DayTotals)
	session.Get("/summary", sessionHandler.Summary)

	authed.Get("/stats", statsHandler.GetStats)
	authed.Get("/sync/status", syncHandler.Status)
	authed.Get("/enforcement", syncHandler.Enforcement)

	authed.Get("/modes", libraryHandler.ListModes)
	authed.Post("/modes", libraryHandler.CreateMode)
	authed.Put("/modes/:id", libraryHandler.UpdateMode)
	authed.Delete("/modes/:id", libraryHandler.DeleteMode)

	authed.Get("/schedules", libraryHandler.ListSchedules)
	authed.Post("/schedules", libraryHandler.CreateSchedule)
	authed.Put("/schedules/:id", libraryHandler.UpdateSchedule)
	authed.Delete("/schedules/:id", libraryHandler.DeleteSchedule)

	authed.Get("/blocklist", libraryHandler.ListBlocklist)
	authed.Post("/blocklist", libraryHandler.AddBlockedItem)
	authed.Delete("/blocklist/:id", libraryHandler.RemoveBlockedItem)

	authed.Get("/settings", libraryHandler.GetSettings)
	authed.Put("/settings", libraryHandler.UpdateSettings)

	authed.Get("/devices", deviceHandler.List)
	authed.Delete("/devices/:id", deviceHandler.Revoke)

	svc.server = app

	log.WithField("port", svc.port).Info("Trigger surface listening")
	return app.Listen(fmt.Sprintf(":%v", svc.port))
}

func (svc *HttpService) Shutdown() {
	if svc.server != nil {
		_ = svc.server.Shutdown()
	}
}

// @Summary Ping
// @Description This endpoint checks the health of the service
// @Tags health
// @Accept  json
// @Produce json
// @Success 200 {object} shared.Response{data=string}
// @Router /ping [get]
func (svc *HttpService) ping(c *fiber.Ctx) error {
	c.Set("Cache-Control", "max-age=10")

	return shared.ResponseJSON(c, fiber.StatusOK, "Success", "pong")
}

// handleError maps domain errors to HTTP statuses. Sentinel errors from the
// engines carry their own status through the AppError wrapper or get a
// conflict/bad-request mapping here.
func (svc *HttpService) handleError(c *fiber.Ctx, err error) error {
	if appErr, ok := shared.GetAppError(err); ok {
		return shared.ResponseJSON(c, appErr.StatusCode, appErr.Message, appErr.Data)
	}

	switch {
	case errors.Is(err, shared.ErrNoLiveSession),
		errors.Is(err, shared.ErrSessionNotPaused),
		errors.Is(err, shared.ErrInvalidDuration):
		return shared.ResponseBadRequest(c, err.Error())
	case errors.Is(err, shared.ErrSessionAlreadyLive):
		return shared.ResponseJSON(c, fiber.StatusConflict, err.Error(), nil)
	case errors.Is(err, shared.ErrNotAllowedInHardMode):
		return shared.ResponseForbidden(c)
	case errors.Is(err, shared.ErrUnknownContext):
		return shared.ResponseJSON(c, fiber.StatusInternalServerError, "Configuration error", err.Error())
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return shared.ResponseJSON(c, fiberErr.Code, fiberErr.Message, nil)
	}

	return shared.ResponseInternalError(c, err)
}
