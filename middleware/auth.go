package middleware

import (
	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"

	"github.com/focusgrove/focus_api/services"
	"github.com/focusgrove/focus_api/shared"
)

// AuthMiddleware guards the trigger surface: every call carries a device JWT
// issued by the device service, and revoked devices lose access immediately.
type AuthMiddleware struct {
	context.DefaultService

	jwtSvc    *services.JWTService
	deviceSvc *services.DeviceService
}

const AUTH_MIDDLEWARE_SVC = "auth"

func (svc AuthMiddleware) Id() string {
	return AUTH_MIDDLEWARE_SVC
}

func (svc *AuthMiddleware) Configure(ctx *context.Context) error {
	return svc.DefaultService.Configure(ctx)
}

func (svc *AuthMiddleware) Start() error {
	svc.jwtSvc = svc.Service(services.JWT_SVC).(*services.JWTService)
	svc.deviceSvc = svc.Service(services.DEVICE_SVC).(*services.DeviceService)
	return nil
}

func (svc *AuthMiddleware) RequiredAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, err := svc.jwtSvc.ExtractTokenFromHeader(c.Get("Authorization"))
		if err != nil {
			return shared.ResponseJSON(c, fiber.StatusUnauthorized, "Unauthorized", err.Error())
		}

		claims, err := svc.jwtSvc.VerifyJWTToken(token)
		if err != nil {
			return shared.ResponseJSON(c, fiber.StatusUnauthorized, "Unauthorized", "Invalid JWT token")
		}

		if claims.UserID == "" || claims.DeviceID == "" {
			return shared.ResponseJSON(c, fiber.StatusUnauthorized, "Unauthorized", "Invalid claims in token")
		}

		if svc.deviceSvc.IsRevoked(claims.DeviceID) {
			return shared.ResponseJSON(c, fiber.StatusUnauthorized, "Unauthorized", "Device revoked")
		}

		c.Locals(shared.UserID, claims.UserID)
		c.Locals(shared.DeviceID, claims.DeviceID)
		return c.Next()
	}
}
