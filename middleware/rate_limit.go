package middleware

import (
	"strconv"
	"sync"
	"time"

	"github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"
	log "github.com/sirupsen/logrus"

	"github.com/focusgrove/focus_api/dto"
	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/services"
	"github.com/focusgrove/focus_api/shared"
)

// RateLimitMiddleware applies sliding-window limits on the trigger surface,
// backed by the local store so counters survive a relaunch.
type RateLimitMiddleware struct {
	context.DefaultService

	configs map[string]*model.RateLimitConfig
	mutex   sync.RWMutex
	sqlSvc  *services.SqliteService
}

const RATE_LIMIT_MIDDLEWARE_SVC = "rate_limit"

func (svc *RateLimitMiddleware) Id() string {
	return RATE_LIMIT_MIDDLEWARE_SVC
}

func (svc *RateLimitMiddleware) Configure(ctx *context.Context) error {
	svc.configs = make(map[string]*model.RateLimitConfig)
	return svc.DefaultService.Configure(ctx)
}

func (svc *RateLimitMiddleware) Start() error {
	svc.sqlSvc = svc.Service(services.SQLITE_SVC).(*services.SqliteService)
	svc.initDefaultConfigs()
	return nil
}

func (svc *RateLimitMiddleware) initDefaultConfigs() {
	svc.configs = map[string]*model.RateLimitConfig{
		// Deep links can fire on every widget tap; cap the burst.
		shared.EndpointSessionTrigger: {
			EndpointType: shared.EndpointSessionTrigger,
			MaxRequests:  30,
			WindowSize:   time.Minute,
			BlockTime:    time.Minute * 5,
			Description:  "Session trigger surface rate limit",
		},

		// Secret exchange is the brute-force target.
		shared.EndpointDeviceToken: {
			EndpointType: shared.EndpointDeviceToken,
			MaxRequests:  10,
			WindowSize:   time.Minute * 15,
			BlockTime:    time.Hour,
			Description:  "Device token exchange rate limit",
		},

		shared.EndpointAPIGeneral: {
			EndpointType: shared.EndpointAPIGeneral,
			MaxRequests:  1000,
			WindowSize:   time.Hour,
			BlockTime:    time.Hour,
			Description:  "General API rate limit per caller",
		},
	}
}

func (svc *RateLimitMiddleware) IsAllowed(identifier, endpointType string) (bool, *dto.RateLimitInfo, error) {
	svc.mutex.RLock()
	config, exists := svc.configs[endpointType]
	svc.mutex.RUnlock()

	if !exists {
		return true, &dto.RateLimitInfo{Allowed: true, Remaining: -1}, nil
	}

	now := time.Now()
	windowStart := now.Add(-config.WindowSize)

	rateLimit, err := svc.sqlSvc.GetRateLimit(identifier, endpointType)
	if err != nil {
		return false, nil, err
	}

	if rateLimit != nil && rateLimit.BlockedUntil != nil && now.Before(*rateLimit.BlockedUntil) {
		return false, &dto.RateLimitInfo{
			Allowed:      false,
			Remaining:    0,
			ResetTime:    rateLimit.BlockedUntil,
			BlockedUntil: rateLimit.BlockedUntil,
		}, nil
	}

	// No record yet, or the window rolled over.
	if rateLimit == nil || rateLimit.WindowStart.Before(windowStart) {
		rateLimit = &model.RateLimit{
			Identifier:   identifier,
			EndpointType: endpointType,
			RequestCount: 1,
			WindowStart:  now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := svc.sqlSvc.SaveRateLimit(rateLimit); err != nil {
			return false, nil, err
		}

		resetTime := now.Add(config.WindowSize)
		return true, &dto.RateLimitInfo{
			Allowed:   true,
			Remaining: config.MaxRequests - 1,
			ResetTime: &resetTime,
		}, nil
	}

	if rateLimit.RequestCount >= config.MaxRequests {
		blockedUntil := now.Add(config.BlockTime)
		rateLimit.BlockedUntil = &blockedUntil
		rateLimit.UpdatedAt = now
		if err := svc.sqlSvc.SaveRateLimit(rateLimit); err != nil {
			return false, nil, err
		}

		return false, &dto.RateLimitInfo{
			Allowed:      false,
			Remaining:    0,
			ResetTime:    &blockedUntil,
			BlockedUntil: &blockedUntil,
		}, nil
	}

	rateLimit.RequestCount++
	rateLimit.UpdatedAt = now
	if err := svc.sqlSvc.SaveRateLimit(rateLimit); err != nil {
		return false, nil, err
	}

	resetTime := rateLimit.WindowStart.Add(config.WindowSize)
	return true, &dto.RateLimitInfo{
		Allowed:   true,
		Remaining: config.MaxRequests - rateLimit.RequestCount,
		ResetTime: &resetTime,
	}, nil
}

// Limit applies the named endpoint class, identifying the caller by device
// when authenticated and by IP otherwise.
func (svc *RateLimitMiddleware) Limit(endpointType string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identifier := c.IP()
		if deviceID, ok := c.Locals(shared.DeviceID).(string); ok && deviceID != "" {
			identifier = deviceID
		}

		allowed, info, err := svc.IsAllowed(identifier, endpointType)
		if err != nil {
			log.WithError(err).WithField("identifier", identifier).Error("Rate limit check failed")
			// Fail open so a store hiccup cannot lock the user out of their
			// own focus controls.
			return c.Next()
		}

		if info.ResetTime != nil {
			c.Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
		}
		c.Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))

		if !allowed {
			if info.BlockedUntil != nil {
				c.Set("Retry-After", strconv.FormatInt(info.BlockedUntil.Unix(), 10))
			}
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "Rate limit exceeded",
				"message": "Too many requests",
			})
		}

		return c.Next()
	}
}
