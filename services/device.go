package services

import (
	"errors"
	"os"

	appContext "github.com/alphabatem/common/context"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/focusgrove/focus_api/dto"
	"github.com/focusgrove/focus_api/model"
	"github.com/focusgrove/focus_api/shared"
)

// DeviceService keeps the registry of installs allowed to hit the trigger
// surface. Each device registers once with a secret it generates, stored
// bcrypt-hashed, and trades it for short-lived JWTs.
type DeviceService struct {
	appContext.DefaultService

	sqlSvc *SqliteService
	jwtSvc *JWTService

	userID string
}

const DEVICE_SVC = "device_svc"

func (svc DeviceService) Id() string {
	return DEVICE_SVC
}

func (svc *DeviceService) Configure(ctx *appContext.Context) error {
	svc.userID = os.Getenv("FOCUS_USER_ID")
	return svc.DefaultService.Configure(ctx)
}

func (svc *DeviceService) Start() error {
	svc.sqlSvc = svc.Service(SQLITE_SVC).(*SqliteService)
	svc.jwtSvc = svc.Service(JWT_SVC).(*JWTService)
	return nil
}

func (svc *DeviceService) Register(req dto.RegisterDeviceRequest) (*dto.DeviceInfoResponse, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Secret), bcrypt.DefaultCost)
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to hash device secret")
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to mint device id")
	}

	device := &model.Device{
		ID:         id.String(),
		UserID:     svc.userID,
		Name:       req.Name,
		Platform:   req.Platform,
		SecretHash: string(hash),
	}
	if err := svc.sqlSvc.CreateDevice(device); err != nil {
		return nil, shared.NewInternalError(err, "Failed to register device")
	}

	log.WithFields(log.Fields{"device_id": device.ID, "platform": device.Platform}).Info("Device registered")
	return deviceInfo(device), nil
}

// Token exchanges a device secret for a JWT. Revoked devices are refused.
func (svc *DeviceService) Token(req dto.DeviceTokenRequest) (*dto.DeviceTokenResponse, error) {
	device, err := svc.sqlSvc.GetDevice(req.DeviceID)
	if err != nil {
		return nil, shared.NewUnauthorizedError(err, "Unknown device")
	}
	if device.Revoked {
		return nil, shared.NewUnauthorizedError(errors.New("device revoked"), "Device revoked")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(device.SecretHash), []byte(req.Secret)); err != nil {
		return nil, shared.NewUnauthorizedError(err, "Invalid device secret")
	}

	token, expiresAt, err := svc.jwtSvc.ToJWT(device.UserID, device.ID)
	if err != nil {
		return nil, shared.NewInternalError(err, "Failed to issue token")
	}

	if err := svc.sqlSvc.TouchDevice(device.ID); err != nil {
		log.WithError(err).WithField("device_id", device.ID).Warn("Failed to touch device")
	}

	return &dto.DeviceTokenResponse{
		DeviceID:  device.ID,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func (svc *DeviceService) List() ([]dto.DeviceInfoResponse, error) {
	devices, err := svc.sqlSvc.ListDevices(svc.userID)
	if err != nil {
		return nil, err
	}

	out := make([]dto.DeviceInfoResponse, 0, len(devices))
	for i := range devices {
		out = append(out, *deviceInfo(&devices[i]))
	}
	return out, nil
}

func (svc *DeviceService) Revoke(id string) error {
	if _, err := svc.sqlSvc.GetDevice(id); err != nil {
		return shared.NewNotFoundError(err, "Unknown device")
	}
	if err := svc.sqlSvc.RevokeDevice(id); err != nil {
		return shared.NewInternalError(err, "Failed to revoke device")
	}

	log.WithField("device_id", id).Info("Device revoked")
	return nil
}

// IsRevoked backs the auth middleware's liveness check on every request.
func (svc *DeviceService) IsRevoked(id string) bool {
	device, err := svc.sqlSvc.GetDevice(id)
	if err != nil {
		return true
	}
	return device.Revoked
}

func deviceInfo(d *model.Device) *dto.DeviceInfoResponse {
	return &dto.DeviceInfoResponse{
		ID:         d.ID,
		Name:       d.Name,
		Platform:   d.Platform,
		LastSeenAt: d.LastSeenAt,
		Revoked:    d.Revoked,
		CreatedAt:  d.CreatedAt,
	}
}
