package dto

import "time"

type RegisterDeviceRequest struct {
	Name     string `json:"name" validate:"required,min=1,max=60"`
	Platform string `json:"platform" validate:"required,oneof=ios android macos windows linux"`
	Secret   string `json:"secret" validate:"required,min=16,max=128"`
}

type DeviceTokenRequest struct {
	DeviceID string `json:"device_id" validate:"required"`
	Secret   string `json:"secret" validate:"required"`
}

type DeviceTokenResponse struct {
	DeviceID  string    `json:"device_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type DeviceInfoResponse struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Platform   string     `json:"platform"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	Revoked    bool       `json:"revoked"`
	CreatedAt  time.Time  `json:"created_at"`
}
