package model

import "time"

// DeviceLocal is device-only key/value state (device id, opaque platform
// app-selection tokens). Deliberately never synced.
type DeviceLocal struct {
	Key       string    `json:"key" gorm:"primaryKey;type:text;not null"`
	Value     string    `json:"value" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`
}

// Device identifies one install of the app for this user. The device ID is
// deliberately device-local: it is minted on first run, stored only in the
// local cache, and used to recognize the device's own echoes on the realtime
// channel.
type Device struct {
	ID         string     `json:"id" gorm:"primaryKey;type:text;not null"`
	UserID     string     `json:"user_id" gorm:"not null;index"`
	Name       string     `json:"name"`
	Platform   string     `json:"platform" gorm:"size:20"`
	SecretHash string     `json:"-" gorm:"not null"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	Revoked    bool       `json:"revoked" gorm:"default:false;not null"`
	CreatedAt  time.Time  `json:"created_at" gorm:"not null"`
}
