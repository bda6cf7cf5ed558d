package model

import (
	"encoding/json"
	"time"
)

// SyncState is one row of the local mirror: the last payload seen or written
// for an entity kind, its remote version, and the dirty flag for the
// write-behind queue.
type SyncState struct {
	EntityKind    string          `json:"entity_kind" gorm:"primaryKey;type:text;not null"`
	Payload       json.RawMessage `json:"payload" gorm:"type:text"`
	RemoteVersion int64           `json:"remote_version" gorm:"default:0;not null"`
	Dirty         bool            `json:"dirty" gorm:"default:false;not null"`
	LastSyncedAt  *time.Time      `json:"last_synced_at,omitempty"`
	UpdatedAt     time.Time       `json:"updated_at" gorm:"not null"`
}

// PendingPush queues an outbound write while the backend is unreachable.
// One row per entity kind: a newer local write supersedes the queued one.
type PendingPush struct {
	EntityKind      string          `json:"entity_kind" gorm:"primaryKey;type:text;not null"`
	Payload         json.RawMessage `json:"payload" gorm:"type:text"`
	ExpectedVersion int64           `json:"expected_version" gorm:"default:0;not null"`
	QueuedAt        time.Time       `json:"queued_at" gorm:"not null;index"`
	Attempts        int             `json:"attempts" gorm:"default:0;not null"`
}

// SyncItem is the wire shape of one element of a list entity. Deletes are
// tombstoned so a concurrent stale add cannot resurrect a removed item.
type SyncItem struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
	Deleted   bool            `json:"deleted,omitempty"`
	DeletedAt *time.Time      `json:"deleted_at,omitempty"`
}

// RemoteRecord is what the backend channel returns for an entity: payload
// plus the server-assigned version and timestamp.
type RemoteRecord struct {
	EntityKind   string          `json:"entity_kind"`
	Payload      json.RawMessage `json:"payload"`
	Version      int64           `json:"version"`
	ServerTime   time.Time       `json:"server_time"`
	SourceDevice string          `json:"source_device,omitempty"`
}
