package model

import "time"

// EnforcementContext is a named, independently owned blocking policy. The
// engine only reads Active and the restriction set; content is owned by the
// feature that registered the context.
type EnforcementContext struct {
	Name      string    `json:"name" gorm:"primaryKey;type:text;not null"`
	Active    bool      `json:"active" gorm:"default:false;not null"`
	UpdatedAt time.Time `json:"updated_at" gorm:"not null"`

	// Restrictions are kept in memory by the engine; the persisted row only
	// carries activation so a restart restores enforcement.
	Restrictions []RestrictionTarget `json:"restrictions,omitempty" gorm:"-"`
}

// RestrictionTarget identifies one blocked app or domain. Opaque to the
// engine beyond the identifier used for set union.
type RestrictionTarget struct {
	Kind       string `json:"kind"`       // app | domain
	Identifier string `json:"identifier"` // bundle id, package name, or hostname
}

// Key is the identity used for union and dedupe across contexts.
func (t RestrictionTarget) Key() string {
	return t.Kind + ":" + t.Identifier
}
