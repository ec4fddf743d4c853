package durable

import "time"

// Entity carries the creation/update timestamps shared by all persisted
// entities. Embed it in any struct a store persists.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with the current UTC time.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}

// Touch bumps the update timestamp.
func (e *Entity) Touch() {
	e.UpdatedAt = time.Now().UTC()
}
