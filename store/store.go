// Package store defines the aggregate persistence interface for the
// runtime. The invocation package owns the persistence contract; the
// composite Store adds backend lifecycle on top. Backends: Bun
// (Postgres), Redis, and Memory.
package store

import (
	"context"

	"github.com/xraph/durable/invocation"
)

// Store is the aggregate persistence interface. A single backend
// implements invocation persistence plus lifecycle.
type Store interface {
	invocation.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error
}
