// Package bunstore implements store.Store on the Bun ORM with the
// PostgreSQL dialect. It is the durability backend of record: journals
// land in durable_journal, invocations in durable_invocations, and
// service state in durable_state.
//
// Usage:
//
//	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
//	db := bun.NewDB(sqldb, pgdialect.New())
//	s := bunstore.New(db)
//	if err := s.Migrate(ctx); err != nil { ... }
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/durable"
	"github.com/xraph/durable/id"
	"github.com/xraph/durable/invocation"
)

// Compile-time interface check.
var _ invocation.Store = (*Store)(nil)

// Store is a Bun ORM implementation of store.Store. The caller owns the
// *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a new Bun store.
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*invocationModel)(nil),
		(*entryModel)(nil),
		(*stateModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("durable/bun: migrate: %w", err)
		}
	}

	// Query paths: resume scan by state + due instant, journal replay
	// by invocation in index order.
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS durable_invocations_state_wake_idx
			ON durable_invocations (state, wake_at)`,
		`CREATE INDEX IF NOT EXISTS durable_invocations_state_sched_idx
			ON durable_invocations (state, scheduled_at)`,
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("durable/bun: migrate index: %w", err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op — the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error { return nil }

// CreateInvocation persists a new invocation.
func (s *Store) CreateInvocation(ctx context.Context, inv *invocation.Invocation) error {
	m, err := toInvocationModel(inv)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(m).Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return durable.ErrInvocationExists
		}
		return fmt.Errorf("durable/bun: create invocation: %w", err)
	}
	return nil
}

// GetInvocation retrieves an invocation by ID.
func (s *Store) GetInvocation(ctx context.Context, invID id.InvocationID) (*invocation.Invocation, error) {
	m := new(invocationModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", invID.String()).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, durable.ErrInvocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable/bun: get invocation: %w", err)
	}
	return fromInvocationModel(m)
}

// UpdateInvocation persists changes to an existing invocation.
func (s *Store) UpdateInvocation(ctx context.Context, inv *invocation.Invocation) error {
	inv.Touch()
	m, err := toInvocationModel(inv)
	if err != nil {
		return err
	}
	res, err := s.db.NewUpdate().Model(m).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("durable/bun: update invocation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return durable.ErrInvocationNotFound
	}
	return nil
}

// ListInvocations returns invocations matching the options, newest
// first.
func (s *Store) ListInvocations(ctx context.Context, opts invocation.ListOpts) ([]*invocation.Invocation, error) {
	var models []invocationModel
	q := s.db.NewSelect().Model(&models).Order("created_at DESC")
	if opts.Service != "" {
		q = q.Where("service = ?", opts.Service)
	}
	if opts.State != "" {
		q = q.Where("state = ?", string(opts.State))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("durable/bun: list invocations: %w", err)
	}

	out := make([]*invocation.Invocation, 0, len(models))
	for i := range models {
		inv, err := fromInvocationModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

// ListDue returns suspended invocations with a due wake-up and
// scheduled invocations with a due invoke time.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*invocation.Invocation, error) {
	var models []invocationModel
	q := s.db.NewSelect().Model(&models).
		Where("(state = ? AND wake_at IS NOT NULL AND wake_at <= ?) OR (state = ? AND (scheduled_at IS NULL OR scheduled_at <= ?))",
			string(invocation.StateSuspended), now,
			string(invocation.StateScheduled), now).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("durable/bun: list due: %w", err)
	}

	out := make([]*invocation.Invocation, 0, len(models))
	for i := range models {
		inv, err := fromInvocationModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

// AppendEntry persists one journal entry at its index.
func (s *Store) AppendEntry(ctx context.Context, e *invocation.Entry) error {
	m := toEntryModel(e)
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := s.db.NewInsert().Model(m).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("durable/bun: entry %d of %s already exists", e.Index, e.InvocationID)
		}
		return fmt.Errorf("durable/bun: append entry: %w", err)
	}
	return nil
}

// CompleteEntry stores the result bytes for the entry at index.
func (s *Store) CompleteEntry(ctx context.Context, invID id.InvocationID, index uint32, result []byte) error {
	res, err := s.db.NewUpdate().Model((*entryModel)(nil)).
		Set("result = ?", result).
		Where("invocation_id = ?", invID.String()).
		Where(`"index" = ?`, index).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("durable/bun: complete entry: %w", err)
	}
	return checkEntryAffected(res, invID, index)
}

// AckEntry marks the entry at index durably recorded.
func (s *Store) AckEntry(ctx context.Context, invID id.InvocationID, index uint32) error {
	res, err := s.db.NewUpdate().Model((*entryModel)(nil)).
		Set("acked = TRUE").
		Where("invocation_id = ?", invID.String()).
		Where(`"index" = ?`, index).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("durable/bun: ack entry: %w", err)
	}
	return checkEntryAffected(res, invID, index)
}

func checkEntryAffected(res sql.Result, invID id.InvocationID, index uint32) error {
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: entry %d of %s", durable.ErrEntryNotFound, index, invID)
	}
	return nil
}

// GetEntries returns an invocation's journal in index order.
func (s *Store) GetEntries(ctx context.Context, invID id.InvocationID) ([]*invocation.Entry, error) {
	var models []entryModel
	err := s.db.NewSelect().Model(&models).
		Where("invocation_id = ?", invID.String()).
		Order("index ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("durable/bun: get entries: %w", err)
	}

	out := make([]*invocation.Entry, 0, len(models))
	for i := range models {
		e, err := fromEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// GetServiceState reads one key of a service's durable state.
func (s *Store) GetServiceState(ctx context.Context, service, key string) ([]byte, bool, error) {
	m := new(stateModel)
	err := s.db.NewSelect().Model(m).
		Where("service = ?", service).
		Where(`"key" = ?`, key).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("durable/bun: get state: %w", err)
	}
	return m.Value, true, nil
}

// SetServiceState writes one key of a service's durable state.
func (s *Store) SetServiceState(ctx context.Context, service, key string, value []byte) error {
	m := &stateModel{Service: service, Key: key, Value: value}
	_, err := s.db.NewInsert().Model(m).
		On("CONFLICT (service, key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("durable/bun: set state: %w", err)
	}
	return nil
}

// ClearServiceState deletes one key of a service's durable state.
func (s *Store) ClearServiceState(ctx context.Context, service, key string) error {
	_, err := s.db.NewDelete().Model((*stateModel)(nil)).
		Where("service = ?", service).
		Where(`"key" = ?`, key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("durable/bun: clear state: %w", err)
	}
	return nil
}

// SnapshotServiceState returns all keys of a service's durable state.
func (s *Store) SnapshotServiceState(ctx context.Context, service string) (map[string][]byte, error) {
	var models []stateModel
	err := s.db.NewSelect().Model(&models).Where("service = ?", service).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("durable/bun: snapshot state: %w", err)
	}
	out := make(map[string][]byte, len(models))
	for i := range models {
		out[models[i].Key] = models[i].Value
	}
	return out, nil
}

// isUniqueViolation checks if a PostgreSQL error is a unique_violation
// (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C') == "23505"
	}
	return false
}
