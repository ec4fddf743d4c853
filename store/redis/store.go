// Package redis implements store.Store using Redis for low-latency
// deployments. Invocations are JSON documents, journals are Hashes
// keyed by entry index, service state maps directly onto Hashes, and
// due wake-ups live in a Sorted Set scored by due instant.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xraph/durable"
	"github.com/xraph/durable/id"
	"github.com/xraph/durable/invocation"
)

// Compile-time interface check.
var _ invocation.Store = (*Store)(nil)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements invocation persistence backed by Redis.
type Store struct {
	client redis.Cmdable
	logger *slog.Logger
}

// New creates a new Redis-backed store. The caller owns the Redis
// client lifecycle.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op — the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// CreateInvocation persists a new invocation.
func (s *Store) CreateInvocation(ctx context.Context, inv *invocation.Invocation) error {
	key := invocationKey(inv.ID.String())
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("durable/redis: marshal invocation: %w", err)
	}

	ok, err := s.client.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		return fmt.Errorf("durable/redis: create invocation: %w", err)
	}
	if !ok {
		return durable.ErrInvocationExists
	}
	if err := s.client.SAdd(ctx, invocationIDsKey, inv.ID.String()).Err(); err != nil {
		return fmt.Errorf("durable/redis: index invocation: %w", err)
	}
	return s.indexDue(ctx, inv)
}

// GetInvocation retrieves an invocation by ID.
func (s *Store) GetInvocation(ctx context.Context, invID id.InvocationID) (*invocation.Invocation, error) {
	data, err := s.client.Get(ctx, invocationKey(invID.String())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, durable.ErrInvocationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("durable/redis: get invocation: %w", err)
	}
	var inv invocation.Invocation
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("durable/redis: unmarshal invocation: %w", err)
	}
	return &inv, nil
}

// UpdateInvocation persists changes to an existing invocation.
func (s *Store) UpdateInvocation(ctx context.Context, inv *invocation.Invocation) error {
	key := invocationKey(inv.ID.String())
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("durable/redis: update invocation: %w", err)
	}
	if exists == 0 {
		return durable.ErrInvocationNotFound
	}

	inv.Touch()
	data, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("durable/redis: marshal invocation: %w", err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("durable/redis: update invocation: %w", err)
	}
	return s.indexDue(ctx, inv)
}

// indexDue keeps the due sorted set in sync with the invocation's
// wake-up and schedule fields.
func (s *Store) indexDue(ctx context.Context, inv *invocation.Invocation) error {
	member := inv.ID.String()

	var due *time.Time
	switch inv.State {
	case invocation.StateSuspended:
		due = inv.WakeAt
	case invocation.StateScheduled:
		due = inv.ScheduledAt
		if due == nil {
			now := time.Now().UTC()
			due = &now
		}
	}

	if due == nil {
		if err := s.client.ZRem(ctx, dueKey, member).Err(); err != nil {
			return fmt.Errorf("durable/redis: deindex due: %w", err)
		}
		return nil
	}
	err := s.client.ZAdd(ctx, dueKey, redis.Z{
		Score:  float64(due.UnixMilli()),
		Member: member,
	}).Err()
	if err != nil {
		return fmt.Errorf("durable/redis: index due: %w", err)
	}
	return nil
}

// ListInvocations returns invocations matching the options, newest
// first.
func (s *Store) ListInvocations(ctx context.Context, opts invocation.ListOpts) ([]*invocation.Invocation, error) {
	ids, err := s.client.SMembers(ctx, invocationIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("durable/redis: list invocations: %w", err)
	}

	matched := make([]*invocation.Invocation, 0, len(ids))
	for _, rawID := range ids {
		invID, err := id.ParseInvocationID(rawID)
		if err != nil {
			continue
		}
		inv, err := s.GetInvocation(ctx, invID)
		if errors.Is(err, durable.ErrInvocationNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if opts.Service != "" && inv.Service != opts.Service {
			continue
		}
		if opts.State != "" && inv.State != opts.State {
			continue
		}
		matched = append(matched, inv)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[opts.Offset:]
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}
	return matched, nil
}

// ListDue returns invocations whose due instant is at or before now.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*invocation.Invocation, error) {
	rangeBy := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}
	ids, err := s.client.ZRangeByScore(ctx, dueKey, rangeBy).Result()
	if err != nil {
		return nil, fmt.Errorf("durable/redis: list due: %w", err)
	}

	out := make([]*invocation.Invocation, 0, len(ids))
	for _, rawID := range ids {
		invID, err := id.ParseInvocationID(rawID)
		if err != nil {
			continue
		}
		inv, err := s.GetInvocation(ctx, invID)
		if errors.Is(err, durable.ErrInvocationNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

// AppendEntry persists one journal entry at its index.
func (s *Store) AppendEntry(ctx context.Context, e *invocation.Entry) error {
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("durable/redis: marshal entry: %w", err)
	}

	field := strconv.FormatUint(uint64(e.Index), 10)
	ok, err := s.client.HSetNX(ctx, journalKey(e.InvocationID.String()), field, data).Result()
	if err != nil {
		return fmt.Errorf("durable/redis: append entry: %w", err)
	}
	if !ok {
		return fmt.Errorf("durable/redis: entry %d of %s already exists", e.Index, e.InvocationID)
	}
	return nil
}

// CompleteEntry stores the result bytes for the entry at index.
func (s *Store) CompleteEntry(ctx context.Context, invID id.InvocationID, index uint32, result []byte) error {
	return s.mutateEntry(ctx, invID, index, func(e *invocation.Entry) {
		e.Result = result
	})
}

// AckEntry marks the entry at index durably recorded.
func (s *Store) AckEntry(ctx context.Context, invID id.InvocationID, index uint32) error {
	return s.mutateEntry(ctx, invID, index, func(e *invocation.Entry) {
		e.Acked = true
	})
}

func (s *Store) mutateEntry(ctx context.Context, invID id.InvocationID, index uint32, mutate func(*invocation.Entry)) error {
	key := journalKey(invID.String())
	field := strconv.FormatUint(uint64(index), 10)

	data, err := s.client.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: entry %d of %s", durable.ErrEntryNotFound, index, invID)
	}
	if err != nil {
		return fmt.Errorf("durable/redis: get entry: %w", err)
	}

	var e invocation.Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return fmt.Errorf("durable/redis: unmarshal entry: %w", err)
	}
	mutate(&e)

	updated, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("durable/redis: marshal entry: %w", err)
	}
	if err := s.client.HSet(ctx, key, field, updated).Err(); err != nil {
		return fmt.Errorf("durable/redis: store entry: %w", err)
	}
	return nil
}

// GetEntries returns an invocation's journal in index order.
func (s *Store) GetEntries(ctx context.Context, invID id.InvocationID) ([]*invocation.Entry, error) {
	fields, err := s.client.HGetAll(ctx, journalKey(invID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("durable/redis: get entries: %w", err)
	}

	out := make([]*invocation.Entry, 0, len(fields))
	for _, data := range fields {
		var e invocation.Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("durable/redis: unmarshal entry: %w", err)
		}
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// GetServiceState reads one key of a service's durable state.
func (s *Store) GetServiceState(ctx context.Context, service, key string) ([]byte, bool, error) {
	data, err := s.client.HGet(ctx, stateKey(service), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("durable/redis: get state: %w", err)
	}
	return data, true, nil
}

// SetServiceState writes one key of a service's durable state.
func (s *Store) SetServiceState(ctx context.Context, service, key string, value []byte) error {
	if err := s.client.HSet(ctx, stateKey(service), key, value).Err(); err != nil {
		return fmt.Errorf("durable/redis: set state: %w", err)
	}
	return nil
}

// ClearServiceState deletes one key of a service's durable state.
func (s *Store) ClearServiceState(ctx context.Context, service, key string) error {
	if err := s.client.HDel(ctx, stateKey(service), key).Err(); err != nil {
		return fmt.Errorf("durable/redis: clear state: %w", err)
	}
	return nil
}

// SnapshotServiceState returns all keys of a service's durable state.
func (s *Store) SnapshotServiceState(ctx context.Context, service string) (map[string][]byte, error) {
	fields, err := s.client.HGetAll(ctx, stateKey(service)).Result()
	if err != nil {
		return nil, fmt.Errorf("durable/redis: snapshot state: %w", err)
	}
	out := make(map[string][]byte, len(fields))
	for k, v := range fields {
		out[k] = []byte(v)
	}
	return out, nil
}
