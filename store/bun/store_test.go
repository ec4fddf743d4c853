package bunstore_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/xraph/durable"
	"github.com/xraph/durable/invocation"
	bunstore "github.com/xraph/durable/store/bun"
)

// setupTestStore connects to the Postgres named by DURABLE_POSTGRES_DSN,
// or skips.
func setupTestStore(t *testing.T) *bunstore.Store {
	t.Helper()

	dsn := os.Getenv("DURABLE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DURABLE_POSTGRES_DSN not set")
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	t.Cleanup(func() {
		ctx := context.Background()
		for _, table := range []string{"durable_journal", "durable_state", "durable_invocations"} {
			db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table)
		}
		db.Close()
	})

	s := bunstore.New(db)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestInvocationRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	inv := invocation.New("greeter", "greet", []byte("in"))
	inv.Failure = durable.NewFailure(durable.CodeInternal, "boom")
	inv.Blocked = []uint32{1, 4}
	if err := s.CreateInvocation(ctx, inv); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateInvocation(ctx, inv); !errors.Is(err, durable.ErrInvocationExists) {
		t.Fatalf("duplicate create: %v", err)
	}

	got, err := s.GetInvocation(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Service != "greeter" || got.Failure == nil || got.Failure.Code != durable.CodeInternal {
		t.Fatalf("got %+v", got)
	}
	if len(got.Blocked) != 2 || got.Blocked[1] != 4 {
		t.Fatalf("blocked = %v", got.Blocked)
	}

	got.State = invocation.StateSuspended
	now := time.Now().UTC().Add(-time.Minute)
	got.WakeAt = &now
	if err := s.UpdateInvocation(ctx, got); err != nil {
		t.Fatal(err)
	}

	due, err := s.ListDue(ctx, time.Now().UTC(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != inv.ID {
		t.Fatalf("due = %+v", due)
	}
}

func TestJournalAndState(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	inv := invocation.New("orders", "place", nil)
	if err := s.CreateInvocation(ctx, inv); err != nil {
		t.Fatal(err)
	}

	e := &invocation.Entry{InvocationID: inv.ID, Index: 0, TypeCode: 0x0C00, Payload: []byte(`{"wake_up_time":1}`)}
	if err := s.AppendEntry(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEntry(ctx, e); err == nil {
		t.Fatal("duplicate index append must fail")
	}
	if err := s.CompleteEntry(ctx, inv.ID, 0, []byte(`{"13":true}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.AckEntry(ctx, inv.ID, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.AckEntry(ctx, inv.ID, 7); !errors.Is(err, durable.ErrEntryNotFound) {
		t.Fatalf("ack missing: %v", err)
	}

	entries, err := s.GetEntries(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].Acked || string(entries[0].Result) != `{"13":true}` {
		t.Fatalf("entries = %+v", entries)
	}

	if err := s.SetServiceState(ctx, "orders", "count", []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := s.SetServiceState(ctx, "orders", "count", []byte("2")); err != nil {
		t.Fatal(err) // upsert
	}
	v, found, err := s.GetServiceState(ctx, "orders", "count")
	if err != nil || !found || string(v) != "2" {
		t.Fatalf("get state: %q %v %v", v, found, err)
	}
	snap, err := s.SnapshotServiceState(ctx, "orders")
	if err != nil || len(snap) != 1 {
		t.Fatalf("snapshot: %v %v", snap, err)
	}
	if err := s.ClearServiceState(ctx, "orders", "count"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.GetServiceState(ctx, "orders", "count"); found {
		t.Fatal("key survived clear")
	}
}
