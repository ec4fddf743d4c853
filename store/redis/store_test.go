package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/durable"
	"github.com/xraph/durable/invocation"
)

// testStore connects to the Redis named by DURABLE_REDIS_ADDR, or skips.
func testStore(t *testing.T) *Store {
	t.Helper()
	addr := os.Getenv("DURABLE_REDIS_ADDR")
	if addr == "" {
		t.Skip("DURABLE_REDIS_ADDR not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	s := New(client)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
	return s
}

func TestInvocationRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	inv := invocation.New("greeter", "greet", []byte("in"))
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
	if got.Service != "greeter" || string(got.Input) != "in" {
		t.Fatalf("got %+v", got)
	}

	got.State = invocation.StateCompleted
	if err := s.UpdateInvocation(ctx, got); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListInvocations(ctx, invocation.ListOpts{State: invocation.StateCompleted})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("list = %d", len(list))
	}
}

func TestDueIndex(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	inv := invocation.New("a", "m", nil)
	if err := s.CreateInvocation(ctx, inv); err != nil {
		t.Fatal(err)
	}

	inv.State = invocation.StateSuspended
	inv.WakeAt = &past
	if err := s.UpdateInvocation(ctx, inv); err != nil {
		t.Fatal(err)
	}

	due, err := s.ListDue(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != inv.ID {
		t.Fatalf("due = %+v", due)
	}

	// Resuming clears the due index.
	inv.State = invocation.StateRunning
	inv.WakeAt = nil
	if err := s.UpdateInvocation(ctx, inv); err != nil {
		t.Fatal(err)
	}
	due, err = s.ListDue(ctx, now.Add(time.Hour), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("due after resume = %d", len(due))
	}
}

func TestJournalAndState(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	inv := invocation.New("greeter", "greet", nil)
	if err := s.CreateInvocation(ctx, inv); err != nil {
		t.Fatal(err)
	}

	e := &invocation.Entry{InvocationID: inv.ID, Index: 0, TypeCode: 0x0400}
	if err := s.AppendEntry(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := s.AppendEntry(ctx, e); err == nil {
		t.Fatal("duplicate index append must fail")
	}
	if err := s.CompleteEntry(ctx, inv.ID, 0, []byte(`{"14":"aGk="}`)); err != nil {
		t.Fatal(err)
	}
	if err := s.AckEntry(ctx, inv.ID, 0); err != nil {
		t.Fatal(err)
	}
	if err := s.AckEntry(ctx, inv.ID, 3); !errors.Is(err, durable.ErrEntryNotFound) {
		t.Fatalf("ack missing: %v", err)
	}

	entries, err := s.GetEntries(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !entries[0].Acked || len(entries[0].Result) == 0 {
		t.Fatalf("entries = %+v", entries)
	}

	if err := s.SetServiceState(ctx, "greeter", "count", []byte("7")); err != nil {
		t.Fatal(err)
	}
	v, found, err := s.GetServiceState(ctx, "greeter", "count")
	if err != nil || !found || string(v) != "7" {
		t.Fatalf("get state: %q %v %v", v, found, err)
	}
	snap, err := s.SnapshotServiceState(ctx, "greeter")
	if err != nil || len(snap) != 1 {
		t.Fatalf("snapshot: %v %v", snap, err)
	}
	if err := s.ClearServiceState(ctx, "greeter", "count"); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := s.GetServiceState(ctx, "greeter", "count"); found {
		t.Fatal("key survived clear")
	}
}
