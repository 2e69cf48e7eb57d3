package room

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"margin/sync/internal/crdt"
	"margin/sync/internal/store"
)

type countingStore struct {
	store.RecordStore
	loads atomic.Int32
}

func (c *countingStore) LoadRecord(ctx context.Context, roomKey string) (store.Record, error) {
	c.loads.Add(1)
	return c.RecordStore.LoadRecord(ctx, roomKey)
}

func quietLogf(string, ...any) {}

func TestActivateLoadsOnce(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Seed(store.Record{RoomKey: "lesson-1", Body: "seed"})
	counting := &countingStore{RecordStore: mem}
	registry := NewRegistry(Options{Store: counting, Logf: quietLogf})

	// Two connections arriving against a cold room must trigger exactly
	// one store read, and both must observe the hydrated state.
	var wg sync.WaitGroup
	rooms := make([]*Room, 8)
	for i := range rooms {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i] = registry.Activate(context.Background(), "lesson-1")
		}(i)
	}
	wg.Wait()

	if got := counting.loads.Load(); got != 1 {
		t.Fatalf("expected exactly 1 store read, got %d", got)
	}
	for i, r := range rooms {
		if got := r.Document().Content(); got != "seed" {
			t.Errorf("activation %d observed %q, want %q", i, got, "seed")
		}
	}
}

func TestActivateSnapshotTakesPrecedence(t *testing.T) {
	src := crdt.NewDocument("writer")
	src.Text(crdt.DefaultContainer).Insert(0, "from snapshot")
	snapshot, err := crdt.EncodeSnapshot(src)
	if err != nil {
		t.Fatalf("EncodeSnapshot failed: %v", err)
	}

	mem := store.NewMemoryStore()
	mem.Seed(store.Record{RoomKey: "lesson-2", Snapshot: snapshot, Body: "stale legacy body"})
	registry := NewRegistry(Options{Store: mem, Logf: quietLogf})

	r := registry.Activate(context.Background(), "lesson-2")
	if got := r.Document().Content(); got != "from snapshot" {
		t.Fatalf("expected snapshot content, got %q", got)
	}
}

func TestActivateLegacyBodySeed(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Seed(store.Record{RoomKey: "lesson-3", Body: "plain body only"})
	registry := NewRegistry(Options{Store: mem, Logf: quietLogf})

	r := registry.Activate(context.Background(), "lesson-3")
	if got := r.Document().Content(); got != "plain body only" {
		t.Fatalf("expected legacy body content, got %q", got)
	}
}

func TestActivateInvalidLegacyBodyIsIgnored(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Seed(store.Record{RoomKey: "lesson-bad", Body: "broken \xff\xfe bytes"})
	registry := NewRegistry(Options{Store: mem, Logf: quietLogf})

	r := registry.Activate(context.Background(), "lesson-bad")
	if got := r.Document().Content(); got != "" {
		t.Fatalf("expected invalid body to be ignored, got %q", got)
	}
}

func TestActivateMalformedSnapshotFallsBackEmpty(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.Seed(store.Record{RoomKey: "lesson-4", Snapshot: []byte("definitely not cbor")})
	registry := NewRegistry(Options{Store: mem, Logf: quietLogf})

	r := registry.Activate(context.Background(), "lesson-4")
	if got := r.Document().Content(); got != "" {
		t.Fatalf("expected empty document, got %q", got)
	}
}

func TestActivateMissingRecordIsEmpty(t *testing.T) {
	registry := NewRegistry(Options{Store: store.NewMemoryStore(), Logf: quietLogf})
	r := registry.Activate(context.Background(), "brand-new-room")
	if got := r.Document().Content(); got != "" {
		t.Fatalf("expected empty document, got %q", got)
	}
}

func TestPeekDoesNotActivate(t *testing.T) {
	mem := store.NewMemoryStore()
	counting := &countingStore{RecordStore: mem}
	registry := NewRegistry(Options{Store: counting, Logf: quietLogf})

	if _, ok := registry.Peek("cold-room"); ok {
		t.Fatal("expected Peek on a cold room to miss")
	}
	if got := counting.loads.Load(); got != 0 {
		t.Fatalf("expected no store reads from Peek, got %d", got)
	}

	registry.Activate(context.Background(), "cold-room")
	if _, ok := registry.Peek("cold-room"); !ok {
		t.Fatal("expected Peek to find the activated room")
	}
}

func TestEvictFlushesPendingSave(t *testing.T) {
	mem := store.NewMemoryStore()
	registry := NewRegistry(Options{Store: mem, SaveDelay: time.Hour, Logf: quietLogf})
	ctx := context.Background()

	r := registry.Activate(ctx, "lesson-5")
	conn, err := r.Attach(ctx)
	if err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	client := crdt.NewDocument("client-a")
	frame, err := encodeUpdateFrame(client.Text(crdt.DefaultContainer).Insert(0, "unsaved edit"))
	if err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	r.HandleBinary(conn, frame)

	// The debounce window is an hour out; eviction must flush anyway.
	registry.Evict(ctx, "lesson-5")

	record, err := mem.LoadRecord(ctx, "lesson-5")
	if err != nil {
		t.Fatalf("LoadRecord after evict failed: %v", err)
	}
	restored, err := crdt.DecodeSnapshot("verify", record.Snapshot)
	if err != nil {
		t.Fatalf("DecodeSnapshot failed: %v", err)
	}
	if got := restored.Content(); got != "unsaved edit" {
		t.Fatalf("expected flushed snapshot with %q, got %q", "unsaved edit", got)
	}
}
