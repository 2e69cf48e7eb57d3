package room

import (
	"context"
	"log"
	"sync"
	"time"

	"margin/sync/internal/store"
)

// Bridge republishes room frames across instances. Implemented by the Redis
// bridge; nil in single-instance deployments.
type Bridge interface {
	Publish(ctx context.Context, roomID string, kind MessageKind, data []byte)
	Subscribe(roomID string, apply func(kind MessageKind, data []byte)) (cancel func())
}

// Options configures a Registry. The zero value is a store-less,
// single-instance registry that never persists.
type Options struct {
	Store store.RecordStore
	// SaveDelay is the snapshot save debounce window. Zero disables
	// persistence of live edits entirely.
	SaveDelay time.Duration
	Bridge    Bridge
	Logf      func(format string, args ...any)
}

// Registry maps room ids to live rooms. It replaces any ambient global: the
// transport layer receives a Registry, which keeps the core testable without
// a network stack.
type Registry struct {
	opts Options

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts Options) *Registry {
	if opts.Logf == nil {
		opts.Logf = log.Printf
	}
	return &Registry{
		opts:  opts,
		rooms: make(map[string]*Room),
	}
}

// Activate returns the room for an id, creating and hydrating it on first
// use. Hydration runs at most once per activation no matter how many
// connections race in; every caller observes the fully hydrated state.
func (g *Registry) Activate(ctx context.Context, roomID string) *Room {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		r = newRoom(roomID, g.opts.Store, g.opts.SaveDelay, g.opts.Logf)
		if g.opts.Bridge != nil {
			bridge := g.opts.Bridge
			r.publish = func(kind MessageKind, data []byte) {
				bridge.Publish(context.Background(), roomID, kind, data)
			}
			r.unsubscribe = bridge.Subscribe(roomID, r.applyRemote)
		}
		g.rooms[roomID] = r
	}
	g.mu.Unlock()

	r.ensureLoaded(ctx)
	return r
}

// Peek returns a resident room without activating it. Relay probes against
// cold rooms must not trigger a store read.
func (g *Registry) Peek(roomID string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	return r, ok
}

// Evict tears down a room: the bridge subscription stops and any pending
// snapshot save is flushed synchronously.
func (g *Registry) Evict(ctx context.Context, roomID string) {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	delete(g.rooms, roomID)
	g.mu.Unlock()
	if ok {
		r.close(ctx)
	}
}

// Close evicts every resident room.
func (g *Registry) Close(ctx context.Context) {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()
	for _, r := range rooms {
		r.close(ctx)
	}
}
