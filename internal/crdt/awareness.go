package crdt

import "sync"

// PresenceState is the ephemeral per-connection metadata carried by the
// awareness channel (user identity, cursor color). It is never persisted.
type PresenceState map[string]any

type awarenessEntry struct {
	clock uint64
	state PresenceState
}

// Awareness tracks presence state keyed by connection id. Entries are
// last-writer-wins per connection, ordered by a per-entry clock, and are
// retracted when the connection drops.
type Awareness struct {
	mu      sync.Mutex
	entries map[string]awarenessEntry
}

// NewAwareness constructs an empty awareness channel.
func NewAwareness() *Awareness {
	return &Awareness{entries: make(map[string]awarenessEntry)}
}

// Set records locally observed state for a connection and returns the clock
// to attach to the outgoing awareness message.
func (a *Awareness) Set(connID string, state PresenceState) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry := a.entries[connID]
	entry.clock++
	entry.state = state
	a.entries[connID] = entry
	return entry.clock
}

// Apply folds in a remote awareness message. Stale clocks are ignored; a nil
// state retracts the entry. It reports whether the channel changed.
func (a *Awareness) Apply(connID string, clock uint64, state PresenceState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	existing, ok := a.entries[connID]
	if ok && clock < existing.clock {
		return false
	}
	if state == nil {
		if !ok {
			return false
		}
		delete(a.entries, connID)
		return true
	}
	a.entries[connID] = awarenessEntry{clock: clock, state: state}
	return true
}

// Clear retracts a connection's entry and returns the retraction clock, or
// false when there was nothing to retract.
func (a *Awareness) Clear(connID string) (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.entries[connID]
	if !ok {
		return 0, false
	}
	delete(a.entries, connID)
	return entry.clock + 1, true
}

// States returns a copy of all live presence entries keyed by connection id.
func (a *Awareness) States() map[string]PresenceState {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]PresenceState, len(a.entries))
	for id, entry := range a.entries {
		out[id] = entry.state
	}
	return out
}

// Entry pairs a presence state with the clock it was observed at.
type Entry struct {
	Clock uint64
	State PresenceState
}

// Entries returns every live entry with its clock under one lock
// acquisition, for replaying the channel to a newly attached connection.
func (a *Awareness) Entries() map[string]Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]Entry, len(a.entries))
	for id, entry := range a.entries {
		out[id] = Entry{Clock: entry.clock, State: entry.state}
	}
	return out
}
