// Package room owns the live state of collaborative editing rooms: one CRDT
// document per room, the set of attached connections, the awareness channel,
// and the broadcast relay fan-out.
package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"margin/sync/internal/crdt"
	"margin/sync/internal/store"
)

// BroadcastEnvelope is the relay message shape accepted from backend jobs.
// The body is schema-free; consumers route on Name client-side.
type BroadcastEnvelope struct {
	RequestID string `json:"requestId"`
	Body      any    `json:"body"`
	Name      string `json:"name"`
}

// saveTimeout bounds a single snapshot write.
const saveTimeout = 10 * time.Second

// Room owns one document replica and mediates all sync traffic for it.
type Room struct {
	id        string
	doc       *crdt.Document
	awareness *crdt.Awareness
	store     store.RecordStore
	logf      func(format string, args ...any)
	saveDelay time.Duration

	loadOnce sync.Once
	// saveable is false until hydration succeeds, so a load against an
	// unreachable store can never overwrite a good snapshot with an empty
	// document.
	saveable bool

	mu        sync.Mutex
	conns     map[string]*Conn
	processed uint64
	saveTimer *time.Timer

	publish     func(kind MessageKind, data []byte)
	unsubscribe func()
}

func newRoom(id string, recordStore store.RecordStore, saveDelay time.Duration, logf func(string, ...any)) *Room {
	return &Room{
		id:        id,
		doc:       crdt.NewDocument("room:" + id),
		awareness: crdt.NewAwareness(),
		store:     recordStore,
		logf:      logf,
		saveDelay: saveDelay,
		conns:     make(map[string]*Conn),
	}
}

// ID returns the room key.
func (r *Room) ID() string { return r.id }

// Document returns the room's replica.
func (r *Room) Document() *crdt.Document { return r.doc }

// ensureLoaded hydrates the document exactly once per activation. Every
// failure mode falls back to an empty document; connections never fail on a
// bad or missing snapshot.
func (r *Room) ensureLoaded(ctx context.Context) {
	r.loadOnce.Do(func() {
		r.saveable = true
		if r.store == nil {
			return
		}
		record, err := r.store.LoadRecord(ctx, r.id)
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		if err != nil {
			r.logf("room %s: load failed, starting empty (saves disabled): %v", r.id, err)
			r.saveable = false
			return
		}
		if len(record.Snapshot) > 0 {
			doc, err := crdt.DecodeSnapshot("room:"+r.id, record.Snapshot)
			if err != nil {
				r.logf("room %s: malformed snapshot, starting empty: %v", r.id, err)
				return
			}
			r.doc = doc
			return
		}
		if record.Body != "" && utf8.ValidString(record.Body) {
			r.doc.Text(crdt.DefaultContainer).Insert(0, record.Body)
		}
	})
}

// Attach registers a new connection and queues the full document state plus
// the current awareness channel onto its outbox. The connection joins the
// fan-out set before the snapshot is encoded: an update racing the attach is
// then present in the snapshot, the outbox, or both, and a duplicate is
// absorbed by the idempotent merge.
func (r *Room) Attach(ctx context.Context) (*Conn, error) {
	r.ensureLoaded(ctx)

	conn := newConn()
	r.mu.Lock()
	r.conns[conn.id] = conn
	r.mu.Unlock()

	snapshot, err := crdt.EncodeSnapshot(r.doc)
	if err != nil {
		r.Detach(conn)
		return nil, err
	}
	frame, err := EncodeFrame(FrameSnapshot, snapshot)
	if err != nil {
		r.Detach(conn)
		return nil, err
	}
	conn.enqueue(Message{Kind: KindBinary, Data: frame})

	for connID, entry := range r.awareness.Entries() {
		frame, err := EncodeAwarenessFrame(AwarenessMessage{ConnID: connID, Clock: entry.Clock, State: entry.State})
		if err != nil {
			continue
		}
		conn.enqueue(Message{Kind: KindBinary, Data: frame})
	}
	return conn, nil
}

// Detach removes a connection and retracts every presence entry it announced,
// plus any entry under its own id.
func (r *Room) Detach(conn *Conn) {
	r.mu.Lock()
	delete(r.conns, conn.id)
	ids := make([]string, 0, len(conn.announced)+1)
	ids = append(ids, conn.id)
	for id := range conn.announced {
		if id != conn.id {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		clock, ok := r.awareness.Clear(id)
		if !ok {
			continue
		}
		frame, err := EncodeAwarenessFrame(AwarenessMessage{ConnID: id, Clock: clock})
		if err != nil {
			continue
		}
		r.fanOut(conn, Message{Kind: KindBinary, Data: frame})
		r.bridgePublish(KindBinary, frame)
	}

	conn.closeOutbox()
}

// HandleBinary processes one sync frame from a connection: updates merge
// into the document and fan out to every other connection, awareness
// messages replicate the presence channel. Malformed frames are dropped.
func (r *Room) HandleBinary(conn *Conn, data []byte) {
	frame, err := DecodeFrame(data)
	if err != nil {
		r.logf("room %s: dropping malformed frame from %s: %v", r.id, conn.id, err)
		return
	}

	switch frame.Type {
	case FrameUpdate:
		update, err := crdt.DecodeUpdate(frame.Data)
		if err != nil {
			r.logf("room %s: dropping malformed update from %s: %v", r.id, conn.id, err)
			return
		}
		r.doc.Merge(update)
		r.fanOut(conn, Message{Kind: KindBinary, Data: data})
		r.bridgePublish(KindBinary, data)
		r.scheduleSave()
	case FrameAwareness:
		var msg AwarenessMessage
		if err := decodeAwareness(frame.Data, &msg); err != nil {
			r.logf("room %s: dropping malformed awareness from %s: %v", r.id, conn.id, err)
			return
		}
		r.mu.Lock()
		if msg.State == nil {
			delete(conn.announced, msg.ConnID)
		} else {
			conn.announced[msg.ConnID] = struct{}{}
		}
		r.mu.Unlock()
		if r.awareness.Apply(msg.ConnID, msg.Clock, msg.State) {
			r.fanOut(conn, Message{Kind: KindBinary, Data: data})
			r.bridgePublish(KindBinary, data)
		}
	default:
		r.logf("room %s: dropping frame type %d from %s", r.id, frame.Type, conn.id)
	}
}

// HandleText rebroadcasts a raw client text frame to every other connection,
// prefixed with the sender id. This is the low-level peer fan-out path,
// distinct from the JSON-enveloped HTTP relay.
func (r *Room) HandleText(conn *Conn, data []byte) {
	payload := append([]byte(conn.id+":"), data...)
	r.fanOut(conn, Message{Kind: KindText, Data: payload})
	r.bridgePublish(KindText, payload)
}

// Broadcast fans a relay envelope out to every connection and returns the
// room's running processed-message count. The HTTP caller is not itself a
// connection, so nobody is excluded. With no connections the message is
// silently dropped.
func (r *Room) Broadcast(envelope BroadcastEnvelope) (uint64, error) {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return 0, err
	}
	r.mu.Lock()
	r.processed++
	count := r.processed
	for _, conn := range r.conns {
		conn.enqueue(Message{Kind: KindText, Data: payload})
	}
	r.mu.Unlock()
	return count, nil
}

// Presence returns the live awareness entries, one per connection.
func (r *Room) Presence() []crdt.PresenceState {
	states := r.awareness.States()
	users := make([]crdt.PresenceState, 0, len(states))
	for _, state := range states {
		users = append(users, state)
	}
	return users
}

// ConnCount returns the number of attached connections.
func (r *Room) ConnCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// fanOut queues a message onto every connection except the sender. A nil
// sender reaches everyone.
func (r *Room) fanOut(sender *Conn, msg Message) {
	r.mu.Lock()
	for _, conn := range r.conns {
		if sender != nil && conn.id == sender.id {
			continue
		}
		conn.enqueue(msg)
	}
	r.mu.Unlock()
}

// applyRemote folds in a frame republished by another instance via the
// bridge. It is fanned out locally but never republished.
func (r *Room) applyRemote(kind MessageKind, data []byte) {
	if kind == KindText {
		r.fanOut(nil, Message{Kind: KindText, Data: data})
		return
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		r.logf("room %s: dropping malformed bridge frame: %v", r.id, err)
		return
	}
	switch frame.Type {
	case FrameUpdate:
		update, err := crdt.DecodeUpdate(frame.Data)
		if err != nil {
			r.logf("room %s: dropping malformed bridge update: %v", r.id, err)
			return
		}
		r.doc.Merge(update)
		r.fanOut(nil, Message{Kind: KindBinary, Data: data})
		r.scheduleSave()
	case FrameAwareness:
		var msg AwarenessMessage
		if err := decodeAwareness(frame.Data, &msg); err != nil {
			return
		}
		if r.awareness.Apply(msg.ConnID, msg.Clock, msg.State) {
			r.fanOut(nil, Message{Kind: KindBinary, Data: data})
		}
	}
}

func (r *Room) bridgePublish(kind MessageKind, data []byte) {
	if r.publish != nil {
		r.publish(kind, data)
	}
}

// scheduleSave arms the debounced snapshot save. At most one write per
// debounce window; never blocks the mutation path.
func (r *Room) scheduleSave() {
	if r.store == nil || !r.saveable || r.saveDelay <= 0 {
		return
	}
	r.mu.Lock()
	if r.saveTimer == nil {
		r.saveTimer = time.AfterFunc(r.saveDelay, r.flushSave)
	}
	r.mu.Unlock()
}

func (r *Room) flushSave() {
	r.mu.Lock()
	r.saveTimer = nil
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := r.save(ctx); err != nil {
		r.logf("room %s: snapshot save failed: %v", r.id, err)
	}
}

func (r *Room) save(ctx context.Context) error {
	snapshot, err := crdt.EncodeSnapshot(r.doc)
	if err != nil {
		return err
	}
	return r.store.SaveSnapshot(ctx, r.id, snapshot)
}

// close stops the bridge subscription and flushes any pending save.
func (r *Room) close(ctx context.Context) {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	r.mu.Lock()
	pending := r.saveTimer != nil && r.saveTimer.Stop()
	r.saveTimer = nil
	r.mu.Unlock()
	if pending {
		if err := r.save(ctx); err != nil {
			r.logf("room %s: final snapshot save failed: %v", r.id, err)
		}
	}
}
