package room

import (
	"sync"

	"github.com/google/uuid"
)

// MessageKind distinguishes the two transport payload kinds without binding
// this package to a websocket library.
type MessageKind uint8

const (
	// KindBinary is a CBOR sync frame.
	KindBinary MessageKind = iota + 1
	// KindText is a raw pass-through text payload.
	KindText
)

// Message is one outbound transport payload.
type Message struct {
	Kind MessageKind
	Data []byte
}

// outboxSize bounds the per-connection send queue. A connection that falls
// this far behind has its frames dropped; the client recovers the document
// state by reconnecting and receiving a fresh snapshot.
const outboxSize = 256

// Conn is one attached client session. It does not own document state; it
// only observes and mutates it through sync messages.
type Conn struct {
	id string

	mu     sync.Mutex
	out    chan Message
	closed bool

	// announced holds the awareness ids this connection has published,
	// guarded by the owning room's lock. They are retracted on detach.
	announced map[string]struct{}
}

func newConn() *Conn {
	return &Conn{
		id:        uuid.NewString(),
		out:       make(chan Message, outboxSize),
		announced: make(map[string]struct{}),
	}
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Outbox is drained by the transport layer and by tests.
func (c *Conn) Outbox() <-chan Message { return c.out }

// enqueue delivers a message without blocking; a full or closed outbox
// drops it.
func (c *Conn) enqueue(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.out <- msg:
	default:
	}
}

// closeOutbox closes the outbox so the transport's write loop exits as soon
// as the connection detaches.
func (c *Conn) closeOutbox() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.out)
}
