// Package store persists room document state. A record couples an opaque
// binary snapshot with an optional legacy plaintext body; the snapshot takes
// precedence when both are present.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no record exists for a room key.
var ErrNotFound = errors.New("store: record not found")

// Record is the persisted state for one room. A nil Snapshot means no
// snapshot has ever been written; Body carries the pre-snapshot plaintext
// seed for rooms created before snapshot adoption.
type Record struct {
	RoomKey  string
	Snapshot []byte
	Body     string
}

// RecordStore is the narrow load/save contract between the sync server and
// durable storage. SaveSnapshot must be idempotent: it overwrites the full
// snapshot, so duplicate or out-of-order triggers cannot corrupt state.
type RecordStore interface {
	LoadRecord(ctx context.Context, roomKey string) (Record, error)
	SaveSnapshot(ctx context.Context, roomKey string, snapshot []byte) error
	Ping(ctx context.Context) error
}
