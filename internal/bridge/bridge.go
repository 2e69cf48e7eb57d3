// Package bridge fans room frames out across sync server instances through
// Redis pub/sub. Rooms are process-local; when a deployment runs more than
// one instance, the bridge keeps their connection sets in sync.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"margin/sync/internal/room"
)

const channelPrefix = "room:"

// envelope is the wire shape on the Redis channel. Origin suppresses
// self-application when an instance receives its own publication.
type envelope struct {
	Origin string           `json:"origin"`
	Kind   room.MessageKind `json:"kind"`
	Data   []byte           `json:"data"`
}

// Bridge implements room.Bridge on top of Redis pub/sub.
type Bridge struct {
	client     *redis.Client
	instanceID string
	logf       func(format string, args ...any)
}

// New connects to Redis and verifies the connection.
func New(redisURL string) (*Bridge, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Bridge{
		client:     client,
		instanceID: "sync_" + uuid.NewString(),
		logf:       log.Printf,
	}, nil
}

// NewWithClient builds a bridge from an existing Redis client, for tests.
func NewWithClient(client *redis.Client, logf func(string, ...any)) *Bridge {
	if logf == nil {
		logf = log.Printf
	}
	return &Bridge{
		client:     client,
		instanceID: "sync_" + uuid.NewString(),
		logf:       logf,
	}
}

// InstanceID returns this bridge's origin tag.
func (b *Bridge) InstanceID() string { return b.instanceID }

// Publish republishes a locally originated frame to the room's channel.
// Failures are logged and dropped; the local fan-out already happened and
// document consistency never depends on the bridge.
func (b *Bridge) Publish(ctx context.Context, roomID string, kind room.MessageKind, data []byte) {
	payload, err := json.Marshal(envelope{Origin: b.instanceID, Kind: kind, Data: data})
	if err != nil {
		b.logf("bridge: marshal frame for room %s: %v", roomID, err)
		return
	}
	if err := b.client.Publish(ctx, channelPrefix+roomID, payload).Err(); err != nil {
		b.logf("bridge: publish to room %s: %v", roomID, err)
	}
}

// Subscribe applies frames published for a room by other instances. The
// returned cancel stops the subscription.
func (b *Bridge) Subscribe(roomID string, apply func(kind room.MessageKind, data []byte)) (cancel func()) {
	ctx, stop := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, channelPrefix+roomID)

	go func() {
		for msg := range pubsub.Channel() {
			var e envelope
			if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
				b.logf("bridge: malformed frame on %s: %v", msg.Channel, err)
				continue
			}
			if e.Origin == b.instanceID {
				continue
			}
			apply(e.Kind, e.Data)
		}
	}()

	return func() {
		stop()
		if err := pubsub.Close(); err != nil {
			b.logf("bridge: close subscription for room %s: %v", roomID, err)
		}
	}
}

// Close releases the Redis connection.
func (b *Bridge) Close() error {
	return b.client.Close()
}
