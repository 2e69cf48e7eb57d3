package room

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"margin/sync/internal/crdt"
)

// Binary sync frames are CBOR envelopes. Raw text frames bypass this framing
// entirely and travel on the peer relay path.

const (
	// FrameSnapshot carries a full document snapshot. Sent server-to-client
	// on attach.
	FrameSnapshot = 1
	// FrameUpdate carries one document update.
	FrameUpdate = 2
	// FrameAwareness carries one awareness message.
	FrameAwareness = 3
)

// Frame is the envelope for every binary message on the sync channel.
type Frame struct {
	Type uint8  `cbor:"t"`
	Data []byte `cbor:"d"`
}

// AwarenessMessage replicates one connection's presence entry. A nil State
// retracts the entry.
type AwarenessMessage struct {
	ConnID string             `cbor:"c"`
	Clock  uint64             `cbor:"k"`
	State  crdt.PresenceState `cbor:"s,omitempty"`
}

// EncodeFrame serializes a frame envelope.
func EncodeFrame(frameType uint8, data []byte) ([]byte, error) {
	return cbor.Marshal(Frame{Type: frameType, Data: data})
}

// DecodeFrame deserializes a frame envelope.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := cbor.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

func encodeUpdateFrame(u crdt.Update) ([]byte, error) {
	data, err := crdt.EncodeUpdate(u)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(FrameUpdate, data)
}

// EncodeAwarenessFrame serializes one awareness message into a sync frame.
func EncodeAwarenessFrame(msg AwarenessMessage) ([]byte, error) {
	data, err := cbor.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return EncodeFrame(FrameAwareness, data)
}

func decodeAwareness(data []byte, msg *AwarenessMessage) error {
	if err := cbor.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("decode awareness: %w", err)
	}
	return nil
}
