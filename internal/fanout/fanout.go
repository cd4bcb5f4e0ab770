package fanout

import (
	"context"
	"encoding/json"
)

// Envelope carries one room-scoped event between instances. Payload is the
// already-encoded websocket event, so consumers relay it without re-marshal.
type Envelope struct {
	RoomID  string          `json:"roomId"`
	Origin  string          `json:"origin"` // producing instance id
	Payload json.RawMessage `json:"payload"`
}

// Broadcaster publishes room events for other instances to relay.
type Broadcaster interface {
	Broadcast(ctx context.Context, roomID string, payload []byte) error
	Close() error
}

// Noop is the single-instance broadcaster.
type Noop struct{}

func (Noop) Broadcast(ctx context.Context, roomID string, payload []byte) error { return nil }
func (Noop) Close() error                                                       { return nil }
