package pubsub

import "fmt"

// Channel naming conventions for cross-instance synchronisation.
const (
	// ChannelPresence carries user online/offline transitions.
	ChannelPresence = "presence:updates"

	// ChannelRoomEvents carries room-scoped realtime events (message
	// deletions, reactions, membership changes) between instances.
	ChannelRoomEvents = "rooms:%s:events"
)

// Event types published on ChannelPresence.
const (
	EventPresenceOnline  = "presence_online"
	EventPresenceOffline = "presence_offline"
)

// RoomEventsChannel returns the channel name for a room's event stream.
func RoomEventsChannel(roomID string) string {
	return fmt.Sprintf(ChannelRoomEvents, roomID)
}

// PresencePayload is published on ChannelPresence.
type PresencePayload struct {
	UserID           string `json:"user_id"`
	IsOnline         bool   `json:"is_online"`
	LastSeenUnixMs   int64  `json:"last_seen_unix_ms,omitempty"`
	OriginInstanceID string `json:"origin_instance_id,omitempty"`
}
