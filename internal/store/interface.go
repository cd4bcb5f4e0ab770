package store

import (
	"context"
	"time"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
)

// Page is a reverse-chronological slice of messages plus the cursor for the
// next (older) page.
type Page struct {
	Messages []domain.Message
	Cursor   Cursor
	HasMore  bool
}

// Cursor identifies a pagination position. The zero Cursor means "latest".
type Cursor struct {
	CreatedAt time.Time
	MessageID string
}

// IsZero reports whether the cursor is unset.
func (c Cursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.MessageID == ""
}

// MessageStore is the persistence collaborator for chat messages.
type MessageStore interface {
	// Insert persists a new message. The caller assigns id and creation
	// timestamp.
	Insert(ctx context.Context, msg *domain.Message) error

	// FindByRoom returns up to limit messages older than the cursor in
	// reverse-chronological order. A zero cursor starts from the newest.
	FindByRoom(ctx context.Context, roomID string, cursor Cursor, limit int) (*Page, error)

	// FindSince returns messages strictly newer than since in chronological
	// order. Used by the polling bridge and reconnection backfill.
	FindSince(ctx context.Context, roomID string, since time.Time, limit int) ([]domain.Message, error)

	// FindByID returns a single message.
	FindByID(ctx context.Context, messageID string) (*domain.Message, error)

	// UpdateReadBy appends a (user, timestamp) read receipt to each message
	// unless one already exists for that user. Set semantics.
	UpdateReadBy(ctx context.Context, messageIDs []string, userID string, readAt time.Time) error

	// SetContent replaces the message content and stamps the edit flag.
	// Id, room, sender, and creation timestamp never change.
	SetContent(ctx context.Context, messageID, content string, editedAt time.Time) error

	// SetDeleted soft-deletes a message. The record is never removed.
	SetDeleted(ctx context.Context, messageID string) error

	// SetReaction replaces the user's reaction on a message, or removes it
	// when emoji is empty. Returns the resulting reaction list.
	SetReaction(ctx context.Context, messageID, userID, emoji string) ([]domain.Reaction, error)

	Close() error
}

// RoomCatalog is the external room collaborator.
type RoomCatalog interface {
	// RoomExists reports whether the room exists and is active.
	RoomExists(ctx context.Context, roomID string) (bool, error)

	// TouchActivity updates the room's last-activity timestamp. Callers
	// treat failures as fire-and-forget.
	TouchActivity(ctx context.Context, roomID string, at time.Time) error
}

// Profile holds the user fields hydrated into message payloads.
type Profile struct {
	ID    string `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// UserDirectory resolves user profiles and mirrors presence state into the
// persistent user record.
type UserDirectory interface {
	ResolveProfile(ctx context.Context, userID string) (*Profile, error)
	SetOnlineStatus(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error
}

// CredentialVerifier validates a bearer credential and yields the stable
// user identifier it belongs to.
type CredentialVerifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}
