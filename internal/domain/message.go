package domain

import (
	"fmt"
	"strings"
	"time"
)

// MessageType classifies chat message content.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// MaxContentLength bounds message content after trimming.
const MaxContentLength = 4000

// DeletedPlaceholder replaces content of soft-deleted messages in every
// payload sent to clients.
const DeletedPlaceholder = "This message has been deleted"

// Sender carries the hydrated profile fields embedded in message payloads.
type Sender struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Attachment describes a file referenced by a message.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// ReadReceipt records that a user has read a message.
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Reaction is a single user's emoji reaction. A user holds at most one
// reaction per message.
type Reaction struct {
	UserID string `json:"userId"`
	Emoji  string `json:"emoji"`
}

// ReplyPreview is the resolved reply-to reference embedded in a message.
type ReplyPreview struct {
	ID      string `json:"_id"`
	Sender  Sender `json:"sender"`
	Content string `json:"content"`
}

// Message is the canonical persisted chat message. Room and sender are
// immutable once created; content may be edited or soft-deleted but the id
// and creation timestamp never change.
type Message struct {
	ID          string        `json:"_id"`
	RoomID      string        `json:"roomId"`
	Sender      Sender        `json:"sender"`
	Content     string        `json:"content"`
	Type        MessageType   `json:"type"`
	Attachments []Attachment  `json:"attachments"`
	ReplyTo     *ReplyPreview `json:"replyTo,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	ReadBy      []ReadReceipt `json:"readBy"`
	Reactions   []Reaction    `json:"reactions"`
	Deleted     bool          `json:"deleted"`
	Edited      bool          `json:"edited,omitempty"`
	EditedAt    *time.Time    `json:"editedAt,omitempty"`
}

// Redacted returns a copy safe for delivery: soft-deleted messages carry the
// placeholder instead of their original content and lose attachments.
func (m Message) Redacted() Message {
	if !m.Deleted {
		return m
	}
	out := m
	out.Content = DeletedPlaceholder
	out.Attachments = nil
	out.ReplyTo = nil
	return out
}

// HasRead reports whether the user appears in the message's read receipts.
func (m Message) HasRead(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// ValidateContent checks message content ahead of persistence. Returns a
// *ValidationError describing the first violation.
func ValidateContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return &ValidationError{Field: "content", Reason: "must not be empty"}
	}
	if len(trimmed) > MaxContentLength {
		return &ValidationError{
			Field:  "content",
			Reason: fmt.Sprintf("exceeds maximum length of %d", MaxContentLength),
		}
	}
	return nil
}

// ConversationID derives the deterministic room identifier for a direct
// conversation between two users. Both orderings of the pair resolve to the
// same identifier.
func ConversationID(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("dm:%s:%s", userA, userB)
}

// IsConversationID reports whether the room id names a direct conversation.
// Conversation rooms are implicit: they exist for any user pair without a
// catalog record.
func IsConversationID(roomID string) bool {
	return strings.HasPrefix(roomID, "dm:")
}
