package domain

import "time"

// WebSocket message types from client.
const (
	MsgTypeAuth          = "auth"
	MsgTypeJoinRoom      = "join_room"
	MsgTypeJoinDirect    = "join_direct"
	MsgTypeLeaveRoom     = "leave_room"
	MsgTypeSendMessage   = "send_message"
	MsgTypeEditMessage   = "edit_message"
	MsgTypeTyping        = "typing"
	MsgTypeMarkRead      = "mark_read"
	MsgTypeDeleteMessage = "delete_message"
	MsgTypeReaction      = "reaction"
	MsgTypePing          = "ping"
)

// Event types to client. Transport-level wire events mirror the callback
// vocabulary 1:1 so server and client share one event taxonomy.
const (
	EventAuthResult       = "auth_result"
	EventNewMessage       = "new_message"
	EventMessageDeleted   = "message_deleted"
	EventMessageEdited    = "message_edited"
	EventMessageReaction  = "message_reaction"
	EventUserTyping       = "user_typing"
	EventRoomJoined       = "room_joined"
	EventUserJoinedRoom   = "user_joined_room"
	EventUserLeftRoom     = "user_left_room"
	EventUserStatusUpdate = "user_status_update"
	EventError            = "error"
	EventPong             = "pong"

	// EventConnectionState is emitted locally by the client transport
	// manager; it never crosses the wire.
	EventConnectionState = "connection_state_change"
)

// Error codes carried by EventError payloads.
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeRoomNotFound  = "ROOM_NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeNotInRoom     = "NOT_IN_ROOM"
)

// Envelope is the base structure for all WebSocket messages.
type Envelope struct {
	Type string `json:"type"`
}

// Client -> Server messages

type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type JoinRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// JoinDirectMessage opens the direct conversation with another user. The
// server derives the room id from the user pair and replies with the usual
// room_joined snapshot.
type JoinDirectMessage struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

type LeaveRoomMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// SendMessageRequest carries a new chat message. TempID is a client-assigned
// correlation id echoed back so optimistic UI entries can be reconciled
// instead of duplicated.
type SendMessageRequest struct {
	Type        string       `json:"type"`
	RoomID      string       `json:"roomId"`
	Content     string       `json:"content"`
	MessageType MessageType  `json:"messageType,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyTo     string       `json:"replyTo,omitempty"`
	TempID      string       `json:"tempId,omitempty"`
}

type TypingMessage struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

type MarkReadMessage struct {
	Type       string   `json:"type"`
	RoomID     string   `json:"roomId"`
	MessageIDs []string `json:"messageIds,omitempty"`
}

// EditMessageRequest replaces the content of a previously sent message.
type EditMessageRequest struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type DeleteMessageRequest struct {
	Type      string `json:"type"`
	MessageID string `json:"messageId"`
}

type ReactionMessage struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji,omitempty"`
}

// Server -> Client messages

type AuthResultEvent struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Message string `json:"message,omitempty"`
}

type NewMessageEvent struct {
	Type    string  `json:"type"`
	Message Message `json:"message"`
	TempID  string  `json:"tempId,omitempty"`
}

type MessageDeletedEvent struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
}

type MessageEditedEvent struct {
	Type      string    `json:"type"`
	RoomID    string    `json:"roomId"`
	MessageID string    `json:"messageId"`
	Content   string    `json:"content"`
	EditedAt  time.Time `json:"editedAt"`
}

type MessageReactionEvent struct {
	Type      string     `json:"type"`
	RoomID    string     `json:"roomId"`
	MessageID string     `json:"messageId"`
	Reactions []Reaction `json:"reactions"`
}

type UserTypingEvent struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// RoomJoinedEvent is the membership snapshot sent back to the joining
// session.
type RoomJoinedEvent struct {
	Type        string   `json:"type"`
	RoomID      string   `json:"roomId"`
	MemberCount int      `json:"memberCount"`
	OnlineUsers []string `json:"onlineUsers"`
}

type UserJoinedRoomEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type UserLeftRoomEvent struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type UserStatusEvent struct {
	Type     string     `json:"type"`
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type ErrorEvent struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorEvent(code, message string) *ErrorEvent {
	return &ErrorEvent{
		Type:    EventError,
		Code:    code,
		Message: message,
	}
}
