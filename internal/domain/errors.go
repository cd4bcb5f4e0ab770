package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrAuthentication covers missing, invalid, or expired credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrRoomNotFound means the referenced room does not exist in the room
	// catalog.
	ErrRoomNotFound = errors.New("room not found")

	// ErrSessionNotFound means the session id is unknown to the registry.
	ErrSessionNotFound = errors.New("session not found")

	// ErrNotAuthenticated means the session has not completed the auth
	// handshake.
	ErrNotAuthenticated = errors.New("session not authenticated")

	// ErrMessageNotFound means the referenced message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotInRoom means the session tried a room-scoped operation without
	// having joined the room.
	ErrNotInRoom = errors.New("not a member of the room")

	// ErrForbidden means the user is not allowed to perform the operation,
	// e.g. deleting a message they did not send.
	ErrForbidden = errors.New("operation not permitted")

	// ErrConnectionTimeout is surfaced when the transport handshake does not
	// complete within its deadline.
	ErrConnectionTimeout = errors.New("connection timed out")

	// ErrMaxReconnectAttempts is surfaced when the reconnect budget is
	// exhausted; the host application decides how to recover.
	ErrMaxReconnectAttempts = errors.New("max reconnect attempts exceeded")
)

// ValidationError reports malformed input. It is always raised before any
// side effect takes place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// DeliveryPartialFailure reports that fan-out reached only part of the
// target sessions. The persisted message is never rolled back; missed
// sessions catch up via reconnection backfill.
type DeliveryPartialFailure struct {
	MessageID      string
	FailedSessions []string
}

func (e *DeliveryPartialFailure) Error() string {
	return fmt.Sprintf("message %s not delivered to sessions: %s",
		e.MessageID, strings.Join(e.FailedSessions, ", "))
}
