package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency"
	FieldClientIP  = "client_ip"

	// Actor
	FieldUserID = "user_id"

	// Realtime
	FieldSessionID = "session_id"
	FieldRoomID    = "room_id"
	FieldMessageID = "message_id"
	FieldEvent     = "event"

	// Service
	FieldService = "service"
)
