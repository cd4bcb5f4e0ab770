package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/krevetka-D/conecta-realtime/internal/config"
	"github.com/krevetka-D/conecta-realtime/internal/dispatch"
	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/internal/hub"
	"github.com/krevetka-D/conecta-realtime/internal/registry"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSHandler upgrades connections and decodes client frames into pipeline
// calls. All semantics live in the pipeline; this layer only translates.
type WSHandler struct {
	hub      *hub.Hub
	registry *registry.Registry
	pipeline *dispatch.Pipeline
	wsCfg    config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, reg *registry.Registry, p *dispatch.Pipeline, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:      h,
		registry: reg,
		pipeline: p,
		wsCfg:    wsCfg,
	}
}

func (h *WSHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.L().Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sessionID := uuid.NewString()
	h.registry.RegisterSession(sessionID)

	client := hub.NewClient(sessionID, h.hub, conn, h.wsCfg)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.Envelope
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	ctx := context.Background()

	switch base.Type {
	case domain.MsgTypeAuth:
		var msg domain.AuthMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Invalid auth message"))
			return
		}
		client.SendMessage(h.pipeline.Authenticate(ctx, client.SessionID, msg.Token))

	case domain.MsgTypeJoinRoom:
		var msg domain.JoinRoomMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Invalid join_room message"))
			return
		}
		snapshot, err := h.pipeline.JoinRoom(ctx, client.SessionID, msg.RoomID)
		if err != nil {
			client.SendMessage(errorEventFor(err))
			return
		}
		client.SendMessage(snapshot)

	case domain.MsgTypeJoinDirect:
		var msg domain.JoinDirectMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Invalid join_direct message"))
			return
		}
		snapshot, err := h.pipeline.JoinDirect(ctx, client.SessionID, msg.UserID)
		if err != nil {
			client.SendMessage(errorEventFor(err))
			return
		}
		client.SendMessage(snapshot)

	case domain.MsgTypeLeaveRoom:
		var msg domain.LeaveRoomMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Invalid leave_room message"))
			return
		}
		h.pipeline.LeaveRoom(client.SessionID, msg.RoomID)

	case domain.MsgTypeSendMessage:
		var msg domain.SendMessageRequest
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Invalid send_message"))
			return
		}
		if _, err := h.pipeline.SendMessage(ctx, client.SessionID, &msg); err != nil {
			var partial *domain.DeliveryPartialFailure
			if errors.As(err, &partial) {
				// Message persisted; missed sessions backfill later.
				log.L().Warn().Str(log.FieldMessageID, partial.MessageID).Msg("partial delivery")
				return
			}
			client.SendMessage(errorEventFor(err))
		}

	case domain.MsgTypeEditMessage:
		var msg domain.EditMessageRequest
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Invalid edit_message"))
			return
		}
		if err := h.pipeline.EditMessage(ctx, client.SessionID, msg.MessageID, msg.Content); err != nil {
			client.SendMessage(errorEventFor(err))
		}

	case domain.MsgTypeTyping:
		var msg domain.TypingMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Invalid typing message"))
			return
		}
		if err := h.pipeline.SetTyping(client.SessionID, msg.RoomID, msg.IsTyping); err != nil {
			client.SendMessage(errorEventFor(err))
		}

	case domain.MsgTypeMarkRead:
		var msg domain.MarkReadMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Invalid mark_read message"))
			return
		}
		if err := h.pipeline.MarkRead(ctx, client.SessionID, msg.RoomID, msg.MessageIDs); err != nil {
			client.SendMessage(errorEventFor(err))
		}

	case domain.MsgTypeDeleteMessage:
		var msg domain.DeleteMessageRequest
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Invalid delete_message"))
			return
		}
		if err := h.pipeline.DeleteMessage(ctx, client.SessionID, msg.MessageID); err != nil {
			client.SendMessage(errorEventFor(err))
		}

	case domain.MsgTypeReaction:
		var msg domain.ReactionMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Invalid reaction message"))
			return
		}
		if err := h.pipeline.SetReaction(ctx, client.SessionID, msg.RoomID, msg.MessageID, msg.Emoji); err != nil {
			client.SendMessage(errorEventFor(err))
		}

	case domain.MsgTypePing:
		client.SendMessage(map[string]string{"type": domain.EventPong})

	default:
		client.SendMessage(domain.NewErrorEvent(domain.ErrCodeBadRequest, "Unknown message type"))
	}
}

// errorEventFor maps pipeline errors onto wire error codes.
func errorEventFor(err error) *domain.ErrorEvent {
	var validation *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		return domain.NewErrorEvent(domain.ErrCodeUnauthorized, "Not authenticated")
	case errors.Is(err, domain.ErrRoomNotFound):
		return domain.NewErrorEvent(domain.ErrCodeRoomNotFound, "Room not found")
	case errors.Is(err, domain.ErrNotInRoom):
		return domain.NewErrorEvent(domain.ErrCodeNotInRoom, "Not in a room")
	case errors.Is(err, domain.ErrMessageNotFound):
		return domain.NewErrorEvent(domain.ErrCodeBadRequest, "Message not found")
	case errors.Is(err, domain.ErrForbidden):
		return domain.NewErrorEvent(domain.ErrCodeUnauthorized, "Operation not permitted")
	case errors.As(err, &validation):
		return domain.NewErrorEvent(domain.ErrCodeBadRequest, validation.Error())
	default:
		log.L().Error().Err(err).Msg("internal error handling client message")
		return domain.NewErrorEvent(domain.ErrCodeInternalError, "Internal error")
	}
}
