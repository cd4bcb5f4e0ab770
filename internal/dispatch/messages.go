package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/internal/store"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// markReadScanLimit bounds how far back an unscoped mark_read looks.
const markReadScanLimit = 50

// SendMessage validates, persists, and fans out one chat message. The
// persisted message is returned even when fan-out only partially succeeds;
// in that case err is a *domain.DeliveryPartialFailure and the missed
// sessions are expected to catch up via backfill.
func (p *Pipeline) SendMessage(ctx context.Context, sessionID string, req *domain.SendMessageRequest) (*domain.Message, error) {
	userID, ok := p.registry.UserForSession(sessionID)
	if !ok {
		return nil, domain.ErrNotAuthenticated
	}
	if !p.rooms.IsMember(sessionID, req.RoomID) {
		return nil, domain.ErrNotInRoom
	}
	if err := domain.ValidateContent(req.Content); err != nil {
		return nil, err
	}

	msgType := req.MessageType
	if msgType == "" {
		msgType = domain.MessageTypeText
	}

	// Millisecond precision, so since watermarks and pagination cursors,
	// which travel as unix milliseconds, round-trip exactly.
	now := time.Now().UTC().Truncate(time.Millisecond)
	msg := &domain.Message{
		ID:          uuid.NewString(),
		RoomID:      req.RoomID,
		Sender:      p.resolveSender(ctx, userID),
		Content:     req.Content,
		Type:        msgType,
		Attachments: req.Attachments,
		ReplyTo:     p.resolveReply(ctx, req.ReplyTo),
		CreatedAt:   now,
		ReadBy:      []domain.ReadReceipt{{UserID: userID, ReadAt: now}},
	}

	if err := p.messages.Insert(ctx, msg); err != nil {
		return nil, err
	}

	go p.touchActivity(msg.RoomID, now)

	failed := p.fanOutMessage(sessionID, msg, req.TempID)
	if len(failed) > 0 {
		return msg, &domain.DeliveryPartialFailure{
			MessageID:      msg.ID,
			FailedSessions: failed,
		}
	}
	return msg, nil
}

// fanOutMessage delivers the new message to the room. The sender's session
// gets the temp-id echo so its optimistic entry reconciles; everyone else,
// including the sender's other sessions, gets the plain event.
func (p *Pipeline) fanOutMessage(senderSession string, msg *domain.Message, tempID string) (failed []string) {
	event := &domain.NewMessageEvent{
		Type:    domain.EventNewMessage,
		Message: *msg,
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.L().Error().Err(err).Str(log.FieldMessageID, msg.ID).Msg("failed to encode message event")
		return nil
	}

	var others []string
	sendToSender := false
	for _, sid := range p.rooms.MembersOf(msg.RoomID) {
		if sid == senderSession {
			sendToSender = true
			continue
		}
		others = append(others, sid)
	}

	failed = p.hub.DeliverRaw(others, data)

	if sendToSender {
		echo := *event
		echo.TempID = tempID
		if fs, err := p.hub.Deliver([]string{senderSession}, &echo); err == nil {
			failed = append(failed, fs...)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.broadcaster.Broadcast(ctx, msg.RoomID, data); err != nil {
		log.L().Warn().Err(err).Str(log.FieldRoomID, msg.RoomID).Msg("cross-instance broadcast failed")
	}
	return failed
}

// MarkRead records read receipts. With explicit ids only those messages are
// touched; without, the recent unread messages from other senders are. A
// receipt already present for the user is never duplicated or updated.
func (p *Pipeline) MarkRead(ctx context.Context, sessionID, roomID string, messageIDs []string) error {
	userID, ok := p.registry.UserForSession(sessionID)
	if !ok {
		return domain.ErrNotAuthenticated
	}
	if !p.rooms.IsMember(sessionID, roomID) {
		return domain.ErrNotInRoom
	}

	if len(messageIDs) == 0 {
		page, err := p.messages.FindByRoom(ctx, roomID, store.Cursor{}, markReadScanLimit)
		if err != nil {
			return err
		}
		for _, msg := range page.Messages {
			if msg.Sender.ID == userID || msg.HasRead(userID) {
				continue
			}
			messageIDs = append(messageIDs, msg.ID)
		}
		if len(messageIDs) == 0 {
			return nil
		}
	}

	return p.messages.UpdateReadBy(ctx, messageIDs, userID, time.Now().UTC())
}

// SetReaction sets or clears the user's reaction on a message and broadcasts
// the resulting reaction list. An empty emoji clears.
func (p *Pipeline) SetReaction(ctx context.Context, sessionID, roomID, messageID, emoji string) error {
	userID, ok := p.registry.UserForSession(sessionID)
	if !ok {
		return domain.ErrNotAuthenticated
	}
	if !p.rooms.IsMember(sessionID, roomID) {
		return domain.ErrNotInRoom
	}

	reactions, err := p.messages.SetReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return err
	}

	p.broadcastToRoom(roomID, &domain.MessageReactionEvent{
		Type:      domain.EventMessageReaction,
		RoomID:    roomID,
		MessageID: messageID,
		Reactions: reactions,
	})
	return nil
}

// EditMessage replaces the content of a message the user sent and broadcasts
// the new content. Room, sender, id, and ordering timestamp stay untouched;
// soft-deleted messages are not editable.
func (p *Pipeline) EditMessage(ctx context.Context, sessionID, messageID, content string) error {
	userID, ok := p.registry.UserForSession(sessionID)
	if !ok {
		return domain.ErrNotAuthenticated
	}
	if err := domain.ValidateContent(content); err != nil {
		return err
	}

	msg, err := p.messages.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Sender.ID != userID {
		return domain.ErrForbidden
	}
	if msg.Deleted {
		return domain.ErrMessageNotFound
	}

	editedAt := time.Now().UTC().Truncate(time.Millisecond)
	if err := p.messages.SetContent(ctx, messageID, content, editedAt); err != nil {
		return err
	}

	p.broadcastToRoom(msg.RoomID, &domain.MessageEditedEvent{
		Type:      domain.EventMessageEdited,
		RoomID:    msg.RoomID,
		MessageID: messageID,
		Content:   content,
		EditedAt:  editedAt,
	})
	return nil
}

// DeleteMessage soft-deletes a message the user sent. The record survives
// with its content replaced; clients are told to redact.
func (p *Pipeline) DeleteMessage(ctx context.Context, sessionID, messageID string) error {
	userID, ok := p.registry.UserForSession(sessionID)
	if !ok {
		return domain.ErrNotAuthenticated
	}

	msg, err := p.messages.FindByID(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.Sender.ID != userID {
		return domain.ErrForbidden
	}
	if msg.Deleted {
		return nil
	}

	if err := p.messages.SetDeleted(ctx, messageID); err != nil {
		return err
	}

	p.broadcastToRoom(msg.RoomID, &domain.MessageDeletedEvent{
		Type:      domain.EventMessageDeleted,
		RoomID:    msg.RoomID,
		MessageID: messageID,
	})
	return nil
}

// resolveSender hydrates the sender profile. Directory failures degrade to a
// placeholder name rather than failing the send.
func (p *Pipeline) resolveSender(ctx context.Context, userID string) domain.Sender {
	profile, err := p.directory.ResolveProfile(ctx, userID)
	if err != nil {
		log.L().Warn().Err(err).Str(log.FieldUserID, userID).Msg("failed to resolve sender profile")
		return domain.Sender{ID: userID, Name: "Unknown user"}
	}
	return domain.Sender{ID: profile.ID, Name: profile.Name}
}

// resolveReply loads the reply-to preview. A missing or unresolvable target
// drops the reference instead of failing the send.
func (p *Pipeline) resolveReply(ctx context.Context, replyTo string) *domain.ReplyPreview {
	if replyTo == "" {
		return nil
	}
	original, err := p.messages.FindByID(ctx, replyTo)
	if err != nil {
		if !errors.Is(err, domain.ErrMessageNotFound) {
			log.L().Warn().Err(err).Str(log.FieldMessageID, replyTo).Msg("failed to resolve reply target")
		}
		return nil
	}
	redacted := original.Redacted()
	return &domain.ReplyPreview{
		ID:      redacted.ID,
		Sender:  redacted.Sender,
		Content: redacted.Content,
	}
}

func (p *Pipeline) touchActivity(roomID string, at time.Time) {
	// Conversation rooms have no catalog record to touch.
	if domain.IsConversationID(roomID) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.catalog.TouchActivity(ctx, roomID, at); err != nil {
		log.L().Debug().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to touch room activity")
	}
}
