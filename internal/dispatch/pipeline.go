package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/internal/fanout"
	"github.com/krevetka-D/conecta-realtime/internal/presence"
	"github.com/krevetka-D/conecta-realtime/internal/registry"
	"github.com/krevetka-D/conecta-realtime/internal/rooms"
	"github.com/krevetka-D/conecta-realtime/internal/store"
	"github.com/krevetka-D/conecta-realtime/internal/typing"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// Deliverer is the transport-side collaborator: it pushes encoded events to
// live sessions. The hub satisfies it.
type Deliverer interface {
	Deliver(sessionIDs []string, event interface{}) (failed []string, err error)
	DeliverRaw(sessionIDs []string, data []byte) []string
	SendToSession(sessionID string, event interface{})
}

// Pipeline orchestrates every session-facing operation: auth handshake, room
// membership, message dispatch, typing, receipts, reactions. The transport
// handler decodes frames and calls in; the pipeline owns all semantics.
type Pipeline struct {
	registry    *registry.Registry
	rooms       *rooms.Tracker
	presence    *presence.Tracker
	typing      *typing.Aggregator
	hub         Deliverer
	messages    store.MessageStore
	directory   store.UserDirectory
	catalog     store.RoomCatalog
	verifier    store.CredentialVerifier
	broadcaster fanout.Broadcaster
}

func NewPipeline(
	reg *registry.Registry,
	roomTracker *rooms.Tracker,
	presenceTracker *presence.Tracker,
	h Deliverer,
	messages store.MessageStore,
	directory store.UserDirectory,
	catalog store.RoomCatalog,
	verifier store.CredentialVerifier,
	broadcaster fanout.Broadcaster,
	typingTTL time.Duration,
) *Pipeline {
	if broadcaster == nil {
		broadcaster = fanout.Noop{}
	}
	p := &Pipeline{
		registry:    reg,
		rooms:       roomTracker,
		presence:    presenceTracker,
		hub:         h,
		messages:    messages,
		directory:   directory,
		catalog:     catalog,
		verifier:    verifier,
		broadcaster: broadcaster,
	}
	p.typing = typing.NewAggregator(typingTTL, p.emitTyping)
	return p
}

// Authenticate verifies the credential and binds the user to the session.
// The returned event goes back to the authenticating session either way.
func (p *Pipeline) Authenticate(ctx context.Context, sessionID, token string) *domain.AuthResultEvent {
	userID, err := p.verifier.Verify(ctx, token)
	if err != nil {
		log.L().Debug().Err(err).Str(log.FieldSessionID, sessionID).Msg("authentication rejected")
		return &domain.AuthResultEvent{
			Type:    domain.EventAuthResult,
			Success: false,
			Message: "invalid credentials",
		}
	}

	if err := p.registry.Authenticate(sessionID, userID); err != nil {
		return &domain.AuthResultEvent{
			Type:    domain.EventAuthResult,
			Success: false,
			Message: "session no longer exists",
		}
	}

	return &domain.AuthResultEvent{
		Type:    domain.EventAuthResult,
		Success: true,
		UserID:  userID,
	}
}

// JoinRoom adds the session to the room and returns the membership snapshot
// for the joining session. Other members learn about the join through a
// user_joined_room broadcast; rejoining an already-joined room just refreshes
// the snapshot without re-announcing.
func (p *Pipeline) JoinRoom(ctx context.Context, sessionID, roomID string) (*domain.RoomJoinedEvent, error) {
	userID, ok := p.registry.UserForSession(sessionID)
	if !ok {
		return nil, domain.ErrNotAuthenticated
	}

	added, err := p.rooms.Join(ctx, sessionID, roomID)
	if err != nil {
		return nil, err
	}
	p.registry.TrackRoom(sessionID, roomID)

	if added && p.sessionCountForUser(userID, roomID) == 1 {
		p.broadcastToRoom(roomID, &domain.UserJoinedRoomEvent{
			Type:   domain.EventUserJoinedRoom,
			RoomID: roomID,
			UserID: userID,
		}, sessionID)
	}

	members, online := p.roomUsers(roomID)
	return &domain.RoomJoinedEvent{
		Type:        domain.EventRoomJoined,
		RoomID:      roomID,
		MemberCount: members,
		OnlineUsers: online,
	}, nil
}

// JoinDirect opens the direct conversation with another user. The room id is
// derived from the ordered user pair, so both ends land in the same room, and
// dispatch from there on is the ordinary room pipeline.
func (p *Pipeline) JoinDirect(ctx context.Context, sessionID, peerID string) (*domain.RoomJoinedEvent, error) {
	userID, ok := p.registry.UserForSession(sessionID)
	if !ok {
		return nil, domain.ErrNotAuthenticated
	}
	if peerID == "" || peerID == userID {
		return nil, &domain.ValidationError{Field: "userId", Reason: "must name another user"}
	}
	return p.JoinRoom(ctx, sessionID, domain.ConversationID(userID, peerID))
}

// LeaveRoom removes the session from the room. Leaving a room the session
// never joined is a no-op.
func (p *Pipeline) LeaveRoom(sessionID, roomID string) {
	userID, _ := p.registry.UserForSession(sessionID)
	removed := p.rooms.Leave(sessionID, roomID)
	p.registry.UntrackRoom(sessionID, roomID)
	if !removed || userID == "" {
		return
	}

	p.typing.ClearRoomUser(roomID, userID)

	if p.sessionCountForUser(userID, roomID) == 0 {
		p.broadcastToRoom(roomID, &domain.UserLeftRoomEvent{
			Type:   domain.EventUserLeftRoom,
			RoomID: roomID,
			UserID: userID,
		}, sessionID)
	}
}

// Disconnect tears down everything the session owned: room memberships with
// their leave broadcasts, typing entries, and the registry record. Presence
// transitions cascade from the registry.
func (p *Pipeline) Disconnect(sessionID string) {
	userID, _ := p.registry.UserForSession(sessionID)
	if userID != "" {
		// Peek rooms before destroying so leave events still resolve the user.
		for _, roomID := range p.registry.RoomsForSession(sessionID) {
			p.LeaveRoom(sessionID, roomID)
		}
	}
	p.registry.DestroySession(sessionID)
}

// SetTyping feeds the typing aggregator. Transitions fan out to the room via
// the aggregator's emit callback.
func (p *Pipeline) SetTyping(sessionID, roomID string, isTyping bool) error {
	userID, ok := p.registry.UserForSession(sessionID)
	if !ok {
		return domain.ErrNotAuthenticated
	}
	if !p.rooms.IsMember(sessionID, roomID) {
		return domain.ErrNotInRoom
	}
	p.typing.SetTyping(roomID, userID, isTyping)
	return nil
}

// RelayRemote delivers an event produced on another instance to this
// instance's sessions in the room. Called by the fanout consumer. Typing
// events stay suppressed for the typing user's own sessions here too.
func (p *Pipeline) RelayRemote(roomID string, payload []byte) {
	var env struct {
		Type   string `json:"type"`
		UserID string `json:"userId"`
	}
	if json.Unmarshal(payload, &env) == nil &&
		env.Type == domain.EventUserTyping && env.UserID != "" {
		p.hub.DeliverRaw(p.roomSessionsExcludingUser(roomID, env.UserID), payload)
		return
	}
	p.hub.DeliverRaw(p.rooms.MembersOf(roomID), payload)
}

// StopTyping cancels all typing timers. Used on shutdown.
func (p *Pipeline) StopTyping() {
	p.typing.Stop()
}

// emitTyping fans a typing transition out to the other room members. The
// typing user's own sessions never see the echo, whichever of them typed.
func (p *Pipeline) emitTyping(roomID, userID string, isTyping bool) {
	p.broadcastToRoom(roomID, &domain.UserTypingEvent{
		Type:     domain.EventUserTyping,
		RoomID:   roomID,
		UserID:   userID,
		IsTyping: isTyping,
	}, p.registry.SessionsForUser(userID)...)
}

// broadcastToRoom fans an event out to the room's local sessions (minus the
// excluded ones) and to other instances. Local delivery failures here are
// logged, not surfaced; only message dispatch reports partial failure to its
// caller.
func (p *Pipeline) broadcastToRoom(roomID string, event interface{}, exclude ...string) {
	data, err := json.Marshal(event)
	if err != nil {
		log.L().Error().Err(err).Str(log.FieldRoomID, roomID).Msg("failed to encode room event")
		return
	}

	targets := p.rooms.MembersOf(roomID)
	if len(exclude) > 0 {
		skip := make(map[string]struct{}, len(exclude))
		for _, id := range exclude {
			skip[id] = struct{}{}
		}
		filtered := targets[:0]
		for _, id := range targets {
			if _, drop := skip[id]; !drop {
				filtered = append(filtered, id)
			}
		}
		targets = filtered
	}
	p.hub.DeliverRaw(targets, data)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.broadcaster.Broadcast(ctx, roomID, data); err != nil {
		log.L().Warn().Err(err).Str(log.FieldRoomID, roomID).Msg("cross-instance broadcast failed")
	}
}

// roomSessionsExcludingUser returns the room's local sessions that do not
// belong to the given user.
func (p *Pipeline) roomSessionsExcludingUser(roomID, userID string) []string {
	var out []string
	for _, sid := range p.rooms.MembersOf(roomID) {
		if uid, _ := p.registry.UserForSession(sid); uid != userID {
			out = append(out, sid)
		}
	}
	return out
}

// sessionCountForUser counts the user's sessions currently in the room.
// Join/leave announcements fire only on the user's first-in and last-out.
func (p *Pipeline) sessionCountForUser(userID, roomID string) int {
	count := 0
	for _, sid := range p.registry.SessionsForUser(userID) {
		if p.rooms.IsMember(sid, roomID) {
			count++
		}
	}
	return count
}

// roomUsers resolves the distinct users in a room and which are online.
func (p *Pipeline) roomUsers(roomID string) (memberCount int, online []string) {
	seen := make(map[string]struct{})
	for _, sid := range p.rooms.MembersOf(roomID) {
		userID, ok := p.registry.UserForSession(sid)
		if !ok {
			continue
		}
		if _, dup := seen[userID]; dup {
			continue
		}
		seen[userID] = struct{}{}
		if p.presence.IsOnline(userID) {
			online = append(online, userID)
		}
	}
	return len(seen), online
}
