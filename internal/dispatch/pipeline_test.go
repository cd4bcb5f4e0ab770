package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/internal/presence"
	"github.com/krevetka-D/conecta-realtime/internal/registry"
	"github.com/krevetka-D/conecta-realtime/internal/rooms"
	"github.com/krevetka-D/conecta-realtime/internal/store"
)

// fakeHub records deliveries instead of writing to sockets.
type fakeHub struct {
	mu   sync.Mutex
	sent map[string][][]byte
	fail map[string]bool
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		sent: make(map[string][][]byte),
		fail: make(map[string]bool),
	}
}

func (f *fakeHub) Deliver(sessionIDs []string, event interface{}) ([]string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return f.DeliverRaw(sessionIDs, data), nil
}

func (f *fakeHub) DeliverRaw(sessionIDs []string, data []byte) (failed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range sessionIDs {
		if f.fail[id] {
			failed = append(failed, id)
			continue
		}
		f.sent[id] = append(f.sent[id], data)
	}
	return failed
}

func (f *fakeHub) SendToSession(sessionID string, event interface{}) {
	f.Deliver([]string{sessionID}, event)
}

// eventsOf decodes the event types delivered to a session, in order.
func (f *fakeHub) eventsOf(t *testing.T, sessionID string) []string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, data := range f.sent[sessionID] {
		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("malformed event for %s: %v", sessionID, err)
		}
		out = append(out, env.Type)
	}
	return out
}

func (f *fakeHub) lastEvent(t *testing.T, sessionID string, out interface{}) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	payloads := f.sent[sessionID]
	if len(payloads) == 0 {
		t.Fatalf("no events delivered to %s", sessionID)
	}
	if err := json.Unmarshal(payloads[len(payloads)-1], out); err != nil {
		t.Fatalf("decode event: %v", err)
	}
}

type fixture struct {
	pipeline *Pipeline
	hub      *fakeHub
	registry *registry.Registry
	store    *store.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := store.NewMemoryStore()
	mem.AddRoom("room-a")
	mem.AddRoom("room-b")
	mem.AddUser(&store.Profile{ID: "alice", Name: "Alice"})
	mem.AddUser(&store.Profile{ID: "bob", Name: "Bob"})

	reg := registry.NewRegistry()
	roomTracker := rooms.NewTracker(mem)
	presenceTracker := presence.NewTracker(reg, nil, nil, "test")
	h := newFakeHub()

	p := NewPipeline(
		reg, roomTracker, presenceTracker, h,
		mem, mem, mem, store.PermissiveVerifier{}, nil,
		time.Minute,
	)
	t.Cleanup(p.StopTyping)

	return &fixture{pipeline: p, hub: h, registry: reg, store: mem}
}

// connect registers and authenticates a session. With the permissive
// verifier the token doubles as the user id.
func (fx *fixture) connect(t *testing.T, sessionID, userID string) {
	t.Helper()
	fx.registry.RegisterSession(sessionID)
	result := fx.pipeline.Authenticate(context.Background(), sessionID, userID)
	if !result.Success {
		t.Fatalf("authenticate %s: %s", sessionID, result.Message)
	}
}

func (fx *fixture) join(t *testing.T, sessionID, roomID string) {
	t.Helper()
	if _, err := fx.pipeline.JoinRoom(context.Background(), sessionID, roomID); err != nil {
		t.Fatalf("join %s -> %s: %v", sessionID, roomID, err)
	}
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	fx := newFixture(t)
	fx.registry.RegisterSession("s1")

	result := fx.pipeline.Authenticate(context.Background(), "s1", "")
	if result.Success {
		t.Fatal("empty token must fail")
	}
	if fx.registry.IsAuthenticated("s1") {
		t.Fatal("session must stay unauthenticated")
	}
}

func TestJoinRoomRequiresAuth(t *testing.T) {
	fx := newFixture(t)
	fx.registry.RegisterSession("s1")

	_, err := fx.pipeline.JoinRoom(context.Background(), "s1", "room-a")
	if !errors.Is(err, domain.ErrNotAuthenticated) {
		t.Fatalf("err = %v; want ErrNotAuthenticated", err)
	}
}

func TestJoinDirectDerivesSharedRoom(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.connect(t, "s-bob", "bob")

	// Both ends land in the same conversation regardless of who initiates.
	snapAlice, err := fx.pipeline.JoinDirect(context.Background(), "s-alice", "bob")
	if err != nil {
		t.Fatalf("JoinDirect alice: %v", err)
	}
	snapBob, err := fx.pipeline.JoinDirect(context.Background(), "s-bob", "alice")
	if err != nil {
		t.Fatalf("JoinDirect bob: %v", err)
	}
	if snapAlice.RoomID != snapBob.RoomID {
		t.Fatalf("room ids differ: %s vs %s", snapAlice.RoomID, snapBob.RoomID)
	}
	if snapBob.MemberCount != 2 {
		t.Fatalf("MemberCount = %d; want 2", snapBob.MemberCount)
	}

	// The conversation has no catalog record but messages flow anyway.
	_, err = fx.pipeline.SendMessage(context.Background(), "s-alice", &domain.SendMessageRequest{
		Type:    domain.MsgTypeSendMessage,
		RoomID:  snapAlice.RoomID,
		Content: "hi bob",
	})
	if err != nil {
		t.Fatalf("SendMessage in conversation: %v", err)
	}

	var ev domain.NewMessageEvent
	fx.hub.lastEvent(t, "s-bob", &ev)
	if ev.Type != domain.EventNewMessage || ev.Message.Content != "hi bob" {
		t.Fatalf("bob received %+v; want the direct message", ev)
	}
}

func TestJoinDirectRejectsSelfAndEmptyPeer(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")

	for _, peer := range []string{"", "alice"} {
		_, err := fx.pipeline.JoinDirect(context.Background(), "s-alice", peer)
		var validation *domain.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("JoinDirect(%q) err = %v; want validation error", peer, err)
		}
	}
}

func TestJoinRoomAnnouncesToExistingMembers(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.connect(t, "s-bob", "bob")
	fx.join(t, "s-alice", "room-a")

	snapshot, err := fx.pipeline.JoinRoom(context.Background(), "s-bob", "room-a")
	if err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	if snapshot.MemberCount != 2 {
		t.Fatalf("MemberCount = %d; want 2", snapshot.MemberCount)
	}
	if len(snapshot.OnlineUsers) != 2 {
		t.Fatalf("OnlineUsers = %v; want both users", snapshot.OnlineUsers)
	}

	events := fx.hub.eventsOf(t, "s-alice")
	if len(events) != 1 || events[0] != domain.EventUserJoinedRoom {
		t.Fatalf("alice's events = %v; want [user_joined_room]", events)
	}
	// The joining session itself is not broadcast to.
	if got := fx.hub.eventsOf(t, "s-bob"); len(got) != 0 {
		t.Fatalf("bob's events = %v; want none", got)
	}
}

func TestRejoinDoesNotReannounce(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.connect(t, "s-bob", "bob")
	fx.join(t, "s-alice", "room-a")
	fx.join(t, "s-bob", "room-a")
	fx.join(t, "s-bob", "room-a")

	events := fx.hub.eventsOf(t, "s-alice")
	if len(events) != 1 {
		t.Fatalf("alice's events = %v; want a single join announcement", events)
	}
}

func TestSendMessageFanOut(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.connect(t, "s-bob", "bob")
	fx.join(t, "s-alice", "room-a")
	fx.join(t, "s-bob", "room-a")

	msg, err := fx.pipeline.SendMessage(context.Background(), "s-alice", &domain.SendMessageRequest{
		Type:    domain.MsgTypeSendMessage,
		RoomID:  "room-a",
		Content: "hello",
		TempID:  "tmp-1",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if msg.Sender.ID != "alice" || msg.Sender.Name != "Alice" {
		t.Fatalf("sender = %+v; want hydrated alice", msg.Sender)
	}
	if len(msg.ReadBy) != 1 || msg.ReadBy[0].UserID != "alice" {
		t.Fatalf("readBy = %+v; want sender receipt", msg.ReadBy)
	}

	// Bob receives the plain event.
	var bobEv domain.NewMessageEvent
	fx.hub.lastEvent(t, "s-bob", &bobEv)
	if bobEv.Type != domain.EventNewMessage || bobEv.Message.Content != "hello" {
		t.Fatalf("bob's event = %+v", bobEv)
	}
	if bobEv.TempID != "" {
		t.Fatal("temp id must not leak to other sessions")
	}

	// Alice's session gets the echo with the temp id.
	var aliceEv domain.NewMessageEvent
	fx.hub.lastEvent(t, "s-alice", &aliceEv)
	if aliceEv.TempID != "tmp-1" {
		t.Fatalf("alice's temp id = %q; want tmp-1", aliceEv.TempID)
	}

	// Persisted.
	stored, err := fx.store.FindByID(context.Background(), msg.ID)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if stored.Content != "hello" {
		t.Fatalf("stored content = %q", stored.Content)
	}
}

func TestSendMessageValidation(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.join(t, "s-alice", "room-a")

	tests := []struct {
		name    string
		session string
		room    string
		content string
		wantErr error
	}{
		{"unauthenticated", "s-ghost", "room-a", "hi", domain.ErrNotAuthenticated},
		{"not in room", "s-alice", "room-b", "hi", domain.ErrNotInRoom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.pipeline.SendMessage(context.Background(), tt.session, &domain.SendMessageRequest{
				RoomID:  tt.room,
				Content: tt.content,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v; want %v", err, tt.wantErr)
			}
		})
	}

	t.Run("empty content", func(t *testing.T) {
		_, err := fx.pipeline.SendMessage(context.Background(), "s-alice", &domain.SendMessageRequest{
			RoomID:  "room-a",
			Content: "   ",
		})
		var validation *domain.ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("err = %v; want ValidationError", err)
		}
	})
}

func TestSendMessagePartialDelivery(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.connect(t, "s-bob", "bob")
	fx.join(t, "s-alice", "room-a")
	fx.join(t, "s-bob", "room-a")
	fx.hub.fail["s-bob"] = true

	msg, err := fx.pipeline.SendMessage(context.Background(), "s-alice", &domain.SendMessageRequest{
		RoomID:  "room-a",
		Content: "hello",
	})

	var partial *domain.DeliveryPartialFailure
	if !errors.As(err, &partial) {
		t.Fatalf("err = %v; want DeliveryPartialFailure", err)
	}
	if len(partial.FailedSessions) != 1 || partial.FailedSessions[0] != "s-bob" {
		t.Fatalf("failed sessions = %v; want [s-bob]", partial.FailedSessions)
	}

	// The message is persisted regardless.
	if _, err := fx.store.FindByID(context.Background(), msg.ID); err != nil {
		t.Fatalf("message not persisted: %v", err)
	}
}

func TestReplyPreviewResolution(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.connect(t, "s-bob", "bob")
	fx.join(t, "s-alice", "room-a")
	fx.join(t, "s-bob", "room-a")

	original, err := fx.pipeline.SendMessage(context.Background(), "s-alice", &domain.SendMessageRequest{
		RoomID: "room-a", Content: "first",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	reply, err := fx.pipeline.SendMessage(context.Background(), "s-bob", &domain.SendMessageRequest{
		RoomID: "room-a", Content: "second", ReplyTo: original.ID,
	})
	if err != nil {
		t.Fatalf("SendMessage reply: %v", err)
	}
	if reply.ReplyTo == nil || reply.ReplyTo.ID != original.ID || reply.ReplyTo.Content != "first" {
		t.Fatalf("replyTo = %+v; want preview of original", reply.ReplyTo)
	}

	// A dangling reference is dropped, not an error.
	dangling, err := fx.pipeline.SendMessage(context.Background(), "s-bob", &domain.SendMessageRequest{
		RoomID: "room-a", Content: "third", ReplyTo: "missing",
	})
	if err != nil {
		t.Fatalf("SendMessage dangling reply: %v", err)
	}
	if dangling.ReplyTo != nil {
		t.Fatalf("replyTo = %+v; want nil for unknown target", dangling.ReplyTo)
	}
}

func TestMarkReadDefaultScope(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.connect(t, "s-bob", "bob")
	fx.join(t, "s-alice", "room-a")
	fx.join(t, "s-bob", "room-a")

	sent := make([]*domain.Message, 0, 3)
	for i := 0; i < 3; i++ {
		msg, err := fx.pipeline.SendMessage(context.Background(), "s-alice", &domain.SendMessageRequest{
			RoomID: "room-a", Content: fmt.Sprintf("msg %d", i),
		})
		if err != nil {
			t.Fatalf("SendMessage: %v", err)
		}
		sent = append(sent, msg)
	}

	if err := fx.pipeline.MarkRead(context.Background(), "s-bob", "room-a", nil); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	for _, msg := range sent {
		stored, _ := fx.store.FindByID(context.Background(), msg.ID)
		if !stored.HasRead("bob") {
			t.Fatalf("message %s missing bob's receipt", msg.ID)
		}
		if len(stored.ReadBy) != 2 {
			t.Fatalf("readBy = %+v; want sender + bob", stored.ReadBy)
		}
	}

	// Marking again must not duplicate receipts.
	if err := fx.pipeline.MarkRead(context.Background(), "s-bob", "room-a", nil); err != nil {
		t.Fatalf("second MarkRead: %v", err)
	}
	stored, _ := fx.store.FindByID(context.Background(), sent[0].ID)
	if len(stored.ReadBy) != 2 {
		t.Fatalf("readBy after re-mark = %+v; want 2 receipts", stored.ReadBy)
	}
}

func TestReactionBroadcast(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.connect(t, "s-bob", "bob")
	fx.join(t, "s-alice", "room-a")
	fx.join(t, "s-bob", "room-a")

	msg, err := fx.pipeline.SendMessage(context.Background(), "s-alice", &domain.SendMessageRequest{
		RoomID: "room-a", Content: "react to this",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if err := fx.pipeline.SetReaction(context.Background(), "s-bob", "room-a", msg.ID, "👍"); err != nil {
		t.Fatalf("SetReaction: %v", err)
	}

	var ev domain.MessageReactionEvent
	fx.hub.lastEvent(t, "s-alice", &ev)
	if ev.Type != domain.EventMessageReaction || ev.MessageID != msg.ID {
		t.Fatalf("event = %+v", ev)
	}
	if len(ev.Reactions) != 1 || ev.Reactions[0].UserID != "bob" || ev.Reactions[0].Emoji != "👍" {
		t.Fatalf("reactions = %+v", ev.Reactions)
	}

	// Clearing removes the reaction.
	if err := fx.pipeline.SetReaction(context.Background(), "s-bob", "room-a", msg.ID, ""); err != nil {
		t.Fatalf("clear reaction: %v", err)
	}
	fx.hub.lastEvent(t, "s-alice", &ev)
	if len(ev.Reactions) != 0 {
		t.Fatalf("reactions after clear = %+v; want empty", ev.Reactions)
	}
}

func TestSentMessageNotReplayedByOwnWatermark(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.join(t, "s-alice", "room-a")

	msg, err := fx.pipeline.SendMessage(context.Background(), "s-alice", &domain.SendMessageRequest{
		RoomID: "room-a", Content: "hello",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if !msg.CreatedAt.Truncate(time.Millisecond).Equal(msg.CreatedAt) {
		t.Fatalf("creation timestamp carries sub-millisecond precision: %v", msg.CreatedAt)
	}

	// Since watermarks travel as unix milliseconds. A watermark advanced by
	// this message and sent back must not fetch the message again.
	watermark := time.UnixMilli(msg.CreatedAt.UnixMilli())
	replay, err := fx.store.FindSince(context.Background(), "room-a", watermark, 0)
	if err != nil {
		t.Fatalf("FindSince: %v", err)
	}
	if len(replay) != 0 {
		t.Fatalf("message re-delivered after its own watermark: %d messages (first id=%s)",
			len(replay), replay[0].ID)
	}
}

func TestEditMessage(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.connect(t, "s-bob", "bob")
	fx.join(t, "s-alice", "room-a")
	fx.join(t, "s-bob", "room-a")

	msg, err := fx.pipeline.SendMessage(context.Background(), "s-alice", &domain.SendMessageRequest{
		RoomID: "room-a", Content: "original",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// Only the sender may edit.
	if err := fx.pipeline.EditMessage(context.Background(), "s-bob", msg.ID, "hijacked"); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("err = %v; want ErrForbidden", err)
	}

	if err := fx.pipeline.EditMessage(context.Background(), "s-alice", msg.ID, "amended"); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}

	var ev domain.MessageEditedEvent
	fx.hub.lastEvent(t, "s-bob", &ev)
	if ev.Type != domain.EventMessageEdited || ev.MessageID != msg.ID || ev.Content != "amended" {
		t.Fatalf("event = %+v", ev)
	}

	stored, _ := fx.store.FindByID(context.Background(), msg.ID)
	if stored.Content != "amended" || !stored.Edited || stored.EditedAt == nil {
		t.Fatalf("stored = %+v; want edited content", stored)
	}
	if !stored.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatal("ordering timestamp must not change on edit")
	}

	// Blank content is rejected before any side effect.
	var validation *domain.ValidationError
	if err := fx.pipeline.EditMessage(context.Background(), "s-alice", msg.ID, "   "); !errors.As(err, &validation) {
		t.Fatalf("err = %v; want ValidationError", err)
	}

	// Soft-deleted messages are not editable.
	if err := fx.pipeline.DeleteMessage(context.Background(), "s-alice", msg.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if err := fx.pipeline.EditMessage(context.Background(), "s-alice", msg.ID, "too late"); !errors.Is(err, domain.ErrMessageNotFound) {
		t.Fatalf("err = %v; want ErrMessageNotFound", err)
	}
}

func TestDeleteMessage(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.connect(t, "s-bob", "bob")
	fx.join(t, "s-alice", "room-a")
	fx.join(t, "s-bob", "room-a")

	msg, err := fx.pipeline.SendMessage(context.Background(), "s-alice", &domain.SendMessageRequest{
		RoomID: "room-a", Content: "to be removed",
	})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	// Only the sender may delete.
	if err := fx.pipeline.DeleteMessage(context.Background(), "s-bob", msg.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("err = %v; want ErrForbidden", err)
	}

	if err := fx.pipeline.DeleteMessage(context.Background(), "s-alice", msg.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}

	var ev domain.MessageDeletedEvent
	fx.hub.lastEvent(t, "s-bob", &ev)
	if ev.Type != domain.EventMessageDeleted || ev.MessageID != msg.ID {
		t.Fatalf("event = %+v", ev)
	}

	// Reads return the placeholder, never the original content.
	stored, _ := fx.store.FindByID(context.Background(), msg.ID)
	if !stored.Deleted || stored.Content != domain.DeletedPlaceholder {
		t.Fatalf("stored = %+v; want redacted", stored)
	}
}

func TestTypingFanOut(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.connect(t, "s-alice-2", "alice")
	fx.connect(t, "s-bob", "bob")
	fx.join(t, "s-alice", "room-a")
	fx.join(t, "s-alice-2", "room-a")
	fx.join(t, "s-bob", "room-a")

	if err := fx.pipeline.SetTyping("s-alice", "room-a", true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}

	var ev domain.UserTypingEvent
	fx.hub.lastEvent(t, "s-bob", &ev)
	if ev.Type != domain.EventUserTyping || ev.UserID != "alice" || !ev.IsTyping {
		t.Fatalf("event = %+v", ev)
	}

	// The typing user's own sessions never see the echo, whichever typed.
	for _, sid := range []string{"s-alice", "s-alice-2"} {
		for _, typ := range fx.hub.eventsOf(t, sid) {
			if typ == domain.EventUserTyping {
				t.Fatalf("%s received its own typing indicator", sid)
			}
		}
	}

	if err := fx.pipeline.SetTyping("s-alice", "room-a", false); err != nil {
		t.Fatalf("stop typing: %v", err)
	}
	fx.hub.lastEvent(t, "s-bob", &ev)
	if ev.IsTyping {
		t.Fatalf("event = %+v; want stop", ev)
	}

	if err := fx.pipeline.SetTyping("s-alice", "room-b", true); !errors.Is(err, domain.ErrNotInRoom) {
		t.Fatalf("err = %v; want ErrNotInRoom", err)
	}
}

func TestDisconnectCascade(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice", "alice")
	fx.connect(t, "s-bob", "bob")
	fx.join(t, "s-alice", "room-a")
	fx.join(t, "s-bob", "room-a")

	fx.pipeline.Disconnect("s-alice")

	var ev domain.UserLeftRoomEvent
	fx.hub.lastEvent(t, "s-bob", &ev)
	if ev.Type != domain.EventUserLeftRoom || ev.UserID != "alice" {
		t.Fatalf("event = %+v; want alice leaving", ev)
	}

	if fx.registry.SessionCount() != 1 {
		t.Fatalf("SessionCount = %d; want 1", fx.registry.SessionCount())
	}
	if _, ok := fx.registry.UserForSession("s-alice"); ok {
		t.Fatal("s-alice should be gone")
	}
}

func TestMultiSessionLeaveAnnouncesOnlyOnLastSession(t *testing.T) {
	fx := newFixture(t)
	fx.connect(t, "s-alice-1", "alice")
	fx.connect(t, "s-alice-2", "alice")
	fx.connect(t, "s-bob", "bob")
	fx.join(t, "s-alice-1", "room-a")
	fx.join(t, "s-alice-2", "room-a")
	fx.join(t, "s-bob", "room-a")

	before := len(fx.hub.eventsOf(t, "s-bob"))
	fx.pipeline.LeaveRoom("s-alice-1", "room-a")
	if got := len(fx.hub.eventsOf(t, "s-bob")); got != before {
		t.Fatal("leave announced while alice still has a session in the room")
	}

	fx.pipeline.LeaveRoom("s-alice-2", "room-a")
	events := fx.hub.eventsOf(t, "s-bob")
	if events[len(events)-1] != domain.EventUserLeftRoom {
		t.Fatalf("events = %v; want trailing user_left_room", events)
	}
}
