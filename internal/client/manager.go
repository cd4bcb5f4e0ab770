package client

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// State is the connection lifecycle position.
type State string

const (
	StateDisconnected   State = "disconnected"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateAuthenticating State = "authenticating"
	StateAuthenticated  State = "authenticated"
	StateReconnecting   State = "reconnecting"
	StateFailed         State = "failed"
)

// ConnectionStateEvent is emitted locally on every state transition.
type ConnectionStateEvent struct {
	Type    string `json:"type"`
	State   State  `json:"state"`
	Attempt int    `json:"attempt,omitempty"`
}

// Options configures the connection manager.
type Options struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration // default 10s
	BackoffBase      time.Duration // default 1s
	BackoffCap       time.Duration // default 30s
	MaxAttempts      int           // consecutive failures before giving up; default 10
	QueueLimit       int           // pending sends held while unauthenticated; default 100
}

func (o *Options) applyDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 10
	}
	if o.QueueLimit <= 0 {
		o.QueueLimit = 100
	}
}

// Manager drives the client side of the realtime connection: dialing, the
// auth handshake, reconnection with exponential backoff, queueing of sends
// made while offline, and room rejoin after reconnect. All server events go
// through the shared emitter.
type Manager struct {
	opts    Options
	emitter *Emitter
	dialer  *websocket.Dialer

	mu       sync.Mutex
	state    State
	userID   string
	conn     *websocket.Conn
	queue    [][]byte
	joined   map[string]struct{}
	lastSeen map[string]time.Time // roomID -> newest message timestamp seen
	attempts int
	closed   bool
	cancel   context.CancelFunc

	writeMu sync.Mutex

	// backfill, when set, is invoked after each room rejoin with the
	// timestamp of the last message seen there, so missed messages can be
	// fetched and emitted without duplicates.
	backfill func(ctx context.Context, roomID string, since time.Time)
}

func NewManager(opts Options, emitter *Emitter) *Manager {
	opts.applyDefaults()
	return &Manager{
		opts:    opts,
		emitter: emitter,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		state:    StateDisconnected,
		joined:   make(map[string]struct{}),
		lastSeen: make(map[string]time.Time),
	}
}

// SetBackfill installs the catch-up fetcher. Must be called before Connect.
func (m *Manager) SetBackfill(fn func(ctx context.Context, roomID string, since time.Time)) {
	m.backfill = fn
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts the connection loop. It returns immediately; transitions
// surface as connection_state_change events. A missing credential fails
// right here, before any dial: the handshake could never succeed.
func (m *Manager) Connect(ctx context.Context) {
	if m.opts.Token == "" {
		log.L().Error().Msg("cannot connect without a credential")
		m.emitter.EmitEvent(domain.EventError, domain.NewErrorEvent(
			domain.ErrCodeUnauthorized, domain.ErrAuthentication.Error()))
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.closed = false
	m.attempts = 0
	m.mu.Unlock()

	go m.run(runCtx)
}

// Close tears the connection down and stops reconnecting. Queued sends are
// dropped and every room membership is released; a later Connect starts from
// a clean slate.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	if m.cancel != nil {
		m.cancel()
	}
	conn := m.conn
	m.conn = nil
	m.queue = nil
	m.joined = make(map[string]struct{})
	m.lastSeen = make(map[string]time.Time)
	m.userID = ""
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.setState(StateDisconnected)
}

func (m *Manager) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		m.setState(StateConnecting)
		conn, _, err := m.dialer.DialContext(ctx, m.opts.URL, nil)
		if err != nil && isTimeout(err) && ctx.Err() == nil {
			err = domain.ErrConnectionTimeout
			m.emitter.EmitEvent(domain.EventError, domain.NewErrorEvent(
				domain.ErrCodeInternalError, domain.ErrConnectionTimeout.Error()))
		}
		if err == nil {
			m.mu.Lock()
			m.conn = conn
			m.mu.Unlock()
			m.setState(StateConnected)

			err = m.handshakeAndRead(ctx, conn)
			conn.Close()
			m.mu.Lock()
			m.conn = nil
			m.mu.Unlock()
		}

		m.mu.Lock()
		closed := m.closed
		m.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		m.mu.Lock()
		m.attempts++
		attempt := m.attempts
		m.mu.Unlock()

		if attempt > m.opts.MaxAttempts {
			log.L().Error().Err(err).Int("attempts", attempt-1).Msg("giving up on reconnection")
			m.setState(StateFailed)
			m.emitter.EmitEvent(domain.EventError, domain.NewErrorEvent(
				domain.ErrCodeInternalError, domain.ErrMaxReconnectAttempts.Error()))
			return
		}

		delay := m.backoffDelay(attempt)
		log.L().Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
		m.setStateAttempt(StateReconnecting, attempt)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// isTimeout reports whether a dial failure was a handshake deadline rather
// than an immediate refusal.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// backoffDelay grows exponentially from the base, capped, with a little
// jitter so a fleet of clients does not reconnect in lockstep.
func (m *Manager) backoffDelay(attempt int) time.Duration {
	delay := m.opts.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= m.opts.BackoffCap {
			delay = m.opts.BackoffCap
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/4 + 1))
	return delay + jitter
}

// handshakeAndRead authenticates and then pumps server events until the
// connection drops. Returns the terminal read error.
func (m *Manager) handshakeAndRead(ctx context.Context, conn *websocket.Conn) error {
	m.setState(StateAuthenticating)
	if err := m.writeJSON(conn, &domain.AuthMessage{
		Type:  domain.MsgTypeAuth,
		Token: m.opts.Token,
	}); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		m.handleServerEvent(conn, data)
	}
}

func (m *Manager) handleServerEvent(conn *websocket.Conn, data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	switch env.Type {
	case domain.EventAuthResult:
		var ev domain.AuthResultEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return
		}
		if ev.Success {
			m.mu.Lock()
			m.userID = ev.UserID
			m.mu.Unlock()
			m.onAuthenticated(conn)
		} else {
			// A rejected credential will not get better on retry. Stop the
			// loop and surface the failure; the host decides how to recover.
			log.L().Warn().Str("reason", ev.Message).Msg("authentication rejected")
			m.emitter.EmitEvent(domain.EventError, domain.NewErrorEvent(
				domain.ErrCodeUnauthorized, domain.ErrAuthentication.Error()))
			m.Close()
		}

	case domain.EventNewMessage:
		var ev domain.NewMessageEvent
		if err := json.Unmarshal(data, &ev); err == nil {
			m.trackLastSeen(ev.Message.RoomID, ev.Message.CreatedAt)
		}
	}

	m.emitter.Emit(data)
}

// onAuthenticated resets the failure budget, flushes queued sends in order,
// and rejoins every room the session was in before the drop.
func (m *Manager) onAuthenticated(conn *websocket.Conn) {
	m.mu.Lock()
	m.attempts = 0
	pending := m.queue
	m.queue = nil
	rooms := make([]string, 0, len(m.joined))
	for roomID := range m.joined {
		rooms = append(rooms, roomID)
	}
	m.mu.Unlock()

	m.setState(StateAuthenticated)

	for _, roomID := range rooms {
		m.writeJSON(conn, &domain.JoinRoomMessage{
			Type:   domain.MsgTypeJoinRoom,
			RoomID: roomID,
		})
		if m.backfill != nil {
			m.mu.Lock()
			since := m.lastSeen[roomID]
			m.mu.Unlock()
			if !since.IsZero() {
				go m.backfill(context.Background(), roomID, since)
			}
		}
	}

	for _, data := range pending {
		m.writeRaw(conn, data)
	}
}

func (m *Manager) trackLastSeen(roomID string, at time.Time) {
	if roomID == "" || at.IsZero() {
		return
	}
	m.mu.Lock()
	if at.After(m.lastSeen[roomID]) {
		m.lastSeen[roomID] = at
	}
	m.mu.Unlock()
}

// JoinRoom subscribes to a room. The membership survives reconnects. While
// offline the join is not queued; the auth handshake replays memberships.
func (m *Manager) JoinRoom(roomID string) error {
	m.mu.Lock()
	m.joined[roomID] = struct{}{}
	m.mu.Unlock()
	return m.sendIfConnected(&domain.JoinRoomMessage{Type: domain.MsgTypeJoinRoom, RoomID: roomID})
}

// JoinDirect opens the direct conversation with another user and returns the
// derived room id. Requires a completed auth handshake, since the room id
// depends on the local user's identity.
func (m *Manager) JoinDirect(peerID string) (string, error) {
	m.mu.Lock()
	userID := m.userID
	m.mu.Unlock()
	if userID == "" {
		return "", domain.ErrNotAuthenticated
	}
	roomID := domain.ConversationID(userID, peerID)
	return roomID, m.JoinRoom(roomID)
}

// LeaveRoom unsubscribes from a room.
func (m *Manager) LeaveRoom(roomID string) error {
	m.mu.Lock()
	delete(m.joined, roomID)
	m.mu.Unlock()
	return m.sendIfConnected(&domain.LeaveRoomMessage{Type: domain.MsgTypeLeaveRoom, RoomID: roomID})
}

// SendChat sends a chat message. tempID correlates the server echo with the
// caller's optimistic entry.
func (m *Manager) SendChat(roomID, content, tempID string) error {
	return m.send(&domain.SendMessageRequest{
		Type:    domain.MsgTypeSendMessage,
		RoomID:  roomID,
		Content: content,
		TempID:  tempID,
	})
}

// EditMessage replaces the content of a previously sent message.
func (m *Manager) EditMessage(messageID, content string) error {
	return m.send(&domain.EditMessageRequest{
		Type:      domain.MsgTypeEditMessage,
		MessageID: messageID,
		Content:   content,
	})
}

// SetTyping signals typing state for a room.
func (m *Manager) SetTyping(roomID string, isTyping bool) error {
	return m.send(&domain.TypingMessage{Type: domain.MsgTypeTyping, RoomID: roomID, IsTyping: isTyping})
}

// MarkRead records read receipts; empty ids means everything recent.
func (m *Manager) MarkRead(roomID string, messageIDs []string) error {
	return m.send(&domain.MarkReadMessage{Type: domain.MsgTypeMarkRead, RoomID: roomID, MessageIDs: messageIDs})
}

// send writes immediately when authenticated, otherwise queues FIFO. The
// queue is bounded; overflow drops the oldest entry.
func (m *Manager) send(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	authenticated := m.state == StateAuthenticated
	if !authenticated || conn == nil {
		if len(m.queue) >= m.opts.QueueLimit {
			m.queue = m.queue[1:]
		}
		m.queue = append(m.queue, data)
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.writeRaw(conn, data)
}

// sendIfConnected writes when authenticated and silently drops otherwise.
func (m *Manager) sendIfConnected(msg interface{}) error {
	m.mu.Lock()
	conn := m.conn
	authenticated := m.state == StateAuthenticated
	m.mu.Unlock()
	if !authenticated || conn == nil {
		return nil
	}
	return m.writeJSON(conn, msg)
}

func (m *Manager) writeJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return m.writeRaw(conn, data)
}

func (m *Manager) writeRaw(conn *websocket.Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) setState(s State) {
	m.setStateAttempt(s, 0)
}

func (m *Manager) setStateAttempt(s State, attempt int) {
	m.mu.Lock()
	if m.state == s && attempt == 0 {
		m.mu.Unlock()
		return
	}
	m.state = s
	m.mu.Unlock()

	m.emitter.EmitEvent(domain.EventConnectionState, &ConnectionStateEvent{
		Type:    domain.EventConnectionState,
		State:   s,
		Attempt: attempt,
	})
}
