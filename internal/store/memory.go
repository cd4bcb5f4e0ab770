package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
)

// MemoryStore is an in-memory MessageStore, RoomCatalog, and UserDirectory.
// It backs tests and single-node development deployments where neither
// Cassandra nor a SQL database is available.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*domain.Message // messageID -> message
	byRoom   map[string][]string        // roomID -> messageIDs in insert order
	rooms    map[string]time.Time       // roomID -> last activity
	users    map[string]*Profile
	online   map[string]bool
	lastSeen map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*domain.Message),
		byRoom:   make(map[string][]string),
		rooms:    make(map[string]time.Time),
		users:    make(map[string]*Profile),
		online:   make(map[string]bool),
		lastSeen: make(map[string]time.Time),
	}
}

// AddRoom registers a room in the catalog.
func (s *MemoryStore) AddRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		s.rooms[roomID] = time.Time{}
	}
}

// AddUser registers a user profile in the directory.
func (s *MemoryStore) AddUser(p *Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[p.ID] = p
}

func (s *MemoryStore) Insert(ctx context.Context, msg *domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *msg
	s.messages[msg.ID] = &cp
	s.byRoom[msg.RoomID] = append(s.byRoom[msg.RoomID], msg.ID)
	return nil
}

// sortedRoomMessages returns the room's messages newest-first.
func (s *MemoryStore) sortedRoomMessages(roomID string) []*domain.Message {
	ids := s.byRoom[roomID]
	msgs := make([]*domain.Message, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, s.messages[id])
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID > msgs[j].ID
		}
		return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
	})
	return msgs
}

func (s *MemoryStore) FindByRoom(ctx context.Context, roomID string, cursor Cursor, limit int) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.sortedRoomMessages(roomID)

	// Skip everything at or after the cursor position.
	if !cursor.IsZero() {
		idx := 0
		for i, m := range msgs {
			if m.CreatedAt.Before(cursor.CreatedAt) ||
				(m.CreatedAt.Equal(cursor.CreatedAt) && m.ID < cursor.MessageID) {
				idx = i
				break
			}
			idx = i + 1
		}
		msgs = msgs[idx:]
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}

	page := &Page{HasMore: hasMore}
	for _, m := range msgs {
		page.Messages = append(page.Messages, m.Redacted())
	}
	if n := len(page.Messages); n > 0 {
		last := page.Messages[n-1]
		page.Cursor = Cursor{CreatedAt: last.CreatedAt, MessageID: last.ID}
	}
	return page, nil
}

func (s *MemoryStore) FindSince(ctx context.Context, roomID string, since time.Time, limit int) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.sortedRoomMessages(roomID)

	// Collect strictly-newer messages, oldest first.
	var out []domain.Message
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.CreatedAt.After(since) {
			out = append(out, m.Redacted())
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, messageID string) (*domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	cp := msg.Redacted()
	return &cp, nil
}

func (s *MemoryStore) UpdateReadBy(ctx context.Context, messageIDs []string, userID string, readAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range messageIDs {
		msg, ok := s.messages[id]
		if !ok {
			continue
		}
		if !msg.HasRead(userID) {
			msg.ReadBy = append(msg.ReadBy, domain.ReadReceipt{UserID: userID, ReadAt: readAt})
		}
	}
	return nil
}

func (s *MemoryStore) SetContent(ctx context.Context, messageID, content string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return domain.ErrMessageNotFound
	}
	msg.Content = content
	msg.Edited = true
	msg.EditedAt = &editedAt
	return nil
}

func (s *MemoryStore) SetDeleted(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return domain.ErrMessageNotFound
	}
	msg.Deleted = true
	return nil
}

func (s *MemoryStore) SetReaction(ctx context.Context, messageID, userID, emoji string) ([]domain.Reaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}

	filtered := msg.Reactions[:0]
	for _, r := range msg.Reactions {
		if r.UserID != userID {
			filtered = append(filtered, r)
		}
	}
	msg.Reactions = filtered
	if emoji != "" {
		msg.Reactions = append(msg.Reactions, domain.Reaction{UserID: userID, Emoji: emoji})
	}

	out := make([]domain.Reaction, len(msg.Reactions))
	copy(out, msg.Reactions)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// RoomCatalog

func (s *MemoryStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[roomID]
	return ok, nil
}

func (s *MemoryStore) TouchActivity(ctx context.Context, roomID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[roomID]; !ok {
		return domain.ErrRoomNotFound
	}
	s.rooms[roomID] = at
	return nil
}

// UserDirectory

func (s *MemoryStore) ResolveProfile(ctx context.Context, userID string) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.users[userID]
	if !ok {
		// Unknown users still get a usable sender block.
		return &Profile{ID: userID, Name: userID}, nil
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) SetOnlineStatus(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[userID] = isOnline
	s.lastSeen[userID] = lastSeen
	return nil
}

// OnlineStatus reports the mirrored status, for tests.
func (s *MemoryStore) OnlineStatus(userID string) (bool, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online[userID], s.lastSeen[userID]
}
