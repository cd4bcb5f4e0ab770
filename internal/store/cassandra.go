package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
)

// CassandraConfig holds Cassandra connection configuration.
type CassandraConfig struct {
	Hosts          []string      `mapstructure:"hosts"`
	Keyspace       string        `mapstructure:"keyspace"`
	Consistency    string        `mapstructure:"consistency"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	Timeout        time.Duration `mapstructure:"timeout"`
	NumConns       int           `mapstructure:"num_conns"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
}

// Cassandra table layout:
//
// messages_by_room (
//   room_id text, created_at timestamp, message_id text,
//   sender_id text, sender_name text, content text, type text,
//   attachments text,                      -- JSON-encoded []Attachment
//   reply_to text,                         -- JSON-encoded ReplyPreview
//   read_by map<text, timestamp>,          -- user_id -> read_at
//   reactions map<text, text>,             -- user_id -> emoji
//   deleted boolean, edited boolean, edited_at timestamp,
//   PRIMARY KEY ((room_id), created_at, message_id)
// ) WITH CLUSTERING ORDER BY (created_at DESC, message_id DESC)
//
// message_index (
//   message_id text PRIMARY KEY, room_id text, created_at timestamp
// )
//
// The index table resolves by-id updates (read receipts, soft delete,
// reactions) to the full clustering key of messages_by_room.

// CassandraMessageStore implements MessageStore on Cassandra.
type CassandraMessageStore struct {
	session *gocql.Session
}

// NewCassandraMessageStore connects to the cluster and returns a store.
func NewCassandraMessageStore(cfg CassandraConfig) (*CassandraMessageStore, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.ConnectTimeout = cfg.ConnectTimeout
	cluster.Timeout = cfg.Timeout
	if cfg.NumConns > 0 {
		cluster.NumConns = cfg.NumConns
	}

	if cfg.Username != "" && cfg.Password != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	cluster.RetryPolicy = &gocql.ExponentialBackoffRetryPolicy{
		NumRetries: 3,
		Min:        100 * time.Millisecond,
		Max:        2 * time.Second,
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create cassandra session: %w", err)
	}

	return &CassandraMessageStore{session: session}, nil
}

func (s *CassandraMessageStore) Insert(ctx context.Context, msg *domain.Message) error {
	attachments, err := json.Marshal(msg.Attachments)
	if err != nil {
		return fmt.Errorf("failed to marshal attachments: %w", err)
	}

	var replyTo []byte
	if msg.ReplyTo != nil {
		replyTo, err = json.Marshal(msg.ReplyTo)
		if err != nil {
			return fmt.Errorf("failed to marshal reply preview: %w", err)
		}
	}

	readBy := make(map[string]time.Time, len(msg.ReadBy))
	for _, r := range msg.ReadBy {
		readBy[r.UserID] = r.ReadAt
	}

	batch := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	batch.Query(`
		INSERT INTO messages_by_room (
			room_id, created_at, message_id, sender_id, sender_name,
			content, type, attachments, reply_to, read_by, deleted, edited
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, false, false)`,
		msg.RoomID, msg.CreatedAt, msg.ID, msg.Sender.ID, msg.Sender.Name,
		msg.Content, string(msg.Type), string(attachments), string(replyTo), readBy,
	)
	batch.Query(`
		INSERT INTO message_index (message_id, room_id, created_at) VALUES (?, ?, ?)`,
		msg.ID, msg.RoomID, msg.CreatedAt,
	)

	if err := s.session.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

const messageColumns = `room_id, created_at, message_id, sender_id, sender_name,
	content, type, attachments, reply_to, read_by, reactions, deleted, edited, edited_at`

func (s *CassandraMessageStore) FindByRoom(ctx context.Context, roomID string, cursor Cursor, limit int) (*Page, error) {
	// Query limit+1 to detect whether an older page exists.
	queryLimit := limit + 1

	var iter *gocql.Iter
	if cursor.IsZero() {
		iter = s.session.Query(`
			SELECT `+messageColumns+`
			FROM messages_by_room
			WHERE room_id = ?
			LIMIT ?`,
			roomID, queryLimit,
		).WithContext(ctx).Iter()
	} else {
		iter = s.session.Query(`
			SELECT `+messageColumns+`
			FROM messages_by_room
			WHERE room_id = ? AND (created_at, message_id) < (?, ?)
			LIMIT ?`,
			roomID, cursor.CreatedAt, cursor.MessageID, queryLimit,
		).WithContext(ctx).Iter()
	}

	messages, err := scanMessages(iter)
	if err != nil {
		return nil, err
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}

	page := &Page{Messages: messages, HasMore: hasMore}
	if n := len(messages); n > 0 {
		last := messages[n-1]
		page.Cursor = Cursor{CreatedAt: last.CreatedAt, MessageID: last.ID}
	}
	return page, nil
}

func (s *CassandraMessageStore) FindSince(ctx context.Context, roomID string, since time.Time, limit int) ([]domain.Message, error) {
	q := s.session.Query(`
		SELECT `+messageColumns+`
		FROM messages_by_room
		WHERE room_id = ? AND created_at > ?
		ORDER BY created_at ASC, message_id ASC
		LIMIT ?`,
		roomID, since, limit,
	).WithContext(ctx)

	return scanMessages(q.Iter())
}

func (s *CassandraMessageStore) FindByID(ctx context.Context, messageID string) (*domain.Message, error) {
	roomID, createdAt, err := s.lookupIndex(ctx, messageID)
	if err != nil {
		return nil, err
	}

	iter := s.session.Query(`
		SELECT `+messageColumns+`
		FROM messages_by_room
		WHERE room_id = ? AND created_at = ? AND message_id = ?`,
		roomID, createdAt, messageID,
	).WithContext(ctx).Iter()

	messages, err := scanMessages(iter)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, domain.ErrMessageNotFound
	}
	return &messages[0], nil
}

func (s *CassandraMessageStore) UpdateReadBy(ctx context.Context, messageIDs []string, userID string, readAt time.Time) error {
	for _, id := range messageIDs {
		roomID, createdAt, err := s.lookupIndex(ctx, id)
		if err != nil {
			continue // unknown ids are skipped, not fatal
		}

		// Preserve the original read timestamp if a receipt already exists.
		var existing map[string]time.Time
		if err := s.session.Query(`
			SELECT read_by FROM messages_by_room
			WHERE room_id = ? AND created_at = ? AND message_id = ?`,
			roomID, createdAt, id,
		).WithContext(ctx).Scan(&existing); err != nil {
			return fmt.Errorf("failed to read receipts for %s: %w", id, err)
		}
		if _, ok := existing[userID]; ok {
			continue
		}

		if err := s.session.Query(`
			UPDATE messages_by_room SET read_by[?] = ?
			WHERE room_id = ? AND created_at = ? AND message_id = ?`,
			userID, readAt, roomID, createdAt, id,
		).WithContext(ctx).Exec(); err != nil {
			return fmt.Errorf("failed to update read receipt for %s: %w", id, err)
		}
	}
	return nil
}

func (s *CassandraMessageStore) SetContent(ctx context.Context, messageID, content string, editedAt time.Time) error {
	roomID, createdAt, err := s.lookupIndex(ctx, messageID)
	if err != nil {
		return err
	}

	if err := s.session.Query(`
		UPDATE messages_by_room SET content = ?, edited = true, edited_at = ?
		WHERE room_id = ? AND created_at = ? AND message_id = ?`,
		content, editedAt, roomID, createdAt, messageID,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

func (s *CassandraMessageStore) SetDeleted(ctx context.Context, messageID string) error {
	roomID, createdAt, err := s.lookupIndex(ctx, messageID)
	if err != nil {
		return err
	}

	if err := s.session.Query(`
		UPDATE messages_by_room SET deleted = true
		WHERE room_id = ? AND created_at = ? AND message_id = ?`,
		roomID, createdAt, messageID,
	).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("failed to soft-delete message: %w", err)
	}
	return nil
}

func (s *CassandraMessageStore) SetReaction(ctx context.Context, messageID, userID, emoji string) ([]domain.Reaction, error) {
	roomID, createdAt, err := s.lookupIndex(ctx, messageID)
	if err != nil {
		return nil, err
	}

	var query string
	if emoji == "" {
		query = `DELETE reactions[?] FROM messages_by_room
			WHERE room_id = ? AND created_at = ? AND message_id = ?`
		err = s.session.Query(query, userID, roomID, createdAt, messageID).WithContext(ctx).Exec()
	} else {
		query = `UPDATE messages_by_room SET reactions[?] = ?
			WHERE room_id = ? AND created_at = ? AND message_id = ?`
		err = s.session.Query(query, userID, emoji, roomID, createdAt, messageID).WithContext(ctx).Exec()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set reaction: %w", err)
	}

	var reactions map[string]string
	if err := s.session.Query(`
		SELECT reactions FROM messages_by_room
		WHERE room_id = ? AND created_at = ? AND message_id = ?`,
		roomID, createdAt, messageID,
	).WithContext(ctx).Scan(&reactions); err != nil {
		return nil, fmt.Errorf("failed to read reactions: %w", err)
	}

	return reactionList(reactions), nil
}

func (s *CassandraMessageStore) Close() error {
	s.session.Close()
	return nil
}

func (s *CassandraMessageStore) lookupIndex(ctx context.Context, messageID string) (string, time.Time, error) {
	var roomID string
	var createdAt time.Time
	err := s.session.Query(`
		SELECT room_id, created_at FROM message_index WHERE message_id = ?`,
		messageID,
	).WithContext(ctx).Scan(&roomID, &createdAt)
	if err == gocql.ErrNotFound {
		return "", time.Time{}, domain.ErrMessageNotFound
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to resolve message id: %w", err)
	}
	return roomID, createdAt, nil
}

func scanMessages(iter *gocql.Iter) ([]domain.Message, error) {
	var messages []domain.Message

	var (
		msg         domain.Message
		msgType     string
		attachments string
		replyTo     string
		readBy      map[string]time.Time
		reactions   map[string]string
		editedAt    time.Time
	)

	for iter.Scan(
		&msg.RoomID, &msg.CreatedAt, &msg.ID, &msg.Sender.ID, &msg.Sender.Name,
		&msg.Content, &msgType, &attachments, &replyTo, &readBy, &reactions,
		&msg.Deleted, &msg.Edited, &editedAt,
	) {
		msg.Type = domain.MessageType(msgType)
		if attachments != "" {
			if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
				return nil, fmt.Errorf("failed to unmarshal attachments: %w", err)
			}
		}
		if replyTo != "" {
			var preview domain.ReplyPreview
			if err := json.Unmarshal([]byte(replyTo), &preview); err != nil {
				return nil, fmt.Errorf("failed to unmarshal reply preview: %w", err)
			}
			msg.ReplyTo = &preview
		}
		msg.ReadBy = receiptList(readBy)
		msg.Reactions = reactionList(reactions)
		if !editedAt.IsZero() {
			t := editedAt
			msg.EditedAt = &t
		}

		messages = append(messages, msg.Redacted())

		msg = domain.Message{}
		attachments, replyTo = "", ""
		readBy, reactions = nil, nil
		editedAt = time.Time{}
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}

func receiptList(m map[string]time.Time) []domain.ReadReceipt {
	if len(m) == 0 {
		return nil
	}
	out := make([]domain.ReadReceipt, 0, len(m))
	for userID, at := range m {
		out = append(out, domain.ReadReceipt{UserID: userID, ReadAt: at})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReadAt.Equal(out[j].ReadAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].ReadAt.Before(out[j].ReadAt)
	})
	return out
}

func reactionList(m map[string]string) []domain.Reaction {
	if len(m) == 0 {
		return nil
	}
	out := make([]domain.Reaction, 0, len(m))
	for userID, emoji := range m {
		out = append(out, domain.Reaction{UserID: userID, Emoji: emoji})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func parseConsistency(s string) gocql.Consistency {
	switch strings.ToUpper(s) {
	case "ANY":
		return gocql.Any
	case "ONE":
		return gocql.One
	case "TWO":
		return gocql.Two
	case "QUORUM":
		return gocql.Quorum
	case "ALL":
		return gocql.All
	case "LOCAL_QUORUM":
		return gocql.LocalQuorum
	case "LOCAL_ONE":
		return gocql.LocalOne
	default:
		return gocql.LocalQuorum
	}
}
