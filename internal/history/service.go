package history

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/internal/store"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// Response is one reverse-chronological page of room history.
type Response struct {
	Messages   []domain.Message `json:"messages"`
	NextCursor string           `json:"nextCursor,omitempty"`
	HasMore    bool             `json:"hasMore"`
}

// Service serves paginated room history. Cursor-addressed pages are
// immutable-ish (only receipts and reactions drift), so they go through a
// short-TTL cache with singleflight collapsing concurrent identical queries.
type Service struct {
	messages store.MessageStore
	cache    PageCache
	cacheTTL time.Duration
	pageSize int
	maxPage  int
	sf       singleflight.Group
}

func NewService(messages store.MessageStore, cache PageCache, cacheTTL time.Duration, pageSize, maxPage int) *Service {
	if pageSize <= 0 {
		pageSize = 50
	}
	if maxPage <= 0 {
		maxPage = 100
	}
	return &Service{
		messages: messages,
		cache:    cache,
		cacheTTL: cacheTTL,
		pageSize: pageSize,
		maxPage:  maxPage,
	}
}

// History returns a page of messages older than the cursor. An empty cursor
// means the latest page, which bypasses the cache since every send would
// invalidate it.
func (s *Service) History(ctx context.Context, roomID, cursor string, limit int) (*Response, error) {
	limit = s.clampLimit(limit)

	if cursor == "" || s.cache == nil {
		return s.fetch(ctx, roomID, cursor, limit)
	}

	key := s.cache.BuildKey(roomID, cursor, limit)
	result, err, _ := s.sf.Do(key, func() (interface{}, error) {
		cached, err := s.cache.Get(ctx, key)
		if err == nil {
			return cached, nil
		}
		if err != ErrCacheMiss {
			log.Ctx(ctx).Warn().Err(err).Msg("history cache get error")
		}

		page, err := s.fetch(ctx, roomID, cursor, limit)
		if err != nil {
			return nil, err
		}

		go func() {
			cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.cache.Set(cacheCtx, key, page, s.cacheTTL); err != nil {
				log.L().Warn().Err(err).Msg("history cache set error")
			}
		}()

		return page, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

// Since returns messages strictly newer than the given time, oldest first.
// Used by the polling bridge and reconnection backfill; never cached.
func (s *Service) Since(ctx context.Context, roomID string, since time.Time, limit int) ([]domain.Message, error) {
	limit = s.clampLimit(limit)
	return s.messages.FindSince(ctx, roomID, since, limit)
}

func (s *Service) fetch(ctx context.Context, roomID, cursor string, limit int) (*Response, error) {
	c, err := DecodeCursor(cursor)
	if err != nil {
		return nil, err
	}

	page, err := s.messages.FindByRoom(ctx, roomID, c, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load room history: %w", err)
	}

	resp := &Response{
		Messages: page.Messages,
		HasMore:  page.HasMore,
	}
	if page.HasMore {
		resp.NextCursor = EncodeCursor(page.Cursor)
	}
	return resp, nil
}

func (s *Service) clampLimit(limit int) int {
	if limit <= 0 {
		return s.pageSize
	}
	if limit > s.maxPage {
		return s.maxPage
	}
	return limit
}

// EncodeCursor packs a pagination position into an opaque URL-safe token.
func EncodeCursor(c store.Cursor) string {
	if c.IsZero() {
		return ""
	}
	raw := fmt.Sprintf("%d|%s", c.CreatedAt.UnixMilli(), c.MessageID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor reverses EncodeCursor. Empty input yields the zero cursor.
func DecodeCursor(token string) (store.Cursor, error) {
	if token == "" {
		return store.Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return store.Cursor{}, &domain.ValidationError{Field: "cursor", Reason: "malformed token"}
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return store.Cursor{}, &domain.ValidationError{Field: "cursor", Reason: "malformed token"}
	}
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return store.Cursor{}, &domain.ValidationError{Field: "cursor", Reason: "malformed token"}
	}
	return store.Cursor{
		CreatedAt: time.UnixMilli(millis).UTC(),
		MessageID: parts[1],
	}, nil
}
