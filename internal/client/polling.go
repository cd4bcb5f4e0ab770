package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/internal/presence"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// PollingOptions configures the fallback bridge.
type PollingOptions struct {
	BaseURL          string // e.g. http://host:8080
	Token            string
	MessageInterval  time.Duration // default 3s
	PresenceInterval time.Duration // default 10s
	HTTPTimeout      time.Duration // default 10s
}

func (o *PollingOptions) applyDefaults() {
	if o.MessageInterval <= 0 {
		o.MessageInterval = 3 * time.Second
	}
	if o.PresenceInterval <= 0 {
		o.PresenceInterval = 10 * time.Second
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 10 * time.Second
	}
}

// PollingBridge feeds the emitter from the REST endpoints when no websocket
// is available. Messages and presence poll on independent intervals; every
// fetch advances a since watermark so an upgrade back to the websocket never
// replays events the application already saw.
type PollingBridge struct {
	opts    PollingOptions
	emitter *Emitter
	client  *http.Client

	mu            sync.Mutex
	rooms         map[string]time.Time // roomID -> message watermark
	presenceSince time.Time
	cancel        context.CancelFunc
	running       bool
}

func NewPollingBridge(opts PollingOptions, emitter *Emitter) *PollingBridge {
	opts.applyDefaults()
	return &PollingBridge{
		opts:    opts,
		emitter: emitter,
		client:  &http.Client{Timeout: opts.HTTPTimeout},
		rooms:   make(map[string]time.Time),
	}
}

// WatchRoom starts polling a room's messages from now on.
func (b *PollingBridge) WatchRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.rooms[roomID]; !ok {
		b.rooms[roomID] = time.Now().UTC()
	}
}

// UnwatchRoom stops polling a room.
func (b *PollingBridge) UnwatchRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rooms, roomID)
}

// Start launches the poll loops. Idempotent while running.
func (b *PollingBridge) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.running = true
	if b.presenceSince.IsZero() {
		b.presenceSince = time.Now().UTC()
	}
	b.mu.Unlock()

	go b.pollMessages(runCtx)
	go b.pollPresence(runCtx)
}

// Stop halts polling. Watermarks survive, so a later Start resumes without
// duplicates.
func (b *PollingBridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.running {
		return
	}
	b.cancel()
	b.running = false
}

func (b *PollingBridge) pollMessages(ctx context.Context) {
	ticker := time.NewTicker(b.opts.MessageInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.Lock()
			targets := make(map[string]time.Time, len(b.rooms))
			for roomID, since := range b.rooms {
				targets[roomID] = since
			}
			b.mu.Unlock()

			for roomID, since := range targets {
				b.fetchRoom(ctx, roomID, since)
			}
		}
	}
}

func (b *PollingBridge) pollPresence(ctx context.Context) {
	ticker := time.NewTicker(b.opts.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.fetchPresence(ctx)
		}
	}
}

// Backfill fetches messages missed since the given time and emits them. The
// websocket manager uses this after a room rejoin.
func (b *PollingBridge) Backfill(ctx context.Context, roomID string, since time.Time) {
	b.fetchRoom(ctx, roomID, since)
}

func (b *PollingBridge) fetchRoom(ctx context.Context, roomID string, since time.Time) {
	endpoint := fmt.Sprintf("%s/api/v1/rooms/%s/messages/since?since=%d",
		b.opts.BaseURL, url.PathEscape(roomID), since.UnixMilli())

	var payload struct {
		Messages []domain.Message `json:"messages"`
	}
	if !b.get(ctx, endpoint, &payload) {
		return
	}

	latest := since
	for _, msg := range payload.Messages {
		b.emitter.EmitEvent(domain.EventNewMessage, &domain.NewMessageEvent{
			Type:    domain.EventNewMessage,
			Message: msg,
		})
		if msg.CreatedAt.After(latest) {
			latest = msg.CreatedAt
		}
	}

	b.mu.Lock()
	if current, ok := b.rooms[roomID]; ok && latest.After(current) {
		b.rooms[roomID] = latest
	}
	b.mu.Unlock()
}

func (b *PollingBridge) fetchPresence(ctx context.Context) {
	b.mu.Lock()
	since := b.presenceSince
	b.mu.Unlock()

	endpoint := fmt.Sprintf("%s/api/v1/presence/changes?since=%d", b.opts.BaseURL, since.UnixMilli())

	var payload struct {
		Changes []presence.StatusChange `json:"changes"`
	}
	if !b.get(ctx, endpoint, &payload) {
		return
	}

	latest := since
	for _, change := range payload.Changes {
		b.emitter.EmitEvent(domain.EventUserStatusUpdate, &domain.UserStatusEvent{
			Type:     domain.EventUserStatusUpdate,
			UserID:   change.UserID,
			IsOnline: change.IsOnline,
			LastSeen: change.LastSeen,
		})
		if change.ChangedAt.After(latest) {
			latest = change.ChangedAt
		}
	}

	b.mu.Lock()
	if latest.After(b.presenceSince) {
		b.presenceSince = latest
	}
	b.mu.Unlock()
}

// get fetches an API envelope and decodes its data field into out.
func (b *PollingBridge) get(ctx context.Context, endpoint string, out interface{}) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+b.opts.Token)

	resp, err := b.client.Do(req)
	if err != nil {
		log.L().Debug().Err(err).Msg("poll request failed")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.L().Debug().Int("status", resp.StatusCode).Msg("poll request rejected")
		return false
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil || !envelope.Success {
		return false
	}
	return json.Unmarshal(envelope.Data, out) == nil
}
