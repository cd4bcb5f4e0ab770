package presence

import (
	"context"
	"sync"
	"time"

	"github.com/krevetka-D/conecta-realtime/internal/registry"
	"github.com/krevetka-D/conecta-realtime/internal/store"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
	"github.com/krevetka-D/conecta-realtime/pkg/pubsub"
)

// StatusChange is one observed presence transition.
type StatusChange struct {
	UserID    string     `json:"userId"`
	IsOnline  bool       `json:"isOnline"`
	LastSeen  *time.Time `json:"lastSeen,omitempty"`
	ChangedAt time.Time  `json:"changedAt"`
}

type transition struct {
	userID   string
	online   bool
	lastSeen time.Time
	at       time.Time
	remote   bool
}

// Tracker derives online/offline state from the session registry's
// reference counts. It has no mutation path of its own: it only reacts to
// the registry's presence transitions.
//
// State updates happen synchronously inside the registry callback, so reads
// observe transitions in order. Side effects (directory mirroring, pub/sub
// fan-out, subscriber callbacks) run on a single worker goroutine, which
// preserves per-user ordering without blocking the registry.
type Tracker struct {
	mu        sync.RWMutex
	online    map[string]bool
	lastSeen  map[string]time.Time
	changedAt map[string]time.Time

	directory  store.UserDirectory // optional persisted mirror
	publisher  pubsub.Publisher    // optional cross-instance sync
	instanceID string

	subMu       sync.RWMutex
	subscribers []func(StatusChange)

	events chan transition
}

// NewTracker subscribes to the registry's presence transitions.
func NewTracker(reg *registry.Registry, directory store.UserDirectory, publisher pubsub.Publisher, instanceID string) *Tracker {
	t := &Tracker{
		online:     make(map[string]bool),
		lastSeen:   make(map[string]time.Time),
		changedAt:  make(map[string]time.Time),
		directory:  directory,
		publisher:  publisher,
		instanceID: instanceID,
		events:     make(chan transition, 256),
	}

	reg.OnPresenceOnline(func(userID string, at time.Time) {
		t.apply(transition{userID: userID, online: true, at: at})
	})
	reg.OnPresenceOffline(func(userID string, lastSeen time.Time) {
		t.apply(transition{userID: userID, online: false, lastSeen: lastSeen, at: lastSeen})
	})

	return t
}

// Subscribe registers a callback invoked on every presence transition.
func (t *Tracker) Subscribe(fn func(StatusChange)) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	t.subscribers = append(t.subscribers, fn)
}

// Run processes side effects until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-t.events:
			t.handleSideEffects(ctx, ev)
		}
	}
}

func (t *Tracker) apply(ev transition) {
	t.mu.Lock()
	t.online[ev.userID] = ev.online
	if !ev.online {
		t.lastSeen[ev.userID] = ev.lastSeen
	}
	t.changedAt[ev.userID] = ev.at
	t.mu.Unlock()

	select {
	case t.events <- ev:
	default:
		log.L().Warn().Str(log.FieldUserID, ev.userID).Msg("presence event queue full, side effects dropped")
	}
}

func (t *Tracker) handleSideEffects(ctx context.Context, ev transition) {
	change := t.changeFor(ev)

	t.subMu.RLock()
	subs := t.subscribers
	t.subMu.RUnlock()
	for _, fn := range subs {
		fn(change)
	}

	// Remote transitions were already mirrored and published by the
	// instance that observed them.
	if ev.remote {
		return
	}

	if t.directory != nil {
		// Persisted mirror is best effort.
		mirrorCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := t.directory.SetOnlineStatus(mirrorCtx, ev.userID, ev.online, ev.lastSeen); err != nil {
			log.L().Warn().Err(err).Str(log.FieldUserID, ev.userID).Msg("failed to mirror presence")
		}
		cancel()
	}

	if t.publisher != nil {
		payload := pubsub.PresencePayload{
			UserID:           ev.userID,
			IsOnline:         ev.online,
			OriginInstanceID: t.instanceID,
		}
		if !ev.online {
			payload.LastSeenUnixMs = ev.lastSeen.UnixMilli()
		}
		eventType := pubsub.EventPresenceOffline
		if ev.online {
			eventType = pubsub.EventPresenceOnline
		}
		event, err := pubsub.NewEvent(eventType, "", payload)
		if err == nil {
			err = t.publisher.Publish(ctx, pubsub.ChannelPresence, event)
		}
		if err != nil {
			log.L().Warn().Err(err).Str(log.FieldUserID, ev.userID).Msg("failed to publish presence update")
		}
	}
}

func (t *Tracker) changeFor(ev transition) StatusChange {
	change := StatusChange{
		UserID:    ev.userID,
		IsOnline:  ev.online,
		ChangedAt: ev.at,
	}
	if !ev.online {
		ls := ev.lastSeen
		change.LastSeen = &ls
	}
	return change
}

// ApplyRemote folds in a presence transition observed by another instance.
// It updates local state and notifies subscribers, but does not mirror or
// republish.
func (t *Tracker) ApplyRemote(userID string, online bool, lastSeen, at time.Time) {
	t.apply(transition{userID: userID, online: online, lastSeen: lastSeen, at: at, remote: true})
}

// IsOnline reports whether the user has at least one open session.
func (t *Tracker) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.online[userID]
}

// LastSeen returns the timestamp of the user's last 1->0 transition. The
// zero time means the user has never been seen offline by this instance.
func (t *Tracker) LastSeen(userID string) time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastSeen[userID]
}

// ChangedSince returns the status of every user whose presence changed
// strictly after since. The polling bridge pulls this instead of
// subscribing.
func (t *Tracker) ChangedSince(since time.Time) []StatusChange {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []StatusChange
	for userID, at := range t.changedAt {
		if !at.After(since) {
			continue
		}
		change := StatusChange{
			UserID:    userID,
			IsOnline:  t.online[userID],
			ChangedAt: at,
		}
		if !change.IsOnline {
			ls := t.lastSeen[userID]
			change.LastSeen = &ls
		}
		out = append(out, change)
	}
	return out
}
