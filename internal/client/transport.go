package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// TransportOptions configures the combined push/polling transport.
type TransportOptions struct {
	Connection Options
	Polling    PollingOptions

	// UpgradeInterval is how often to retry the websocket while polling;
	// default 30s.
	UpgradeInterval time.Duration
}

// Transport binds the websocket manager and the polling bridge behind one
// handle. Push is the primary path. When the reconnect budget is exhausted
// the bridge takes over automatically, and the transport keeps probing the
// websocket so it can tear polling down again the moment push recovers.
type Transport struct {
	Manager *Manager
	Bridge  *PollingBridge

	upgradeEvery time.Duration

	mu      sync.Mutex
	ctx     context.Context
	polling bool
	stop    chan struct{} // closed to halt the upgrade loop
}

func NewTransport(opts TransportOptions, emitter *Emitter) *Transport {
	if opts.UpgradeInterval <= 0 {
		opts.UpgradeInterval = 30 * time.Second
	}
	t := &Transport{
		Manager:      NewManager(opts.Connection, emitter),
		Bridge:       NewPollingBridge(opts.Polling, emitter),
		upgradeEvery: opts.UpgradeInterval,
	}
	t.Manager.SetBackfill(t.Bridge.Backfill)
	emitter.On(domain.EventConnectionState, t.onStateChange)
	return t
}

// Start begins connecting over the websocket.
func (t *Transport) Start(ctx context.Context) {
	t.mu.Lock()
	t.ctx = ctx
	t.mu.Unlock()
	t.Manager.Connect(ctx)
}

// Close shuts both paths down.
func (t *Transport) Close() {
	t.stopPolling()
	t.Manager.Close()
}

// JoinRoom subscribes to a room on whichever path is active. The bridge
// watches the room from now so a later fallback misses nothing.
func (t *Transport) JoinRoom(roomID string) error {
	t.Bridge.WatchRoom(roomID)
	return t.Manager.JoinRoom(roomID)
}

// LeaveRoom unsubscribes from a room on both paths.
func (t *Transport) LeaveRoom(roomID string) error {
	t.Bridge.UnwatchRoom(roomID)
	return t.Manager.LeaveRoom(roomID)
}

func (t *Transport) onStateChange(data json.RawMessage) {
	var ev ConnectionStateEvent
	if json.Unmarshal(data, &ev) != nil {
		return
	}
	switch ev.State {
	case StateFailed:
		t.startPolling()
	case StateAuthenticated:
		t.stopPolling()
	}
}

func (t *Transport) startPolling() {
	t.mu.Lock()
	if t.polling || t.ctx == nil {
		t.mu.Unlock()
		return
	}
	t.polling = true
	t.stop = make(chan struct{})
	ctx, stop := t.ctx, t.stop
	t.mu.Unlock()

	log.L().Warn().Msg("reconnect budget exhausted, falling back to polling")
	t.Bridge.Start(ctx)
	go t.upgradeLoop(ctx, stop)
}

func (t *Transport) stopPolling() {
	t.mu.Lock()
	if !t.polling {
		t.mu.Unlock()
		return
	}
	t.polling = false
	close(t.stop)
	t.mu.Unlock()

	t.Bridge.Stop()
	log.L().Info().Msg("websocket restored, polling stopped")
}

// upgradeLoop periodically restarts the connection loop while polling is
// active. A successful handshake flips the transport back to push through
// the state-change handler.
func (t *Transport) upgradeLoop(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(t.upgradeEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if t.Manager.State() == StateFailed {
				t.Manager.Connect(ctx)
			}
		}
	}
}
