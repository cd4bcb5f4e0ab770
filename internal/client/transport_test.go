package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
)

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("%s never happened", what)
}

func TestFallsBackToPollingThenUpgrades(t *testing.T) {
	// One server carrying both paths: a websocket endpoint that can be
	// switched off and the REST fallback endpoints.
	var refuse atomic.Bool
	refuse.Store(true)
	upgrader := websocket.Upgrader{}
	msgAt := time.Now().Add(time.Second).Truncate(time.Millisecond)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if refuse.Load() {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env domain.Envelope
			if json.Unmarshal(data, &env) == nil && env.Type == domain.MsgTypeAuth {
				conn.WriteJSON(&domain.AuthResultEvent{
					Type: domain.EventAuthResult, Success: true, UserID: "alice",
				})
			}
		}
	})
	mux.HandleFunc("/api/v1/rooms/room-a/messages/since", func(w http.ResponseWriter, r *http.Request) {
		since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		var out []domain.Message
		if time.UnixMilli(since).Before(msgAt) {
			out = append(out, domain.Message{
				ID:        "m-poll",
				RoomID:    "room-a",
				Sender:    domain.Sender{ID: "bob", Name: "Bob"},
				Content:   "over rest",
				Type:      domain.MessageTypeText,
				CreatedAt: msgAt,
			})
		}
		writeEnvelope(w, map[string]interface{}{"messages": out})
	})
	mux.HandleFunc("/api/v1/presence/changes", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]interface{}{"changes": []domain.UserStatusEvent{}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	emitter := NewEmitter()
	states := stateWatcher(emitter)
	got := make(chan string, 16)
	emitter.On(domain.EventNewMessage, func(data json.RawMessage) {
		var ev domain.NewMessageEvent
		if json.Unmarshal(data, &ev) == nil {
			got <- ev.Message.ID
		}
	})

	tr := NewTransport(TransportOptions{
		Connection: Options{
			URL:         "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
			Token:       "alice",
			BackoffBase: time.Millisecond,
			BackoffCap:  2 * time.Millisecond,
			MaxAttempts: 2,
		},
		Polling: PollingOptions{
			BaseURL:          srv.URL,
			Token:            "alice",
			MessageInterval:  10 * time.Millisecond,
			PresenceInterval: time.Hour,
		},
		UpgradeInterval: 25 * time.Millisecond,
	}, emitter)
	tr.Start(context.Background())
	defer tr.Close()
	tr.JoinRoom("room-a")

	// Push path exhausted: polling takes over without intervention.
	awaitState(t, states, StateFailed)
	select {
	case id := <-got:
		if id != "m-poll" {
			t.Fatalf("emitted %q; want m-poll", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("polling never delivered the message")
	}

	// The websocket comes back; the upgrade loop reconnects and polling
	// winds down.
	refuse.Store(false)
	awaitState(t, states, StateAuthenticated)
	eventually(t, "polling teardown", func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return !tr.polling
	})
}
