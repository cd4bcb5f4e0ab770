package hub

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/krevetka-D/conecta-realtime/internal/config"
)

func testConfig() config.WebSocketConfig {
	return config.WebSocketConfig{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     4,
	}
}

func register(t *testing.T, h *Hub, sessionID string) *Client {
	t.Helper()
	c := NewClient(sessionID, h, nil, testConfig())
	h.Register(c)
	waitFor(t, func() bool { return h.IsConnected(sessionID) })
	return c
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never became true")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRegisterUnregister(t *testing.T) {
	h := NewHub(testConfig())
	go h.Run()

	c := register(t, h, "s1")
	if got := h.ClientCount(); got != 1 {
		t.Fatalf("ClientCount = %d; want 1", got)
	}

	h.Unregister(c)
	waitFor(t, func() bool { return !h.IsConnected("s1") })

	// Send is closed on unregister so the write pump terminates.
	select {
	case _, ok := <-c.Send:
		if ok {
			t.Fatal("expected closed Send channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Send channel not closed")
	}
}

func TestOnDisconnectFires(t *testing.T) {
	h := NewHub(testConfig())
	gone := make(chan string, 1)
	h.OnDisconnect(func(sessionID string) { gone <- sessionID })
	go h.Run()

	c := register(t, h, "s1")
	h.Unregister(c)

	select {
	case id := <-gone:
		if id != "s1" {
			t.Fatalf("disconnected = %q; want s1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("onDisconnect never fired")
	}

	// A second unregister of the same client must not fire again.
	h.Unregister(c)
	select {
	case id := <-gone:
		t.Fatalf("unexpected second disconnect for %q", id)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDeliverTargetsSessions(t *testing.T) {
	h := NewHub(testConfig())
	go h.Run()

	c1 := register(t, h, "s1")
	c2 := register(t, h, "s2")
	register(t, h, "s3")

	failed, err := h.Deliver([]string{"s1", "s2", "missing"}, map[string]string{"type": "ping"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(failed) != 1 || failed[0] != "missing" {
		t.Fatalf("failed = %v; want [missing]", failed)
	}

	for _, c := range []*Client{c1, c2} {
		select {
		case data := <-c.Send:
			var msg map[string]string
			if err := json.Unmarshal(data, &msg); err != nil || msg["type"] != "ping" {
				t.Fatalf("payload = %s", data)
			}
		default:
			t.Fatalf("no delivery for %s", c.SessionID)
		}
	}
}

func TestSlowConsumerDisconnected(t *testing.T) {
	h := NewHub(testConfig())
	go h.Run()

	register(t, h, "s1")

	// Fill the buffer without draining.
	payload := []byte(`{"type":"x"}`)
	for i := 0; i < 4; i++ {
		if failed := h.DeliverRaw([]string{"s1"}, payload); len(failed) != 0 {
			t.Fatalf("delivery %d failed early: %v", i, failed)
		}
	}

	failed := h.DeliverRaw([]string{"s1"}, payload)
	if len(failed) != 1 || failed[0] != "s1" {
		t.Fatalf("failed = %v; want [s1]", failed)
	}

	// The stuck client is eventually evicted.
	waitFor(t, func() bool { return !h.IsConnected("s1") })
}

func TestBroadcastAll(t *testing.T) {
	h := NewHub(testConfig())
	go h.Run()

	c1 := register(t, h, "s1")
	c2 := register(t, h, "s2")

	h.BroadcastAll(map[string]string{"type": "user_status_update"})

	for _, c := range []*Client{c1, c2} {
		select {
		case <-c.Send:
		default:
			t.Fatalf("no broadcast for %s", c.SessionID)
		}
	}
}
