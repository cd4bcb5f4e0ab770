package typing

import (
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) emit(roomID, userID string, isTyping bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := "stop"
	if isTyping {
		state = "start"
	}
	r.events = append(r.events, roomID+":"+userID+":"+state)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func TestStartEmitsOnce(t *testing.T) {
	rec := &recorder{}
	a := NewAggregator(time.Minute, rec.emit)
	defer a.Stop()

	a.SetTyping("room", "alice", true)
	a.SetTyping("room", "alice", true)
	a.SetTyping("room", "alice", true)

	if got := rec.snapshot(); len(got) != 1 || got[0] != "room:alice:start" {
		t.Fatalf("events = %v; want single start", got)
	}
	if !a.TypingIn("room", "alice") {
		t.Fatal("alice should be typing")
	}
}

func TestExplicitStop(t *testing.T) {
	rec := &recorder{}
	a := NewAggregator(time.Minute, rec.emit)
	defer a.Stop()

	a.SetTyping("room", "alice", true)
	a.SetTyping("room", "alice", false)
	a.SetTyping("room", "alice", false)

	want := []string{"room:alice:start", "room:alice:stop"}
	got := rec.snapshot()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("events = %v; want %v", got, want)
	}
	if a.TypingIn("room", "alice") {
		t.Fatal("alice should not be typing")
	}
}

func TestTTLExpiry(t *testing.T) {
	rec := &recorder{}
	a := NewAggregator(20*time.Millisecond, rec.emit)
	defer a.Stop()

	a.SetTyping("room", "alice", true)

	deadline := time.Now().Add(time.Second)
	for a.TypingIn("room", "alice") {
		if time.Now().After(deadline) {
			t.Fatal("entry never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	want := []string{"room:alice:start", "room:alice:stop"}
	got := rec.snapshot()
	if len(got) != len(want) || got[1] != want[1] {
		t.Fatalf("events = %v; want %v", got, want)
	}
}

func TestRefreshPostponesExpiry(t *testing.T) {
	rec := &recorder{}
	a := NewAggregator(60*time.Millisecond, rec.emit)
	defer a.Stop()

	a.SetTyping("room", "alice", true)
	time.Sleep(40 * time.Millisecond)
	a.SetTyping("room", "alice", true)
	time.Sleep(40 * time.Millisecond)

	// 80ms after the start but only 40ms after the refresh.
	if !a.TypingIn("room", "alice") {
		t.Fatal("refresh did not postpone expiry")
	}
}

func TestIndependentEntries(t *testing.T) {
	rec := &recorder{}
	a := NewAggregator(time.Minute, rec.emit)
	defer a.Stop()

	a.SetTyping("room-a", "alice", true)
	a.SetTyping("room-b", "alice", true)
	a.SetTyping("room-a", "bob", true)
	a.SetTyping("room-a", "alice", false)

	if a.TypingIn("room-a", "alice") {
		t.Fatal("alice should have stopped in room-a")
	}
	if !a.TypingIn("room-b", "alice") || !a.TypingIn("room-a", "bob") {
		t.Fatal("unrelated entries must survive")
	}
}

func TestClearUser(t *testing.T) {
	rec := &recorder{}
	a := NewAggregator(time.Minute, rec.emit)
	defer a.Stop()

	a.SetTyping("room-a", "alice", true)
	a.SetTyping("room-b", "alice", true)

	a.ClearUser("alice", []string{"room-a", "room-b", "room-c"})

	if a.TypingIn("room-a", "alice") || a.TypingIn("room-b", "alice") {
		t.Fatal("clear did not remove entries")
	}
	// Two starts, two stops, nothing for room-c.
	if got := rec.snapshot(); len(got) != 4 {
		t.Fatalf("events = %v; want 4 entries", got)
	}
}

func TestStopEmitsNothing(t *testing.T) {
	rec := &recorder{}
	a := NewAggregator(time.Minute, rec.emit)

	a.SetTyping("room", "alice", true)
	a.Stop()

	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("events = %v; shutdown must not emit stops", got)
	}
}
