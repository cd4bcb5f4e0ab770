package presence

import (
	"context"
	"testing"
	"time"

	"github.com/krevetka-D/conecta-realtime/internal/registry"
)

func TestDerivedOnlineState(t *testing.T) {
	reg := registry.NewRegistry()
	tr := NewTracker(reg, nil, nil, "test")

	reg.RegisterSession("s1")
	reg.RegisterSession("s2")

	if tr.IsOnline("user-1") {
		t.Fatal("user should start offline")
	}

	reg.Authenticate("s1", "user-1")
	if !tr.IsOnline("user-1") {
		t.Fatal("user should be online after first session")
	}

	reg.Authenticate("s2", "user-1")
	reg.DestroySession("s1")
	if !tr.IsOnline("user-1") {
		t.Fatal("user should stay online while a session remains")
	}

	reg.DestroySession("s2")
	if tr.IsOnline("user-1") {
		t.Fatal("user should be offline after last session")
	}
	if tr.LastSeen("user-1").IsZero() {
		t.Fatal("lastSeen should be recorded on the final disconnect")
	}
}

func TestSubscriberReceivesOrderedTransitions(t *testing.T) {
	reg := registry.NewRegistry()
	tr := NewTracker(reg, nil, nil, "test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	changes := make(chan StatusChange, 8)
	tr.Subscribe(func(c StatusChange) { changes <- c })

	reg.RegisterSession("s1")
	reg.Authenticate("s1", "user-1")
	reg.DestroySession("s1")

	first := waitChange(t, changes)
	if first.UserID != "user-1" || !first.IsOnline {
		t.Fatalf("first change = %+v; want user-1 online", first)
	}
	if first.LastSeen != nil {
		t.Fatal("online change must not carry lastSeen")
	}

	second := waitChange(t, changes)
	if second.IsOnline {
		t.Fatalf("second change = %+v; want offline", second)
	}
	if second.LastSeen == nil || second.LastSeen.IsZero() {
		t.Fatal("offline change must carry lastSeen")
	}
}

func TestChangedSince(t *testing.T) {
	reg := registry.NewRegistry()
	tr := NewTracker(reg, nil, nil, "test")

	before := time.Now().Add(-time.Second)

	reg.RegisterSession("s1")
	reg.Authenticate("s1", "user-1")

	changed := tr.ChangedSince(before)
	if len(changed) != 1 || changed[0].UserID != "user-1" || !changed[0].IsOnline {
		t.Fatalf("ChangedSince = %+v; want user-1 online", changed)
	}

	// Nothing changed after the transition itself.
	if got := tr.ChangedSince(changed[0].ChangedAt); len(got) != 0 {
		t.Fatalf("ChangedSince(after) = %+v; want empty", got)
	}
}

func TestApplyRemoteUpdatesStateAndNotifies(t *testing.T) {
	reg := registry.NewRegistry()
	tr := NewTracker(reg, nil, nil, "test")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	changes := make(chan StatusChange, 8)
	tr.Subscribe(func(c StatusChange) { changes <- c })

	at := time.Now()
	tr.ApplyRemote("user-2", true, time.Time{}, at)

	if !tr.IsOnline("user-2") {
		t.Fatal("remote transition should mark the user online")
	}
	change := waitChange(t, changes)
	if change.UserID != "user-2" || !change.IsOnline {
		t.Fatalf("change = %+v; want user-2 online", change)
	}

	// Remote changes feed the polling endpoint too.
	if got := tr.ChangedSince(at.Add(-time.Millisecond)); len(got) != 1 {
		t.Fatalf("ChangedSince = %+v; want the remote transition", got)
	}
}

func waitChange(t *testing.T, ch <-chan StatusChange) StatusChange {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for presence change")
		return StatusChange{}
	}
}
