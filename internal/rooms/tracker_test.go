package rooms

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
)

type fakeCatalog struct {
	rooms map[string]bool
	err   error
}

func (f *fakeCatalog) RoomExists(ctx context.Context, roomID string) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	return f.rooms[roomID], nil
}

func (f *fakeCatalog) TouchActivity(ctx context.Context, roomID string, at time.Time) error {
	return nil
}

func newTestTracker(rooms ...string) *Tracker {
	set := make(map[string]bool, len(rooms))
	for _, r := range rooms {
		set[r] = true
	}
	return NewTracker(&fakeCatalog{rooms: set})
}

func TestJoinUnknownRoom(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.Join(context.Background(), "s1", "nope")
	if !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("err = %v; want ErrRoomNotFound", err)
	}
}

func TestJoinIdempotent(t *testing.T) {
	tr := newTestTracker("room-a")
	ctx := context.Background()

	added, err := tr.Join(ctx, "s1", "room-a")
	if err != nil || !added {
		t.Fatalf("first join = %v, %v; want true, nil", added, err)
	}
	added, err = tr.Join(ctx, "s1", "room-a")
	if err != nil || added {
		t.Fatalf("second join = %v, %v; want false, nil", added, err)
	}
	if got := tr.MemberCount("room-a"); got != 1 {
		t.Fatalf("MemberCount = %d; want 1", got)
	}
}

func TestJoinCatalogError(t *testing.T) {
	boom := errors.New("catalog down")
	tr := NewTracker(&fakeCatalog{err: boom})
	_, err := tr.Join(context.Background(), "s1", "room-a")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v; want wrapped catalog error", err)
	}
}

func TestLeaveIsNoOpWhenNotMember(t *testing.T) {
	tr := newTestTracker("room-a")
	if removed := tr.Leave("s1", "room-a"); removed {
		t.Fatal("leave of non-member must report false")
	}
}

func TestMembership(t *testing.T) {
	tr := newTestTracker("room-a")
	ctx := context.Background()

	tr.Join(ctx, "s1", "room-a")
	tr.Join(ctx, "s2", "room-a")

	if !tr.IsMember("s1", "room-a") || !tr.IsMember("s2", "room-a") {
		t.Fatal("expected both sessions to be members")
	}

	members := tr.MembersOf("room-a")
	sort.Strings(members)
	if len(members) != 2 || members[0] != "s1" || members[1] != "s2" {
		t.Fatalf("MembersOf = %v; want [s1 s2]", members)
	}

	if removed := tr.Leave("s1", "room-a"); !removed {
		t.Fatal("leave of member must report true")
	}
	if tr.IsMember("s1", "room-a") {
		t.Fatal("s1 still a member after leave")
	}
	if got := tr.MemberCount("room-a"); got != 1 {
		t.Fatalf("MemberCount = %d; want 1", got)
	}
}
