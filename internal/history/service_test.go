package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/internal/store"
)

func seedRoom(t *testing.T, mem *store.MemoryStore, roomID string, n int, base time.Time) []domain.Message {
	t.Helper()
	out := make([]domain.Message, 0, n)
	for i := 0; i < n; i++ {
		msg := domain.Message{
			ID:        fmt.Sprintf("m-%03d", i),
			RoomID:    roomID,
			Sender:    domain.Sender{ID: "alice", Name: "Alice"},
			Content:   fmt.Sprintf("message %d", i),
			Type:      domain.MessageTypeText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := mem.Insert(context.Background(), &msg); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		out = append(out, msg)
	}
	return out
}

func TestCursorRoundTrip(t *testing.T) {
	in := store.Cursor{
		CreatedAt: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
		MessageID: "m-042",
	}
	out, err := DecodeCursor(EncodeCursor(in))
	if err != nil {
		t.Fatalf("DecodeCursor: %v", err)
	}
	if !out.CreatedAt.Equal(in.CreatedAt) || out.MessageID != in.MessageID {
		t.Fatalf("roundtrip = %+v; want %+v", out, in)
	}
}

func TestDecodeCursorEmpty(t *testing.T) {
	c, err := DecodeCursor("")
	if err != nil || !c.IsZero() {
		t.Fatalf("DecodeCursor(\"\") = %+v, %v; want zero, nil", c, err)
	}
}

func TestDecodeCursorMalformed(t *testing.T) {
	for _, token := range []string{"not-base64!", "bm9wZQ", "MTIzNA"} {
		if _, err := DecodeCursor(token); err == nil {
			t.Fatalf("DecodeCursor(%q) succeeded; want error", token)
		}
	}
}

func TestHistoryPagination(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.AddRoom("room-a")
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	seedRoom(t, mem, "room-a", 25, base)

	svc := NewService(mem, nil, 0, 10, 100)
	ctx := context.Background()

	// First page: newest 10.
	page1, err := svc.History(ctx, "room-a", "", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page1.Messages) != 10 || !page1.HasMore {
		t.Fatalf("page1 = %d messages, hasMore=%v", len(page1.Messages), page1.HasMore)
	}
	if page1.Messages[0].ID != "m-024" {
		t.Fatalf("newest first; got %s", page1.Messages[0].ID)
	}

	// Second page continues without overlap.
	page2, err := svc.History(ctx, "room-a", page1.NextCursor, 10)
	if err != nil {
		t.Fatalf("History page2: %v", err)
	}
	if page2.Messages[0].ID != "m-014" {
		t.Fatalf("page2 starts at %s; want m-014", page2.Messages[0].ID)
	}

	// Final page is short and terminal.
	page3, err := svc.History(ctx, "room-a", page2.NextCursor, 10)
	if err != nil {
		t.Fatalf("History page3: %v", err)
	}
	if len(page3.Messages) != 5 || page3.HasMore || page3.NextCursor != "" {
		t.Fatalf("page3 = %d messages, hasMore=%v, cursor=%q", len(page3.Messages), page3.HasMore, page3.NextCursor)
	}
}

func TestHistoryEmptyRoom(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.AddRoom("room-a")

	svc := NewService(mem, nil, 0, 10, 100)
	page, err := svc.History(context.Background(), "room-a", "", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page.Messages) != 0 || page.HasMore {
		t.Fatalf("page = %+v; want empty terminal page", page)
	}
}

func TestHistoryClampsLimit(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.AddRoom("room-a")
	seedRoom(t, mem, "room-a", 30, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC))

	svc := NewService(mem, nil, 0, 10, 20)

	// Zero falls back to the default page size.
	page, err := svc.History(context.Background(), "room-a", "", 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page.Messages) != 10 {
		t.Fatalf("default limit gave %d messages; want 10", len(page.Messages))
	}

	// Oversized requests clamp to the max.
	page, err = svc.History(context.Background(), "room-a", "", 500)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(page.Messages) != 20 {
		t.Fatalf("clamped limit gave %d messages; want 20", len(page.Messages))
	}
}

func TestSince(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.AddRoom("room-a")
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	msgs := seedRoom(t, mem, "room-a", 10, base)

	svc := NewService(mem, nil, 0, 50, 100)

	got, err := svc.Since(context.Background(), "room-a", msgs[6].CreatedAt, 50)
	if err != nil {
		t.Fatalf("Since: %v", err)
	}
	// Strictly after: messages 7, 8, 9 in chronological order.
	if len(got) != 3 || got[0].ID != "m-007" || got[2].ID != "m-009" {
		t.Fatalf("Since = %v", ids(got))
	}
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
