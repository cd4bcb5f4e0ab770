package client

import (
	"encoding/json"
	"testing"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
)

func TestEmitterDispatchOrder(t *testing.T) {
	e := NewEmitter()

	var order []string
	e.On(domain.EventNewMessage, func(json.RawMessage) { order = append(order, "first") })
	e.On(domain.EventNewMessage, func(json.RawMessage) { order = append(order, "second") })
	e.On(domain.EventUserTyping, func(json.RawMessage) { order = append(order, "other") })

	e.Emit([]byte(`{"type":"new_message"}`))

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order = %v; want [first second]", order)
	}
}

func TestEmitterOff(t *testing.T) {
	e := NewEmitter()

	var kept, removed int
	e.On(domain.EventNewMessage, func(json.RawMessage) { kept++ })
	token := e.On(domain.EventNewMessage, func(json.RawMessage) { removed++ })

	e.Emit([]byte(`{"type":"new_message"}`))
	e.Off(domain.EventNewMessage, token)
	e.Emit([]byte(`{"type":"new_message"}`))

	if kept != 2 {
		t.Fatalf("kept handler ran %d times; want 2", kept)
	}
	if removed != 1 {
		t.Fatalf("removed handler ran %d times; want 1", removed)
	}

	// Deregistering twice is a no-op.
	e.Off(domain.EventNewMessage, token)
	e.Emit([]byte(`{"type":"new_message"}`))
	if kept != 3 || removed != 1 {
		t.Fatalf("kept=%d removed=%d after double off", kept, removed)
	}
}
