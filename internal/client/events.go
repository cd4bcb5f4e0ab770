package client

import (
	"encoding/json"
	"sync"

	"github.com/krevetka-D/conecta-realtime/internal/domain"
	"github.com/krevetka-D/conecta-realtime/pkg/log"
)

// subscription pairs a handler with the token On returned for it.
type subscription struct {
	id int64
	fn func(json.RawMessage)
}

// Emitter dispatches server events to registered handlers by event type.
// Both the websocket manager and the polling bridge feed the same emitter,
// so the application observes one event stream regardless of transport.
type Emitter struct {
	mu       sync.RWMutex
	nextID   int64
	handlers map[string][]subscription
}

func NewEmitter() *Emitter {
	return &Emitter{
		handlers: make(map[string][]subscription),
	}
}

// On registers a handler for an event type and returns a token for Off.
// Multiple handlers per type run in registration order.
func (e *Emitter) On(eventType string, fn func(json.RawMessage)) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	e.handlers[eventType] = append(e.handlers[eventType], subscription{id: e.nextID, fn: fn})
	return e.nextID
}

// Off removes the handler registered under the token. Unknown tokens are a
// no-op, so deregistering twice is safe.
func (e *Emitter) Off(eventType string, token int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.handlers[eventType]
	for i, s := range subs {
		if s.id == token {
			e.handlers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Emit dispatches an already-encoded event. The type is read from the
// payload's type field.
func (e *Emitter) Emit(data []byte) {
	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.L().Debug().Err(err).Msg("dropping malformed server event")
		return
	}
	e.dispatch(env.Type, data)
}

// EmitEvent marshals and dispatches a locally-built event.
func (e *Emitter) EmitEvent(eventType string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		log.L().Error().Err(err).Str(log.FieldEvent, eventType).Msg("failed to encode local event")
		return
	}
	e.dispatch(eventType, data)
}

func (e *Emitter) dispatch(eventType string, data []byte) {
	e.mu.RLock()
	subs := e.handlers[eventType]
	fns := make([]func(json.RawMessage), len(subs))
	for i, s := range subs {
		fns[i] = s.fn
	}
	e.mu.RUnlock()

	for _, fn := range fns {
		fn(data)
	}
}
