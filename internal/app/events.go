package app

import (
	"sync"

	"github.com/meszmate/caucus/internal/xmpp/muc"
)

// EventType identifies an event emitted by the core
type EventType string

const (
	// EventRoomInitialized fires the first time a room session reaches
	// the connected state
	EventRoomInitialized EventType = "room-initialized"

	// EventRoomsAutoJoined fires exactly once after every configured
	// auto-join room has settled
	EventRoomsAutoJoined EventType = "rooms-auto-joined"

	// EventMessage fires for every message appended to a room log
	EventMessage EventType = "message"

	// EventInvite fires after an invitation has been decided on
	EventInvite EventType = "invite"

	// EventConnected and EventDisconnected track the transport
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// EventMsg is the payload delivered to subscribers
type EventMsg struct {
	Type       EventType
	Room       *muc.Room
	Message    muc.Message
	Invitation muc.Invitation
	Accepted   bool
	Err        error
}

// EventHandler is a function that handles events
type EventHandler func(event EventMsg)

// EventBus handles event subscription and publishing. The UI layer
// and plugins are listeners; the core never depends on them.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]EventHandler
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]EventHandler),
	}
}

// Subscribe subscribes to an event type
func (b *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish publishes an event to all subscribers
func (b *EventBus) Publish(event EventMsg) {
	b.mu.RLock()
	handlers := b.handlers[event.Type]
	b.mu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

// Clear removes all handlers
func (b *EventBus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[EventType][]EventHandler)
}
