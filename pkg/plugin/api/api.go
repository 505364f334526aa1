// Package api implements the host side of the plugin API: a bridge
// between the groupchat core's events and out-of-process plugins.
package api

import (
	"sync"

	"github.com/meszmate/caucus/pkg/plugin"
)

// PluginAPI implements the plugin.API interface. The application
// wires the room queries with setters and feeds events through the
// Emit methods.
type PluginAPI struct {
	mu sync.RWMutex

	// Callbacks to the main application
	listRooms        func() []plugin.RoomInfo
	getRoom          func(jid string) *plugin.RoomInfo
	showNotification func(title, body string) error

	// Event handlers registered by plugins
	roomJoinedHandlers map[int]func(room plugin.RoomInfo)
	activityHandlers   map[int]func(roomJID string, msg plugin.MessageInfo)
	inviteHandlers     map[int]func(inv plugin.InviteInfo)
	nextID             int
}

// NewPluginAPI creates a new plugin API
func NewPluginAPI() *PluginAPI {
	return &PluginAPI{
		roomJoinedHandlers: make(map[int]func(plugin.RoomInfo)),
		activityHandlers:   make(map[int]func(string, plugin.MessageInfo)),
		inviteHandlers:     make(map[int]func(plugin.InviteInfo)),
	}
}

// SetListRooms sets the room list callback
func (a *PluginAPI) SetListRooms(f func() []plugin.RoomInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listRooms = f
}

// SetGetRoom sets the room lookup callback
func (a *PluginAPI) SetGetRoom(f func(jid string) *plugin.RoomInfo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.getRoom = f
}

// SetShowNotification sets the notification callback
func (a *PluginAPI) SetShowNotification(f func(title, body string) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.showNotification = f
}

// ListRooms returns every known room
func (a *PluginAPI) ListRooms() []plugin.RoomInfo {
	a.mu.RLock()
	f := a.listRooms
	a.mu.RUnlock()
	if f == nil {
		return nil
	}
	return f()
}

// GetRoom returns a specific room
func (a *PluginAPI) GetRoom(jid string) *plugin.RoomInfo {
	a.mu.RLock()
	f := a.getRoom
	a.mu.RUnlock()
	if f == nil {
		return nil
	}
	return f(jid)
}

// ShowNotification shows a desktop notification
func (a *PluginAPI) ShowNotification(title, body string) error {
	a.mu.RLock()
	f := a.showNotification
	a.mu.RUnlock()
	if f == nil {
		return nil
	}
	return f(title, body)
}

// OnRoomJoined registers a room-joined handler
func (a *PluginAPI) OnRoomJoined(handler func(room plugin.RoomInfo)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.roomJoinedHandlers[id] = handler
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.roomJoinedHandlers, id)
	}
}

// OnActivity registers an activity handler
func (a *PluginAPI) OnActivity(handler func(roomJID string, msg plugin.MessageInfo)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.activityHandlers[id] = handler
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.activityHandlers, id)
	}
}

// OnInvite registers an invitation handler
func (a *PluginAPI) OnInvite(handler func(inv plugin.InviteInfo)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextID
	a.nextID++
	a.inviteHandlers[id] = handler
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.inviteHandlers, id)
	}
}

// EmitRoomJoined forwards a room-joined event to plugins
func (a *PluginAPI) EmitRoomJoined(room plugin.RoomInfo) {
	a.mu.RLock()
	handlers := make([]func(plugin.RoomInfo), 0, len(a.roomJoinedHandlers))
	for _, h := range a.roomJoinedHandlers {
		handlers = append(handlers, h)
	}
	a.mu.RUnlock()
	for _, h := range handlers {
		go h(room)
	}
}

// EmitActivity forwards a message or activity notice to plugins
func (a *PluginAPI) EmitActivity(roomJID string, msg plugin.MessageInfo) {
	a.mu.RLock()
	handlers := make([]func(string, plugin.MessageInfo), 0, len(a.activityHandlers))
	for _, h := range a.activityHandlers {
		handlers = append(handlers, h)
	}
	a.mu.RUnlock()
	for _, h := range handlers {
		go h(roomJID, msg)
	}
}

// EmitInvite forwards a decided invitation to plugins
func (a *PluginAPI) EmitInvite(inv plugin.InviteInfo) {
	a.mu.RLock()
	handlers := make([]func(plugin.InviteInfo), 0, len(a.inviteHandlers))
	for _, h := range a.inviteHandlers {
		handlers = append(handlers, h)
	}
	a.mu.RUnlock()
	for _, h := range handlers {
		go h(inv)
	}
}
