package plugin

import (
	"context"
)

// Plugin is the interface that all plugins must implement
type Plugin interface {
	// Name returns the plugin name
	Name() string

	// Version returns the plugin version
	Version() string

	// Description returns a short description
	Description() string

	// Init initializes the plugin with the API
	Init(ctx context.Context, api API) error

	// Start starts the plugin
	Start() error

	// Stop stops the plugin
	Stop() error
}

// API is the interface exposed to plugins
type API interface {
	RoomsAPI
	EventsAPI
	NotifyAPI
}

// RoomsAPI provides read access to the groupchat directory
type RoomsAPI interface {
	// ListRooms returns every known room
	ListRooms() []RoomInfo

	// GetRoom returns a specific room, or nil if unknown
	GetRoom(jid string) *RoomInfo
}

// EventsAPI provides access to groupchat event subscriptions. Every
// registration returns an unsubscribe function.
type EventsAPI interface {
	// OnRoomJoined registers a handler for room sessions reaching the
	// connected state
	OnRoomJoined(handler func(room RoomInfo)) func()

	// OnActivity registers a handler for room messages and activity
	// notices
	OnActivity(handler func(roomJID string, msg MessageInfo)) func()

	// OnInvite registers a handler for decided invitations
	OnInvite(handler func(inv InviteInfo)) func()
}

// NotifyAPI provides access to host-side notification delivery
type NotifyAPI interface {
	// ShowNotification shows a desktop notification
	ShowNotification(title, body string) error
}

// RoomInfo describes a room to plugins
type RoomInfo struct {
	JID       string
	Nick      string
	Status    string
	Subject   string
	Occupants int
}

// MessageInfo describes a room log entry to plugins
type MessageInfo struct {
	ID        string
	From      string
	Body      string
	Kind      string
	Timestamp int64
}

// InviteInfo describes a decided invitation to plugins
type InviteInfo struct {
	Inviter  string
	Room     string
	Reason   string
	Accepted bool
}
