// Package muc implements the groupchat session core: the room
// directory, per-room connection lifecycle, inbound stanza routing
// with message-id dedup, activity notifications and direct
// invitations.
package muc

import (
	"time"

	"mellium.im/xmpp/jid"
)

// Protocol namespaces
const (
	NS     = "http://jabber.org/protocol/muc"
	NSUser = "http://jabber.org/protocol/muc#user"

	// NSConf is the legacy conference namespace used for direct
	// invitations
	NSConf = "jabber:x:conference"

	// NSPubSubEvent carries activity notifications inside message
	// stanzas
	NSPubSubEvent = "http://jabber.org/protocol/pubsub#event"

	// NSMEP is the eventing node activity notices are published under
	NSMEP = "urn:xmpp:mep:0"
)

// RoomTypeGroupchat is the type of every room this package manages.
// The directory can hold rooms of other types on behalf of other
// subsystems; bulk session operations skip those.
const RoomTypeGroupchat = "groupchat"

// Affiliation represents a MUC affiliation
type Affiliation string

const (
	AffiliationOwner   Affiliation = "owner"
	AffiliationAdmin   Affiliation = "admin"
	AffiliationMember  Affiliation = "member"
	AffiliationOutcast Affiliation = "outcast"
	AffiliationNone    Affiliation = "none"
)

// Role represents a MUC role
type Role string

const (
	RoleModerator   Role = "moderator"
	RoleParticipant Role = "participant"
	RoleVisitor     Role = "visitor"
	RoleNone        Role = "none"
)

// Status is the connection state of a room session
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Occupant represents a room occupant
type Occupant struct {
	Nick        string
	JID         jid.JID // Real JID if known
	Affiliation Affiliation
	Role        Role
	Show        string
	StatusMsg   string
}

// Message represents an entry in a room's message log. Activity
// notices decoded from eventing payloads land here next to plain
// groupchat messages, distinguished by Kind.
type Message struct {
	ID        string
	From      string // Nick
	Body      string
	Kind      string // "" for chat messages, activity kind otherwise
	Timestamp time.Time
	Delayed   bool
}

// Invitation is a direct invitation into a room. It is transient:
// decoded from the wire, consumed by the accept/decline decision and
// then discarded.
type Invitation struct {
	Inviter  jid.JID
	Room     jid.JID
	Reason   string
	Password string

	// InviterName is the display name resolved from the roster,
	// falling back to the bare inviter JID
	InviterName string
}

// NameResolver resolves display names for invitation prompts
type NameResolver interface {
	DisplayName(j jid.JID) string
}
