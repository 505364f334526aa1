package muc

import (
	"context"
	"sync"
	"time"

	"mellium.im/xmpp/jid"
)

// RoomOptions are caller-supplied settings merged into a room on
// creation.
type RoomOptions struct {
	Type     string // defaults to groupchat
	Nick     string
	Password string
}

// Room is a single groupchat the local user is, was, or wants to be
// in. It owns its occupant list and an insertion-ordered,
// id-deduplicated message log. Session status only moves through the
// transition methods; the directory and service never poke the field
// directly.
type Room struct {
	mu         sync.Mutex
	jid        jid.JID
	typ        string
	nick       string
	password   string
	subject    string
	subjectBy  string
	status     Status
	everJoined bool
	occupants  map[string]*Occupant
	messages   []Message
	index      map[string]int
	seen       map[string]struct{}

	initOnce    sync.Once
	initialized chan struct{}
}

// NewRoom constructs a room in the disconnected state
func NewRoom(roomJID jid.JID, opts RoomOptions) *Room {
	typ := opts.Type
	if typ == "" {
		typ = RoomTypeGroupchat
	}
	return &Room{
		jid:         roomJID.Bare(),
		typ:         typ,
		nick:        opts.Nick,
		password:    opts.Password,
		status:      StatusDisconnected,
		occupants:   make(map[string]*Occupant),
		index:       make(map[string]int),
		seen:        make(map[string]struct{}),
		initialized: make(chan struct{}),
	}
}

// JID returns the room's bare JID
func (r *Room) JID() jid.JID {
	return r.jid
}

// Type returns the room type
func (r *Room) Type() string {
	return r.typ
}

// Nick returns the local user's nickname in this room
func (r *Room) Nick() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nick
}

// SetNick sets the local user's nickname
func (r *Room) SetNick(nick string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nick = nick
}

// Password returns the room password
func (r *Room) Password() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.password
}

// SetPassword sets the room password
func (r *Room) SetPassword(password string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if password != "" {
		r.password = password
	}
}

// Status returns the current session status
func (r *Room) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Subject returns the room subject and who set it
func (r *Room) Subject() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subject, r.subjectBy
}

// SetSubject records the room subject
func (r *Room) SetSubject(subject, by string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subject = subject
	r.subjectBy = by
}

// markInitialized completes the room's initialization handshake.
// Waiters on AwaitInitialized resume; later calls are no-ops.
func (r *Room) markInitialized() {
	r.initOnce.Do(func() { close(r.initialized) })
}

// AwaitInitialized suspends the caller until the room's
// initialization handshake has completed or the context is done.
func (r *Room) AwaitInitialized(ctx context.Context) error {
	select {
	case <-r.initialized:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginConnecting moves disconnected -> connecting. It reports false
// when the room is already connecting or connected, in which case no
// join must be sent.
func (r *Room) beginConnecting() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusDisconnected {
		return false
	}
	r.status = StatusConnecting
	return true
}

// markConnected moves connecting -> connected on the server's
// self-presence acknowledgment. Reports whether this is the room's
// first connect since creation.
func (r *Room) markConnected() (ok, first bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusConnecting {
		return false, false
	}
	r.status = StatusConnected
	first = !r.everJoined
	r.everJoined = true
	return true, first
}

// markDisconnected forces the session down. Valid from every state.
func (r *Room) markDisconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusDisconnected
	r.occupants = make(map[string]*Occupant)
}

// MarkSeen records a stanza-level id and reports whether it was new.
// The same activity notice can be delivered twice by the server, once
// as headline and once mislabeled groupchat; this is the guard that
// makes the double delivery harmless.
func (r *Room) MarkSeen(id string) bool {
	if id == "" {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.seen[id]; dup {
		return false
	}
	r.seen[id] = struct{}{}
	return true
}

// HasMessage reports whether a message id is already in the log
func (r *Room) HasMessage(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.index[id]
	return ok
}

// AppendMessage adds a message to the log. Duplicate ids are silently
// dropped; the return value reports whether the message was appended.
func (r *Room) AppendMessage(msg Message) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if msg.ID != "" {
		if _, dup := r.index[msg.ID]; dup {
			return false
		}
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	r.messages = append(r.messages, msg)
	if msg.ID != "" {
		r.index[msg.ID] = len(r.messages) - 1
		r.seen[msg.ID] = struct{}{}
	}
	return true
}

// Messages returns a copy of the message log in insertion order
func (r *Room) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// SetOccupant adds or updates an occupant
func (r *Room) SetOccupant(o Occupant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.occupants[o.Nick] = &o
}

// RemoveOccupant removes an occupant by nick
func (r *Room) RemoveOccupant(nick string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.occupants, nick)
}

// Occupant returns an occupant by nick
func (r *Room) Occupant(nick string) (Occupant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.occupants[nick]; ok {
		return *o, true
	}
	return Occupant{}, false
}

// RenameOccupant handles a nick change
func (r *Room) RenameOccupant(oldNick, newNick string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.occupants[oldNick]
	if !ok {
		return
	}
	delete(r.occupants, oldNick)
	o.Nick = newNick
	r.occupants[newNick] = o
	if r.nick == oldNick {
		r.nick = newNick
	}
}

// Occupants returns a snapshot of the occupant list
func (r *Room) Occupants() []Occupant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Occupant, 0, len(r.occupants))
	for _, o := range r.occupants {
		out = append(out, *o)
	}
	return out
}

// SelfOccupant returns the local user's own occupant entry
func (r *Room) SelfOccupant() (Occupant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.occupants[r.nick]; ok {
		return *o, true
	}
	return Occupant{}, false
}
