package muc

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/google/uuid"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/caucus/internal/logging"
	"github.com/meszmate/caucus/internal/xmpp/disco"
	"github.com/meszmate/caucus/internal/xmpp/transport"
)

// Service drives groupchat sessions over a transport: it registers
// the stanza handlers, owns the join/rejoin lifecycle and emits
// events to whoever is listening. All handlers are permanent; one bad
// stanza is logged and dropped without disturbing the chain.
type Service struct {
	tr       transport.Transport
	dir      *Directory
	settings Settings
	names    NameResolver
	log      *logging.Logger

	// InvitePrompt is the synchronous decision callback for direct
	// invitations when auto-accept is off. A nil prompt declines.
	InvitePrompt func(inv Invitation) bool

	// Emitted events
	OnRoomInitialized func(room *Room)
	OnMessage         func(room *Room, msg Message)
	OnAutoJoined      func()
	OnInvite          func(inv Invitation, accepted bool)
	OnStatusCode      func(room *Room, code int)
}

// NewService creates the groupchat service and registers its stanza
// handlers on the transport.
func NewService(tr transport.Transport, dir *Directory, settings Settings, names NameResolver, log *logging.Logger) *Service {
	s := &Service{
		tr:       tr,
		dir:      dir,
		settings: settings,
		names:    names,
		log:      log,
	}

	if !settings.Allowed {
		return s
	}

	tr.AddHandler(transport.Match{NS: NSUser, Name: "presence"}, s.handleUserPresence)
	tr.AddHandler(transport.Match{Name: "message", Type: "groupchat"}, s.handleGroupchat)

	// Activity notices arrive as headline messages. Some servers
	// re-deliver archived notices mislabeled as groupchat; the second
	// registration catches those and the per-room id dedup makes the
	// double delivery safe.
	tr.AddHandler(transport.Match{NS: NSPubSubEvent, Name: "message", Type: "headline"}, s.handleNotification)
	if settings.MEPLegacyGroupchat {
		tr.AddHandler(transport.Match{NS: NSPubSubEvent, Name: "message", Type: "groupchat"}, s.handleNotification)
	}

	if settings.AllowInvites {
		tr.AddHandler(transport.Match{NS: NSConf, Name: "message"}, s.handleInvite)
	}

	return s
}

// Directory returns the room directory
func (s *Service) Directory() *Directory {
	return s.dir
}

// RegisterFeatures advertises the groupchat capabilities permitted by
// configuration.
func (s *Service) RegisterFeatures(f *disco.Features) {
	if !s.settings.Allowed {
		return
	}
	f.Add(disco.FeatureMUC)
	if s.settings.AllowInvites {
		f.Add(disco.FeatureConference)
	}
}

// DefaultNick derives the nickname to join with when none is
// configured. It is an error to call this before the transport has
// established an identity.
func (s *Service) DefaultNick() (string, error) {
	local, err := s.tr.LocalJID()
	if err != nil {
		return "", fmt.Errorf("default nickname unavailable: %w", err)
	}
	if s.settings.NickPolicy == NickBareJID {
		return local.Bare().String(), nil
	}
	return local.Localpart(), nil
}

type joinX struct {
	XMLName  xml.Name `xml:"http://jabber.org/protocol/muc x"`
	Password string   `xml:"password,omitempty"`
}

type joinPresence struct {
	XMLName xml.Name `xml:"presence"`
	ID      string   `xml:"id,attr"`
	To      string   `xml:"to,attr"`
	X       joinX    `xml:"x"`
}

type leavePresence struct {
	XMLName xml.Name `xml:"presence"`
	ID      string   `xml:"id,attr"`
	To      string   `xml:"to,attr"`
	Type    string   `xml:"type,attr"`
}

// OpenRoom resolves (creating if needed) a room, waits for its
// initialization handshake and joins it.
func (s *Service) OpenRoom(ctx context.Context, spec RoomSpec) (*Room, error) {
	if !s.settings.Allowed {
		return nil, fmt.Errorf("groupchat is disabled by configuration")
	}

	room, err := s.dir.GetOrCreate(ctx, spec.JID, RoomOptions{Nick: spec.Nick, Password: spec.Password})
	if err != nil {
		return nil, err
	}
	if err := room.AwaitInitialized(ctx); err != nil {
		return nil, err
	}
	if err := s.Join(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// Join sends the join presence for a room. It is a no-op when the
// room is already connecting or connected.
func (s *Service) Join(ctx context.Context, room *Room) error {
	if !room.beginConnecting() {
		return nil
	}

	nick := room.Nick()
	if nick == "" {
		derived, err := s.DefaultNick()
		if err != nil {
			room.markDisconnected()
			return err
		}
		nick = derived
		room.SetNick(nick)
	}

	to, err := room.JID().WithResource(nick)
	if err != nil {
		room.markDisconnected()
		return fmt.Errorf("invalid nickname %q: %w", nick, err)
	}

	p := joinPresence{
		ID: uuid.NewString(),
		To: to.String(),
		X:  joinX{Password: room.Password()},
	}
	if err := s.tr.Send(ctx, p); err != nil {
		room.markDisconnected()
		return fmt.Errorf("failed to send join presence for %s: %w", room.JID(), err)
	}

	s.dir.SaveStatus(room)
	return nil
}

// Leave exits a room and removes it from the directory
func (s *Service) Leave(ctx context.Context, room *Room) error {
	nick := room.Nick()
	if room.Status() != StatusDisconnected && nick != "" {
		to, err := room.JID().WithResource(nick)
		if err == nil {
			p := leavePresence{ID: uuid.NewString(), To: to.String(), Type: "unavailable"}
			if err := s.tr.Send(ctx, p); err != nil {
				s.log.Warn("failed to send leave presence for %s: %v", room.JID(), err)
			}
		}
	}
	room.markDisconnected()
	s.dir.Remove(room.JID())
	return nil
}

// RejoinIfNecessary joins a room unless its session is already
// connected. Idempotent: nothing is sent for connected rooms.
func (s *Service) RejoinIfNecessary(ctx context.Context, room *Room) error {
	if room.Status() == StatusConnected {
		return nil
	}
	return s.Join(ctx, room)
}

// SuspendAll forces every groupchat-type room into the disconnected
// state. Called on teardown-before-reconnect and on shutdown when the
// stream holds no resumption token: better to mark every room as
// needing a rejoin than to trust stale connected state.
func (s *Service) SuspendAll() {
	for _, room := range s.dir.WithType(RoomTypeGroupchat) {
		room.markDisconnected()
		s.dir.SaveStatus(room)
	}
}

// RejoinAll rejoins every room whose session is not already
// connected. Called when the transport reports itself connected
// again. Retry policy belongs to the transport reconnection layer,
// not here.
func (s *Service) RejoinAll(ctx context.Context) {
	if !s.tr.Connected() {
		return
	}
	for _, room := range s.dir.WithType(RoomTypeGroupchat) {
		if err := s.RejoinIfNecessary(ctx, room); err != nil {
			s.log.Error("rejoin failed for %s: %v", room.JID(), err)
		}
	}
}

// userPresence is the muc#user payload on room presence
type userPresence struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/muc#user x"`
	Items   []struct {
		Affiliation string `xml:"affiliation,attr"`
		Role        string `xml:"role,attr"`
		JID         string `xml:"jid,attr"`
		Nick        string `xml:"nick,attr"`
	} `xml:"item"`
	Statuses []struct {
		Code int `xml:"code,attr"`
	} `xml:"status"`
}

// handleUserPresence updates occupant and session state from room
// presence. Malformed fragments are logged and dropped; the handler
// always stays registered.
func (s *Service) handleUserPresence(st *transport.Stanza) transport.HandlerResult {
	from, err := st.FromJID()
	if err != nil {
		s.log.Warn("dropping room presence with invalid from %q: %v", st.From, err)
		return transport.Keep
	}

	room, ok := s.dir.Get(from.Bare())
	if !ok {
		s.log.Debug("presence for unknown room %s, ignoring", from.Bare())
		return transport.Keep
	}

	payload, ok := st.Payload(NSUser, "x")
	if !ok {
		return transport.Keep
	}
	var x userPresence
	if err := xml.Unmarshal(payload.OuterXML(), &x); err != nil {
		s.log.Warn("failed to decode muc#user payload from %s: %v", st.From, err)
		return transport.Keep
	}

	nick := from.Resourcepart()
	self := false
	for _, status := range x.Statuses {
		if status.Code == 110 {
			self = true
		}
		if _, shown := s.settings.ShownStatusCodes[status.Code]; shown && s.OnStatusCode != nil {
			s.OnStatusCode(room, status.Code)
		}
	}

	if st.Type == "unavailable" {
		s.handleOccupantLeft(room, nick, self, x)
		return transport.Keep
	}

	occ := Occupant{Nick: nick}
	if len(x.Items) > 0 {
		item := x.Items[0]
		occ.Affiliation = Affiliation(item.Affiliation)
		occ.Role = Role(item.Role)
		if item.JID != "" {
			if real, err := jid.Parse(item.JID); err == nil {
				occ.JID = real
			}
		}
	}
	room.SetOccupant(occ)

	if self {
		if ok, first := room.markConnected(); ok {
			s.dir.SaveStatus(room)
			if first && s.OnRoomInitialized != nil {
				s.OnRoomInitialized(room)
			}
		}
	}

	return transport.Keep
}

func (s *Service) handleOccupantLeft(room *Room, nick string, self bool, x userPresence) {
	// Code 303 is a rename, not a departure
	for _, status := range x.Statuses {
		if status.Code == 303 && len(x.Items) > 0 && x.Items[0].Nick != "" {
			room.RenameOccupant(nick, x.Items[0].Nick)
			return
		}
	}

	room.RemoveOccupant(nick)
	if self {
		room.markDisconnected()
		s.dir.SaveStatus(room)
	}
}
