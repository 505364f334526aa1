package muc

import (
	"context"
	"encoding/xml"
	"strings"
	"time"

	"github.com/meszmate/caucus/internal/xmpp/transport"
)

// replayTimeout bounds how long a stanza that arrived before the
// persisted rooms were loaded is kept waiting for its room.
const replayTimeout = time.Minute

// handleGroupchat routes an inbound groupchat message to its room.
// Stanzas that arrive before the persisted room list has been loaded
// are parked and replayed once loading finishes.
func (s *Service) handleGroupchat(st *transport.Stanza) transport.HandlerResult {
	from, err := st.FromJID()
	if err != nil {
		s.log.Warn("dropping groupchat message with invalid from %q: %v", st.From, err)
		return transport.Keep
	}

	room, ok := s.dir.Get(from.Bare())
	if !ok {
		go s.replayWhenLoaded(st)
		return transport.Keep
	}

	s.deliver(room, st)
	return transport.Keep
}

// replayWhenLoaded waits for the rooms-loaded milestone, re-checks
// for the room and replays the stanza through the room's message
// path. A room still unknown after loading is not ours; the stanza is
// logged and dropped.
func (s *Service) replayWhenLoaded(st *transport.Stanza) {
	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	defer cancel()

	select {
	case <-s.dir.Loaded():
	case <-ctx.Done():
		s.log.Warn("gave up waiting for room list before routing message %s", st.ID)
		return
	}

	from, err := st.FromJID()
	if err != nil {
		return
	}
	room, ok := s.dir.Get(from.Bare())
	if !ok {
		s.log.Debug("groupchat message %s from unknown room %s, dropping", st.ID, from.Bare())
		return
	}
	if err := room.AwaitInitialized(ctx); err != nil {
		s.log.Warn("room %s did not initialize in time: %v", room.JID(), err)
		return
	}
	s.deliver(room, st)
}

// deliver applies a routed groupchat stanza to its room: subject
// changes, then body messages with id dedup.
func (s *Service) deliver(room *Room, st *transport.Stanza) {
	from, err := st.FromJID()
	if err != nil {
		return
	}
	nick := from.Resourcepart()

	// A subject element with no body is a subject change
	if subject, ok := stanzaSubject(st); ok && st.Body == "" {
		room.SetSubject(subject, nick)
		return
	}

	if st.Body == "" {
		return
	}

	msg := Message{
		ID:   st.ID,
		From: nick,
		Body: st.Body,
	}
	if stamp, ok := stanzaDelay(st); ok {
		msg.Timestamp = stamp
		msg.Delayed = true
	}

	if !room.AppendMessage(msg) {
		return
	}
	if s.OnMessage != nil {
		s.OnMessage(room, msg)
	}
}

// stanzaSubject extracts a subject child regardless of the stream's
// default namespace.
func stanzaSubject(st *transport.Stanza) (string, bool) {
	for i := range st.Payloads {
		p := &st.Payloads[i]
		if p.XMLName.Local == "subject" {
			return strings.TrimSpace(string(p.Inner)), true
		}
	}
	return "", false
}

// stanzaDelay extracts an urn:xmpp:delay timestamp if present
func stanzaDelay(st *transport.Stanza) (time.Time, bool) {
	p, ok := st.Payload("urn:xmpp:delay", "delay")
	if !ok {
		return time.Time{}, false
	}
	stamp, err := time.Parse(time.RFC3339, p.Attr("stamp"))
	if err != nil {
		return time.Time{}, false
	}
	return stamp, true
}

// mepEvent is the pubsub eventing payload carrying activity notices
type mepEvent struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/pubsub#event event"`
	Items   struct {
		Node    string    `xml:"node,attr"`
		Entries []mepItem `xml:"item"`
	} `xml:"items"`
}

type mepItem struct {
	ID         string        `xml:"id,attr"`
	Activities []mepActivity `xml:",any"`
}

type mepActivity struct {
	XMLName xml.Name
	Text    string `xml:",chardata"`
}

// handleNotification decodes room activity notices. The dedup by
// stanza id runs before any decoding so a re-delivered notice never
// produces a second message.
func (s *Service) handleNotification(st *transport.Stanza) transport.HandlerResult {
	from, err := st.FromJID()
	if err != nil {
		s.log.Warn("dropping activity notice with invalid from %q: %v", st.From, err)
		return transport.Keep
	}

	// Ignore our own echoes
	if local, err := s.tr.LocalJID(); err == nil && from.Bare().Equal(local.Bare()) {
		return transport.Keep
	}

	payload, ok := st.Payload(NSPubSubEvent, "event")
	if !ok {
		return transport.Keep
	}
	var ev mepEvent
	if err := xml.Unmarshal(payload.OuterXML(), &ev); err != nil {
		s.log.Warn("failed to decode activity payload from %s: %v", st.From, err)
		return transport.Keep
	}
	if ev.Items.Node != NSMEP {
		return transport.Keep
	}

	ctx, cancel := context.WithTimeout(context.Background(), replayTimeout)
	defer cancel()
	room, err := s.dir.GetOrCreate(ctx, from.Bare(), RoomOptions{})
	if err != nil {
		// An activity notice for a room we cannot resolve is not worth
		// surfacing to the user.
		s.log.Debug("activity notice for unresolvable room %s: %v", from.Bare(), err)
		return transport.Keep
	}

	if !room.MarkSeen(st.ID) {
		return transport.Keep
	}

	for _, item := range ev.Items.Entries {
		for _, activity := range item.Activities {
			msg := Message{
				ID:   item.ID,
				From: from.Resourcepart(),
				Kind: activity.XMLName.Local,
				Body: strings.TrimSpace(activity.Text),
			}
			if msg.ID == "" {
				msg.ID = st.ID
			}
			if !room.AppendMessage(msg) {
				continue
			}
			if s.OnMessage != nil {
				s.OnMessage(room, msg)
			}
		}
	}

	return transport.Keep
}
