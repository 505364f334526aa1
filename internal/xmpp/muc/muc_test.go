package muc

import (
	"context"
	"encoding/xml"
	"fmt"
	"sync"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/caucus/internal/logging"
	"github.com/meszmate/caucus/internal/xmpp/transport"
)

type fakeRegistration struct {
	match transport.Match
	fn    transport.HandlerFunc
}

// fakeTransport implements transport.Transport for tests. Stanzas are
// injected with deliver and outbound sends are recorded.
type fakeTransport struct {
	mu        sync.Mutex
	handlers  []fakeRegistration
	sent      []interface{}
	connected bool
	resumable bool
	local     jid.JID
	unbound   bool
}

func newFakeTransport(local string) *fakeTransport {
	return &fakeTransport{
		connected: true,
		local:     jid.MustParse(local),
	}
}

func (f *fakeTransport) AddHandler(m transport.Match, fn transport.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers = append(f.handlers, fakeRegistration{match: m, fn: fn})
}

func (f *fakeTransport) Send(ctx context.Context, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Resumable() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumable
}

func (f *fakeTransport) LocalJID() (jid.JID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unbound {
		return jid.JID{}, fmt.Errorf("identity not established: no session has been bound")
	}
	return f.local, nil
}

func (f *fakeTransport) deliver(st *transport.Stanza) {
	f.mu.Lock()
	regs := make([]fakeRegistration, len(f.handlers))
	copy(regs, f.handlers)
	f.mu.Unlock()

	for _, reg := range regs {
		if st.Matches(reg.match) {
			reg.fn(st)
		}
	}
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testSettings() Settings {
	return Settings{
		Allowed:            true,
		AllowInvites:       true,
		DisabledRoles:      make(RoleSet),
		ShownStatusCodes:   map[int]struct{}{110: {}},
		NickPolicy:         NickLocalpart,
		MEPLegacyGroupchat: true,
	}
}

func newTestService(tr *fakeTransport, settings Settings) *Service {
	log := logging.NewNop()
	dir := NewDirectory(nil, log)
	return NewService(tr, dir, settings, nil, log)
}

// selfPresence builds the server's acknowledgment of our own join
func selfPresence(room, nick string) *transport.Stanza {
	return &transport.Stanza{
		XMLName: xml.Name{Local: "presence"},
		From:    room + "/" + nick,
		Payloads: []transport.Payload{{
			XMLName: xml.Name{Space: NSUser, Local: "x"},
			Inner:   []byte(`<item affiliation="member" role="participant"/><status code="110"/>`),
		}},
	}
}

// connectRoom drives a room through the full join handshake
func connectRoom(s *Service, tr *fakeTransport, roomJID, nick string) *Room {
	room, err := s.dir.GetOrCreate(context.Background(), jid.MustParse(roomJID), RoomOptions{Nick: nick})
	if err != nil {
		panic(err)
	}
	if err := room.AwaitInitialized(context.Background()); err != nil {
		panic(err)
	}
	if err := s.Join(context.Background(), room); err != nil {
		panic(err)
	}
	tr.deliver(selfPresence(roomJID, nick))
	return room
}

// waitFor polls a condition with a deadline
func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
