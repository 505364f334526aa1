package muc

import (
	"encoding/xml"
	"testing"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/caucus/internal/logging"
	"github.com/meszmate/caucus/internal/xmpp/transport"
)

type staticNames map[string]string

func (n staticNames) DisplayName(j jid.JID) string {
	if name, ok := n[j.Bare().String()]; ok {
		return name
	}
	return j.Bare().String()
}

func inviteStanza(inviter, room, reason, password string) *transport.Stanza {
	return &transport.Stanza{
		XMLName: xml.Name{Local: "message"},
		ID:      "inv1",
		From:    inviter,
		Payloads: []transport.Payload{{
			XMLName: xml.Name{Space: NSConf, Local: "x"},
			Inner:   nil,
			Attrs: []xml.Attr{
				{Name: xml.Name{Local: "jid"}, Value: room},
				{Name: xml.Name{Local: "reason"}, Value: reason},
				{Name: xml.Name{Local: "password"}, Value: password},
			},
		}},
	}
}

func TestInviteAutoAcceptJoinsRoom(t *testing.T) {
	tr := newFakeTransport("alice@example.com/desktop")
	settings := testSettings()
	settings.AutoAcceptInvites = true
	svc := newTestService(tr, settings)

	var gotInv Invitation
	var gotAccepted bool
	svc.OnInvite = func(inv Invitation, accepted bool) {
		gotInv = inv
		gotAccepted = accepted
	}

	tr.deliver(inviteStanza("bob@example.com/phone", "party@conf.example", "come", "hunter2"))

	room, ok := svc.dir.Get(jid.MustParse("party@conf.example"))
	if !ok {
		t.Fatal("accepted invitation must create the room")
	}
	if room.Password() != "hunter2" {
		t.Fatalf("password not carried into the room, got %q", room.Password())
	}
	if room.Status() != StatusConnecting {
		t.Fatalf("accepted invitation must start the join, status %q", room.Status())
	}
	if tr.sentCount() != 1 {
		t.Fatalf("expected 1 join presence, got %d sends", tr.sentCount())
	}
	if !gotAccepted || !gotInv.Room.Equal(jid.MustParse("party@conf.example")) {
		t.Fatalf("invite event wrong: %+v accepted=%v", gotInv, gotAccepted)
	}
}

func TestInviteWithoutPromptIsDeclined(t *testing.T) {
	tr := newFakeTransport("alice@example.com/desktop")
	svc := newTestService(tr, testSettings())

	decided := false
	accepted := true
	svc.OnInvite = func(_ Invitation, a bool) {
		decided = true
		accepted = a
	}

	tr.deliver(inviteStanza("bob@example.com/phone", "party@conf.example", "", ""))

	if !decided {
		t.Fatal("declined invitation must still be reported")
	}
	if accepted {
		t.Fatal("invitation must be declined when no prompt is installed")
	}
	if _, ok := svc.dir.Get(jid.MustParse("party@conf.example")); ok {
		t.Fatal("declined invitation must not create a room")
	}
	if tr.sentCount() != 0 {
		t.Fatal("declined invitation must not send anything")
	}
}

func TestInvitePromptReceivesResolvedName(t *testing.T) {
	tr := newFakeTransport("alice@example.com/desktop")
	log := logging.NewNop()
	dir := NewDirectory(nil, log)
	names := staticNames{"bob@example.com": "Bob"}
	svc := NewService(tr, dir, testSettings(), names, log)

	var prompted Invitation
	svc.InvitePrompt = func(inv Invitation) bool {
		prompted = inv
		return false
	}

	tr.deliver(inviteStanza("bob@example.com/phone", "party@conf.example", "planning", ""))

	if prompted.InviterName != "Bob" {
		t.Fatalf("inviter name not resolved, got %q", prompted.InviterName)
	}
	if prompted.Reason != "planning" {
		t.Fatalf("reason not carried, got %q", prompted.Reason)
	}
	if !prompted.Inviter.Equal(jid.MustParse("bob@example.com/phone")) {
		t.Fatalf("inviter JID wrong: %v", prompted.Inviter)
	}
}

func TestInviteToStaleRoomRejoins(t *testing.T) {
	tr := newFakeTransport("alice@example.com/desktop")
	settings := testSettings()
	settings.AutoAcceptInvites = true
	svc := newTestService(tr, settings)

	// room exists from a previous session, now disconnected
	room := connectRoom(svc, tr, "party@conf.example", "alice")
	room.markDisconnected()
	before := tr.sentCount()

	tr.deliver(inviteStanza("bob@example.com/phone", "party@conf.example", "", ""))

	if room.Status() != StatusConnecting {
		t.Fatalf("stale room must be rejoined, status %q", room.Status())
	}
	if tr.sentCount() != before+1 {
		t.Fatalf("expected a fresh join presence, got %d new sends", tr.sentCount()-before)
	}
}

func TestInviteMalformedRoomJIDDropped(t *testing.T) {
	tr := newFakeTransport("alice@example.com/desktop")
	settings := testSettings()
	settings.AutoAcceptInvites = true
	svc := newTestService(tr, settings)

	invited := false
	svc.OnInvite = func(Invitation, bool) { invited = true }

	tr.deliver(inviteStanza("bob@example.com/phone", "not a jid", "", ""))

	if invited {
		t.Fatal("malformed invitation must be dropped before any decision")
	}
	if len(svc.dir.All()) != 0 {
		t.Fatal("malformed invitation must not create a room")
	}
}
