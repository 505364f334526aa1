package muc

import (
	"testing"

	"mellium.im/xmpp/jid"
)

func newTestRoom() *Room {
	return NewRoom(jid.MustParse("room@conf.example"), RoomOptions{Nick: "me"})
}

func TestStatusTransitions(t *testing.T) {
	room := newTestRoom()

	if room.Status() != StatusDisconnected {
		t.Fatalf("new room must start disconnected, got %s", room.Status())
	}

	// connected is unreachable without going through connecting
	if ok, _ := room.markConnected(); ok {
		t.Fatal("markConnected must fail from disconnected")
	}

	if !room.beginConnecting() {
		t.Fatal("beginConnecting must succeed from disconnected")
	}
	if room.Status() != StatusConnecting {
		t.Fatalf("expected connecting, got %s", room.Status())
	}

	// a second join attempt while connecting sends nothing
	if room.beginConnecting() {
		t.Fatal("beginConnecting must fail from connecting")
	}

	ok, first := room.markConnected()
	if !ok || !first {
		t.Fatalf("expected first connect, got ok=%v first=%v", ok, first)
	}
	if room.Status() != StatusConnected {
		t.Fatalf("expected connected, got %s", room.Status())
	}

	if room.beginConnecting() {
		t.Fatal("beginConnecting must fail from connected")
	}

	// teardown is valid from every state
	room.markDisconnected()
	if room.Status() != StatusDisconnected {
		t.Fatalf("expected disconnected, got %s", room.Status())
	}

	// reconnecting is no longer the first connect
	room.beginConnecting()
	if _, first := room.markConnected(); first {
		t.Fatal("second connect must not report first")
	}
}

func TestAppendMessageDedup(t *testing.T) {
	room := newTestRoom()

	if !room.AppendMessage(Message{ID: "m1", From: "alice", Body: "hello"}) {
		t.Fatal("first append must succeed")
	}
	if room.AppendMessage(Message{ID: "m1", From: "alice", Body: "hello again"}) {
		t.Fatal("duplicate id must be dropped")
	}
	if !room.AppendMessage(Message{ID: "m2", From: "bob", Body: "hi"}) {
		t.Fatal("distinct id must be appended")
	}

	msgs := room.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("messages out of insertion order: %v", msgs)
	}
	if msgs[0].Body != "hello" {
		t.Fatalf("duplicate overwrote original body: %q", msgs[0].Body)
	}
}

func TestMarkSeen(t *testing.T) {
	room := newTestRoom()

	if !room.MarkSeen("s1") {
		t.Fatal("first sighting must be new")
	}
	if room.MarkSeen("s1") {
		t.Fatal("second sighting must be a duplicate")
	}
	// empty ids can't be deduped and are always passed through
	if !room.MarkSeen("") || !room.MarkSeen("") {
		t.Fatal("empty id must never count as duplicate")
	}
}

func TestRenameOccupant(t *testing.T) {
	room := newTestRoom()
	room.SetOccupant(Occupant{Nick: "me", Role: RoleParticipant})

	room.RenameOccupant("me", "me2")

	if _, ok := room.Occupant("me"); ok {
		t.Fatal("old nick still present after rename")
	}
	o, ok := room.Occupant("me2")
	if !ok || o.Role != RoleParticipant {
		t.Fatalf("renamed occupant lost state: %+v", o)
	}
	if room.Nick() != "me2" {
		t.Fatalf("own nick not updated on rename, got %q", room.Nick())
	}
}

func TestDisconnectClearsOccupants(t *testing.T) {
	room := newTestRoom()
	room.SetOccupant(Occupant{Nick: "alice"})
	room.SetOccupant(Occupant{Nick: "bob"})

	room.markDisconnected()

	if got := len(room.Occupants()); got != 0 {
		t.Fatalf("occupants must be cleared on disconnect, got %d", got)
	}
}
