package muc

import (
	"context"
	"sync"
	"testing"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/caucus/internal/logging"
	"github.com/meszmate/caucus/internal/storage/sqlite"
)

// fakeStore implements Store in memory
type fakeStore struct {
	mu      sync.Mutex
	rooms   map[string]sqlite.RoomRecord
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{rooms: make(map[string]sqlite.RoomRecord)}
}

func (s *fakeStore) SaveRoom(rec sqlite.RoomRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[rec.JID] = rec
	return nil
}

func (s *fakeStore) DeleteRoom(roomJID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomJID)
	s.deleted = append(s.deleted, roomJID)
	return nil
}

func (s *fakeStore) LoadRooms() ([]sqlite.RoomRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sqlite.RoomRecord, 0, len(s.rooms))
	for _, rec := range s.rooms {
		out = append(out, rec)
	}
	return out, nil
}

func (s *fakeStore) UpdateStatus(roomJID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.rooms[roomJID]; ok {
		rec.Status = status
		s.rooms[roomJID] = rec
	}
	return nil
}

func TestGetOrCreateMergesOptionsIntoExistingRoom(t *testing.T) {
	dir := NewDirectory(nil, logging.NewNop())
	roomJID := jid.MustParse("room@conference.example.com")

	first, err := dir.GetOrCreate(context.Background(), roomJID, RoomOptions{Nick: "alice"})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	second, err := dir.GetOrCreate(context.Background(), roomJID, RoomOptions{Nick: "al", Password: "pw"})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first != second {
		t.Fatal("expected the existing room instance")
	}
	if second.Nick() != "al" {
		t.Fatalf("nick not merged, got %q", second.Nick())
	}
	if second.Password() != "pw" {
		t.Fatalf("password not merged, got %q", second.Password())
	}

	// empty options never erase what is already set
	if _, err := dir.GetOrCreate(context.Background(), roomJID, RoomOptions{}); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if first.Nick() != "al" || first.Password() != "pw" {
		t.Fatalf("empty options erased settings: nick=%q password=%q", first.Nick(), first.Password())
	}
}

func TestGetOrCreateConcurrentSameJID(t *testing.T) {
	dir := NewDirectory(nil, logging.NewNop())
	roomJID := jid.MustParse("room@conference.example.com")

	const n = 16
	rooms := make([]*Room, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			room, err := dir.GetOrCreate(context.Background(), roomJID, RoomOptions{})
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			rooms[i] = room
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if rooms[i] != rooms[0] {
			t.Fatalf("concurrent GetOrCreate produced distinct instances at %d", i)
		}
	}
	if got := len(dir.All()); got != 1 {
		t.Fatalf("expected 1 room in directory, got %d", got)
	}
}

func TestGetOrCreateStripsResource(t *testing.T) {
	dir := NewDirectory(nil, logging.NewNop())

	a, err := dir.GetOrCreate(context.Background(), jid.MustParse("room@conf.example/alice"), RoomOptions{})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	b, err := dir.GetOrCreate(context.Background(), jid.MustParse("room@conf.example/bob"), RoomOptions{})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if a != b {
		t.Fatalf("expected one room per bare JID")
	}
	if a.JID().String() != "room@conf.example" {
		t.Fatalf("room key should be the bare JID, got %s", a.JID())
	}
}

func TestWithTypeAndWhere(t *testing.T) {
	dir := NewDirectory(nil, logging.NewNop())
	ctx := context.Background()

	if _, err := dir.GetOrCreate(ctx, jid.MustParse("a@conf.example"), RoomOptions{}); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := dir.GetOrCreate(ctx, jid.MustParse("b@conf.example"), RoomOptions{}); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if _, err := dir.GetOrCreate(ctx, jid.MustParse("c@pubsub.example"), RoomOptions{Type: "channel"}); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if got := len(dir.WithType(RoomTypeGroupchat)); got != 2 {
		t.Fatalf("expected 2 groupchat rooms, got %d", got)
	}
	matched := dir.Where(func(r *Room) bool { return r.JID().Localpart() == "b" })
	if len(matched) != 1 || matched[0].JID().Localpart() != "b" {
		t.Fatalf("Where returned wrong rooms: %v", matched)
	}
}

func TestLoadFromStoreReplaysRoomsAndSignals(t *testing.T) {
	store := newFakeStore()
	_ = store.SaveRoom(sqlite.RoomRecord{JID: "room@conf.example", Nick: "me", Status: "connected"})

	dir := NewDirectory(store, logging.NewNop())

	select {
	case <-dir.Loaded():
		t.Fatal("loaded signaled before LoadFromStore")
	default:
	}

	if err := dir.LoadFromStore(context.Background()); err != nil {
		t.Fatalf("LoadFromStore failed: %v", err)
	}

	select {
	case <-dir.Loaded():
	default:
		t.Fatal("loaded not signaled after LoadFromStore")
	}

	room, ok := dir.Get(jid.MustParse("room@conf.example"))
	if !ok {
		t.Fatal("persisted room not replayed")
	}
	// Persisted status is ignored: after a restart the session is down
	if room.Status() != StatusDisconnected {
		t.Fatalf("replayed room should start disconnected, got %s", room.Status())
	}
	if room.Nick() != "me" {
		t.Fatalf("replayed room lost its nick: %q", room.Nick())
	}
}

func TestRemoveDeletesFromStore(t *testing.T) {
	store := newFakeStore()
	dir := NewDirectory(store, logging.NewNop())

	roomJID := jid.MustParse("room@conf.example")
	if _, err := dir.GetOrCreate(context.Background(), roomJID, RoomOptions{}); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	dir.Remove(roomJID)

	if _, ok := dir.Get(roomJID); ok {
		t.Fatal("room still present after Remove")
	}
	if len(store.deleted) != 1 || store.deleted[0] != "room@conf.example" {
		t.Fatalf("expected storage delete for the room, got %v", store.deleted)
	}
}

func TestInitializerRunsBeforeAwaitReturns(t *testing.T) {
	dir := NewDirectory(nil, logging.NewNop())

	done := make(chan struct{})
	dir.SetInitializer(func(room *Room) {
		close(done)
	})

	room, err := dir.GetOrCreate(context.Background(), jid.MustParse("room@conf.example"), RoomOptions{})
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if err := room.AwaitInitialized(context.Background()); err != nil {
		t.Fatalf("AwaitInitialized failed: %v", err)
	}
	select {
	case <-done:
	default:
		t.Fatal("initializer did not run before initialization completed")
	}
}
