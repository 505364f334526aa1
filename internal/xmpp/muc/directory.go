package muc

import (
	"context"
	"sync"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/caucus/internal/logging"
	"github.com/meszmate/caucus/internal/storage/sqlite"
)

// Store is the persistence surface the directory writes through. The
// rest of the core never touches storage directly.
type Store interface {
	SaveRoom(rec sqlite.RoomRecord) error
	DeleteRoom(roomJID string) error
	LoadRooms() ([]sqlite.RoomRecord, error)
	UpdateStatus(roomJID, status string) error
}

type pendingRoom struct {
	done chan struct{}
	room *Room
}

// Directory is the indexed collection of rooms, keyed by bare JID.
// It guarantees at most one Room instance per JID even when two
// creation requests race: the second caller waits on the first's
// pending entry instead of constructing a duplicate.
type Directory struct {
	mu      sync.Mutex
	rooms   map[string]*Room
	pending map[string]*pendingRoom

	store Store
	log   *logging.Logger

	// initFn runs the room initialization handshake asynchronously
	// after creation; callers gate on Room.AwaitInitialized.
	initFn func(room *Room)

	loadOnce sync.Once
	loaded   chan struct{}
}

// NewDirectory creates an empty directory. store may be nil when
// persistence is disabled.
func NewDirectory(store Store, log *logging.Logger) *Directory {
	return &Directory{
		rooms:   make(map[string]*Room),
		pending: make(map[string]*pendingRoom),
		store:   store,
		log:     log,
		loaded:  make(chan struct{}),
	}
}

// SetInitializer installs the room initialization handshake. It runs
// on its own goroutine per room and must end by marking the room
// initialized.
func (d *Directory) SetInitializer(fn func(room *Room)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initFn = fn
}

// Get returns the room for a bare JID, if present
func (d *Directory) Get(roomJID jid.JID) (*Room, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.rooms[roomJID.Bare().String()]
	return room, ok
}

// GetOrCreate returns the existing room for a JID or constructs one
// with the supplied options. Concurrent calls for the same JID all
// observe the first caller's instance.
func (d *Directory) GetOrCreate(ctx context.Context, roomJID jid.JID, opts RoomOptions) (*Room, error) {
	key := roomJID.Bare().String()

	d.mu.Lock()
	if room, ok := d.rooms[key]; ok {
		d.mu.Unlock()
		// Merge non-empty caller options into the existing room
		if opts.Nick != "" {
			room.SetNick(opts.Nick)
		}
		room.SetPassword(opts.Password)
		return room, nil
	}
	if p, ok := d.pending[key]; ok {
		d.mu.Unlock()
		select {
		case <-p.done:
			return p.room, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p := &pendingRoom{done: make(chan struct{})}
	d.pending[key] = p
	initFn := d.initFn
	d.mu.Unlock()

	room := NewRoom(roomJID, opts)

	go func() {
		if initFn != nil {
			initFn(room)
		}
		room.markInitialized()
	}()

	d.mu.Lock()
	d.rooms[key] = room
	delete(d.pending, key)
	d.mu.Unlock()

	p.room = room
	close(p.done)

	d.persist(room)
	return room, nil
}

// Remove deletes a room from the directory and from storage. Used on
// explicit leave, not on disconnect.
func (d *Directory) Remove(roomJID jid.JID) {
	key := roomJID.Bare().String()
	d.mu.Lock()
	delete(d.rooms, key)
	d.mu.Unlock()

	if d.store != nil {
		if err := d.store.DeleteRoom(key); err != nil {
			d.log.Error("failed to delete room %s from storage: %v", key, err)
		}
	}
}

// All returns every room
func (d *Directory) All() []*Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Room, 0, len(d.rooms))
	for _, room := range d.rooms {
		out = append(out, room)
	}
	return out
}

// WithType returns the rooms of a given type
func (d *Directory) WithType(typ string) []*Room {
	return d.Where(func(r *Room) bool { return r.Type() == typ })
}

// Where returns the rooms matching a predicate
func (d *Directory) Where(pred func(*Room) bool) []*Room {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*Room
	for _, room := range d.rooms {
		if pred(room) {
			out = append(out, room)
		}
	}
	return out
}

// LoadFromStore replays persisted rooms into the directory and then
// signals the rooms-loaded milestone. Persisted status is ignored:
// after a restart every room starts disconnected and is rejoined on
// demand.
func (d *Directory) LoadFromStore(ctx context.Context) error {
	defer d.loadOnce.Do(func() { close(d.loaded) })

	if d.store == nil {
		return nil
	}

	recs, err := d.store.LoadRooms()
	if err != nil {
		return err
	}

	for _, rec := range recs {
		j, err := jid.Parse(rec.JID)
		if err != nil {
			d.log.Error("skipping persisted room with invalid JID %q: %v", rec.JID, err)
			continue
		}
		if _, err := d.GetOrCreate(ctx, j, RoomOptions{Nick: rec.Nick, Password: rec.Password}); err != nil {
			return err
		}
	}
	return nil
}

// Loaded returns a channel closed once persisted rooms have been
// replayed. Stanza routing for unknown rooms waits on it before
// giving up.
func (d *Directory) Loaded() <-chan struct{} {
	return d.loaded
}

// SaveStatus writes a room's session status through to storage
func (d *Directory) SaveStatus(room *Room) {
	if d.store == nil {
		return
	}
	key := room.JID().String()
	if err := d.store.UpdateStatus(key, string(room.Status())); err != nil {
		d.log.Error("failed to persist status for %s: %v", key, err)
	}
}

func (d *Directory) persist(room *Room) {
	if d.store == nil || room.Type() != RoomTypeGroupchat {
		return
	}
	rec := sqlite.RoomRecord{
		JID:      room.JID().String(),
		Nick:     room.Nick(),
		Password: room.Password(),
		Status:   string(room.Status()),
	}
	if err := d.store.SaveRoom(rec); err != nil {
		d.log.Error("failed to persist room %s: %v", rec.JID, err)
	}
}
