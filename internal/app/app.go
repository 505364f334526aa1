package app

import (
	"context"
	"fmt"
	"time"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/caucus/internal/app/lifecycle"
	"github.com/meszmate/caucus/internal/config"
	"github.com/meszmate/caucus/internal/logging"
	"github.com/meszmate/caucus/internal/roster"
	"github.com/meszmate/caucus/internal/storage/sqlite"
	"github.com/meszmate/caucus/internal/xmpp/disco"
	"github.com/meszmate/caucus/internal/xmpp/muc"
	"github.com/meszmate/caucus/internal/xmpp/transport"
	"github.com/meszmate/caucus/pkg/plugin"
	pluginapi "github.com/meszmate/caucus/pkg/plugin/api"
)

// App is the session context: every component is constructed here and
// handed its collaborators explicitly, so multiple independent
// sessions can coexist in one process.
type App struct {
	cfg        *config.Config
	log        *logging.Logger
	store      *sqlite.DB
	client     *transport.Client
	dir        *muc.Directory
	svc        *muc.Service
	features   *disco.Features
	discoCache *disco.Cache
	roster     *roster.Store
	events     *EventBus
	milestones *lifecycle.Milestones
	pluginAPI  *pluginapi.PluginAPI
	plugins    *plugin.Host
}

// New constructs and wires a session from configuration
func New(cfg *config.Config) (*App, error) {
	log, err := logging.New(logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	a := &App{
		cfg:        cfg,
		log:        log,
		features:   disco.NewFeatures(),
		discoCache: disco.NewCache(),
		roster:     roster.NewStore(),
		events:     NewEventBus(),
		milestones: lifecycle.NewMilestones(),
	}

	if cfg.Storage.SaveRooms {
		store, err := sqlite.New(cfg.General.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		a.store = store
		if cfg.Storage.VacuumOnStartup {
			if err := store.Vacuum(); err != nil {
				log.Warn("database vacuum failed: %v", err)
			}
		}
	}

	client, err := transport.NewClient(transport.ClientConfig{
		JID:      cfg.Account.JID,
		Password: cfg.Account.Password,
		Server:   cfg.Account.Server,
		Port:     cfg.Account.Port,
		Resource: cfg.Account.Resource,
	}, log)
	if err != nil {
		return nil, err
	}
	a.client = client

	var store muc.Store
	if a.store != nil {
		store = a.store
	}
	a.dir = muc.NewDirectory(store, log)

	// Room initialization handshake: fetch the room's disco#info into
	// the cache before AwaitInitialized callers resume. A room on a
	// server that cannot answer still initializes.
	a.dir.SetInitializer(func(room *muc.Room) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		info, err := disco.QueryInfo(ctx, client, room.JID())
		if err != nil {
			log.Debug("disco#info for %s unavailable: %v", room.JID(), err)
			return
		}
		a.discoCache.SetInfo(room.JID(), info)
	})

	settings := muc.SettingsFromConfig(&cfg.MUC, log)
	a.svc = muc.NewService(client, a.dir, settings, a.roster, log)
	a.svc.RegisterFeatures(a.features)

	a.wireEvents()
	a.wirePlugins()

	client.SetConnectHandler(func() {
		a.events.Publish(EventMsg{Type: EventConnected})
	})
	client.SetCloseHandler(func(err error) {
		// The stream died. Without a resumption token every groupchat
		// session has to be assumed gone.
		a.Suspend()
		a.events.Publish(EventMsg{Type: EventDisconnected, Err: err})
	})

	return a, nil
}

// wireEvents republishes core callbacks onto the event bus
func (a *App) wireEvents() {
	a.svc.OnRoomInitialized = func(room *muc.Room) {
		a.events.Publish(EventMsg{Type: EventRoomInitialized, Room: room})
		if a.pluginAPI != nil {
			a.pluginAPI.EmitRoomJoined(roomInfo(room))
		}
	}
	a.svc.OnMessage = func(room *muc.Room, msg muc.Message) {
		a.events.Publish(EventMsg{Type: EventMessage, Room: room, Message: msg})
		if a.pluginAPI != nil {
			a.pluginAPI.EmitActivity(room.JID().String(), plugin.MessageInfo{
				ID:        msg.ID,
				From:      msg.From,
				Body:      msg.Body,
				Kind:      msg.Kind,
				Timestamp: msg.Timestamp.Unix(),
			})
		}
	}
	a.svc.OnAutoJoined = func() {
		a.events.Publish(EventMsg{Type: EventRoomsAutoJoined})
	}
	a.svc.OnInvite = func(inv muc.Invitation, accepted bool) {
		a.events.Publish(EventMsg{Type: EventInvite, Invitation: inv, Accepted: accepted})
		if a.pluginAPI != nil {
			a.pluginAPI.EmitInvite(plugin.InviteInfo{
				Inviter:  inv.Inviter.Bare().String(),
				Room:     inv.Room.String(),
				Reason:   inv.Reason,
				Accepted: accepted,
			})
		}
	}
}

// wirePlugins builds the plugin API bridge and host
func (a *App) wirePlugins() {
	papi := pluginapi.NewPluginAPI()
	papi.SetListRooms(func() []plugin.RoomInfo {
		rooms := a.dir.All()
		out := make([]plugin.RoomInfo, 0, len(rooms))
		for _, room := range rooms {
			out = append(out, roomInfo(room))
		}
		return out
	})
	papi.SetGetRoom(func(raw string) *plugin.RoomInfo {
		j, err := jid.Parse(raw)
		if err != nil {
			return nil
		}
		room, ok := a.dir.Get(j)
		if !ok {
			return nil
		}
		info := roomInfo(room)
		return &info
	})
	papi.SetShowNotification(func(title, body string) error {
		a.log.Info("notification: %s: %s", title, body)
		return nil
	})
	a.pluginAPI = papi
	a.plugins = plugin.NewHost(a.cfg.Plugins.PluginDir, papi)
}

// Connect establishes the stream, loads persisted rooms and kicks off
// auto-join.
func (a *App) Connect(ctx context.Context) error {
	if err := a.client.Connect(); err != nil {
		return err
	}

	if err := a.dir.LoadFromStore(ctx); err != nil {
		return fmt.Errorf("failed to load persisted rooms: %w", err)
	}
	a.milestones.Signal(lifecycle.RoomsLoaded)

	if a.cfg.General.AutoConnect {
		go func() {
			// Joining merges into replayed rooms; it must not race the
			// persisted-room load.
			if err := a.milestones.Wait(ctx, lifecycle.RoomsLoaded); err != nil {
				return
			}
			a.svc.AutoJoin(ctx, a.cfg.MUC.AutoJoin)
		}()
	}

	if err := a.plugins.LoadAll(); err != nil {
		a.log.Warn("plugin loading failed: %v", err)
	}
	for _, name := range a.cfg.Plugins.Enabled {
		if err := a.plugins.Start(name); err != nil {
			a.log.Warn("failed to start plugin %s: %v", name, err)
		}
	}

	return nil
}

// Suspend forces groupchat sessions down when the stream cannot be
// resumed. Rooms stay in the directory so they can be rejoined.
func (a *App) Suspend() {
	if a.client.Resumable() {
		return
	}
	a.svc.SuspendAll()
}

// Resume rejoins any room that is not already connected. Called when
// the transport reports itself connected again.
func (a *App) Resume(ctx context.Context) {
	a.svc.RejoinAll(ctx)
}

// Events returns the event bus for listeners to subscribe on
func (a *App) Events() *EventBus {
	return a.events
}

// Service returns the groupchat service
func (a *App) Service() *muc.Service {
	return a.svc
}

// Directory returns the room directory
func (a *App) Directory() *muc.Directory {
	return a.dir
}

// Milestones returns the session lifecycle milestones. Auto-join
// waits on rooms-loaded through here; external layers (UI shells,
// plugins) can wait on the same signals instead of polling.
func (a *App) Milestones() *lifecycle.Milestones {
	return a.milestones
}

// Roster returns the roster store
func (a *App) Roster() *roster.Store {
	return a.roster
}

// Features returns the advertised disco features
func (a *App) Features() *disco.Features {
	return a.features
}

// DiscoCache returns the cache of remote entities' disco info,
// populated by the room initialization handshake
func (a *App) DiscoCache() *disco.Cache {
	return a.discoCache
}

// Close tears the session down
func (a *App) Close() error {
	if a.plugins != nil {
		a.plugins.UnloadAll()
	}

	// Shutting down is a teardown without resumption: mark every
	// groupchat session as needing a rejoin next time.
	a.Suspend()

	if err := a.client.Disconnect(); err != nil {
		a.log.Warn("disconnect failed: %v", err)
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("failed to close storage: %v", err)
		}
	}
	return a.log.Close()
}

func roomInfo(room *muc.Room) plugin.RoomInfo {
	subject, _ := room.Subject()
	return plugin.RoomInfo{
		JID:       room.JID().String(),
		Nick:      room.Nick(),
		Status:    string(room.Status()),
		Subject:   subject,
		Occupants: len(room.Occupants()),
	}
}
