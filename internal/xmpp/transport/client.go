package transport

import (
	"context"
	"crypto/tls"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"mellium.im/sasl"
	"mellium.im/xmpp"
	"mellium.im/xmpp/jid"
	"mellium.im/xmpp/stanza"

	"github.com/meszmate/caucus/internal/logging"
)

// ClientConfig contains configuration for the XMPP client
type ClientConfig struct {
	JID      string
	Password string
	Server   string
	Port     int
	Resource string

	// Resumable marks the stream as carrying a session-resumption
	// token. Without one, every groupchat session must be assumed dead
	// after an unannounced disconnect.
	Resumable bool
}

type registration struct {
	id    int
	match Match
	fn    HandlerFunc
}

// Client implements Transport over a Mellium XMPP session
type Client struct {
	mu        sync.RWMutex
	session   *xmpp.Session
	jid       jid.JID
	bound     bool
	password  string
	server    string
	port      int
	connected bool
	resumable bool

	handlers  []registration
	nextID    int
	onConnect func()
	onClose   func(err error)

	log *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a new XMPP client
func NewClient(cfg ClientConfig, log *logging.Logger) (*Client, error) {
	j, err := jid.Parse(cfg.JID)
	if err != nil {
		return nil, fmt.Errorf("invalid JID: %w", err)
	}

	if cfg.Resource != "" {
		j, err = j.WithResource(cfg.Resource)
		if err != nil {
			return nil, fmt.Errorf("invalid resource: %w", err)
		}
	}

	if cfg.Port == 0 {
		cfg.Port = 5222
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		jid:       j,
		password:  cfg.Password,
		server:    cfg.Server,
		port:      cfg.Port,
		resumable: cfg.Resumable,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Connect establishes a connection to the XMPP server. The connect
// handler runs outside the client lock so it may call back into the
// client.
func (c *Client) Connect() error {
	c.mu.Lock()

	if c.connected {
		c.mu.Unlock()
		return nil
	}

	server := c.server
	if server == "" {
		server = c.jid.Domain().String()
	}

	addr := fmt.Sprintf("%s:%d", server, c.port)

	conn, err := net.DialTimeout("tcp", addr, 30*time.Second)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("failed to dial server: %w", err)
	}

	tlsConfig := &tls.Config{
		ServerName: c.jid.Domain().String(),
		MinVersion: tls.VersionTLS12,
	}

	negotiator := xmpp.NewNegotiator(func(_ *xmpp.Session, _ *xmpp.StreamConfig) xmpp.StreamConfig {
		return xmpp.StreamConfig{
			Features: []xmpp.StreamFeature{
				xmpp.StartTLS(tlsConfig),
				xmpp.SASL("", c.password, sasl.ScramSha256Plus, sasl.ScramSha256, sasl.ScramSha1Plus, sasl.ScramSha1, sasl.Plain),
				xmpp.BindResource(),
			},
		}
	})

	session, err := xmpp.NewSession(
		c.ctx,
		c.jid.Domain(),
		c.jid,
		conn,
		0,
		negotiator,
	)
	if err != nil {
		conn.Close()
		c.mu.Unlock()
		return fmt.Errorf("failed to negotiate session: %w", err)
	}

	c.session = session
	c.connected = true
	c.bound = true
	c.jid = session.LocalAddr()
	onConnect := c.onConnect
	c.mu.Unlock()

	go c.readLoop()

	if onConnect != nil {
		onConnect()
	}
	return nil
}

// Disconnect closes the XMPP connection. The close handler runs
// outside the client lock so it may call back into the client.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return nil
	}

	c.cancel()

	if c.session != nil {
		_ = c.session.Encode(context.Background(), stanza.Presence{Type: stanza.UnavailablePresence})
		_ = c.session.Close()
	}

	c.connected = false
	c.session = nil
	fn := c.onClose
	c.mu.Unlock()

	if fn != nil {
		fn(nil)
	}
	return nil
}

// readLoop decodes inbound stanzas and dispatches them to registered
// handlers one at a time. A stanza that fails to decode is logged and
// skipped; it never tears down the loop or the handler chain.
func (c *Client) readLoop() {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session == nil {
		return
	}

	d := xml.NewTokenDecoder(session.TokenReader())

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		tok, err := d.Token()
		if err != nil {
			if err == io.EOF {
				c.handleStreamClosed(nil)
				return
			}
			c.log.Error("stream read failed: %v", err)
			c.handleStreamClosed(err)
			return
		}

		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}

		switch start.Name.Local {
		case "message", "presence", "iq":
			var st Stanza
			if err := d.DecodeElement(&st, &start); err != nil {
				c.log.Warn("dropping undecodable %s stanza: %v", start.Name.Local, err)
				continue
			}
			c.Dispatch(&st)
		default:
			if err := d.Skip(); err != nil && err != io.EOF {
				c.log.Warn("failed to skip element %s: %v", start.Name.Local, err)
			}
		}
	}
}

func (c *Client) handleStreamClosed(err error) {
	c.mu.Lock()
	c.connected = false
	fn := c.onClose
	c.mu.Unlock()

	if fn != nil {
		fn(err)
	}
}

// AddHandler registers a stanza handler
func (c *Client) AddHandler(m Match, fn HandlerFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{id: c.nextID, match: m, fn: fn})
	c.nextID++
}

// invoke runs a single handler. A panicking handler is logged and
// treated as Keep; it must never tear down the read loop or starve
// the rest of the chain.
func (c *Client) invoke(reg registration, st *Stanza) (res HandlerResult) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("handler panicked on %s stanza %s: %v", st.XMLName.Local, st.ID, r)
			res = Keep
		}
	}()
	return reg.fn(st)
}

// Dispatch runs every matching handler against a stanza and drops the
// ones that asked to be unregistered. Exported so that a stanza
// source other than the socket (tests, replay) can feed the chain.
func (c *Client) Dispatch(st *Stanza) {
	c.mu.RLock()
	regs := make([]registration, len(c.handlers))
	copy(regs, c.handlers)
	c.mu.RUnlock()

	var remove []int
	for _, reg := range regs {
		if !st.Matches(reg.match) {
			continue
		}
		if c.invoke(reg, st) == Unregister {
			remove = append(remove, reg.id)
		}
	}

	if len(remove) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.handlers[:0]
	for _, reg := range c.handlers {
		drop := false
		for _, id := range remove {
			if reg.id == id {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, reg)
		}
	}
	c.handlers = kept
}

// Send encodes a stanza onto the stream
func (c *Client) Send(ctx context.Context, v interface{}) error {
	c.mu.RLock()
	session := c.session
	connected := c.connected
	c.mu.RUnlock()

	if !connected || session == nil {
		return fmt.Errorf("not connected")
	}
	return session.Encode(ctx, v)
}

// Connected reports whether the stream is established
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Resumable reports whether the stream holds a resumption token
func (c *Client) Resumable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resumable && c.connected
}

// LocalJID returns the bound JID. Calling it before a session has
// been negotiated is a caller error, reported as such.
func (c *Client) LocalJID() (jid.JID, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.bound {
		return jid.JID{}, fmt.Errorf("identity not established: no session has been bound")
	}
	return c.jid, nil
}

// SetConnectHandler sets the connect handler
func (c *Client) SetConnectHandler(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = fn
}

// SetCloseHandler sets the handler invoked when the stream dies
func (c *Client) SetCloseHandler(fn func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}
