package disco

import (
	"context"
	"encoding/xml"
	"testing"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/caucus/internal/xmpp/transport"
)

type queryRegistration struct {
	match transport.Match
	fn    transport.HandlerFunc
}

// queryTransport answers every outbound disco#info IQ synchronously
// from within Send, so tests need no goroutines.
type queryTransport struct {
	handlers  []queryRegistration
	connected bool
	respond   func(iq infoIQ) *transport.Stanza
	results   []transport.HandlerResult
}

func (f *queryTransport) AddHandler(m transport.Match, fn transport.HandlerFunc) {
	f.handlers = append(f.handlers, queryRegistration{match: m, fn: fn})
}

func (f *queryTransport) Send(ctx context.Context, v interface{}) error {
	iq, ok := v.(infoIQ)
	if !ok || f.respond == nil {
		return nil
	}
	st := f.respond(iq)
	if st == nil {
		return nil
	}
	for _, reg := range f.handlers {
		if st.Matches(reg.match) {
			f.results = append(f.results, reg.fn(st))
		}
	}
	return nil
}

func (f *queryTransport) Connected() bool { return f.connected }

func (f *queryTransport) Resumable() bool { return false }

func (f *queryTransport) LocalJID() (jid.JID, error) {
	return jid.MustParse("alice@example.com"), nil
}

func TestQueryInfoDecodesResult(t *testing.T) {
	tr := &queryTransport{connected: true}
	tr.respond = func(iq infoIQ) *transport.Stanza {
		return &transport.Stanza{
			XMLName: xml.Name{Local: "iq"},
			ID:      iq.ID,
			From:    iq.To,
			Type:    "result",
			Payloads: []transport.Payload{{
				XMLName: xml.Name{Space: NSInfo, Local: "query"},
				Inner: []byte(`<identity category="conference" type="text" name="Party"/>` +
					`<feature var="http://jabber.org/protocol/muc"/>` +
					`<feature var="muc_passwordprotected"/>`),
			}},
		}
	}

	info, err := QueryInfo(context.Background(), tr, jid.MustParse("room@conf.example"))
	if err != nil {
		t.Fatalf("QueryInfo failed: %v", err)
	}
	if len(info.Identities) != 1 || info.Identities[0].Category != "conference" {
		t.Fatalf("identities decoded wrong: %+v", info.Identities)
	}
	if len(info.Features) != 2 || info.Features[0] != FeatureMUC {
		t.Fatalf("features decoded wrong: %+v", info.Features)
	}
	if len(tr.results) != 1 || tr.results[0] != transport.Unregister {
		t.Fatal("response handler must unregister itself after the reply")
	}
}

func TestQueryInfoIgnoresForeignIQ(t *testing.T) {
	tr := &queryTransport{connected: true}
	tr.respond = func(iq infoIQ) *transport.Stanza {
		// a reply for some other request arrives first; the handler
		// must leave it alone and stay registered
		return &transport.Stanza{
			XMLName: xml.Name{Local: "iq"},
			ID:      "unrelated",
			Type:    "result",
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := QueryInfo(ctx, tr, jid.MustParse("room@conf.example")); err == nil {
		t.Fatal("expected the context error, got a result")
	}
	if len(tr.results) != 1 || tr.results[0] != transport.Keep {
		t.Fatal("handler must keep waiting past unrelated replies")
	}
}

func TestQueryInfoErrorReply(t *testing.T) {
	tr := &queryTransport{connected: true}
	tr.respond = func(iq infoIQ) *transport.Stanza {
		return &transport.Stanza{
			XMLName: xml.Name{Local: "iq"},
			ID:      iq.ID,
			Type:    "error",
		}
	}

	if _, err := QueryInfo(context.Background(), tr, jid.MustParse("room@conf.example")); err == nil {
		t.Fatal("error reply must surface as an error")
	}
}

func TestQueryInfoNotConnected(t *testing.T) {
	tr := &queryTransport{connected: false}
	if _, err := QueryInfo(context.Background(), tr, jid.MustParse("room@conf.example")); err == nil {
		t.Fatal("querying over a dead transport must fail fast")
	}
	if len(tr.handlers) != 0 {
		t.Fatal("no handler must be registered when not connected")
	}
}
