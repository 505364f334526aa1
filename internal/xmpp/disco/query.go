package disco

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/google/uuid"
	"mellium.im/xmpp/jid"

	"github.com/meszmate/caucus/internal/xmpp/transport"
)

// NSInfo is the disco#info namespace
const NSInfo = "http://jabber.org/protocol/disco#info"

type infoIQ struct {
	XMLName xml.Name  `xml:"iq"`
	ID      string    `xml:"id,attr"`
	To      string    `xml:"to,attr"`
	Type    string    `xml:"type,attr"`
	Query   infoQuery `xml:"query"`
}

type infoQuery struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/disco#info query"`
}

type infoResult struct {
	XMLName    xml.Name `xml:"http://jabber.org/protocol/disco#info query"`
	Identities []struct {
		Category string `xml:"category,attr"`
		Type     string `xml:"type,attr"`
		Name     string `xml:"name,attr"`
	} `xml:"identity"`
	Features []struct {
		Var string `xml:"var,attr"`
	} `xml:"feature"`
}

// QueryInfo fetches disco#info from an entity. The response handler
// is registered as a one-shot: it unregisters itself once the reply
// with the request id arrives.
func QueryInfo(ctx context.Context, tr transport.Transport, to jid.JID) (*Info, error) {
	if !tr.Connected() {
		return nil, fmt.Errorf("not connected")
	}

	id := uuid.NewString()
	ch := make(chan *Info, 1)

	tr.AddHandler(transport.Match{Name: "iq"}, func(st *transport.Stanza) transport.HandlerResult {
		if st.ID != id {
			return transport.Keep
		}
		if st.Type != "result" {
			ch <- nil
			return transport.Unregister
		}

		info := &Info{}
		if p, ok := st.Payload(NSInfo, "query"); ok {
			var q infoResult
			if err := xml.Unmarshal(p.OuterXML(), &q); err == nil {
				for _, ident := range q.Identities {
					info.Identities = append(info.Identities, Identity{
						Category: ident.Category,
						Type:     ident.Type,
						Name:     ident.Name,
					})
				}
				for _, f := range q.Features {
					info.Features = append(info.Features, Feature(f.Var))
				}
			}
		}
		ch <- info
		return transport.Unregister
	})

	if err := tr.Send(ctx, infoIQ{ID: id, To: to.String(), Type: "get"}); err != nil {
		return nil, err
	}

	select {
	case info := <-ch:
		if info == nil {
			return nil, fmt.Errorf("disco#info query to %s returned an error", to)
		}
		return info, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
