package muc

import (
	"context"

	"mellium.im/xmpp/jid"

	"github.com/meszmate/caucus/internal/xmpp/transport"
)

// handleInvite processes a direct invitation carried in a message
// stanza. The invitation is transient: decoded, decided on, and
// discarded.
func (s *Service) handleInvite(st *transport.Stanza) transport.HandlerResult {
	inviter, err := st.FromJID()
	if err != nil {
		s.log.Warn("dropping invitation with invalid from %q: %v", st.From, err)
		return transport.Keep
	}

	payload, ok := st.Payload(NSConf, "x")
	if !ok {
		return transport.Keep
	}

	roomRaw := payload.Attr("jid")
	roomJID, err := jid.Parse(roomRaw)
	if err != nil {
		s.log.Warn("dropping invitation with invalid room JID %q: %v", roomRaw, err)
		return transport.Keep
	}

	inv := Invitation{
		Inviter:  inviter,
		Room:     roomJID.Bare(),
		Reason:   payload.Attr("reason"),
		Password: payload.Attr("password"),
	}
	if s.names != nil {
		inv.InviterName = s.names.DisplayName(inviter)
	} else {
		inv.InviterName = inviter.Bare().String()
	}

	accepted := s.decideInvite(inv)
	if accepted {
		if err := s.acceptInvite(context.Background(), inv); err != nil {
			s.log.Error("failed to accept invitation to %s: %v", inv.Room, err)
			accepted = false
		}
	}

	if s.OnInvite != nil {
		s.OnInvite(inv, accepted)
	}
	return transport.Keep
}

// decideInvite applies the acceptance policy: auto-accept when
// configured, otherwise a synchronous prompt. No prompt means
// decline.
func (s *Service) decideInvite(inv Invitation) bool {
	if s.settings.AutoAcceptInvites {
		return true
	}
	if s.InvitePrompt == nil {
		return false
	}
	return s.InvitePrompt(inv)
}

// acceptInvite opens the target room with the supplied password. A
// room that already existed in a stale disconnected state is joined
// explicitly.
func (s *Service) acceptInvite(ctx context.Context, inv Invitation) error {
	room, err := s.dir.GetOrCreate(ctx, inv.Room, RoomOptions{Password: inv.Password})
	if err != nil {
		return err
	}
	if err := room.AwaitInitialized(ctx); err != nil {
		return err
	}
	if room.Status() == StatusDisconnected {
		return s.Join(ctx, room)
	}
	return nil
}
