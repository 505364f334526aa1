package main

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"github.com/meszmate/caucus/pkg/plugin"
)

// MUCNotifyPlugin raises desktop notifications for room activity
type MUCNotifyPlugin struct {
	api     plugin.API
	running bool
	unsub   []func()
}

// Name returns the plugin name
func (p *MUCNotifyPlugin) Name() string {
	return "mucnotify"
}

// Version returns the plugin version
func (p *MUCNotifyPlugin) Version() string {
	return "1.0.0"
}

// Description returns a short description
func (p *MUCNotifyPlugin) Description() string {
	return "Desktop notifications for groupchat activity"
}

// Init initializes the plugin
func (p *MUCNotifyPlugin) Init(ctx context.Context, api plugin.API) error {
	p.api = api
	return nil
}

// Start starts the plugin
func (p *MUCNotifyPlugin) Start() error {
	if p.running {
		return nil
	}

	unsubJoined := p.api.OnRoomJoined(func(room plugin.RoomInfo) {
		_ = sendNotification("Caucus", fmt.Sprintf("Joined %s as %s", room.JID, room.Nick))
	})
	p.unsub = append(p.unsub, unsubJoined)

	unsubActivity := p.api.OnActivity(func(roomJID string, msg plugin.MessageInfo) {
		title := roomJID
		if msg.From != "" {
			title = fmt.Sprintf("%s (%s)", msg.From, roomJID)
		}
		body := msg.Body
		if msg.Kind != "" {
			body = fmt.Sprintf("[%s] %s", msg.Kind, body)
		}
		_ = sendNotification(title, body)
	})
	p.unsub = append(p.unsub, unsubActivity)

	unsubInvite := p.api.OnInvite(func(inv plugin.InviteInfo) {
		verb := "declined"
		if inv.Accepted {
			verb = "accepted"
		}
		_ = sendNotification("Caucus", fmt.Sprintf("Invitation to %s from %s %s", inv.Room, inv.Inviter, verb))
	})
	p.unsub = append(p.unsub, unsubInvite)

	p.running = true
	return nil
}

// Stop stops the plugin
func (p *MUCNotifyPlugin) Stop() error {
	if !p.running {
		return nil
	}

	for _, unsub := range p.unsub {
		unsub()
	}
	p.unsub = nil

	p.running = false
	return nil
}

// sendNotification sends a desktop notification
func sendNotification(title, body string) error {
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, body, title)
		return exec.Command("osascript", "-e", script).Run()

	case "linux":
		return exec.Command("notify-send", title, body).Run()

	default:
		return nil
	}
}

func main() {
	// This would use go-plugin to serve the plugin
	// Simplified for example purposes
}
