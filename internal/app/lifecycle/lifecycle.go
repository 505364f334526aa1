// Package lifecycle provides one-shot completion signals for session
// startup milestones, replacing ad hoc "wait until event X fired"
// bookkeeping with named futures owned by the session coordinator.
package lifecycle

import (
	"context"
	"sync"
)

// Well-known milestone names.
const (
	RoomsLoaded = "rooms-loaded"
)

// Milestones tracks named one-shot completion signals. Signaling a
// milestone twice is a no-op; waiting on a milestone that has already
// fired returns immediately.
type Milestones struct {
	mu    sync.Mutex
	chans map[string]chan struct{}
}

// NewMilestones creates an empty milestone set
func NewMilestones() *Milestones {
	return &Milestones{chans: make(map[string]chan struct{})}
}

func (m *Milestones) ch(name string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chans[name]
	if !ok {
		c = make(chan struct{})
		m.chans[name] = c
	}
	return c
}

// Signal marks a milestone as reached
func (m *Milestones) Signal(name string) {
	c := m.ch(name)
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-c:
	default:
		close(c)
	}
}

// Done reports whether a milestone has been reached
func (m *Milestones) Done(name string) bool {
	select {
	case <-m.ch(name):
		return true
	default:
		return false
	}
}

// Wait blocks until the milestone is reached or the context is done
func (m *Milestones) Wait(ctx context.Context, name string) error {
	select {
	case <-m.ch(name):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// C returns a channel closed when the milestone is reached
func (m *Milestones) C(name string) <-chan struct{} {
	return m.ch(name)
}
