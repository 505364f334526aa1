package roster

import (
	"sync"

	"mellium.im/xmpp/jid"
)

// Item represents a roster entry
type Item struct {
	JID          jid.JID
	Name         string
	Subscription string
	Groups       []string
}

// Store holds the roster received from the server. The groupchat
// subsystem only consults it to resolve display names for invitation
// prompts.
type Store struct {
	mu    sync.RWMutex
	items map[string]Item
}

// NewStore creates an empty roster store
func NewStore() *Store {
	return &Store{items: make(map[string]Item)}
}

// Set adds or replaces a roster entry
func (s *Store) Set(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.JID.Bare().String()] = item
}

// Remove deletes a roster entry
func (s *Store) Remove(j jid.JID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, j.Bare().String())
}

// Get returns the entry for a JID
func (s *Store) Get(j jid.JID) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[j.Bare().String()]
	return item, ok
}

// DisplayName resolves a human-readable name for a JID, falling back
// to the bare JID string when the contact is unknown or unnamed.
func (s *Store) DisplayName(j jid.JID) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if item, ok := s.items[j.Bare().String()]; ok && item.Name != "" {
		return item.Name
	}
	return j.Bare().String()
}
