package disco

import (
	"sort"
	"sync"

	"mellium.im/xmpp/jid"
)

// Identity represents a disco identity
type Identity struct {
	Category string
	Type     string
	Name     string
	Lang     string
}

// Feature represents a disco feature
type Feature string

// Common features
const (
	FeatureDisco      Feature = "http://jabber.org/protocol/disco#info"
	FeatureDiscoItems Feature = "http://jabber.org/protocol/disco#items"
	FeatureMUC        Feature = "http://jabber.org/protocol/muc"
	FeatureConference Feature = "jabber:x:conference"
	FeaturePubSub     Feature = "http://jabber.org/protocol/pubsub"
)

// Info represents disco info response
type Info struct {
	Identities []Identity
	Features   []Feature
}

// Item represents a disco item
type Item struct {
	JID  jid.JID
	Name string
	Node string
}

// Features is the set of capabilities this client advertises in its
// own disco#info responses. Subsystems register the namespaces they
// implement when their configuration allows them.
type Features struct {
	mu  sync.RWMutex
	set map[Feature]struct{}
}

// NewFeatures creates an advertised-feature set seeded with the disco
// namespaces themselves
func NewFeatures() *Features {
	f := &Features{set: make(map[Feature]struct{})}
	f.Add(FeatureDisco)
	f.Add(FeatureDiscoItems)
	return f
}

// Add registers a feature for advertisement
func (f *Features) Add(feature Feature) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[feature] = struct{}{}
}

// Has reports whether a feature is advertised
func (f *Features) Has(feature Feature) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.set[feature]
	return ok
}

// List returns the advertised features in stable order
func (f *Features) List() []Feature {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Feature, 0, len(f.set))
	for feature := range f.set {
		out = append(out, feature)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Cache caches disco information for remote entities
type Cache struct {
	mu    sync.RWMutex
	info  map[string]*Info
	items map[string][]Item
}

// NewCache creates a new disco cache
func NewCache() *Cache {
	return &Cache{
		info:  make(map[string]*Info),
		items: make(map[string][]Item),
	}
}

// SetInfo sets disco info for a JID
func (c *Cache) SetInfo(j jid.JID, info *Info) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info[j.String()] = info
}

// GetInfo gets disco info for a JID
func (c *Cache) GetInfo(j jid.JID) *Info {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info[j.String()]
}

// SetItems sets disco items for a JID
func (c *Cache) SetItems(j jid.JID, items []Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[j.String()] = items
}

// GetItems gets disco items for a JID
func (c *Cache) GetItems(j jid.JID) []Item {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.items[j.String()]
}

// HasFeature checks if a JID supports a feature
func (c *Cache) HasFeature(j jid.JID, feature Feature) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	info := c.info[j.String()]
	if info == nil {
		return false
	}

	for _, f := range info.Features {
		if f == feature {
			return true
		}
	}
	return false
}

// Clear clears the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.info = make(map[string]*Info)
	c.items = make(map[string][]Item)
}
