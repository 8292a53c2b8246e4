package transport

import (
	"strings"
	"sync"

	"github.com/sirosfoundation/go-ehf/pkg/security"
)

// ChannelCache reuses channels per access point address. An entry is replaced
// when the address is opened with a different peer certificate or identity.
// The first ChannelConfig for an entry, including its VerifyPeer, is the one
// the cached channel keeps using; each handshake passes VerifyPeer the
// context of the request that triggered it.
type ChannelCache struct {
	factory Factory

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	thumbprint string
	identity   string
	channel    Channel
}

// NewChannelCache wraps factory
func NewChannelCache(factory Factory) *ChannelCache {
	return &ChannelCache{
		factory: factory,
		entries: make(map[string]cacheEntry),
	}
}

// Open returns the cached channel for cfg.Address or opens a new one
func (c *ChannelCache) Open(cfg ChannelConfig) (Channel, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	key := cfg.Address.String()
	thumbprint := security.Thumbprint(cfg.PeerCertificate)

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && e.thumbprint == thumbprint && strings.EqualFold(e.identity, cfg.Identity) {
		return e.channel, nil
	}

	ch, err := c.factory.Open(cfg)
	if err != nil {
		return nil, err
	}
	c.entries[key] = cacheEntry{thumbprint: thumbprint, identity: cfg.Identity, channel: ch}
	return ch, nil
}

// Invalidate drops the entry for address
func (c *ChannelCache) Invalidate(address string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, address)
}

// Len returns the number of cached channels
func (c *ChannelCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
