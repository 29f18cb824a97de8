package exchange

import (
	"container/list"
	"sync"
	"time"
)

// CacheKey identifies a constructed client. Version changes whenever the
// stored credentials change, so a stale client is never handed out.
type CacheKey struct {
	ExchangeID uint64
	Type       string
	Testnet    bool
	Version    int64
}

type cachedClient struct {
	key       CacheKey
	client    Client
	expiresAt time.Time
}

// ClientCache is a bounded LRU of venue clients with a per-entry TTL.
type ClientCache struct {
	mu    sync.Mutex
	max   int
	ttl   time.Duration
	ll    *list.List
	items map[CacheKey]*list.Element
	now   func() time.Time
}

func NewClientCache(max int, ttl time.Duration) *ClientCache {
	if max <= 0 {
		max = 256
	}
	return &ClientCache{
		max:   max,
		ttl:   ttl,
		ll:    list.New(),
		items: map[CacheKey]*list.Element{},
		now:   time.Now,
	}
}

// GetOrCreate returns the cached client for key or builds, stores and returns
// a new one. Build errors are not cached.
func (c *ClientCache) GetOrCreate(key CacheKey, build func() (Client, error)) (Client, error) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cachedClient)
		if c.ttl <= 0 || c.now().Before(entry.expiresAt) {
			c.ll.MoveToFront(el)
			c.mu.Unlock()
			return entry.client, nil
		}
		c.removeElement(el)
	}
	c.mu.Unlock()

	client, err := build()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		// Another caller won the race.
		c.ll.MoveToFront(el)
		return el.Value.(*cachedClient).client, nil
	}
	c.invalidateLocked(key.ExchangeID)
	el := c.ll.PushFront(&cachedClient{key: key, client: client, expiresAt: c.now().Add(c.ttl)})
	c.items[key] = el
	for c.ll.Len() > c.max {
		c.removeElement(c.ll.Back())
	}
	return client, nil
}

// Invalidate drops every client built for the exchange account.
func (c *ClientCache) Invalidate(exchangeID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked(exchangeID)
}

func (c *ClientCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (c *ClientCache) invalidateLocked(exchangeID uint64) {
	for key, el := range c.items {
		if key.ExchangeID == exchangeID {
			c.removeElement(el)
		}
	}
}

func (c *ClientCache) removeElement(el *list.Element) {
	if el == nil {
		return
	}
	entry := c.ll.Remove(el).(*cachedClient)
	delete(c.items, entry.key)
}
