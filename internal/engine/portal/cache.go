package portal

import (
	"sync"
	"time"
)

type cachedDeals struct {
	views    []DealView
	cachedAt time.Time
}

// dealCache holds resolved deal lists per organization for a short TTL.
// Only successful lookups are stored.
type dealCache struct {
	store sync.Map // map[orgID]*cachedDeals
	ttl   time.Duration
	now   func() time.Time
}

func newDealCache(ttl time.Duration) *dealCache {
	return &dealCache{ttl: ttl, now: time.Now}
}

func (c *dealCache) get(orgID string) ([]DealView, bool) {
	if c == nil {
		return nil, false
	}
	val, ok := c.store.Load(orgID)
	if !ok {
		return nil, false
	}

	entry := val.(*cachedDeals)
	if c.now().Sub(entry.cachedAt) > c.ttl {
		c.store.Delete(orgID)
		return nil, false
	}
	return entry.views, true
}

func (c *dealCache) set(orgID string, views []DealView) {
	if c == nil {
		return
	}
	c.store.Store(orgID, &cachedDeals{views: views, cachedAt: c.now()})
}
