// Package cache wraps go-cache with the handful of operations the listeners
// need to remember recently seen message control IDs.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache is an instance of a key-value store with contents specific to
// each instance and are not shared between instances. Entries expire after
// the TTL passed to New.
type Cache struct {
	cacheInstance *gocache.Cache
}

// New returns a Cache whose entries expire after ttl. A ttl of -1 disables expiration.
func New(ttl time.Duration) *Cache {
	cleanup := ttl
	if cleanup <= 0 || cleanup > time.Minute {
		cleanup = time.Minute
	}
	return &Cache{cacheInstance: gocache.New(ttl, cleanup)}
}

// Remember records key with the default expiration and reports whether it
// was already present. The check and the insert happen atomically.
func (c *Cache) Remember(key string) bool {
	return c.cacheInstance.Add(key, struct{}{}, gocache.DefaultExpiration) != nil
}

// Len returns the number of entries, possibly including expired ones that
// haven't been cleaned up yet.
func (c *Cache) Len() int {
	return c.cacheInstance.ItemCount()
}
