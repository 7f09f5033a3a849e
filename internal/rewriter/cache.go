package rewriter

import (
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// DefaultCacheCapacity bounds the number of cached block outputs.
const DefaultCacheCapacity uint64 = 1000

// Cache keeps successful formatter outputs keyed by formatter, dialect and
// input. The owner calls Start and Stop.
type Cache struct {
	items *ttlcache.Cache[string, string]
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		items: ttlcache.New(
			ttlcache.WithTTL[string, string](ttl),
			ttlcache.WithCapacity[string, string](DefaultCacheCapacity),
		),
	}
}

// Start runs the expiry loop until Stop is called. It blocks.
func (c *Cache) Start() {
	c.items.Start()
}

func (c *Cache) Stop() {
	c.items.Stop()
}

func (c *Cache) Len() int {
	return c.items.Len()
}

func (c *Cache) Get(formatterId, dialect, code string) (string, bool) {
	item := c.items.Get(cacheKey(formatterId, dialect, code), ttlcache.WithDisableTouchOnHit[string, string]())
	if item == nil {
		return "", false
	}
	return item.Value(), true
}

func (c *Cache) Set(formatterId, dialect, code, formatted string) {
	c.items.Set(cacheKey(formatterId, dialect, code), formatted, ttlcache.DefaultTTL)
}

func cacheKey(formatterId, dialect, code string) string {
	return strings.Join([]string{formatterId, dialect, code}, "\x00")
}

// Clear drops every entry, for when formatter commands change.
func (c *Cache) Clear() {
	c.items.DeleteAll()
}
