package image

import (
	"image"
	"math"
	"sync"

	"github.com/maypok86/otter/v2"
	"github.com/pbnjay/memory"
)

// Used when the amount of physical memory can't be determined
const fallbackCostLimit = 256 << 20

// CacheConfig configures the bounds of a Cache
type CacheConfig struct {
	// CostLimit is the maximum total cost in bytes, defaults to a quarter of the physical memory
	CostLimit uint64
	// CountLimit is the maximum amount of images, zero means unbounded
	CountLimit int
}

// Cache is a bounded in-memory cache of decoded images.
// Entries may be evicted at any time, in no particular order.
type Cache struct {
	cache      *otter.Cache[RequestKey, image.Image]
	costLimit  uint64
	countLimit int
	trimMutex  sync.Mutex
}

// NewCache creates a new Cache
func NewCache(cfg CacheConfig) *Cache {
	costLimit := cfg.CostLimit
	if costLimit == 0 {
		costLimit = DefaultCostLimit()
	}

	return &Cache{
		cache: otter.Must(&otter.Options[RequestKey, image.Image]{
			MaximumWeight: costLimit,
			Weigher:       weigh,
		}),
		costLimit:  costLimit,
		countLimit: cfg.CountLimit,
	}
}

// DefaultCostLimit returns a quarter of the physical memory
func DefaultCostLimit() uint64 {
	total := memory.TotalMemory()
	if total == 0 {
		return fallbackCostLimit
	}

	return total / 4
}

// Cost returns the cost of an image, the size of its decoded pixels in bytes
func Cost(img image.Image) uint64 {
	if img == nil {
		return 0
	}

	bounds := img.Bounds()
	return uint64(bounds.Dx()) * uint64(bounds.Dy()) * 4
}

func weigh(key RequestKey, img image.Image) uint32 {
	cost := Cost(img)
	if cost > math.MaxUint32 {
		return math.MaxUint32
	}

	return uint32(cost)
}

// Get returns an image from the cache if it exists
func (c *Cache) Get(key RequestKey) (image.Image, bool) {
	return c.cache.GetIfPresent(key)
}

// Set adds an image to the cache, a nil image removes the key
func (c *Cache) Set(key RequestKey, img image.Image) {
	if img == nil {
		c.Remove(key)
		return
	}

	c.cache.Set(key, img)

	if c.countLimit > 0 {
		c.trim(key)
	}
}

// Evicts arbitrary entries other than keep until the count limit is honored
func (c *Cache) trim(keep RequestKey) {
	c.trimMutex.Lock()
	defer c.trimMutex.Unlock()

	excess := c.cache.EstimatedSize() - c.countLimit
	if excess <= 0 {
		return
	}

	for key := range c.cache.All() {
		if excess <= 0 {
			break
		}

		if key == keep {
			continue
		}

		if _, ok := c.cache.Invalidate(key); ok {
			excess--
		}
	}
}

// Remove removes an image from the cache
func (c *Cache) Remove(key RequestKey) {
	c.cache.Invalidate(key)
}

// RemoveAll flushes the cache, used when the system is low on memory
func (c *Cache) RemoveAll() {
	c.cache.InvalidateAll()
}

// Cost returns the total cost of the images resident in the cache, after any pending evictions
func (c *Cache) Cost() uint64 {
	c.cache.CleanUp()
	return c.cache.WeightedSize()
}

// CostLimit returns the configured cost limit
func (c *Cache) CostLimit() uint64 {
	return c.costLimit
}

// Len returns the approximate amount of images in the cache
func (c *Cache) Len() int {
	return c.cache.EstimatedSize()
}
