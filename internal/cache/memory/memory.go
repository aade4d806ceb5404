package memory

import (
	"context"
	"sync"

	"github.com/photoclip/smoothie/internal/cache"
)

// Provider implements a simple in-memory byte cache, standing in for a persistent cache in development and tests
type Provider struct {
	cache map[string][]byte
	mutex sync.RWMutex
}

// New returns a new Provider instance
func New() *Provider {
	return &Provider{
		cache: make(map[string][]byte),
	}
}

// Get returns an object from the cache if it exists
func (p *Provider) Get(ctx context.Context, key string) (data []byte, err error) {
	p.mutex.RLock()
	data, exists := p.cache[key]
	p.mutex.RUnlock()

	if !exists {
		return nil, cache.ErrNotFound
	}

	return data, nil
}

// Set adds a copy of an object to the cache
func (p *Provider) Set(ctx context.Context, key string, data []byte) (err error) {
	stored := make([]byte, len(data))
	copy(stored, data)

	p.mutex.Lock()
	p.cache[key] = stored
	p.mutex.Unlock()

	return nil
}

// Len returns the amount of objects in the cache
func (p *Provider) Len() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return len(p.cache)
}

// Shutdown shuts down the cache
func (p *Provider) Shutdown() {}
