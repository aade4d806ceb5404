package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/photoclip/smoothie/internal/cache"
)

// Provider is a mock cache.
// Keys prefixed with "notfound" or equal to "seterror" are missing, "error" fails, "empty" has an empty entry,
// everything else is a hit.
type Provider struct {
	mutex sync.Mutex
	gets  []string
	sets  []string
}

// Get returns an object from the cache if it exists
func (p *Provider) Get(ctx context.Context, key string) (data []byte, err error) {
	p.mutex.Lock()
	p.gets = append(p.gets, key)
	p.mutex.Unlock()

	switch {
	case key == "error":
		return nil, fmt.Errorf("error")
	case key == "seterror", len(key) >= 8 && key[:8] == "notfound":
		return nil, cache.ErrNotFound
	case key == "empty":
		return []byte{}, nil
	}

	return []byte("foo"), nil
}

// Set records the key and fails for "seterror"
func (p *Provider) Set(ctx context.Context, key string, data []byte) (err error) {
	if key == "seterror" {
		return fmt.Errorf("seterror")
	}

	p.mutex.Lock()
	p.sets = append(p.sets, key)
	p.mutex.Unlock()

	return nil
}

// Gets returns the keys that have been looked up
func (p *Provider) Gets() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return append([]string(nil), p.gets...)
}

// Sets returns the keys that have been stored
func (p *Provider) Sets() []string {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	return append([]string(nil), p.sets...)
}

// Shutdown shuts down the cache
func (p *Provider) Shutdown() {}
