package mock

import (
	"context"
	"sync/atomic"

	"github.com/photoclip/smoothie/internal/storage"
)

// Provider implements a mock image storage returning the id as the image data
type Provider struct {
	calls atomic.Int64
}

// Get returns the image data for an image id
func (p *Provider) Get(ctx context.Context, id string) ([]byte, error) {
	p.calls.Add(1)

	if id == "notfound" {
		return nil, storage.ErrNotFound
	}

	return []byte(id), nil
}

// Calls returns the amount of times Get has been called
func (p *Provider) Calls() int {
	return int(p.calls.Load())
}
