package storage

import (
	"context"
	"errors"

	"github.com/photoclip/smoothie/internal/image"
)

// Provider is an interface for retrieving the encoded bytes of images
type Provider interface {
	Get(ctx context.Context, id string) ([]byte, error)
}

// Producer returns a function producing the bytes of an image from a provider, for use in an image request
func Producer(provider Provider, id string) image.ProduceFunc {
	return func(ctx context.Context) ([]byte, error) {
		return provider.Get(ctx, id)
	}
}

// Errors
var (
	ErrNotFound  = errors.New("Image does not exist")
	ErrInvalidID = errors.New("Invalid image id")
)
