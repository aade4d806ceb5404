package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/photoclip/smoothie/internal/storage"
)

// Provider implements a file-based image storage, where the id of an image is its path relative to the root
type Provider struct {
	path string
}

// New returns a new Provider instance
func New(path string) (*Provider, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	return &Provider{
		path,
	}, nil
}

// Get returns the image data for an image id
func (p *Provider) Get(ctx context.Context, id string) ([]byte, error) {
	if !filepath.IsLocal(id) {
		return nil, storage.ErrInvalidID
	}

	imageData, err := os.ReadFile(filepath.Join(p.path, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	return imageData, nil
}
