package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/photoclip/smoothie/internal/cache"
	"github.com/photoclip/smoothie/internal/tracing"
	"github.com/twmb/murmur3"
)

// Provider implements a cache stored in a directory on disk
type Provider struct {
	path   string
	tracer *tracing.Tracer
}

// New returns a new Provider instance, creating the directory if needed
func New(tracer *tracing.Tracer, path string) (*Provider, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}

	return &Provider{
		path:   path,
		tracer: tracer,
	}, nil
}

// Keys are hashed so that arbitrary cache keys map to safe file names, sharded by the first byte
func (p *Provider) filePath(key string) string {
	hash := fmt.Sprintf("%016x", murmur3.StringSum64(key))
	return filepath.Join(p.path, hash[:2], hash)
}

// Get returns an object from the cache if it exists
func (p *Provider) Get(ctx context.Context, key string) (data []byte, err error) {
	_, span := p.tracer.Start(ctx, "file.Get")
	defer span.End()

	data, err = os.ReadFile(p.filePath(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, cache.ErrNotFound
		}

		return nil, err
	}

	return data, nil
}

// Set adds an object to the cache
func (p *Provider) Set(ctx context.Context, key string, data []byte) (err error) {
	_, span := p.tracer.Start(ctx, "file.Set")
	defer span.End()

	path := p.filePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	// Write to a temporary file first so that readers never see a partial file
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}

// Shutdown shuts down the cache
func (p *Provider) Shutdown() {}
