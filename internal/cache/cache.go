package cache

import (
	"context"
	"errors"

	"github.com/photoclip/smoothie/internal/logger"
	"github.com/photoclip/smoothie/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

// Provider is an interface for getting and setting cached bytes
type Provider interface {
	Get(ctx context.Context, key string) (data []byte, err error)
	Set(ctx context.Context, key string, data []byte) (err error)
	Shutdown()
}

// LoaderFunc is a function for loading data into a cache
type LoaderFunc func(ctx context.Context, key string) (data []byte, err error)

// Auto is a cache that automatically attempts to load objects if they don't exist.
// Loaded data isn't stored by Get, callers store it with Set once they know it's usable.
type Auto struct {
	Log         *logger.Logger
	Tracer      *tracing.Tracer
	Provider    Provider
	lookupGroup singleflight.Group
}

// Get returns an object from the cache if it exists, otherwise it loads it using the loader and returns it.
// Concurrent loads of the same key share a single call to a loader.
// An empty cached entry is treated as a miss.
func (a *Auto) Get(ctx context.Context, key string, loader LoaderFunc) (data []byte, err error) {
	ctx, span := a.Tracer.Start(ctx, "cache.Auto.Get")
	defer span.End()
	span.SetAttributes(attribute.String("cache.key", key))

	// Attempt to get the data from the cache
	data, err = a.Provider.Get(ctx, key)
	// Exit early if the error is nil as we got data from the cache
	// Or if there's an error indicating that something went wrong
	if err == nil && len(data) == 0 {
		err = ErrNotFound
	}
	if !errors.Is(err, ErrNotFound) {
		span.SetAttributes(attribute.Bool("cache.hit", err == nil))
		return
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))

	for {
		loaded := false

		// Use singleflight to avoid concurrent loads
		resultChan := a.lookupGroup.DoChan(key, func() (interface{}, error) {
			loaded = true

			return loader(ctx, key)
		})

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case result := <-resultChan:
			// The load we joined was canceled by the caller that started it, so start a new one
			if !loaded && errors.Is(result.Err, context.Canceled) && ctx.Err() == nil {
				continue
			}

			if result.Err != nil {
				return nil, result.Err
			}

			data, _ = result.Val.([]byte)
			return data, nil
		}
	}
}

// Set stores data in the cache.
// Failures are logged rather than returned, a missing entry only costs a reload.
func (a *Auto) Set(ctx context.Context, key string, data []byte) {
	ctx, span := a.Tracer.Start(ctx, "cache.Auto.Set")
	defer span.End()
	span.SetAttributes(attribute.String("cache.key", key))

	if len(data) == 0 {
		return
	}

	if err := a.Provider.Set(ctx, key, data); err != nil {
		a.Log.Warnw("error storing data in cache",
			"key", key,
			"error", err,
		)
	}
}

// Errors
var (
	ErrNotFound = errors.New("not found in cache")
)
