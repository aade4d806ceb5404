package pipeline

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"image"
	"sync/atomic"

	"github.com/photoclip/smoothie/internal/cache"
	smoothieImage "github.com/photoclip/smoothie/internal/image"
	"github.com/photoclip/smoothie/internal/loader"
	"github.com/photoclip/smoothie/internal/logger"
	"github.com/photoclip/smoothie/internal/tracing"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	memoryHits   = expvar.NewInt("counter_pipeline_memory_hits")
	memoryMisses = expvar.NewInt("counter_pipeline_memory_misses")
	diskErrors   = expvar.NewInt("counter_pipeline_disk_errors")
)

// Config is the configuration of a Pipeline
type Config struct {
	// Cache holds decoded images, it's required
	Cache *smoothieImage.Cache
	// Disk holds encoded bytes, requests go straight to their producer if it's nil
	Disk    cache.Provider
	Decoder smoothieImage.Decoder
	Workers int
	Log     *logger.Logger
	Tracer  *tracing.Tracer
}

// Pipeline turns image requests into at most one load per request key at a time,
// with a memory cache of decoded images and a disk cache of encoded bytes in front of it
type Pipeline struct {
	log        *logger.Logger
	tracer     *tracing.Tracer
	memory     *smoothieImage.Cache
	disk       *cache.Auto
	decoder    smoothieImage.Decoder
	tasks      *loader.TaskPool
	thumbnails *loader.Thumbnails
	cancel     context.CancelFunc
}

// New creates a new Pipeline, that runs until the context is canceled or Shutdown is called
func New(ctx context.Context, cfg Config) *Pipeline {
	ctx, cancel := context.WithCancel(ctx)

	p := &Pipeline{
		log:     cfg.Log,
		tracer:  cfg.Tracer,
		memory:  cfg.Cache,
		decoder: cfg.Decoder,
		tasks:   loader.NewTaskPool(ctx, cfg.Workers),
		cancel:  cancel,
	}

	if cfg.Disk != nil {
		p.disk = &cache.Auto{
			Log:      cfg.Log,
			Tracer:   cfg.Tracer,
			Provider: cfg.Disk,
		}
	}

	p.thumbnails = loader.NewThumbnails(p.tasks, p.operation)

	return p
}

// Request delivers the image for the request to completion.
// A memory cache hit is delivered before Request returns, for resized requests as well since the size is part of
// the cache key. Anything else is delivered from a worker.
// Once Cancel on the returned handle returns, completion won't be called unless it's already running.
func (p *Pipeline) Request(request *smoothieImage.Request, completion func(image.Image, error)) loader.Cancellable {
	if img, ok := p.memory.Get(request.Key()); ok {
		memoryHits.Add(1)
		completion(img, nil)
		return nopCancellable{}
	}

	memoryMisses.Add(1)
	return p.thumbnails.AppendLoad(request, completionObserver(completion))
}

// Preload loads the image for the request into the caches at low priority, and calls done when it's finished or released
func (p *Pipeline) Preload(request *smoothieImage.Request, done func()) loader.Cancellable {
	if _, ok := p.memory.Get(request.Key()); ok {
		memoryHits.Add(1)
		done()
		return nopCancellable{}
	}

	memoryMisses.Add(1)
	return p.thumbnails.AppendPrefetch(request, doneObserver(done))
}

// ReleasePrefetches stops preloading the image for the key, unless it's also being requested
func (p *Pipeline) ReleasePrefetches(key smoothieImage.RequestKey) {
	p.thumbnails.ReleasePrefetches(key)
}

// ReleaseAllPrefetches stops every preload that isn't also being requested
func (p *Pipeline) ReleaseAllPrefetches() {
	p.thumbnails.ReleaseAllPrefetches()
}

// MemoryCache returns the cache of decoded images
func (p *Pipeline) MemoryCache() *smoothieImage.Cache {
	return p.memory
}

// Shutdown stops the workers, loads that haven't finished fail
func (p *Pipeline) Shutdown() {
	p.cancel()
}

func (p *Pipeline) operation(request *smoothieImage.Request) loader.Operation {
	return func(ctx context.Context) (image.Image, error) {
		key := request.Key()

		ctx, span := p.tracer.Start(ctx, "loader.operation")
		defer span.End()
		span.SetAttributes(attribute.String("request.key", key.String()))

		// A task for the same key may have finished after the request missed the cache
		if img, ok := p.memory.Get(key); ok {
			return img, nil
		}

		data, produced, err := p.bytes(ctx, request)
		if errors.Is(err, smoothieImage.ErrEmptyBuffer) {
			span.SetStatus(codes.Error, "empty image")
			return nil, loader.ErrDecodeFailed
		}
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("error producing %s: %w", key, err)
		}

		img, err := p.decoder.Decode(ctx, data, request.Resize)
		if err != nil || img == nil {
			span.SetStatus(codes.Error, "decode failed")
			if err != nil {
				p.log.Debugw("error decoding image", "key", key.String(), "error", err)
			}
			return nil, loader.ErrDecodeFailed
		}

		// Only bytes that decoded are written back, so a bad producer result is retried by the next request
		if produced {
			p.disk.Set(ctx, request.CacheKey, data)
		}

		p.memory.Set(key, img)
		return img, nil
	}
}

// bytes returns the encoded image from the disk cache, or from the producer of the request.
// produced is true when this call ran the producer on behalf of the disk cache, the bytes should be
// stored once they're known to be good.
func (p *Pipeline) bytes(ctx context.Context, request *smoothieImage.Request) (data []byte, produced bool, err error) {
	if request.Produce == nil {
		return nil, false, ErrNoProducer
	}

	if p.disk == nil || request.IgnoreDiskCaching {
		data, err = produce(ctx, request)
		return data, false, err
	}

	var ran atomic.Bool
	data, err = p.disk.Get(ctx, request.CacheKey, func(ctx context.Context, key string) ([]byte, error) {
		ran.Store(true)
		data, err := produce(ctx, request)
		if err != nil {
			return nil, &produceError{err}
		}
		return data, nil
	})
	if err == nil {
		return data, ran.Load(), nil
	}

	var produceErr *produceError
	if errors.As(err, &produceErr) {
		return nil, false, produceErr.err
	}

	if ctx.Err() != nil {
		return nil, false, ctx.Err()
	}

	// The disk cache is unavailable, go straight to the producer
	diskErrors.Add(1)
	p.log.Warnw("error reading from disk cache",
		"key", request.CacheKey,
		"error", err,
	)

	data, err = produce(ctx, request)
	return data, false, err
}

// produce calls the producer of the request, an empty result is an error
func produce(ctx context.Context, request *smoothieImage.Request) ([]byte, error) {
	data, err := request.Produce(ctx)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, smoothieImage.ErrEmptyBuffer
	}

	return data, nil
}

type produceError struct {
	err error
}

func (e *produceError) Error() string {
	return e.err.Error()
}

func (e *produceError) Unwrap() error {
	return e.err
}

type completionObserver func(image.Image, error)

func (c completionObserver) DidLoad(img image.Image) {
	c(img, nil)
}

func (c completionObserver) DidFailToLoad(err error) {
	c(nil, err)
}

type doneObserver func()

func (d doneObserver) DidFinishPrefetch() {
	d()
}

type nopCancellable struct{}

func (nopCancellable) Cancel() {}

// Errors
var (
	ErrNoProducer = errors.New("request has no producer")
)
