package loader_test

import (
	"context"
	"image"
	"sync/atomic"
	"testing"
	"time"

	"github.com/photoclip/smoothie/internal/loader"
)

const timeout = 5 * time.Second

func setupPool(t *testing.T, workers int) *loader.TaskPool {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return loader.NewTaskPool(ctx, workers)
}

// blockingOperation blocks until released or canceled
type blockingOperation struct {
	calls    atomic.Int32
	started  chan struct{}
	canceled chan struct{}
	release  chan struct{}
	img      image.Image
	err      error
}

func newBlockingOperation(img image.Image, err error) *blockingOperation {
	return &blockingOperation{
		started:  make(chan struct{}, 16),
		canceled: make(chan struct{}, 16),
		release:  make(chan struct{}),
		img:      img,
		err:      err,
	}
}

func (o *blockingOperation) run(ctx context.Context) (image.Image, error) {
	o.calls.Add(1)
	o.started <- struct{}{}

	select {
	case <-o.release:
		return o.img, o.err
	case <-ctx.Done():
		o.canceled <- struct{}{}
		return nil, ctx.Err()
	}
}

type result struct {
	img image.Image
	err error
}

func completion(results chan result) loader.Completion {
	return func(img image.Image, err error) {
		results <- result{img, err}
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatal("timed out")
	}

	var zero T
	return zero
}

func empty[T any](t *testing.T, ch <-chan T) {
	t.Helper()

	select {
	case <-ch:
		t.Fatal("unexpected receive")
	default:
	}
}

type loadRecorder struct {
	images chan image.Image
	errors chan error
}

func newLoadRecorder() *loadRecorder {
	return &loadRecorder{
		images: make(chan image.Image, 4),
		errors: make(chan error, 4),
	}
}

func (r *loadRecorder) DidLoad(img image.Image) {
	r.images <- img
}

func (r *loadRecorder) DidFailToLoad(err error) {
	r.errors <- err
}

type prefetchRecorder struct {
	done chan struct{}
}

func newPrefetchRecorder() *prefetchRecorder {
	return &prefetchRecorder{
		done: make(chan struct{}, 4),
	}
}

func (r *prefetchRecorder) DidFinishPrefetch() {
	r.done <- struct{}{}
}

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 100, 100))
}
