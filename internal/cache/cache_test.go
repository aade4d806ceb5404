package cache_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/photoclip/smoothie/internal/cache"
	"github.com/photoclip/smoothie/internal/cache/memory"
	"github.com/photoclip/smoothie/internal/cache/mock"
	"github.com/photoclip/smoothie/internal/logger"
	"github.com/photoclip/smoothie/internal/tracing/test"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var mockLoaderFunc cache.LoaderFunc = func(ctx context.Context, key string) (data []byte, err error) {
	if key == "notfounderr" {
		return nil, fmt.Errorf("notfounderr")
	}

	return []byte(key), nil
}

func TestAuto(t *testing.T) {
	log := logger.New(zap.FatalLevel)
	defer log.Sync()

	provider := &mock.Provider{}
	auto := &cache.Auto{
		Log:      log,
		Tracer:   test.Tracer(log),
		Provider: provider,
	}

	tests := []struct {
		Key           string
		ExpectedData  string
		ExpectedError error
	}{
		{"foo", "foo", nil},
		{"notfound", "notfound", nil},
		{"notfounderr", "", fmt.Errorf("notfounderr")},
		{"seterror", "seterror", nil},
		{"error", "", fmt.Errorf("error")},
		{"empty", "empty", nil},
	}

	for _, test := range tests {
		data, err := auto.Get(context.Background(), test.Key, mockLoaderFunc)
		if err != nil {
			if test.ExpectedError == nil {
				t.Errorf("%s: %s", test.Key, err)
				continue
			}

			if test.ExpectedError.Error() != err.Error() {
				t.Errorf("%s: wrong error: %s", test.Key, err)
				continue
			}

			continue
		}

		if string(data) != test.ExpectedData {
			t.Errorf("%s: wrong data", test.Key)
		}
	}

	// Loaded data is only stored through Set
	if sets := provider.Sets(); len(sets) != 0 {
		t.Errorf("wrong keys stored %v", sets)
	}
}

func TestAutoSet(t *testing.T) {
	log := logger.New(zap.FatalLevel)
	defer log.Sync()

	provider := &mock.Provider{}
	auto := &cache.Auto{
		Log:      log,
		Tracer:   test.Tracer(log),
		Provider: provider,
	}

	auto.Set(context.Background(), "foo", []byte("foo"))
	auto.Set(context.Background(), "seterror", []byte("seterror"))
	auto.Set(context.Background(), "nothing", nil)
	auto.Set(context.Background(), "nothing", []byte{})

	sets := provider.Sets()
	if len(sets) != 1 || sets[0] != "foo" {
		t.Errorf("wrong keys stored %v", sets)
	}
}

func TestAutoDoesNotStoreFailedLoads(t *testing.T) {
	log := logger.New(zap.FatalLevel)
	defer log.Sync()

	provider := memory.New()
	auto := &cache.Auto{
		Log:      log,
		Tracer:   test.Tracer(log),
		Provider: provider,
	}

	_, err := auto.Get(context.Background(), "item", func(ctx context.Context, key string) ([]byte, error) {
		return nil, fmt.Errorf("broken")
	})
	if err == nil {
		t.Fatal("expected an error")
	}

	data, err := auto.Get(context.Background(), "item", func(ctx context.Context, key string) ([]byte, error) {
		return []byte("data"), nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "data" {
		t.Errorf("wrong data %s", data)
	}

	if _, err := provider.Get(context.Background(), "item"); err != cache.ErrNotFound {
		t.Errorf("expected nothing to be stored, got %v", err)
	}
}

func TestAutoCoalescesLoads(t *testing.T) {
	log := logger.New(zap.FatalLevel)
	defer log.Sync()

	auto := &cache.Auto{
		Log:      log,
		Tracer:   test.Tracer(log),
		Provider: memory.New(),
	}

	var calls atomic.Int32
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(1)

	loader := func(ctx context.Context, key string) ([]byte, error) {
		if calls.Add(1) == 1 {
			started.Done()
		}
		<-release
		return []byte("data"), nil
	}

	var g errgroup.Group
	g.Go(func() error {
		_, err := auto.Get(context.Background(), "item", loader)
		return err
	})

	started.Wait()
	for i := 0; i < 4; i++ {
		g.Go(func() error {
			data, err := auto.Get(context.Background(), "item", loader)
			if err == nil && string(data) != "data" {
				return fmt.Errorf("wrong data %s", data)
			}
			return err
		})
	}

	// Give the joining callers a chance to reach the singleflight group
	time.Sleep(50 * time.Millisecond)
	close(release)

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	// Callers that arrived while the load was running joined it
	if n := calls.Load(); n != 1 {
		t.Errorf("loader called %d times", n)
	}
}

func TestAutoRetriesCanceledLoad(t *testing.T) {
	log := logger.New(zap.FatalLevel)
	defer log.Sync()

	auto := &cache.Auto{
		Log:      log,
		Tracer:   test.Tracer(log),
		Provider: memory.New(),
	}

	started := make(chan struct{})
	loader := func(ctx context.Context, key string) ([]byte, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstDone := make(chan error, 1)
	go func() {
		_, err := auto.Get(firstCtx, "item", loader)
		firstDone <- err
	}()

	<-started

	secondDone := make(chan error, 1)
	go func() {
		data, err := auto.Get(context.Background(), "item", func(ctx context.Context, key string) ([]byte, error) {
			return []byte("second"), nil
		})
		if err == nil && string(data) != "second" {
			err = fmt.Errorf("wrong data %s", data)
		}
		secondDone <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancelFirst()

	if err := <-firstDone; err == nil {
		t.Error("first caller did not get an error")
	}

	if err := <-secondDone; err != nil {
		t.Errorf("second caller: %s", err)
	}
}
