package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/photoclip/smoothie/internal/cache"
	"github.com/photoclip/smoothie/internal/cache/memory"
)

func TestMemory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := memory.New()

	t.Run("get item", func(t *testing.T) {
		// Add item to the cache
		provider.Set(ctx, "foo", []byte("bar"))

		// Get item from the cache
		data, err := provider.Get(ctx, "foo")
		if err != nil {
			t.Fatal(err)
		}

		if string(data) != "bar" {
			t.Fatal("wrong data")
		}

		if provider.Len() != 1 {
			t.Fatalf("wrong length %d", provider.Len())
		}
	})

	t.Run("stores a copy", func(t *testing.T) {
		data := []byte("bar")
		provider.Set(ctx, "copy", data)
		data[0] = 'c'

		stored, _ := provider.Get(ctx, "copy")
		if string(stored) != "bar" {
			t.Fatalf("stored data was modified %s", stored)
		}
	})

	t.Run("get nonexistant item", func(t *testing.T) {
		_, err := provider.Get(ctx, "notfound")
		if err == nil {
			t.Fatal("no error")
		}

		if !errors.Is(err, cache.ErrNotFound) {
			t.Fatalf("wrong error %s", err)
		}
	})
}
