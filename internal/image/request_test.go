package image_test

import (
	"context"
	"math"
	"testing"

	"github.com/photoclip/smoothie/internal/image"
)

func produceFoo(ctx context.Context) ([]byte, error) {
	return []byte("foo"), nil
}

func produceBar(ctx context.Context) ([]byte, error) {
	return []byte("bar"), nil
}

func TestRequestKey(t *testing.T) {
	size := image.Size{Width: 100, Height: 100}

	tests := []struct {
		Name  string
		A     *image.Request
		B     *image.Request
		Equal bool
	}{
		{"same key without resize", image.NewRequest("item-42", produceFoo), image.NewRequest("item-42", produceFoo), true},
		{"different produce functions", image.NewRequest("item-42", produceFoo).Resized(size, 2), image.NewRequest("item-42", produceBar).Resized(size, 2), true},
		{"disk caching does not affect the key", image.NewRequest("item-42", produceFoo).Resized(size, 2), image.NewRequest("item-42", produceFoo).Resized(size, 2).WithoutDiskCaching(), true},
		{"different cache keys", image.NewRequest("item-42", produceFoo), image.NewRequest("item-43", produceFoo), false},
		{"different sizes", image.NewRequest("item-42", produceFoo).Resized(size, 1), image.NewRequest("item-42", produceFoo).Resized(image.Size{Width: 200, Height: 100}, 1), false},
		{"different scales", image.NewRequest("item-42", produceFoo).Resized(size, 1), image.NewRequest("item-42", produceFoo).Resized(size, 2), false},
		{"resized and original", image.NewRequest("item-42", produceFoo).Resized(size, 1), image.NewRequest("item-42", produceFoo), false},
	}

	for _, test := range tests {
		if equal := test.A.Key() == test.B.Key(); equal != test.Equal {
			t.Errorf("%s: expected equal to be %t", test.Name, test.Equal)
		}
	}
}

func TestRequestKeyString(t *testing.T) {
	tests := []struct {
		Request  *image.Request
		Expected string
	}{
		{image.NewRequest("item-42", produceFoo), "item-42"},
		{image.NewRequest("item-42", produceFoo).Resized(image.Size{Width: 100, Height: 50}, 2), "item-42@100x50@2x"},
	}

	for _, test := range tests {
		if key := test.Request.Key().String(); key != test.Expected {
			t.Errorf("wrong key %s", key)
		}
	}
}

func TestResizePixels(t *testing.T) {
	resize := &image.Resize{Size: image.Size{Width: 100, Height: 50}, Scale: 3}
	width, height := resize.Pixels()
	if width != 300 || height != 150 {
		t.Errorf("wrong pixels %dx%d", width, height)
	}

	resize.Scale = 0
	width, height = resize.Pixels()
	if width != 100 || height != 50 {
		t.Errorf("wrong pixels for zero scale %dx%d", width, height)
	}
}

func TestInvalidScales(t *testing.T) {
	size := image.Size{Width: 100, Height: 50}
	expected := image.NewRequest("item-42", produceFoo).Resized(size, 1).Key()

	tests := []struct {
		Name  string
		Scale float64
	}{
		{"nan", math.NaN()},
		{"positive infinity", math.Inf(1)},
		{"negative infinity", math.Inf(-1)},
		{"zero", 0},
		{"negative", -2},
	}

	for _, test := range tests {
		request := image.NewRequest("item-42", produceFoo).Resized(size, test.Scale)
		if key := request.Key(); key != expected {
			t.Errorf("%s: wrong key %s", test.Name, key)
		}

		// Keys built from a Resize set directly are normalized as well
		direct := &image.Request{CacheKey: "item-42", Resize: &image.Resize{Size: size, Scale: test.Scale}}
		if key := direct.Key(); key != expected {
			t.Errorf("%s: wrong key for a direct resize %s", test.Name, key)
		}

		width, height := direct.Resize.Pixels()
		if width != 100 || height != 50 {
			t.Errorf("%s: wrong pixels %dx%d", test.Name, width, height)
		}
	}
}
