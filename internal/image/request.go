package image

import (
	"context"
	"fmt"
	"math"
)

// Size is a size in points
type Size struct {
	Width  int
	Height int
}

// Resize describes the size an image should be downsampled to before it is cached
type Resize struct {
	Size  Size
	Scale float64
}

// Pixels returns the target size in pixels
func (r *Resize) Pixels() (width int, height int) {
	scale := normalizeScale(r.Scale)
	return int(float64(r.Size.Width) * scale), int(float64(r.Size.Height) * scale)
}

// ProduceFunc produces the encoded bytes of an image, from a file, a storage backend or similar
type ProduceFunc func(ctx context.Context) ([]byte, error)

// Request is a request for the pixels of an image
type Request struct {
	CacheKey          string
	Resize            *Resize
	IgnoreDiskCaching bool
	Produce           ProduceFunc
}

// NewRequest creates a new image request
func NewRequest(cacheKey string, produce ProduceFunc) *Request {
	return &Request{
		CacheKey: cacheKey,
		Produce:  produce,
	}
}

// Resized downsamples the image to the given size and scale.
// A scale that isn't a positive finite number is treated as 1.
func (r *Request) Resized(size Size, scale float64) *Request {
	r.Resize = &Resize{
		Size:  size,
		Scale: normalizeScale(scale),
	}
	return r
}

// WithoutDiskCaching bypasses the disk cache for both reads and writes
func (r *Request) WithoutDiskCaching() *Request {
	r.IgnoreDiskCaching = true
	return r
}

// Key returns the key used to deduplicate work for the request.
// Requests that only differ in their Produce function share the same key.
func (r *Request) Key() RequestKey {
	key := RequestKey{
		CacheKey: r.CacheKey,
	}

	if r.Resize != nil {
		key.Width = r.Resize.Size.Width
		key.Height = r.Resize.Size.Height
		key.Scale = normalizeScale(r.Resize.Scale)
	}

	return key
}

// normalizeScale keeps keys comparable, NaN never equals itself
func normalizeScale(scale float64) float64 {
	if math.IsNaN(scale) || math.IsInf(scale, 0) || scale <= 0 {
		return 1
	}

	return scale
}

// RequestKey identifies a unit of work
type RequestKey struct {
	CacheKey string
	Width    int
	Height   int
	Scale    float64
}

func (k RequestKey) String() string {
	if k.Width == 0 && k.Height == 0 {
		return k.CacheKey
	}

	return fmt.Sprintf("%s@%dx%d@%gx", k.CacheKey, k.Width, k.Height, k.Scale)
}
