package mock

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	smoothieImage "github.com/photoclip/smoothie/internal/image"
)

// Decoder is a mock decoder that returns a blank image of the requested size
type Decoder struct {
	// Block, if set, is waited on before decoding
	Block chan struct{}
	// Fail makes every decode fail
	Fail bool

	calls atomic.Int64
	mutex sync.Mutex
	sizes []smoothieImage.Size
}

// Decode returns a blank image instead of decoding data
func (d *Decoder) Decode(ctx context.Context, data []byte, resize *smoothieImage.Resize) (image.Image, error) {
	d.calls.Add(1)

	d.mutex.Lock()
	if resize != nil {
		d.sizes = append(d.sizes, resize.Size)
	} else {
		d.sizes = append(d.sizes, smoothieImage.Size{})
	}
	d.mutex.Unlock()

	if d.Block != nil {
		select {
		case <-d.Block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if d.Fail || len(data) == 0 {
		return nil, fmt.Errorf("decoding error")
	}

	width, height := 1, 1
	if resize != nil {
		width, height = resize.Pixels()
	}

	return image.NewRGBA(image.Rect(0, 0, width, height)), nil
}

// Calls returns the amount of times Decode has been called
func (d *Decoder) Calls() int {
	return int(d.calls.Load())
}

// Sizes returns the sizes Decode has been called with
func (d *Decoder) Sizes() []smoothieImage.Size {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]smoothieImage.Size(nil), d.sizes...)
}
