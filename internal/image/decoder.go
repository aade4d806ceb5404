package image

import (
	"context"
	"errors"
	"image"
)

// Decoder decodes an encoded image and downsamples it to the requested size
type Decoder interface {
	Decode(ctx context.Context, data []byte, resize *Resize) (image.Image, error)
}

// DecoderFunc is an adapter to allow the use of ordinary functions as a Decoder
type DecoderFunc func(ctx context.Context, data []byte, resize *Resize) (image.Image, error)

// Decode calls f(ctx, data, resize)
func (f DecoderFunc) Decode(ctx context.Context, data []byte, resize *Resize) (image.Image, error) {
	return f(ctx, data, resize)
}

// Errors
var (
	ErrEmptyBuffer = errors.New("empty buffer")
)
