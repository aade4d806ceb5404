package scaler

import (
	"bytes"
	"context"
	"expvar"
	"fmt"
	"image"
	"math"

	// Register the supported formats
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	smoothieImage "github.com/photoclip/smoothie/internal/image"
	"golang.org/x/image/draw"
)

var decodedImages = expvar.NewMap("counter_labelmap_dimensions_image_decoder_decoded_images")

// Decoder decodes images using the standard library and downsamples them using golang.org/x/image/draw
type Decoder struct {
	Interpolator draw.Interpolator
}

// New returns a new Decoder using Catmull-Rom resampling
func New() *Decoder {
	return &Decoder{
		Interpolator: draw.CatmullRom,
	}
}

// Decode decodes an image and downsamples it to fit within the requested size, preserving the aspect ratio.
// Images are never upscaled.
func (d *Decoder) Decode(ctx context.Context, data []byte, resize *smoothieImage.Resize) (image.Image, error) {
	if len(data) == 0 {
		return nil, smoothieImage.ErrEmptyBuffer
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("error decoding image: %w", err)
	}

	if resize == nil {
		decodedImages.Add("original", 1)
		return src, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	targetWidth, targetHeight := resize.Pixels()
	width, height := fit(src.Bounds().Dx(), src.Bounds().Dy(), targetWidth, targetHeight)

	defer decodedImages.Add(fmt.Sprintf("%0.f", math.Max(math.Round(float64(width)/500)*500, math.Round(float64(height)/500)*500)), 1)

	if width == src.Bounds().Dx() && height == src.Bounds().Dy() {
		return src, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	d.Interpolator.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	return dst, nil
}

// fit returns the largest size with the aspect ratio of width x height that fits within the target
func fit(width, height, targetWidth, targetHeight int) (int, int) {
	if width <= 0 || height <= 0 {
		return width, height
	}

	if targetWidth <= 0 {
		targetWidth = width
	}

	if targetHeight <= 0 {
		targetHeight = height
	}

	ratio := math.Min(float64(targetWidth)/float64(width), float64(targetHeight)/float64(height))
	if ratio >= 1 {
		return width, height
	}

	return max(1, int(math.Round(float64(width)*ratio))), max(1, int(math.Round(float64(height)*ratio)))
}
