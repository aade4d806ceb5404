package params

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// Errors
var (
	ErrInvalidSize  = fmt.Errorf("Invalid size")
	ErrInvalidScale = fmt.Errorf("Invalid scale")
)

// Bounds for the requested size, in pixels
const (
	MinSize  = 1
	MaxSize  = 5000
	MaxScale = 3
)

// Params contains all the parameters for a thumbnail request
type Params struct {
	Width  int
	Height int
	Scale  float64
	NoDisk bool
}

// GetParams parses and validates all the path and query parameters
func GetParams(r *http.Request) (*Params, error) {
	width, height, err := getSize(r)
	if err != nil {
		return nil, err
	}

	scale, err := getScale(r)
	if err != nil {
		return nil, err
	}

	_, noDisk := r.URL.Query()["nodisk"]

	p := &Params{
		Width:  width,
		Height: height,
		Scale:  scale,
		NoDisk: noDisk,
	}

	if err := p.validate(); err != nil {
		return nil, err
	}

	return p, nil
}

// QueryString returns the query string that reproduces the optional params, including the leading "?".
// Flags are written as "?nodisk" rather than "?nodisk=", and a scale of 1 is left out.
func (p *Params) QueryString() string {
	var parts []string
	if p.NoDisk {
		parts = append(parts, "nodisk")
	}
	if p.Scale != 1 && p.Scale != 0 {
		parts = append(parts, "scale="+strconv.FormatFloat(p.Scale, 'f', -1, 64))
	}

	if len(parts) == 0 {
		return ""
	}

	return "?" + strings.Join(parts, "&")
}

func (p *Params) validate() error {
	pixelWidth := float64(p.Width) * p.Scale
	pixelHeight := float64(p.Height) * p.Scale

	if p.Width < MinSize || p.Height < MinSize || pixelWidth > MaxSize || pixelHeight > MaxSize {
		return ErrInvalidSize
	}

	return nil
}

// getSize gets the thumbnail size from the width/height path params
func getSize(r *http.Request) (width int, height int, err error) {
	width, ok := intParam(r, "width")
	if !ok {
		return -1, -1, ErrInvalidSize
	}

	height, ok = intParam(r, "height")
	if !ok {
		return -1, -1, ErrInvalidSize
	}

	return
}

// intParam tries to get a param and convert it to an Integer
func intParam(r *http.Request, name string) (int, bool) {
	vars := mux.Vars(r)

	if val, ok := vars[name]; ok {
		val, err := strconv.Atoi(val)
		return val, err == nil
	}

	return -1, false
}

// getScale gets the optional scale query param, defaulting to 1
func getScale(r *http.Request) (float64, error) {
	val := r.URL.Query().Get("scale")
	if val == "" {
		return 1, nil
	}

	scale, err := strconv.ParseFloat(val, 64)
	if err != nil || scale < 1 || scale > MaxScale {
		return 0, ErrInvalidScale
	}

	return scale, nil
}
