package thumbnailapi

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"path"
	"strings"

	"github.com/gorilla/mux"
	"github.com/photoclip/smoothie/internal/handler"
	smoothieImage "github.com/photoclip/smoothie/internal/image"
	"github.com/photoclip/smoothie/internal/params"
	"github.com/photoclip/smoothie/internal/storage"
)

const keyHeader = "Smoothie-Key"

const jpegQuality = 85

type result struct {
	img image.Image
	err error
}

func (a *API) thumbnailHandler(w http.ResponseWriter, r *http.Request) *handler.Error {
	request, _, handlerErr := a.request(r)
	if handlerErr != nil {
		return handlerErr
	}

	results := make(chan result, 1)
	subscription := a.Pipeline.Request(request, func(img image.Image, err error) {
		results <- result{img, err}
	})

	var res result
	select {
	case res = <-results:
	case <-r.Context().Done():
		// The client went away, or the handler timed out
		subscription.Cancel()
		return nil
	}

	if res.err != nil {
		return a.loadError(r, res.err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, res.img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		a.logError(r, "error encoding thumbnail", err)
		return handler.InternalServerError()
	}

	key := request.Key()
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=\"%s\"", buildFilename(key)))
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=2592000") // Cache for a month
	w.Header().Set(keyHeader, key.String())

	w.Write(buf.Bytes())

	return nil
}

func (a *API) prefetchHandler(w http.ResponseWriter, r *http.Request) *handler.Error {
	request, p, handlerErr := a.request(r)
	if handlerErr != nil {
		return handlerErr
	}

	// Prefetches outlive the http request, until they finish or are released
	key := request.Key()
	a.Pipeline.Preload(request, func() {
		a.Log.Debugw("prefetch finished", "key", key.String())
	})

	w.Header().Set("Location", fmt.Sprintf("/thumbnail/%s/%d/%d%s", key.CacheKey, key.Width, key.Height, p.QueryString()))
	w.Header().Set(keyHeader, key.String())
	w.WriteHeader(http.StatusAccepted)

	return nil
}

func (a *API) releaseHandler(w http.ResponseWriter, r *http.Request) *handler.Error {
	request, _, handlerErr := a.request(r)
	if handlerErr != nil {
		return handlerErr
	}

	a.Pipeline.ReleasePrefetches(request.Key())
	w.WriteHeader(http.StatusNoContent)

	return nil
}

func (a *API) releaseAllHandler(w http.ResponseWriter, r *http.Request) *handler.Error {
	a.Pipeline.ReleaseAllPrefetches()
	w.WriteHeader(http.StatusNoContent)

	return nil
}

// request builds the pipeline request from the path and query parameters
func (a *API) request(r *http.Request) (*smoothieImage.Request, *params.Params, *handler.Error) {
	p, err := params.GetParams(r)
	if err != nil {
		return nil, nil, handler.BadRequest(err.Error())
	}

	id := mux.Vars(r)["id"]
	request := smoothieImage.NewRequest(id, storage.Producer(a.Storage, id)).
		Resized(smoothieImage.Size{Width: p.Width, Height: p.Height}, p.Scale)

	if p.NoDisk {
		request.WithoutDiskCaching()
	}

	return request, p, nil
}

func (a *API) loadError(r *http.Request, err error) *handler.Error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return handler.NotFound(storage.ErrNotFound.Error())
	case errors.Is(err, storage.ErrInvalidID):
		return handler.BadRequest(storage.ErrInvalidID.Error())
	default:
		a.logError(r, "error loading thumbnail", err)
		return handler.InternalServerError()
	}
}

func buildFilename(key smoothieImage.RequestKey) string {
	filename := fmt.Sprintf("%s-%dx%d", strings.TrimSuffix(path.Base(key.CacheKey), path.Ext(key.CacheKey)), key.Width, key.Height)

	if key.Scale != 1 {
		filename += fmt.Sprintf("@%gx", key.Scale)
	}

	return filename + ".jpg"
}
