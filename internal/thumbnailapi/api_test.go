package thumbnailapi_test

import (
	"bytes"
	"context"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/photoclip/smoothie/internal/health"
	smoothieImage "github.com/photoclip/smoothie/internal/image"
	"github.com/photoclip/smoothie/internal/logger"
	"github.com/photoclip/smoothie/internal/pipeline"
	"github.com/photoclip/smoothie/internal/thumbnailapi"
	"github.com/photoclip/smoothie/internal/tracing/test"
	"go.uber.org/zap"

	memoryCache "github.com/photoclip/smoothie/internal/cache/memory"
	mockDecoder "github.com/photoclip/smoothie/internal/image/mock"
	mockStorage "github.com/photoclip/smoothie/internal/storage/mock"
)

func setup(t *testing.T, decoder smoothieImage.Decoder) (http.Handler, *pipeline.Pipeline) {
	log := logger.New(zap.FatalLevel)
	tracer := test.Tracer(log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	storage := &mockStorage.Provider{}
	p := pipeline.New(ctx, pipeline.Config{
		Cache:   smoothieImage.NewCache(smoothieImage.CacheConfig{CostLimit: 64 << 20}),
		Disk:    memoryCache.New(),
		Decoder: decoder,
		Workers: 2,
		Log:     log,
		Tracer:  tracer,
	})

	checker := &health.Checker{Ctx: ctx, Storage: storage, ImageID: "1", Log: log}
	checker.Run()

	api := &thumbnailapi.API{
		Pipeline:       p,
		Storage:        storage,
		HealthChecker:  checker,
		Log:            log,
		Tracer:         tracer,
		HandlerTimeout: time.Minute,
	}

	return api.Router(), p
}

func TestAPI(t *testing.T) {
	router, _ := setup(t, &mockDecoder.Decoder{})
	failingRouter, _ := setup(t, &mockDecoder.Decoder{Fail: true})

	noCache := map[string]string{"Content-Type": "text/plain; charset=utf-8", "Cache-Control": "no-cache, no-store, must-revalidate"}

	tests := []struct {
		Name             string
		Method           string
		URL              string
		Router           http.Handler
		ExpectedStatus   int
		ExpectedResponse []byte
		ExpectedHeaders  map[string]string
	}{
		// Errors
		{"404", "GET", "/asdf", router, http.StatusNotFound, []byte("page not found\n"), noCache},
		{"invalid size", "GET", "/thumbnail/1/0/100", router, http.StatusBadRequest, []byte("Invalid size\n"), noCache},
		{"invalid scale", "GET", "/thumbnail/1/100/100?scale=10", router, http.StatusBadRequest, []byte("Invalid scale\n"), noCache},
		{"missing image", "GET", "/thumbnail/notfound/100/100", router, http.StatusNotFound, []byte("Image does not exist\n"), noCache},
		{"decode error", "GET", "/thumbnail/1/100/100", failingRouter, http.StatusInternalServerError, []byte("Something went wrong\n"), noCache},
		{"invalid prefetch", "POST", "/prefetch/1/100/0", router, http.StatusBadRequest, []byte("Invalid size\n"), noCache},

		// Prefetching
		{"prefetch", "POST", "/prefetch/2/50/50?scale=2", router, http.StatusAccepted, []byte{}, map[string]string{"Location": "/thumbnail/2/50/50?scale=2", "Smoothie-Key": "2@50x50@2x"}},
		{"release", "DELETE", "/prefetch/2/50/50?scale=2", router, http.StatusNoContent, []byte{}, nil},
		{"release all", "DELETE", "/prefetch", router, http.StatusNoContent, []byte{}, nil},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(test.Method, test.URL, nil)
			test.Router.ServeHTTP(w, req)

			if w.Code != test.ExpectedStatus {
				t.Errorf("wrong response code, %#v", w.Code)
			}

			if !bytes.Equal(w.Body.Bytes(), test.ExpectedResponse) {
				t.Errorf("wrong response %#v", w.Body.String())
			}

			for header, expected := range test.ExpectedHeaders {
				if value := w.Header().Get(header); value != expected {
					t.Errorf("wrong header %s: %#v", header, value)
				}
			}
		})
	}
}

func TestThumbnail(t *testing.T) {
	router, p := setup(t, &mockDecoder.Decoder{})

	tests := []struct {
		URL            string
		ExpectedWidth  int
		ExpectedHeight int
		ExpectedName   string
	}{
		{"/thumbnail/1/100/200", 100, 200, `inline; filename="1-100x200.jpg"`},
		{"/thumbnail/1/100/200?scale=2", 200, 400, `inline; filename="1-100x200@2x.jpg"`},
		{"/thumbnail/dir/photo.png/30/30?nodisk", 30, 30, `inline; filename="photo-30x30.jpg"`},
	}

	for _, test := range tests {
		t.Run(test.URL, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", test.URL, nil))

			if w.Code != http.StatusOK {
				t.Fatalf("wrong response code %d: %s", w.Code, w.Body.String())
			}

			if contentType := w.Header().Get("Content-Type"); contentType != "image/jpeg" {
				t.Errorf("wrong content type %s", contentType)
			}

			if disposition := w.Header().Get("Content-Disposition"); disposition != test.ExpectedName {
				t.Errorf("wrong content disposition %s", disposition)
			}

			img, err := jpeg.Decode(w.Body)
			if err != nil {
				t.Fatal(err)
			}

			if img.Bounds().Dx() != test.ExpectedWidth || img.Bounds().Dy() != test.ExpectedHeight {
				t.Errorf("wrong size %v", img.Bounds())
			}
		})
	}

	key := smoothieImage.NewRequest("1", nil).Resized(smoothieImage.Size{Width: 100, Height: 200}, 2).Key()
	if _, ok := p.MemoryCache().Get(key); !ok {
		t.Error("thumbnail not cached")
	}
}

func TestPrefetch(t *testing.T) {
	router, p := setup(t, &mockDecoder.Decoder{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/prefetch/1/10/10", nil))
	if w.Code != http.StatusAccepted {
		t.Fatalf("wrong response code %d", w.Code)
	}

	key := smoothieImage.NewRequest("1", nil).Resized(smoothieImage.Size{Width: 10, Height: 10}, 1).Key()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := p.MemoryCache().Get(key); ok {
			break
		}

		if time.Now().After(deadline) {
			t.Fatal("prefetched thumbnail was never cached")
		}

		time.Sleep(10 * time.Millisecond)
	}
}

func TestCORS(t *testing.T) {
	router, _ := setup(t, &mockDecoder.Decoder{})

	req := httptest.NewRequest("OPTIONS", "/prefetch", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "DELETE")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if origin := w.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("wrong allowed origin %#v", origin)
	}

	if methods := w.Header().Get("Access-Control-Allow-Methods"); methods != "DELETE" {
		t.Errorf("wrong allowed methods %#v", methods)
	}
}

func TestHealth(t *testing.T) {
	router, _ := setup(t, &mockDecoder.Decoder{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("wrong response code %d", w.Code)
	}

	if body := w.Body.String(); body != "{\"healthy\":true,\"storage\":\"healthy\"}\n" {
		t.Errorf("wrong response %s", body)
	}
}
