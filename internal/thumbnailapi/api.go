package thumbnailapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/photoclip/smoothie/internal/handler"
	"github.com/photoclip/smoothie/internal/health"
	"github.com/photoclip/smoothie/internal/logger"
	"github.com/photoclip/smoothie/internal/pipeline"
	"github.com/photoclip/smoothie/internal/storage"
	"github.com/photoclip/smoothie/internal/tracing"
	"github.com/rs/cors"
)

// API is a http api serving thumbnails from a pipeline
type API struct {
	Pipeline       *pipeline.Pipeline
	Storage        storage.Provider
	HealthChecker  *health.Checker
	Log            *logger.Logger
	Tracer         *tracing.Tracer
	HandlerTimeout time.Duration
}

// Utility methods for logging
func (a *API) logError(r *http.Request, message string, err error) {
	a.Log.Errorw(message, handler.LogFields(r, "error", err)...)
}

// Router returns a http router
func (a *API) Router() http.Handler {
	router := mux.NewRouter()

	router.NotFoundHandler = handler.Handler(a.notFoundHandler)

	// Redirect trailing slashes
	router.StrictSlash(true)

	// Healthcheck
	router.Handle("/health", handler.Health(a.HealthChecker)).Methods("GET")

	// Thumbnails
	// Query parameters:
	// ?scale={scale} - Multiply the size by {scale}, between 1 and 3
	// ?nodisk - Don't read from or write to the disk cache
	router.Handle("/thumbnail/{id:.+}/{width:[0-9]+}/{height:[0-9]+}", handler.Handler(a.thumbnailHandler)).Methods("GET")

	// Prefetching
	router.Handle("/prefetch/{id:.+}/{width:[0-9]+}/{height:[0-9]+}", handler.Handler(a.prefetchHandler)).Methods("POST")
	router.Handle("/prefetch/{id:.+}/{width:[0-9]+}/{height:[0-9]+}", handler.Handler(a.releaseHandler)).Methods("DELETE")
	router.Handle("/prefetch", handler.Handler(a.releaseAllHandler)).Methods("DELETE")

	routeMatcher := &handler.MuxRouteMatcher{Router: router}

	corsHandler := cors.New(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		ExposedHeaders: []string{keyHeader, handler.RequestIDHeader},
	})

	// Set up handlers for adding a request id, handling panics, request logging, setting CORS headers, tracing, metrics, and handler execution timeout
	return handler.AddRequestID(
		handler.Recovery(a.Log,
			handler.Logger(a.Log,
				corsHandler.Handler(
					handler.Tracer(a.Tracer,
						handler.Metrics(
							http.TimeoutHandler(router, a.HandlerTimeout, "Something went wrong. Timed out."),
							routeMatcher,
						),
						routeMatcher,
					),
				),
			),
		),
	)
}

// Handle not found errors
var notFoundError = &handler.Error{
	Message: "page not found",
	Code:    http.StatusNotFound,
}

func (a *API) notFoundHandler(w http.ResponseWriter, r *http.Request) *handler.Error {
	return notFoundError
}
