package handler

import (
	"net/http"
	"runtime/debug"

	"github.com/photoclip/smoothie/internal/logger"
	"github.com/photoclip/smoothie/internal/tracing"
)

// Recovery is a handler for handling panics
func Recovery(log *logger.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			err := recover()
			if err == nil {
				return
			}

			// Let net/http abort the response
			if err == http.ErrAbortHandler {
				panic(err)
			}

			w.WriteHeader(http.StatusInternalServerError)

			ctx := r.Context()
			traceID, spanID := tracing.TraceInfo(ctx)
			log.Errorw("panic handling request",
				"request-id", GetReqID(ctx),
				"trace-id", traceID,
				"span-id", spanID,
				"panic", err,
				"stacktrace", string(debug.Stack()),
			)
		}()

		next.ServeHTTP(w, r)
	})
}
