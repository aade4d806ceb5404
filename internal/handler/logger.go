package handler

import (
	"fmt"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/photoclip/smoothie/internal/logger"
)

// StatusClientClosedRequest is logged when the client went away before a response was written
const StatusClientClosedRequest = 499

// Logger is a handler that logs requests using Zap
func Logger(log *logger.Logger, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respMetrics := httpsnoop.CaptureMetricsFn(w, func(ww http.ResponseWriter) {
			h.ServeHTTP(ww, r)
		})

		code := respMetrics.Code
		if r.Context().Err() != nil && respMetrics.Written == 0 {
			code = StatusClientClosedRequest
		}

		logFields := LogFields(r,
			"http-method", r.Method,
			"remote-addr", r.RemoteAddr,
			"user-agent", r.UserAgent(),
			"uri", r.URL.String(),
			"status-code", code,
			"bytes-written", respMetrics.Written,
			"elapsed", fmt.Sprintf("%.9fs", respMetrics.Duration.Seconds()),
		)

		switch {
		case code >= 500:
			log.Errorw("Request completed", logFields...)
		default:
			log.Debugw("Request completed", logFields...)
		}
	})
}

// LogFields logs the given keys and values for a request
func LogFields(r *http.Request, keysAndValues ...interface{}) []interface{} {
	id := GetReqID(r.Context())

	return append([]interface{}{"request-id", id}, keysAndValues...)
}
