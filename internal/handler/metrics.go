package handler

import (
	"expvar"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/felixge/httpsnoop"
)

var httpRequestsInFlight = expvar.NewInt("gauge_http_requests_in_flight")
var httpRequestDurationSeconds = &RequestHistogram{}

// Upper bounds of the duration buckets, thumbnails that miss every cache take the longest
var durationBuckets = []time.Duration{
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
}

func init() {
	expvar.Publish("http_request_duration_seconds", httpRequestDurationSeconds)
}

// Metrics is a handler that collects performance metrics
func Metrics(h http.Handler, routeMatcher RouteMatcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeMatcher.Match(r)

		httpRequestsInFlight.Add(1)
		defer httpRequestsInFlight.Add(-1)

		respMetrics := httpsnoop.CaptureMetricsFn(w, func(ww http.ResponseWriter) {
			h.ServeHTTP(ww, r)
		})

		httpRequestDurationSeconds.Add(route, respMetrics.Code, respMetrics.Duration)
	})
}

type bucket struct {
	m             expvar.Map
	count         expvar.Int
	totalDuration expvar.Float
}

// RequestHistogram is a histogram of request durations by route and status code, written in the prometheus format
type RequestHistogram struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// Add records the duration of a request
func (r *RequestHistogram) Add(path string, code int, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buckets == nil {
		r.buckets = make(map[string]*bucket)
	}

	key := fmt.Sprintf("%d;%s", code, path)

	b, exists := r.buckets[key]
	if !exists {
		b = &bucket{}
		r.buckets[key] = b
	}

	b.count.Add(1)
	b.totalDuration.Add(duration.Seconds())

	for _, upperBound := range durationBuckets {
		if duration <= upperBound {
			b.m.Add(strconv.FormatFloat(upperBound.Seconds(), 'f', -1, 64), 1)
		}
	}

	b.m.Add("+Inf", 1)
}

// WritePrometheus is called by tsweb.VarzHandler
func (r *RequestHistogram) WritePrometheus(w io.Writer, prefix string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fmt.Fprintf(w, "# TYPE %s histogram\n", prefix)

	for key, b := range r.buckets {
		if code, path, ok := strings.Cut(key, ";"); ok {
			b.m.Do(func(kv expvar.KeyValue) {
				fmt.Fprintf(w, "%s_bucket{path=%q,code=%q,le=%q} %v\n", prefix, path, code, kv.Key, kv.Value)
			})

			fmt.Fprintf(w, "%s_count{path=%q,code=%q} %v\n", prefix, path, code, b.count.String())
			fmt.Fprintf(w, "%s_sum{path=%q,code=%q} %v\n", prefix, path, code, b.totalDuration.String())
		}
	}
}

func (r *RequestHistogram) String() string {
	return ""
}
