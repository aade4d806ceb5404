package handler

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// RouteMatcher labels a request with the route that serves it
type RouteMatcher interface {
	Match(r *http.Request) string
}

// MuxRouteMatcher labels requests with the routes of a mux router.
// Named routes use their name. Otherwise the label is the path template without its variable patterns,
// prefixed with the method for routes that are restricted to methods, as the prefetch routes share a path.
type MuxRouteMatcher struct {
	Router *mux.Router
}

// Match returns the label of the route matching the request, or "unknown"
func (m *MuxRouteMatcher) Match(r *http.Request) string {
	var routeMatch mux.RouteMatch
	// The Route can be nil even on a Match, if a NotFoundHandler is specified
	if !m.Router.Match(r, &routeMatch) || routeMatch.Route == nil {
		return "unknown"
	}

	route := routeMatch.Route
	if name := route.GetName(); name != "" {
		return name
	}

	tmpl, err := route.GetPathTemplate()
	if err != nil {
		return "unknown"
	}
	tmpl = stripPatterns(tmpl)

	if methods, err := route.GetMethods(); err == nil && len(methods) > 0 {
		return r.Method + " " + tmpl
	}

	return tmpl
}

// stripPatterns turns "/thumbnail/{id:.+}/{width:[0-9]+}" into "/thumbnail/{id}/{width}"
func stripPatterns(tmpl string) string {
	var b strings.Builder
	depth := 0
	skipping := false

	for _, c := range tmpl {
		switch {
		case c == '{':
			depth++
			if depth > 1 {
				continue
			}
		case c == '}':
			depth--
			if depth > 0 {
				continue
			}
			skipping = false
		case c == ':' && depth == 1:
			skipping = true
			continue
		}

		if !skipping {
			b.WriteRune(c)
		}
	}

	return b.String()
}
