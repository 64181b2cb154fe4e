package obs

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// routeLabel returns the chi pattern that matched r, or fallback when the
// request never reached a route. chi fills the pattern while routing, so
// middleware must call this after next has returned.
func routeLabel(r *http.Request, fallback string) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return fallback
}
