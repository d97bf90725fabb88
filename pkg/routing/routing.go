// Package routing assembles the service's HTTP handlers into one mux.
package routing

import (
	"net/http"
	"path"
	"strings"
)

// RouteProvider is a handler serving a fixed set of mux patterns.
type RouteProvider interface {
	http.Handler
	GetRoutes() []string
}

// NormalizedServeMux is a ServeMux that collapses duplicate slashes before
// routing, so "//generate" reaches the /generate handler instead of a
// redirect.
type NormalizedServeMux struct {
	*http.ServeMux
}

func NewNormalizedServeMux() *NormalizedServeMux {
	return &NormalizedServeMux{http.NewServeMux()}
}

// Mount registers every route of each provider.
func (nm *NormalizedServeMux) Mount(providers ...RouteProvider) {
	for _, p := range providers {
		for _, route := range p.GetRoutes() {
			nm.Handle(route, p)
		}
	}
}

func (nm *NormalizedServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.URL.Path, "//") {
		r.URL.Path = path.Clean(r.URL.Path)
	}
	nm.ServeMux.ServeHTTP(w, r)
}
