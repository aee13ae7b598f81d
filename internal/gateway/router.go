// ABOUTME: Router maps the {name} segment of a callback URL to its integration
// ABOUTME: Each route pairs the integration's configuration with its message center

package gateway

import (
	"errors"
	"sort"

	"github.com/2389/wxcallback/internal/config"
	"github.com/2389/wxcallback/internal/messaging"
)

// ErrNoRoute means no integration is configured under the requested name
var ErrNoRoute = errors.New("no integration with that name")

// Route is one configured integration.
type Route struct {
	Integration config.IntegrationConfig
	Center      *messaging.Center
}

// Router resolves integration names to routes. It is built once in New and
// read-only afterwards.
type Router struct {
	routes map[string]*Route
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]*Route)}
}

// Add registers a route under its integration name, replacing any previous one.
func (r *Router) Add(route *Route) {
	r.routes[route.Integration.Name] = route
}

// Route returns the route for name, or ErrNoRoute.
func (r *Router) Route(name string) (*Route, error) {
	route, ok := r.routes[name]
	if !ok {
		return nil, ErrNoRoute
	}
	return route, nil
}

// Names returns the configured integration names in sorted order.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// closeAll closes every center and returns the errors encountered.
func (r *Router) closeAll() []error {
	var errs []error
	for _, name := range r.Names() {
		errs = appendCloseError(errs, "center "+name, r.routes[name].Center.Close())
	}
	return errs
}
