// Package httpx hides the HTTP router behind a small interface shared by the
// front end and the HTTP-event dispatcher.
package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Router is the routing contract the front end and gateway depend on.
type Router interface {
	// Handle registers h for one method.
	Handle(method, path string, h http.Handler)
	// Any registers h for every method.
	Any(path string, h http.Handler)
	Use(mw ...func(http.Handler) http.Handler)
	Mux() http.Handler
	// Match reports whether a route is registered for method and path
	// without serving anything.
	Match(method, path string) bool
}

type chiRouter struct{ r *chi.Mux }

// NewChi returns a Router backed by go-chi.
func NewChi() Router { return &chiRouter{r: chi.NewRouter()} }

func (c *chiRouter) Handle(method, path string, h http.Handler) { c.r.Method(method, path, h) }
func (c *chiRouter) Any(path string, h http.Handler)            { c.r.Handle(path, h) }
func (c *chiRouter) Use(mw ...func(http.Handler) http.Handler)  { c.r.Use(mw...) }
func (c *chiRouter) Mux() http.Handler                          { return c.r }

func (c *chiRouter) Match(method, path string) bool {
	return c.r.Match(chi.NewRouteContext(), method, path)
}
