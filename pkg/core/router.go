// core/router.go
package core

import (
	"net/http"
	"os"
	"path"
	"path/filepath"

	chimd "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Dispatcher is the default request handler consulted when no custom route
// matches. Dispatch returns false when it did not handle the request.
type Dispatcher interface {
	Dispatch(w http.ResponseWriter, r *http.Request) bool
}

// Router sends each request to the first matching custom route, then to the
// default dispatcher, then to static files, then to a 404 page.
type Router struct {
	routes     []CustomRoute
	dispatcher Dispatcher
	staticDir  string
	static     http.Handler
	log        *zap.Logger
}

func NewRouter(routes []CustomRoute, d Dispatcher, staticDir string, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	rt := &Router{routes: routes, dispatcher: d, log: log}
	if staticDir != "" {
		rt.staticDir = staticDir
		rt.static = http.FileServer(http.Dir(staticDir))
	}
	return rt
}

// Route returns the handler of the first custom route matching, or nil.
func (rt *Router) Route(method, path string) http.Handler {
	for _, c := range rt.routes {
		if c.Match(method, path) {
			return c.Handler
		}
	}
	return nil
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h := rt.Route(r.Method, r.URL.Path); h != nil {
		rt.serveCustom(h, w, r)
		return
	}
	if rt.dispatcher != nil && rt.dispatcher.Dispatch(w, r) {
		return
	}
	if rt.serveStatic(w, r) {
		return
	}
	NotFound(w)
}

func (rt *Router) serveCustom(h http.Handler, w http.ResponseWriter, r *http.Request) {
	ww, ok := w.(chimd.WrapResponseWriter)
	if !ok {
		ww = chimd.NewWrapResponseWriter(w, r.ProtoMajor)
	}
	defer func() {
		if rec := recover(); rec != nil {
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			rt.log.Error("custom route panicked", zap.String("path", r.URL.Path), zap.Any("panic", rec))
			// The status is left as written, or 200 when nothing was.
			_, _ = ww.Write([]byte("Internal Server Error"))
		}
	}()
	h.ServeHTTP(ww, r)
}

// serveStatic serves an existing file (or a directory holding index.html)
// below the static root.
func (rt *Router) serveStatic(w http.ResponseWriter, r *http.Request) bool {
	if rt.static == nil || (r.Method != http.MethodGet && r.Method != http.MethodHead) {
		return false
	}
	name := filepath.Join(rt.staticDir, filepath.FromSlash(path.Clean("/"+r.URL.Path)))
	fi, err := os.Stat(name)
	if err != nil {
		return false
	}
	if fi.IsDir() {
		if _, err := os.Stat(filepath.Join(name, "index.html")); err != nil {
			return false
		}
	}
	rt.static.ServeHTTP(w, r)
	return true
}

// NotFound writes the fixed HTML 404 page.
func NotFound(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write([]byte(html404))
}

const html404 = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>404 Not Found</title>
<style>body{font-family:system-ui,sans-serif;background:#111;color:#eee;display:flex;align-items:center;justify-content:center;height:100vh;margin:0}h1{font-weight:300}</style>
</head>
<body>
<div>
<h1>404 | Not Found</h1>
<p>No function, custom route or static file matches this request.</p>
</div>
</body>
</html>
`
