// Package gateway is the default dispatcher: it exposes functions through the
// HTTP events declared in the manifest.
package gateway

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/joeydtaylor/steeze-offline/pkg/apikeys"
	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
	httpx "github.com/joeydtaylor/steeze-offline/pkg/transport/httpx"
	"go.uber.org/zap"
)

// Invoker runs a function with a JSON event. *invoke.Engine implements it.
type Invoker interface {
	InvokeEvent(ctx context.Context, name string, event []byte) (*runtime.Response, error)
}

// Gateway routes requests to functions by their HTTP events.
type Gateway struct {
	router httpx.Router
	inv    Invoker
	keys   *apikeys.Set
	log    *zap.Logger
	routes int
}

// endpoint is one HTTP event bound to its function.
type endpoint struct {
	function string
	method   string
	path     string
	event    manifest.HTTPEvent
}

// routeKey mirrors the "METHOD /path" form used in events. "ANY" stands for
// every method.
func (e endpoint) routeKey() string {
	m := e.method
	if m == "*" {
		m = manifest.MethodAny
	}
	return m + " " + e.path
}

func New(fns []manifest.Function, inv Invoker, keys *apikeys.Set, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	g := &Gateway{router: httpx.NewChi(), inv: inv, keys: keys, log: log}
	for _, fn := range fns {
		for _, ev := range fn.Events {
			if ev.HTTP == nil {
				continue
			}
			ep := endpoint{function: fn.Name, method: ev.HTTP.Method, path: ev.HTTP.Path, event: *ev.HTTP}
			g.add(ep)
		}
	}
	return g
}

func (g *Gateway) add(ep endpoint) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { g.serve(ep, w, r) })
	pattern := chiPattern(ep.path)
	if ep.method == "*" || ep.method == "" {
		g.router.Any(pattern, h)
	} else {
		g.router.Handle(ep.method, pattern, h)
	}
	g.routes++
	g.log.Debug("http event",
		zap.String("function", ep.function),
		zap.String("route", ep.routeKey()),
		zap.Bool("private", ep.event.Private),
		zap.String("authorizer", ep.event.Authorizer),
	)
}

// Len returns the number of HTTP events routed.
func (g *Gateway) Len() int { return g.routes }

// Dispatch serves r when an HTTP event matches it and reports whether it did.
func (g *Gateway) Dispatch(w http.ResponseWriter, r *http.Request) bool {
	if g.routes == 0 || !g.router.Match(r.Method, r.URL.Path) {
		return false
	}
	// Route on a fresh chi context rather than the front end's.
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, (*chi.Context)(nil))
	g.router.Mux().ServeHTTP(w, r.WithContext(ctx))
	return true
}

func (g *Gateway) serve(ep endpoint, w http.ResponseWriter, r *http.Request) {
	if ep.event.Private && !g.keys.Contains(r.Header.Get("x-api-key")) {
		writeMessage(w, http.StatusForbidden, "Forbidden")
		return
	}
	var claims *jwtAuthorizer
	if ep.event.Authorizer == "jwt" {
		c, err := bearerClaims(r.Header.Get("Authorization"))
		if err != nil {
			g.log.Debug("jwt authorizer rejected request", zap.String("route", ep.routeKey()), zap.Error(err))
			writeMessage(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		claims = c
	}

	event, err := buildEvent(ep, r, chi.RouteContext(r.Context()), claims)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := g.inv.InvokeEvent(r.Context(), ep.function, event)
	if err != nil {
		g.log.Warn("http event invocation failed", zap.String("function", ep.function), zap.Error(err))
		writeMessage(w, http.StatusBadGateway, "Internal Server Error")
		return
	}
	if err := writeResult(w, res); err != nil {
		g.log.Warn("invalid function result", zap.String("function", ep.function), zap.Error(err))
		writeMessage(w, http.StatusBadGateway, "Internal Server Error")
	}
}

// chiPattern turns {proxy+} style greedy parameters into chi's trailing
// wildcard.
func chiPattern(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "+}") {
			return strings.Join(segs[:i], "/") + "/*"
		}
	}
	return p
}
