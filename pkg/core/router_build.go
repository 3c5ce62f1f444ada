package core

import (
	"net/http"
	"regexp"

	chimd "github.com/go-chi/chi/v5/middleware"
	"github.com/joeydtaylor/steeze-offline/pkg/invoke"
	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/joeydtaylor/steeze-offline/pkg/middleware/logger"
	hmetrics "github.com/joeydtaylor/steeze-offline/pkg/middleware/metrics"
	"github.com/joeydtaylor/steeze-offline/pkg/plugin"
	httpx "github.com/joeydtaylor/steeze-offline/pkg/transport/httpx"
	"go.uber.org/zap"
)

type BuildDeps struct {
	LogMW      *logger.Middleware
	Metrics    http.Handler
	Engine     *invoke.Engine
	Dispatcher Dispatcher
	Plugins    *plugin.PluginSet
	Inproc     *InprocRegistry
	Router     httpx.Router
	Logger     *zap.Logger
}

var invokePattern = regexp.MustCompile(invoke.PathPattern)

// CustomRoutes lists the custom routes in precedence order: the invocation
// API, the metrics endpoint, plugin routes, then manifest routes.
func CustomRoutes(cfg manifest.Config, d BuildDeps) []CustomRoute {
	var routes []CustomRoute
	if d.Engine != nil {
		routes = append(routes, CustomRoute{Name: "@invoke", Pattern: invokePattern, Handler: d.Engine})
	}
	if d.Metrics != nil && cfg.Server.MetricsPath != "" {
		routes = append(routes, CustomRoute{Name: "@metrics", Methods: []string{http.MethodGet}, Path: cfg.Server.MetricsPath, Handler: d.Metrics})
		hmetrics.AddMetricsSkipPaths(cfg.Server.MetricsPath)
	}

	inproc := d.Inproc
	if inproc == nil {
		inproc = NewInprocRegistry()
	}
	if d.Plugins != nil {
		pc := d.Plugins.Context()
		for _, pr := range d.Plugins.Routes() {
			routes = append(routes, CustomRoute{
				Methods: pr.Methods,
				Path:    pr.Path,
				Pattern: pr.Pattern,
				Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { pr.Handler(pc, w, r) }),
			})
		}
		for name, h := range d.Plugins.Inproc() {
			if _, ok := inproc.Lookup(name); !ok {
				inproc.Register(name, h)
			}
		}
	}

	for _, rt := range cfg.Routes {
		c := CustomRoute{Name: rt.Label(), Methods: rt.Methods, Path: rt.Path, Handler: wrapRoute(rt, d, inproc)}
		if rt.Pattern != "" {
			c.Pattern = regexp.MustCompile(rt.Pattern)
		}
		routes = append(routes, c)
	}
	return routes
}

// BuildRouter assembles the HTTP front end. Every request passes the
// recoverer, access log and metrics middleware before reaching the Router.
func BuildRouter(cfg manifest.Config, d BuildDeps) http.Handler {
	r := d.Router
	if r == nil {
		r = httpx.NewChi()
	}
	r.Use(chimd.Recoverer)
	if d.LogMW != nil {
		r.Use(d.LogMW.Middleware())
	}
	r.Use(hmetrics.Collect())

	routes := CustomRoutes(cfg, d)
	if d.Logger != nil {
		for _, c := range routes {
			d.Logger.Debug("custom route", zap.String("route", c.label()), zap.Strings("methods", c.Methods))
		}
	}
	r.Any("/*", NewRouter(routes, d.Dispatcher, cfg.Server.StaticPath, d.Logger))
	return r.Mux()
}
