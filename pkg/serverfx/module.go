package serverfx

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joeydtaylor/steeze-offline/pkg/apikeys"
	"github.com/joeydtaylor/steeze-offline/pkg/bundlefx"
	"github.com/joeydtaylor/steeze-offline/pkg/core"
	"github.com/joeydtaylor/steeze-offline/pkg/gateway"
	"github.com/joeydtaylor/steeze-offline/pkg/invoke"
	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/joeydtaylor/steeze-offline/pkg/middleware/logger"
	"github.com/joeydtaylor/steeze-offline/pkg/plugin"
	"github.com/joeydtaylor/steeze-offline/pkg/registry"
	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
	"github.com/joeydtaylor/steeze-offline/pkg/server"
	"github.com/joeydtaylor/steeze-offline/pkg/transport/httpx"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Options carry the command-line overrides applied on top of the manifest.
type Options struct {
	Service      string // for logs only
	ManifestPath string // e.g. "manifest.toml"
	Port         string // overrides server.port when set
	StaticPath   string // overrides server.static_path when set
	Debug        bool
	Debugger     bool // disables invocation timeouts
}

// Functions is the full function set: manifest functions plus the ones
// plugins added during OnInit.
type Functions []manifest.Function

// ---- Manifest ----

func provideManifest(o Options) (manifest.Config, error) {
	cfg, err := core.LoadConfig(o.ManifestPath)
	if err != nil {
		return manifest.Config{}, err
	}
	if o.StaticPath != "" {
		cfg.Server.StaticPath = o.StaticPath
	}
	if o.Debug {
		cfg.Server.Debug = true
	}
	logger.SetDebug(cfg.Server.Debug)
	logger.LogBodiesUnder("/2015-03-31/functions/", "/@invoke/")
	return cfg, nil
}

// ---- Plugins ----

type pluginDeps struct {
	fx.In
	Plugins    []plugin.Plugin `group:"plugins"`
	Registry   *registry.Registry
	Config     manifest.Config
	Log        *zap.Logger
	Shutdowner fx.Shutdowner
}

// providePlugins runs OnInit hooks right away so functions they add, and
// environment they set, are known before handlers load.
func providePlugins(d pluginDeps) (*plugin.PluginSet, Functions) {
	pc := plugin.NewContext(d.Registry, d.Config, d.Log)
	pc.Shutdown = func() error { return d.Shutdowner.Shutdown() }
	set := plugin.NewSet(d.Plugins, pc)
	set.Init(context.Background())
	fns := append(append([]manifest.Function(nil), d.Config.Functions...), pc.AddedFunctions()...)
	return set, pc.ApplyEnv(fns)
}

// provideEngine routes every dispatch through the plugins' function hooks.
func provideEngine(reg *registry.Registry, plugins *plugin.PluginSet, log *zap.Logger) *invoke.Engine {
	e := invoke.NewEngine(reg, log)
	e.Observe(plugins)
	return e
}

func provideAPIKeys(cfg manifest.Config, log *zap.Logger) *apikeys.Set {
	keys, generated := apikeys.Build(cfg.APIKeys)
	apikeys.Log(log, generated)
	return keys
}

// ---- Router ----

type routerDeps struct {
	fx.In

	Config  manifest.Config
	LogMW   *logger.Middleware
	Metrics http.Handler `name:"metrics"`
	Engine  *invoke.Engine
	Gateway *gateway.Gateway
	Plugins *plugin.PluginSet
	R       httpx.Router
	Log     *zap.Logger
}

func provideGateway(fns Functions, e *invoke.Engine, keys *apikeys.Set, log *zap.Logger) *gateway.Gateway {
	return gateway.New(fns, e, keys, log)
}

func provideRouter(d routerDeps) http.Handler {
	return core.BuildRouter(d.Config, core.BuildDeps{
		LogMW:      d.LogMW,
		Metrics:    d.Metrics,
		Engine:     d.Engine,
		Dispatcher: d.Gateway,
		Plugins:    d.Plugins,
		Router:     d.R,
		Logger:     d.Log,
	})
}

// ---- Daemon ----

type daemonDeps struct {
	fx.In

	Opts         Options
	Config       manifest.Config
	App          http.Handler `name:"app"`
	Registry     *registry.Registry
	Plugins      *plugin.PluginSet
	EventSources server.EventSourceInitializer `optional:"true"`
	Log          *zap.Logger
}

func provideDaemon(d daemonDeps) *server.Daemon {
	return server.New(server.Options{
		Host:           d.Config.Server.Host,
		MaxHeaderBytes: d.Config.Server.MaxHeaderBytes,
		Handler:        d.App,
		Registry:       d.Registry,
		Plugins:        d.Plugins,
		EventSources:   d.EventSources,
		Runtime: runtime.Options{
			Logger:           d.Log,
			DebuggerAttached: runtime.DetectDebugger(d.Opts.Debugger),
			BaseDir:          filepath.Dir(d.Opts.ManifestPath),
		},
		Parent: server.ParentFromEnv(),
		Logger: d.Log,
		Exit: func(code int) {
			_ = d.Log.Sync()
			os.Exit(code)
		},
	})
}

// ---- Lifecycle ----

type hookDeps struct {
	fx.In

	Opts      Options
	Config    manifest.Config
	Functions Functions
	Daemon    *server.Daemon
	Engine    *invoke.Engine
	Gateway   *gateway.Gateway
	Keys      *apikeys.Set
	Plugins   *plugin.PluginSet
	Logger    *zap.Logger
}

func registerHooks(lc fx.Lifecycle, d hookDeps) {
	port := d.Opts.Port
	if port == "" {
		port = strconv.Itoa(d.Config.Server.Port)
	}
	// runCtx outlives OnStart: plugin OnReady work, event-source pollers
	// and the file watcher all run until OnStop.
	runCtx, runCancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := d.Daemon.Load(d.Functions); err != nil {
				return err
			}
			if err := d.Daemon.InitialBuild(ctx); err != nil {
				return err
			}
			err := d.Daemon.Listen(runCtx, port, func(port int, ip string) {
				d.Logger.Info("server ready",
					zap.String("service", d.Opts.Service),
					zap.Int("port", port),
					zap.String("ip", ip),
					zap.Int("functions", len(d.Functions)),
					zap.Int("httpEvents", d.Gateway.Len()),
					zap.Int("apiKeys", d.Keys.Len()),
					zap.Strings("plugins", d.Plugins.Names()),
				)
			})
			var be *server.BindError
			if errors.As(err, &be) && !be.AddrInUse() {
				// Left unbound; the error is already logged.
				err = nil
			}
			if err != nil {
				return err
			}
			return d.Daemon.Watch(runCtx)
		},
		OnStop: func(ctx context.Context) error {
			d.Logger.Info("server stopping", zap.String("service", d.Opts.Service))
			runCancel()
			if err := d.Daemon.Stop(ctx, nil); err != nil && !errors.Is(err, server.ErrNotListening) {
				d.Logger.Warn("listener shutdown incomplete", zap.Error(err))
			}
			if err := d.Engine.Wait(ctx); err != nil {
				d.Logger.Warn("detached invocations still running", zap.Error(err))
			}
			d.Plugins.Kill(ctx)
			return d.Daemon.Close(ctx)
		},
	})
}

// ---- Public Fx module ----

func Module(opts Options) fx.Option {
	return fx.Options(
		fx.Supply(opts),

		bundlefx.Module,

		fx.Provide(httpx.NewChi),
		fx.Provide(provideManifest),
		fx.Provide(registry.New),
		fx.Provide(provideAPIKeys),
		fx.Provide(providePlugins),
		fx.Provide(provideEngine),
		fx.Provide(provideGateway),
		fx.Provide(
			fx.Annotate(
				provideRouter,
				fx.ResultTags(`name:"app"`),
			),
		),
		fx.Provide(provideDaemon),

		fx.Invoke(registerHooks),
	)
}

// WithPlugins contributes plugins to the server.
func WithPlugins(ps ...plugin.Plugin) fx.Option {
	opts := make([]fx.Option, 0, len(ps))
	for _, p := range ps {
		opts = append(opts, fx.Provide(fx.Annotate(
			func() plugin.Plugin { return p },
			fx.ResultTags(`group:"plugins"`),
		)))
	}
	return fx.Options(opts...)
}

// WithEventSources installs the initializer run once the daemon listens.
func WithEventSources(init server.EventSourceInitializer) fx.Option {
	return fx.Provide(func() server.EventSourceInitializer { return init })
}
