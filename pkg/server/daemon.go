// Package server owns the listening socket and the daemon lifecycle: load
// handlers, listen, announce readiness, rebuild and stop.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/joeydtaylor/steeze-offline/pkg/plugin"
	"github.com/joeydtaylor/steeze-offline/pkg/registry"
	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
	"go.uber.org/zap"
)

// EventSourceInitializer starts passive event-source polling once the
// daemon listens.
type EventSourceInitializer func(ctx context.Context) error

var ErrNotListening = errors.New("server: not listening")

type Options struct {
	Host           string
	MaxHeaderBytes int
	Handler        http.Handler
	Registry       *registry.Registry
	Plugins        *plugin.PluginSet
	EventSources   EventSourceInitializer
	Runtime        runtime.Options
	Parent         *Parent
	Logger         *zap.Logger
	// Exit terminates the process; os.Exit when nil.
	Exit func(code int)
}

// Daemon is the HTTP listener plus the set of loaded handlers.
type Daemon struct {
	opts  Options
	log   *zap.Logger
	exit  func(int)
	conns *connSet

	mu       sync.Mutex
	srv      *http.Server
	served   chan struct{}
	port     int
	ip       string
	watchers []*runtime.Watcher
}

func New(opts Options) *Daemon {
	d := &Daemon{opts: opts, log: opts.Logger, exit: opts.Exit, conns: newConnSet()}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	if d.exit == nil {
		d.exit = os.Exit
	}
	if d.opts.MaxHeaderBytes <= 0 {
		d.opts.MaxHeaderBytes = manifest.DefaultMaxHeaderBytes
	}
	if d.opts.Registry == nil {
		d.opts.Registry = registry.New()
	}
	if d.opts.Runtime.Logger == nil {
		d.opts.Runtime.Logger = d.log
	}
	return d
}

// Load builds a handler per function, assigns its runner and registers it.
// The first registration failure aborts loading.
func (d *Daemon) Load(fns []manifest.Function) error {
	for _, fn := range fns {
		h := registry.NewHandler(fn)
		r := runtime.Assign(fn, d.opts.Runtime)
		if _, ok := r.(*runtime.Unsupported); ok {
			d.log.Warn("unsupported runtime; invocations will fail",
				zap.String("function", fn.Name), zap.String("runtime", fn.Runtime))
		}
		h.SetRunner(r)
		if err := d.opts.Registry.Register(h); err != nil {
			_ = r.Stop(context.Background())
			return err
		}
		d.log.Debug("function loaded",
			zap.String("function", fn.Name),
			zap.String("runtime", fn.Runtime),
			zap.Duration("timeout", h.Timeout),
		)
	}
	return nil
}

// Registry returns the handler registry the daemon loads into.
func (d *Daemon) Registry() *registry.Registry { return d.opts.Registry }

// Listen binds port and starts serving. An invalid port fails before any
// socket is opened. Address-in-use calls the exit function with status 1;
// any other bind error is logged and returned, and the daemon stays unbound.
// ctx is handed to OnReady hooks and the event-source initializer, so it
// should live as long as the daemon rather than the startup call.
func (d *Daemon) Listen(ctx context.Context, port string, onListening func(port int, ip string)) error {
	p, err := ParsePort(port)
	if err != nil {
		return err
	}
	addr := net.JoinHostPort(d.opts.Host, strconv.Itoa(p))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		be := &BindError{Addr: addr, Err: err}
		if be.AddrInUse() {
			d.log.Error("port already in use; is another emulator running?", zap.String("addr", addr), zap.Error(err))
			d.exit(1)
			return be
		}
		d.log.Error("listen failed", zap.String("addr", addr), zap.Error(err))
		return be
	}

	srv := &http.Server{
		Handler:        d.opts.Handler,
		MaxHeaderBytes: d.opts.MaxHeaderBytes,
		ConnState:      d.conns.track,
		ErrorLog:       zap.NewStdLog(d.log),
	}
	served := make(chan struct{})
	tcp := ln.Addr().(*net.TCPAddr)

	d.mu.Lock()
	d.srv = srv
	d.served = served
	d.port = tcp.Port
	d.ip = LocalIPv4()
	d.mu.Unlock()

	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("server failed", zap.Error(err))
		}
	}()

	d.log.Info("listening", zap.String("addr", ln.Addr().String()), zap.String("ip", d.IP()))
	if onListening != nil {
		onListening(d.Port(), d.IP())
	}
	if d.opts.Plugins != nil {
		d.opts.Plugins.Ready(ctx, d.Port(), d.IP())
	}
	if d.opts.EventSources != nil {
		if err := d.opts.EventSources(ctx); err != nil {
			d.log.Error("event source mapping failed", zap.Error(err))
		}
	}
	if err := d.opts.Parent.Send(readyMessage{Port: d.Port(), IP: d.IP()}); err != nil {
		d.log.Warn("parent notification failed", zap.Error(err))
	}
	return nil
}

// Port returns the bound port, 0 before Listen.
func (d *Daemon) Port() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port
}

// IP returns the local IPv4 address resolved at Listen.
func (d *Daemon) IP() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ip
}

// Connections returns the number of tracked client sockets.
func (d *Daemon) Connections() int { return d.conns.len() }

// Stop closes the listener and waits for in-flight requests and tracked
// sockets to finish; open sockets are not killed. cb runs once drained.
func (d *Daemon) Stop(ctx context.Context, cb func()) error {
	d.mu.Lock()
	srv, served := d.srv, d.served
	d.srv = nil
	d.mu.Unlock()
	if srv == nil {
		return ErrNotListening
	}
	if err := srv.Shutdown(ctx); err != nil {
		return err
	}
	select {
	case <-served:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-d.conns.drained():
	case <-ctx.Done():
		return ctx.Err()
	}
	d.log.Info("server stopped")
	if cb != nil {
		cb()
	}
	return nil
}

// EmitRebuild runs plugin build callbacks as a rebuild and notifies the
// parent process.
func (d *Daemon) EmitRebuild(ctx context.Context, changed []string) {
	result := plugin.BuildResult{Functions: d.functionNames(), Changed: changed}
	if d.opts.Plugins != nil {
		_ = d.opts.Plugins.Build(ctx, result, true)
	}
	d.log.Info("rebuilt", zap.Strings("changed", changed))
	if err := d.opts.Parent.Send(rebuildMessage{Rebuild: true}); err != nil {
		d.log.Warn("parent notification failed", zap.Error(err))
	}
}

// InitialBuild runs plugin build callbacks for the first build. A failing
// callback aborts startup.
func (d *Daemon) InitialBuild(ctx context.Context) error {
	if d.opts.Plugins == nil {
		return nil
	}
	return d.opts.Plugins.Build(ctx, plugin.BuildResult{Functions: d.functionNames()}, false)
}

func (d *Daemon) functionNames() []string {
	hs := d.opts.Registry.Handlers()
	out := make([]string, len(hs))
	for i, h := range hs {
		out[i] = h.Name
	}
	return out
}

// Watch starts a watcher for every function declaring watch paths. A change
// rebuilds that function's runner and then emits a rebuild.
func (d *Daemon) Watch(ctx context.Context) error {
	for _, h := range d.opts.Registry.Handlers() {
		paths := d.watchPaths(h.Function)
		if len(paths) == 0 {
			continue
		}
		w, err := runtime.NewWatcher(paths, runtime.DefaultDebounce, d.log, func(ctx context.Context, changed []string) {
			if r := h.Runner(); r != nil {
				if err := r.Rebuild(ctx); err != nil {
					d.log.Warn("rebuild failed", zap.String("function", h.Name), zap.Error(err))
				}
			}
			d.EmitRebuild(ctx, changed)
		})
		if err != nil {
			return err
		}
		d.mu.Lock()
		d.watchers = append(d.watchers, w)
		d.mu.Unlock()
		go w.Run(ctx)
		d.log.Debug("watching", zap.String("function", h.Name), zap.Strings("paths", paths))
	}
	return nil
}

func (d *Daemon) watchPaths(fn manifest.Function) []string {
	out := make([]string, 0, len(fn.Watch))
	for _, p := range fn.Watch {
		if !filepath.IsAbs(p) && d.opts.Runtime.BaseDir != "" {
			p = filepath.Join(d.opts.Runtime.BaseDir, p)
		}
		out = append(out, p)
	}
	return out
}

// Close stops watchers and every runner.
func (d *Daemon) Close(ctx context.Context) error {
	d.mu.Lock()
	ws := d.watchers
	d.watchers = nil
	d.mu.Unlock()
	for _, w := range ws {
		_ = w.Close()
	}
	return d.opts.Registry.Stop(ctx)
}
