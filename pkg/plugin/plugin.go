// Package plugin runs user-supplied lifecycle hooks and contributes their
// custom routes.
package plugin

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"sync"

	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/joeydtaylor/steeze-offline/pkg/registry"
	"go.uber.org/zap"
)

// BuildResult describes a completed (re)build of the handler set.
type BuildResult struct {
	Functions []string
	Changed   []string
}

// Route is a custom route contributed by a plugin. Empty Methods means any
// method. Exactly one of Path or Pattern should be set.
type Route struct {
	Methods []string
	Path    string
	Pattern *regexp.Regexp
	Handler func(pc *Context, w http.ResponseWriter, r *http.Request)
}

// InprocHandler serves manifest routes of type "inproc". 'in' is the raw
// request body; a zero status means 200.
type InprocHandler func(ctx context.Context, in []byte) (out []byte, status int, err error)

type Plugin struct {
	Name string

	OnInit        func(ctx context.Context, pc *Context) error
	OnReady       func(ctx context.Context, pc *Context, port int, ip string) error
	BuildCallback func(ctx context.Context, pc *Context, result BuildResult, isRebuild bool) error
	OnKill        func(ctx context.Context, pc *Context) error

	Routes []Route
	Inproc map[string]InprocHandler
}

// Context is shared by every hook and route of every plugin.
type Context struct {
	Registry *registry.Registry
	Logger   *zap.Logger
	Config   manifest.Config
	// Shutdown asks the running daemon to stop. Nil until the server wires it.
	Shutdown func() error

	mu           sync.Mutex
	data         map[string]any
	initializing bool
	added        []manifest.Function
	functions    map[string]*Function
}

func NewContext(reg *registry.Registry, cfg manifest.Config, log *zap.Logger) *Context {
	if log == nil {
		log = zap.NewNop()
	}
	return &Context{Registry: reg, Config: cfg, Logger: log, data: map[string]any{}, functions: map[string]*Function{}}
}

// Set stores data visible to other plugins.
func (pc *Context) Set(key string, v any) {
	pc.mu.Lock()
	pc.data[key] = v
	pc.mu.Unlock()
}

func (pc *Context) Get(key string) (any, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	v, ok := pc.data[key]
	return v, ok
}

// AddFunction declares an extra function. Only effective from OnInit.
func (pc *Context) AddFunction(fn manifest.Function) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if !pc.initializing {
		pc.Logger.Warn("AddFunction called outside OnInit; ignored", zap.String("function", fn.Name))
		return
	}
	pc.added = append(pc.added, fn)
}

// AddedFunctions returns the functions declared through AddFunction.
func (pc *Context) AddedFunctions() []manifest.Function {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return append([]manifest.Function(nil), pc.added...)
}

// PluginSet holds the plugins in declaration order.
type PluginSet struct {
	plugins []Plugin
	pc      *Context
	log     *zap.Logger
}

// NewSet fixes up plugin names: an empty name becomes "plugin-<index>" and a
// duplicate gets its index appended.
func NewSet(plugins []Plugin, pc *Context) *PluginSet {
	s := &PluginSet{pc: pc, log: pc.Logger}
	seen := map[string]bool{}
	for i, p := range plugins {
		switch {
		case p.Name == "":
			p.Name = "plugin-" + strconv.Itoa(i)
			s.log.Warn("invalid plugin name", zap.Int("index", i), zap.String("name", p.Name))
		case seen[p.Name]:
			p.Name += strconv.Itoa(i)
		default:
			seen[p.Name] = true
		}
		s.plugins = append(s.plugins, p)
	}
	return s
}

func (s *PluginSet) Context() *Context { return s.pc }

func (s *PluginSet) Names() []string {
	out := make([]string, len(s.plugins))
	for i, p := range s.plugins {
		out[i] = p.Name
	}
	return out
}

// Routes returns every plugin route, in plugin order.
func (s *PluginSet) Routes() []Route {
	var out []Route
	for _, p := range s.plugins {
		out = append(out, p.Routes...)
	}
	return out
}

// Inproc collects the in-process handlers of every plugin. A later plugin
// cannot replace a name an earlier one registered.
func (s *PluginSet) Inproc() map[string]InprocHandler {
	out := map[string]InprocHandler{}
	for _, p := range s.plugins {
		for name, h := range p.Inproc {
			if _, ok := out[name]; ok {
				s.log.Warn("duplicate inproc handler ignored", zap.String("plugin", p.Name), zap.String("name", name))
				continue
			}
			out[name] = h
		}
	}
	return out
}

// run calls fn and converts a panic into an error.
func run(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (s *PluginSet) failed(hook string, p Plugin, err error) {
	s.log.Error("plugin hook failed", zap.String("plugin", p.Name), zap.String("hook", hook), zap.Error(err))
}

// Init runs OnInit hooks. AddFunction is only honored while they run.
func (s *PluginSet) Init(ctx context.Context) {
	s.pc.mu.Lock()
	s.pc.initializing = true
	s.pc.mu.Unlock()
	defer func() {
		s.pc.mu.Lock()
		s.pc.initializing = false
		s.pc.mu.Unlock()
	}()

	for _, p := range s.plugins {
		if p.OnInit == nil {
			continue
		}
		if err := run(func() error { return p.OnInit(ctx, s.pc) }); err != nil {
			s.failed("onInit", p, err)
		}
	}
	if names := s.pc.hooked(); len(names) > 0 {
		s.log.Debug("function hooks registered", zap.Strings("functions", names))
	}
}

// Ready runs OnReady hooks once the listener is bound.
func (s *PluginSet) Ready(ctx context.Context, port int, ip string) {
	for _, p := range s.plugins {
		if p.OnReady == nil {
			continue
		}
		if err := run(func() error { return p.OnReady(ctx, s.pc, port, ip) }); err != nil {
			s.failed("onReady", p, err)
		}
	}
}

// Build runs build callbacks. A failure during the initial build is returned
// and should abort startup; failures on rebuild are only logged.
func (s *PluginSet) Build(ctx context.Context, result BuildResult, isRebuild bool) error {
	for _, p := range s.plugins {
		if p.BuildCallback == nil {
			continue
		}
		err := run(func() error { return p.BuildCallback(ctx, s.pc, result, isRebuild) })
		if err == nil {
			continue
		}
		s.failed("buildCallback", p, err)
		if !isRebuild {
			return fmt.Errorf("plugin %s: build callback: %w", p.Name, err)
		}
	}
	return nil
}

// Kill runs OnKill hooks during shutdown.
func (s *PluginSet) Kill(ctx context.Context) {
	for _, p := range s.plugins {
		if p.OnKill == nil {
			continue
		}
		if err := run(func() error { return p.OnKill(ctx, s.pc) }); err != nil {
			s.failed("onKill", p, err)
		}
	}
}
