package runtime

import (
	"context"
	"os"
	"strings"

	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"go.uber.org/zap"
)

// Options apply to every runner created by Assign.
type Options struct {
	Logger *zap.Logger
	// DebuggerAttached disables invocation timeouts for every runner.
	DebuggerAttached bool
	// BaseDir resolves relative function directories.
	BaseDir string
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// Assign picks the worker variant for fn from the prefix of its runtime
// identifier. Unknown runtimes get a runner whose invocations fail fast.
func Assign(fn manifest.Function, opts Options) Runner {
	rt := strings.ToLower(fn.Runtime)
	switch {
	case strings.HasPrefix(rt, "nodejs"):
		return newProcessRunner(fn, opts, nodeLauncher)
	case strings.HasPrefix(rt, "python"):
		return newProcessRunner(fn, opts, pythonLauncher)
	case strings.HasPrefix(rt, "ruby"):
		return newProcessRunner(fn, opts, rubyLauncher)
	case strings.HasPrefix(rt, "wasm"):
		return newWasmRunner(fn, opts)
	default:
		return &Unsupported{Runtime: fn.Runtime}
	}
}

// DetectDebugger reports whether a debugger is attached to worker processes:
// --inspect in NODE_OPTIONS, debugpy on PYTHONPATH, or an explicit flag.
func DetectDebugger(flag bool) bool {
	if flag {
		return true
	}
	if strings.Contains(os.Getenv("NODE_OPTIONS"), "--inspect") {
		return true
	}
	return strings.Contains(os.Getenv("PYTHONPATH"), "debugpy")
}

// Unsupported is assigned to handlers whose runtime has no worker.
type Unsupported struct {
	Runtime string
}

func (u *Unsupported) Invoke(context.Context, Invocation) (*Response, error) {
	return nil, &UnsupportedRuntimeError{Runtime: u.Runtime}
}

func (u *Unsupported) Rebuild(context.Context) error { return nil }
func (u *Unsupported) Stop(context.Context) error    { return nil }
func (u *Unsupported) State() State                  { return StateFailed }
