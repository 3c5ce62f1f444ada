package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"
)

// wasmRunner runs a WASI command module in-process. The module is compiled
// once and instantiated per invocation: the event arrives on stdin and
// whatever the module prints to stdout is the result.
type wasmRunner struct {
	fn   manifest.Function
	opts Options
	log  *zap.Logger

	mu       sync.Mutex
	smu      sync.Mutex
	state    State
	rt       wazero.Runtime
	compiled wazero.CompiledModule
}

func newWasmRunner(fn manifest.Function, opts Options) *wasmRunner {
	return &wasmRunner{
		fn:   fn,
		opts: opts,
		log:  opts.logger().With(zap.String("function", fn.Name), zap.String("runtime", fn.Runtime)),
	}
}

func (r *wasmRunner) State() State {
	r.smu.Lock()
	defer r.smu.Unlock()
	return r.state
}

func (r *wasmRunner) setState(s State) {
	r.smu.Lock()
	if r.state != StateStopped {
		r.state = s
	}
	r.smu.Unlock()
}

func (r *wasmRunner) modulePath() string {
	p := r.fn.Handler
	if !filepath.IsAbs(p) {
		p = filepath.Join(workerDir(r.fn, r.opts), p)
	}
	return p
}

func (r *wasmRunner) compile(ctx context.Context) error {
	if r.compiled != nil {
		return nil
	}
	r.setState(StateStarting)
	src, err := os.ReadFile(r.modulePath())
	if err != nil {
		r.setState(StateFailed)
		return fmt.Errorf("runtime: read wasm module: %w", err)
	}
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		_ = rt.Close(ctx)
		r.setState(StateFailed)
		return fmt.Errorf("runtime: instantiate wasi: %w", err)
	}
	compiled, err := rt.CompileModule(ctx, src)
	if err != nil {
		_ = rt.Close(ctx)
		r.setState(StateFailed)
		return fmt.Errorf("runtime: compile wasm module: %w", err)
	}
	r.rt, r.compiled = rt, compiled
	r.setState(StateReady)
	r.log.Debug("wasm module compiled", zap.String("path", r.modulePath()))
	return nil
}

func (r *wasmRunner) Invoke(ctx context.Context, inv Invocation) (*Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.State() {
	case StateStopped:
		return nil, ErrStopped
	case StateFailed:
		return nil, ErrFailed
	}
	if err := r.compile(context.WithoutCancel(ctx)); err != nil {
		return nil, err
	}

	runCtx := ctx
	if d := r.fn.Timeout(); d > 0 && !r.opts.DebuggerAttached {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	event := inv.Event
	if len(event) == 0 {
		event = json.RawMessage("null")
	}
	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName("").
		WithArgs(r.fn.Name).
		WithStdin(bytes.NewReader(event)).
		WithStdout(&stdout).
		WithStderr(io.MultiWriter(&stderr, newLineLogger(r.log, "stderr"))).
		WithEnv("AWS_LAMBDA_FUNCTION_NAME", r.fn.Name).
		WithEnv("AWS_REQUEST_ID", inv.RequestID).
		WithEnv("STEEZE_INVOCATION_KIND", string(inv.Kind))
	for k, v := range r.fn.Environment {
		cfg = cfg.WithEnv(k, v)
	}

	r.setState(StateInvoking)
	defer r.setState(StateReady)

	mod, err := r.rt.InstantiateModule(runCtx, r.compiled, cfg)
	if mod != nil {
		_ = mod.Close(context.WithoutCancel(ctx))
	}
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, timeoutError(r.fn.Timeout())
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exit *sys.ExitError
		if errors.As(err, &exit) {
			if exit.ExitCode() != 0 {
				return nil, &HandlerError{
					Type:    "Runtime.ExitError",
					Message: strings.TrimSpace(fmt.Sprintf("exit status %d: %s", exit.ExitCode(), stderr.String())),
				}
			}
		} else {
			return nil, &HandlerError{Type: "Runtime.InvalidEntrypoint", Message: err.Error()}
		}
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return &Response{Payload: json.RawMessage("null")}, nil
	}
	if json.Valid(out) {
		return &Response{Payload: json.RawMessage(out)}, nil
	}
	enc, _ := json.Marshal(string(out))
	return &Response{Payload: enc}, nil
}

func (r *wasmRunner) release(ctx context.Context) {
	if r.rt != nil {
		_ = r.rt.Close(ctx)
	}
	r.rt, r.compiled = nil, nil
}

// Rebuild drops the compiled module; the next invocation recompiles it from disk.
func (r *wasmRunner) Rebuild(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.State() == StateStopped {
		return ErrStopped
	}
	r.release(ctx)
	r.setState(StateUninitialized)
	return nil
}

func (r *wasmRunner) Stop(ctx context.Context) error {
	r.smu.Lock()
	r.state = StateStopped
	r.smu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.release(ctx)
	return nil
}
