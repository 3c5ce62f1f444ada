package plugin

import (
	"context"
	"encoding/json"
	"sort"

	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
	"go.uber.org/zap"
)

// InvokeInfo identifies the invocation a function hook is called for.
type InvokeInfo struct {
	Function  string
	RequestID string
}

type (
	// InvokeHook sees the event before the handler runs. A non-nil return
	// replaces the event.
	InvokeHook        func(ctx context.Context, event json.RawMessage, info InvokeInfo) json.RawMessage
	InvokeSuccessHook func(ctx context.Context, input json.RawMessage, output *runtime.Response, info InvokeInfo)
	InvokeErrorHook   func(ctx context.Context, input json.RawMessage, err error, info InvokeInfo)
)

// Function is a plugin's handle on one function, returned by Context.Function.
type Function struct {
	name string
	pc   *Context

	onInvoke  []InvokeHook
	onSuccess []InvokeSuccessHook
	onError   []InvokeErrorHook
	env       map[string]*string
}

func (f *Function) Name() string { return f.name }

func (f *Function) OnInvoke(h InvokeHook) {
	f.pc.mu.Lock()
	f.onInvoke = append(f.onInvoke, h)
	f.pc.mu.Unlock()
}

func (f *Function) OnInvokeSuccess(h InvokeSuccessHook) {
	f.pc.mu.Lock()
	f.onSuccess = append(f.onSuccess, h)
	f.pc.mu.Unlock()
}

func (f *Function) OnInvokeError(h InvokeErrorHook) {
	f.pc.mu.Lock()
	f.onError = append(f.onError, h)
	f.pc.mu.Unlock()
}

// SetEnv sets a variable in the function's worker environment. Only
// effective from OnInit, before workers are configured.
func (f *Function) SetEnv(key, value string) { f.setEnv(key, &value) }

// UnsetEnv removes a variable from the function's worker environment. Only
// effective from OnInit.
func (f *Function) UnsetEnv(key string) { f.setEnv(key, nil) }

func (f *Function) setEnv(key string, value *string) {
	f.pc.mu.Lock()
	defer f.pc.mu.Unlock()
	if !f.pc.initializing {
		f.pc.Logger.Warn("SetEnv called outside OnInit; ignored", zap.String("function", f.name), zap.String("key", key))
		return
	}
	if f.env == nil {
		f.env = map[string]*string{}
	}
	f.env[key] = value
}

// Function returns the handle for the named function, creating it on first
// use. The name is not checked: functions load after OnInit.
func (pc *Context) Function(name string) *Function {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if f, ok := pc.functions[name]; ok {
		return f
	}
	f := &Function{name: name, pc: pc}
	pc.functions[name] = f
	return f
}

// ApplyEnv returns fns with the environment changes made through SetEnv and
// UnsetEnv applied. The inputs are not modified.
func (pc *Context) ApplyEnv(fns []manifest.Function) []manifest.Function {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	out := make([]manifest.Function, len(fns))
	for i, fn := range fns {
		f, ok := pc.functions[fn.Name]
		if !ok || len(f.env) == 0 {
			out[i] = fn
			continue
		}
		env := make(map[string]string, len(fn.Environment)+len(f.env))
		for k, v := range fn.Environment {
			env[k] = v
		}
		for k, v := range f.env {
			if v == nil {
				delete(env, k)
				continue
			}
			env[k] = *v
		}
		fn.Environment = env
		out[i] = fn
	}
	return out
}

// hooked returns the names of functions that have invocation hooks.
func (pc *Context) hooked() []string {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	var out []string
	for name, f := range pc.functions {
		if len(f.onInvoke)+len(f.onSuccess)+len(f.onError) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (pc *Context) lookup(name string) (Function, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	f, ok := pc.functions[name]
	if !ok {
		return Function{}, false
	}
	return Function{
		name:      f.name,
		onInvoke:  append([]InvokeHook(nil), f.onInvoke...),
		onSuccess: append([]InvokeSuccessHook(nil), f.onSuccess...),
		onError:   append([]InvokeErrorHook(nil), f.onError...),
	}, true
}

// BeforeInvoke runs the OnInvoke hooks of function in registration order.
// Each hook sees the event left by the previous one; a replacement that is
// not valid JSON is dropped.
func (s *PluginSet) BeforeInvoke(ctx context.Context, function, requestID string, event json.RawMessage) json.RawMessage {
	f, ok := s.pc.lookup(function)
	if !ok || len(f.onInvoke) == 0 {
		return nil
	}
	info := InvokeInfo{Function: function, RequestID: requestID}
	cur := event
	for _, h := range f.onInvoke {
		var next json.RawMessage
		err := run(func() error {
			next = h(ctx, cur, info)
			return nil
		})
		switch {
		case err != nil:
			s.log.Error("function hook failed", zap.String("function", function), zap.String("hook", "onInvoke"), zap.Error(err))
		case next == nil:
		case !json.Valid(next):
			s.log.Warn("onInvoke returned invalid JSON; event unchanged", zap.String("function", function))
		default:
			cur = next
		}
	}
	return cur
}

// AfterInvoke runs OnInvokeError hooks when err is set, OnInvokeSuccess
// hooks otherwise.
func (s *PluginSet) AfterInvoke(ctx context.Context, function, requestID string, event json.RawMessage, res *runtime.Response, err error) {
	f, ok := s.pc.lookup(function)
	if !ok {
		return
	}
	info := InvokeInfo{Function: function, RequestID: requestID}
	if err != nil {
		for _, h := range f.onError {
			if herr := run(func() error { h(ctx, event, err, info); return nil }); herr != nil {
				s.log.Error("function hook failed", zap.String("function", function), zap.String("hook", "onInvokeError"), zap.Error(herr))
			}
		}
		return
	}
	for _, h := range f.onSuccess {
		if herr := run(func() error { h(ctx, event, res, info); return nil }); herr != nil {
			s.log.Error("function hook failed", zap.String("function", function), zap.String("hook", "onInvokeSuccess"), zap.Error(herr))
		}
	}
}
