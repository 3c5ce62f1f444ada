// Package invoke implements the invocation API: it resolves the target
// handler, validates the request, and translates the runner's outcome into
// the status codes, headers and bodies client SDKs expect.
package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joeydtaylor/steeze-offline/pkg/codec"
	"github.com/joeydtaylor/steeze-offline/pkg/middleware/metrics"
	"github.com/joeydtaylor/steeze-offline/pkg/registry"
	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
	"go.uber.org/zap"
)

// PathPattern matches every path served by the engine.
const PathPattern = `^/(2015-03-31/functions|@invoke)/`

// Observer sees every invocation dispatched to a runner. BeforeInvoke may
// return a replacement event; nil keeps the original.
type Observer interface {
	BeforeInvoke(ctx context.Context, function, requestID string, event json.RawMessage) json.RawMessage
	AfterInvoke(ctx context.Context, function, requestID string, event json.RawMessage, res *runtime.Response, err error)
}

// Engine serves invocation requests against a registry.
type Engine struct {
	reg *registry.Registry
	log *zap.Logger
	mux *chi.Mux
	obs Observer

	// detached tracks Event and DryRun invocations still running after
	// their response was sent.
	detached sync.WaitGroup
}

func NewEngine(reg *registry.Registry, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Engine{reg: reg, log: log}

	r := chi.NewRouter()
	for _, prefix := range []string{"/2015-03-31/functions/{name}", "/@invoke/{name}"} {
		r.HandleFunc(prefix, e.serveInvoke)
		r.HandleFunc(prefix+"/*", e.serveInvoke)
	}
	r.NotFound(e.serveInvoke)
	r.MethodNotAllowed(e.serveInvoke)
	e.mux = r
	return e
}

// Observe installs o for every later dispatch. Call it before serving.
func (e *Engine) Observe(o Observer) { e.obs = o }

func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) { e.mux.ServeHTTP(w, r) }

func (e *Engine) serveInvoke(w http.ResponseWriter, r *http.Request) {
	ic := newInvocationContext(registry.ParseFunctionName(chi.URLParam(r, "name")))

	h := w.Header()
	h.Set(HeaderRequestID, ic.RequestID)
	h.Set(HeaderTraceID, TraceID)
	h.Set(HeaderExecutedVersion, ExecutedVersion)
	h.Set("Content-Type", "application/json")

	handler, ok := e.reg.Lookup(ic.Name)
	if !ok {
		e.reject(w, ic, http.StatusNotFound, ErrorTypeNotFound, notFoundMsg(ic.Name), &LookupError{Name: ic.Name})
		return
	}

	cc, err := DecodeClientContext(r.Header.Get(HeaderClientContext))
	if err != nil {
		e.reject(w, ic, http.StatusBadRequest, ErrorTypeInvalidRequest, invalidClientContextMsg, err)
		return
	}
	ic.ClientContext = cc
	ic.Type = Classify(r.Header.Get(HeaderInvocationType))
	ic.advance(PhaseClassified)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		terr := &TransportError{Err: err}
		b, _ := marshal(map[string]string{"errorMessage": terr.Error()})
		e.reject(w, ic, http.StatusBadGateway, "", string(b), terr)
		return
	}
	if _, err := codec.Parse(body); err != nil {
		e.reject(w, ic, http.StatusBadRequest, ErrorTypeInvalidRequest, invalidPayloadMsg(err.Error()),
			&ProtocolError{Reason: "invalid request body", Err: err})
		return
	}
	ic.Body = body
	ic.advance(PhaseBodyCollected)

	e.log.Info("invoke",
		zap.String("requestId", ic.RequestID),
		zap.String("function", handler.Name),
		zap.String("method", r.Method),
		zap.String("type", string(ic.Type)),
	)

	if ic.Type.Detached() {
		// The caller does not wait for a result: answer first, then run
		// the handler and discard whatever it produces.
		h.Set("Content-Length", "0")
		w.WriteHeader(ic.Type.Status())
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		ic.advance(PhaseResponded)
		e.detach(context.WithoutCancel(r.Context()), handler, ic)
		return
	}

	res, err := e.dispatch(context.WithoutCancel(r.Context()), handler, ic)
	if err == nil {
		var out []byte
		out, err = Serialize(res)
		if err == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(out)
			ic.advance(PhaseResponded)
			e.complete(ic)
			return
		}
	}
	e.writeHandlerError(w, asHandlerError(err))
	ic.advance(PhaseResponded)
	e.complete(ic)
}

// complete logs the phases an invocation went through.
func (e *Engine) complete(ic *InvocationContext) {
	phases := ic.Phases()
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = p.String()
	}
	e.log.Debug("invocation complete",
		zap.String("requestId", ic.RequestID),
		zap.String("function", ic.Name),
		zap.Stringer("phase", phases[len(phases)-1]),
		zap.String("phases", strings.Join(names, ">")),
	)
}

func (e *Engine) reject(w http.ResponseWriter, ic *InvocationContext, status int, errorType, body string, cause error) {
	if errorType != "" {
		w.Header().Set(HeaderErrorType, errorType)
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
	ic.advance(PhaseResponded)
	metrics.ObserveInvocation(ic.Name, string(ic.Type), metrics.OutcomeRejected, 0)
	e.log.Debug("invocation rejected",
		zap.String("requestId", ic.RequestID),
		zap.String("function", ic.Name),
		zap.Int("status", status),
		zap.Error(cause),
	)
	e.complete(ic)
}

func (e *Engine) writeHandlerError(w http.ResponseWriter, he *runtime.HandlerError) {
	v := he.Type
	if v == "" {
		v = he.Message
	}
	w.Header().Set(HeaderFunctionError, v)
	body, err := json.Marshal(he)
	if err != nil {
		body = []byte(`{}`)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func (e *Engine) dispatch(ctx context.Context, h *registry.Handler, ic *InvocationContext) (*runtime.Response, error) {
	ic.advance(PhaseDispatched)
	inv := ic.invocation(h.Timeout)
	if e.obs != nil {
		if ev := e.obs.BeforeInvoke(ctx, h.Name, ic.RequestID, inv.Event); ev != nil {
			inv.Event = ev
		}
	}
	start := time.Now()
	res, err := h.Invoke(ctx, inv)
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeHandlerError
		ic.advance(PhaseFailed)
		e.log.Error("invocation failed",
			zap.String("requestId", ic.RequestID),
			zap.String("function", h.Name),
			zap.String("type", string(ic.Type)),
			zap.Error(err),
		)
	} else {
		ic.advance(PhaseSucceeded)
	}
	metrics.ObserveInvocation(h.Name, string(ic.Type), outcome, time.Since(start))
	if e.obs != nil {
		e.obs.AfterInvoke(ctx, h.Name, ic.RequestID, inv.Event, res, err)
	}
	return res, err
}

func (e *Engine) detach(ctx context.Context, h *registry.Handler, ic *InvocationContext) {
	e.detached.Add(1)
	go func() {
		defer e.detached.Done()
		_, _ = e.dispatch(ctx, h, ic)
		e.complete(ic)
	}()
}

// InvokeEvent runs a handler synchronously on behalf of another component
// (custom invoke routes, the default dispatcher).
func (e *Engine) InvokeEvent(ctx context.Context, name string, event []byte) (*runtime.Response, error) {
	h, ok := e.reg.Lookup(name)
	if !ok {
		return nil, &LookupError{Name: name}
	}
	if len(bytes.TrimSpace(event)) > 0 && !json.Valid(event) {
		return nil, &ProtocolError{Reason: "event is not JSON"}
	}
	ic := newInvocationContext(name)
	ic.Body = event
	return e.dispatch(ctx, h, ic)
}

// Wait blocks until every detached invocation has finished or ctx is done.
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.detached.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func asHandlerError(err error) *runtime.HandlerError {
	var he *runtime.HandlerError
	if errors.As(err, &he) {
		return he
	}
	var se *codec.StreamError
	if errors.As(err, &se) {
		return &runtime.HandlerError{Type: se.Code, Message: se.Details}
	}
	return &runtime.HandlerError{Message: err.Error()}
}
