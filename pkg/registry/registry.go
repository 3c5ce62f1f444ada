// Package registry holds the handlers loaded at startup, addressable by
// public name or alias.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
)

var (
	ErrNameConflict = errors.New("registry: function name already registered")
	ErrNoRunner     = errors.New("registry: handler has no runner")
)

// Handler is a loaded function together with the runner executing it.
type Handler struct {
	Name     string
	OutName  string
	Runtime  string
	Timeout  time.Duration
	Function manifest.Function

	mu     sync.RWMutex
	runner runtime.Runner
}

// NewHandler builds a handler from its declaration. The runner is attached later.
func NewHandler(fn manifest.Function) *Handler {
	return &Handler{
		Name:     fn.Name,
		OutName:  fn.OutName,
		Runtime:  fn.Runtime,
		Timeout:  fn.Timeout(),
		Function: fn,
	}
}

// SetRunner replaces the runner; used at load and on rebuild.
func (h *Handler) SetRunner(r runtime.Runner) {
	h.mu.Lock()
	h.runner = r
	h.mu.Unlock()
}

func (h *Handler) Runner() runtime.Runner {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.runner
}

func (h *Handler) Invoke(ctx context.Context, inv runtime.Invocation) (*runtime.Response, error) {
	r := h.Runner()
	if r == nil {
		return nil, ErrNoRunner
	}
	return r.Invoke(ctx, inv)
}

// Registry maps public names and aliases to handlers. It is filled during
// startup and only read afterwards.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Handler
	order  []*Handler
}

func New() *Registry {
	return &Registry{byName: map[string]*Handler{}}
}

// Register adds h under its name and alias. Neither may collide with a name
// or alias already registered.
func (r *Registry) Register(h *Handler) error {
	if h == nil || strings.TrimSpace(h.Name) == "" {
		return errors.New("registry: handler name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range h.keys() {
		if prev, ok := r.byName[key]; ok {
			return fmt.Errorf("%w: %q (held by %q)", ErrNameConflict, key, prev.Name)
		}
	}
	for _, key := range h.keys() {
		r.byName[key] = h
	}
	r.order = append(r.order, h)
	return nil
}

func (h *Handler) keys() []string {
	if h.OutName == "" || h.OutName == h.Name {
		return []string{h.Name}
	}
	return []string{h.Name, h.OutName}
}

// Lookup finds a handler by public name or alias.
func (r *Registry) Lookup(name string) (*Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.byName[name]
	return h, ok
}

// Handlers returns the handlers in registration order.
func (r *Registry) Handlers() []*Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Handler, len(r.order))
	copy(out, r.order)
	return out
}

// Stop stops every runner, returning the first error.
func (r *Registry) Stop(ctx context.Context) error {
	var first error
	for _, h := range r.Handlers() {
		if rn := h.Runner(); rn != nil {
			if err := rn.Stop(ctx); err != nil && first == nil {
				first = fmt.Errorf("registry: stop %s: %w", h.Name, err)
			}
		}
	}
	return first
}
