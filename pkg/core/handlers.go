// core/handlers.go
package core

import (
	"sync"

	"github.com/joeydtaylor/steeze-offline/pkg/plugin"
)

// InprocHandler is the signature for in-process route handlers.
// 'in' is the raw request body, 'status' is HTTP status code to send.
type InprocHandler = plugin.InprocHandler

// InprocRegistry holds the handlers manifest routes of type "inproc" refer to.
type InprocRegistry struct {
	mu sync.RWMutex
	m  map[string]InprocHandler
}

func NewInprocRegistry() *InprocRegistry {
	return &InprocRegistry{m: map[string]InprocHandler{}}
}

// Register makes a handler available under a name referenced in the manifest.
func (r *InprocRegistry) Register(name string, h InprocHandler) {
	r.mu.Lock()
	r.m[name] = h
	r.mu.Unlock()
}

// Lookup retrieves a registered in-proc handler by name.
func (r *InprocRegistry) Lookup(name string) (InprocHandler, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.m[name]
	return h, ok
}
