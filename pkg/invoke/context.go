package invoke

import (
	"bytes"
	"encoding/json"
	"sync"
	"time"

	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
)

// Phase is a step of the per-request invocation state machine:
//
//	RECEIVED -> CLASSIFIED -> BODY_COLLECTED -> DISPATCHED -> SUCCEEDED|FAILED -> RESPONDED
//
// Event and DryRun requests reach RESPONDED right after BODY_COLLECTED and
// are dispatched afterwards. Rejected requests jump straight to RESPONDED.
type Phase int

const (
	PhaseReceived Phase = iota
	PhaseClassified
	PhaseBodyCollected
	PhaseDispatched
	PhaseSucceeded
	PhaseFailed
	PhaseResponded
)

func (p Phase) String() string {
	return [...]string{"RECEIVED", "CLASSIFIED", "BODY_COLLECTED", "DISPATCHED", "SUCCEEDED", "FAILED", "RESPONDED"}[p]
}

// InvocationContext is the transient state of one request.
type InvocationContext struct {
	RequestID     string
	Name          string
	Type          Type
	ClientContext any
	Body          []byte

	mu     sync.Mutex
	phases []Phase
}

func newInvocationContext(name string) *InvocationContext {
	return &InvocationContext{
		RequestID: NewRequestID(),
		Name:      name,
		Type:      RequestResponse,
		phases:    []Phase{PhaseReceived},
	}
}

func (ic *InvocationContext) advance(p Phase) {
	ic.mu.Lock()
	ic.phases = append(ic.phases, p)
	ic.mu.Unlock()
}

// Phases returns the phases reached so far, in order.
func (ic *InvocationContext) Phases() []Phase {
	ic.mu.Lock()
	defer ic.mu.Unlock()
	return append([]Phase(nil), ic.phases...)
}

func (ic *InvocationContext) invocation(timeout time.Duration) runtime.Invocation {
	kind := runtime.KindSync
	if ic.Type == Event {
		kind = runtime.KindAsync
	}
	ev := json.RawMessage(bytes.TrimSpace(ic.Body))
	if len(ev) == 0 {
		ev = json.RawMessage("null")
	}
	inv := runtime.Invocation{
		RequestID:     ic.RequestID,
		Event:         ev,
		ClientContext: ic.ClientContext,
		Kind:          kind,
	}
	if timeout > 0 {
		inv.Deadline = time.Now().Add(timeout)
	}
	return inv
}
