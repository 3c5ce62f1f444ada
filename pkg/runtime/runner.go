// Package runtime supervises the workers that execute function handlers.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

// State is the lifecycle state of a Runner.
//
//	uninitialized -> starting -> ready -> invoking -> ready ... -> stopped
//
// A worker that exits unexpectedly moves the runner to crashed; the next
// invocation restarts it. Too many consecutive crashes move it to failed,
// which only an explicit Rebuild clears.
type State int

const (
	StateUninitialized State = iota
	StateStarting
	StateReady
	StateInvoking
	StateStopped
	StateCrashed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateInvoking:
		return "invoking"
	case StateStopped:
		return "stopped"
	case StateCrashed:
		return "crashed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MaxConsecutiveCrashes is how many crashes in a row a runner tolerates
// before it refuses further invocations.
const MaxConsecutiveCrashes = 3

// Kind distinguishes synchronous invocations from fire-and-forget ones.
type Kind string

const (
	KindSync  Kind = "sync"
	KindAsync Kind = "async"
)

// Invocation is one request handed to a runner.
type Invocation struct {
	RequestID     string
	Event         json.RawMessage
	ClientContext any
	Kind          Kind
	Deadline      time.Time
}

// Response is a handler's successful result. Exactly one of Payload or
// Stream is meaningful: Stream holds raw event-stream bytes for
// streamed responses, Payload the JSON encoding of the returned value.
type Response struct {
	Payload json.RawMessage
	Stream  []byte
}

// Runner executes invocations for a single handler.
type Runner interface {
	Invoke(ctx context.Context, inv Invocation) (*Response, error)
	Rebuild(ctx context.Context) error
	Stop(ctx context.Context) error
	State() State
}

var (
	ErrStopped = errors.New("runtime: runner stopped")
	ErrFailed  = errors.New("runtime: runner failed after repeated crashes; rebuild required")
)

// HandlerError is an error raised by, or on behalf of, the handler code. It
// serializes to the shape clients of the invocation API expect.
type HandlerError struct {
	Type    string   `json:"errorType"`
	Message string   `json:"errorMessage"`
	Trace   []string `json:"trace,omitempty"`
}

func (e *HandlerError) Error() string {
	switch {
	case e.Type != "" && e.Message != "":
		return e.Type + ": " + e.Message
	case e.Message != "":
		return e.Message
	default:
		return e.Type
	}
}

// UnsupportedRuntimeError is returned by runners assigned to a runtime
// identifier no worker understands.
type UnsupportedRuntimeError struct {
	Runtime string
}

func (e *UnsupportedRuntimeError) Error() string {
	return "runtime: unsupported runtime " + e.Runtime
}

func timeoutError(d time.Duration) *HandlerError {
	return &HandlerError{
		Type:    "Sandbox.Timedout",
		Message: "Task timed out after " + formatSeconds(d) + " seconds",
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 2, 64)
}
