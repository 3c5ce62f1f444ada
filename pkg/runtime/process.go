package runtime

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/joeydtaylor/steeze-offline/pkg/codec"
	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"go.uber.org/zap"
)

// launcher builds the command for a worker process. The worker reads
// requests from fd 3 and writes replies to fd 4, one JSON document per line.
type launcher func(fn manifest.Function, opts Options) (*exec.Cmd, error)

type request struct {
	ID      string          `json:"id"`
	Event   json.RawMessage `json:"event"`
	Context requestContext  `json:"context"`
}

type requestContext struct {
	AwsRequestID    string `json:"awsRequestId"`
	FunctionName    string `json:"functionName"`
	ClientContext   any    `json:"clientContext,omitempty"`
	Kind            Kind   `json:"kind"`
	DeadlineMs      int64  `json:"deadlineMs,omitempty"`
	RemainingTimeMs int64  `json:"remainingTimeMs,omitempty"`
}

// reply carries either a JSON result or, for streaming handlers, the raw
// chunks written to the response stream in base64.
type reply struct {
	ID       string          `json:"id"`
	Result   json.RawMessage `json:"result,omitempty"`
	Streamed bool            `json:"streamed,omitempty"`
	Chunks   []string        `json:"chunks,omitempty"`
	Error    *HandlerError   `json:"error,omitempty"`
}

type worker struct {
	cmd     *exec.Cmd
	req     *os.File
	replies chan reply
	done    chan struct{}
	err     error
}

func (w *worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

func (w *worker) kill() {
	_ = w.req.Close()
	if w.cmd.Process != nil {
		_ = w.cmd.Process.Kill()
	}
	<-w.done
}

type processRunner struct {
	fn     manifest.Function
	opts   Options
	launch launcher
	log    *zap.Logger

	// mu serializes invocations; smu guards the fields below it.
	mu      sync.Mutex
	smu     sync.Mutex
	state   State
	crashes int
	w       *worker
}

func newProcessRunner(fn manifest.Function, opts Options, l launcher) *processRunner {
	return &processRunner{
		fn:     fn,
		opts:   opts,
		launch: l,
		log:    opts.logger().With(zap.String("function", fn.Name), zap.String("runtime", fn.Runtime)),
	}
}

func (p *processRunner) State() State {
	p.smu.Lock()
	defer p.smu.Unlock()
	return p.state
}

func (p *processRunner) setState(s State) {
	p.smu.Lock()
	p.state = s
	p.smu.Unlock()
}

func (p *processRunner) Invoke(ctx context.Context, inv Invocation) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.State() {
	case StateStopped:
		return nil, ErrStopped
	case StateFailed:
		return nil, ErrFailed
	}

	w, err := p.ensureWorker()
	if err != nil {
		p.crashed()
		return nil, err
	}

	line, err := json.Marshal(p.request(inv))
	if err != nil {
		return nil, fmt.Errorf("runtime: encode request: %w", err)
	}
	p.setState(StateInvoking)
	if _, err := w.req.Write(append(line, '\n')); err != nil {
		w.kill()
		p.crashed()
		return nil, p.exitError(inv.RequestID, err)
	}

	var timeout <-chan time.Time
	if d := p.fn.Timeout(); d > 0 && !p.opts.DebuggerAttached {
		t := time.NewTimer(d)
		defer t.Stop()
		timeout = t.C
	}

	for {
		select {
		case rep, ok := <-w.replies:
			if !ok {
				<-w.done
				p.crashed()
				return nil, p.exitError(inv.RequestID, w.err)
			}
			if rep.ID != inv.RequestID {
				p.log.Warn("dropping stale worker reply", zap.String("id", rep.ID))
				continue
			}
			p.succeeded()
			return decodeReply(rep)
		case <-timeout:
			p.log.Warn("invocation timed out", zap.String("requestId", inv.RequestID), zap.Duration("timeout", p.fn.Timeout()))
			w.kill()
			p.setState(StateReady)
			return nil, timeoutError(p.fn.Timeout())
		case <-ctx.Done():
			w.kill()
			p.setState(StateReady)
			return nil, ctx.Err()
		}
	}
}

func (p *processRunner) request(inv Invocation) request {
	rc := requestContext{
		AwsRequestID:  inv.RequestID,
		FunctionName:  p.fn.Name,
		ClientContext: inv.ClientContext,
		Kind:          inv.Kind,
	}
	if !inv.Deadline.IsZero() {
		rc.DeadlineMs = inv.Deadline.UnixMilli()
		rc.RemainingTimeMs = time.Until(inv.Deadline).Milliseconds()
	}
	ev := inv.Event
	if len(ev) == 0 {
		ev = json.RawMessage("null")
	}
	return request{ID: inv.RequestID, Event: ev, Context: rc}
}

func decodeReply(rep reply) (*Response, error) {
	if rep.Error != nil {
		return nil, rep.Error
	}
	if rep.Streamed {
		chunks := make([][]byte, 0, len(rep.Chunks))
		for _, c := range rep.Chunks {
			b, err := base64.StdEncoding.DecodeString(c)
			if err != nil {
				return nil, fmt.Errorf("runtime: decode stream chunk: %w", err)
			}
			chunks = append(chunks, b)
		}
		raw, err := codec.EncodeEventStream(chunks...)
		if err != nil {
			return nil, fmt.Errorf("runtime: frame stream: %w", err)
		}
		return &Response{Stream: raw}, nil
	}
	payload := rep.Result
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return &Response{Payload: payload}, nil
}

func (p *processRunner) exitError(id string, err error) error {
	msg := "Runtime exited without providing a reason"
	if err != nil {
		msg = "Runtime exited with error: " + err.Error()
	}
	return &HandlerError{Type: "Runtime.ExitError", Message: "RequestId: " + id + " Error: " + msg}
}

// ensureWorker returns the live worker, starting one when needed.
func (p *processRunner) ensureWorker() (*worker, error) {
	p.smu.Lock()
	w := p.w
	p.smu.Unlock()
	if w != nil && !w.exited() {
		return w, nil
	}

	p.setState(StateStarting)
	w, err := p.start()
	if err != nil {
		return nil, err
	}
	p.smu.Lock()
	p.w = w
	p.state = StateReady
	p.smu.Unlock()
	return w, nil
}

func (p *processRunner) start() (*worker, error) {
	cmd, err := p.launch(p.fn, p.opts)
	if err != nil {
		return nil, err
	}
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("runtime: pipe: %w", err)
	}
	repR, repW, err := os.Pipe()
	if err != nil {
		reqR.Close()
		reqW.Close()
		return nil, fmt.Errorf("runtime: pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{reqR, repW}
	cmd.Stdout = newLineLogger(p.log, "stdout")
	cmd.Stderr = newLineLogger(p.log, "stderr")

	if err := cmd.Start(); err != nil {
		reqR.Close()
		reqW.Close()
		repR.Close()
		repW.Close()
		return nil, fmt.Errorf("runtime: start %s worker: %w", p.fn.Runtime, err)
	}
	reqR.Close()
	repW.Close()

	w := &worker{cmd: cmd, req: reqW, replies: make(chan reply, 1), done: make(chan struct{})}
	go w.readReplies(repR, p.log)
	go func() {
		w.err = cmd.Wait()
		close(w.done)
	}()
	p.log.Debug("worker started", zap.Int("pid", cmd.Process.Pid))
	return w, nil
}

func (w *worker) readReplies(r io.ReadCloser, log *zap.Logger) {
	defer close(w.replies)
	defer r.Close()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for sc.Scan() {
		var rep reply
		if err := json.Unmarshal(sc.Bytes(), &rep); err != nil {
			log.Warn("malformed worker reply", zap.Error(err))
			continue
		}
		w.replies <- rep
	}
}

func (p *processRunner) crashed() {
	p.smu.Lock()
	defer p.smu.Unlock()
	if p.state == StateStopped {
		return
	}
	p.crashes++
	if p.crashes >= MaxConsecutiveCrashes {
		p.state = StateFailed
		p.log.Error("runner failed", zap.Int("consecutiveCrashes", p.crashes))
		return
	}
	p.state = StateCrashed
	p.log.Warn("worker crashed", zap.Int("consecutiveCrashes", p.crashes))
}

func (p *processRunner) succeeded() {
	p.smu.Lock()
	p.crashes = 0
	if p.state != StateStopped {
		p.state = StateReady
	}
	p.smu.Unlock()
}

// Rebuild discards the current worker; the next invocation starts a fresh one.
func (p *processRunner) Rebuild(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.smu.Lock()
	if p.state == StateStopped {
		p.smu.Unlock()
		return ErrStopped
	}
	w := p.w
	p.w = nil
	p.crashes = 0
	p.state = StateUninitialized
	p.smu.Unlock()
	if w != nil {
		w.kill()
	}
	p.log.Info("runner rebuilt")
	return nil
}

// Stop kills the worker, interrupting any invocation in flight.
func (p *processRunner) Stop(ctx context.Context) error {
	p.smu.Lock()
	w := p.w
	p.w = nil
	p.state = StateStopped
	p.smu.Unlock()
	if w == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		w.kill()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var errEmptyHandler = errors.New("runtime: handler must be <module>.<export>")
