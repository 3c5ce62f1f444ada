package runtime

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/joeydtaylor/steeze-offline/pkg/codec"
	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// TestHelperProcess is not a real test; it is the worker process launched by
// helperLauncher.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("STEEZE_HELPER_PROCESS") != "1" {
		return
	}
	mode := os.Args[len(os.Args)-1]
	in := bufio.NewScanner(os.NewFile(3, "requests"))
	out := os.NewFile(4, "replies")
	send := func(rep reply) {
		b, _ := json.Marshal(rep)
		_, _ = out.Write(append(b, '\n'))
	}
	for in.Scan() {
		var req request
		if err := json.Unmarshal(in.Bytes(), &req); err != nil {
			os.Exit(2)
		}
		switch mode {
		case "echo":
			send(reply{ID: req.ID, Result: req.Event})
		case "context":
			b, _ := json.Marshal(req.Context)
			send(reply{ID: req.ID, Result: b})
		case "error":
			send(reply{ID: req.ID, Error: &HandlerError{Type: "TypeError", Message: "boom", Trace: []string{"at handler"}}})
		case "crash":
			os.Exit(3)
		case "slow":
			time.Sleep(300 * time.Millisecond)
			send(reply{ID: req.ID, Result: json.RawMessage(`"late"`)})
		case "stream":
			send(reply{ID: req.ID, Streamed: true, Chunks: []string{
				base64.StdEncoding.EncodeToString([]byte(`{"streamed":`)),
				base64.StdEncoding.EncodeToString([]byte(`true}`)),
			}})
		}
	}
	os.Exit(0)
}

func helperLauncher(mode string) launcher {
	return func(manifest.Function, Options) (*exec.Cmd, error) {
		cmd := exec.Command(os.Args[0], "-test.run=TestHelperProcess", "--", mode)
		cmd.Env = append(os.Environ(), "STEEZE_HELPER_PROCESS=1")
		return cmd, nil
	}
}

func newHelperRunner(t *testing.T, mode string, timeoutS float64, debugger bool) *processRunner {
	t.Helper()
	fn := manifest.Function{Name: "hello", Runtime: "nodejs20.x", Handler: "h.hello", TimeoutS: timeoutS}
	p := newProcessRunner(fn, Options{Logger: zaptest.NewLogger(t), DebuggerAttached: debugger}, helperLauncher(mode))
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func TestProcessRunner_Echo(t *testing.T) {
	p := newHelperRunner(t, "echo", 5, false)
	assert.Equal(t, StateUninitialized, p.State())

	for i := 0; i < 2; i++ {
		res, err := p.Invoke(context.Background(), Invocation{RequestID: "req-1", Event: json.RawMessage(`{"n":1}`), Kind: KindSync})
		require.NoError(t, err)
		assert.JSONEq(t, `{"n":1}`, string(res.Payload))
		assert.Equal(t, StateReady, p.State())
	}
}

func TestProcessRunner_Context(t *testing.T) {
	p := newHelperRunner(t, "context", 5, false)
	res, err := p.Invoke(context.Background(), Invocation{
		RequestID:     "req-ctx",
		ClientContext: map[string]any{"custom": "x"},
		Kind:          KindAsync,
	})
	require.NoError(t, err)

	var rc requestContext
	require.NoError(t, json.Unmarshal(res.Payload, &rc))
	assert.Equal(t, "req-ctx", rc.AwsRequestID)
	assert.Equal(t, "hello", rc.FunctionName)
	assert.Equal(t, KindAsync, rc.Kind)
	assert.Equal(t, map[string]any{"custom": "x"}, rc.ClientContext)
}

func TestProcessRunner_HandlerError(t *testing.T) {
	p := newHelperRunner(t, "error", 5, false)
	_, err := p.Invoke(context.Background(), Invocation{RequestID: "r"})
	var he *HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "TypeError", he.Type)
	assert.Equal(t, "boom", he.Message)
	assert.Equal(t, StateReady, p.State())
}

func TestProcessRunner_Stream(t *testing.T) {
	p := newHelperRunner(t, "stream", 5, false)
	res, err := p.Invoke(context.Background(), Invocation{RequestID: "r"})
	require.NoError(t, err)
	require.NotEmpty(t, res.Stream)

	body, err := codec.DecodeEventStream(res.Stream)
	require.NoError(t, err)
	assert.JSONEq(t, `{"streamed":true}`, string(body))
}

func TestProcessRunner_Timeout(t *testing.T) {
	p := newHelperRunner(t, "slow", 0.05, false)
	_, err := p.Invoke(context.Background(), Invocation{RequestID: "r"})
	var he *HandlerError
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "Sandbox.Timedout", he.Type)
	assert.Equal(t, "Task timed out after 0.05 seconds", he.Message)
	assert.Equal(t, StateReady, p.State())
}

func TestProcessRunner_DebuggerDisablesTimeout(t *testing.T) {
	p := newHelperRunner(t, "slow", 0.05, true)
	res, err := p.Invoke(context.Background(), Invocation{RequestID: "r"})
	require.NoError(t, err)
	assert.Equal(t, `"late"`, string(res.Payload))
}

func TestProcessRunner_CrashPolicy(t *testing.T) {
	p := newHelperRunner(t, "crash", 5, false)

	for i := 1; i <= MaxConsecutiveCrashes; i++ {
		_, err := p.Invoke(context.Background(), Invocation{RequestID: "r"})
		var he *HandlerError
		require.ErrorAs(t, err, &he)
		assert.Equal(t, "Runtime.ExitError", he.Type)
		if i < MaxConsecutiveCrashes {
			assert.Equal(t, StateCrashed, p.State())
		}
	}
	assert.Equal(t, StateFailed, p.State())

	_, err := p.Invoke(context.Background(), Invocation{RequestID: "r"})
	require.ErrorIs(t, err, ErrFailed)

	p.launch = helperLauncher("echo")
	require.NoError(t, p.Rebuild(context.Background()))
	assert.Equal(t, StateUninitialized, p.State())

	res, err := p.Invoke(context.Background(), Invocation{RequestID: "r", Event: json.RawMessage(`1`)})
	require.NoError(t, err)
	assert.Equal(t, "1", string(res.Payload))
}

func TestProcessRunner_Stop(t *testing.T) {
	p := newHelperRunner(t, "echo", 5, false)
	_, err := p.Invoke(context.Background(), Invocation{RequestID: "r"})
	require.NoError(t, err)

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, StateStopped, p.State())

	_, err = p.Invoke(context.Background(), Invocation{RequestID: "r"})
	require.ErrorIs(t, err, ErrStopped)
	require.ErrorIs(t, p.Rebuild(context.Background()), ErrStopped)
}

func TestProcessRunner_ContextCancel(t *testing.T) {
	p := newHelperRunner(t, "slow", 5, false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := p.Invoke(ctx, Invocation{RequestID: "r"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateReady, p.State())
}

func TestProcessRunner_LaunchFailure(t *testing.T) {
	fn := manifest.Function{Name: "x", Runtime: "python3.12", Handler: "nodot", TimeoutS: 1}
	p := newProcessRunner(fn, Options{}, pythonLauncher)
	_, err := p.Invoke(context.Background(), Invocation{RequestID: "r"})
	require.ErrorIs(t, err, errEmptyHandler)
	assert.Equal(t, StateCrashed, p.State())
}
