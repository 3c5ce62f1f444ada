package invoke

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/joeydtaylor/steeze-offline/pkg/codec"
	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/joeydtaylor/steeze-offline/pkg/registry"
	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []runtime.Invocation
	fn    func(ctx context.Context, inv runtime.Invocation) (*runtime.Response, error)
}

func (f *fakeRunner) Invoke(ctx context.Context, inv runtime.Invocation) (*runtime.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, inv)
	f.mu.Unlock()
	if f.fn == nil {
		return &runtime.Response{Payload: []byte(`null`)}, nil
	}
	return f.fn(ctx, inv)
}

func (f *fakeRunner) Rebuild(context.Context) error { return nil }
func (f *fakeRunner) Stop(context.Context) error    { return nil }
func (f *fakeRunner) State() runtime.State          { return runtime.StateReady }

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) last() runtime.Invocation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func returning(payload string) *fakeRunner {
	return &fakeRunner{fn: func(context.Context, runtime.Invocation) (*runtime.Response, error) {
		return &runtime.Response{Payload: []byte(payload)}, nil
	}}
}

type fixture struct {
	engine  *Engine
	runners map[string]*fakeRunner
}

func newFixture(t *testing.T, runners map[string]*fakeRunner) *fixture {
	t.Helper()
	return newLoggedFixture(t, zaptest.NewLogger(t), runners)
}

func newLoggedFixture(t *testing.T, log *zap.Logger, runners map[string]*fakeRunner) *fixture {
	t.Helper()
	reg := registry.New()
	for name, r := range runners {
		h := registry.NewHandler(manifest.Function{Name: name, OutName: name + "-alias", Runtime: "nodejs20.x", Handler: "h." + name, TimeoutS: 6})
		h.SetRunner(r)
		require.NoError(t, reg.Register(h))
	}
	return &fixture{engine: NewEngine(reg, log), runners: runners}
}

func (f *fixture) do(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func assertCosmeticHeaders(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.NotEmpty(t, rec.Header().Get("x-amzn-RequestId"))
	assert.Equal(t, TraceID, rec.Header().Get("X-Amzn-Trace-Id"))
	assert.Equal(t, "$LATEST", rec.Header().Get("X-Amz-Executed-Version"))
}

func TestEngine_RoutesToNamedHandler(t *testing.T) {
	f := newFixture(t, map[string]*fakeRunner{
		"alpha": returning(`"from alpha"`),
		"beta":  returning(`"from beta"`),
	})

	cases := []struct {
		path string
		want string
	}{
		{"/2015-03-31/functions/alpha/invocations", "alpha"},
		{"/2015-03-31/functions/beta/invocations", "beta"},
		{"/@invoke/alpha", "alpha"},
		{"/@invoke/beta-alias", "beta"},
		{"/2015-03-31/functions/arn:aws:lambda:us-east-1:123456789012:function:beta/invocations", "beta"},
		{"/2015-03-31/functions/alpha:$LATEST/invocations", "alpha"},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			before := map[string]int{"alpha": f.runners["alpha"].count(), "beta": f.runners["beta"].count()}
			rec := f.do(http.MethodPost, tc.path, `{}`, nil)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, `"from `+tc.want+`"`, rec.Body.String())
			for name, r := range f.runners {
				if name == tc.want {
					assert.Equal(t, before[name]+1, r.count(), name)
				} else {
					assert.Equal(t, before[name], r.count(), name)
				}
			}
			assertCosmeticHeaders(t, rec)
		})
	}
}

func TestEngine_NotFound(t *testing.T) {
	f := newFixture(t, map[string]*fakeRunner{"alpha": returning(`1`)})
	rec := f.do(http.MethodPost, "/2015-03-31/functions/missing/invocations", `{}`, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, ErrorTypeNotFound, rec.Header().Get("x-amzn-errortype"))
	assert.Contains(t, rec.Body.String(), "function:missing")
	assertCosmeticHeaders(t, rec)
	assert.Zero(t, f.runners["alpha"].count())
}

func TestEngine_InvalidClientContext(t *testing.T) {
	f := newFixture(t, map[string]*fakeRunner{"alpha": returning(`1`)})
	for _, cc := range []string{
		"%%%not-base64",
		base64.StdEncoding.EncodeToString([]byte("not json")),
		base64.StdEncoding.EncodeToString([]byte(`[1,2]`)),
	} {
		rec := f.do(http.MethodPost, "/@invoke/alpha", `{}`, map[string]string{HeaderClientContext: cc})
		assert.Equal(t, http.StatusBadRequest, rec.Code, cc)
		assert.Equal(t, invalidClientContextMsg, rec.Body.String())
		assert.Equal(t, ErrorTypeInvalidRequest, rec.Header().Get("x-amzn-errortype"))
		assertCosmeticHeaders(t, rec)
	}
	assert.Zero(t, f.runners["alpha"].count())
}

func TestEngine_ClientContextPropagated(t *testing.T) {
	f := newFixture(t, map[string]*fakeRunner{"alpha": returning(`1`)})
	cc := base64.StdEncoding.EncodeToString([]byte(`{"custom":{"user":"u1"}}`))
	rec := f.do(http.MethodPost, "/@invoke/alpha", `{"x":1}`, map[string]string{HeaderClientContext: cc})

	require.Equal(t, http.StatusOK, rec.Code)
	inv := f.runners["alpha"].last()
	assert.Equal(t, map[string]any{"custom": map[string]any{"user": "u1"}}, inv.ClientContext)
	assert.JSONEq(t, `{"x":1}`, string(inv.Event))
	assert.Equal(t, runtime.KindSync, inv.Kind)
	assert.Equal(t, rec.Header().Get("x-amzn-RequestId"), inv.RequestID)
	assert.False(t, inv.Deadline.IsZero())
}

func TestEngine_InvalidBody(t *testing.T) {
	f := newFixture(t, map[string]*fakeRunner{"alpha": returning(`1`)})
	for _, body := range []string{`{"a":`, `not json`, `{"a":1} {"b":2}`} {
		rec := f.do(http.MethodPost, "/@invoke/alpha", body, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), "Could not parse request body into json")
		assert.Equal(t, ErrorTypeInvalidRequest, rec.Header().Get("x-amzn-errortype"))
	}
	assert.Zero(t, f.runners["alpha"].count())
}

func TestEngine_EmptyBodyIsNullEvent(t *testing.T) {
	f := newFixture(t, map[string]*fakeRunner{"alpha": returning(`1`)})
	rec := f.do(http.MethodPost, "/@invoke/alpha", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "null", string(f.runners["alpha"].last().Event))
}

// detachedServer runs the engine behind a real listener so the test can
// observe that the response reached the client while the handler is blocked.
func detachedServer(t *testing.T, fn func(ctx context.Context, inv runtime.Invocation) (*runtime.Response, error)) (*httptest.Server, *fixture) {
	t.Helper()
	f := newFixture(t, map[string]*fakeRunner{"alpha": {fn: fn}})
	srv := httptest.NewServer(f.engine)
	t.Cleanup(srv.Close)
	return srv, f
}

func TestEngine_DetachedRespondsBeforeHandler(t *testing.T) {
	for _, tc := range []struct {
		typ    string
		status int
		kind   runtime.Kind
	}{
		{"Event", http.StatusAccepted, runtime.KindAsync},
		{"DryRun", http.StatusNoContent, runtime.KindSync},
	} {
		t.Run(tc.typ, func(t *testing.T) {
			release := make(chan struct{})
			finished := make(chan struct{})
			srv, f := detachedServer(t, func(ctx context.Context, inv runtime.Invocation) (*runtime.Response, error) {
				<-release
				close(finished)
				return &runtime.Response{Payload: []byte(`"ignored"`)}, nil
			})

			req, _ := http.NewRequest(http.MethodPost, srv.URL+"/@invoke/alpha", strings.NewReader(`{}`))
			req.Header.Set(HeaderInvocationType, tc.typ)
			resp, err := srv.Client().Do(req)
			require.NoError(t, err)
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			select {
			case <-finished:
				t.Fatal("handler completed before the response was sent")
			default:
			}
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Empty(t, body)
			assert.NotEmpty(t, resp.Header.Get("x-amzn-RequestId"))

			close(release)
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			require.NoError(t, f.engine.Wait(ctx))
			assert.Equal(t, 1, f.runners["alpha"].count())
			assert.Equal(t, tc.kind, f.runners["alpha"].last().Kind)
		})
	}
}

func TestEngine_DryRunHandlerThrows(t *testing.T) {
	srv, f := detachedServer(t, func(context.Context, runtime.Invocation) (*runtime.Response, error) {
		return nil, &runtime.HandlerError{Type: "Error", Message: "kaboom"}
	})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/@invoke/alpha", strings.NewReader(`{}`))
	req.Header.Set(HeaderInvocationType, "DryRun")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	require.NoError(t, f.engine.Wait(context.Background()))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("X-Amz-Function-Error"))
	assert.Equal(t, 1, f.runners["alpha"].count())
}

func TestEngine_SerializationIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]*fakeRunner{
		"object": returning(`{"a":1,"b":[true]}`),
		"string": returning(`"{\"a\":1,\"b\":[true]}"`),
	})
	a := f.do(http.MethodPost, "/@invoke/object", "", nil)
	b := f.do(http.MethodPost, "/@invoke/string", "", nil)
	require.Equal(t, http.StatusOK, a.Code)
	assert.Equal(t, a.Body.Bytes(), b.Body.Bytes())
}

func TestEngine_StreamedResponse(t *testing.T) {
	raw, err := codec.EncodeEventStream([]byte(`{"chunked":`), []byte(`"yes"}`))
	require.NoError(t, err)
	f := newFixture(t, map[string]*fakeRunner{"alpha": {fn: func(context.Context, runtime.Invocation) (*runtime.Response, error) {
		return &runtime.Response{Stream: raw}, nil
	}}})

	rec := f.do(http.MethodPost, "/@invoke/alpha", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"chunked":"yes"}`, rec.Body.String())
}

func TestEngine_HandlerError(t *testing.T) {
	f := newFixture(t, map[string]*fakeRunner{
		"typed": {fn: func(context.Context, runtime.Invocation) (*runtime.Response, error) {
			return nil, &runtime.HandlerError{Type: "TypeError", Message: "x is undefined", Trace: []string{"at handler (index.js:1)"}}
		}},
		"plain": {fn: func(context.Context, runtime.Invocation) (*runtime.Response, error) {
			return nil, errors.New("worker unavailable")
		}},
	})

	rec := f.do(http.MethodPost, "/@invoke/typed", `{}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "TypeError", rec.Header().Get("X-Amz-Function-Error"))
	assert.JSONEq(t, `{"errorType":"TypeError","errorMessage":"x is undefined","trace":["at handler (index.js:1)"]}`, rec.Body.String())
	assertCosmeticHeaders(t, rec)

	rec = f.do(http.MethodPost, "/@invoke/plain", `{}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "worker unavailable", rec.Header().Get("X-Amz-Function-Error"))
}

func TestEngine_InvokeEvent(t *testing.T) {
	f := newFixture(t, map[string]*fakeRunner{"alpha": returning(`{"ok":true}`)})

	res, err := f.engine.InvokeEvent(context.Background(), "alpha", []byte(`{"q":1}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(res.Payload))

	_, err = f.engine.InvokeEvent(context.Background(), "nope", nil)
	var le *LookupError
	require.ErrorAs(t, err, &le)

	_, err = f.engine.InvokeEvent(context.Background(), "alpha", []byte("plain text"))
	var pe *ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, f.runners["alpha"].count())
}
