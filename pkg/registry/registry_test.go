package registry

import (
	"context"
	"testing"

	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockRunner struct{ mock.Mock }

func (m *mockRunner) Invoke(ctx context.Context, inv runtime.Invocation) (*runtime.Response, error) {
	args := m.Called(ctx, inv)
	res, _ := args.Get(0).(*runtime.Response)
	return res, args.Error(1)
}
func (m *mockRunner) Rebuild(ctx context.Context) error { return m.Called(ctx).Error(0) }
func (m *mockRunner) Stop(ctx context.Context) error    { return m.Called(ctx).Error(0) }
func (m *mockRunner) State() runtime.State              { return runtime.StateReady }

func fn(name, alias string) manifest.Function {
	return manifest.Function{Name: name, OutName: alias, Runtime: "nodejs20.x", Handler: "h." + name, TimeoutS: 6}
}

func TestRegistry_RegisterLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(NewHandler(fn("hello", "hello-dev"))))
	require.NoError(t, r.Register(NewHandler(fn("world", ""))))

	h, ok := r.Lookup("hello")
	require.True(t, ok)
	assert.Equal(t, "hello", h.Name)

	h, ok = r.Lookup("hello-dev")
	require.True(t, ok)
	assert.Equal(t, "hello", h.Name)

	_, ok = r.Lookup("missing")
	assert.False(t, ok)

	names := []string{}
	for _, h := range r.Handlers() {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"hello", "world"}, names)
}

func TestRegistry_Conflicts(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(NewHandler(fn("hello", "alias"))))

	err := r.Register(NewHandler(fn("hello", "")))
	require.ErrorIs(t, err, ErrNameConflict)

	err = r.Register(NewHandler(fn("other", "hello")))
	require.ErrorIs(t, err, ErrNameConflict)

	err = r.Register(NewHandler(fn("alias", "")))
	require.ErrorIs(t, err, ErrNameConflict)

	// the failed registrations left nothing behind
	_, ok := r.Lookup("other")
	assert.False(t, ok)
	assert.Len(t, r.Handlers(), 1)

	require.Error(t, r.Register(NewHandler(manifest.Function{})))
}

func TestHandler_Invoke(t *testing.T) {
	h := NewHandler(fn("hello", ""))
	_, err := h.Invoke(context.Background(), runtime.Invocation{})
	require.ErrorIs(t, err, ErrNoRunner)

	m := &mockRunner{}
	m.On("Invoke", mock.Anything, mock.MatchedBy(func(inv runtime.Invocation) bool { return inv.RequestID == "abc" })).
		Return(&runtime.Response{Payload: []byte(`"ok"`)}, nil)
	h.SetRunner(m)

	res, err := h.Invoke(context.Background(), runtime.Invocation{RequestID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(res.Payload))
	m.AssertExpectations(t)
}

func TestRegistry_Stop(t *testing.T) {
	r := New()
	a, b := NewHandler(fn("a", "")), NewHandler(fn("b", ""))
	ma, mb := &mockRunner{}, &mockRunner{}
	ma.On("Stop", mock.Anything).Return(nil)
	mb.On("Stop", mock.Anything).Return(assert.AnError)
	a.SetRunner(ma)
	b.SetRunner(mb)
	require.NoError(t, r.Register(a))
	require.NoError(t, r.Register(b))

	err := r.Stop(context.Background())
	require.ErrorIs(t, err, assert.AnError)
	ma.AssertExpectations(t)
	mb.AssertExpectations(t)
}

func TestParseFunctionName(t *testing.T) {
	cases := map[string]string{
		"hello":                       "hello",
		"hello:prod":                  "hello",
		"hello%3Aprod":                "hello",
		"123456789012:function:hello": "hello",
		"arn:aws:lambda:us-east-1:123456789012:function:hello":         "hello",
		"arn:aws:lambda:us-east-1:123456789012:function:hello:$LATEST": "hello",
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseFunctionName(in), in)
	}
}
