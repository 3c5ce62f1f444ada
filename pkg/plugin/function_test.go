package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFunction_SameHandle(t *testing.T) {
	pc, _ := newCtx(t)
	assert.Same(t, pc.Function("hello"), pc.Function("hello"))
	assert.Equal(t, "hello", pc.Function("hello").Name())
}

func TestBeforeInvoke_ChainsReplacements(t *testing.T) {
	pc, logs := newCtx(t)
	s := NewSet(nil, pc)
	var seen []string
	f := pc.Function("hello")
	f.OnInvoke(func(_ context.Context, ev json.RawMessage, info InvokeInfo) json.RawMessage {
		seen = append(seen, string(ev))
		assert.Equal(t, InvokeInfo{Function: "hello", RequestID: "r1"}, info)
		return json.RawMessage(`{"step":1}`)
	})
	f.OnInvoke(func(_ context.Context, ev json.RawMessage, _ InvokeInfo) json.RawMessage {
		seen = append(seen, string(ev))
		return nil
	})
	f.OnInvoke(func(context.Context, json.RawMessage, InvokeInfo) json.RawMessage {
		return json.RawMessage(`not json`)
	})
	f.OnInvoke(func(context.Context, json.RawMessage, InvokeInfo) json.RawMessage {
		panic("bad hook")
	})

	out := s.BeforeInvoke(context.Background(), "hello", "r1", json.RawMessage(`{"step":0}`))
	assert.JSONEq(t, `{"step":1}`, string(out))
	assert.Equal(t, []string{`{"step":0}`, `{"step":1}`}, seen)
	assert.Equal(t, 1, logs.FilterMessage("onInvoke returned invalid JSON; event unchanged").Len())
	assert.Equal(t, 1, logs.FilterMessage("function hook failed").Len())

	assert.Nil(t, s.BeforeInvoke(context.Background(), "other", "r2", json.RawMessage(`1`)))
}

func TestAfterInvoke_SuccessAndError(t *testing.T) {
	pc, _ := newCtx(t)
	s := NewSet(nil, pc)
	var (
		outputs []string
		errs    []string
	)
	f := pc.Function("hello")
	f.OnInvokeSuccess(func(_ context.Context, in json.RawMessage, out *runtime.Response, _ InvokeInfo) {
		outputs = append(outputs, string(in)+"->"+string(out.Payload))
	})
	f.OnInvokeError(func(_ context.Context, in json.RawMessage, err error, _ InvokeInfo) {
		errs = append(errs, string(in)+"->"+err.Error())
	})

	s.AfterInvoke(context.Background(), "hello", "r1", json.RawMessage(`1`), &runtime.Response{Payload: json.RawMessage(`2`)}, nil)
	s.AfterInvoke(context.Background(), "hello", "r2", json.RawMessage(`3`), nil, errors.New("boom"))
	s.AfterInvoke(context.Background(), "other", "r3", json.RawMessage(`4`), nil, errors.New("ignored"))

	assert.Equal(t, []string{"1->2"}, outputs)
	assert.Equal(t, []string{"3->boom"}, errs)
}

func TestSetEnv_OnlyDuringInit(t *testing.T) {
	pc, logs := newCtx(t)
	s := NewSet([]Plugin{{Name: "env", OnInit: func(_ context.Context, pc *Context) error {
		pc.Function("hello").SetEnv("STAGE", "local")
		pc.Function("hello").UnsetEnv("SECRET")
		return nil
	}}}, pc)
	s.Init(context.Background())
	pc.Function("hello").SetEnv("LATE", "x")
	assert.Equal(t, 1, logs.FilterMessage("SetEnv called outside OnInit; ignored").Len())

	fns := []manifest.Function{
		{Name: "hello", Environment: map[string]string{"SECRET": "s", "KEEP": "k"}},
		{Name: "other", Environment: map[string]string{"SECRET": "s"}},
	}
	out := pc.ApplyEnv(fns)
	require.Len(t, out, 2)
	assert.Equal(t, map[string]string{"STAGE": "local", "KEEP": "k"}, out[0].Environment)
	assert.Equal(t, map[string]string{"SECRET": "s"}, out[1].Environment)
	assert.Equal(t, map[string]string{"SECRET": "s", "KEEP": "k"}, fns[0].Environment, "input untouched")
}
