package invoke

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/joeydtaylor/steeze-offline/pkg/codec"
	"github.com/joeydtaylor/steeze-offline/pkg/runtime"
)

func marshal(v any) ([]byte, error) { return codec.JSONStrict.Marshal(v) }

// Serialize turns a runner response into the synchronous response body.
//
// Streamed responses are decoded from the event-stream framing. A JSON string
// whose content is itself JSON is written unquoted, so a handler returning
// JSON.stringify(x) and one returning x produce the same bytes. Falsy
// results (null, false, 0, "") produce an empty body.
func Serialize(res *runtime.Response) ([]byte, error) {
	if res == nil {
		return nil, nil
	}
	if len(res.Stream) > 0 {
		out, err := codec.DecodeEventStream(res.Stream)
		if err != nil {
			return out, fmt.Errorf("invoke: stream response: %w", err)
		}
		return out, nil
	}

	payload := bytes.TrimSpace(res.Payload)
	if isFalsy(payload) {
		return nil, nil
	}
	if payload[0] == '"' {
		var s string
		if err := json.Unmarshal(payload, &s); err == nil && json.Valid([]byte(s)) {
			return []byte(s), nil
		}
	}
	return payload, nil
}

func isFalsy(p []byte) bool {
	switch string(p) {
	case "", "null", "false", "0", `""`:
		return true
	}
	if p[0] == '"' {
		return false
	}
	var n json.Number
	if err := json.Unmarshal(p, &n); err == nil {
		if f, err := n.Float64(); err == nil && f == 0 {
			return true
		}
	}
	return false
}
