package codec

import (
	"bytes"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	v, err := Parse([]byte(`{"a":1}`))
	require.NoError(t, err)
	assert.IsType(t, map[string]any{}, v)

	v, err = Parse([]byte("  "))
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Parse([]byte(`{"a":1} trailing`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"a":`))
	require.Error(t, err)
}

func TestEventStream_RoundTrip(t *testing.T) {
	raw, err := EncodeEventStream([]byte(`{"hello":`), []byte(`"world"}`))
	require.NoError(t, err)

	out, err := DecodeEventStream(raw)
	require.NoError(t, err)
	assert.Equal(t, `{"hello":"world"}`, string(out))
}

func TestEventStream_InvokeCompleteError(t *testing.T) {
	var buf bytes.Buffer
	enc := eventstream.NewEncoder()

	chunk := eventstream.Message{Payload: []byte("partial")}
	chunk.Headers.Set(":event-type", eventstream.StringValue(EventPayloadChunk))
	require.NoError(t, enc.Encode(&buf, chunk))

	done := eventstream.Message{}
	done.Headers.Set(":event-type", eventstream.StringValue(EventInvokeComplete))
	done.Headers.Set("ErrorCode", eventstream.StringValue("Runtime.ExitError"))
	done.Headers.Set("ErrorDetails", eventstream.StringValue("exit status 1"))
	require.NoError(t, enc.Encode(&buf, done))

	out, err := DecodeEventStream(buf.Bytes())
	var se *StreamError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Runtime.ExitError", se.Code)
	assert.Equal(t, "partial", string(out))
}

func TestEventStream_Garbage(t *testing.T) {
	_, err := DecodeEventStream([]byte("not an event stream at all"))
	require.Error(t, err)
}
