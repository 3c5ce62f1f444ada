package codec

import (
	"bytes"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
)

// Event types carried in the ":event-type" header of a streamed invocation.
const (
	EventPayloadChunk   = "PayloadChunk"
	EventInvokeComplete = "InvokeComplete"
)

// StreamError is reported by an InvokeComplete event that carries an error code.
type StreamError struct {
	Code    string
	Details string
}

func (e *StreamError) Error() string {
	if e.Details == "" {
		return "stream: " + e.Code
	}
	return fmt.Sprintf("stream: %s: %s", e.Code, e.Details)
}

// DecodeEventStream walks a buffered event stream and returns the concatenated
// payload chunks. A terminal InvokeComplete with an ErrorCode header yields the
// payload decoded so far together with a *StreamError.
func DecodeEventStream(raw []byte) ([]byte, error) {
	dec := eventstream.NewDecoder()
	r := bytes.NewReader(raw)
	var (
		out bytes.Buffer
		buf []byte
	)
	for r.Len() > 0 {
		msg, err := dec.Decode(r, buf)
		if err != nil {
			return out.Bytes(), fmt.Errorf("stream: decode: %w", err)
		}
		buf = msg.Payload[:0]

		switch headerString(msg.Headers, ":event-type") {
		case EventInvokeComplete:
			if code := headerString(msg.Headers, "ErrorCode"); code != "" {
				return out.Bytes(), &StreamError{Code: code, Details: headerString(msg.Headers, "ErrorDetails")}
			}
		default:
			out.Write(msg.Payload)
		}
	}
	return out.Bytes(), nil
}

// EncodeEventStream frames chunks as PayloadChunk events followed by an
// InvokeComplete event.
func EncodeEventStream(chunks ...[]byte) ([]byte, error) {
	enc := eventstream.NewEncoder()
	var out bytes.Buffer
	for _, c := range chunks {
		msg := eventstream.Message{Payload: c}
		msg.Headers.Set(":message-type", eventstream.StringValue("event"))
		msg.Headers.Set(":event-type", eventstream.StringValue(EventPayloadChunk))
		if err := enc.Encode(&out, msg); err != nil {
			return nil, fmt.Errorf("stream: encode: %w", err)
		}
	}
	done := eventstream.Message{}
	done.Headers.Set(":message-type", eventstream.StringValue("event"))
	done.Headers.Set(":event-type", eventstream.StringValue(EventInvokeComplete))
	if err := enc.Encode(&out, done); err != nil {
		return nil, fmt.Errorf("stream: encode: %w", err)
	}
	return out.Bytes(), nil
}

func headerString(hs eventstream.Headers, name string) string {
	v := hs.Get(name)
	if v == nil {
		return ""
	}
	return v.String()
}
