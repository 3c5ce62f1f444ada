package invoke

import (
	"fmt"
)

// Values of the x-amzn-errortype header.
const (
	ErrorTypeNotFound       = "ResourceNotFoundException"
	ErrorTypeInvalidRequest = "InvalidRequestContentException"
)

// Wire bodies for rejected requests.
const (
	invalidClientContextMsg = `{"Type":"User","message":"Client context must be a valid Base64-encoded JSON object."}`
)

func invalidPayloadMsg(reason string) string {
	return jsonMessage("Could not parse request body into json: " + reason)
}

func notFoundMsg(name string) string {
	return jsonMessage("Function not found: arn:aws:lambda:us-east-1:123456789012:function:" + name)
}

func jsonMessage(msg string) string {
	b, _ := marshal(map[string]string{"Type": "User", "message": msg})
	return string(b)
}

// ProtocolError is a malformed client context or request body. The caller
// gets a 400 and the handler never runs.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "invoke: " + e.Reason
	}
	return fmt.Sprintf("invoke: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// LookupError is an invocation of a name no handler answers to.
type LookupError struct {
	Name string
}

func (e *LookupError) Error() string { return "invoke: function not found: " + e.Name }

// TransportError is a failure reading the request from the socket.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "invoke: read request: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }
