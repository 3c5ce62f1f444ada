package invoke

import "net/http"

// Type is the invocation type selected by the x-amz-invocation-type header.
type Type string

const (
	RequestResponse Type = "RequestResponse"
	Event           Type = "Event"
	DryRun          Type = "DryRun"
)

// Classify maps the header value to a Type. Anything that is not Event or
// DryRun is synchronous.
func Classify(header string) Type {
	switch header {
	case string(Event):
		return Event
	case string(DryRun):
		return DryRun
	default:
		return RequestResponse
	}
}

// Status is the HTTP status a successful request of this type answers with.
func (t Type) Status() int {
	switch t {
	case Event:
		return http.StatusAccepted
	case DryRun:
		return http.StatusNoContent
	default:
		return http.StatusOK
	}
}

// Detached reports whether the response is sent before the handler runs.
func (t Type) Detached() bool { return t != RequestResponse }
