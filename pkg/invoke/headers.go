package invoke

import "github.com/google/uuid"

const (
	HeaderInvocationType  = "X-Amz-Invocation-Type"
	HeaderClientContext   = "X-Amz-Client-Context"
	HeaderRequestID       = "X-Amzn-Requestid"
	HeaderTraceID         = "X-Amzn-Trace-Id"
	HeaderExecutedVersion = "X-Amz-Executed-Version"
	HeaderErrorType       = "X-Amzn-Errortype"
	HeaderFunctionError   = "X-Amz-Function-Error"
)

// ExecutedVersion is the only version the emulator serves.
const ExecutedVersion = "$LATEST"

// TraceID is the synthetic trace header value; clients only check presence.
const TraceID = "root=1-xxxxxxx-xxxxxxxxxxxxxxxxxxxxxxxx;sampled=0"

// NewRequestID returns a fresh request id.
func NewRequestID() string { return uuid.NewString() }
