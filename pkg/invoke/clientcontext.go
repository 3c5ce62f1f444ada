package invoke

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

// DecodeClientContext decodes the base64 JSON x-amz-client-context header.
// An absent header decodes to nil. Anything but a JSON object is rejected.
func DecodeClientContext(header string) (any, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(header)
	if err != nil {
		// some SDKs strip padding
		if raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(header, "=")); err != nil {
			return nil, &ProtocolError{Reason: "client context is not base64", Err: err}
		}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, &ProtocolError{Reason: "client context is not JSON", Err: err}
	}
	if _, ok := v.(map[string]any); !ok {
		return nil, &ProtocolError{Reason: "client context is not a JSON object", Err: errors.New("unexpected JSON type")}
	}
	return v, nil
}
