package registry

import (
	"net/url"
	"strings"
)

// ParseFunctionName extracts the function name from an invocation path
// segment. Accepted forms:
//
//	my-function
//	my-function:qualifier
//	123456789012:function:my-function[:qualifier]
//	arn:aws:lambda:us-east-1:123456789012:function:my-function[:qualifier]
func ParseFunctionName(s string) string {
	if u, err := url.PathUnescape(s); err == nil {
		s = u
	}
	parts := strings.Split(s, ":")
	for i, p := range parts {
		if p == "function" && i+1 < len(parts) {
			return parts[i+1]
		}
	}
	return parts[0]
}
