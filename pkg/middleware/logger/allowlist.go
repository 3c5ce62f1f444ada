package logger

import (
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// maxLoggedBody caps request bodies copied into the access log.
const maxLoggedBody = 1 << 16

var (
	bodyLogMu       sync.RWMutex
	bodyLogPrefixes []string
)

// LogBodiesUnder allowlists path prefixes whose small JSON request bodies
// (invocation events, mostly) are copied into the access log. Bodies are
// only captured while the debug level is enabled.
func LogBodiesUnder(prefixes ...string) {
	bodyLogMu.Lock()
	for _, p := range prefixes {
		if p = strings.TrimSpace(p); p != "" {
			bodyLogPrefixes = append(bodyLogPrefixes, p)
		}
	}
	bodyLogMu.Unlock()
}

func shouldCaptureBody(r *http.Request) bool {
	if !level.Enabled(zap.DebugLevel) {
		return false
	}
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return false
	}
	bodyLogMu.RLock()
	defer bodyLogMu.RUnlock()
	for _, p := range bodyLogPrefixes {
		if strings.HasPrefix(r.URL.Path, p) {
			return true
		}
	}
	return false
}

func shouldLogBody(r *http.Request, body []byte) bool {
	if len(body) == 0 || len(body) > maxLoggedBody {
		return false
	}
	ct := r.Header.Get("Content-Type")
	// The invoke API commonly receives events without a content type.
	if ct != "" && !strings.HasPrefix(ct, "application/json") {
		return false
	}
	return shouldCaptureBody(r)
}
