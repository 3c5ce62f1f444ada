package metrics

import (
	"net/http"
	"strings"
	"sync"
)

var (
	skipMu    sync.RWMutex
	skipPaths = map[string]struct{}{"/@metrics": {}}
)

// AddMetricsSkipPaths excludes more paths from the HTTP counters; the
// metrics route itself is always excluded.
func AddMetricsSkipPaths(paths ...string) {
	skipMu.Lock()
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p != "" {
			skipPaths[p] = struct{}{}
		}
	}
	skipMu.Unlock()
}

func isSkipPath(r *http.Request) bool {
	skipMu.RLock()
	_, ok := skipPaths[r.URL.Path]
	skipMu.RUnlock()
	return ok
}

// invocationPrefixes are the invoke API roots. Requests under them are
// labelled by function rather than by their full path so qualifiers and
// trailing segments do not create new series.
var invocationPrefixes = []string{"/2015-03-31/functions/", "/@invoke/"}

// uriLabel returns the "uri" label for r.
func uriLabel(r *http.Request) string {
	p := r.URL.Path
	for _, prefix := range invocationPrefixes {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok {
			continue
		}
		name, _, _ := strings.Cut(rest, "/")
		if i := strings.IndexByte(name, ':'); i >= 0 && !strings.HasPrefix(name, "arn") {
			name = name[:i]
		}
		return prefix + name
	}
	return p
}
