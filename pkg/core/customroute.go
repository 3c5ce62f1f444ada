package core

import (
	"net/http"
	"regexp"
	"strings"

	manifest "github.com/joeydtaylor/steeze-offline/pkg/manifest"
)

// CustomRoute overrides the default dispatcher for matching requests.
// Empty Methods, or Methods containing ANY, matches every method. Exactly
// one of Path or Pattern is used; Path wins when both are set.
type CustomRoute struct {
	Name    string
	Methods []string
	Path    string
	Pattern *regexp.Regexp
	Handler http.Handler
}

func withSlash(p string) string {
	if strings.HasSuffix(p, "/") {
		return p
	}
	return p + "/"
}

// Match reports whether the route applies. Both the declared path and the
// request path are compared with a trailing slash.
func (c CustomRoute) Match(method, path string) bool {
	return c.matchPath(path) && c.matchMethod(method)
}

func (c CustomRoute) matchPath(path string) bool {
	path = withSlash(path)
	switch {
	case c.Path != "":
		return withSlash(c.Path) == path
	case c.Pattern != nil:
		return c.Pattern.MatchString(path)
	default:
		return false
	}
}

func (c CustomRoute) matchMethod(method string) bool {
	if len(c.Methods) == 0 {
		return true
	}
	for _, m := range c.Methods {
		if strings.EqualFold(m, manifest.MethodAny) {
			return true
		}
	}
	for _, m := range c.Methods {
		if strings.EqualFold(m, method) {
			return true
		}
	}
	return false
}

func (c CustomRoute) label() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Pattern != nil {
		return "~" + c.Pattern.String()
	}
	return c.Path
}
