package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Route describes a user-declared custom route. Custom routes are consulted
// before the default dispatcher.
type Route struct {
	Methods []string `toml:"methods"`
	Path    string   `toml:"path"`
	Pattern string   `toml:"pattern"`
	Handler HSpec    `toml:"handler"`
}

type HSpec struct {
	Type        HandlerType `toml:"type"`
	Status      int         `toml:"status"`
	Body        string      `toml:"body"`
	ContentType string      `toml:"content_type"`
	Function    string      `toml:"function"`
	URL         string      `toml:"url"`
	Name        string      `toml:"name"`
}

// normalize path/methods/handler defaults
func (r *Route) normalize() error {
	r.Path = strings.TrimSpace(r.Path)
	r.Pattern = strings.TrimSpace(r.Pattern)
	if r.Path == "" && r.Pattern == "" {
		return errors.New("path or pattern is required")
	}
	if r.Path != "" && r.Pattern != "" {
		return errors.New("path and pattern are mutually exclusive")
	}
	if r.Path != "" {
		if !strings.HasPrefix(r.Path, "/") {
			r.Path = "/" + r.Path
		}
		if r.Path != "/" {
			r.Path = path.Clean(r.Path)
		}
	}

	methods := r.Methods[:0]
	for _, m := range r.Methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m != "" {
			methods = append(methods, m)
		}
	}
	r.Methods = methods

	r.Handler.Type = HandlerType(strings.ToLower(strings.TrimSpace(string(r.Handler.Type))))
	if r.Handler.Type == HandlerStatic && r.Handler.Status == 0 {
		r.Handler.Status = 200
	}
	return nil
}

// validate fields that are independent of global state.
func (r *Route) validate() error {
	if r.Pattern != "" {
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("pattern: %w", err)
		}
	}
	switch r.Handler.Type {
	case HandlerStatic:
		if r.Handler.Status < 100 || r.Handler.Status > 599 {
			return fmt.Errorf("handler.status %d invalid", r.Handler.Status)
		}
	case HandlerInvoke:
		if strings.TrimSpace(r.Handler.Function) == "" {
			return errors.New("handler.function required for invoke")
		}
	case HandlerProxy:
		if strings.TrimSpace(r.Handler.URL) == "" {
			return errors.New("handler.url required for proxy")
		}
		u, err := url.Parse(r.Handler.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("handler.url %q is not an absolute URL", r.Handler.URL)
		}
	case HandlerInproc:
		if strings.TrimSpace(r.Handler.Name) == "" {
			return errors.New("handler.name required for inproc")
		}
	default:
		return fmt.Errorf("unknown handler type %q", r.Handler.Type)
	}
	return nil
}

// Label renders the route for logs and error messages.
func (r Route) Label() string {
	m := "ANY"
	if len(r.Methods) > 0 {
		m = strings.Join(r.Methods, ",")
	}
	if r.Pattern != "" {
		return m + " ~" + r.Pattern
	}
	return m + " " + r.Path
}
