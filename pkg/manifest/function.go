package manifest

import (
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Function declares one handler the emulator loads at startup.
type Function struct {
	Name        string            `toml:"name"`
	OutName     string            `toml:"out_name"`
	Runtime     string            `toml:"runtime"`
	Handler     string            `toml:"handler"`
	Dir         string            `toml:"dir"`
	TimeoutS    float64           `toml:"timeout_s"`
	Environment map[string]string `toml:"environment"`
	Watch       []string          `toml:"watch"`
	Events      []Event           `toml:"event"`
}

type Event struct {
	HTTP *HTTPEvent `toml:"http"`
}

// HTTPEvent exposes a function through the default dispatcher.
type HTTPEvent struct {
	Method     string `toml:"method"`
	Path       string `toml:"path"`
	Private    bool   `toml:"private"`
	Authorizer string `toml:"authorizer"`
}

// Timeout returns the per-invocation timeout.
func (f Function) Timeout() time.Duration {
	return time.Duration(f.TimeoutS * float64(time.Second))
}

func (f *Function) normalize() error {
	f.Name = strings.TrimSpace(f.Name)
	f.OutName = strings.TrimSpace(f.OutName)
	f.Runtime = strings.ToLower(strings.TrimSpace(f.Runtime))
	if f.Name == "" {
		return errors.New("name is required")
	}
	if f.Runtime == "" {
		return errors.New("runtime is required")
	}
	if strings.TrimSpace(f.Handler) == "" {
		return errors.New("handler is required")
	}
	if f.TimeoutS == 0 {
		f.TimeoutS = DefaultTimeoutS
	}
	if f.TimeoutS < 0 {
		return errors.New("timeout_s must be >= 0")
	}
	for i := range f.Events {
		h := f.Events[i].HTTP
		if h == nil {
			continue
		}
		h.Method = strings.ToUpper(strings.TrimSpace(h.Method))
		if h.Method == "" || h.Method == MethodAny {
			h.Method = "*"
		}
		if h.Path == "" {
			return fmt.Errorf("event %d: http.path is required", i)
		}
		if !strings.HasPrefix(h.Path, "/") {
			h.Path = "/" + h.Path
		}
		if h.Path != "/" {
			h.Path = path.Clean(h.Path)
		}
		h.Authorizer = strings.ToLower(strings.TrimSpace(h.Authorizer))
		switch h.Authorizer {
		case "", "jwt":
		default:
			return fmt.Errorf("event %d: authorizer %q unsupported", i, h.Authorizer)
		}
	}
	return nil
}

// validateFunctions rejects duplicate names; a name may not collide with
// another function's out_name either.
func (c *Config) validateFunctions() error {
	seen := map[string]string{}
	claim := func(key, owner string) error {
		if key == "" {
			return nil
		}
		if prev, ok := seen[key]; ok && prev != owner {
			return fmt.Errorf("function %q: name %q already used by %q", owner, key, prev)
		}
		seen[key] = owner
		return nil
	}
	for i := range c.Functions {
		f := &c.Functions[i]
		if err := f.normalize(); err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("function %q declared twice", f.Name)
		}
		if err := claim(f.Name, f.Name); err != nil {
			return err
		}
		if err := claim(f.OutName, f.Name); err != nil {
			return err
		}
	}
	return nil
}
