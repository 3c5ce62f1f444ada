package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"syscall"
)

// ConfigurationError reports an invalid startup parameter. It is fatal and
// always raised before a socket is opened.
type ConfigurationError struct {
	Field string
	Value string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("server: invalid %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// BindError wraps a failure to open the listening socket.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return "server: listen " + e.Addr + ": " + e.Err.Error() }
func (e *BindError) Unwrap() error { return e.Err }

// AddrInUse reports whether another process already holds the address.
func (e *BindError) AddrInUse() bool { return errors.Is(e.Err, syscall.EADDRINUSE) }

var errPortRange = errors.New("must be between 0 and 65535")

// ParsePort accepts a decimal port number. 0 asks the OS for a free port.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, &ConfigurationError{Field: "port", Value: s, Err: err}
	}
	if p < 0 || p > 65535 {
		return 0, &ConfigurationError{Field: "port", Value: s, Err: errPortRange}
	}
	return p, nil
}
