package manifest

import (
	"errors"
	"fmt"
	"strings"
)

// Config is the top-level manifest.
type Config struct {
	// APIKeys holds the raw key declarations: names, {value = "..."} tables
	// or usage-plan tables grouping further declarations.
	APIKeys   []any      `toml:"api_keys"`
	Server    Server     `toml:"server"`
	Functions []Function `toml:"function"`
	Routes    []Route    `toml:"route"`
}

// Server holds listener and front-end settings.
type Server struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	StaticPath     string `toml:"static_path"`
	Debug          bool   `toml:"debug"`
	MaxHeaderBytes int    `toml:"max_header_bytes"`
	MetricsPath    string `toml:"metrics_path"`
}

// Validate normalizes the manifest in place and reports the first problem found.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Server.MaxHeaderBytes == 0 {
		c.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if c.Server.MaxHeaderBytes < 0 {
		return errors.New("server.max_header_bytes must be >= 0")
	}
	c.Server.MetricsPath = strings.TrimSpace(c.Server.MetricsPath)
	if c.Server.MetricsPath == "" {
		c.Server.MetricsPath = DefaultMetricsPath
	}
	if !strings.HasPrefix(c.Server.MetricsPath, "/") {
		c.Server.MetricsPath = "/" + c.Server.MetricsPath
	}

	if err := c.validateFunctions(); err != nil {
		return err
	}
	if err := c.validateRoutes(); err != nil {
		return err
	}
	return validateKeys(c.APIKeys)
}

// Function returns the declared function with the given name.
func (c *Config) Function(name string) (Function, bool) {
	for _, f := range c.Functions {
		if f.Name == name || (f.OutName != "" && f.OutName == name) {
			return f, true
		}
	}
	return Function{}, false
}

// validateKeys only checks shapes; secret generation happens in pkg/apikeys.
func validateKeys(decls []any) error {
	for i, d := range decls {
		switch v := d.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return fmt.Errorf("api_keys[%d]: empty key name", i)
			}
		case map[string]any:
			if val, ok := v["value"]; ok {
				if _, ok := val.(string); !ok {
					return fmt.Errorf("api_keys[%d]: value must be a string", i)
				}
				continue
			}
			for plan, group := range v {
				arr, ok := group.([]any)
				if !ok {
					return fmt.Errorf("api_keys[%d].%s: usage plan must hold an array", i, plan)
				}
				if err := validateKeys(arr); err != nil {
					return fmt.Errorf("api_keys[%d].%s: %w", i, plan, err)
				}
			}
		default:
			return fmt.Errorf("api_keys[%d]: unsupported declaration %T", i, d)
		}
	}
	return nil
}
