package manifest

import "fmt"

// validateRoutes normalizes every custom route and checks that invoke routes
// point at a declared function.
func (c *Config) validateRoutes() error {
	for i := range c.Routes {
		r := &c.Routes[i]
		if err := r.normalize(); err != nil {
			return fmt.Errorf("route %d: %w", i, err)
		}
		if err := r.validate(); err != nil {
			return fmt.Errorf("route %d (%s): %w", i, r.Label(), err)
		}
		if r.Handler.Type == HandlerInvoke {
			if _, ok := c.Function(r.Handler.Function); !ok {
				return fmt.Errorf("route %d (%s): handler.function %q not declared", i, r.Label(), r.Handler.Function)
			}
		}
	}
	return nil
}
