// bundlefx/bundlefx.go
package bundlefx

import (
	"github.com/joeydtaylor/steeze-offline/pkg/middleware/logger"
	"github.com/joeydtaylor/steeze-offline/pkg/middleware/metrics"
	"go.uber.org/fx"
)

// Module provides the HTTP middleware stack: access logging, the system
// logger and the named metrics handler.
var Module = fx.Options(
	logger.Module,
	metrics.Module,
)
