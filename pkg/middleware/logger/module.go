package logger

import (
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func ProvideLoggerMiddleware() *Middleware { return &Middleware{} }

// ProvideLogger returns the daemon logger; runner output and lifecycle
// events land in log/steeze-offline.log.
func ProvideLogger() *zap.Logger { return NewLog("steeze-offline.log") }

var Module = fx.Options(
	fx.Provide(ProvideLoggerMiddleware),
	fx.Provide(ProvideLogger),
	fx.Invoke(registerSync),
)

// registerSync flushes buffered entries when the app stops.
func registerSync(lc fx.Lifecycle, l *zap.Logger) {
	lc.Append(fx.StopHook(func() { _ = l.Sync() }))
}
