package main

import (
	"context"
	"os"

	"github.com/joeydtaylor/steeze-offline/pkg/server"
	"github.com/joeydtaylor/steeze-offline/pkg/serverfx"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

type serveFlags struct {
	config   string
	port     string
	static   string
	debug    bool
	debugger bool
}

func newServeCmd() *cobra.Command {
	f := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the emulator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.port != "" {
				if _, err := server.ParsePort(f.port); err != nil {
					return err
				}
			}
			return run(cmd.Context(), serverfx.Options{
				Service:      "steeze-offline",
				ManifestPath: f.config,
				Port:         f.port,
				StaticPath:   f.static,
				Debug:        f.debug,
				Debugger:     f.debugger,
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&f.config, "config", "c", envOr("STEEZE_MANIFEST", "manifest.toml"), "path to the manifest")
	flags.StringVarP(&f.port, "port", "p", "", "listen port (overrides server.port)")
	flags.StringVar(&f.static, "static", "", "directory served for unmatched GET requests")
	flags.BoolVar(&f.debug, "debug", false, "debug logging")
	flags.BoolVar(&f.debugger, "debugger", false, "a debugger is attached; disable invocation timeouts")
	return cmd
}

func newApp(opts serverfx.Options) *fx.App {
	return fx.New(
		serverfx.Module(opts),
		fx.WithLogger(func(l *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: l.Named("fx")}
		}),
	)
}

func run(ctx context.Context, opts serverfx.Options) error {
	app := newApp(opts)
	if err := app.Err(); err != nil {
		return err
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}

	sig := <-app.Wait()

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		return err
	}
	if sig.ExitCode != 0 {
		os.Exit(sig.ExitCode)
	}
	return nil
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
