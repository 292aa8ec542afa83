package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chainctl/internal/config"
	"chainctl/internal/server"
	"chainctl/internal/watch"
)

func newWatchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-check triggers whenever project files change",
		Long: `Watch the project tree and re-evaluate chain triggers after each burst of
changes. The chain store is reloaded first, so edits to chain definitions take
effect immediately. Stop with Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			w, err := newTriggerWatcher(app)
			if err != nil {
				return err
			}
			app.Printer.Triggers(app.Engine.CheckTriggers(ctx))
			return w.Run(ctx)
		},
	}
}

func newTriggerWatcher(app *App) (*watch.Watcher, error) {
	root := app.Config.Root
	if root == "" {
		root = "."
	}
	debounce := time.Duration(app.Config.Watch.DebounceMS) * time.Millisecond

	w, err := watch.New(root, debounce, func(ctx context.Context, paths []string) {
		app.Registry.Load()
		app.Printer.Triggers(app.Engine.CheckTriggers(ctx))
	}, app.Logger)
	if err != nil {
		return nil, err
	}
	w.SetIgnored(ignoredPaths(app.Config)...)
	return w, nil
}

// ignoredPaths lists the stores chainctl writes itself. The chain store is
// left out so definition edits are picked up.
func ignoredPaths(cfg *config.Config) []string {
	paths := []string{
		cfg.Resolve(cfg.Paths.State),
		cfg.Resolve(cfg.Paths.Context),
		cfg.Resolve(cfg.Paths.Checkpoints),
		cfg.Resolve(cfg.Paths.History),
		cfg.Resolve(cfg.State.SQLitePath),
	}
	for _, out := range cfg.Logging.Output {
		if out == "file" || out == "both" {
			paths = append(paths, cfg.Resolve(cfg.Logging.File))
			break
		}
	}
	return paths
}

func newServeCommand(app *App) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chain API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if addr == "" {
				addr = app.Config.Server.Addr
			}
			app.Printer.Info("Serving chain API on http://" + addr)
			return server.New(addr, app.Engine, app.Registry, app.Logger).ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")

	return cmd
}
