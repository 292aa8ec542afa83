package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chainctl/internal/engine"
)

func newRunCommand(app *App) *cobra.Command {
	var sets []string

	cmd := &cobra.Command{
		Use:   "run <chain>",
		Short: "Run a chain",
		Long: `Run a chain's steps in order, checking prerequisites first.

Context values may be supplied with --set and are available to steps as ${key}.

Example:
  chainctl run release --set version=1.4.0`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides, err := parseSets(sets)
			if err != nil {
				return err
			}
			return runChain(cmd, app, args[0], overrides)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "context value as key=value (repeatable)")

	return cmd
}

// runChain executes name and maps its result onto an exit code.
func runChain(cmd *cobra.Command, app *App, name string, overrides map[string]any) error {
	app.Engine.SetProgressCallback(app.Printer.StepStart)
	app.Printer.ChainStart(name)

	res := app.Engine.ExecuteChain(cmd.Context(), name, engine.Options{Context: overrides})
	if errors.Is(res.Err, engine.ErrChainNotFound) {
		app.Printer.Error(res.Error)
		return NewExitError(1)
	}

	app.Printer.Result(res)
	if !res.Success {
		return NewExitError(1)
	}
	return nil
}

func parseSets(sets []string) (map[string]any, error) {
	if len(sets) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(sets))
	for _, s := range sets {
		key, value, ok := strings.Cut(s, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --set %q: expected key=value", s)
		}
		out[key] = value
	}
	return out, nil
}
