package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"chainctl/internal/engine"
)

func newStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show running, completed and failed chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app.Printer.Status(app.Engine.Status(cmd.Context()))
			return nil
		},
	}
}

func newListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List defined chains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app.Printer.Chains(app.Registry.All())
			return nil
		},
	}
}

func newRemoveCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <chain>",
		Short: "Remove a chain definition",
		Long: `Remove a chain from the chain store.

Chains referenced by run state (running, completed or failed) cannot be removed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := app.Engine.RemoveChain(cmd.Context(), args[0])
			switch {
			case err == nil:
				app.Printer.Info("Removed chain " + args[0] + ".")
				return nil
			case errors.Is(err, engine.ErrChainNotFound), errors.Is(err, engine.ErrChainInUse):
				app.Printer.Error(err.Error())
				return NewExitError(1)
			default:
				return err
			}
		},
	}
}

func newCheckpointsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "checkpoints <chain>",
		Short: "List checkpoints recorded for a chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cps, err := app.Checkpoints.List(args[0])
			if err != nil {
				app.Printer.Error(err.Error())
				return NewExitError(1)
			}
			app.Printer.Checkpoints(args[0], cps)
			return nil
		},
	}
}
