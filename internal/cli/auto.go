package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newAutoCommand(app *App) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "auto",
		Short: "Offer to run every triggered chain",
		Long: `Check trigger conditions and ask whether to run each eligible chain.

Confirmation needs a terminal on stdin. Without one the triggers are only
listed, unless --yes is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			triggers := app.Engine.CheckTriggers(cmd.Context())
			app.Printer.Triggers(triggers)
			if len(triggers) == 0 {
				return nil
			}

			interactive := app.Interactive != nil && app.Interactive()
			if !yes && !interactive {
				app.Printer.Info("stdin is not a terminal; rerun with --yes to run these chains.")
				return nil
			}

			reader := bufio.NewReader(app.In)
			failed := 0
			for _, t := range triggers {
				if !yes {
					fmt.Fprintf(app.Printer.Writer(), "%s [y/N] ", t.Prompt)
					if !confirmed(reader) {
						continue
					}
				}
				if err := runChain(cmd, app, t.Name, nil); err != nil {
					failed++
				}
			}
			if failed > 0 {
				return NewExitError(1)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "run every triggered chain without asking")

	return cmd
}

func confirmed(r *bufio.Reader) bool {
	line, _ := r.ReadString('\n')
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}
