// Package cli provides the command-line interface for chainctl.
//
// Invoked without arguments chainctl checks every chain's trigger conditions and
// lists the ones worth offering. Subcommands run chains, report run state, list
// checkpoints, and keep the checker running in the background (watch, serve).
//
// The CLI is built with Cobra. [App] holds every collaborator so tests can swap
// in mocks, and [RunWithConfig] returns an [ExecuteResult] instead of exiting.
package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/ternarybob/arbor"
	"golang.org/x/term"

	"chainctl/internal/chainctx"
	"chainctl/internal/checkpoint"
	"chainctl/internal/claude"
	"chainctl/internal/config"
	"chainctl/internal/engine"
	"chainctl/internal/executor"
	"chainctl/internal/expr"
	"chainctl/internal/history"
	"chainctl/internal/logging"
	"chainctl/internal/output"
	"chainctl/internal/registry"
	"chainctl/internal/runstate"
)

// App is the main application container holding all dependencies.
type App struct {
	Config      *config.Config
	Engine      *engine.Engine
	Registry    *registry.Registry
	Checkpoints *checkpoint.Store
	Printer     *output.Printer
	Logger      arbor.ILogger

	// In is read by `auto` for confirmations.
	In io.Reader

	// Interactive reports whether confirmations can be asked. Defaults to a
	// terminal check on stdin.
	Interactive func() bool

	closers []func() error
}

// NewApp wires every component from cfg.
func NewApp(cfg *config.Config, logger arbor.ILogger) (*App, error) {
	if logger == nil {
		logger = logging.Setup(cfg)
	}

	backend, closeBackend, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	state := runstate.NewStore(backend, logger)

	hist := history.NewStore(cfg.Resolve(cfg.Paths.History))
	shell := executor.NewShell(cfg.Shell)

	evaluator := expr.NewEvaluator(cfg.Root, shell, hist)
	evaluator.SetTestCommand(cfg.TestCommand)
	evaluator.SetLogger(logger)

	assistant := claude.NewExecutor(claude.Config{
		BinaryPath:   cfg.Claude.BinaryPath,
		OutputFormat: cfg.Claude.OutputFormat,
		Model:        cfg.Claude.Model,
		Dir:          cfg.Root,
	}, logger)

	reg := registry.New(cfg.Resolve(cfg.Paths.Chains), logger)
	reg.Load()

	checkpoints := checkpoint.NewStore(cfg.Resolve(cfg.Paths.Checkpoints))

	eng := engine.New(
		reg,
		state,
		evaluator,
		executor.NewCommands(cfg.Root, shell, assistant, hist, logger),
		executor.NewAgents(assistant),
	)
	eng.SetContextStore(chainctx.NewManager(cfg.Resolve(cfg.Paths.Context)))
	eng.SetCheckpointStore(checkpoints)
	eng.SetLogger(logger)

	app := &App{
		Config:      cfg,
		Engine:      eng,
		Registry:    reg,
		Checkpoints: checkpoints,
		Printer:     output.NewPrinter(),
		Logger:      logger,
		In:          os.Stdin,
		Interactive: stdinIsTerminal,
	}
	if closeBackend != nil {
		app.closers = append(app.closers, closeBackend)
	}
	return app, nil
}

func openBackend(cfg *config.Config) (runstate.Backend, func() error, error) {
	switch cfg.State.Backend {
	case "", "file":
		return runstate.NewFileBackend(cfg.Resolve(cfg.Paths.State)), nil, nil
	case "sqlite":
		path := cfg.Resolve(cfg.State.SQLitePath)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
		}
		db, err := runstate.OpenSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}

// Close releases resources held by the app.
func (a *App) Close() error {
	var firstErr error
	for _, c := range a.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// NewRootCommand creates the root cobra command with all subcommands registered.
func NewRootCommand(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "chainctl",
		Short: "Workflow chain orchestration",
		Long: `chainctl runs named multi-step workflows ("chains") defined in .claude/chains.yaml.

Without arguments it evaluates every chain's trigger conditions and lists the
chains that are ready to run. It always exits 0 in that mode.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app.Printer.Triggers(app.Engine.CheckTriggers(cmd.Context()))
			return nil
		},
	}

	rootCmd.AddCommand(
		newRunCommand(app),
		newStatusCommand(app),
		newListCommand(app),
		newRemoveCommand(app),
		newCheckpointsCommand(app),
		newAutoCommand(app),
		newWatchCommand(app),
		newServeCommand(app),
	)

	return rootCmd
}

// ExecuteResult is the outcome of a CLI run.
type ExecuteResult struct {
	ExitCode int
	Err      error
}

// RunWithConfig builds the app from cfg and runs the CLI with os.Args.
func RunWithConfig(cfg *config.Config) ExecuteResult {
	app, err := NewApp(cfg, nil)
	if err != nil {
		return ExecuteResult{ExitCode: 1, Err: err}
	}
	defer app.Close()

	return run(NewRootCommand(app))
}

func run(cmd *cobra.Command) ExecuteResult {
	if err := cmd.Execute(); err != nil {
		if code, ok := IsExitError(err); ok {
			return ExecuteResult{ExitCode: code, Err: err}
		}
		return ExecuteResult{ExitCode: 1, Err: err}
	}
	return ExecuteResult{}
}

// Execute is the entry point called by main.
func Execute() {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.NewLoader().Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	result := RunWithConfig(cfg)
	if result.Err != nil {
		if _, ok := IsExitError(result.Err); !ok {
			fmt.Fprintf(os.Stderr, "Error: %v\n", result.Err)
		}
	}
	os.Exit(result.ExitCode)
}
