package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"chainctl/internal/chainctx"
	"chainctl/internal/checkpoint"
	"chainctl/internal/config"
	"chainctl/internal/engine"
	"chainctl/internal/executor"
	"chainctl/internal/expr"
	"chainctl/internal/logging"
	"chainctl/internal/output"
	"chainctl/internal/registry"
	"chainctl/internal/runstate"
)

// testApp bundles an App wired to mocks with the buffers tests inspect.
type testApp struct {
	*App
	Out      *bytes.Buffer
	Commands *executor.MockCommands
	Agents   *executor.MockAgents
	Root     string
}

// newTestApp creates an App over a temporary project whose chain store holds chainsYAML.
//
// Commands and agents are mocks and run state is kept in memory; the context and
// checkpoint stores are real files under the temporary root.
func newTestApp(t *testing.T, chainsYAML string) *testApp {
	t.Helper()

	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Root = root

	chainsPath := cfg.Resolve(cfg.Paths.Chains)
	writeFile(t, chainsPath, chainsYAML)

	logger := logging.NewForTest()
	reg := registry.New(chainsPath, logger)
	reg.Load()

	commands := &executor.MockCommands{}
	agents := &executor.MockAgents{}
	checkpoints := checkpoint.NewStore(cfg.Resolve(cfg.Paths.Checkpoints))

	eng := engine.New(
		reg,
		runstate.NewStore(runstate.NewMemoryBackend(), logger),
		expr.NewEvaluator(root, &expr.MockRunner{}, nil),
		commands,
		agents,
	)
	eng.SetContextStore(chainctx.NewManager(cfg.Resolve(cfg.Paths.Context)))
	eng.SetCheckpointStore(checkpoints)
	eng.SetLogger(logger)

	out := &bytes.Buffer{}
	return &testApp{
		App: &App{
			Config:      cfg,
			Engine:      eng,
			Registry:    reg,
			Checkpoints: checkpoints,
			Printer:     output.NewPrinterWithWriter(out),
			Logger:      logger,
			In:          strings.NewReader(""),
			Interactive: func() bool { return false },
		},
		Out:      out,
		Commands: commands,
		Agents:   agents,
		Root:     root,
	}
}

// execute runs the root command with args against app.
func (a *testApp) execute(args ...string) ExecuteResult {
	cmd := NewRootCommand(a.App)
	cmd.SetArgs(args)
	cmd.SetOut(a.Out)
	cmd.SetErr(a.Out)
	return run(cmd)
}

// writeFile creates path and any missing parent directories.
func writeFile(t *testing.T, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
