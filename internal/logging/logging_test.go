package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chainctl/internal/config"
)

func TestSetup(t *testing.T) {
	tests := []struct {
		name     string
		output   []string
		wantFile bool
	}{
		{name: "console only", output: []string{"console"}},
		{name: "file only", output: []string{"file"}, wantFile: true},
		{name: "both", output: []string{"both"}, wantFile: true},
		{name: "nothing falls back to console", output: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Root = t.TempDir()
			cfg.Logging.Output = tt.output
			cfg.Logging.Level = "debug"

			logger := Setup(cfg)
			require.NotNil(t, logger)
			logger.Info().Str("test", tt.name).Msg("hello")

			_, err := os.Stat(filepath.Dir(cfg.Resolve(cfg.Logging.File)))
			if tt.wantFile {
				assert.NoError(t, err)
			} else {
				assert.True(t, os.IsNotExist(err))
			}
		})
	}
}

func TestSetup_UnwritableLogDir(t *testing.T) {
	root := t.TempDir()
	blocker := filepath.Join(root, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	cfg := config.DefaultConfig()
	cfg.Root = root
	cfg.Logging.Output = []string{"file"}
	cfg.Logging.File = "blocker/sub/chainctl.log"

	assert.NotNil(t, Setup(cfg))
}

func TestNewForTest(t *testing.T) {
	logger := NewForTest()
	require.NotNil(t, logger)
	logger.Warn().Msg("discarded")
}
