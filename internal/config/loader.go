package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment override.
const EnvPrefix = "CHAINCTL"

// ConfigPathEnv names the environment variable holding an explicit config file path.
const ConfigPathEnv = "CHAINCTL_CONFIG_PATH"

// Loader handles Viper-based configuration loading.
//
// Create with [NewLoader]. Each Loader owns a private viper instance, so loaders
// never share state through the viper global.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a [Loader] with defaults and environment bindings registered.
func NewLoader() *Loader {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short aliases kept for the most common overrides.
	_ = v.BindEnv("claude.binary_path", "CHAINCTL_CLAUDE_PATH")
	_ = v.BindEnv("logging.level", "CHAINCTL_LOG_LEVEL")
	_ = v.BindEnv("state.backend", "CHAINCTL_STATE_BACKEND")

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("root", d.Root)
	v.SetDefault("paths.chains", d.Paths.Chains)
	v.SetDefault("paths.state", d.Paths.State)
	v.SetDefault("paths.context", d.Paths.Context)
	v.SetDefault("paths.checkpoints", d.Paths.Checkpoints)
	v.SetDefault("paths.history", d.Paths.History)
	v.SetDefault("state.backend", d.State.Backend)
	v.SetDefault("state.sqlite_path", d.State.SQLitePath)
	v.SetDefault("shell", d.Shell)
	v.SetDefault("test_command", d.TestCommand)
	v.SetDefault("claude.binary_path", d.Claude.BinaryPath)
	v.SetDefault("claude.output_format", d.Claude.OutputFormat)
	v.SetDefault("claude.model", d.Claude.Model)
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("watch.debounce_ms", d.Watch.DebounceMS)
}

// Load reads configuration following the documented priority order.
//
// A missing config file is not an error; defaults and environment overrides still
// apply. An unreadable or malformed file that was found is an error.
func (l *Loader) Load() (*Config, error) {
	if path := os.Getenv(ConfigPathEnv); path != "" {
		return l.LoadFromFile(path)
	}

	for _, candidate := range searchPaths() {
		if _, err := os.Stat(candidate); err == nil {
			return l.LoadFromFile(candidate)
		}
	}

	return l.unmarshal()
}

// LoadFromFile reads the config file at path on top of defaults and env overrides.
// The format is inferred from the file extension.
func (l *Loader) LoadFromFile(path string) (*Config, error) {
	l.v.SetConfigFile(path)
	if err := l.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error decoding config: %w", err)
	}
	if cfg.State.Backend != "file" && cfg.State.Backend != "sqlite" {
		return nil, fmt.Errorf("invalid state backend %q: want file or sqlite", cfg.State.Backend)
	}
	return &cfg, nil
}

// MustLoad loads configuration and panics on error. Intended for main.
func MustLoad() *Config {
	cfg, err := NewLoader().Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func searchPaths() []string {
	var paths []string
	if p, err := DefaultConfigPath(); err == nil {
		paths = append(paths, p)
	}
	return append(paths,
		filepath.Join(".claude", "chainctl.yaml"),
		"chainctl.yaml",
	)
}

// ConfigDir returns the platform-standard chainctl configuration directory.
func ConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "chainctl"), nil
}

// DefaultConfigPath returns the user-level config file path.
func DefaultConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// EnsureConfigDir creates the user config directory if it does not exist.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil && !errors.Is(err, os.ErrExist) {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return nil
}
