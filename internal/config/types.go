// Package config provides configuration loading and management for chainctl.
//
// Configuration is loaded using Viper, supporting YAML config files and environment
// variable overrides. The defaults follow the .claude/ directory conventions of the
// assistant host, so chainctl works without any configuration file.
//
// Key types:
//   - [Config] is the root configuration container with all settings
//   - [Loader] handles Viper-based configuration loading
//   - [PathsConfig] locates the chain, run-state, context, checkpoint and history stores
//   - [ClaudeConfig] contains Claude CLI binary settings
//
// Configuration priority (highest to lowest):
//  1. Environment variables (CHAINCTL_ prefix)
//  2. Config file specified by CHAINCTL_CONFIG_PATH
//  3. User config directory (platform-standard):
//     - Linux: ~/.config/chainctl/config.yaml
//     - macOS: ~/Library/Application Support/chainctl/config.yaml
//     - Windows: %APPDATA%\chainctl\config.yaml
//  4. ./.claude/chainctl.yaml
//  5. ./chainctl.yaml
//  6. [DefaultConfig] defaults
package config

import "path/filepath"

// Config represents the root configuration structure.
//
// This is the main configuration container loaded by [Loader] and used throughout
// the application. Use [DefaultConfig] to get sensible defaults.
type Config struct {
	// Root is the project directory that relative paths and expressions resolve against.
	// Empty means the current working directory.
	Root string `mapstructure:"root"`

	// Paths locates every durable record chainctl reads or writes.
	Paths PathsConfig `mapstructure:"paths"`

	// State selects the run-state backend.
	State StateConfig `mapstructure:"state"`

	// Shell is the interpreter used for plain commands and exec() expressions.
	Shell string `mapstructure:"shell"`

	// TestCommand is run by the tests_passing expression.
	TestCommand string `mapstructure:"test_command"`

	// Claude contains Claude CLI binary configuration.
	Claude ClaudeConfig `mapstructure:"claude"`

	// Logging controls the structured logger.
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains the dashboard API settings used by `chainctl serve`.
	Server ServerConfig `mapstructure:"server"`

	// Watch contains settings for `chainctl watch`.
	Watch WatchConfig `mapstructure:"watch"`
}

// PathsConfig locates the chainctl stores. Relative paths are resolved against [Config.Root].
type PathsConfig struct {
	// Chains is the chain-definition store. A .toml suffix selects TOML encoding.
	Chains string `mapstructure:"chains"`

	// State is the YAML run-state record (file backend only).
	State string `mapstructure:"state"`

	// Context is the single-slot record of saved context keys.
	Context string `mapstructure:"context"`

	// Checkpoints is the directory holding checkpoint snapshots.
	Checkpoints string `mapstructure:"checkpoints"`

	// History records the last command invocation.
	History string `mapstructure:"history"`
}

// StateConfig selects and configures the run-state backend.
type StateConfig struct {
	// Backend is "file" (default) or "sqlite".
	Backend string `mapstructure:"backend"`

	// SQLitePath is the database file used when Backend is "sqlite".
	SQLitePath string `mapstructure:"sqlite_path"`
}

// ClaudeConfig contains Claude CLI configuration.
//
// These settings control how the Claude CLI binary is invoked for slash commands
// and agent delegation.
type ClaudeConfig struct {
	// BinaryPath is the path to the Claude CLI binary.
	// Default: "claude" (assumes Claude is in PATH).
	// Can be overridden with CHAINCTL_CLAUDE_PATH environment variable.
	BinaryPath string `mapstructure:"binary_path"`

	// OutputFormat is the output format passed to Claude CLI.
	// Should be "stream-json" for structured event parsing.
	OutputFormat string `mapstructure:"output_format"`

	// Model is passed with --model when non-empty.
	Model string `mapstructure:"model"`
}

// LoggingConfig controls the arbor logger.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `mapstructure:"level"`

	// Format is "text" (logfmt) or "json".
	Format string `mapstructure:"format"`

	// Output lists writers: "console", "file", or "both".
	Output []string `mapstructure:"output"`

	// File is the log file used when Output includes "file".
	File string `mapstructure:"file"`
}

// ServerConfig contains the HTTP dashboard settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// WatchConfig contains the background trigger checker settings.
type WatchConfig struct {
	// DebounceMS coalesces bursts of filesystem events.
	DebounceMS int `mapstructure:"debounce_ms"`
}

// DefaultConfig returns a new [Config] with sensible defaults.
//
// All stores live under .claude/ in the project root, run state is kept in a YAML
// file, and logging goes to the console at warn level so the trigger listing stays
// readable.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			Chains:      ".claude/chains.yaml",
			State:       ".claude/chain-state.yaml",
			Context:     ".claude/chain-context.yaml",
			Checkpoints: ".claude/checkpoints",
			History:     ".claude/command-history.yaml",
		},
		State: StateConfig{
			Backend:    "file",
			SQLitePath: ".claude/chains.db",
		},
		Shell:       "/bin/sh",
		TestCommand: "go test ./...",
		Claude: ClaudeConfig{
			BinaryPath:   "claude",
			OutputFormat: "stream-json",
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
			Output: []string{"console"},
			File:   ".claude/logs/chainctl.log",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8787",
		},
		Watch: WatchConfig{
			DebounceMS: 500,
		},
	}
}

// Resolve returns p joined onto the project root unless p is already absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}
