// Package logging builds the arbor logger used by chainctl components.
//
// User-facing output (trigger listings, run summaries) goes through the output
// package. The logger here carries diagnostics: skipped steps, degraded stores,
// handler failures.
package logging

import (
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/models"

	"chainctl/internal/config"
)

// Setup configures a logger from cfg.
//
// Output "console", "file" or "both" select writers. When no visible writer is
// configured the logger falls back to the console and says so.
func Setup(cfg *config.Config) arbor.ILogger {
	logger := arbor.NewLogger()

	hasFile, hasConsole := false, false
	for _, out := range cfg.Logging.Output {
		switch out {
		case "file":
			hasFile = true
		case "console", "stdout":
			hasConsole = true
		case "both":
			hasFile, hasConsole = true, true
		}
	}

	var dirErr error
	logFile := cfg.Resolve(cfg.Logging.File)
	if hasFile {
		if dirErr = os.MkdirAll(filepath.Dir(logFile), 0755); dirErr != nil {
			hasFile, hasConsole = false, true
		} else {
			logger = logger.WithFileWriter(writerConfig(cfg, models.LogWriterTypeFile, logFile))
		}
	}

	if hasConsole || !hasFile {
		logger = logger.WithConsoleWriter(writerConfig(cfg, models.LogWriterTypeConsole, ""))
	}

	logger = logger.WithLevelFromString(cfg.Logging.Level)
	if dirErr != nil {
		logger.Warn().Err(dirErr).Str("log_file", logFile).Msg("Failed to create log directory, logging to console")
	}
	return logger
}

// NewForTest returns a logger with no writers attached.
func NewForTest() arbor.ILogger {
	return arbor.NewLogger()
}

func writerConfig(cfg *config.Config, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	outputType := models.OutputFormatLogfmt
	if cfg.Logging.Format == "json" {
		outputType = models.OutputFormatJSON
	}

	return models.WriterConfiguration{
		Type:       writerType,
		FileName:   filename,
		TimeFormat: "15:04:05.000",
		OutputType: outputType,
		MaxSize:    10 * 1024 * 1024,
		MaxBackups: 3,
	}
}
