package config

import (
	"github.com/marmos91/dittomirror/internal/logger"
)

// ConfigureLogging applies the logging section to the process logger.
func ConfigureLogging(cfg *LoggingConfig) error {
	if err := logger.SetOutput(cfg.Output); err != nil {
		return err
	}
	logger.SetFormat(cfg.Format)
	logger.SetLevel(cfg.Level)
	return nil
}
