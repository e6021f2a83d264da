package commands

import (
	"fmt"

	"github.com/marmos91/netbridge/internal/logger"
	"github.com/marmos91/netbridge/pkg/config"
)

// InitLogger initializes the structured logger from configuration.
func InitLogger(cfg *config.Config) error {
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// getConfigSource returns a description of where the config was loaded from.
func getConfigSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}

// apiBaseURL returns the admin API address for port on localhost.
func apiBaseURL(port int) string {
	return fmt.Sprintf("http://localhost:%d", port)
}
