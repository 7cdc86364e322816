package app

import "errors"

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	ConfigPaths []string // hcl files or directories
	// DataDir holds the badger database with every save directory. Empty
	// keeps everything in memory.
	DataDir string

	LogFormat       string
	LogLevel        string
	LogJournal      bool
	HealthcheckPort int
	// MaxTicks stops Run after that many ticks. Zero runs until cancelled.
	MaxTicks uint64
}

func NewConfig(cfg Config) (*Config, error) {
	if len(cfg.ConfigPaths) == 0 {
		return nil, errors.New("at least one configuration path is required")
	}
	return &cfg, nil
}
