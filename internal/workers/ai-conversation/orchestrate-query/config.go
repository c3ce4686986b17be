package orchestratequery

import (
	"time"

	"query-orchestrator/internal/common/config"
)

type Config struct {
	Timeout       time.Duration
	RecordHistory bool
}

// NewConfig derives the handler settings from the worker entry in the process configuration.
func NewConfig(wc config.WorkerConfig, recordHistory bool) *Config {
	c := &Config{Timeout: 30 * time.Second, RecordHistory: recordHistory}
	if wc.Timeout > 0 {
		c.Timeout = time.Duration(wc.Timeout) * time.Millisecond
	}
	return c
}
