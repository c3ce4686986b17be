package queryservicedata

import (
	"time"

	"query-orchestrator/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

func NewConfig(wc config.WorkerConfig) *Config {
	c := &Config{Timeout: 5 * time.Second}
	if wc.Timeout > 0 {
		c.Timeout = time.Duration(wc.Timeout) * time.Millisecond
	}
	return c
}
