package websearch

import (
	"time"

	"query-orchestrator/internal/common/config"
)

type Config struct {
	Timeout    time.Duration
	MaxResults int
}

func NewConfig(wc config.WorkerConfig, maxResults int) *Config {
	c := &Config{Timeout: 10 * time.Second, MaxResults: maxResults}
	if wc.Timeout > 0 {
		c.Timeout = time.Duration(wc.Timeout) * time.Millisecond
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 5
	}
	return c
}
