package classifyintent

import (
	"time"

	"query-orchestrator/internal/common/config"
)

type Config struct {
	Timeout time.Duration
	// SplitMultiIntent runs the multi-intent analyzer and classifies each part.
	SplitMultiIntent bool
}

func NewConfig(wc config.WorkerConfig) *Config {
	c := &Config{Timeout: 5 * time.Second, SplitMultiIntent: true}
	if wc.Timeout > 0 {
		c.Timeout = time.Duration(wc.Timeout) * time.Millisecond
	}
	return c
}
