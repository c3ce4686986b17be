package llm

import (
	"context"
	"sync/atomic"

	"query-orchestrator/internal/common/logger"
	"query-orchestrator/internal/models"
)

// BackendSource supplies backend descriptors by model name.
type BackendSource interface {
	Backends(ctx context.Context) (map[string]models.BackendConfig, error)
}

// backendTable holds the descriptors loaded by the last successful refresh. Lookups never
// leave memory; unknown models get the default primary descriptor.
type backendTable struct {
	source BackendSource
	log    logger.Logger
	snap   atomic.Pointer[map[string]models.BackendConfig]
}

func newBackendTable(source BackendSource, log logger.Logger) *backendTable {
	t := &backendTable{source: source, log: log}
	empty := map[string]models.BackendConfig{}
	t.snap.Store(&empty)
	return t
}

func (t *backendTable) resolve(model string) models.BackendConfig {
	if cfg, ok := (*t.snap.Load())[model]; ok {
		return cfg
	}
	return models.DefaultBackendConfig(model)
}

// refresh swaps in the source's descriptors. A failed read keeps the current table.
func (t *backendTable) refresh(ctx context.Context) error {
	if t.source == nil {
		return nil
	}
	all, err := t.source.Backends(ctx)
	if err != nil {
		t.log.Warn("backend config unavailable, keeping current descriptors", map[string]interface{}{
			"error": err.Error(),
		})
		return nil
	}
	fresh := make(map[string]models.BackendConfig, len(all))
	for name, cfg := range all {
		fresh[name] = cfg
	}
	t.snap.Store(&fresh)
	return nil
}
