package collab

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Collector periodically evicts idle rooms from the registry. Eviction
// is idempotent and safe against concurrent joins: a room evicted while
// a join is in flight is simply rehydrated on next access.
type Collector struct {
	registry  *Registry
	interval  time.Duration
	threshold time.Duration
}

// NewCollector creates a collector sweeping every interval and evicting
// rooms idle longer than threshold.
func NewCollector(registry *Registry, interval, threshold time.Duration) *Collector {
	return &Collector{
		registry:  registry,
		interval:  interval,
		threshold: threshold,
	}
}

// Run sweeps until ctx is cancelled.
func (c *Collector) Run(ctx context.Context) {
	log.Info().
		Dur("interval", c.interval).
		Dur("threshold", c.threshold).
		Msg("idle room collector started")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("idle room collector stopped")
			return
		case <-ticker.C:
			c.registry.EvictIdle(c.threshold)
		}
	}
}
