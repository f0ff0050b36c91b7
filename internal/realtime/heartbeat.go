package realtime

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultHeartbeatInterval = 30 * time.Second

// Monitor evicts connections that stop answering pings.
type Monitor struct {
	registry *Registry
	interval time.Duration
}

// NewMonitor creates a liveness monitor sweeping every interval.
func NewMonitor(registry *Registry, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultHeartbeatInterval
	}
	return &Monitor{registry: registry, interval: interval}
}

// Run sweeps until ctx ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep evicts every connection still marked not-alive from the previous
// sweep, then marks the rest not-alive and pings them. A pong, or any
// inbound message, clears the mark before the next sweep. It returns the
// number of evicted connections.
func (m *Monitor) Sweep(ctx context.Context) int {
	evicted := 0
	for _, conn := range m.registry.Connections() {
		if wasAlive := conn.markSuspect(); !wasAlive {
			log.Info().
				Str("conn_id", conn.ID().String()).
				Str("user_id", conn.UserID().String()).
				Msg("realtime: heartbeat timeout, evicting")
			m.registry.Unregister(conn)
			evicted++
			continue
		}

		go func() {
			pingCtx, cancel := context.WithTimeout(ctx, m.interval)
			defer cancel()
			if err := conn.Ping(pingCtx); err != nil {
				log.Debug().Err(err).Str("conn_id", conn.ID().String()).Msg("realtime: ping")
			}
		}()
	}

	if pruned := m.registry.PruneSaved(); pruned > 0 {
		log.Debug().Int("pruned", pruned).Msg("realtime: expired saved subscriptions")
	}
	return evicted
}
