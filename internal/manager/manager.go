package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/maceip/rlitert-lm/internal/broker"
	"github.com/maceip/rlitert-lm/internal/download"
	"github.com/maceip/rlitert-lm/internal/pool"
	"github.com/maceip/rlitert-lm/internal/registry"
	"github.com/maceip/rlitert-lm/pkg/types"
)

// Manager is the coordinator facade. All daemon surfaces (HTTP, CLI) go
// through it; the composed parts never reach each other except as wired here.
type Manager struct {
	cfg     ManagerConfig
	reg     *registry.Registry
	pool    *pool.Pool
	broker  *broker.Broker
	tracker *download.Tracker
	pub     EventPublisher
	log     zerolog.Logger

	startTime time.Time

	mu     sync.Mutex
	closed bool
}

// Ready reports whether the manager accepts work.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

// ListModels returns catalog entries; all=false keeps only downloaded ones.
func (m *Manager) ListModels(all bool) []types.Model {
	return m.reg.List(all)
}

// Status reports live workers, download states and uptime for /status.
func (m *Manager) Status() types.StatusResponse {
	return types.StatusResponse{
		Workers:        m.pool.Workers(),
		Downloads:      m.tracker.States(),
		UptimeSeconds:  int64(time.Since(m.startTime).Seconds()),
		ServerTimeUnix: time.Now().Unix(),
	}
}

// Close shuts the pool down (no orphaned workers) and closes every broker
// subscription. Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.pool.Shutdown()
	m.broker.Close()
	m.log.Info().Msg("manager closed")
}
