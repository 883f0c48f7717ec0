package player

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"globetrotter/internal/app/gateway"
	"globetrotter/internal/app/localstore"
	"globetrotter/internal/pkg/logx"
	"globetrotter/internal/pkg/metrics"
)

const (
	// DefaultIdleTimeout is how long a player without clients or requests is kept.
	DefaultIdleTimeout = 30 * time.Minute

	defaultSweepInterval = time.Minute
)

// Deps are shared by every player.
type Deps struct {
	Auth         gateway.Auth
	Profiles     gateway.Profiles
	Feed         gateway.ProfileFeed
	Destinations gateway.Destinations
	Store        localstore.Store
	Metrics      *metrics.Recorder

	IdleTimeout    time.Duration
	SweepInterval  time.Duration
	PersistTimeout time.Duration
}

// Manager keeps one Player per device and evicts idle ones.
type Manager struct {
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc

	// mu protects players.
	mu      sync.RWMutex
	players map[string]*Player

	// wg waits for the sweep loop during shutdown.
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger zerolog.Logger
}

// NewManager starts the idle sweep. ctx bounds the background work of every player.
func NewManager(ctx context.Context, deps Deps) *Manager {
	if deps.IdleTimeout <= 0 {
		deps.IdleTimeout = DefaultIdleTimeout
	}
	if deps.SweepInterval <= 0 {
		deps.SweepInterval = defaultSweepInterval
	}

	runCtx, cancel := context.WithCancel(ctx)
	m := &Manager{
		deps:    deps,
		ctx:     runCtx,
		cancel:  cancel,
		players: make(map[string]*Player),
		logger:  logx.Component("players"),
	}

	m.wg.Add(1)
	go m.runSweepLoop()

	return m
}

// Get returns the device's player, creating it on first use. A new player
// starts observing auth state, which checks the current user with ctx.
// The player is touched under the registry lock so a concurrent sweep either
// evicts it before Get finds it or sees it as fresh.
func (m *Manager) Get(ctx context.Context, deviceID string) *Player {
	m.mu.RLock()
	p, ok := m.players[deviceID]
	if ok {
		p.Touch()
	}
	m.mu.RUnlock()

	if !ok {
		m.mu.Lock()
		p, ok = m.players[deviceID]
		if !ok {
			p = newPlayer(m.ctx, deviceID, m.deps)
			m.players[deviceID] = p
			m.deps.Metrics.PlayerAdded()
			m.logger.Info().Str("device_id", deviceID).Int("players", len(m.players)).Msg("Player created")
		}
		p.Touch()
		m.mu.Unlock()
	}

	p.start(ctx)
	return p
}

// Lookup returns the device's player without creating one.
func (m *Manager) Lookup(deviceID string) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.players[deviceID]
	return p, ok
}

// Len returns the number of live players.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

func (m *Manager) runSweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.deps.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if n := m.sweep(now); n > 0 {
				m.logger.Info().Int("evicted", n).Msg("Idle players evicted")
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// sweep closes players that have no clients and were last used before now minus the idle timeout.
func (m *Manager) sweep(now time.Time) int {
	cutoff := now.Add(-m.deps.IdleTimeout)

	var idle []*Player
	m.mu.Lock()
	for id, p := range m.players {
		if p.ClientCount() == 0 && p.LastSeen().Before(cutoff) {
			idle = append(idle, p)
			delete(m.players, id)
		}
	}
	m.mu.Unlock()

	for _, p := range idle {
		p.Close()
		m.deps.Metrics.PlayerRemoved()
	}
	return len(idle)
}

// Shutdown stops the sweep and closes every player.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		m.logger.Info().Msg("Shutting down players...")

		m.mu.Lock()
		players := m.players
		m.players = make(map[string]*Player)
		m.mu.Unlock()

		for _, p := range players {
			p.Close()
			m.deps.Metrics.PlayerRemoved()
		}

		m.cancel()
		m.wg.Wait()

		m.logger.Info().Int("closed", len(players)).Msg("Player shutdown complete.")
	})
}
