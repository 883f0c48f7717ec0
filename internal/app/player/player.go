/*
Package player keeps one player per device: the device's session manager and
round engine, wired together, plus the WebSocket clients that watch them.

This file defines Player. State changes from either service are pushed to
every attached client; notifications from either service are pushed the same
way.
*/
package player

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"globetrotter/internal/app/game"
	"globetrotter/internal/app/notify"
	"globetrotter/internal/app/session"
	"globetrotter/internal/pkg/logx"
)

// firstRoundTimeout bounds the round loaded for the first attached client.
const firstRoundTimeout = 15 * time.Second

// Player is the per-device pair of session manager and round engine.
type Player struct {
	DeviceID string
	Session  *session.Manager
	Game     *game.Engine

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool

	lastSeen  atomic.Int64
	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup

	logger zerolog.Logger
}

func newPlayer(parent context.Context, deviceID string, deps Deps) *Player {
	ctx, cancel := context.WithCancel(parent)
	p := &Player{
		DeviceID: deviceID,
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[*Client]struct{}),
		logger:   logx.Component("player").With().Str("device_id", deviceID).Logger(),
	}
	p.Touch()

	p.Session = session.NewManager(ctx, session.Deps{
		DeviceID: deviceID,
		Auth:     deps.Auth,
		Profiles: deps.Profiles,
		Feed:     deps.Feed,
		Store:    deps.Store,
		Notifier: p,
		OnChange: func(s session.Snapshot) { p.broadcast(NewMessage(TypeSessionState, s)) },
	})

	p.Game = game.NewEngine(game.Options{
		DeviceID:       deviceID,
		Destinations:   deps.Destinations,
		Identity:       p.Session,
		Stats:          p.Session,
		Notifier:       p,
		Metrics:        deps.Metrics,
		PersistTimeout: deps.PersistTimeout,
		OnChange:       func(s game.State) { p.broadcast(NewMessage(TypeGameState, s.View())) },
	})

	return p
}

// start begins observing auth state the first time it is called.
func (p *Player) start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.Session.ObserveAuthState(ctx)
	})
}

// Context is cancelled when the player is closed.
func (p *Player) Context() context.Context {
	return p.ctx
}

// Touch marks the player as used now.
func (p *Player) Touch() {
	p.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns when the player was last used.
func (p *Player) LastSeen() time.Time {
	return time.Unix(0, p.lastSeen.Load())
}

// ClientCount returns the number of attached WebSocket clients.
func (p *Player) ClientCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// Notify pushes n to every attached client.
func (p *Player) Notify(n notify.Notification) {
	p.broadcast(NewMessage(TypeNotification, n))
}

// Attach registers c and sends it the current session and game state. The
// first client of a player that has no round yet triggers loading one.
func (p *Player) Attach(c *Client) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	first := len(p.clients) == 0
	p.clients[c] = struct{}{}

	// Queued under the lock so a concurrent detach cannot close send first.
	state := p.Game.Snapshot()
	for _, msg := range []Message{
		NewMessage(TypeSessionState, p.Session.Snapshot()),
		NewMessage(TypeGameState, state.View()),
	} {
		if data, ok := p.encode(msg); ok {
			c.enqueue(data)
		}
	}
	loadFirst := first && state.Phase == game.PhaseIdle
	if loadFirst {
		p.wg.Add(1)
	}
	p.mu.Unlock()
	p.Touch()

	if loadFirst {
		go func() {
			defer p.wg.Done()
			ctx, cancel := context.WithTimeout(p.ctx, firstRoundTimeout)
			defer cancel()
			if err := p.Game.LoadNewGame(ctx); err != nil {
				p.logger.Debug().Err(err).Msg("First round not loaded")
			}
		}()
	}
	return true
}

// detach removes c and closes its send queue.
func (p *Player) detach(c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.clients[c]; ok {
		delete(p.clients, c)
		close(c.send)
	}
	p.Touch()
}

func (p *Player) encode(msg Message) ([]byte, bool) {
	data, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error().Err(err).Str("msg_type", string(msg.Type)).Msg("Error marshaling message")
		return nil, false
	}
	return data, true
}

// deliver queues msg for c if c is still attached.
func (p *Player) deliver(c *Client, msg Message) {
	data, ok := p.encode(msg)
	if !ok {
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, attached := p.clients[c]; attached {
		c.enqueue(data)
	}
}

func (p *Player) broadcast(msg Message) {
	data, ok := p.encode(msg)
	if !ok {
		return
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	for c := range p.clients {
		c.enqueue(data)
	}
}

// Close detaches every client, waits for pending score writes and releases
// the session's subscriptions. It is safe to call more than once.
func (p *Player) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		for c := range p.clients {
			delete(p.clients, c)
			close(c.send)
		}
		p.mu.Unlock()

		p.cancel()
		p.wg.Wait()
		p.Game.Wait()
		p.Session.Close()

		p.logger.Info().Msg("Player closed")
	})
}
