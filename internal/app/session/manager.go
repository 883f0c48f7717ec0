/*
Package session tracks who is signed in on one device, the username they
picked, their cached stats and the invite session they arrived through.

It mediates between the device's persisted values (localstore) and the remote
profile row: the username is mirrored locally so play never waits on a remote
write, and the remote profile wins whenever it pushes an update.
*/
package session

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"globetrotter/internal/app/gateway"
	"globetrotter/internal/app/localstore"
	"globetrotter/internal/app/notify"
	"globetrotter/internal/pkg/errs"
	"globetrotter/internal/pkg/logx"
)

// MinUsernameLength is the shortest accepted username, in characters.
const MinUsernameLength = 3

const authEventBuffer = 16

// UserStats is the cached view of the remote profile.
type UserStats struct {
	CorrectAnswers int    `json:"correct_answers"`
	TotalGames     int    `json:"total_games"`
	Username       string `json:"username"`
}

func statsFromProfile(p *gateway.Profile) *UserStats {
	return &UserStats{CorrectAnswers: p.Score, TotalGames: p.GamesPlayed, Username: p.Username}
}

// Snapshot is a copy of the manager's state for the view.
type Snapshot struct {
	User      *gateway.Identity `json:"user"`
	Username  string            `json:"username,omitempty"`
	UserStats *UserStats        `json:"userStats"`
	SessionID string            `json:"sessionId,omitempty"`
	Loading   bool              `json:"loading"`
	Error     string            `json:"error,omitempty"`
}

// Deps are the collaborators of a Manager.
type Deps struct {
	DeviceID string
	Auth     gateway.Auth
	Profiles gateway.Profiles

	// Feed is optional; without it stats only change through local increments and reloads.
	Feed gateway.ProfileFeed

	Store    localstore.Store
	Notifier notify.Notifier

	// OnChange is called with a fresh snapshot after every state change, outside the lock.
	OnChange func(Snapshot)
}

// Manager owns the session state of one device. It is safe for concurrent use.
type Manager struct {
	deviceID string
	auth     gateway.Auth
	profiles gateway.Profiles
	feed     gateway.ProfileFeed
	store    localstore.Device
	notifier notify.Notifier
	onChange func(Snapshot)
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	user      *gateway.Identity
	username  string
	stats     *UserStats
	sessionID string
	loading   bool
	errMsg    string

	// feedMu guards the profile subscription, which is swapped outside mu.
	feedMu     sync.Mutex
	feedSub    gateway.Subscription
	feedUserID string

	observeOnce sync.Once
	unsubAuth   func()
	events      chan gateway.AuthEvent
	workerDone  chan struct{}
	closeOnce   sync.Once
}

// NewManager restores the device's persisted username and invite session id.
// ctx bounds the manager's background work; Close releases it earlier.
func NewManager(ctx context.Context, deps Deps) *Manager {
	runCtx, cancel := context.WithCancel(ctx)

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Discard
	}

	m := &Manager{
		deviceID: deps.DeviceID,
		auth:     deps.Auth,
		profiles: deps.Profiles,
		feed:     deps.Feed,
		store:    localstore.ForDevice(deps.Store, deps.DeviceID),
		notifier: notifier,
		onChange: deps.OnChange,
		log:      logx.Component("session").With().Str("device_id", deps.DeviceID).Logger(),
		ctx:      runCtx,
		cancel:   cancel,
		loading:  true,
		events:   make(chan gateway.AuthEvent, authEventBuffer),
	}

	if v, ok, err := m.store.Get(runCtx, localstore.KeyUsername); err != nil {
		m.log.Warn().Err(err).Msg("Failed to restore username")
	} else if ok {
		m.username = v
	}
	if v, ok, err := m.store.Get(runCtx, localstore.KeySessionID); err != nil {
		m.log.Warn().Err(err).Msg("Failed to restore session id")
	} else if ok {
		m.sessionID = v
	}

	return m
}

// ObserveAuthState subscribes to the device's auth changes and then checks the
// current user once. Only the first call subscribes; later calls just re-check.
func (m *Manager) ObserveAuthState(ctx context.Context) {
	m.observeOnce.Do(func() {
		m.workerDone = make(chan struct{})
		m.unsubAuth = m.auth.OnAuthStateChange(m.deviceID, func(ev gateway.AuthEvent) {
			select {
			case m.events <- ev:
			case <-m.ctx.Done():
			}
		})
		go m.runAuthEvents()
	})

	m.checkUser(ctx)
}

func (m *Manager) checkUser(ctx context.Context) {
	identity, err := m.auth.GetUser(ctx, m.deviceID)
	if err != nil {
		m.log.Error().Err(err).Msg("Error checking authentication status")
		m.update(func() {
			m.errMsg = "Error checking authentication status"
			m.loading = false
		})
		return
	}

	m.update(func() {
		m.user = identity
		m.loading = false
	})

	if identity == nil {
		return
	}

	if err := m.LoadProfile(ctx, identity); err != nil {
		m.log.Warn().Err(err).Msg("Profile not loaded after auth check")
	}
	m.subscribeFeed(identity)
}

func (m *Manager) runAuthEvents() {
	defer close(m.workerDone)

	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-m.events:
			m.handleAuthEvent(ev)
		}
	}
}

func (m *Manager) handleAuthEvent(ev gateway.AuthEvent) {
	m.log.Debug().Str("event", string(ev.Type)).Msg("Auth state changed")

	if ev.Type == gateway.EventSignedOut || ev.Session == nil {
		m.update(func() {
			m.user = nil
			m.stats = nil
			m.loading = false
		})
		m.releaseFeed()
		return
	}

	identity := ev.Session.User

	m.mu.RLock()
	sameUser := m.user != nil && m.user.ID == identity.ID
	m.mu.RUnlock()

	m.update(func() {
		m.user = &identity
		m.loading = false
	})

	if ev.Type == gateway.EventSignedIn || !sameUser {
		if err := m.LoadProfile(m.ctx, &identity); err != nil {
			m.log.Warn().Err(err).Msg("Profile not loaded after sign-in")
		}
	}
	m.subscribeFeed(&identity)
}

// LoadProfile fetches the remote profile of identity. A missing profile clears
// the persisted username so the view asks for one; any other failure keeps the
// cached values and returns a DataUnavailable error.
func (m *Manager) LoadProfile(ctx context.Context, identity *gateway.Identity) error {
	if identity == nil {
		return errs.NewError(errs.ErrUnauthorized)
	}

	profile, err := m.profiles.GetProfile(ctx, identity.ID)
	switch {
	case err == nil:
		m.update(func() {
			m.username = profile.Username
			m.stats = statsFromProfile(profile)
			m.errMsg = ""
		})
		if err := m.store.Set(ctx, localstore.KeyUsername, profile.Username); err != nil {
			m.log.Warn().Err(err).Msg("Failed to mirror username locally")
		}
		return nil

	case errors.Is(err, gateway.ErrNotFound):
		m.update(func() {
			m.username = ""
			m.stats = nil
		})
		if err := m.store.Remove(ctx, localstore.KeyUsername); err != nil {
			m.log.Warn().Err(err).Msg("Failed to clear stored username")
		}
		return nil

	default:
		m.log.Error().Err(err).Str("user_id", identity.ID).Msg("Error fetching user stats")
		m.update(func() { m.errMsg = "Failed to load profile" })
		return errs.NewError(errs.ErrDataUnavailable).Wrap(err)
	}
}

// SetUsername validates and stores name. Unless updateOnly is set, a signed-in
// user's remote profile is upserted too; a remote failure is reported through
// the error state and a notification but never blocks the local update.
func (m *Manager) SetUsername(ctx context.Context, name string, updateOnly bool) error {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < MinUsernameLength {
		return errs.NewError(errs.ErrInvalidUsername, MinUsernameLength)
	}

	user := m.CurrentIdentity()
	if !updateOnly && user != nil {
		profile, err := m.profiles.UpsertProfile(ctx, user.ID, name)
		if err != nil {
			m.log.Error().Err(err).Str("user_id", user.ID).Msg("Error setting username")
			m.update(func() { m.errMsg = "Failed to set username" })
			m.notifier.Notify(notify.Error("Error", "Failed to save your username. It is kept on this device."))
		} else {
			m.update(func() {
				m.stats = statsFromProfile(profile)
				m.errMsg = ""
			})
		}
	}

	if err := m.store.Set(ctx, localstore.KeyUsername, name); err != nil {
		m.log.Warn().Err(err).Msg("Failed to mirror username locally")
	}
	m.update(func() { m.username = name })

	return nil
}

// SignInWithEmail sends a magic link to email.
func (m *Manager) SignInWithEmail(ctx context.Context, email, redirectTo string) error {
	email = strings.TrimSpace(email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return errs.NewError(errs.ErrInvalidEmail)
	}

	if err := m.auth.SignInWithEmail(ctx, m.deviceID, email, redirectTo); err != nil {
		m.log.Error().Err(err).Msg("Error sending magic link")
		m.notifier.Notify(notify.Error("Error", "Could not send the sign-in link. Please try again."))
		return errs.NewError(errs.ErrAuthFailure).Wrap(err)
	}

	m.notifier.Notify(notify.Success("Check your email", "We sent you a magic link to sign in."))
	return nil
}

// CompleteSignIn exchanges the magic-link code. The resulting sign-in event
// updates the identity and loads the profile.
func (m *Manager) CompleteSignIn(ctx context.Context, code string) error {
	if strings.TrimSpace(code) == "" {
		return errs.NewError(errs.ErrInvalidParams)
	}

	if _, err := m.auth.ExchangeCode(ctx, m.deviceID, code); err != nil {
		m.log.Error().Err(err).Msg("Error exchanging auth code")
		m.notifier.Notify(notify.Error("Error", "The sign-in link is invalid or expired. Please request a new one."))
		return errs.NewError(errs.ErrAuthFailure).Wrap(err)
	}
	return nil
}

// SignOut signs the device out and clears identity, stats, username and
// session id. The local state is cleared even if the remote sign-out fails.
func (m *Manager) SignOut(ctx context.Context) error {
	if err := m.auth.SignOut(ctx, m.deviceID); err != nil {
		m.log.Error().Err(err).Msg("Error signing out remotely")
	}

	m.update(func() {
		m.user = nil
		m.stats = nil
		m.username = ""
		m.sessionID = ""
		m.errMsg = ""
		m.loading = false
	})
	m.releaseFeed()

	if err := m.store.Remove(ctx, localstore.KeyUsername, localstore.KeySessionID); err != nil {
		m.log.Error().Err(err).Msg("Failed to clear persisted session values")
		return errs.NewError(errs.ErrUnknown, err)
	}
	return nil
}

// SetSessionID remembers the invite session the device arrived through.
// An empty id forgets it.
func (m *Manager) SetSessionID(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	m.update(func() { m.sessionID = id })

	var err error
	if id != "" {
		err = m.store.Set(ctx, localstore.KeySessionID, id)
	} else {
		err = m.store.Remove(ctx, localstore.KeySessionID)
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to persist session id")
	}
	return nil
}

// CurrentIdentity returns a copy of the signed-in identity, or nil.
func (m *Manager) CurrentIdentity() *gateway.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.user == nil {
		return nil
	}
	identity := *m.user
	return &identity
}

// RecordAnswer applies an optimistic increment to the cached stats. The next
// profile push replaces it with the remote value.
func (m *Manager) RecordAnswer(correct bool) {
	m.update(func() {
		if m.user == nil || m.stats == nil {
			return
		}
		if correct {
			m.stats.CorrectAnswers++
		}
		m.stats.TotalGames++
	})
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{
		Username:  m.username,
		SessionID: m.sessionID,
		Loading:   m.loading,
		Error:     m.errMsg,
	}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	if m.stats != nil {
		st := *m.stats
		s.UserStats = &st
	}
	return s
}

// Close releases the auth subscription and the profile feed exactly once.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		// Claims the observe slot so a late ObserveAuthState cannot subscribe after Close.
		m.observeOnce.Do(func() {})

		if m.unsubAuth != nil {
			m.unsubAuth()
		}
		m.cancel()
		if m.workerDone != nil {
			<-m.workerDone
		}
		m.releaseFeed()
	})
}

func (m *Manager) update(fn func()) {
	m.mu.Lock()
	fn()
	snapshot := m.snapshotLocked()
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(snapshot)
	}
}

func (m *Manager) subscribeFeed(identity *gateway.Identity) {
	if m.feed == nil || m.ctx.Err() != nil {
		return
	}

	m.feedMu.Lock()
	defer m.feedMu.Unlock()

	if m.feedSub != nil && m.feedUserID == identity.ID {
		return
	}
	if m.feedSub != nil {
		m.feedSub.Unsubscribe()
		m.feedSub = nil
	}

	userID := identity.ID
	tokens := func(ctx context.Context) (string, error) {
		s, err := m.auth.Session(ctx, m.deviceID)
		if err != nil {
			return "", err
		}
		if s == nil {
			return "", gateway.ErrNoSession
		}
		return s.AccessToken, nil
	}

	sub, err := m.feed.SubscribeProfile(m.ctx, tokens, userID, m.applyProfilePush)
	if err != nil {
		m.log.Warn().Err(err).Str("user_id", userID).Msg("Profile updates unavailable")
		return
	}
	m.feedSub = sub
	m.feedUserID = userID
}

func (m *Manager) releaseFeed() {
	m.feedMu.Lock()
	defer m.feedMu.Unlock()

	if m.feedSub != nil {
		m.feedSub.Unsubscribe()
		m.feedSub = nil
		m.feedUserID = ""
	}
}

// applyProfilePush replaces the cached stats with the pushed row and mirrors
// a pushed username locally, as LoadProfile does.
func (m *Manager) applyProfilePush(p gateway.Profile) {
	mirror := false
	m.update(func() {
		if m.user == nil || m.user.ID != p.ID {
			return
		}
		m.stats = statsFromProfile(&p)
		if p.Username != "" {
			mirror = m.username != p.Username
			m.username = p.Username
		}
	})

	if mirror {
		if err := m.store.Set(m.ctx, localstore.KeyUsername, p.Username); err != nil {
			m.log.Warn().Err(err).Msg("Failed to mirror pushed username locally")
		}
	}
}
