// Package gatewaytest provides in-memory fakes of the gateway interfaces.
package gatewaytest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"globetrotter/internal/app/gateway"
)

// Destinations fakes the game's remote procedures over a fixed catalogue.
type Destinations struct {
	mu sync.Mutex

	// Catalogue is what MultipleDestinations draws from, in order, wrapping around.
	Catalogue []gateway.Destination

	// Random is returned by RandomDestination; nil means the first catalogue entry.
	Random    []gateway.Destination
	RandomErr error

	// RandomBlocker, when set, holds RandomDestination until it is closed.
	RandomBlocker chan struct{}

	// Distractors, when set, replaces the catalogue draw for MultipleDestinations calls, one slice per call.
	Distractors   [][]gateway.Destination
	MultipleErr   error
	CheckErr      error
	UpdateErr     error
	UpdateBlocker chan struct{}

	next          int
	MultipleCalls int
	CheckCalls    int
	ScoreUpdates  []ScoreUpdate
}

// ScoreUpdate records one update_user_score call.
type ScoreUpdate struct {
	UserID  string
	Correct bool
}

// NewDestinations returns a fake over the given catalogue.
func NewDestinations(catalogue ...gateway.Destination) *Destinations {
	return &Destinations{Catalogue: catalogue}
}

func (d *Destinations) RandomDestination(ctx context.Context) ([]gateway.Destination, error) {
	if d.RandomBlocker != nil {
		select {
		case <-d.RandomBlocker:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.RandomErr != nil {
		return nil, d.RandomErr
	}
	if d.Random != nil {
		return append([]gateway.Destination(nil), d.Random...), nil
	}
	if len(d.Catalogue) == 0 {
		return []gateway.Destination{}, nil
	}
	return []gateway.Destination{d.Catalogue[0]}, nil
}

func (d *Destinations) MultipleDestinations(ctx context.Context, count int) ([]gateway.Destination, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.MultipleCalls++
	if d.MultipleErr != nil {
		return nil, d.MultipleErr
	}
	if len(d.Distractors) > 0 {
		out := d.Distractors[0]
		d.Distractors = d.Distractors[1:]
		return out, nil
	}

	out := make([]gateway.Destination, 0, count)
	for i := 0; i < count && len(d.Catalogue) > 0; i++ {
		out = append(out, d.Catalogue[d.next%len(d.Catalogue)])
		d.next++
	}
	return out, nil
}

// CheckAnswer compares guess to the destination's city, case-insensitively.
func (d *Destinations) CheckAnswer(ctx context.Context, destinationID int64, guess string) (gateway.AnswerResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.CheckCalls++
	if d.CheckErr != nil {
		return gateway.AnswerResult{}, d.CheckErr
	}

	for _, dest := range d.Catalogue {
		if dest.ID != destinationID {
			continue
		}
		fact := ""
		if len(dest.FunFact) > 0 {
			fact = dest.FunFact[0]
		}
		return gateway.AnswerResult{Correct: strings.EqualFold(dest.City, guess), Fact: fact}, nil
	}
	return gateway.AnswerResult{}, fmt.Errorf("destination %d not found", destinationID)
}

func (d *Destinations) UpdateUserScore(ctx context.Context, userID string, correct bool) error {
	if d.UpdateBlocker != nil {
		select {
		case <-d.UpdateBlocker:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.UpdateErr != nil {
		return d.UpdateErr
	}
	d.ScoreUpdates = append(d.ScoreUpdates, ScoreUpdate{UserID: userID, Correct: correct})
	return nil
}

// SetRandomErr changes RandomErr while other goroutines may be calling in.
func (d *Destinations) SetRandomErr(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.RandomErr = err
}

// Updates returns a copy of the recorded score updates.
func (d *Destinations) Updates() []ScoreUpdate {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ScoreUpdate(nil), d.ScoreUpdates...)
}

// Profiles fakes the user_profiles table.
type Profiles struct {
	mu        sync.Mutex
	Rows      map[string]*gateway.Profile
	GetErr    error
	UpsertErr error
	Upserts   int
}

// NewProfiles returns an empty table.
func NewProfiles() *Profiles {
	return &Profiles{Rows: make(map[string]*gateway.Profile)}
}

// Put stores a row.
func (p *Profiles) Put(profile gateway.Profile) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Rows[profile.ID] = &profile
}

func (p *Profiles) GetProfile(ctx context.Context, userID string) (*gateway.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.GetErr != nil {
		return nil, p.GetErr
	}
	row, ok := p.Rows[userID]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	out := *row
	return &out, nil
}

func (p *Profiles) UpsertProfile(ctx context.Context, userID, username string) (*gateway.Profile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Upserts++
	if p.UpsertErr != nil {
		return nil, p.UpsertErr
	}
	row, ok := p.Rows[userID]
	if !ok {
		row = &gateway.Profile{ID: userID, CreatedAt: time.Now()}
		p.Rows[userID] = row
	}
	row.Username = username
	out := *row
	return &out, nil
}

// Invites fakes the game_sessions table.
type Invites struct {
	mu        sync.Mutex
	Rows      map[string]*gateway.InviteSession
	CreateErr error
	GetErr    error
}

// NewInvites returns an empty table.
func NewInvites() *Invites {
	return &Invites{Rows: make(map[string]*gateway.InviteSession)}
}

func (i *Invites) CreateInviteSession(ctx context.Context, creatorID string, currentScore int) (*gateway.InviteSession, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.CreateErr != nil {
		return nil, i.CreateErr
	}
	row := &gateway.InviteSession{
		ID:           uuid.NewString(),
		CreatorID:    creatorID,
		CurrentScore: currentScore,
		CreatedAt:    time.Now(),
	}
	i.Rows[row.ID] = row
	out := *row
	return &out, nil
}

func (i *Invites) GetInviteSession(ctx context.Context, id string) (*gateway.InviteSession, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.GetErr != nil {
		return nil, i.GetErr
	}
	row, ok := i.Rows[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	out := *row
	return &out, nil
}

// Auth fakes the auth provider. Sessions are keyed by device; ExchangeCode
// signs in the identity registered for the code with AddCode.
type Auth struct {
	hub *gateway.AuthHub

	mu         sync.Mutex
	sessions   map[string]*gateway.AuthSession
	codes      map[string]gateway.Identity
	SignInErr  error
	GetUserErr error
	SignOutErr error
	SignIns    []string
	Redirects  []string
	SignOuts   int
}

// NewAuth returns a fake with no signed-in devices.
func NewAuth() *Auth {
	return &Auth{
		hub:      gateway.NewAuthHub(),
		sessions: make(map[string]*gateway.AuthSession),
		codes:    make(map[string]gateway.Identity),
	}
}

// AddCode makes code exchangeable for identity.
func (a *Auth) AddCode(code string, identity gateway.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.codes[code] = identity
}

// SetSignedIn signs deviceID in as identity without publishing an event.
func (a *Auth) SetSignedIn(deviceID string, identity gateway.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[deviceID] = newSession(identity)
}

func newSession(identity gateway.Identity) *gateway.AuthSession {
	return &gateway.AuthSession{
		AccessToken:  "access-" + identity.ID,
		RefreshToken: "refresh-" + identity.ID,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
		User:         identity,
	}
}

func (a *Auth) SignInWithEmail(ctx context.Context, deviceID, email, redirectTo string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.SignInErr != nil {
		return a.SignInErr
	}
	a.SignIns = append(a.SignIns, email)
	a.Redirects = append(a.Redirects, redirectTo)
	return nil
}

// RedirectTargets returns the redirect URLs the magic links were sent with.
func (a *Auth) RedirectTargets() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.Redirects...)
}

// Emails returns the addresses magic links were sent to.
func (a *Auth) Emails() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.SignIns...)
}

func (a *Auth) ExchangeCode(ctx context.Context, deviceID, code string) (*gateway.AuthSession, error) {
	a.mu.Lock()
	identity, ok := a.codes[code]
	if !ok {
		a.mu.Unlock()
		return nil, fmt.Errorf("invalid auth code")
	}
	delete(a.codes, code)
	session := newSession(identity)
	a.sessions[deviceID] = session
	a.mu.Unlock()

	a.hub.Publish(deviceID, gateway.AuthEvent{Type: gateway.EventSignedIn, Session: session})
	return session, nil
}

func (a *Auth) Session(ctx context.Context, deviceID string) (*gateway.AuthSession, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.sessions[deviceID]
	if !ok {
		return nil, nil
	}
	out := *s
	return &out, nil
}

func (a *Auth) GetUser(ctx context.Context, deviceID string) (*gateway.Identity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.GetUserErr != nil {
		return nil, a.GetUserErr
	}
	s, ok := a.sessions[deviceID]
	if !ok {
		return nil, nil
	}
	identity := s.User
	return &identity, nil
}

func (a *Auth) SignOut(ctx context.Context, deviceID string) error {
	a.mu.Lock()
	a.SignOuts++
	delete(a.sessions, deviceID)
	err := a.SignOutErr
	a.mu.Unlock()

	a.hub.Publish(deviceID, gateway.AuthEvent{Type: gateway.EventSignedOut})
	return err
}

func (a *Auth) OnAuthStateChange(deviceID string, fn func(gateway.AuthEvent)) func() {
	return a.hub.Subscribe(deviceID, fn)
}

// Listeners returns how many auth listeners deviceID has.
func (a *Auth) Listeners(deviceID string) int {
	return a.hub.ListenerCount(deviceID)
}

// Feed fakes the realtime profile feed.
type Feed struct {
	mu           sync.Mutex
	subs         map[string][]*FeedSubscription
	SubscribeErr error
}

// NewFeed returns a feed with no subscribers.
func NewFeed() *Feed {
	return &Feed{subs: make(map[string][]*FeedSubscription)}
}

// FeedSubscription is one fake subscription.
type FeedSubscription struct {
	userID string
	fn     func(gateway.Profile)

	mu     sync.Mutex
	closed bool
	calls  int
}

// Unsubscribe marks the subscription closed and counts the call.
func (s *FeedSubscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.closed = true
}

// Closed reports whether Unsubscribe was called.
func (s *FeedSubscription) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (f *Feed) SubscribeProfile(ctx context.Context, tokens gateway.TokenSource, userID string, fn func(gateway.Profile)) (gateway.Subscription, error) {
	if f.SubscribeErr != nil {
		return nil, f.SubscribeErr
	}
	if _, err := tokens(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	sub := &FeedSubscription{userID: userID, fn: fn}
	f.subs[userID] = append(f.subs[userID], sub)
	return sub, nil
}

// Push delivers p to every open subscription of p.ID.
func (f *Feed) Push(p gateway.Profile) {
	f.mu.Lock()
	subs := append([]*FeedSubscription(nil), f.subs[p.ID]...)
	f.mu.Unlock()

	for _, s := range subs {
		if !s.Closed() {
			s.fn(p)
		}
	}
}

// Subscriptions returns every subscription ever opened for userID.
func (f *Feed) Subscriptions(userID string) []*FeedSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FeedSubscription(nil), f.subs[userID]...)
}

// Open counts the subscriptions of userID that are still open.
func (f *Feed) Open(userID string) int {
	n := 0
	for _, s := range f.Subscriptions(userID) {
		if !s.Closed() {
			n++
		}
	}
	return n
}

var (
	_ gateway.Destinations = (*Destinations)(nil)
	_ gateway.Profiles     = (*Profiles)(nil)
	_ gateway.Invites      = (*Invites)(nil)
	_ gateway.Auth         = (*Auth)(nil)
	_ gateway.ProfileFeed  = (*Feed)(nil)
)
