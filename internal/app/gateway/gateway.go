/*
Package gateway is the only code that talks to the hosted backend.

It has four parts: a GoTrue auth client (passwordless email with PKCE), a pgx
data client for profile rows, invite sessions and the game's remote procedures,
a realtime client that streams profile row updates, and a hub that fans auth
state changes out per device. The session manager and the round engine depend
on the small interfaces declared here, never on the concrete clients.
*/
package gateway

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("gateway: not found")

	// ErrNoSession is returned by calls that need a signed-in device.
	ErrNoSession = errors.New("gateway: no auth session")
)

// Destination is one city the game can ask about.
type Destination struct {
	ID      int64    `json:"id" db:"id"`
	City    string   `json:"city" db:"city"`
	Country string   `json:"country" db:"country"`
	Clues   []string `json:"clues" db:"clues"`
	FunFact []string `json:"fun_fact" db:"fun_fact"`
	Trivia  []string `json:"trivia" db:"trivia"`
}

// AnswerResult is what check_destination_answer returns.
type AnswerResult struct {
	Correct bool   `json:"correct" db:"correct"`
	Fact    string `json:"fact" db:"fact"`
}

// Profile is a user_profiles row.
type Profile struct {
	ID          string    `json:"id" db:"id"`
	Username    string    `json:"username" db:"username"`
	Score       int       `json:"score" db:"score"`
	GamesPlayed int       `json:"games_played" db:"games_played"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// InviteSession is a game_sessions row.
type InviteSession struct {
	ID           string    `json:"id" db:"id"`
	CreatorID    string    `json:"creator_id" db:"creator_id"`
	CurrentScore int       `json:"current_score" db:"current_score"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Identity is the signed-in user as the auth provider knows it.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// AuthSession mirrors the session object the auth provider hands out.
type AuthSession struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	ExpiresAt    int64    `json:"expires_at"`
	User         Identity `json:"user"`
}

// Expiry returns when the access token stops being valid.
func (s *AuthSession) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// AuthEventType names an auth state transition.
type AuthEventType string

const (
	EventSignedIn       AuthEventType = "SIGNED_IN"
	EventSignedOut      AuthEventType = "SIGNED_OUT"
	EventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

// AuthEvent is delivered to OnAuthStateChange listeners. Session is nil on sign-out.
type AuthEvent struct {
	Type    AuthEventType
	Session *AuthSession
}

// Destinations covers the game's remote procedures.
type Destinations interface {
	// RandomDestination calls get_random_destination. An empty slice is not an error.
	RandomDestination(ctx context.Context) ([]Destination, error)
	MultipleDestinations(ctx context.Context, count int) ([]Destination, error)
	CheckAnswer(ctx context.Context, destinationID int64, guess string) (AnswerResult, error)
	UpdateUserScore(ctx context.Context, userID string, correct bool) error
}

// Profiles covers the user_profiles table.
type Profiles interface {
	// GetProfile returns ErrNotFound when no row exists for userID.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// UpsertProfile creates the row with zero score, or changes only the username of an existing one.
	UpsertProfile(ctx context.Context, userID, username string) (*Profile, error)
}

// Invites covers the game_sessions table.
type Invites interface {
	CreateInviteSession(ctx context.Context, creatorID string, currentScore int) (*InviteSession, error)

	// GetInviteSession returns ErrNotFound for unknown or malformed ids.
	GetInviteSession(ctx context.Context, id string) (*InviteSession, error)
}

// Auth is the per-device view of the auth provider.
type Auth interface {
	// SignInWithEmail sends a magic link that redirects to redirectTo.
	SignInWithEmail(ctx context.Context, deviceID, email, redirectTo string) error

	// ExchangeCode trades the magic-link code for a session and emits EventSignedIn.
	ExchangeCode(ctx context.Context, deviceID, code string) (*AuthSession, error)

	// Session returns the device's session, refreshed if close to expiry, or nil when signed out.
	Session(ctx context.Context, deviceID string) (*AuthSession, error)

	// GetUser returns the signed-in identity, or nil when signed out.
	GetUser(ctx context.Context, deviceID string) (*Identity, error)

	// SignOut revokes the session remotely and forgets it locally; it emits EventSignedOut.
	SignOut(ctx context.Context, deviceID string) error

	// OnAuthStateChange registers fn for the device's auth events. Call the returned func to stop.
	OnAuthStateChange(deviceID string, fn func(AuthEvent)) (unsubscribe func())
}

// Subscription is a live push feed.
type Subscription interface {
	// Unsubscribe stops the feed. It is safe to call more than once.
	Unsubscribe()
}

// ProfileFeed streams updates of one user_profiles row.
type ProfileFeed interface {
	SubscribeProfile(ctx context.Context, tokens TokenSource, userID string, fn func(Profile)) (Subscription, error)
}
