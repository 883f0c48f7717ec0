/*
Package invite creates challenge links that invite a friend to beat a
player's score, and reads the challenger's stats back when the link is opened.
*/
package invite

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"globetrotter/internal/app/gateway"
	"globetrotter/internal/app/session"
	"globetrotter/internal/app/storage"
	"globetrotter/internal/pkg/errs"
	"globetrotter/internal/pkg/logx"
	"globetrotter/internal/pkg/randx"
)

const (
	// QRSize is the edge length of the rendered QR code, in pixels.
	QRSize = 320

	// SessionParam is the query parameter carrying the invite session id.
	SessionParam = "session"

	// DefaultCardTTL is how long a presigned share-card URL stays valid.
	DefaultCardTTL = 24 * time.Hour

	whatsAppBase = "https://wa.me/?text="
	cardPrefix   = "challenges/"
)

// Challenge is everything the view needs to share an invite.
type Challenge struct {
	SessionID    string    `json:"sessionId"`
	ShareURL     string    `json:"shareUrl"`
	WhatsAppURL  string    `json:"whatsappUrl"`
	ShareText    string    `json:"shareText"`
	CardURL      string    `json:"cardUrl,omitempty"`
	CurrentScore int       `json:"currentScore"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Creator is the challenger as shown to the invited friend.
type Creator struct {
	SessionID      string `json:"sessionId"`
	Username       string `json:"username"`
	CorrectAnswers int    `json:"correct_answers"`
	TotalGames     int    `json:"total_games"`

	// ChallengeScore is the creator's score when the invite was made.
	ChallengeScore int    `json:"challengeScore"`
	CardURL        string `json:"cardUrl,omitempty"`
}

// Config configures a Service. PublicURL is required; Storage is optional.
type Config struct {
	PublicURL string
	Invites   gateway.Invites
	Profiles  gateway.Profiles
	Storage   storage.StorageService
	CardTTL   time.Duration
}

// Service creates and resolves invite sessions.
type Service struct {
	publicURL *url.URL
	invites   gateway.Invites
	profiles  gateway.Profiles
	storage   storage.StorageService
	cardTTL   time.Duration
	log       zerolog.Logger
}

// NewService validates the public URL and returns a Service.
func NewService(cfg Config) (*Service, error) {
	u, err := url.Parse(cfg.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invite: public URL %q must be absolute", cfg.PublicURL)
	}
	ttl := cfg.CardTTL
	if ttl <= 0 {
		ttl = DefaultCardTTL
	}

	return &Service{
		publicURL: u,
		invites:   cfg.Invites,
		profiles:  cfg.Profiles,
		storage:   cfg.Storage,
		cardTTL:   ttl,
		log:       logx.Component("invite"),
	}, nil
}

// CreateChallenge records an invite session for creator at their current
// correct-answer count and builds its share links. A failed card upload
// only leaves CardURL empty.
func (s *Service) CreateChallenge(ctx context.Context, creator *gateway.Identity, username string, stats *session.UserStats) (*Challenge, error) {
	if creator == nil {
		return nil, errs.NewError(errs.ErrUnauthorized)
	}
	username = strings.TrimSpace(username)
	if username == "" && stats != nil {
		username = stats.Username
	}
	if username == "" {
		return nil, errs.NewError(errs.ErrInvalidUsername, session.MinUsernameLength)
	}

	score := 0
	if stats != nil {
		score = stats.CorrectAnswers
	}

	row, err := s.invites.CreateInviteSession(ctx, creator.ID, score)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", creator.ID).Msg("Error creating game session")
		return nil, errs.NewError(errs.ErrRemoteWriteFailure).Wrap(err)
	}

	shareURL := s.ShareURL(row.ID)
	text := ShareText(username)
	c := &Challenge{
		SessionID:    row.ID,
		ShareURL:     shareURL,
		WhatsAppURL:  WhatsAppURL(text, shareURL),
		ShareText:    text,
		CurrentScore: row.CurrentScore,
		CreatedAt:    row.CreatedAt,
	}

	if s.storage != nil {
		png, err := qrcode.Encode(shareURL, qrcode.Medium, QRSize)
		if err == nil {
			c.CardURL, err = s.publishCard(ctx, row.ID, png)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", row.ID).Msg("Share card unavailable")
		}
	}

	return c, nil
}

// CreatorStats resolves an invite id to the challenger's profile.
func (s *Service) CreatorStats(ctx context.Context, sessionID string) (*Creator, error) {
	if !randx.IsValidUUID(sessionID) {
		return nil, errs.NewError(errs.ErrInviteNotFound)
	}

	row, err := s.invites.GetInviteSession(ctx, sessionID)
	if err != nil {
		return nil, s.readError(err, sessionID, "Error fetching game session")
	}

	profile, err := s.profiles.GetProfile(ctx, row.CreatorID)
	if err != nil {
		return nil, s.readError(err, sessionID, "Error fetching creator profile")
	}

	creator := &Creator{
		SessionID:      row.ID,
		Username:       profile.Username,
		CorrectAnswers: profile.Score,
		TotalGames:     profile.GamesPlayed,
		ChallengeScore: row.CurrentScore,
	}
	if s.storage != nil {
		if creator.CardURL, err = s.cardURL(ctx, row.ID); err != nil {
			s.log.Warn().Err(err).Str("session_id", row.ID).Msg("Share card unavailable")
		}
	}
	return creator, nil
}

func (s *Service) readError(err error, sessionID, msg string) error {
	if errors.Is(err, gateway.ErrNotFound) {
		return errs.NewError(errs.ErrInviteNotFound).Wrap(err)
	}
	s.log.Error().Err(err).Str("session_id", sessionID).Msg(msg)
	return errs.NewError(errs.ErrDataUnavailable).Wrap(err)
}

// QRCode renders the share URL of sessionID as a PNG.
func (s *Service) QRCode(sessionID string) ([]byte, error) {
	if !randx.IsValidUUID(sessionID) {
		return nil, errs.NewError(errs.ErrInviteNotFound)
	}
	png, err := qrcode.Encode(s.ShareURL(sessionID), qrcode.Medium, QRSize)
	if err != nil {
		return nil, errs.NewError(errs.ErrUnknown, err)
	}
	return png, nil
}

// ShareURL is the public link that opens the invite.
func (s *Service) ShareURL(sessionID string) string {
	u := *s.publicURL
	q := u.Query()
	q.Set(SessionParam, sessionID)
	u.RawQuery = q.Encode()
	return u.String()
}

// ShareText is the message sent along with the link.
func ShareText(username string) string {
	return fmt.Sprintf("%s has challenged you to a game of Globetrotter! Can you beat their score?", username)
}

// WhatsAppURL opens WhatsApp with text and link prefilled.
func WhatsAppURL(text, shareURL string) string {
	return whatsAppBase + strings.ReplaceAll(url.QueryEscape(text+" "+shareURL), "+", "%20")
}

func cardKey(sessionID string) string {
	return cardPrefix + sessionID + ".png"
}

// publishCard uploads png and presigns it. An object that cannot be presigned is removed again.
func (s *Service) publishCard(ctx context.Context, sessionID string, png []byte) (string, error) {
	key := cardKey(sessionID)
	if err := s.storage.Upload(ctx, key, "image/png", bytes.NewReader(png)); err != nil {
		return "", err
	}

	link, err := s.storage.PresignDownload(ctx, key, s.cardTTL)
	if err != nil {
		if delErr := s.storage.Delete(ctx, key); delErr != nil {
			s.log.Warn().Err(delErr).Str("key", key).Msg("Failed to remove unpublished card")
		}
		return "", err
	}
	return link, nil
}

// cardURL presigns the stored card, rendering and uploading it first when missing.
func (s *Service) cardURL(ctx context.Context, sessionID string) (string, error) {
	key := cardKey(sessionID)
	ok, err := s.storage.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if ok {
		return s.storage.PresignDownload(ctx, key, s.cardTTL)
	}

	png, err := qrcode.Encode(s.ShareURL(sessionID), qrcode.Medium, QRSize)
	if err != nil {
		return "", err
	}
	return s.publishCard(ctx, sessionID, png)
}
