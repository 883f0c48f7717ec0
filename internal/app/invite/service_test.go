package invite

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globetrotter/internal/app/gateway"
	"globetrotter/internal/app/gateway/gatewaytest"
	"globetrotter/internal/app/session"
	"globetrotter/internal/pkg/errs"
)

type memBucket struct {
	mu         sync.Mutex
	objects    map[string][]byte
	uploadErr  error
	presignErr error
	deleted    []string
}

func newMemBucket() *memBucket {
	return &memBucket{objects: make(map[string][]byte)}
}

func (b *memBucket) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	if b.uploadErr != nil {
		return b.uploadErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	return nil
}

func (b *memBucket) Exists(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok, nil
}

func (b *memBucket) PresignDownload(ctx context.Context, key string, duration time.Duration) (string, error) {
	if b.presignErr != nil {
		return "", b.presignErr
	}
	return "https://cdn.example.com/" + key + "?sig=1", nil
}

func (b *memBucket) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	b.deleted = append(b.deleted, key)
	return nil
}

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func newService(t *testing.T, bucket *memBucket) (*Service, *gatewaytest.Invites, *gatewaytest.Profiles) {
	t.Helper()
	invites := gatewaytest.NewInvites()
	profiles := gatewaytest.NewProfiles()
	cfg := Config{PublicURL: "https://globetrotter.example.com/", Invites: invites, Profiles: profiles}
	if bucket != nil {
		cfg.Storage = bucket
	}
	svc, err := NewService(cfg)
	require.NoError(t, err)
	return svc, invites, profiles
}

func TestNewServiceRequiresAbsoluteURL(t *testing.T) {
	_, err := NewService(Config{PublicURL: "/relative"})
	assert.Error(t, err)
}

func TestCreateChallenge(t *testing.T) {
	svc, invites, _ := newService(t, nil)
	creator := &gateway.Identity{ID: "user-1", Email: "ada@example.com"}

	c, err := svc.CreateChallenge(context.Background(), creator, "ada", &session.UserStats{CorrectAnswers: 7, TotalGames: 9})
	require.NoError(t, err)

	row, err := invites.GetInviteSession(context.Background(), c.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", row.CreatorID)
	assert.Equal(t, 7, row.CurrentScore)
	assert.Equal(t, 7, c.CurrentScore)

	assert.Equal(t, "https://globetrotter.example.com/?session="+c.SessionID, c.ShareURL)
	assert.Equal(t, "ada has challenged you to a game of Globetrotter! Can you beat their score?", c.ShareText)
	assert.Empty(t, c.CardURL)

	u, err := url.Parse(c.WhatsAppURL)
	require.NoError(t, err)
	assert.Equal(t, "wa.me", u.Host)
	assert.Equal(t, c.ShareText+" "+c.ShareURL, u.Query().Get("text"))
	assert.NotContains(t, c.WhatsAppURL, "+")
}

func TestCreateChallengeRequiresSignIn(t *testing.T) {
	svc, _, _ := newService(t, nil)

	_, err := svc.CreateChallenge(context.Background(), nil, "ada", nil)
	assert.ErrorIs(t, err, errs.NewError(errs.ErrUnauthorized))
}

func TestCreateChallengeFallsBackToProfileUsername(t *testing.T) {
	svc, _, _ := newService(t, nil)
	creator := &gateway.Identity{ID: "user-1"}

	c, err := svc.CreateChallenge(context.Background(), creator, "", &session.UserStats{Username: "grace"})
	require.NoError(t, err)
	assert.Contains(t, c.ShareText, "grace has challenged you")

	_, err = svc.CreateChallenge(context.Background(), creator, " ", nil)
	assert.ErrorIs(t, err, errs.NewError(errs.ErrInvalidUsername))
}

func TestCreateChallengeInsertFailure(t *testing.T) {
	svc, invites, _ := newService(t, nil)
	invites.CreateErr = errors.New("insert failed")

	_, err := svc.CreateChallenge(context.Background(), &gateway.Identity{ID: "user-1"}, "ada", nil)

	var customErr *errs.CustomError
	require.ErrorAs(t, err, &customErr)
	assert.Equal(t, errs.KindRemoteWrite, customErr.Kind)
}

func TestCreateChallengeUploadsCard(t *testing.T) {
	bucket := newMemBucket()
	svc, _, _ := newService(t, bucket)

	c, err := svc.CreateChallenge(context.Background(), &gateway.Identity{ID: "user-1"}, "ada", nil)
	require.NoError(t, err)

	key := "challenges/" + c.SessionID + ".png"
	assert.Equal(t, "https://cdn.example.com/"+key+"?sig=1", c.CardURL)
	assert.True(t, bytes.HasPrefix(bucket.objects[key], pngMagic))
}

func TestCreateChallengeSurvivesStorageFailures(t *testing.T) {
	bucket := newMemBucket()
	bucket.uploadErr = errors.New("bucket offline")
	svc, _, _ := newService(t, bucket)

	c, err := svc.CreateChallenge(context.Background(), &gateway.Identity{ID: "user-1"}, "ada", nil)
	require.NoError(t, err)
	assert.Empty(t, c.CardURL)

	bucket.uploadErr = nil
	bucket.presignErr = errors.New("presign failed")
	c, err = svc.CreateChallenge(context.Background(), &gateway.Identity{ID: "user-1"}, "ada", nil)
	require.NoError(t, err)
	assert.Empty(t, c.CardURL)
	assert.Equal(t, []string{"challenges/" + c.SessionID + ".png"}, bucket.deleted)
	assert.Empty(t, bucket.objects)
}

func TestCreatorStats(t *testing.T) {
	svc, invites, profiles := newService(t, nil)
	ctx := context.Background()
	profiles.Put(gateway.Profile{ID: "user-1", Username: "ada", Score: 12, GamesPlayed: 20})
	row, err := invites.CreateInviteSession(ctx, "user-1", 10)
	require.NoError(t, err)

	creator, err := svc.CreatorStats(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, &Creator{
		SessionID:      row.ID,
		Username:       "ada",
		CorrectAnswers: 12,
		TotalGames:     20,
		ChallengeScore: 10,
	}, creator)
}

func TestCreatorStatsRendersMissingCard(t *testing.T) {
	bucket := newMemBucket()
	svc, invites, profiles := newService(t, bucket)
	ctx := context.Background()
	profiles.Put(gateway.Profile{ID: "user-1", Username: "ada"})
	row, err := invites.CreateInviteSession(ctx, "user-1", 0)
	require.NoError(t, err)

	creator, err := svc.CreatorStats(ctx, row.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, creator.CardURL)
	assert.Contains(t, bucket.objects, "challenges/"+row.ID+".png")
}

func TestCreatorStatsErrors(t *testing.T) {
	ctx := context.Background()

	svc, invites, profiles := newService(t, nil)
	_, err := svc.CreatorStats(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, errs.NewError(errs.ErrInviteNotFound))

	_, err = svc.CreatorStats(ctx, uuid.NewString())
	assert.ErrorIs(t, err, errs.NewError(errs.ErrInviteNotFound))

	row, err := invites.CreateInviteSession(ctx, "ghost", 0)
	require.NoError(t, err)
	_, err = svc.CreatorStats(ctx, row.ID)
	assert.ErrorIs(t, err, errs.NewError(errs.ErrInviteNotFound))

	profiles.GetErr = errors.New("timeout")
	_, err = svc.CreatorStats(ctx, row.ID)
	assert.ErrorIs(t, err, errs.NewError(errs.ErrDataUnavailable))
}

func TestQRCode(t *testing.T) {
	svc, _, _ := newService(t, nil)

	png, err := svc.QRCode(uuid.NewString())
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, pngMagic))

	_, err = svc.QRCode("../etc/passwd")
	assert.ErrorIs(t, err, errs.NewError(errs.ErrInviteNotFound))
}
