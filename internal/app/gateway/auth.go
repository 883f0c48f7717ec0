package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"globetrotter/internal/app/localstore"
	"globetrotter/internal/pkg/auth/jwt"
	"globetrotter/internal/pkg/logx"
	"globetrotter/internal/pkg/metrics"
	"globetrotter/internal/pkg/randx"
)

const (
	// refreshMargin is how long before expiry a session is refreshed.
	refreshMargin = 60 * time.Second

	authRequestTimeout = 10 * time.Second
	maxAuthBodySize    = 1 << 20
)

// APIError is an error response from the auth provider.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("auth provider returned %d %s: %s", e.Status, e.Code, e.Message)
}

// IsClientError reports whether the provider rejected the request itself,
// as opposed to being unreachable or failing internally.
func (e *APIError) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// AuthConfig configures AuthClient.
type AuthConfig struct {
	// URL is the project URL; requests go to URL + "/auth/v1/...".
	URL       string
	AnonKey   string
	JWTSecret string

	HTTPClient *http.Client
}

// AuthClient talks to the GoTrue REST API and keeps each device's session in
// the local store under localstore.KeyAuthSession.
type AuthClient struct {
	baseURL    string
	anonKey    string
	jwtSecret  string
	httpClient *http.Client

	store   localstore.Store
	hub     *AuthHub
	metrics *metrics.Recorder
	log     zerolog.Logger

	// refreshMu serializes refreshes so one refresh token is never spent twice.
	refreshMu sync.Mutex
	now       func() time.Time
}

// NewAuthClient builds an AuthClient. hub receives every auth state change.
func NewAuthClient(cfg AuthConfig, store localstore.Store, hub *AuthHub, rec *metrics.Recorder) *AuthClient {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: authRequestTimeout}
	}

	return &AuthClient{
		baseURL:    strings.TrimRight(cfg.URL, "/") + "/auth/v1",
		anonKey:    cfg.AnonKey,
		jwtSecret:  cfg.JWTSecret,
		httpClient: httpClient,
		store:      store,
		hub:        hub,
		metrics:    rec,
		log:        logx.Component("gateway.auth"),
		now:        time.Now,
	}
}

// codeChallenge derives the S256 PKCE challenge for verifier.
func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (c *AuthClient) SignInWithEmail(ctx context.Context, deviceID, email, redirectTo string) (err error) {
	defer c.observe("auth_otp", time.Now(), &err)

	verifier, err := randx.CodeVerifier()
	if err != nil {
		return err
	}
	if err := c.store.Set(ctx, deviceID, localstore.KeyCodeVerifier, verifier); err != nil {
		return fmt.Errorf("store code verifier: %w", err)
	}

	body := map[string]any{
		"email":                 email,
		"create_user":           true,
		"code_challenge":        codeChallenge(verifier),
		"code_challenge_method": "s256",
	}

	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}

	return c.do(ctx, http.MethodPost, "/otp", query, "", body, nil)
}

func (c *AuthClient) ExchangeCode(ctx context.Context, deviceID, code string) (_ *AuthSession, err error) {
	defer c.observe("auth_exchange", time.Now(), &err)

	verifier, ok, err := c.store.Get(ctx, deviceID, localstore.KeyCodeVerifier)
	if err != nil {
		return nil, fmt.Errorf("load code verifier: %w", err)
	}
	if !ok {
		return nil, errors.New("no pending sign-in for this device")
	}

	var session AuthSession
	body := map[string]string{"auth_code": code, "code_verifier": verifier}
	if err := c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"pkce"}}, "", body, &session); err != nil {
		return nil, err
	}

	if err := c.saveSession(ctx, deviceID, &session); err != nil {
		return nil, err
	}
	if err := c.store.Remove(ctx, deviceID, localstore.KeyCodeVerifier); err != nil {
		c.log.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to drop used code verifier")
	}

	c.hub.Publish(deviceID, AuthEvent{Type: EventSignedIn, Session: &session})
	return &session, nil
}

func (c *AuthClient) Session(ctx context.Context, deviceID string) (*AuthSession, error) {
	session, err := c.loadSession(ctx, deviceID)
	if err != nil || session == nil {
		return nil, err
	}

	if c.now().Add(refreshMargin).Before(session.Expiry()) {
		return session, nil
	}

	return c.refresh(ctx, deviceID)
}

// refresh exchanges the stored refresh token. A session the provider rejects
// is dropped and EventSignedOut is published.
func (c *AuthClient) refresh(ctx context.Context, deviceID string) (_ *AuthSession, err error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while this one waited.
	session, err := c.loadSession(ctx, deviceID)
	if err != nil || session == nil {
		return nil, err
	}
	if c.now().Add(refreshMargin).Before(session.Expiry()) {
		return session, nil
	}

	defer c.observe("auth_refresh", time.Now(), &err)

	var refreshed AuthSession
	body := map[string]string{"refresh_token": session.RefreshToken}
	err = c.do(ctx, http.MethodPost, "/token", url.Values{"grant_type": {"refresh_token"}}, "", body, &refreshed)

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.IsClientError() {
		c.log.Info().Str("device_id", deviceID).Str("code", apiErr.Code).Msg("Refresh token rejected, signing device out")
		if err := c.store.Remove(ctx, deviceID, localstore.KeyAuthSession); err != nil {
			return nil, fmt.Errorf("drop rejected session: %w", err)
		}
		c.hub.Publish(deviceID, AuthEvent{Type: EventSignedOut})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := c.saveSession(ctx, deviceID, &refreshed); err != nil {
		return nil, err
	}

	c.hub.Publish(deviceID, AuthEvent{Type: EventTokenRefreshed, Session: &refreshed})
	return &refreshed, nil
}

// GetUser verifies the device's access token locally and returns its identity.
func (c *AuthClient) GetUser(ctx context.Context, deviceID string) (*Identity, error) {
	session, err := c.Session(ctx, deviceID)
	if err != nil || session == nil {
		return nil, err
	}

	claims, err := jwt.ParseAccessToken(session.AccessToken, c.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("verify access token: %w", err)
	}

	return &Identity{ID: claims.Subject, Email: claims.Email}, nil
}

func (c *AuthClient) SignOut(ctx context.Context, deviceID string) (err error) {
	defer c.observe("auth_logout", time.Now(), &err)

	session, err := c.loadSession(ctx, deviceID)
	if err != nil {
		return err
	}

	var remoteErr error
	if session != nil {
		remoteErr = c.do(ctx, http.MethodPost, "/logout", nil, session.AccessToken, nil, nil)

		// An expired or already revoked token still counts as signed out.
		var apiErr *APIError
		if errors.As(remoteErr, &apiErr) && apiErr.IsClientError() {
			remoteErr = nil
		}
	}

	if err := c.store.Remove(ctx, deviceID, localstore.KeyAuthSession, localstore.KeyCodeVerifier); err != nil {
		return fmt.Errorf("drop session: %w", err)
	}

	c.hub.Publish(deviceID, AuthEvent{Type: EventSignedOut})
	return remoteErr
}

func (c *AuthClient) OnAuthStateChange(deviceID string, fn func(AuthEvent)) func() {
	return c.hub.Subscribe(deviceID, fn)
}

func (c *AuthClient) loadSession(ctx context.Context, deviceID string) (*AuthSession, error) {
	raw, ok, err := c.store.Get(ctx, deviceID, localstore.KeyAuthSession)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var session AuthSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		c.log.Warn().Err(err).Str("device_id", deviceID).Msg("Discarding unreadable stored session")
		return nil, nil
	}
	return &session, nil
}

func (c *AuthClient) saveSession(ctx context.Context, deviceID string, session *AuthSession) error {
	if session.ExpiresAt == 0 && session.ExpiresIn > 0 {
		session.ExpiresAt = c.now().Add(time.Duration(session.ExpiresIn) * time.Second).Unix()
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := c.store.Set(ctx, deviceID, localstore.KeyAuthSession, string(raw)); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// do sends a JSON request to the auth API and decodes a JSON response into out when non-nil.
func (c *AuthClient) do(ctx context.Context, method, path string, query url.Values, bearer string, in, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxAuthBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if res.StatusCode >= 300 {
		return decodeAPIError(res.StatusCode, payload)
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// decodeAPIError understands both GoTrue error shapes: {code, error_code, msg}
// and the OAuth style {error, error_description}.
func decodeAPIError(status int, payload []byte) error {
	var body struct {
		ErrorCode        string `json:"error_code"`
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	_ = json.Unmarshal(payload, &body)

	apiErr := &APIError{Status: status, Code: body.ErrorCode}
	if apiErr.Code == "" {
		apiErr.Code = body.Error
	}
	for _, m := range []string{body.Msg, body.Message, body.ErrorDescription} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

func (c *AuthClient) observe(operation string, start time.Time, err *error) {
	c.metrics.ObserveGateway(operation, start, *err)
}
