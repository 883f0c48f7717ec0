package jwt

import "github.com/golang-jwt/jwt"

// DevicePayload is the claim set of the gt_device cookie.
// It binds a browser to its player state on this server.
type DevicePayload struct {
	jwt.StandardClaims

	// DeviceID is the UUID of the browser.
	DeviceID string `json:"device_id"`
}

// AccessClaims is the subset of the auth provider's access token claims the
// game relies on. Subject is the remote user id.
type AccessClaims struct {
	jwt.StandardClaims

	Email string `json:"email"`

	// Role is "authenticated" for signed-in users.
	Role string `json:"role"`

	// SessionID identifies the provider-side session the token belongs to.
	SessionID string `json:"session_id,omitempty"`
}
