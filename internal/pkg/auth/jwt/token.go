package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt"
)

const (
	// DeviceTokenExpiration is how long a device cookie stays valid; it is re-issued on use.
	DeviceTokenExpiration = 30 * 24 * time.Hour

	// TokenIssuer identifies device tokens minted by this server.
	TokenIssuer = "Globetrotter-Server"

	// AuthenticatedRole is the role claim carried by signed-in access tokens.
	AuthenticatedRole = "authenticated"
)

var errUnexpectedSigningMethod = errors.New("unexpected signing method")

func hmacKey(secretKey string) jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedSigningMethod
		}
		return []byte(secretKey), nil
	}
}

// GenerateDeviceToken signs a device token for deviceID.
func GenerateDeviceToken(deviceID string, secretKey string, duration time.Duration) (string, error) {
	now := time.Now()

	payload := &DevicePayload{
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: now.Add(duration).Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    TokenIssuer,
			Subject:   deviceID,
		},
		DeviceID: deviceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)

	return token.SignedString([]byte(secretKey))
}

// ParseDeviceToken validates a device token and returns its payload.
func ParseDeviceToken(tokenString string, secretKey string) (*DevicePayload, error) {
	claims := &DevicePayload{}

	token, err := jwt.ParseWithClaims(tokenString, claims, hmacKey(secretKey))
	if err != nil {
		return nil, err
	}

	if !token.Valid || claims.Issuer != TokenIssuer || claims.DeviceID == "" {
		return nil, errors.New("invalid or expired device token")
	}

	return claims, nil
}

// ParseAccessToken validates an access token issued by the auth provider.
// Tokens must be HS256-signed with the project secret, unexpired, and carry a subject.
func ParseAccessToken(tokenString string, secretKey string) (*AccessClaims, error) {
	claims := &AccessClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, hmacKey(secretKey))
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid or expired access token")
	}

	if claims.Subject == "" {
		return nil, errors.New("access token has no subject")
	}

	return claims, nil
}
