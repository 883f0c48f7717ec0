package jwt

import (
	"context"
	"net/http"
	"time"

	"globetrotter/internal/pkg/logx"
	"globetrotter/internal/pkg/randx"
)

type contextKey string

const (
	// ContextDeviceKey stores the caller's device id in the request context.
	ContextDeviceKey contextKey = "device_id"

	// DeviceCookieName is the cookie that carries the signed device token.
	DeviceCookieName = "gt_device"

	// DeviceHeaderName lets non-browser clients send the device token without cookies.
	DeviceHeaderName = "X-Device-Token"
)

// DeviceMiddleware resolves the caller's device id from the gt_device cookie
// (or the X-Device-Token header). A missing or invalid token never fails the
// request: a fresh device id is minted and the cookie is set on the response.
func DeviceMiddleware(secretKey string, secureCookie bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := r.Header.Get(DeviceHeaderName)
			if tokenString == "" {
				if cookie, err := r.Cookie(DeviceCookieName); err == nil {
					tokenString = cookie.Value
				}
			}

			var deviceID string
			var expiresAt time.Time
			if tokenString != "" {
				payload, err := ParseDeviceToken(tokenString, secretKey)
				if err != nil {
					logx.Warn("Invalid device token, issuing a new device", "error", err)
				} else {
					deviceID = payload.DeviceID
					expiresAt = time.Unix(payload.ExpiresAt, 0)
				}
			}

			// Re-issue once the cookie is past half its lifetime.
			if deviceID == "" || time.Until(expiresAt) < DeviceTokenExpiration/2 {
				if deviceID == "" {
					deviceID = randx.DeviceID()
				}

				token, err := GenerateDeviceToken(deviceID, secretKey, DeviceTokenExpiration)
				if err != nil {
					logx.Error(err, "Failed to sign device token")
				} else {
					http.SetCookie(w, &http.Cookie{
						Name:     DeviceCookieName,
						Value:    token,
						Path:     "/",
						MaxAge:   int(DeviceTokenExpiration.Seconds()),
						HttpOnly: true,
						Secure:   secureCookie,
						SameSite: http.SameSiteLaxMode,
					})
				}
			}

			ctx := context.WithValue(r.Context(), ContextDeviceKey, deviceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetDeviceIDFromContext returns the device id set by DeviceMiddleware, or "".
func GetDeviceIDFromContext(r *http.Request) string {
	deviceID, _ := r.Context().Value(ContextDeviceKey).(string)
	return deviceID
}
