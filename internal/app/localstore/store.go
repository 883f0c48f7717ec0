/*
Package localstore keeps the small per-device values a browser would hold in
localStorage: the chosen username, the invite session id, the serialized auth
session and the pending PKCE verifier.

Values are plain strings keyed by (device, key). A missing key is not an error:
Get reports it through its boolean result.
*/
package localstore

import "context"

// Persisted keys.
const (
	KeyUsername     = "globetrotter_username"
	KeySessionID    = "globetrotter_session_id"
	KeyAuthSession  = "globetrotter_auth_session"
	KeyCodeVerifier = "globetrotter_code_verifier"
)

// Store is a device-scoped string key/value store.
type Store interface {
	Get(ctx context.Context, deviceID, key string) (string, bool, error)
	Set(ctx context.Context, deviceID, key, value string) error

	// Remove deletes all given keys in one step; absent keys are ignored.
	Remove(ctx context.Context, deviceID string, keys ...string) error
}

// Device binds a Store to one device id.
type Device struct {
	store Store
	id    string
}

// ForDevice returns a view of store scoped to deviceID.
func ForDevice(store Store, deviceID string) Device {
	return Device{store: store, id: deviceID}
}

// ID returns the device id.
func (d Device) ID() string { return d.id }

func (d Device) Get(ctx context.Context, key string) (string, bool, error) {
	return d.store.Get(ctx, d.id, key)
}

func (d Device) Set(ctx context.Context, key, value string) error {
	return d.store.Set(ctx, d.id, key, value)
}

func (d Device) Remove(ctx context.Context, keys ...string) error {
	return d.store.Remove(ctx, d.id, keys...)
}
