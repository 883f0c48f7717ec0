package handler

import (
	"context"
	"net/http"

	"globetrotter/internal/app/invite"
	"globetrotter/internal/app/player"
	"globetrotter/internal/configs"
	"globetrotter/internal/pkg/auth/jwt"
	"globetrotter/internal/pkg/metrics"
	"globetrotter/internal/pkg/pow"
)

// AppDeps are the services the HTTP handlers call into.
type AppDeps struct {
	Config  *configs.AppConfig
	Players *player.Manager
	Invites *invite.Service
	Pow     *pow.Manager
	Metrics *metrics.Recorder

	// Ping checks the database for /health; nil skips the check.
	Ping func(ctx context.Context) error
}

// playerFor returns the player of the requesting device.
func (d *AppDeps) playerFor(r *http.Request) *player.Player {
	return d.Players.Get(r.Context(), jwt.GetDeviceIDFromContext(r))
}
