/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains HandleWebSocket, which rate limits the connection, upgrades it,
attaches the client to the device's player and runs the client's pumps.
*/
package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"globetrotter/internal/app/player"
	"globetrotter/internal/pkg/errs"
	"globetrotter/internal/pkg/limiter"
	"globetrotter/internal/pkg/logx"
	"globetrotter/internal/pkg/resp"
)

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := limiter.ClientIP(r)
		if !rateLimiter.Allow(ip) {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", ip)
			resp.RespondError(w, r, errs.NewError(errs.ErrRateLimitExceeded))
			return
		}

		p := deps.playerFor(r)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := player.NewClient(p, conn, deps.Metrics)
		if !p.Attach(client) {
			logx.Info("WebSocket connection dropped: player already closed.", "device_id", p.DeviceID)
			conn.Close()
			deps.Metrics.ConnectionClosed()
			return
		}

		go client.WritePump()

		logx.Info("WebSocket client attached", "device_id", p.DeviceID)

		client.ReadPump()
	}
}
