/*
Package handler provides the HTTP handlers and routing setup for the Globetrotter server.

This file defines the main Router, applying logging, CORS, device identity and
IP-based rate limiting before delegating requests to the API and WebSocket handlers.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"globetrotter/internal/pkg/auth/jwt"
	"globetrotter/internal/pkg/limiter"
	"globetrotter/internal/pkg/logx"
	"globetrotter/internal/pkg/pow"
	"globetrotter/internal/pkg/resp"
)

const (
	MagicLinkRate  = 0.1
	MagicLinkBurst = 3
	InviteRate     = 0.05
	InviteBurst    = 2
	ConnectRate    = 0.2
	ConnectBurst   = 5
)

// Router sets up the main HTTP routing table for the application.
func Router(deps *AppDeps) http.Handler {
	magicLinkLimiter := limiter.NewIPRateLimiter("magic-link", rate.Limit(MagicLinkRate), MagicLinkBurst)
	inviteLimiter := limiter.NewIPRateLimiter("invite", rate.Limit(InviteRate), InviteBurst)
	connectLimiter := limiter.NewIPRateLimiter("ws", rate.Limit(ConnectRate), ConnectBurst)

	r := chi.NewRouter()
	dev := deps.Config.IsDevelopment()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if dev {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if dev {
		corsAllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", pow.TokenHeaderKey, jwt.DeviceHeaderName},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", HandleHealth(deps))
	r.Handle("/metrics", deps.Metrics.Handler())

	r.Group(func(device chi.Router) {
		device.Use(jwt.DeviceMiddleware(deps.Config.AppSecret, !dev))

		device.Route("/api", func(api chi.Router) {
			api.Route("/pow", func(p chi.Router) {
				p.Post("/challenge", HandlePowChallenge(deps))
				p.Post("/verify", HandlePowVerify(deps))
			})

			api.Route("/auth", func(auth chi.Router) {
				auth.With(magicLinkLimiter.Middleware).Post("/magic-link", HandleMagicLink(deps))
				auth.Get("/callback", HandleAuthCallback(deps))
				auth.Post("/sign-out", HandleSignOut(deps))
			})

			api.Get("/me", HandleGetSession(deps))
			api.Post("/profile/username", HandleSetUsername(deps))

			api.Route("/game", func(g chi.Router) {
				g.Get("/", HandleGetGame(deps))
				g.Post("/new", HandleNewGame(deps))
				g.Post("/answer", HandleSubmitAnswer(deps))
			})

			api.Route("/invites", func(inv chi.Router) {
				inv.With(inviteLimiter.Middleware).Post("/", HandleCreateInvite(deps))
				inv.Get("/{id}", HandleGetInvite(deps))
				inv.Get("/{id}/qr", HandleInviteQR(deps))
			})
		})

		device.Get("/ws", HandleWebSocket(deps, wsUpgrader, connectLimiter))
	})

	return r
}

// HandleHealth reports liveness and, when configured, database reachability.
func HandleHealth(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if deps.Ping != nil {
			if err := deps.Ping(r.Context()); err != nil {
				logx.Error(err, "Health check: database unreachable")
				status = "degraded"
			}
		}

		resp.RespondSuccess(w, r, map[string]any{
			"status":  status,
			"service": "Globetrotter Server",
			"players": deps.Players.Len(),
		})
	}
}
