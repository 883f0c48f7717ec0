/*
Package handler provides HTTP handler functions for challenge invites.
*/
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"globetrotter/internal/pkg/errs"
	"globetrotter/internal/pkg/logx"
	"globetrotter/internal/pkg/req"
	"globetrotter/internal/pkg/resp"
)

type CreateInviteInput struct {
	// Username overrides the device's username for the share text.
	Username string `json:"username,omitempty"`
}

// HandleCreateInvite creates a challenge for the signed-in player and makes
// it the device's invite session.
func HandleCreateInvite(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input CreateInviteInput
		if r.ContentLength != 0 {
			if customErr := req.BindJSON(r, &input); customErr != nil {
				resp.RespondError(w, r, customErr)
				return
			}
		}

		p := deps.playerFor(r)
		snapshot := p.Session.Snapshot()
		username := input.Username
		if username == "" {
			username = snapshot.Username
		}

		challenge, err := deps.Invites.CreateChallenge(r.Context(), p.Session.CurrentIdentity(), username, snapshot.UserStats)
		if err != nil {
			resp.RespondError(w, r, errs.From(err))
			return
		}

		if err := p.Session.SetSessionID(r.Context(), challenge.SessionID); err != nil {
			logx.Warn("Failed to remember created invite", "session_id", challenge.SessionID)
		}

		resp.RespondSuccess(w, r, challenge)
	}
}

// HandleGetInvite resolves an invite to its creator's stats and records it
// as the device's invite session.
func HandleGetInvite(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		creator, err := deps.Invites.CreatorStats(r.Context(), id)
		if err != nil {
			resp.RespondError(w, r, errs.From(err))
			return
		}

		p := deps.playerFor(r)
		if err := p.Session.SetSessionID(r.Context(), creator.SessionID); err != nil {
			logx.Warn("Failed to remember opened invite", "session_id", creator.SessionID)
		}

		resp.RespondSuccess(w, r, creator)
	}
}

// HandleInviteQR serves the invite link as a PNG QR code.
func HandleInviteQR(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		png, err := deps.Invites.QRCode(chi.URLParam(r, "id"))
		if err != nil {
			resp.RespondError(w, r, errs.From(err))
			return
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", strconv.Itoa(len(png)))
		w.Header().Set("Cache-Control", "public, max-age=86400")
		_, _ = w.Write(png)
	}
}
