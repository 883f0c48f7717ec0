package handler

import (
	"net/http"

	"globetrotter/internal/pkg/errs"
	"globetrotter/internal/pkg/req"
	"globetrotter/internal/pkg/resp"
)

// HandleGetSession returns the device's session snapshot.
func HandleGetSession(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.playerFor(r).Session.Snapshot())
	}
}

type SetUsernameInput struct {
	Username   string `json:"username"`
	UpdateOnly bool   `json:"updateOnly,omitempty"`
}

// HandleSetUsername stores the username locally and, when signed in, on the remote profile.
func HandleSetUsername(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input SetUsernameInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		p := deps.playerFor(r)
		if err := p.Session.SetUsername(r.Context(), input.Username, input.UpdateOnly); err != nil {
			resp.RespondError(w, r, errs.From(err))
			return
		}

		resp.RespondSuccess(w, r, p.Session.Snapshot())
	}
}
