/*
Package handler provides HTTP handler functions for passwordless sign-in and the proof-of-work gate in front of it.
*/
package handler

import (
	"net/http"
	"net/url"
	"strings"

	"globetrotter/internal/pkg/errs"
	"globetrotter/internal/pkg/logx"
	"globetrotter/internal/pkg/req"
	"globetrotter/internal/pkg/resp"
)

// callbackPath is where magic links send the browser back to.
const callbackPath = "/api/auth/callback"

// HandlePowChallenge issues a proof-of-work nonce.
func HandlePowChallenge(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.Pow.NewChallenge())
	}
}

type PowVerifyInput struct {
	Nonce   string `json:"nonce"`
	Counter string `json:"counter"`
}

// HandlePowVerify trades a solved challenge for a single-use proof token.
func HandlePowVerify(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input PowVerifyInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		token, err := deps.Pow.ValidateProof(input.Nonce, input.Counter)
		if err != nil {
			logx.Warn("PoW verification failed", "error", err.Error())
			resp.RespondError(w, r, errs.NewError(errs.ErrPowChallengeInvalid))
			return
		}

		resp.RespondSuccess(w, r, map[string]string{"token": token})
	}
}

type MagicLinkInput struct {
	Email string `json:"email"`
}

// HandleMagicLink sends a sign-in link. It requires a proof token.
func HandleMagicLink(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !deps.Pow.ConsumeProofToken(r) {
			resp.RespondError(w, r, errs.NewError(errs.ErrPowChallengeRequired))
			return
		}

		var input MagicLinkInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		p := deps.playerFor(r)
		if err := p.Session.SignInWithEmail(r.Context(), input.Email, deps.callbackURL()); err != nil {
			resp.RespondError(w, r, errs.From(err))
			return
		}

		resp.RespondSuccess(w, r, map[string]bool{"sent": true})
	}
}

// HandleAuthCallback completes sign-in and sends the browser back to the
// game, carrying the device's invite session if it has one.
func HandleAuthCallback(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		p := deps.playerFor(r)

		target := deps.Config.PublicURL
		if id := p.Session.Snapshot().SessionID; id != "" {
			target = deps.Invites.ShareURL(id)
		}

		code := query.Get("code")
		if providerErr := query.Get("error_description"); providerErr != "" || code == "" {
			logx.Warn("Auth callback without code", "error", providerErr)
			http.Redirect(w, r, withAuthError(target), http.StatusSeeOther)
			return
		}

		if err := p.Session.CompleteSignIn(r.Context(), code); err != nil {
			http.Redirect(w, r, withAuthError(target), http.StatusSeeOther)
			return
		}

		http.Redirect(w, r, target, http.StatusSeeOther)
	}
}

// HandleSignOut signs the device out and returns the cleared session.
func HandleSignOut(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := deps.playerFor(r)
		if err := p.Session.SignOut(r.Context()); err != nil {
			resp.RespondError(w, r, errs.From(err))
			return
		}
		resp.RespondSuccess(w, r, p.Session.Snapshot())
	}
}

// callbackURL is the absolute URL of the auth callback. It comes from
// configuration only; request headers are client controlled.
func (deps *AppDeps) callbackURL() string {
	return strings.TrimRight(deps.Config.APIPublicURL, "/") + callbackPath
}

func withAuthError(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	q.Set("auth_error", "1")
	u.RawQuery = q.Encode()
	return u.String()
}
