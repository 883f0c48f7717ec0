/*
Package handler provides HTTP handler functions for playing rounds.
*/
package handler

import (
	"net/http"

	"globetrotter/internal/app/game"
	"globetrotter/internal/app/gateway"
	"globetrotter/internal/pkg/errs"
	"globetrotter/internal/pkg/req"
	"globetrotter/internal/pkg/resp"
)

// HandleGetGame returns the current round and score.
func HandleGetGame(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.playerFor(r).Game.Snapshot().View())
	}
}

// HandleNewGame loads the next round.
func HandleNewGame(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := deps.playerFor(r)
		if err := p.Game.LoadNewGame(r.Context()); err != nil {
			resp.RespondError(w, r, errs.From(err))
			return
		}
		resp.RespondSuccess(w, r, p.Game.Snapshot().View())
	}
}

type SubmitAnswerInput struct {
	Guess string `json:"guess"`
}

type SubmitAnswerOutput struct {
	Result gateway.AnswerResult `json:"result"`
	State  game.StateView       `json:"state"`
}

// HandleSubmitAnswer checks a guess for the presented round.
func HandleSubmitAnswer(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input SubmitAnswerInput
		if customErr := req.BindJSON(r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		p := deps.playerFor(r)
		result, err := p.Game.SubmitAnswer(r.Context(), input.Guess)
		if err != nil {
			resp.RespondError(w, r, errs.From(err))
			return
		}

		resp.RespondSuccess(w, r, SubmitAnswerOutput{Result: result, State: p.Game.Snapshot().View()})
	}
}
