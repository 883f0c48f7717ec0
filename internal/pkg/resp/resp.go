/*
Package resp provides helper functions for constructing and sending standardized HTTP JSON responses.

Every response uses the same envelope: a business code (0 for success), a
message and an optional data payload.
*/
package resp

import (
	"encoding/json"
	"net/http"

	"globetrotter/internal/pkg/errs"
	"globetrotter/internal/pkg/logx"
)

// JSONResponse is the envelope returned to the browser.
type JSONResponse struct {
	// Code is the business status code (0 for success, see errs package).
	Code int `json:"code"`

	// Message is the client-friendly status description or error message.
	Message string `json:"message"`

	// Kind is the error kind, omitted on success.
	Kind errs.Kind `json:"kind,omitempty"`

	// Data is the optional response payload.
	Data any `json:"data,omitempty"`
}

// RespondJSON sets the Content-Type and writes payload with httpStatus.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	response, err := json.Marshal(payload)
	if err != nil {
		logx.FromRequest(r).Error().Err(err).Int("http_status", httpStatus).Msg("Error encoding JSON response")

		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(httpStatus)
	_, _ = w.Write(response)
}

// RespondSuccess sends data with HTTP 200 and code 0.
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	res := JSONResponse{
		Code:    0,
		Message: "success",
		Data:    data,
	}
	RespondJSON(w, r, http.StatusOK, res)
}

// RespondError sends customErr using its status and code. A nil error is reported as ErrUnknown.
// Internal and remote-write errors are logged with their cause; the cause never reaches the client.
func RespondError(w http.ResponseWriter, r *http.Request, customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}

	if customErr.Kind == errs.KindInternal || customErr.Kind == errs.KindRemoteWrite {
		logx.FromRequest(r).Error().
			Err(customErr.Unwrap()).
			Int("code", customErr.Code).
			Msg(customErr.Message)
	}

	res := JSONResponse{
		Code:    customErr.Code,
		Message: customErr.Message,
		Kind:    customErr.Kind,
	}
	RespondJSON(w, r, customErr.Status, res)
}
