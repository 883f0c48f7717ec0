/*
Package errs provides custom error types and application-level error code constants.

This file maps every error code to its CustomError template.
*/
package errs

import "net/http"

// errorMap stores the template for every application error code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Kind: KindValidation, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Kind: KindValidation, Message: "Unsupported request format."},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Kind: KindValidation, Message: "Unsupported request format."},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Kind: KindValidation, Message: "Request contains unexpected data."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Kind: KindValidation, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Round and Invite Errors
	ErrDataUnavailable: {Code: ErrDataUnavailable, Kind: KindDataUnavailable, Message: "Failed to load game data. Please try again."},
	ErrNoActiveRound:   {Code: ErrNoActiveRound, Kind: KindState, Message: "There is no question to answer yet."},
	ErrAlreadyAnswered: {Code: ErrAlreadyAnswered, Kind: KindState, Message: "This question has already been answered."},
	ErrRoundInProgress: {Code: ErrRoundInProgress, Kind: KindState, Message: "Answer the current question first."},
	ErrInvalidGuess:    {Code: ErrInvalidGuess, Kind: KindValidation, Message: "Please pick a destination."},
	ErrInviteNotFound:  {Code: ErrInviteNotFound, Kind: KindDataUnavailable, Message: "This challenge link is not valid."},

	// 3xxx: User, Session, and Security Errors
	ErrPowChallengeRequired: {Code: ErrPowChallengeRequired, Kind: KindValidation, Message: "Verification required. Please try again."},
	ErrPowChallengeInvalid:  {Code: ErrPowChallengeInvalid, Kind: KindValidation, Message: "Verification failed. Please try again."},
	ErrUnauthorized:         {Code: ErrUnauthorized, Kind: KindAuth, Message: "You need to log in first.", Status: http.StatusUnauthorized},
	ErrInvalidUsername:      {Code: ErrInvalidUsername, Kind: KindValidation, Message: "Username must be at least %d characters."},
	ErrInvalidEmail:         {Code: ErrInvalidEmail, Kind: KindValidation, Message: "Please enter a valid email address."},
	ErrAuthFailure:          {Code: ErrAuthFailure, Kind: KindAuth, Message: "Failed to sign in. Please try again."},

	// 5xxx: Internal System Errors
	ErrUnknown:            {Code: ErrUnknown, Kind: KindInternal, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrRemoteWriteFailure: {Code: ErrRemoteWriteFailure, Kind: KindRemoteWrite, Message: "Your changes could not be saved right now."},
}
