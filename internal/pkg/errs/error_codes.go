/*
Package errs provides custom error types and application-level error code constants.

These error codes identify business and system failures both inside the server
and in the JSON/WebSocket payloads sent to the browser.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON is malformed.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained data after the JSON value.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007
)

// 2xxx: Round and Invite Errors
const (
	// ErrDataUnavailable indicates a destination, answer or profile read returned nothing or failed.
	ErrDataUnavailable = 2101

	// ErrNoActiveRound indicates an answer was submitted with no round presented.
	ErrNoActiveRound = 2102

	// ErrAlreadyAnswered indicates a second answer for a round that already has one.
	ErrAlreadyAnswered = 2103

	// ErrRoundInProgress indicates a new round was requested before the current one was answered.
	ErrRoundInProgress = 2104

	// ErrInvalidGuess indicates an empty guess.
	ErrInvalidGuess = 2105

	// ErrInviteNotFound indicates the invite session id does not exist.
	ErrInviteNotFound = 2201
)

// 3xxx: User, Session, and Security Errors
const (
	// ErrPowChallengeRequired indicates the client must complete a Proof-of-Work challenge first.
	ErrPowChallengeRequired = 3001

	// ErrPowChallengeInvalid indicates that the PoW proof provided by the client is invalid.
	ErrPowChallengeInvalid = 3002

	// ErrUnauthorized indicates the operation needs a signed-in user.
	ErrUnauthorized = 3005

	// ErrInvalidUsername indicates a username that is empty or too short.
	ErrInvalidUsername = 3101

	// ErrInvalidEmail indicates a malformed email address.
	ErrInvalidEmail = 3102

	// ErrAuthFailure indicates the auth provider rejected a sign-in step.
	ErrAuthFailure = 3103
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrRemoteWriteFailure indicates a profile, score or invite write to the backend failed.
	ErrRemoteWriteFailure = 5001
)
