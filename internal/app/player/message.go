package player

import "time"

// MessageType names a WebSocket message in either direction.
type MessageType string

const (
	// Client to server.
	TypeLoadNewGame  MessageType = "LOAD_NEW_GAME"
	TypeSubmitAnswer MessageType = "SUBMIT_ANSWER"

	// Server to client.
	TypeSessionState MessageType = "SESSION_STATE"
	TypeGameState    MessageType = "GAME_STATE"
	TypeNotification MessageType = "NOTIFICATION"
	TypeError        MessageType = "ERROR"
)

// Message is the envelope of every frame pushed to the browser.
type Message struct {
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewMessage stamps payload with the current time.
func NewMessage(t MessageType, payload any) Message {
	return Message{Type: t, Payload: payload, Timestamp: time.Now().UnixMilli()}
}

// AnswerPayload is the body of SUBMIT_ANSWER.
type AnswerPayload struct {
	Guess string `json:"guess"`
}

// ErrorPayload is the body of ERROR.
type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}
