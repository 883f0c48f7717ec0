// Package notify carries the user-facing notifications (toasts) that the
// session manager and the round engine emit on failures.
package notify

// Level is the severity shown to the user.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one toast.
type Notification struct {
	Level       Level  `json:"level"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Notifier receives notifications. Implementations must not block.
type Notifier interface {
	Notify(n Notification)
}

// Func adapts a plain function to a Notifier.
type Func func(n Notification)

func (f Func) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Notifier = Func(func(Notification) {})

// Error builds an error-level notification.
func Error(title, description string) Notification {
	return Notification{Level: LevelError, Title: title, Description: description}
}

// Success builds a success-level notification.
func Success(title, description string) Notification {
	return Notification{Level: LevelSuccess, Title: title, Description: description}
}
