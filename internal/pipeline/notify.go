package pipeline

import "time"

// DefaultNotifyDuration is how long a notification stays on screen.
const DefaultNotifyDuration = 2 * time.Second

// Level of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a transient, user-visible message.
type Notification struct {
	Flow     string        `json:"flow"`
	Level    Level         `json:"level"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"-"`
}

// DurationMs is the display duration in milliseconds.
func (n Notification) DurationMs() int64 {
	return n.Duration.Milliseconds()
}

// Notifier surfaces notifications to the user.
type Notifier interface {
	Notify(Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) {
	f(n)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

// errorMessage is the only failure text shown to users.
func errorMessage(flow string) string {
	return "There was an error in " + flow
}
