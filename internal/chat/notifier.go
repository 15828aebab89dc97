package chat

import (
	"go.uber.org/zap"
)

// Notifier shows blocking, user-facing alerts.
type Notifier interface {
	Alert(title, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(title, message string)

func (f NotifierFunc) Alert(title, message string) { f(title, message) }

// LogNotifier writes alerts to the log.
type LogNotifier struct {
	Logger *zap.SugaredLogger
}

func (n LogNotifier) Alert(title, message string) {
	n.Logger.Warnw(message, "alert", title)
}
