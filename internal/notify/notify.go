// Package notify surfaces short user-facing toasts through the desktop
// notification service.
package notify

import (
	"log/slog"

	"github.com/gen2brain/beeep"
)

// Notifier sends desktop notifications. Failures are logged rather than
// returned, and delivery happens off the caller's goroutine, so a broken
// notification daemon can never stall a recording.
type Notifier struct {
	enabled bool
	log     *slog.Logger
}

// New creates a Notifier. A disabled one swallows everything.
func New(enabled bool, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Notifier{enabled: enabled, log: log}
}

// Notify shows a toast. Never blocks.
func (n *Notifier) Notify(title, message string) {
	if n == nil || !n.enabled {
		return
	}
	go func() {
		if err := beeep.Notify(title, message, ""); err != nil {
			n.log.Warn("notification failed", "title", title, "error", err)
		}
	}()
}
