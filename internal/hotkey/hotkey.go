// Package hotkey turns global key chords into recording commands using
// gohook. Hold mode records while the chord is down; toggle mode flips on
// each press. Esc cancels an in-flight recording in either mode.
package hotkey

import (
	"fmt"
	"sync"

	hook "github.com/robotn/gohook"
)

// Mode selects how the chord drives a recording.
type Mode string

const (
	// ModeHold records while the chord is held down.
	ModeHold Mode = "hold"
	// ModeToggle starts on one press and stops on the next.
	ModeToggle Mode = "toggle"
)

// ParseMode validates a mode string from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeHold, ModeToggle:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown hotkey mode %q", s)
}

// Kind is the recording command a key event maps to.
type Kind int

const (
	// Begin starts a recording session.
	Begin Kind = iota
	// End stops the session and hands it to transcription.
	End
	// Cancel discards the in-flight recording.
	Cancel
)

// Event is emitted on the channel returned by Events.
type Event struct {
	Kind Kind
}

// Listener owns the global keyboard hook and emits recording commands.
type Listener struct {
	keys       []string
	cancelKeys []string
	mode       Mode
	ch         chan Event
	done       chan struct{}
	once       sync.Once
}

// New creates a listener for the given chord. keys are lowercase gohook
// names, for example ["ctrl", "shift", "r"].
func New(keys []string, mode Mode) *Listener {
	return &Listener{
		keys:       keys,
		cancelKeys: []string{"esc"},
		mode:       mode,
		ch:         make(chan Event, 16),
		done:       make(chan struct{}),
	}
}

// Events returns the command channel. It closes after Stop.
func (l *Listener) Events() <-chan Event {
	return l.ch
}

// Run installs the hook and blocks until Stop. Run it in a goroutine.
func (l *Listener) Run() {
	var mu sync.Mutex
	toggled := false

	hook.Register(hook.KeyDown, l.keys, func(hook.Event) {
		if l.mode == ModeHold {
			l.emit(Begin)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if toggled {
			l.emit(End)
		} else {
			l.emit(Begin)
		}
		toggled = !toggled
	})
	if l.mode == ModeHold {
		hook.Register(hook.KeyUp, l.keys, func(hook.Event) {
			l.emit(End)
		})
	}
	hook.Register(hook.KeyDown, l.cancelKeys, func(hook.Event) {
		if l.mode == ModeToggle {
			mu.Lock()
			toggled = false
			mu.Unlock()
		}
		// harmless outside a recording; the orchestrator ignores it
		l.emit(Cancel)
	})

	evs := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evs)
	close(l.ch)
}

// emit never blocks; a full queue drops the event rather than stalling the
// hook thread.
func (l *Listener) emit(k Kind) {
	select {
	case l.ch <- Event{Kind: k}:
	default:
	}
}

// Stop tears down the hook. Safe to call more than once.
func (l *Listener) Stop() {
	l.once.Do(func() { close(l.done) })
}
