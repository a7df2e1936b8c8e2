// Package fsm defines the recording session state machine.
//
// The machine is a pure transition table. Callers own the current state and
// ask for the next one; nothing in here blocks, locks, or remembers.
package fsm

import "fmt"

// State is one of the four session states.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateError      State = "error"
)

// Event drives a transition between states.
type Event string

const (
	// EventBegin starts a recording session.
	EventBegin Event = "begin"
	// EventStop ends capture and moves to transcription.
	EventStop Event = "stop"
	// EventCancel abandons an in-flight recording.
	EventCancel Event = "cancel"
	// EventProcessed reports that transcription (and any insertion) finished.
	EventProcessed Event = "processed"
	// EventFail reports a failure from capture or transcription.
	EventFail Event = "fail"
	// EventReset returns the machine to idle after an error was surfaced.
	EventReset Event = "reset"
)

// ErrInvalidTransition wraps every rejected event.
var ErrInvalidTransition = fmt.Errorf("invalid transition")

// Transition returns the state that follows current when event fires.
// Rejected events leave the caller's state untouched and return an error
// wrapping ErrInvalidTransition.
func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventBegin:
			return StateRecording, nil
		case EventFail:
			// a session can fail before capture starts, for example when
			// the permission gate denies the microphone
			return StateError, nil
		}
	case StateRecording:
		switch event {
		case EventStop:
			return StateProcessing, nil
		case EventCancel:
			return StateIdle, nil
		case EventFail:
			return StateError, nil
		}
	case StateProcessing:
		switch event {
		case EventProcessed:
			return StateIdle, nil
		case EventFail:
			return StateError, nil
		}
	case StateError:
		if event == EventReset {
			return StateIdle, nil
		}
	}
	return current, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, current)
}

// Valid reports whether s is a known state.
func Valid(s State) bool {
	switch s {
	case StateIdle, StateRecording, StateProcessing, StateError:
		return true
	}
	return false
}
