// Package session drives one recording from trigger to inserted text:
// idle, recording, processing, back to idle, with a self-clearing error
// state. A single worker goroutine owns all mutable state; the public
// methods post commands to it, so no lock guards the state machine.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/sebsto/wispr/internal/audio"
	"github.com/sebsto/wispr/internal/model"
	"github.com/sebsto/wispr/internal/transcribe"
)

var (
	// ErrMicrophonePermission is surfaced when the gate denies capture.
	ErrMicrophonePermission = errors.New("microphone permission denied")
	// ErrInsertionPermission is surfaced when the gate denies typing into
	// other applications.
	ErrInsertionPermission = errors.New("text insertion permission denied")
)

// CaptureEngine is the slice of the audio engine the orchestrator drives.
type CaptureEngine interface {
	// UseDevice selects the capture device for the next Start.
	UseDevice(id string) error
	// Start begins capturing and returns the live amplitude feed plus a
	// channel reporting a mid-capture abort.
	Start() (levels <-chan float64, failures <-chan error, err error)
	// Stop finalizes capture. The buffer is empty, never nil, when nothing
	// was recorded.
	Stop() audio.Buffer
	// Cancel discards the in-flight capture. Idempotent.
	Cancel()
}

// Transcriber turns a captured buffer into text.
type Transcriber interface {
	Transcribe(ctx context.Context, buf audio.Buffer, mode model.LanguageMode) (transcribe.Result, error)
}

// ModelSelector activates the model a session's settings name.
type ModelSelector interface {
	EnsureActive(ctx context.Context, id string) error
}

// Inserter delivers transcribed text into the focused application.
type Inserter interface {
	Insert(ctx context.Context, text string) error
}

// Gate answers the permission questions asked at session start.
type Gate interface {
	MicrophoneAllowed() bool
	InsertionAllowed() bool
}

// Notifier surfaces user-facing toasts. Implementations must not block.
type Notifier interface {
	Notify(title, message string)
}

// Settings is the configuration snapshot read once at the start of each
// session. Changes made mid-session apply to the next one.
type Settings struct {
	// Device is the preferred capture device, empty for the default.
	Device string
	// Language selects transcription language handling.
	Language model.LanguageMode
	// Model names the catalog model to activate, empty to keep the
	// current one.
	Model string
}

// SettingsSource yields the settings for the next session.
type SettingsSource interface {
	Snapshot() Settings
}

// FixedSettings is a SettingsSource that always returns the same snapshot.
type FixedSettings Settings

func (f FixedSettings) Snapshot() Settings { return Settings(f) }

// Session identifies one recording run.
type Session struct {
	ID        string
	StartedAt time.Time
	Settings  Settings
}
