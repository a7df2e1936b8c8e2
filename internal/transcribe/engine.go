// Package transcribe provides speech-to-text inference engines.
//
// The whisper backend (whisper.cpp via Go bindings) is the production
// engine; Mock exists for wiring tests without model files.
package transcribe

import (
	"context"
	"time"
)

// Options constrain a single transcription run.
type Options struct {
	// Language is an ISO 639-1 hint such as "en". Empty or "auto" lets a
	// multilingual model detect the language itself.
	Language string
}

// Result is the outcome of one transcription. It is transient; callers hand
// the text off and drop the value.
type Result struct {
	Text string
	// Language is the language the engine used or detected, when known.
	Language string
	// Duration is the inference wall time.
	Duration time.Duration
}

// Engine converts audio samples to text.
type Engine interface {
	// Transcribe runs inference on mono 16kHz float32 samples. It honors
	// ctx cancellation between and, where the backend allows, inside
	// inference passes.
	Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error)
	// Close releases backend resources.
	Close() error
}

// Loader opens an inference engine for a model file on disk. The model
// manager uses it so tests can substitute engines freely.
type Loader func(modelPath string) (Engine, error)
