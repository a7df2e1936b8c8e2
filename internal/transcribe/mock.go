package transcribe

import (
	"context"
	"sync"
	"time"
)

// Mock is an Engine with scripted behavior, used by tests and by dry-run
// wiring that must work without a model file on disk.
type Mock struct {
	// Text is returned for every call unless Err or Script is set.
	Text string
	// Language is reported back in results; defaults to "en".
	Language string
	// Err, when set, fails every call.
	Err error
	// Delay simulates inference time and respects ctx cancellation.
	Delay time.Duration
	// Script, when set, overrides all of the above.
	Script func(ctx context.Context, samples []float32, opts Options) (Result, error)

	mu     sync.Mutex
	calls  int
	closed bool
}

// Transcribe returns the scripted outcome.
func (m *Mock) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if m.Script != nil {
		return m.Script(ctx, samples, opts)
	}
	if m.Err != nil {
		return Result{}, m.Err
	}
	lang := m.Language
	if lang == "" {
		lang = "en"
	}
	if opts.Language != "" && opts.Language != "auto" {
		lang = opts.Language
	}
	return Result{Text: m.Text, Language: lang, Duration: m.Delay}, nil
}

// Close marks the engine closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls reports how many transcriptions ran.
func (m *Mock) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
