package model

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sebsto/wispr/internal/audio"
	"github.com/sebsto/wispr/internal/transcribe"
)

// State is the lifecycle state of one model id.
type State string

const (
	NotPresent  State = "not_present"
	Downloading State = "downloading"
	Present     State = "present"
	Active      State = "active"
)

// Info is a point-in-time view of one catalog entry.
type Info struct {
	Descriptor
	State State
	// Progress is the download fraction, meaningful while Downloading.
	Progress float64
}

// Config configures a Manager.
type Config struct {
	// Dir is the well-known directory holding model files, keyed by the
	// descriptor file names.
	Dir string
	// Loader opens an inference engine for a model file. Defaults to the
	// whisper backend.
	Loader transcribe.Loader
	// Client overrides the HTTP client used for downloads.
	Client *http.Client
}

// Manager owns the model catalog states, the single active inference
// engine, and all downloads. At most one model is Active at a time, and
// one transcription runs at a time; loads and deletes wait for an
// in-flight transcription rather than swapping the engine under it.
type Manager struct {
	dir    string
	loader transcribe.Loader
	client *http.Client
	log    *slog.Logger

	// runMu serializes inference and engine swaps.
	runMu sync.Mutex

	mu       sync.Mutex
	states   map[string]State
	progress map[string]float64
	cancels  map[string]context.CancelFunc
	activeID string
	engine   transcribe.Engine
	pinned   string
	closed   bool

	wg sync.WaitGroup
}

// NewManager scans cfg.Dir for already-downloaded models and returns a
// ready manager. No model is loaded yet; call Load or EnsureActive.
func NewManager(cfg Config, log *slog.Logger) (*Manager, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("models dir must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating models dir: %w", err)
	}
	if cfg.Loader == nil {
		cfg.Loader = transcribe.NewWhisperEngine
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	m := &Manager{
		dir:      cfg.Dir,
		loader:   cfg.Loader,
		client:   cfg.Client,
		log:      log,
		states:   make(map[string]State),
		progress: make(map[string]float64),
		cancels:  make(map[string]context.CancelFunc),
	}

	for _, desc := range Catalog() {
		path := filepath.Join(m.dir, desc.File)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if looksValid(path, desc) {
			m.states[desc.ID] = Present
		} else {
			log.Warn("ignoring invalid model file", "model", desc.ID, "path", path)
		}
	}
	return m, nil
}

// Models returns a snapshot of every catalog entry with its state,
// ordered by rank.
func (m *Manager) Models() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Info, 0, len(catalog))
	for _, desc := range Catalog() {
		out = append(out, Info{
			Descriptor: desc,
			State:      m.stateLocked(desc.ID),
			Progress:   m.progress[desc.ID],
		})
	}
	return out
}

// Status reports the state of one model id.
func (m *Manager) Status(id string) (Info, error) {
	desc, ok := Lookup(id)
	if !ok {
		return Info{}, ErrUnknownModel
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Info{Descriptor: desc, State: m.stateLocked(id), Progress: m.progress[id]}, nil
}

// ActiveID returns the id of the active model, or empty.
func (m *Manager) ActiveID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// Load loads the model into memory and marks it Active, demoting any
// previously active model to Present. Loading the already-active id
// reloads it with a fresh engine.
func (m *Manager) Load(ctx context.Context, id string) error {
	desc, ok := Lookup(id)
	if !ok {
		return ErrUnknownModel
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	st := m.stateLocked(id)
	m.mu.Unlock()
	if st != Present && st != Active {
		return fmt.Errorf("%w: model %q is %s", ErrModelLoadFailed, id, st)
	}

	eng, err := m.loader(filepath.Join(m.dir, desc.File))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelLoadFailed, err)
	}

	m.mu.Lock()
	old := m.engine
	oldID := m.activeID
	m.engine = eng
	m.activeID = id
	if oldID != "" && oldID != id {
		m.states[oldID] = Present
	}
	m.states[id] = Active
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	m.log.Info("model active", "model", id)
	return nil
}

// EnsureActive makes id the active model, loading it only when a different
// model (or none) is active.
func (m *Manager) EnsureActive(ctx context.Context, id string) error {
	m.mu.Lock()
	already := m.activeID == id && m.engine != nil
	m.mu.Unlock()
	if already {
		return nil
	}
	return m.Load(ctx, id)
}

// ReloadActiveWithRetry reloads the currently active model, retrying up to
// maxAttempts times with a short backoff. With no active model it fails
// immediately without consuming an attempt.
func (m *Manager) ReloadActiveWithRetry(ctx context.Context, maxAttempts int) error {
	if maxAttempts < 1 {
		return fmt.Errorf("%w: maxAttempts must be at least 1", ErrModelLoadFailed)
	}

	m.mu.Lock()
	id := m.activeID
	m.mu.Unlock()
	if id == "" {
		return fmt.Errorf("%w: no active model", ErrModelLoadFailed)
	}

	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(time.Duration(attempt-1) * 250 * time.Millisecond):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if last = m.Load(ctx, id); last == nil {
			return nil
		}
		m.log.Warn("model reload attempt failed", "model", id, "attempt", attempt, "error", last)
	}
	return last
}

// Delete removes the model file and marks the id NotPresent. Deleting the
// active model first promotes the nearest smaller Present model (then the
// nearest larger) so the system keeps an active model whenever one is
// available; when none is, the active slot clears and ErrNoModelsAvailable
// is returned so callers can prompt for a download.
func (m *Manager) Delete(id string) error {
	desc, ok := Lookup(id)
	if !ok {
		return ErrUnknownModel
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.mu.Lock()
	st := m.stateLocked(id)
	if st == Downloading {
		m.mu.Unlock()
		return fmt.Errorf("%w: download in progress", ErrDeleteFailed)
	}
	if st == NotPresent {
		m.mu.Unlock()
		return nil
	}
	isActive := id == m.activeID
	var candidates []Descriptor
	if isActive {
		candidates = m.fallbackOrderLocked(id)
	}
	m.mu.Unlock()

	path := filepath.Join(m.dir, desc.File)

	promoted := ""
	if isActive {
		promoted = m.promoteOver(id, candidates)
	}

	if err := removeModelFile(path); err != nil {
		// The file is still on disk; the id stays Present.
		return err
	}
	m.mu.Lock()
	m.states[id] = NotPresent
	m.mu.Unlock()

	if isActive {
		m.log.Info("model deleted", "model", id, "promoted", promoted)
		if promoted == "" {
			return ErrNoModelsAvailable
		}
		return nil
	}
	m.log.Info("model deleted", "model", id)
	return nil
}

// promoteOver makes the first loadable candidate active in place of the
// outgoing model, demoting the outgoing id in the same critical section so
// no snapshot ever shows two active models. With no loadable candidate the
// active slot clears. Runs with runMu held.
func (m *Manager) promoteOver(outgoing string, candidates []Descriptor) string {
	for _, cand := range candidates {
		eng, err := m.loader(filepath.Join(m.dir, cand.File))
		if err != nil {
			m.log.Warn("fallback model failed to load", "model", cand.ID, "error", err)
			continue
		}
		m.mu.Lock()
		old := m.engine
		m.engine = eng
		m.activeID = cand.ID
		m.states[cand.ID] = Active
		m.states[outgoing] = Present
		m.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		return cand.ID
	}

	m.mu.Lock()
	old := m.engine
	m.engine = nil
	m.activeID = ""
	m.states[outgoing] = Present
	m.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return ""
}

// Transcribe runs inference on the active model. An empty buffer or empty
// inference output yields ErrEmptyTranscription, which callers treat as
// "nothing to insert" rather than a failure. A Pinned mode establishes a
// language pin that outlives the call; the pin wins over later modes until
// SetLanguageMode re-enables auto detection.
func (m *Manager) Transcribe(ctx context.Context, buf audio.Buffer, mode LanguageMode) (transcribe.Result, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	m.mu.Lock()
	if mode.Kind == Pinned && mode.Code != "" {
		m.pinned = mode.Code
	}
	eng := m.engine
	pin := m.pinned
	m.mu.Unlock()

	if eng == nil {
		return transcribe.Result{}, ErrModelNotDownloaded
	}
	if buf.Empty() {
		return transcribe.Result{}, ErrEmptyTranscription
	}

	lang := mode.hint()
	if pin != "" {
		lang = pin
	}

	res, err := eng.Transcribe(ctx, buf.Samples, transcribe.Options{Language: lang})
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return transcribe.Result{}, cerr
		}
		return transcribe.Result{}, fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}
	if strings.TrimSpace(res.Text) == "" {
		return transcribe.Result{}, ErrEmptyTranscription
	}
	return res, nil
}

// SetLanguageMode establishes or clears the persistent language pin.
// AutoDetect clears it; Pinned sets it; Specific leaves it untouched.
func (m *Manager) SetLanguageMode(mode LanguageMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch mode.Kind {
	case Pinned:
		m.pinned = mode.Code
	case AutoDetect:
		m.pinned = ""
	}
}

// CurrentLanguage reports the pinned mode, or auto detection when no pin
// is set.
func (m *Manager) CurrentLanguage() LanguageMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pinned != "" {
		return LanguageMode{Kind: Pinned, Code: m.pinned}
	}
	return Auto()
}

// Close cancels running downloads, waits for them, and releases the
// active engine.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()

	m.wg.Wait()

	m.runMu.Lock()
	defer m.runMu.Unlock()
	m.mu.Lock()
	eng := m.engine
	m.engine = nil
	m.activeID = ""
	m.mu.Unlock()
	if eng != nil {
		return eng.Close()
	}
	return nil
}

// stateLocked resolves the state of id under m.mu. When the recorded
// state says the file is missing it re-checks the disk, so model files
// that appeared after the startup scan are picked up.
func (m *Manager) stateLocked(id string) State {
	if s, ok := m.states[id]; ok && s != NotPresent {
		return s
	}
	desc, ok := Lookup(id)
	if !ok {
		return NotPresent
	}
	if !looksValid(filepath.Join(m.dir, desc.File), desc) {
		return NotPresent
	}
	m.states[id] = Present
	return Present
}

// fallbackOrderLocked returns the Present models to try when the active
// one goes away: nearest smaller rank first, then nearest larger.
func (m *Manager) fallbackOrderLocked(id string) []Descriptor {
	cur, _ := Lookup(id)
	var smaller, larger []Descriptor
	for _, d := range Catalog() {
		if d.ID == id || m.stateLocked(d.ID) != Present {
			continue
		}
		if d.Rank < cur.Rank {
			smaller = append(smaller, d)
		} else {
			larger = append(larger, d)
		}
	}
	sort.Slice(smaller, func(i, j int) bool { return smaller[i].Rank > smaller[j].Rank })
	return append(smaller, larger...)
}

func removeModelFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}
