package model

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Download starts fetching the model in the background and returns a
// progress stream. Requesting a model that is already downloading yields
// ErrAlreadyDownloading; requesting one already on disk yields a stream
// that completes immediately.
func (m *Manager) Download(ctx context.Context, id string) (*ProgressStream, error) {
	desc, ok := Lookup(id)
	if !ok {
		return nil, ErrUnknownModel
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("manager is closed")
	}
	switch m.stateLocked(id) {
	case Downloading:
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDownloading, id)
	case Present, Active:
		stream := newProgressStream(1)
		stream.finish(Progress{Fraction: 1}, nil)
		return stream, nil
	}

	dctx, cancel := context.WithCancel(ctx)
	m.states[id] = Downloading
	m.progress[id] = 0
	m.cancels[id] = cancel

	stream := newProgressStream(64)
	m.wg.Add(1)
	go m.runDownload(dctx, desc, stream)

	m.log.Info("model download started", "model", id, "url", desc.URL)
	return stream, nil
}

// CancelDownload aborts an in-flight download for id, if any.
func (m *Manager) CancelDownload(id string) {
	m.mu.Lock()
	cancel := m.cancels[id]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// runDownload fetches desc.URL into a temp file, validates it, and
// renames it into place. Partial files never survive a failure.
func (m *Manager) runDownload(ctx context.Context, desc Descriptor, stream *ProgressStream) {
	defer m.wg.Done()

	tmp := filepath.Join(m.dir, desc.File+".tmp")
	final := filepath.Join(m.dir, desc.File)

	fail := func(err error) {
		_ = os.Remove(tmp)
		m.mu.Lock()
		m.states[desc.ID] = NotPresent
		delete(m.progress, desc.ID)
		delete(m.cancels, desc.ID)
		m.mu.Unlock()
		stream.finish(Progress{}, err)
		m.log.Warn("model download failed", "model", desc.ID, "error", err)
	}

	received, total, err := m.fetch(ctx, desc, tmp, stream)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			fail(cerr)
			return
		}
		fail(err)
		return
	}

	if err := validateFile(tmp, desc); err != nil {
		fail(err)
		return
	}
	if err := os.Rename(tmp, final); err != nil {
		fail(fmt.Errorf("%w: %v", ErrDownloadFailed, err))
		return
	}

	m.mu.Lock()
	m.states[desc.ID] = Present
	delete(m.progress, desc.ID)
	delete(m.cancels, desc.ID)
	m.mu.Unlock()

	stream.finish(Progress{Fraction: 1, Received: received, Total: total}, nil)
	m.log.Info("model downloaded", "model", desc.ID, "bytes", received)
}

// fetch streams the response body into tmp, reporting progress as it goes.
func (m *Manager) fetch(ctx context.Context, desc Descriptor, tmp string, stream *ProgressStream) (received, total int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.URL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("%w: HTTP %d from %s", ErrDownloadFailed, resp.StatusCode, desc.URL)
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}

	total = resp.ContentLength
	cw := &countingWriter{
		w:     f,
		total: total,
		onStep: func(rec, tot int64) {
			p := Progress{Received: rec, Total: tot}
			if tot > 0 {
				p.Fraction = float64(rec) / float64(tot)
			}
			stream.emit(p)
			m.mu.Lock()
			m.progress[desc.ID] = p.Fraction
			m.mu.Unlock()
		},
	}

	received, err = io.Copy(cw, resp.Body)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return received, total, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	return received, total, nil
}

// countingWriter reports cumulative bytes written after each chunk.
type countingWriter struct {
	w       io.Writer
	written int64
	total   int64
	onStep  func(received, total int64)
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.written += int64(n)
	if cw.onStep != nil {
		cw.onStep(cw.written, cw.total)
	}
	return n, err
}
