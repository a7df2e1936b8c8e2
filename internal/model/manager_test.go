package model

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sebsto/wispr/internal/audio"
	"github.com/sebsto/wispr/internal/transcribe"
)

// stubLoader stands in for the whisper backend so manager semantics can be
// tested without model files.
type stubLoader struct {
	mu        sync.Mutex
	loads     []string
	failures  map[string]int
	engines   []*transcribe.Mock
	text      string
	engineErr error
}

func newStubLoader() *stubLoader {
	return &stubLoader{failures: make(map[string]int), text: "hello world"}
}

func (s *stubLoader) load(path string) (transcribe.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := filepath.Base(path)
	s.loads = append(s.loads, name)
	if s.failures[name] > 0 {
		s.failures[name]--
		return nil, errors.New("mmap failed")
	}
	eng := &transcribe.Mock{Text: s.text, Err: s.engineErr}
	s.engines = append(s.engines, eng)
	return eng, nil
}

func (s *stubLoader) failNext(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[name] = n
}

func (s *stubLoader) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.loads)
}

func (s *stubLoader) engine(i int) *transcribe.Mock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engines[i]
}

func withTestCatalog(t *testing.T, entries []Descriptor) {
	t.Helper()
	orig := catalog
	catalog = entries
	t.Cleanup(func() { catalog = orig })
}

func testDescriptors(baseURL string) []Descriptor {
	return []Descriptor{
		{ID: "alpha", DisplayName: "Alpha", Rank: 0, File: "ggml-alpha.bin", URL: baseURL + "/alpha.bin"},
		{ID: "beta", DisplayName: "Beta", Rank: 1, File: "ggml-beta.bin", URL: baseURL + "/beta.bin"},
		{ID: "gamma", DisplayName: "Gamma", Rank: 2, File: "ggml-gamma.bin", URL: baseURL + "/gamma.bin"},
	}
}

func newTestManager(t *testing.T, loader *stubLoader) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(Config{Dir: dir, Loader: loader.load}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m, dir
}

func placeModel(t *testing.T, dir string, desc Descriptor) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, desc.File), ggmlPayload(256), 0o644))
}

func sampleBuffer() audio.Buffer {
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = float32(i%7) * 0.01
	}
	return audio.Buffer{Samples: samples, SampleRate: 16000}
}

func requireState(t *testing.T, m *Manager, id string, want State) {
	t.Helper()
	info, err := m.Status(id)
	require.NoError(t, err)
	require.Equal(t, want, info.State)
}

func TestNewManagerScansModelsDir(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)

	dir := t.TempDir()
	placeModel(t, dir, entries[0])
	require.NoError(t, os.WriteFile(filepath.Join(dir, entries[1].File), []byte("garbage"), 0o644))

	m, err := NewManager(Config{Dir: dir, Loader: newStubLoader().load}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	requireState(t, m, "alpha", Present)
	requireState(t, m, "beta", NotPresent)
	requireState(t, m, "gamma", NotPresent)
}

func TestModelPlacedAfterStartupIsDiscovered(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	m, dir := newTestManager(t, newStubLoader())

	requireState(t, m, "alpha", NotPresent)

	placeModel(t, dir, entries[0])
	requireState(t, m, "alpha", Present)
	require.NoError(t, m.Load(context.Background(), "alpha"))
	requireState(t, m, "alpha", Active)

	// An invalid file appearing later must not be mistaken for a model.
	require.NoError(t, os.WriteFile(filepath.Join(dir, entries[1].File), []byte("garbage"), 0o644))
	requireState(t, m, "beta", NotPresent)
}

func TestDownloadSuccess(t *testing.T) {
	payload := ggmlPayload(4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	entries := testDescriptors(srv.URL)
	withTestCatalog(t, entries)
	m, dir := newTestManager(t, newStubLoader())

	stream, err := m.Download(context.Background(), "alpha")
	require.NoError(t, err)

	got := drain(stream)
	require.NoError(t, stream.Err())
	require.NotEmpty(t, got)
	require.Equal(t, 1.0, got[len(got)-1].Fraction)
	var prev float64
	for _, p := range got {
		require.GreaterOrEqual(t, p.Fraction, prev)
		prev = p.Fraction
	}

	requireState(t, m, "alpha", Present)
	_, err = os.Stat(filepath.Join(dir, "ggml-alpha.bin"))
	require.NoError(t, err)
	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestDownloadUnknownModel(t *testing.T) {
	withTestCatalog(t, testDescriptors("https://example.invalid"))
	m, _ := newTestManager(t, newStubLoader())

	_, err := m.Download(context.Background(), "enormous")
	require.ErrorIs(t, err, ErrUnknownModel)
}

func TestDownloadAlreadyInFlight(t *testing.T) {
	payload := ggmlPayload(2048)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		select {
		case <-release:
			_, _ = w.Write(payload)
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)

	withTestCatalog(t, testDescriptors(srv.URL))
	m, _ := newTestManager(t, newStubLoader())

	stream, err := m.Download(context.Background(), "alpha")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, err := m.Status("alpha")
		return err == nil && info.State == Downloading
	}, 2*time.Second, 10*time.Millisecond)

	_, err = m.Download(context.Background(), "alpha")
	require.ErrorIs(t, err, ErrAlreadyDownloading)

	close(release)
	require.NoError(t, stream.Wait())
	requireState(t, m, "alpha", Present)
}

func TestDownloadAlreadyPresentCompletesImmediately(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)

	loader := newStubLoader()
	dir := t.TempDir()
	placeModel(t, dir, entries[0])
	m, err := NewManager(Config{Dir: dir, Loader: loader.load}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	stream, err := m.Download(context.Background(), "alpha")
	require.NoError(t, err)
	got := drain(stream)
	require.NoError(t, stream.Err())
	require.Len(t, got, 1)
	require.Equal(t, 1.0, got[0].Fraction)
}

func TestDownloadRejectsCorruptPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>rate limited</html>"))
	}))
	t.Cleanup(srv.Close)

	withTestCatalog(t, testDescriptors(srv.URL))
	m, dir := newTestManager(t, newStubLoader())

	stream, err := m.Download(context.Background(), "alpha")
	require.NoError(t, err)
	require.ErrorIs(t, stream.Wait(), ErrValidationFailed)

	requireState(t, m, "alpha", NotPresent)
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestDownloadServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	withTestCatalog(t, testDescriptors(srv.URL))
	m, _ := newTestManager(t, newStubLoader())

	stream, err := m.Download(context.Background(), "beta")
	require.NoError(t, err)
	require.ErrorIs(t, stream.Wait(), ErrDownloadFailed)
	requireState(t, m, "beta", NotPresent)
}

func TestDownloadCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	withTestCatalog(t, testDescriptors(srv.URL))
	m, dir := newTestManager(t, newStubLoader())

	stream, err := m.Download(context.Background(), "alpha")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, err := m.Status("alpha")
		return err == nil && info.State == Downloading
	}, 2*time.Second, 10*time.Millisecond)

	m.CancelDownload("alpha")
	require.ErrorIs(t, stream.Wait(), context.Canceled)

	requireState(t, m, "alpha", NotPresent)
	files, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestCloseCancelsDownloads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	withTestCatalog(t, testDescriptors(srv.URL))
	m, _ := newTestManager(t, newStubLoader())

	stream, err := m.Download(context.Background(), "gamma")
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.ErrorIs(t, stream.Wait(), context.Canceled)

	_, err = m.Download(context.Background(), "alpha")
	require.Error(t, err)
}

func TestLoadActivatesAndDemotes(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	loader := newStubLoader()
	m, dir := newTestManager(t, loader)
	placeModel(t, dir, entries[0])
	placeModel(t, dir, entries[1])
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "alpha"))
	require.Equal(t, "alpha", m.ActiveID())
	requireState(t, m, "alpha", Active)

	require.NoError(t, m.Load(ctx, "beta"))
	require.Equal(t, "beta", m.ActiveID())
	requireState(t, m, "alpha", Present)
	requireState(t, m, "beta", Active)
	require.True(t, loader.engine(0).Closed(), "demoted engine must be released")
	require.False(t, loader.engine(1).Closed())
}

func TestLoadRequiresDownloadedModel(t *testing.T) {
	withTestCatalog(t, testDescriptors("https://example.invalid"))
	m, _ := newTestManager(t, newStubLoader())

	err := m.Load(context.Background(), "alpha")
	require.ErrorIs(t, err, ErrModelLoadFailed)

	err = m.Load(context.Background(), "enormous")
	require.ErrorIs(t, err, ErrUnknownModel)
}

func TestLoadSameModelReloads(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	loader := newStubLoader()
	m, dir := newTestManager(t, loader)
	placeModel(t, dir, entries[0])
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "alpha"))
	require.NoError(t, m.Load(ctx, "alpha"))
	require.Equal(t, 2, loader.count())
	require.True(t, loader.engine(0).Closed())
	require.False(t, loader.engine(1).Closed())
	require.Equal(t, "alpha", m.ActiveID())
	requireState(t, m, "alpha", Active)
}

func TestEnsureActiveSkipsRedundantLoad(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	loader := newStubLoader()
	m, dir := newTestManager(t, loader)
	placeModel(t, dir, entries[0])
	placeModel(t, dir, entries[1])
	ctx := context.Background()

	require.NoError(t, m.EnsureActive(ctx, "alpha"))
	require.NoError(t, m.EnsureActive(ctx, "alpha"))
	require.Equal(t, 1, loader.count())

	require.NoError(t, m.EnsureActive(ctx, "beta"))
	require.Equal(t, 2, loader.count())
}

func TestReloadFailsFastWithNoActiveModel(t *testing.T) {
	withTestCatalog(t, testDescriptors("https://example.invalid"))
	loader := newStubLoader()
	m, _ := newTestManager(t, loader)

	err := m.ReloadActiveWithRetry(context.Background(), 3)
	require.ErrorIs(t, err, ErrModelLoadFailed)
	require.Contains(t, err.Error(), "no active model")
	require.Zero(t, loader.count(), "failing fast must not consume attempts")
}

func TestReloadRetriesUntilSuccess(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	loader := newStubLoader()
	m, dir := newTestManager(t, loader)
	placeModel(t, dir, entries[0])
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "alpha"))
	loader.failNext("ggml-alpha.bin", 2)

	require.NoError(t, m.ReloadActiveWithRetry(ctx, 3))
	require.Equal(t, 4, loader.count())
	require.Equal(t, "alpha", m.ActiveID())
}

func TestReloadKeepsOldEngineWhenAttemptsExhaust(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	loader := newStubLoader()
	m, dir := newTestManager(t, loader)
	placeModel(t, dir, entries[0])
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "alpha"))
	loader.failNext("ggml-alpha.bin", 10)

	err := m.ReloadActiveWithRetry(ctx, 2)
	require.ErrorIs(t, err, ErrModelLoadFailed)
	require.Equal(t, 3, loader.count())

	res, err := m.Transcribe(ctx, sampleBuffer(), Auto())
	require.NoError(t, err, "the previous engine must survive a failed reload")
	require.Equal(t, "hello world", res.Text)
}

func TestDeleteInactiveModel(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	m, dir := newTestManager(t, newStubLoader())
	placeModel(t, dir, entries[0])
	placeModel(t, dir, entries[1])

	require.NoError(t, m.Load(context.Background(), "alpha"))
	require.NoError(t, m.Delete("beta"))

	requireState(t, m, "beta", NotPresent)
	require.Equal(t, "alpha", m.ActiveID())
	_, err := os.Stat(filepath.Join(dir, "ggml-beta.bin"))
	require.True(t, os.IsNotExist(err))
}

func TestDeleteActivePromotesNearestSmaller(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	loader := newStubLoader()
	m, dir := newTestManager(t, loader)
	for _, d := range entries {
		placeModel(t, dir, d)
	}

	require.NoError(t, m.Load(context.Background(), "gamma"))
	require.NoError(t, m.Delete("gamma"))

	require.Equal(t, "beta", m.ActiveID())
	requireState(t, m, "gamma", NotPresent)
	requireState(t, m, "beta", Active)
	requireState(t, m, "alpha", Present)
	require.True(t, loader.engine(0).Closed(), "deleted model's engine must be released")
}

func TestDeleteActivePromotesLargerWhenNoSmaller(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	m, dir := newTestManager(t, newStubLoader())
	placeModel(t, dir, entries[0])
	placeModel(t, dir, entries[2])

	require.NoError(t, m.Load(context.Background(), "alpha"))
	require.NoError(t, m.Delete("alpha"))
	require.Equal(t, "gamma", m.ActiveID())
}

func TestDeleteActiveKeepsOneActiveWhenRemovalFails(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	m, dir := newTestManager(t, newStubLoader())
	placeModel(t, dir, entries[0])
	placeModel(t, dir, entries[1])

	require.NoError(t, m.Load(context.Background(), "beta"))

	// Swap the model file for a non-empty directory so the removal fails
	// after the fallback has been promoted.
	path := filepath.Join(dir, entries[1].File)
	require.NoError(t, os.Remove(path))
	require.NoError(t, os.MkdirAll(filepath.Join(path, "nested"), 0o755))

	require.ErrorIs(t, m.Delete("beta"), ErrDeleteFailed)

	var active []string
	for _, info := range m.Models() {
		if info.State == Active {
			active = append(active, info.ID)
		}
	}
	require.Equal(t, []string{"alpha"}, active)
	require.Equal(t, "alpha", m.ActiveID())
	requireState(t, m, "beta", Present)
}

func TestDeleteLastModelClearsActive(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	loader := newStubLoader()
	m, dir := newTestManager(t, loader)
	placeModel(t, dir, entries[0])
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "alpha"))
	require.ErrorIs(t, m.Delete("alpha"), ErrNoModelsAvailable)

	require.Empty(t, m.ActiveID())
	require.True(t, loader.engine(0).Closed())
	_, err := m.Transcribe(ctx, sampleBuffer(), Auto())
	require.ErrorIs(t, err, ErrModelNotDownloaded)
}

func TestDeleteWhileDownloading(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	withTestCatalog(t, testDescriptors(srv.URL))
	m, _ := newTestManager(t, newStubLoader())

	_, err := m.Download(context.Background(), "alpha")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		info, err := m.Status("alpha")
		return err == nil && info.State == Downloading
	}, 2*time.Second, 10*time.Millisecond)

	require.ErrorIs(t, m.Delete("alpha"), ErrDeleteFailed)
}

func TestDeleteNotPresentIsNoOp(t *testing.T) {
	withTestCatalog(t, testDescriptors("https://example.invalid"))
	m, _ := newTestManager(t, newStubLoader())
	require.NoError(t, m.Delete("alpha"))
}

func TestTranscribeRequiresActiveModel(t *testing.T) {
	withTestCatalog(t, testDescriptors("https://example.invalid"))
	m, _ := newTestManager(t, newStubLoader())

	_, err := m.Transcribe(context.Background(), sampleBuffer(), Auto())
	require.ErrorIs(t, err, ErrModelNotDownloaded)
}

func TestTranscribeEmptyBufferIsNotAFailure(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	m, dir := newTestManager(t, newStubLoader())
	placeModel(t, dir, entries[0])
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "alpha"))
	_, err := m.Transcribe(ctx, audio.Buffer{SampleRate: 16000}, Auto())
	require.ErrorIs(t, err, ErrEmptyTranscription)
}

func TestTranscribeEmptyOutputIsNotAFailure(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	loader := newStubLoader()
	loader.text = "   "
	m, dir := newTestManager(t, loader)
	placeModel(t, dir, entries[0])
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "alpha"))
	_, err := m.Transcribe(ctx, sampleBuffer(), Auto())
	require.ErrorIs(t, err, ErrEmptyTranscription)
}

func TestTranscribeWrapsEngineErrors(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	loader := newStubLoader()
	loader.engineErr = errors.New("decode blew up")
	m, dir := newTestManager(t, loader)
	placeModel(t, dir, entries[0])
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "alpha"))
	_, err := m.Transcribe(ctx, sampleBuffer(), Auto())
	require.ErrorIs(t, err, ErrTranscriptionFailed)
}

func TestTranscribeSuccess(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	m, dir := newTestManager(t, newStubLoader())
	placeModel(t, dir, entries[0])
	ctx := context.Background()

	require.NoError(t, m.Load(ctx, "alpha"))
	res, err := m.Transcribe(ctx, sampleBuffer(), Auto())
	require.NoError(t, err)
	require.Equal(t, "hello world", res.Text)
	require.Equal(t, "en", res.Language)
}

func TestLanguagePinOverridesUntilAutoReenabled(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	m, dir := newTestManager(t, newStubLoader())
	placeModel(t, dir, entries[0])
	ctx := context.Background()
	buf := sampleBuffer()

	require.NoError(t, m.Load(ctx, "alpha"))

	res, err := m.Transcribe(ctx, buf, LanguageMode{Kind: Pinned, Code: "fr"})
	require.NoError(t, err)
	require.Equal(t, "fr", res.Language)

	res, err = m.Transcribe(ctx, buf, LanguageMode{Kind: Specific, Code: "de"})
	require.NoError(t, err)
	require.Equal(t, "fr", res.Language, "pin must win over per-call modes")
	require.Equal(t, Pinned, m.CurrentLanguage().Kind)

	m.SetLanguageMode(Auto())
	res, err = m.Transcribe(ctx, buf, LanguageMode{Kind: Specific, Code: "de"})
	require.NoError(t, err)
	require.Equal(t, "de", res.Language)

	res, err = m.Transcribe(ctx, buf, Auto())
	require.NoError(t, err)
	require.Equal(t, "en", res.Language)
}

func TestModelsSnapshotOrderedByRank(t *testing.T) {
	entries := testDescriptors("https://example.invalid")
	withTestCatalog(t, entries)
	m, dir := newTestManager(t, newStubLoader())
	placeModel(t, dir, entries[1])

	require.NoError(t, m.Load(context.Background(), "beta"))

	infos := m.Models()
	require.Len(t, infos, 3)
	require.Equal(t, "alpha", infos[0].ID)
	require.Equal(t, NotPresent, infos[0].State)
	require.Equal(t, "beta", infos[1].ID)
	require.Equal(t, Active, infos[1].State)
	require.Equal(t, "gamma", infos[2].ID)
	require.Equal(t, NotPresent, infos[2].State)
}
