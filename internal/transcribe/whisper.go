package transcribe

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// Whisper runs inference through the whisper.cpp Go bindings.
type Whisper struct {
	model whisper.Model
}

// NewWhisper loads a whisper model from the given path. The caller must
// call Close when done.
func NewWhisper(modelPath string) (*Whisper, error) {
	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading whisper model %q: %w", modelPath, err)
	}
	return &Whisper{model: model}, nil
}

// NewWhisperEngine adapts NewWhisper to the Loader signature.
func NewWhisperEngine(modelPath string) (Engine, error) {
	return NewWhisper(modelPath)
}

// Close releases the whisper model resources.
func (w *Whisper) Close() error {
	if w.model != nil {
		err := w.model.Close()
		w.model = nil
		return err
	}
	return nil
}

// Multilingual reports whether the loaded model supports languages beyond
// English.
func (w *Whisper) Multilingual() bool {
	return w.model != nil && w.model.IsMultilingual()
}

// Transcribe runs whisper inference. Cancellation is checked before the
// run and again at each encoder pass, so a cancelled context aborts a long
// inference instead of letting it finish.
func (w *Whisper) Transcribe(ctx context.Context, samples []float32, opts Options) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	start := time.Now()
	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("creating whisper context: %w", err)
	}

	lang := strings.ToLower(strings.TrimSpace(opts.Language))
	if lang == "" {
		lang = "auto"
	}
	if w.model.IsMultilingual() {
		if err := wctx.SetLanguage(lang); err != nil {
			return Result{}, fmt.Errorf("setting language %q: %w", lang, err)
		}
	} else if lang != "auto" && lang != "en" {
		return Result{}, fmt.Errorf("model is English-only, cannot transcribe %q", lang)
	}

	encoderBegin := func() bool {
		return ctx.Err() == nil
	}
	if err := wctx.Process(samples, encoderBegin, nil, nil); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return Result{}, cerr
		}
		return Result{}, fmt.Errorf("whisper inference: %w", err)
	}

	var segments []string
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("reading segment: %w", err)
		}
		segments = append(segments, seg.Text)
	}

	detected := lang
	if lang == "auto" {
		if w.model.IsMultilingual() {
			detected = wctx.DetectedLanguage()
		} else {
			detected = "en"
		}
	}

	return Result{
		Text:     strings.TrimSpace(strings.Join(segments, " ")),
		Language: detected,
		Duration: time.Since(start),
	}, nil
}
