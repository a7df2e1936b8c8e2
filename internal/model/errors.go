package model

import "errors"

var (
	// ErrUnknownModel means the id is not in the catalog.
	ErrUnknownModel = errors.New("unknown model id")
	// ErrAlreadyDownloading rejects a second download of the same id.
	ErrAlreadyDownloading = errors.New("model download already in progress")
	// ErrDownloadFailed wraps transport failures during download.
	ErrDownloadFailed = errors.New("model download failed")
	// ErrValidationFailed means a completed download did not pass the
	// integrity check; the file is removed and the model stays absent.
	ErrValidationFailed = errors.New("model validation failed")
	// ErrModelLoadFailed wraps failures to load a model into memory.
	ErrModelLoadFailed = errors.New("model load failed")
	// ErrModelNotDownloaded means transcription was requested with no
	// active model.
	ErrModelNotDownloaded = errors.New("no model is active")
	// ErrNoModelsAvailable means the last present model was deleted and a
	// new download is needed before transcription can work again.
	ErrNoModelsAvailable = errors.New("no models available")
	// ErrEmptyTranscription marks the zero-text outcome. It is not a
	// failure: callers treat it as "nothing to insert".
	ErrEmptyTranscription = errors.New("transcription produced no text")
	// ErrTranscriptionFailed wraps inference errors.
	ErrTranscriptionFailed = errors.New("transcription failed")
	// ErrDeleteFailed wraps deletion problems.
	ErrDeleteFailed = errors.New("model deletion failed")
)
