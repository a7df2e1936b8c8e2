package model

// LanguageKind selects how transcription picks its language.
type LanguageKind string

const (
	// AutoDetect lets the model infer the spoken language.
	AutoDetect LanguageKind = "auto"
	// Specific constrains one transcription to a language code.
	Specific LanguageKind = "specific"
	// Pinned constrains every transcription to a language code until auto
	// detection is explicitly re-enabled.
	Pinned LanguageKind = "pinned"
)

// LanguageMode pairs a kind with its code. Code is ignored for AutoDetect.
type LanguageMode struct {
	Kind LanguageKind
	Code string
}

// Auto returns the auto-detect mode.
func Auto() LanguageMode {
	return LanguageMode{Kind: AutoDetect}
}

// hint converts the mode to the engine's language hint.
func (m LanguageMode) hint() string {
	if m.Kind == AutoDetect || m.Code == "" {
		return "auto"
	}
	return m.Code
}

// ModeFromSettings builds a LanguageMode from the settings-store
// representation: "auto", or a code, optionally pinned.
func ModeFromSettings(language string, pin bool) LanguageMode {
	if language == "" || language == "auto" {
		return Auto()
	}
	if pin {
		return LanguageMode{Kind: Pinned, Code: language}
	}
	return LanguageMode{Kind: Specific, Code: language}
}
