// Package model owns the lifecycle of local speech models: the fixed
// catalog, downloads with live progress, integrity validation, activation,
// deletion with fallback, and transcription against the active model.
package model

import "sort"

// Descriptor describes one installable speech model. The catalog is fixed
// at compile time; Rank gives the total order used for size/quality
// decisions such as the delete-fallback, smallest first.
type Descriptor struct {
	ID          string
	DisplayName string
	SizeMB      int
	Rank        int
	Quality     string
	URL         string
	File        string
	// SHA256 optionally pins the file contents; empty skips the hash check.
	SHA256 string
}

const hfBase = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// catalog lists the supported whisper builds, fastest to most accurate.
var catalog = []Descriptor{
	{
		ID:          "tiny",
		DisplayName: "Tiny",
		SizeMB:      75,
		Rank:        0,
		Quality:     "fastest, rough drafts",
		URL:         hfBase + "ggml-tiny.bin",
		File:        "ggml-tiny.bin",
	},
	{
		ID:          "base",
		DisplayName: "Base",
		SizeMB:      142,
		Rank:        1,
		Quality:     "fast, everyday dictation",
		URL:         hfBase + "ggml-base.bin",
		File:        "ggml-base.bin",
	},
	{
		ID:          "small",
		DisplayName: "Small",
		SizeMB:      466,
		Rank:        2,
		Quality:     "balanced speed and accuracy",
		URL:         hfBase + "ggml-small.bin",
		File:        "ggml-small.bin",
	},
	{
		ID:          "medium",
		DisplayName: "Medium",
		SizeMB:      1533,
		Rank:        3,
		Quality:     "high accuracy, slower",
		URL:         hfBase + "ggml-medium.bin",
		File:        "ggml-medium.bin",
	},
	{
		ID:          "large",
		DisplayName: "Large v3",
		SizeMB:      2952,
		Rank:        4,
		Quality:     "best accuracy, needs patience",
		URL:         hfBase + "ggml-large-v3.bin",
		File:        "ggml-large-v3.bin",
	},
}

// Catalog returns the descriptors ordered by rank.
func Catalog() []Descriptor {
	out := make([]Descriptor, len(catalog))
	copy(out, catalog)
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

// Lookup finds a descriptor by id.
func Lookup(id string) (Descriptor, bool) {
	for _, d := range catalog {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}
