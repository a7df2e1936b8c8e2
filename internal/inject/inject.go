// Package inject delivers transcribed text into the focused application
// with robotgo, either by synthesizing keystrokes or through a clipboard
// paste.
package inject

import (
	"context"
	"fmt"
	"runtime"

	"github.com/go-vgo/robotgo"
)

// Method selects the delivery mechanism.
type Method string

const (
	// MethodType synthesizes individual keystrokes. Slower for long text,
	// but leaves the clipboard alone.
	MethodType Method = "type"
	// MethodPaste goes through the clipboard and the platform paste chord.
	MethodPaste Method = "paste"
)

// ParseMethod validates a method string from configuration.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodType, MethodPaste:
		return Method(s), nil
	}
	return "", fmt.Errorf("unknown inject method %q", s)
}

// Injector types or pastes text into whatever application has focus.
type Injector struct {
	method  Method
	restore bool
}

// New creates an Injector. restore controls whether a paste puts the
// previous clipboard contents back afterwards.
func New(method Method, restore bool) *Injector {
	return &Injector{method: method, restore: restore}
}

// Insert delivers text to the focused application. Empty text is a no-op.
// The context is consulted before any keystrokes go out; once delivery has
// started it runs to completion.
func (inj *Injector) Insert(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	switch inj.method {
	case MethodPaste:
		return inj.paste(text)
	default:
		return inj.typeText(text)
	}
}

func (inj *Injector) typeText(text string) error {
	robotgo.Type(text)
	return nil
}

func (inj *Injector) paste(text string) error {
	prev, prevErr := robotgo.ReadAll()

	if err := robotgo.WriteAll(text); err != nil {
		return fmt.Errorf("writing clipboard: %w", err)
	}
	if err := robotgo.KeyTap("v", pasteChord()); err != nil {
		return fmt.Errorf("paste chord: %w", err)
	}
	if inj.restore && prevErr == nil {
		// best effort; the paste itself already landed
		_ = robotgo.WriteAll(prev)
	}
	return nil
}

func pasteChord() string {
	if runtime.GOOS == "darwin" {
		return "cmd"
	}
	return "ctrl"
}
