package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "wisprd.log")

	rt, err := New(Options{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)

	rt.Logger.Debug("hello", "k", "v")
	require.NoError(t, rt.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"msg":"hello"`)
	require.Contains(t, string(data), `"k":"v"`)
}

func TestNewLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wisprd.log")

	rt, err := New(Options{Level: "warn", Format: "text", File: path})
	require.NoError(t, err)

	rt.Logger.Info("quiet")
	rt.Logger.Warn("loud")
	require.NoError(t, rt.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotContains(t, string(data), "quiet")
	require.Contains(t, string(data), "loud")
}

func TestNewRejectsBadInputs(t *testing.T) {
	_, err := New(Options{Level: "verbose"})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "verbose"))

	_, err = New(Options{Format: "xml"})
	require.Error(t, err)
}

func TestCloseWithoutFile(t *testing.T) {
	rt, err := New(Options{})
	require.NoError(t, err)
	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())
}
