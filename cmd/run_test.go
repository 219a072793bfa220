package cmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The happy path of the run command launches a real browser, so these
// tests only cover the wiring failures that surface before that point.
func TestRunCommand(t *testing.T) {
	t.Run("fails when the playlist is missing", func(t *testing.T) {
		dir := t.TempDir()
		_, _, err := executeCommand(t, "run",
			"-u", filepath.Join(dir, "missing.json"),
			"--metrics", filepath.Join(dir, "metrics.json"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing.json")
	})

	t.Run("fails when the category filter empties the playlist", func(t *testing.T) {
		playlist := writePlaylist(t, t.TempDir(), singleURLPlaylist)
		_, _, err := executeCommand(t, "run", "-u", playlist, "--category", "sports")
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"sports"`)
	})

	t.Run("rejects positional arguments", func(t *testing.T) {
		_, _, err := executeCommand(t, "run", "https://example.com/")
		require.Error(t, err)
	})
}
