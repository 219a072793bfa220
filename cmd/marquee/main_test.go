package main

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMainExitCodes(t *testing.T) {
	restoreArgs := os.Args
	restoreExit := osExit
	defer func() {
		os.Args = restoreArgs
		osExit = restoreExit
	}()

	t.Run("version exits cleanly", func(t *testing.T) {
		code := -1
		osExit = func(c int) { code = c }
		os.Args = []string{"marquee", "version"}

		main()

		assert.Equal(t, -1, code, "osExit should not fire on success")
	})

	t.Run("unknown command exits 1", func(t *testing.T) {
		code := -1
		osExit = func(c int) { code = c }
		os.Args = []string{"marquee", "no-such-command"}

		main()

		assert.Equal(t, 1, code)
	})
}
