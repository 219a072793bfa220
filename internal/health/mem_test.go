package health

import (
	"os"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessMemoryPercent(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}

	pct, err := ProcessMemoryPercent(os.Getpid())
	require.NoError(t, err)
	assert.Greater(t, pct, 0.0)
	assert.Less(t, pct, 100.0)
}

func TestProcessMemoryPercentUnknownPid(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("requires /proc")
	}

	// A negative pid can never have a /proc entry.
	_, err := ProcessMemoryPercent(-1)
	assert.ErrorIs(t, err, ErrMemoryUnsupported)
}
