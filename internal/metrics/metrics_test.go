package metrics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/marquee/internal/config"
	"github.com/xkilldash9x/marquee/internal/health"
	"github.com/xkilldash9x/marquee/internal/urlfile"
	"github.com/xkilldash9x/marquee/internal/visit"
	"go.uber.org/zap"
)

func populatedMonitor(t *testing.T) *health.Monitor {
	t.Helper()
	m := health.NewMonitor(
		config.SessionConfig{MaxConsecutiveFailures: 3},
		config.BrowserConfig{MaxRestarts: 5, MaxMemoryPercent: 80, MemoryCheckInterval: time.Minute},
		10, zap.NewNop(),
	)
	for i := 0; i < 7; i++ {
		m.Record(visit.Outcome{
			Entry:        urlfile.Entry{URL: "https://ok.example/", Category: "test"},
			Success:      true,
			LoadDuration: 2 * time.Second,
		})
	}
	for i := 0; i < 3; i++ {
		m.Record(visit.Outcome{
			Entry:     urlfile.Entry{URL: "https://broken.example/", Category: "test"},
			ErrorKind: visit.ErrorUnreachable,
		})
	}
	m.RecordMemory(time.Now(), 42.5)
	require.NoError(t, m.NoteRestart(time.Now()))
	return m
}

func TestBuild(t *testing.T) {
	m := populatedMonitor(t)
	started := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Minute)

	s := Build("session-1", started, finished, 12, m)

	assert.Equal(t, "session-1", s.SessionID)
	assert.Equal(t, Duration(90*time.Minute), s.SessionDuration)
	assert.Equal(t, int64(10), s.TotalVisits)
	assert.Equal(t, int64(7), s.SuccessfulVisits)
	assert.InDelta(t, 0.7, s.SuccessRate, 1e-9)
	assert.Equal(t, 1, s.BrowserRestarts)
	assert.InDelta(t, 42.5, s.AvgMemoryUsage, 1e-9)
	assert.Equal(t, Duration(2*time.Second), s.AvgLoadTime)
	assert.Equal(t, uint64(12), s.CyclesCompleted)
	assert.Equal(t, []string{"https://broken.example/"}, s.FailedURLs)
}

func TestWriteLoadRoundTrip(t *testing.T) {
	m := populatedMonitor(t)
	started := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	original := Build("session-rt", started, started.Add(time.Hour), 4, m)

	path := filepath.Join(t.TempDir(), "metrics.json")
	require.NoError(t, Write(path, original))

	loaded, err := Load(path)
	require.NoError(t, err)

	// The parsed snapshot reproduces the written one, floats within
	// tolerance.
	diff := cmp.Diff(original, loaded, cmpopts.EquateApprox(0, 1e-9))
	assert.Empty(t, diff)
	assert.InDelta(t, original.SuccessRate, loaded.SuccessRate, 1e-9)
}

func TestDurationJSON(t *testing.T) {
	t.Run("marshals as a duration string", func(t *testing.T) {
		data, err := json.Marshal(Duration(90 * time.Second))
		require.NoError(t, err)
		assert.Equal(t, `"1m30s"`, string(data))
	})

	t.Run("round-trips", func(t *testing.T) {
		var d Duration
		require.NoError(t, json.Unmarshal([]byte(`"2m15s"`), &d))
		assert.Equal(t, Duration(135*time.Second), d)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		var d Duration
		assert.Error(t, json.Unmarshal([]byte(`"ninety seconds"`), &d))
		assert.Error(t, json.Unmarshal([]byte(`42`), &d))
	})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}

func TestSnapshotFieldNames(t *testing.T) {
	// The snapshot keys are consumed by dashboards; keep them stable.
	data, err := json.Marshal(Snapshot{FailedURLs: []string{}})
	require.NoError(t, err)
	for _, key := range []string{
		"session_id", "session_duration", "total_visits", "successful_visits",
		"success_rate", "browser_restarts", "avg_memory_usage", "avg_load_time",
		"cycles_completed", "failed_urls",
	} {
		assert.Contains(t, string(data), `"`+key+`"`)
	}
}
