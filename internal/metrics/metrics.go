// Package metrics builds and persists the per-session performance snapshot,
// the only artifact the tool writes.
package metrics

import (
	"fmt"
	"os"
	"time"

	json "github.com/json-iterator/go"
	"github.com/xkilldash9x/marquee/internal/health"
)

// Duration marshals as a Go duration string ("1m30s") so the snapshot stays
// readable and round-trips exactly.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Snapshot is the read-only summary of one session, written on shutdown and
// on the periodic cycle flush.
type Snapshot struct {
	SessionID        string    `json:"session_id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	SessionDuration  Duration  `json:"session_duration"`
	TotalVisits      int64     `json:"total_visits"`
	SuccessfulVisits int64     `json:"successful_visits"`
	SuccessRate      float64   `json:"success_rate"`
	BrowserRestarts  int       `json:"browser_restarts"`
	AvgMemoryUsage   float64   `json:"avg_memory_usage"`
	AvgLoadTime      Duration  `json:"avg_load_time"`
	CyclesCompleted  uint64    `json:"cycles_completed"`
	FailedURLs       []string  `json:"failed_urls"`
}

// Build derives a Snapshot from the session's health monitor.
func Build(sessionID string, startedAt, finishedAt time.Time, cycles uint64, m *health.Monitor) Snapshot {
	return Snapshot{
		SessionID:        sessionID,
		StartedAt:        startedAt,
		FinishedAt:       finishedAt,
		SessionDuration:  Duration(finishedAt.Sub(startedAt)),
		TotalVisits:      m.TotalVisits(),
		SuccessfulVisits: m.SuccessfulVisits(),
		SuccessRate:      m.OverallSuccessRate(),
		BrowserRestarts:  m.Restarts(),
		AvgMemoryUsage:   m.AverageMemory(),
		AvgLoadTime:      Duration(m.AverageLoadTime()),
		CyclesCompleted:  cycles,
		FailedURLs:       m.FailedURLs(),
	}
}

// Write serializes the snapshot to path, replacing any previous run.
func Write(path string, s Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot to %s: %w", path, err)
	}
	return nil
}

// Load reads a snapshot back from path.
func Load(path string) (Snapshot, error) {
	var s Snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		return s, fmt.Errorf("reading snapshot from %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parsing snapshot from %s: %w", path, err)
	}
	return s, nil
}
