// Package health watches the visit loop and decides when the browser needs
// to be restarted.
//
// The monitor folds every visit outcome into counters, keeps a short rolling
// window for the interval adapter, samples browser memory on a coarse clock,
// and enforces the restart budget. Exhausting that budget is the only fatal
// condition in the whole system.
package health

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/xkilldash9x/marquee/internal/config"
	"github.com/xkilldash9x/marquee/internal/visit"
	"go.uber.org/zap"
)

// ErrRestartBudgetExhausted is returned by NoteRestart once the configured
// maximum number of browser restarts has been spent.
var ErrRestartBudgetExhausted = errors.New("browser restart budget exhausted")

// windowCap bounds the rolling success window. The effective window is the
// smaller of one full cycle and this cap.
const windowCap = 10

// memorySampleCap bounds the retained memory samples used for the snapshot
// average.
const memorySampleCap = 100

// Reason names why a restart was requested.
type Reason string

const (
	ReasonConsecutiveFailures Reason = "consecutive_failures"
	ReasonMemoryPressure      Reason = "memory_pressure"
	ReasonPeriodic            Reason = "periodic"
	ReasonDriverUnhealthy     Reason = "driver_unhealthy"
)

// Monitor tracks visit outcomes and browser vitals for one session. It is
// owned by the controller loop; the atomic counters merely make the totals
// safe to read from logging or signal paths.
type Monitor struct {
	totalVisits   atomic.Int64
	successVisits atomic.Int64

	consecutiveFailures int
	window              window
	loadTotal           time.Duration
	loadCount           int64

	memSamples     []float64
	lastMemPercent float64
	lastMemCheck   time.Time

	restarts    int
	lastRestart time.Time

	failed map[string]struct{}

	maxConsecutive int
	maxRestarts    int
	memCeiling     float64
	memCheckEvery  time.Duration
	restartEvery   time.Duration

	logger *zap.Logger
}

// NewMonitor builds a Monitor for a playlist of cycleLen URLs. The rolling
// window is min(cycleLen, 10), fixed for the session.
func NewMonitor(sess config.SessionConfig, br config.BrowserConfig, cycleLen int, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	size := cycleLen
	if size > windowCap {
		size = windowCap
	}
	if size < 1 {
		size = 1
	}
	return &Monitor{
		window:         newWindow(size),
		failed:         make(map[string]struct{}),
		maxConsecutive: sess.MaxConsecutiveFailures,
		maxRestarts:    br.MaxRestarts,
		memCeiling:     br.MaxMemoryPercent,
		memCheckEvery:  br.MemoryCheckInterval,
		restartEvery:   br.RestartInterval,
		logger:         logger.Named("health"),
	}
}

// Record folds a visit outcome into the session counters.
func (m *Monitor) Record(o visit.Outcome) {
	m.totalVisits.Add(1)
	m.window.push(o.Success)

	if o.Success {
		m.successVisits.Add(1)
		m.consecutiveFailures = 0
		m.loadTotal += o.LoadDuration
		m.loadCount++
		return
	}

	m.consecutiveFailures++
	m.failed[o.Entry.URL] = struct{}{}
	m.logger.Debug("visit failure recorded",
		zap.String("url", o.Entry.URL),
		zap.String("error_kind", string(o.ErrorKind)),
		zap.Int("consecutive_failures", m.consecutiveFailures))
}

// RestartReason reports whether the browser should be restarted right now,
// and why. Memory pressure is judged from the most recent sample only.
func (m *Monitor) RestartReason(now time.Time) (Reason, bool) {
	if m.consecutiveFailures > m.maxConsecutive {
		return ReasonConsecutiveFailures, true
	}
	if len(m.memSamples) > 0 && m.lastMemPercent > m.memCeiling {
		return ReasonMemoryPressure, true
	}
	if m.restartEvery > 0 && now.Sub(m.lastRestart) >= m.restartEvery {
		return ReasonPeriodic, true
	}
	return "", false
}

// NoteRestart spends one unit of the restart budget. It fails with
// ErrRestartBudgetExhausted when the budget is already gone, so with a
// budget of N the N+1th request is the fatal one.
func (m *Monitor) NoteRestart(now time.Time) error {
	if m.restarts >= m.maxRestarts {
		return ErrRestartBudgetExhausted
	}
	m.restarts++
	m.lastRestart = now
	m.consecutiveFailures = 0
	// A restarted browser starts from a clean slate; stale pressure must not
	// immediately re-trigger.
	m.lastMemPercent = 0
	return nil
}

// SessionStarted marks the start of the periodic-restart and memory clocks.
func (m *Monitor) SessionStarted(now time.Time) {
	m.lastRestart = now
	m.lastMemCheck = now
}

// MemoryCheckDue reports whether enough time has passed since the last
// memory sample. Sampling is deliberately coarse to bound overhead.
func (m *Monitor) MemoryCheckDue(now time.Time) bool {
	return now.Sub(m.lastMemCheck) >= m.memCheckEvery
}

// MemoryCheckFailed advances the memory clock without storing a sample, so
// a broken sampler is retried at the next interval instead of on every
// visit.
func (m *Monitor) MemoryCheckFailed(now time.Time) {
	m.lastMemCheck = now
}

// RecordMemory stores a fresh memory sample, keeping the last 100.
func (m *Monitor) RecordMemory(now time.Time, percent float64) {
	m.lastMemCheck = now
	m.lastMemPercent = percent
	m.memSamples = append(m.memSamples, percent)
	if len(m.memSamples) > memorySampleCap {
		m.memSamples = m.memSamples[len(m.memSamples)-memorySampleCap:]
	}
	m.logger.Debug("memory sampled", zap.Float64("percent", percent))
}

// SuccessRate returns the success rate over the rolling window, and whether
// any samples exist yet.
func (m *Monitor) SuccessRate() (float64, bool) {
	return m.window.rate()
}

// OverallSuccessRate is successes over totals for the whole session, zero
// when nothing has been visited.
func (m *Monitor) OverallSuccessRate() float64 {
	total := m.totalVisits.Load()
	if total == 0 {
		return 0
	}
	return float64(m.successVisits.Load()) / float64(total)
}

// TotalVisits reports all visit attempts this session.
func (m *Monitor) TotalVisits() int64 { return m.totalVisits.Load() }

// SuccessfulVisits reports the successful visit count.
func (m *Monitor) SuccessfulVisits() int64 { return m.successVisits.Load() }

// Restarts reports how much of the restart budget has been spent.
func (m *Monitor) Restarts() int { return m.restarts }

// AverageLoadTime is the mean page-load duration over successful visits.
func (m *Monitor) AverageLoadTime() time.Duration {
	if m.loadCount == 0 {
		return 0
	}
	return m.loadTotal / time.Duration(m.loadCount)
}

// AverageMemory is the mean of the retained memory samples, in percent.
func (m *Monitor) AverageMemory() float64 {
	if len(m.memSamples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range m.memSamples {
		sum += s
	}
	return sum / float64(len(m.memSamples))
}

// FailedURLs lists the URLs that failed during the current cycle, sorted for
// stable output.
func (m *Monitor) FailedURLs() []string {
	out := make([]string, 0, len(m.failed))
	for u := range m.failed {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// ResetCycleFailures clears the per-cycle failed set. The controller calls
// this at every cycle boundary so each cycle gets a fresh verdict.
func (m *Monitor) ResetCycleFailures() {
	if len(m.failed) > 0 {
		m.failed = make(map[string]struct{})
	}
}

// window is a fixed-size ring of success/failure samples.
type window struct {
	buf  []bool
	next int
	n    int
}

func newWindow(size int) window {
	return window{buf: make([]bool, size)}
}

func (w *window) push(success bool) {
	w.buf[w.next] = success
	w.next = (w.next + 1) % len(w.buf)
	if w.n < len(w.buf) {
		w.n++
	}
}

func (w *window) rate() (float64, bool) {
	if w.n == 0 {
		return 0, false
	}
	var hits int
	for i := 0; i < w.n; i++ {
		if w.buf[i] {
			hits++
		}
	}
	return float64(hits) / float64(w.n), true
}
