// Package controller owns the session: a single goroutine that cycles
// URLs through the browser until told to stop, reacting to failures,
// adapting its pace, and restarting the browser when the health monitor
// asks for it.
//
// The loop is deliberately single-threaded. Every suspension point
// watches the session context, so an interrupt becomes an ordinary state
// transition instead of a killed process.
package controller

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marquee/internal/config"
	"github.com/xkilldash9x/marquee/internal/health"
	"github.com/xkilldash9x/marquee/internal/interval"
	"github.com/xkilldash9x/marquee/internal/metrics"
	"github.com/xkilldash9x/marquee/internal/urlfile"
	"github.com/xkilldash9x/marquee/internal/urlsource"
	"github.com/xkilldash9x/marquee/internal/visit"
)

// State names the controller's position in its lifecycle.
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateStopping   State = "stopping"
	StateStopped    State = "stopped"
	StateFailed     State = "failed"
)

// shutdownGrace bounds how long a stopping session waits for open tabs
// before the browser is torn down regardless.
const shutdownGrace = 10 * time.Second

// Visitor runs a single visit. Implemented by visit.Executor.
type Visitor interface {
	Visit(ctx context.Context, entry urlfile.Entry, dwell time.Duration) visit.Outcome
}

// Browser is the slice of the browser manager the loop drives.
type Browser interface {
	Healthy(ctx context.Context) bool
	Pid() (int, bool)
	Restart(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Controller drives one session. Build it with New and call Run exactly
// once; the injected browser must already be launched.
type Controller struct {
	cfg     *config.Config
	source  *urlsource.Source
	visitor Visitor
	browser Browser
	monitor *health.Monitor
	adapter interval.Adapter
	logger  *zap.Logger

	sessionID string
	started   time.Time
	state     atomic.Value

	// memPercent samples the browser's memory share; replaced in tests.
	memPercent func(pid int) (float64, error)
}

// New assembles a session controller from its collaborators.
func New(cfg *config.Config, source *urlsource.Source, visitor Visitor, browser Browser, monitor *health.Monitor, logger *zap.Logger) (*Controller, error) {
	if cfg == nil || source == nil || visitor == nil || browser == nil || monitor == nil {
		return nil, errors.New("cannot build a controller from nil collaborators")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Controller{
		cfg:        cfg,
		source:     source,
		visitor:    visitor,
		browser:    browser,
		monitor:    monitor,
		adapter:    interval.New(cfg.Session),
		sessionID:  uuid.NewString(),
		memPercent: health.ProcessMemoryPercent,
	}
	c.logger = logger.Named("controller").With(zap.String("session_id", c.sessionID))
	c.state.Store(StateStarting)
	return c, nil
}

// SessionID returns the identifier stamped into logs and the snapshot.
func (c *Controller) SessionID() string { return c.sessionID }

// State reports the current lifecycle state. Safe to call from any
// goroutine.
func (c *Controller) State() State {
	return c.state.Load().(State)
}

func (c *Controller) setState(s State) {
	prev := c.State()
	if prev == s {
		return
	}
	c.state.Store(s)
	c.logger.Info("state changed",
		zap.String("from", string(prev)),
		zap.String("to", string(s)))
}

// Run executes the session until ctx is cancelled or the restart budget
// is exhausted. It returns nil after a graceful stop and the fatal error
// after entering the failed state. The browser is torn down and the
// metrics snapshot written on every exit path.
func (c *Controller) Run(ctx context.Context) error {
	c.started = time.Now()
	c.monitor.SessionStarted(c.started)
	c.logger.Info("session starting",
		zap.Int("urls", c.source.Len()),
		zap.Duration("dwell", c.cfg.Session.Interval))

	// The cycle hook runs inside the source's lock, so it must not call
	// back into the source; the completed count is passed in instead.
	c.source.OnCycle(func(completed uint64) {
		if completed%uint64(c.cfg.Metrics.FlushCycles) == 0 {
			c.writeSnapshot(time.Now(), completed)
		}
		c.monitor.ResetCycleFailures()
		c.logger.Info("cycle completed", zap.Uint64("cycles", completed))
	})

	dwell := c.cfg.Session.Interval
	c.setState(StateRunning)

	for {
		if ctx.Err() != nil {
			return c.stop()
		}

		c.sampleMemory(time.Now())

		if reason, due := c.monitor.RestartReason(time.Now()); due {
			if err := c.restartBrowser(ctx, reason); err != nil {
				return c.fail(err)
			}
		}

		entry := c.source.Next()
		outcome := c.visitor.Visit(ctx, entry, dwell)

		if ctx.Err() != nil && outcome.Failed() {
			// A failure produced by the shutdown itself would poison the
			// counters; drop it and leave.
			return c.stop()
		}

		c.monitor.Record(outcome)
		if outcome.Failed() {
			c.source.Skip(entry.URL)
			if outcome.ErrorKind == visit.ErrorDriver && !c.browser.Healthy(ctx) {
				if err := c.restartBrowser(ctx, health.ReasonDriverUnhealthy); err != nil {
					return c.fail(err)
				}
			}
		}

		dwell = c.adapt(dwell)

		if delay := c.jitter(); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
		}
	}
}

// sampleMemory polls the browser's resident memory on the configured
// coarse clock.
func (c *Controller) sampleMemory(now time.Time) {
	if !c.monitor.MemoryCheckDue(now) {
		return
	}
	pid, ok := c.browser.Pid()
	if !ok {
		c.monitor.MemoryCheckFailed(now)
		return
	}
	percent, err := c.memPercent(pid)
	if err != nil {
		c.monitor.MemoryCheckFailed(now)
		if !errors.Is(err, health.ErrMemoryUnsupported) {
			c.logger.Warn("memory sample failed", zap.Int("pid", pid), zap.Error(err))
		}
		return
	}
	c.monitor.RecordMemory(now, percent)
}

// restartBrowser spends one unit of the restart budget and replaces the
// browser process. An exhausted budget is the only fatal error.
func (c *Controller) restartBrowser(ctx context.Context, reason health.Reason) error {
	if err := c.monitor.NoteRestart(time.Now()); err != nil {
		c.logger.Error("browser restart needed but the budget is spent",
			zap.String("reason", string(reason)),
			zap.Int("restarts", c.monitor.Restarts()))
		return err
	}

	c.setState(StateRestarting)
	c.logger.Warn("restarting browser",
		zap.String("reason", string(reason)),
		zap.Int("restart", c.monitor.Restarts()),
		zap.Int("budget", c.cfg.Browser.MaxRestarts))

	if err := c.browser.Restart(ctx); err != nil {
		// The next failed visit trips the liveness probe and spends
		// another restart, so the budget still bounds a dying browser.
		c.logger.Error("browser relaunch failed", zap.Error(err))
	}
	c.setState(StateRunning)
	return nil
}

// adapt feeds the rolling success rate to the interval adapter.
func (c *Controller) adapt(current time.Duration) time.Duration {
	rate, ok := c.monitor.SuccessRate()
	if !ok {
		return current
	}
	next := c.adapter.Next(current, rate)
	if next != current {
		c.logger.Info("dwell interval adapted",
			zap.Duration("from", current),
			zap.Duration("to", next),
			zap.Float64("success_rate", rate))
	}
	return next
}

// jitter returns a short random pause between visits so the rotation
// never ticks like a metronome. The configured value caps it; zero
// disables it.
func (c *Controller) jitter() time.Duration {
	ceiling := c.cfg.Session.VisitJitter
	if ceiling <= 0 {
		return 0
	}
	floor := time.Second
	if ceiling < floor {
		floor = ceiling
	}
	return floor + rand.N(ceiling-floor+1)
}

// stop winds the session down after a shutdown signal.
func (c *Controller) stop() error {
	c.setState(StateStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := c.browser.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn("browser shutdown", zap.Error(err))
	}

	c.writeSnapshot(time.Now(), c.source.Cycles())
	c.setState(StateStopped)
	c.logger.Info("session stopped",
		zap.Int64("total_visits", c.monitor.TotalVisits()),
		zap.Int64("successful_visits", c.monitor.SuccessfulVisits()),
		zap.Int("browser_restarts", c.monitor.Restarts()),
		zap.Duration("session_duration", time.Since(c.started)))
	return nil
}

// fail is the terminal path for an exhausted restart budget. The
// snapshot is still written, best effort.
func (c *Controller) fail(cause error) error {
	c.setState(StateFailed)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := c.browser.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn("browser shutdown", zap.Error(err))
	}

	c.writeSnapshot(time.Now(), c.source.Cycles())
	c.logger.Error("session failed", zap.Error(cause))
	return fmt.Errorf("session failed: %w", cause)
}

// writeSnapshot persists the current counters, replacing any previous
// snapshot for this run.
func (c *Controller) writeSnapshot(now time.Time, cycles uint64) {
	snap := metrics.Build(c.sessionID, c.started, now, cycles, c.monitor)
	if err := metrics.Write(c.cfg.Metrics.Path, snap); err != nil {
		c.logger.Error("metrics snapshot write failed",
			zap.String("path", c.cfg.Metrics.Path),
			zap.Error(err))
		return
	}
	c.logger.Info("metrics snapshot written",
		zap.String("path", c.cfg.Metrics.Path),
		zap.Int64("total_visits", snap.TotalVisits),
		zap.Float64("success_rate", snap.SuccessRate))
}
