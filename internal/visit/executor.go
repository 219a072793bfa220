// Package visit turns a playlist entry into a completed page view.
//
// A visit runs as probe, navigate, sniff, dwell. The probe keeps the
// browser away from dead URLs, and the sniff catches servers that answer
// 200 with an error page. Driver failures are retried in a fresh tab;
// everything else is final.
package visit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marquee/internal/config"
	"github.com/xkilldash9x/marquee/internal/precheck"
	"github.com/xkilldash9x/marquee/internal/urlfile"
	"github.com/xkilldash9x/marquee/pkg/browser"
)

// Page is the slice of a browser tab the executor drives.
type Page interface {
	Navigate(url string) error
	State() (browser.PageState, error)
	Close()
}

// Opener hands out fresh tabs on the running browser.
type Opener interface {
	NewTab(ctx context.Context) (Page, error)
}

// Prober answers whether a URL is worth pointing the browser at.
type Prober interface {
	Check(ctx context.Context, rawURL string) precheck.Result
}

// FromManager adapts the browser manager to the Opener interface.
func FromManager(m *browser.Manager) Opener { return managerOpener{m} }

type managerOpener struct{ m *browser.Manager }

func (o managerOpener) NewTab(ctx context.Context) (Page, error) {
	tab, err := o.m.NewTab(ctx)
	if err != nil {
		return nil, err
	}
	return tab, nil
}

// Executor runs single visits against a live browser.
type Executor struct {
	browser Opener
	prober  Prober
	retries int
	logger  *zap.Logger
}

// NewExecutor wires an executor to a tab source and a reachability prober.
// The retry budget comes from the session configuration and is the total
// number of navigation attempts per visit, never less than one.
func NewExecutor(browser Opener, prober Prober, sess config.SessionConfig, logger *zap.Logger) *Executor {
	retries := sess.MaxRetries
	if retries < 1 {
		retries = 1
	}
	return &Executor{
		browser: browser,
		prober:  prober,
		retries: retries,
		logger:  logger.Named("visit"),
	}
}

// Visit drives one entry through the full pipeline and reports how it went.
// Failures come back inside the Outcome, never as a Go error: the loop
// records them and moves on to the next URL.
func (e *Executor) Visit(ctx context.Context, entry urlfile.Entry, dwell time.Duration) Outcome {
	res := e.prober.Check(ctx, entry.URL)
	if !res.Reachable {
		err := res.Err
		if err == nil {
			err = fmt.Errorf("probe status %d", res.StatusCode)
		}
		e.logger.Warn("url unreachable, skipping visit",
			zap.String("url", entry.URL),
			zap.Error(err))
		return Outcome{Entry: entry, ErrorKind: ErrorUnreachable, Err: err}
	}

	var lastErr error
	for attempt := 1; attempt <= e.retries; attempt++ {
		outcome, err := e.attempt(ctx, entry, dwell)
		if err == nil {
			outcome.Attempts = attempt
			return outcome
		}
		lastErr = err
		e.logger.Warn("visit attempt failed",
			zap.String("url", entry.URL),
			zap.Int("attempt", attempt),
			zap.Int("budget", e.retries),
			zap.Error(err))
		if ctx.Err() != nil {
			// Shutting down; further retries would only fail the same way.
			return Outcome{Entry: entry, Attempts: attempt, ErrorKind: ErrorDriver, Err: lastErr}
		}
	}
	return Outcome{Entry: entry, Attempts: e.retries, ErrorKind: ErrorDriver, Err: lastErr}
}

// attempt runs one navigation in a fresh tab. A returned error is a driver
// failure worth retrying; a returned outcome is final either way.
func (e *Executor) attempt(ctx context.Context, entry urlfile.Entry, dwell time.Duration) (Outcome, error) {
	tab, err := e.browser.NewTab(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("opening tab: %w", err)
	}
	defer tab.Close()

	started := time.Now()
	if err := tab.Navigate(entry.URL); err != nil {
		return Outcome{}, err
	}
	load := time.Since(started)

	state, err := tab.State()
	if err != nil {
		return Outcome{}, err
	}

	report := sniffPage(state)
	if report.failed() {
		e.logger.Warn("navigation landed on an error page",
			zap.String("url", entry.URL),
			zap.String("final_url", state.URL),
			zap.String("indicator", report.HardMatch))
		return Outcome{
			Entry:        entry,
			LoadDuration: load,
			ErrorKind:    ErrorPage,
			Err:          fmt.Errorf("final url %q contains %q", state.URL, report.HardMatch),
		}, nil
	}
	if report.SoftMatch != "" {
		e.logger.Warn("page content hints at an error",
			zap.String("url", entry.URL),
			zap.String("title", state.Title),
			zap.String("indicator", report.SoftMatch))
	}

	e.logger.Info("page loaded",
		zap.String("url", entry.URL),
		zap.String("title", state.Title),
		zap.Duration("load", load))

	// Hold the page on screen. A shutdown mid-dwell still counts as a
	// completed visit: the page was up and showing.
	select {
	case <-time.After(dwell):
	case <-ctx.Done():
	}

	return Outcome{Entry: entry, Success: true, LoadDuration: load}, nil
}
