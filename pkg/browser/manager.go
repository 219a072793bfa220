// Package browser manages the lifecycle of the Chrome process that
// marquee drives: launch with a rotated identity, tabs for individual
// visits, liveness probing, and full restarts when the health monitor
// asks for one.
package browser

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marquee/internal/config"
)

// ErrNotRunning is returned for operations on a manager whose browser
// has already been shut down.
var ErrNotRunning = errors.New("browser is not running")

const (
	// launchVerifyTimeout bounds the about:blank navigation that proves
	// a freshly started browser is responsive.
	launchVerifyTimeout = 30 * time.Second
	probeTimeout        = 5 * time.Second
)

// Manager owns exactly one browser process at a time. Every restart
// tears the process down completely and launches a fresh one with the
// next proxy and a newly picked User-Agent, so a browser that has
// drifted into a bad state never survives.
type Manager struct {
	logger *zap.Logger
	cfg    config.BrowserConfig
	net    config.NetworkConfig

	// parent bounds the lifetime of every process this manager
	// launches, including relaunches.
	parent context.Context

	mu              sync.Mutex
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	relay           *proxyRelay
	proxyIndex      int
	userAgent       string

	// wg tracks open tabs for a graceful shutdown.
	wg sync.WaitGroup
}

// NewManager launches the browser and verifies it responds before
// returning. The given context caps the lifetime of the browser
// process and all of its successors.
func NewManager(ctx context.Context, cfg config.BrowserConfig, net config.NetworkConfig, logger *zap.Logger) (*Manager, error) {
	m := &Manager{
		logger: logger.Named("browser"),
		cfg:    cfg,
		net:    net,
		parent: ctx,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.launchLocked(); err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	return m, nil
}

// launchLocked starts a browser process with the next identity in the
// rotation. Callers hold m.mu.
func (m *Manager) launchLocked() error {
	server, relay, err := m.proxyForLaunch()
	if err != nil {
		return err
	}

	m.userAgent = pickUserAgent(m.cfg.UserAgents)
	flags := launchFlags(m.cfg, m.net, server)
	opts := allocatorOptions(flags, m.userAgent, m.cfg.ExecPath)

	allocCtx, allocCancel := chromedp.NewExecAllocator(m.parent, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	m.allocatorCtx = allocCtx
	m.allocatorCancel = allocCancel
	m.browserCtx = browserCtx
	m.browserCancel = browserCancel
	m.relay = relay

	// The first Run starts the process. It must see the plain browser
	// context: a timeout here would become the process lifetime.
	if err := chromedp.Run(browserCtx); err != nil {
		m.teardownLocked()
		return fmt.Errorf("browser failed to start: %w", err)
	}

	// Now that the process is up, a bounded navigation proves it
	// actually answers commands.
	verifyCtx, cancel := context.WithTimeout(browserCtx, launchVerifyTimeout)
	defer cancel()
	if err := chromedp.Run(verifyCtx, chromedp.Navigate("about:blank")); err != nil {
		m.teardownLocked()
		return fmt.Errorf("browser is unresponsive after start: %w", err)
	}

	pid, _ := m.pidLocked()
	m.logger.Info("browser launched",
		zap.Int("pid", pid),
		zap.String("user_agent", m.userAgent),
		zap.String("proxy", server))
	return nil
}

// proxyForLaunch picks the next proxy in the rotation. Chrome's
// --proxy-server flag cannot carry credentials, so an upstream with
// userinfo gets a loopback relay that injects them.
func (m *Manager) proxyForLaunch() (string, *proxyRelay, error) {
	if len(m.cfg.Proxies) == 0 {
		return "", nil, nil
	}

	raw := m.cfg.Proxies[m.proxyIndex%len(m.cfg.Proxies)]
	m.proxyIndex++

	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, fmt.Errorf("invalid proxy %q: %w", raw, err)
	}
	if u.User == nil {
		return raw, nil, nil
	}

	relay, err := newProxyRelay(u, m.logger)
	if err != nil {
		return "", nil, fmt.Errorf("starting proxy relay for %s: %w", u.Redacted(), err)
	}
	m.logger.Info("proxy relay started",
		zap.String("upstream", u.Redacted()),
		zap.String("listen", relay.Addr()))
	return relay.ProxyServer(), relay, nil
}

func pickUserAgent(agents []string) string {
	if len(agents) == 0 {
		return ""
	}
	return agents[rand.IntN(len(agents))]
}

// NewTab opens a fresh tab with the page cache disabled. The caller
// must Close it, on every path.
func (m *Manager) NewTab(ctx context.Context) (*Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	browserCtx := m.browserCtx
	m.mu.Unlock()
	if browserCtx == nil {
		return nil, ErrNotRunning
	}

	tab, err := newTab(browserCtx, m.net, m.logger)
	if err != nil {
		return nil, err
	}
	m.wg.Add(1)
	tab.done = m.wg.Done
	return tab, nil
}

// Healthy reports whether the browser still answers commands. A dead
// renderer, a killed process or a hung devtools connection all fail
// the probe.
func (m *Manager) Healthy(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	m.mu.Lock()
	browserCtx := m.browserCtx
	m.mu.Unlock()
	if browserCtx == nil {
		return false
	}

	probeCtx, cancel := context.WithTimeout(browserCtx, probeTimeout)
	defer cancel()

	var one int
	if err := chromedp.Run(probeCtx, chromedp.Evaluate("1", &one)); err != nil {
		m.logger.Warn("liveness probe failed", zap.Error(err))
		return false
	}
	return one == 1
}

// Pid returns the pid of the running browser process.
func (m *Manager) Pid() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pidLocked()
}

func (m *Manager) pidLocked() (int, bool) {
	if m.browserCtx == nil {
		return 0, false
	}
	c := chromedp.FromContext(m.browserCtx)
	if c == nil || c.Browser == nil {
		return 0, false
	}
	proc := c.Browser.Process()
	if proc == nil {
		return 0, false
	}
	return proc.Pid, true
}

// UserAgent returns the User-Agent picked for the current launch.
func (m *Manager) UserAgent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userAgent
}

// Restart replaces the browser process. The old process is fully torn
// down, the configured settle period gives the host a moment to
// release its resources, then the next identity in the rotation comes
// up. The context only governs the restart itself.
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("restarting browser")
	m.teardownLocked()

	if m.cfg.RestartSettle > 0 {
		select {
		case <-time.After(m.cfg.RestartSettle):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := m.launchLocked(); err != nil {
		return fmt.Errorf("relaunching browser: %w", err)
	}
	return nil
}

// Shutdown waits for open tabs to close, then terminates the browser.
// When the context expires first the process is killed anyway.
func (m *Manager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown grace period exceeded, terminating browser", zap.Error(ctx.Err()))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	m.logger.Info("browser terminated")
	return nil
}

// teardownLocked kills the current process and waits for it to be
// reaped, so a relaunch never races a dying Chrome over the display or
// the profile directory. Callers hold m.mu.
func (m *Manager) teardownLocked() {
	if m.browserCancel != nil {
		m.browserCancel()
		m.browserCancel = nil
		m.browserCtx = nil
	}
	if m.allocatorCancel != nil {
		m.allocatorCancel()
		if c := chromedp.FromContext(m.allocatorCtx); c != nil && c.Allocator != nil {
			c.Allocator.Wait()
		}
		m.allocatorCancel = nil
		m.allocatorCtx = nil
	}
	if m.relay != nil {
		if err := m.relay.Close(); err != nil {
			m.logger.Warn("proxy relay close", zap.Error(err))
		}
		m.relay = nil
	}
}
