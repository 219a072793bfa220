package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marquee/internal/config"
)

const (
	tabInitTimeout = 10 * time.Second
	stateTimeout   = 10 * time.Second
)

// PageState is what the page looked like after a navigation: the final
// URL once redirects ran, plus title and markup for error sniffing.
type PageState struct {
	URL   string
	Title string
	HTML  string
}

// Tab is a single page in the managed browser. It exists for one visit
// and must be closed on every path so the browser does not accumulate
// open targets over a session that runs for days.
type Tab struct {
	ctx        context.Context
	cancel     context.CancelFunc
	logger     *zap.Logger
	navTimeout time.Duration
	settle     time.Duration

	mu     sync.Mutex
	closed bool
	done   func()
}

func newTab(browserCtx context.Context, net config.NetworkConfig, logger *zap.Logger) (*Tab, error) {
	tabCtx, cancel := chromedp.NewContext(browserCtx)

	// The first Run attaches the target. Caching is off so a display
	// that cycles the same pages for days keeps showing current
	// content.
	initCtx, initCancel := context.WithTimeout(tabCtx, tabInitTimeout)
	defer initCancel()
	err := chromedp.Run(initCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCacheDisabled(true).Do(ctx)
	}))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening tab: %w", err)
	}

	return &Tab{
		ctx:        tabCtx,
		cancel:     cancel,
		logger:     logger,
		navTimeout: net.NavigationTimeout,
		settle:     net.Settle,
	}, nil
}

// Navigate loads the URL and waits for the document body, bounded by
// the configured navigation timeout, then lets late resources settle.
func (t *Tab) Navigate(url string) error {
	navCtx, cancel := context.WithTimeout(t.ctx, t.navTimeout)
	defer cancel()

	err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}

	if t.settle > 0 {
		select {
		case <-time.After(t.settle):
		case <-t.ctx.Done():
			return t.ctx.Err()
		}
	}
	return nil
}

// State captures the landed URL, title and markup in a single pass.
func (t *Tab) State() (PageState, error) {
	stateCtx, cancel := context.WithTimeout(t.ctx, stateTimeout)
	defer cancel()

	var st PageState
	err := chromedp.Run(stateCtx,
		chromedp.Location(&st.URL),
		chromedp.Title(&st.Title),
		chromedp.OuterHTML("html", &st.HTML, chromedp.ByQuery),
	)
	if err != nil {
		return PageState{}, fmt.Errorf("reading page state: %w", err)
	}
	return st, nil
}

// Close closes the browser target and releases the tab. Safe to call
// more than once.
func (t *Tab) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	// chromedp.Cancel closes the target itself; a bare context cancel
	// would leave the tab open in the browser.
	if err := chromedp.Cancel(t.ctx); err != nil {
		t.logger.Debug("tab close", zap.Error(err))
	}
	t.cancel()
	if t.done != nil {
		t.done()
	}
}
