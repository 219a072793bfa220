// Package precheck answers "is this URL worth a full browser visit"
// with a lightweight HEAD request before a tab is ever opened. A shared
// rate limiter spaces probes out so bulk checks and the session loop
// never hammer a host.
package precheck

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/marquee/internal/config"
)

// Transport tuning for probe traffic. Probes are small and sequential
// for the most part, so the pool stays modest.
const (
	dialTimeout      = 15 * time.Second
	keepAlive        = 30 * time.Second
	handshakeTimeout = 10 * time.Second
	idleConnTimeout  = 90 * time.Second
	maxIdleConns     = 32

	// Responses are drained for connection reuse, but an error page is
	// all a probe should ever see; cap the read.
	maxDrainBytes = 64 << 10
)

// Result is the outcome of probing a single URL.
type Result struct {
	URL        string
	Reachable  bool
	StatusCode int
	Elapsed    time.Duration
	Err        error
}

// Prober issues reachability probes. A URL counts as reachable when the
// server answers with a status below 400 after redirects. Servers that
// reject HEAD outright get one GET retry before the URL is written off.
type Prober struct {
	client  *http.Client
	limiter *rate.Limiter
	agents  []string
	next    atomic.Uint64
	logger  *zap.Logger
}

// New builds a Prober from the network section of the config. The
// User-Agent pool is rotated across probes so repeated checks against
// the same host do not present a fixed fingerprint.
func New(cfg config.NetworkConfig, agents []string, logger *zap.Logger) (*Prober, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("building cookie jar: %w", err)
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.IgnoreTLSErrors,
		},
		TLSHandshakeTimeout: handshakeTimeout,
		MaxIdleConns:        maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
		ForceAttemptHTTP2:   true,
		// The decoding transport negotiates and decodes compression
		// itself.
		DisableCompression: true,
	}

	limit := rate.Inf
	if cfg.ProbeRate > 0 {
		limit = rate.Limit(cfg.ProbeRate)
	}

	return &Prober{
		client: &http.Client{
			Transport: newDecodingTransport(transport),
			Jar:       jar,
			Timeout:   cfg.PrecheckTimeout,
		},
		limiter: rate.NewLimiter(limit, 1),
		agents:  agents,
		logger:  logger.Named("precheck"),
	}, nil
}

// Check probes rawURL, blocking on the shared limiter first. Transport
// failures land in Result.Err; an HTTP error status is not an error,
// just unreachable.
func (p *Prober) Check(ctx context.Context, rawURL string) Result {
	start := time.Now()
	res := Result{URL: rawURL}

	if err := p.limiter.Wait(ctx); err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}

	status, err := p.probe(ctx, http.MethodHead, rawURL)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		status, err = p.probe(ctx, http.MethodGet, rawURL)
	}

	res.Elapsed = time.Since(start)
	res.StatusCode = status
	if err != nil {
		res.Err = err
		p.logger.Debug("probe failed",
			zap.String("url", rawURL),
			zap.Duration("elapsed", res.Elapsed),
			zap.Error(err))
		return res
	}

	res.Reachable = status < 400
	p.logger.Debug("probe complete",
		zap.String("url", rawURL),
		zap.Int("status", status),
		zap.Duration("elapsed", res.Elapsed),
		zap.Bool("reachable", res.Reachable))
	return res
}

// CheckAll probes every URL with at most parallel requests in flight,
// returning results aligned with the input order.
func (p *Prober) CheckAll(ctx context.Context, urls []string, parallel int) []Result {
	if parallel < 1 {
		parallel = 1
	}
	results := make([]Result, len(urls))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = p.Check(ctx, u)
			return nil
		})
	}
	// Workers never return errors; per-URL failures live in the results.
	_ = g.Wait()
	return results
}

// CloseIdleConnections drops pooled transport connections. Call it when
// the prober is done for good.
func (p *Prober) CloseIdleConnections() {
	p.client.CloseIdleConnections()
}

func (p *Prober) probe(ctx context.Context, method, rawURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("building %s request: %w", method, err)
	}
	if ua := p.userAgent(); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	// Drain so the connection can go back in the pool.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	return resp.StatusCode, nil
}

func (p *Prober) userAgent() string {
	if len(p.agents) == 0 {
		return ""
	}
	return p.agents[int((p.next.Add(1)-1)%uint64(len(p.agents)))]
}
