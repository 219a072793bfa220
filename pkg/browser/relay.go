package browser

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"
	xproxy "golang.org/x/net/proxy"
)

const (
	relayDialTimeout   = 15 * time.Second
	relayCloseDeadline = 3 * time.Second
)

// proxyRelay is a loopback forwarding proxy placed in front of Chrome
// when the configured upstream needs credentials. Chrome has no flag
// for proxy auth, so the relay injects it: Proxy-Authorization for
// http/https upstreams, the SOCKS handshake for socks5.
type proxyRelay struct {
	upstream *url.URL
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
	served   chan struct{}
}

func newProxyRelay(upstream *url.URL, logger *zap.Logger) (*proxyRelay, error) {
	log := logger.Named("relay")

	proxy := goproxy.NewProxyHttpServer()
	proxy.Verbose = false
	proxy.Logger = zap.NewStdLog(log)

	switch upstream.Scheme {
	case "http", "https":
		// Plain requests ride the transport, which adds credentials
		// from the URL userinfo on its own. CONNECT tunnels need them
		// injected by hand.
		proxy.Tr = &http.Transport{
			Proxy: http.ProxyURL(upstream),
			DialContext: (&net.Dialer{
				Timeout: relayDialTimeout,
			}).DialContext,
		}
		auth := proxyBasicAuth(upstream)
		proxy.ConnectDial = proxy.NewConnectDialToProxyWithHandler(upstream.String(), func(req *http.Request) {
			if auth != "" {
				req.Header.Set("Proxy-Authorization", auth)
			}
		})
	case "socks5":
		dialer, err := xproxy.FromURL(upstream, &net.Dialer{Timeout: relayDialTimeout})
		if err != nil {
			return nil, fmt.Errorf("socks5 upstream: %w", err)
		}
		tr := &http.Transport{}
		if cd, ok := dialer.(xproxy.ContextDialer); ok {
			tr.DialContext = cd.DialContext
		} else {
			tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		proxy.Tr = tr
		proxy.ConnectDial = dialer.Dial
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", upstream.Scheme)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("binding relay listener: %w", err)
	}

	r := &proxyRelay{
		upstream: upstream,
		listener: listener,
		logger:   log,
		served:   make(chan struct{}),
		server: &http.Server{
			Handler:           proxy,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	go func() {
		defer close(r.served)
		if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("relay server stopped", zap.Error(err))
		}
	}()

	return r, nil
}

// Addr is the loopback address the relay listens on.
func (r *proxyRelay) Addr() string {
	return r.listener.Addr().String()
}

// ProxyServer is the value Chrome gets for --proxy-server.
func (r *proxyRelay) ProxyServer() string {
	return "http://" + r.Addr()
}

// Close stops the relay. Open tunnels are cut; the browser they served
// is going down with them.
func (r *proxyRelay) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), relayCloseDeadline)
	defer cancel()

	err := r.server.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		err = r.server.Close()
	}
	<-r.served
	return err
}

func proxyBasicAuth(u *url.URL) string {
	if u.User == nil {
		return ""
	}
	pass, _ := u.User.Password()
	cred := u.User.Username() + ":" + pass
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(cred))
}
