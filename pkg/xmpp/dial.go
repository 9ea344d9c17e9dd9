package xmpp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"slices"
	"time"

	"golang.org/x/net/proxy"
)

// SRVResolver finds the client service targets of a domain.
type SRVResolver interface {
	LookupClient(ctx context.Context, domain string) ([]Target, error)
}

// Dialer opens client streams to the server of an account's domain.
type Dialer struct {
	// Host and Port override SRV resolution.
	Host string
	Port int
	// DirectTLS speaks TLS from the first byte, on port 5223 unless Port
	// says otherwise.
	DirectTLS bool
	TLSConfig *tls.Config
	// Proxy is a socks5:// URL to dial through.
	Proxy    string
	Timeout  time.Duration
	Resolver SRVResolver
	Log      *slog.Logger
}

// Connect dials the server of domain and opens a stream on it.
func (d *Dialer) Connect(ctx context.Context, domain string) (*Conn, error) {
	raw, err := d.Dial(ctx, domain)
	if err != nil {
		return nil, err
	}

	conn := NewConn(raw, domain, d.tlsConfig(domain), d.Log)
	if err := conn.Open(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open stream to %s: %w", domain, err)
	}
	return conn, nil
}

// Dial returns a connection to the first reachable target for domain.
func (d *Dialer) Dial(ctx context.Context, domain string) (net.Conn, error) {
	forward, err := d.forwarder()
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, target := range d.targets(ctx, domain) {
		raw, err := forward.DialContext(ctx, "tcp", target.Addr())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		d.logger().Debug("connected", "address", target.Addr(), "direct_tls", d.DirectTLS)

		if !d.DirectTLS {
			return raw, nil
		}
		tlsConn := tls.Client(raw, d.tlsConfig(domain))
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = raw.Close()
			errs = append(errs, fmt.Errorf("tls handshake with %s: %w", target.Addr(), err))
			continue
		}
		return tlsConn, nil
	}
	return nil, fmt.Errorf("dial %s: %w", domain, errors.Join(errs...))
}

// targets lists where to try, in order: the configured host, the SRV
// records, or the domain itself on the default port.
func (d *Dialer) targets(ctx context.Context, domain string) []Target {
	port := d.Port
	if port == 0 && d.DirectTLS {
		port = DefaultTLSPort
	}

	if d.Host != "" {
		if port == 0 {
			port = DefaultPort
		}
		return []Target{{Host: d.Host, Port: port}}
	}

	var targets []Target
	if d.Resolver != nil {
		found, err := d.Resolver.LookupClient(ctx, domain)
		if err != nil {
			d.logger().Warn("srv lookup failed, using domain", "domain", domain, "error", err)
		}
		targets = slices.Clone(found)
	}
	if len(targets) == 0 {
		targets = []Target{{Host: domain, Port: DefaultPort}}
	}
	if port != 0 {
		for i := range targets {
			targets[i].Port = port
		}
	}
	return targets
}

func (d *Dialer) forwarder() (proxy.ContextDialer, error) {
	direct := &net.Dialer{Timeout: d.Timeout, KeepAlive: 30 * time.Second}
	if d.Proxy == "" {
		return direct, nil
	}

	u, err := url.Parse(d.Proxy)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	via, err := proxy.FromURL(u, direct)
	if err != nil {
		return nil, fmt.Errorf("configure proxy %s: %w", u.Redacted(), err)
	}
	contextDialer, ok := via.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("proxy %s cannot dial with a context", u.Redacted())
	}
	return contextDialer, nil
}

func (d *Dialer) tlsConfig(domain string) *tls.Config {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if d.TLSConfig != nil {
		cfg = d.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = domain
	}
	return cfg
}

func (d *Dialer) logger() *slog.Logger {
	if d.Log == nil {
		return slog.Default().With("component", "xmpp.dialer")
	}
	return d.Log.With("component", "xmpp.dialer")
}
