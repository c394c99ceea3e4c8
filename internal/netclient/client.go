// Package netclient builds the HTTP client used for probe traffic.
package netclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gwatts/rootcerts"
)

const (
	dialTimeout      = 10 * time.Second
	perAddressDial   = 3 * time.Second
	idleConnTimeout  = 90 * time.Second
	tlsHandshakeWait = 10 * time.Second
	maxIdlePerHost   = 64
)

// HostResolver resolves a host name to candidate addresses.
type HostResolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

type Options struct {
	// Resolver replaces the system resolver when set.
	Resolver           HostResolver
	InsecureSkipVerify bool
}

// noCacheTransport stamps no-cache request headers so intermediaries never
// answer a probe from cache.
type noCacheTransport struct {
	base http.RoundTripper
}

func (t *noCacheTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Cache-Control", "no-cache")
	clone.Header.Set("Pragma", "no-cache")
	return t.base.RoundTrip(clone)
}

// New returns a client whose transport keeps one TCP connection per
// concurrent stream (HTTP/2 is disabled so streams are not multiplexed),
// never negotiates compression and verifies TLS against embedded roots.
// The client has no overall timeout; callers bound requests with contexts.
func New(opts Options) (*http.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}
	if !opts.InsecureSkipVerify {
		tlsConfig.RootCAs = rootcerts.ServerCertPool()
		if tlsConfig.RootCAs == nil {
			return nil, errors.New("unable to load root CA pool")
		}
	}

	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		DialContext:           dialContext(dialer, opts.Resolver),
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		IdleConnTimeout:       idleConnTimeout,
		TLSHandshakeTimeout:   tlsHandshakeWait,
		ExpectContinueTimeout: time.Second,
		DisableCompression:    true,
		ForceAttemptHTTP2:     false,
		TLSClientConfig:       tlsConfig,
		TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
	}
	return &http.Client{Transport: &noCacheTransport{base: transport}}, nil
}

func dialContext(dialer *net.Dialer, res HostResolver) func(ctx context.Context, network, addr string) (net.Conn, error) {
	if res == nil {
		return dialer.DialContext
	}
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", addr, err)
		}
		if net.ParseIP(host) != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		ips, err := res.LookupIP(ctx, host)
		if err != nil {
			return nil, fmt.Errorf("dns resolution failed for %s: %w", host, err)
		}
		var firstErr error
		for _, ip := range ips {
			// A blackholed address must not stall the whole dial.
			dialCtx, cancel := context.WithTimeout(ctx, perAddressDial)
			conn, err := dialer.DialContext(dialCtx, network, net.JoinHostPort(ip.String(), port))
			cancel()
			if err == nil {
				return conn, nil
			}
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				break
			}
		}
		if firstErr == nil {
			firstErr = errors.New("no addresses")
		}
		return nil, fmt.Errorf("connect %s: %w", addr, firstErr)
	}
}
