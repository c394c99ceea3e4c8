// Package resolver looks host names up directly against configured DNS
// servers, bypassing the system resolver.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

const defaultTimeout = 3 * time.Second

type Resolver struct {
	servers []string
	client  *dns.Client
	next    atomic.Uint32
}

// New returns a resolver querying servers round-robin. Entries without a
// port get :53. With no servers, lookups go through the system resolver.
func New(servers []string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	r := &Resolver{client: &dns.Client{Net: "udp", Timeout: timeout}}
	for _, server := range servers {
		server = strings.TrimSpace(server)
		if server == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		r.servers = append(r.servers, server)
	}
	return r
}

func (r *Resolver) Servers() []string {
	return append([]string(nil), r.servers...)
}

// LookupIP returns IPv4 addresses followed by IPv6 addresses for host.
func (r *Resolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if len(r.servers) == 0 {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return nil, err
		}
		ips := make([]net.IP, 0, len(addrs))
		for _, addr := range addrs {
			ips = append(ips, addr.IP)
		}
		return ips, nil
	}

	var ips []net.IP
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		found, err := r.query(ctx, host, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		ips = append(ips, found...)
	}
	if len(ips) == 0 {
		if lastErr == nil {
			lastErr = errors.New("no records")
		}
		return nil, fmt.Errorf("resolve %s: %w", host, lastErr)
	}
	return ips, nil
}

// query asks each server in turn, starting from the round-robin cursor,
// until one answers successfully.
func (r *Resolver) query(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	start := int(r.next.Add(1))
	var lastErr error
	for i := range r.servers {
		server := r.servers[(start+i)%len(r.servers)]
		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s answered %s", server, dns.RcodeToString[resp.Rcode])
			continue
		}
		var ips []net.IP
		for _, ans := range resp.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				if qtype == dns.TypeA {
					ips = append(ips, rr.A)
				}
			case *dns.AAAA:
				if qtype == dns.TypeAAAA {
					ips = append(ips, rr.AAAA)
				}
			}
		}
		return ips, nil
	}
	return nil, lastErr
}
