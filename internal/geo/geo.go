// Package geo annotates probe hosts with a location from a MaxMind-format
// city database.
package geo

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/oschwald/maxminddb-golang"
)

// HostResolver resolves host names before lookup.
type HostResolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

type cityRecord struct {
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
}

// Locator implements engine.Locator. A Locator without a database returns
// empty locations.
type Locator struct {
	db       *maxminddb.Reader
	resolver HostResolver
	logger   util.Logger
}

func Open(path string, resolver HostResolver, logger util.Logger) (*Locator, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}
	logger.Debug("geoip database loaded", "path", path, "type", db.Metadata.DatabaseType)
	return &Locator{db: db, resolver: resolver, logger: logger}, nil
}

func (l *Locator) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Locate returns "City, CC", "CC" or "" for the first address of host.
func (l *Locator) Locate(ctx context.Context, host string) string {
	if l == nil || l.db == nil {
		return ""
	}
	name := hostOf(host)
	if name == "" {
		return ""
	}
	ip := net.ParseIP(name)
	if ip == nil {
		ips, err := l.lookup(ctx, name)
		if err != nil || len(ips) == 0 {
			l.logger.Debug("geoip resolve failed", "host", name, "error", err)
			return ""
		}
		ip = ips[0]
	}
	loc, err := l.LookupIP(ip)
	if err != nil {
		l.logger.Debug("geoip lookup failed", "ip", ip.String(), "error", err)
		return ""
	}
	return loc
}

// LookupIP returns the formatted location of ip.
func (l *Locator) LookupIP(ip net.IP) (string, error) {
	if l == nil || l.db == nil {
		return "", nil
	}
	var rec cityRecord
	if err := l.db.Lookup(ip, &rec); err != nil {
		return "", err
	}
	return formatLocation(rec), nil
}

func (l *Locator) lookup(ctx context.Context, host string) ([]net.IP, error) {
	if l.resolver != nil {
		return l.resolver.LookupIP(ctx, host)
	}
	return net.DefaultResolver.LookupIP(ctx, "ip", host)
}

func formatLocation(rec cityRecord) string {
	city := rec.City.Names["en"]
	cc := rec.Country.ISOCode
	switch {
	case city != "" && cc != "":
		return city + ", " + cc
	case cc != "":
		return cc
	default:
		return rec.Country.Names["en"]
	}
}

// hostOf strips scheme, port and path from a candidate host string.
func hostOf(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
