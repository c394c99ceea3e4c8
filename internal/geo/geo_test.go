package geo

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostOf(t *testing.T) {
	cases := map[string]string{
		"probe.example.com":           "probe.example.com",
		"probe.example.com:8080":      "probe.example.com",
		"https://probe.example.com/x": "probe.example.com",
		"http://[2001:db8::1]:9000":   "2001:db8::1",
		"10.0.0.5:80":                 "10.0.0.5",
		"   ":                         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, hostOf(in), in)
	}
}

func TestFormatLocation(t *testing.T) {
	var rec cityRecord
	assert.Equal(t, "", formatLocation(rec))

	rec.Country.Names = map[string]string{"en": "Germany"}
	assert.Equal(t, "Germany", formatLocation(rec))

	rec.Country.ISOCode = "DE"
	assert.Equal(t, "DE", formatLocation(rec))

	rec.City.Names = map[string]string{"en": "Frankfurt am Main"}
	assert.Equal(t, "Frankfurt am Main, DE", formatLocation(rec))
}

func TestNilLocator(t *testing.T) {
	var l *Locator
	assert.Equal(t, "", l.Locate(context.Background(), "10.0.0.1"))
	loc, err := l.LookupIP(net.ParseIP("10.0.0.1"))
	require.NoError(t, err)
	assert.Empty(t, loc)
	assert.NoError(t, l.Close())
}

func TestOpenMissingDatabase(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.mmdb"), nil, util.NewDiscardLogger())
	assert.Error(t, err)
}
