package probeserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/NodePath81/fbspeed/internal/protocol"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "probe-test"
	}
	s := New(cfg, util.NewDiscardLogger())
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func assertNoCache(t *testing.T, h http.Header) {
	t.Helper()
	assert.Equal(t, "no-store, no-cache, must-revalidate, max-age=0", h.Get("Cache-Control"))
	assert.Equal(t, "no-cache", h.Get("Pragma"))
	assert.Equal(t, "0", h.Get("Expires"))
}

func TestPingReturnsContract(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + protocol.PingPath(17))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assertNoCache(t, resp.Header)
	assert.Equal(t, "127.0.0.1", resp.Header.Get(protocol.HeaderClientAddress))

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Len(t, raw, 3)
	assert.Equal(t, "probe-test", raw["server"])
	assert.EqualValues(t, 17, raw["packet"])
	ts64, ok := raw["timestamp"].(float64)
	require.True(t, ok)
	assert.InDelta(t, float64(time.Now().UnixMilli()), ts64, 5000)
}

func TestPingDefaultsAndErrors(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + protocol.PathPing)
	require.NoError(t, err)
	var ping protocol.PingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ping))
	resp.Body.Close()
	assert.Equal(t, 0, ping.Packet)

	resp, err = http.Get(ts.URL + protocol.PathPing + "?packet=x")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Head(ts.URL + protocol.PathPing)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body)
	assertNoCache(t, resp.Header)

	resp, err = http.Post(ts.URL+protocol.PathPing, "text/plain", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assertNoCache(t, resp.Header)
}

func TestDownloadStreamsExactSize(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	for _, sizeMB := range []int{0, 1, 3} {
		resp, err := http.Get(ts.URL + protocol.DownloadPath(sizeMB))
		require.NoError(t, err)
		n, err := io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int64(sizeMB)*protocol.BytesPerMB, n)
		assert.Equal(t, int64(sizeMB)*protocol.BytesPerMB, resp.ContentLength)
		assertNoCache(t, resp.Header)
	}
}

func TestDownloadRejectsBadSizes(t *testing.T) {
	_, ts := newTestServer(t, Config{MaxDownloadMB: 10})

	for _, raw := range []string{"-1", "11", "101", "big"} {
		resp, err := http.Get(ts.URL + protocol.PathDownload + raw)
		require.NoError(t, err)
		var body protocol.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, raw)
		assert.NotEmpty(t, body.Error, raw)
		assertNoCache(t, resp.Header)
	}
}

func TestPayloadIsNotTrivial(t *testing.T) {
	p := newPayload(42)
	require.Len(t, p, protocol.ChunkSize)
	assert.False(t, bytes.Equal(p[:1024], make([]byte, 1024)))
	assert.NotEqual(t, p[:512], p[512:1024])
}

func TestUploadCountsBytes(t *testing.T) {
	_, ts := newTestServer(t, Config{})

	payload := bytes.Repeat([]byte{0xAB}, 2*protocol.BytesPerMB)
	resp, err := http.Post(ts.URL+protocol.PathUpload, "application/octet-stream", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assertNoCache(t, resp.Header)

	var raw map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.EqualValues(t, len(payload), raw["receivedBytes"])
	assert.Contains(t, raw, "durationMs")
	assert.Contains(t, raw, "speedMbps")
}

func TestUploadRejectsOversizedBody(t *testing.T) {
	_, ts := newTestServer(t, Config{MaxUploadBytes: 1024})

	resp, err := http.Post(ts.URL+protocol.PathUpload, "application/octet-stream", strings.NewReader(strings.Repeat("x", 4096)))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestStreamGateRejectsWhenFull(t *testing.T) {
	s, ts := newTestServer(t, Config{MaxStreams: 1})
	require.True(t, s.gate.TryAcquire())

	resp, err := http.Get(ts.URL + protocol.DownloadPath(1))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))

	resp, err = http.Post(ts.URL+protocol.PathUpload, "application/octet-stream", strings.NewReader("abc"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	// Ping is never gated.
	resp, err = http.Get(ts.URL + protocol.PathPing)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	s.gate.Release()
	s.ApplyLimits(2, 0, 0)
	resp, err = http.Get(ts.URL + protocol.DownloadPath(1))
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Eventually(t, func() bool { return s.gate.Active() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStreamGateUnlimited(t *testing.T) {
	g := newStreamGate(0)
	for i := 0; i < 100; i++ {
		require.True(t, g.TryAcquire())
	}
	assert.Equal(t, 100, g.Active())
	g.SetLimit(100)
	assert.False(t, g.TryAcquire())

	g.SetLimit(-1)
	assert.True(t, g.TryAcquire())
}

func TestMetricsEndpoint(t *testing.T) {
	_, ts := newTestServer(t, Config{MetricsEnabled: true})

	resp, err := http.Get(ts.URL + protocol.PathPing)
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + protocol.PathMetrics)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `fbspeed_probe_requests_total{code="200",endpoint="ping"} 1`)
}

func gatheredValue(t *testing.T, m *Metrics, name, label, value string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestMetricsCountTransferredBytes(t *testing.T) {
	s, ts := newTestServer(t, Config{})

	resp, err := http.Get(ts.URL + protocol.DownloadPath(2))
	require.NoError(t, err)
	_, err = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	require.NoError(t, err)

	resp, err = http.Post(ts.URL+protocol.PathUpload, "application/octet-stream", bytes.NewReader(make([]byte, 5000)))
	require.NoError(t, err)
	resp.Body.Close()

	metrics := s.Metrics()
	require.Eventually(t, func() bool {
		return gatheredValue(t, metrics, "fbspeed_probe_bytes_total", "direction", "download") == float64(2*protocol.BytesPerMB)
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 5000.0, gatheredValue(t, metrics, "fbspeed_probe_bytes_total", "direction", "upload"))
}

func TestMetricsDisabled(t *testing.T) {
	_, ts := newTestServer(t, Config{})
	resp, err := http.Get(ts.URL + protocol.PathMetrics)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPacerLimitsRate(t *testing.T) {
	// 8 Mbit/s drains one million bytes per second.
	p := NewPacer(8_000_000)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(ctx, 100_000))
	}
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)

	p.SetRate(0)
	start = time.Now()
	require.NoError(t, p.Wait(ctx, 10_000_000))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestPacerHonoursContext(t *testing.T) {
	p := NewPacer(8_000)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Wait(ctx, 10_000))
	cancel()
	assert.ErrorIs(t, p.Wait(ctx, 10_000), context.Canceled)
}

func TestStartServesOnListener(t *testing.T) {
	s := New(Config{Name: "listener"}, util.NewDiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx, "127.0.0.1:0", 4))
	require.NotNil(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr().String() + protocol.PathPing)
	require.NoError(t, err)
	var ping protocol.PingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ping))
	resp.Body.Close()
	assert.Equal(t, "listener", ping.Server)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	assert.NoError(t, s.Shutdown(shutdownCtx))
}
