package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/probeserver"
	"github.com/NodePath81/fbspeed/internal/protocol"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fbspeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func pingName(t *testing.T, addr string) string {
	t.Helper()
	resp, err := http.Get("http://" + addr + protocol.PathPing)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body protocol.PingResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Server
}

func TestSupervisorStartAndReload(t *testing.T) {
	path := writeConfig(t, "server:\n  listen: 127.0.0.1:0\n  name: probe-a\n")
	sup := NewSupervisor(path, util.NewDiscardLogger())
	require.NoError(t, sup.Start())
	t.Cleanup(sup.Stop)

	addr := sup.Addr()
	require.NotNil(t, addr)
	assert.Equal(t, "probe-a", pingName(t, addr.String()))

	cfg, err := config.Parse([]byte("server:\n  listen: 127.0.0.1:0\n  name: probe-a\n  max_streams: 8\n"))
	require.NoError(t, err)
	require.NoError(t, sup.Reload(cfg.Server))
	assert.Equal(t, addr.String(), sup.Addr().String(), "limit changes apply in place")

	cfg, err = config.Parse([]byte("server:\n  listen: 127.0.0.1:0\n  name: probe-b\n"))
	require.NoError(t, err)
	require.NoError(t, sup.Reload(cfg.Server))
	require.NotNil(t, sup.Addr())
	assert.Equal(t, "probe-b", pingName(t, sup.Addr().String()))
}

func TestSupervisorRestartRereadsConfigFile(t *testing.T) {
	path := writeConfig(t, "server:\n  listen: 127.0.0.1:0\n  name: probe-a\n")
	sup := NewSupervisor(path, util.NewDiscardLogger())
	require.NoError(t, sup.Start())
	t.Cleanup(sup.Stop)
	assert.Equal(t, "probe-a", pingName(t, sup.Addr().String()))

	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: 127.0.0.1:0\n  name: probe-c\n"), 0o644))
	require.NoError(t, sup.Restart())
	require.NotNil(t, sup.Addr())
	assert.Equal(t, "probe-c", pingName(t, sup.Addr().String()))

	require.NoError(t, os.WriteFile(path, []byte("server:\n  listen: [bad\n"), 0o644))
	assert.Error(t, sup.Restart())
	require.NotNil(t, sup.Addr(), "a bad file keeps the running server")
	assert.Equal(t, "probe-c", pingName(t, sup.Addr().String()))
}

func TestSupervisorOverrideAndDefaults(t *testing.T) {
	sup := NewSupervisor("", util.NewDiscardLogger())
	sup.Override = func(c *config.ServerConfig) {
		c.Listen = "127.0.0.1:0"
		c.Name = "flag-name"
	}
	require.NoError(t, sup.Start())
	t.Cleanup(sup.Stop)
	assert.Equal(t, "flag-name", pingName(t, sup.Addr().String()))
}

func TestSupervisorRunStopsOnCancel(t *testing.T) {
	path := writeConfig(t, "server:\n  listen: 127.0.0.1:0\n")
	sup := NewSupervisor(path, util.NewDiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return sup.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}
	assert.Nil(t, sup.Addr())
}

func TestNeedsRestart(t *testing.T) {
	base := config.Default().Server
	assert.False(t, needsRestart(base, base))

	limits := base
	limits.MaxStreams = 3
	limits.MaxBandwidthBits = 1_000_000
	assert.False(t, needsRestart(base, limits))

	moved := base
	moved.Listen = "127.0.0.1:9999"
	assert.True(t, needsRestart(base, moved))

	off := false
	noMetrics := base
	noMetrics.Metrics.Enabled = &off
	assert.True(t, needsRestart(base, noMetrics))
}

func TestEngineConfigMapping(t *testing.T) {
	cfg, err := config.Parse([]byte(`
client:
  servers:
    - host: 127.0.0.1:1
  test_duration: 2s
  download_concurrency: 3
  download_chunks_mb: [1, 2]
  reference_upload_mbps: 50
  chunk_grace: 500ms
`))
	require.NoError(t, err)
	ec := EngineConfig(cfg.Client)
	assert.Equal(t, 2*time.Second, ec.TestDuration)
	assert.Equal(t, 3, ec.DownloadConcurrency)
	assert.Equal(t, []int{1, 2}, ec.DownloadChunksMB)
	assert.Equal(t, 50.0, ec.ReferenceUploadMbps)
	assert.Equal(t, 500*time.Millisecond, ec.ChunkGrace)
	assert.Zero(t, ec.UploadConcurrency)

	candidates := Candidates(cfg.Client)
	require.Len(t, candidates, 1)
	assert.Equal(t, "127.0.0.1:1", candidates[0].ID)
}

func TestClientMeasure(t *testing.T) {
	ps := probeserver.New(probeserver.Config{Name: "app-test"}, util.NewDiscardLogger())
	ts := httptest.NewServer(ps.Handler())
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Client = config.ClientConfig{
		Servers:               []config.CandidateConfig{{ID: "local", Host: ts.URL}},
		TestDuration:          config.Duration(200 * time.Millisecond),
		LatencySampleCount:    3,
		LatencySampleDelay:    config.Duration(time.Millisecond),
		DownloadChunksMB:      []int{1},
		UploadChunksMB:        []int{1},
		PacketLossSampleCount: 5,
	}
	client, err := NewClient(cfg, util.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	assert.Nil(t, client.Relay())

	report, err := client.Measure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local", report.Server.ID)
	assert.True(t, report.Quality.Valid())
}

func TestClientMeasureWithoutServers(t *testing.T) {
	client, err := NewClient(config.Default(), util.NewDiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	_, err = client.Measure(context.Background())
	assert.Error(t, err)
}
