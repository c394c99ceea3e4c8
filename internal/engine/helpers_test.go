package engine

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/NodePath81/fbspeed/internal/probeserver"
	"github.com/NodePath81/fbspeed/internal/util"
)

// fastConfig keeps every stage short enough for unit tests.
func fastConfig() Config {
	return Config{
		TestDuration:          300 * time.Millisecond,
		LatencySampleCount:    3,
		LatencySampleTimeout:  time.Second,
		LatencySampleDelay:    time.Millisecond,
		SelectionTimeout:      time.Second,
		DownloadConcurrency:   2,
		UploadConcurrency:     2,
		DownloadChunksMB:      []int{1},
		UploadChunksMB:        []int{1},
		RequestTimeout:        5 * time.Second,
		RetryPause:            10 * time.Millisecond,
		PacketLossSampleCount: 10,
		PacketTimeout:         time.Second,
		OverallTimeout:        20 * time.Second,
		ProgressInterval:      50 * time.Millisecond,
	}
}

func testOptions() Options {
	return Options{
		Client: &http.Client{},
		Logger: util.NewDiscardLogger(),
	}
}

// newProbeServer starts a real probe server, optionally overriding routes.
func newProbeServer(t *testing.T, overrides map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	ps := probeserver.New(probeserver.Config{Name: "engine-test"}, util.NewDiscardLogger())
	mux := http.NewServeMux()
	mux.Handle("/", ps.Handler())
	for pattern, h := range overrides {
		mux.HandleFunc(pattern, h)
	}
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

// deadHost returns the address of a server that has already been closed.
func deadHost(t *testing.T) string {
	t.Helper()
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()
	return url
}

func failWith(code int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}
}
