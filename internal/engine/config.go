package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/NodePath81/fbspeed/internal/protocol"
)

const (
	DefaultTestDuration          = 10 * time.Second
	DefaultLatencySampleCount    = 10
	DefaultLatencySampleTimeout  = 3 * time.Second
	DefaultLatencySampleDelay    = 100 * time.Millisecond
	DefaultSelectionTimeout      = 3 * time.Second
	DefaultDownloadConcurrency   = 4
	DefaultUploadConcurrency     = 2
	DefaultRequestTimeout        = 30 * time.Second
	DefaultChunkGrace            = 2 * time.Second
	DefaultRetryPause            = 100 * time.Millisecond
	DefaultPacketLossSampleCount = 50
	DefaultPacketTimeout         = 3 * time.Second
	DefaultReferenceDownloadMbps = 100
	DefaultReferenceUploadMbps   = 100
	DefaultOverallTimeout        = 60 * time.Second
	DefaultMaxReportSamples      = 100
	DefaultProgressInterval      = 500 * time.Millisecond

	maxConcurrency  = 64
	maxPacketCount  = 1000
	maxLatencyCount = 1000
)

var (
	DefaultDownloadChunksMB = []int{1, 5, 10, 25}
	DefaultUploadChunksMB   = []int{1, 2, 3, 5}
)

// Config is the immutable input of a run. Zero fields take the defaults
// above; the engine never writes back to the caller's value.
type Config struct {
	TestDuration          time.Duration
	LatencySampleCount    int
	LatencySampleTimeout  time.Duration
	LatencySampleDelay    time.Duration
	SelectionTimeout      time.Duration
	DownloadConcurrency   int
	UploadConcurrency     int
	DownloadChunksMB      []int
	UploadChunksMB        []int
	RequestTimeout        time.Duration
	// ChunkGrace bounds how far a chunk in flight at the end of the test
	// window may overrun it.
	ChunkGrace            time.Duration
	RetryPause            time.Duration
	PacketLossSampleCount int
	PacketTimeout         time.Duration
	ReferenceDownloadMbps float64
	ReferenceUploadMbps   float64
	OverallTimeout        time.Duration
	MaxReportSamples      int
	ProgressInterval      time.Duration
}

func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.TestDuration == 0 {
		c.TestDuration = DefaultTestDuration
	}
	if c.LatencySampleCount == 0 {
		c.LatencySampleCount = DefaultLatencySampleCount
	}
	if c.LatencySampleTimeout == 0 {
		c.LatencySampleTimeout = DefaultLatencySampleTimeout
	}
	if c.LatencySampleDelay == 0 {
		c.LatencySampleDelay = DefaultLatencySampleDelay
	}
	if c.SelectionTimeout == 0 {
		c.SelectionTimeout = DefaultSelectionTimeout
	}
	if c.DownloadConcurrency == 0 {
		c.DownloadConcurrency = DefaultDownloadConcurrency
	}
	if c.UploadConcurrency == 0 {
		c.UploadConcurrency = DefaultUploadConcurrency
	}
	if len(c.DownloadChunksMB) == 0 {
		c.DownloadChunksMB = DefaultDownloadChunksMB
	}
	if len(c.UploadChunksMB) == 0 {
		c.UploadChunksMB = DefaultUploadChunksMB
	}
	c.DownloadChunksMB = append([]int(nil), c.DownloadChunksMB...)
	c.UploadChunksMB = append([]int(nil), c.UploadChunksMB...)
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ChunkGrace == 0 {
		c.ChunkGrace = DefaultChunkGrace
	}
	if c.RetryPause == 0 {
		c.RetryPause = DefaultRetryPause
	}
	if c.PacketLossSampleCount == 0 {
		c.PacketLossSampleCount = DefaultPacketLossSampleCount
	}
	if c.PacketTimeout == 0 {
		c.PacketTimeout = DefaultPacketTimeout
	}
	if c.ReferenceDownloadMbps == 0 {
		c.ReferenceDownloadMbps = DefaultReferenceDownloadMbps
	}
	if c.ReferenceUploadMbps == 0 {
		c.ReferenceUploadMbps = DefaultReferenceUploadMbps
	}
	if c.OverallTimeout == 0 {
		c.OverallTimeout = DefaultOverallTimeout
	}
	if c.MaxReportSamples == 0 {
		c.MaxReportSamples = DefaultMaxReportSamples
	}
	if c.ProgressInterval == 0 {
		c.ProgressInterval = DefaultProgressInterval
	}
	return c
}

func (c Config) validate() error {
	if c.TestDuration < 0 || c.LatencySampleTimeout < 0 || c.LatencySampleDelay < 0 ||
		c.SelectionTimeout < 0 || c.RequestTimeout < 0 || c.ChunkGrace < 0 || c.RetryPause < 0 ||
		c.PacketTimeout < 0 || c.OverallTimeout < 0 || c.ProgressInterval < 0 {
		return errors.New("durations must be >= 0")
	}
	if c.LatencySampleCount < 0 || c.PacketLossSampleCount < 0 || c.MaxReportSamples < 0 {
		return errors.New("sample counts must be >= 0")
	}
	if c.LatencySampleCount > maxLatencyCount {
		return fmt.Errorf("latency sample count must be <= %d", maxLatencyCount)
	}
	if c.PacketLossSampleCount > maxPacketCount {
		return fmt.Errorf("packet loss sample count must be <= %d", maxPacketCount)
	}
	if c.DownloadConcurrency < 0 || c.DownloadConcurrency > maxConcurrency ||
		c.UploadConcurrency < 0 || c.UploadConcurrency > maxConcurrency {
		return fmt.Errorf("concurrency must be in 1..%d", maxConcurrency)
	}
	if c.ReferenceDownloadMbps < 0 || c.ReferenceUploadMbps < 0 {
		return errors.New("reference throughput must be > 0")
	}
	for _, mb := range append(append([]int(nil), c.DownloadChunksMB...), c.UploadChunksMB...) {
		if mb <= 0 {
			return errors.New("chunk sizes must be > 0")
		}
	}
	for _, mb := range c.DownloadChunksMB {
		if mb > protocol.MaxDownloadMB {
			return fmt.Errorf("download chunk of %d MB exceeds the %d MB server limit", mb, protocol.MaxDownloadMB)
		}
	}
	return nil
}

// Locator annotates a probe host with a human-readable location.
type Locator interface {
	Locate(ctx context.Context, host string) string
}

// Options carries the collaborators of a run. All fields are optional.
type Options struct {
	Client   *http.Client
	Logger   *slog.Logger
	Progress ProgressFunc
	Locator  Locator
}
