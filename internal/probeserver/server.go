// Package probeserver serves the probe protocol: ping, chunked download and
// upload sink endpoints under a global stream limit.
package probeserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NodePath81/fbspeed/internal/protocol"
	"github.com/NodePath81/fbspeed/internal/util"
	"golang.org/x/net/netutil"
)

const (
	readHeaderTimeout     = 10 * time.Second
	shutdownTimeout       = 3 * time.Second
	defaultMaxUploadBytes = 64 << 20
)

type Config struct {
	Name            string
	MaxStreams      int
	MaxBandwidthBps uint64
	MaxUploadBytes  int64
	MaxDownloadMB   int
	MetricsEnabled  bool
}

type Server struct {
	cfg       Config
	logger    util.Logger
	gate      *streamGate
	pacer     *Pacer
	metrics   *Metrics
	payload   []byte
	maxUpload atomic.Int64
	handler   http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func New(cfg Config, logger util.Logger) *Server {
	if cfg.MaxDownloadMB <= 0 || cfg.MaxDownloadMB > protocol.MaxDownloadMB {
		cfg.MaxDownloadMB = protocol.MaxDownloadMB
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		gate:    newStreamGate(cfg.MaxStreams),
		pacer:   NewPacer(cfg.MaxBandwidthBps),
		metrics: NewMetrics(),
		payload: newPayload(time.Now().UnixNano()),
	}
	s.maxUpload.Store(cfg.MaxUploadBytes)
	s.handler = s.routes()
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	// GET patterns also match HEAD.
	mux.Handle("GET "+protocol.PathPing, s.instrument("ping", s.handlePing))
	mux.Handle("GET "+protocol.PathDownload+"{size}", s.instrument("download", s.handleDownload))
	mux.Handle("POST "+protocol.PathUpload, s.instrument("upload", s.handleUpload))
	if s.cfg.MetricsEnabled {
		mux.Handle("GET "+protocol.PathMetrics, s.metrics.Handler())
	}
	return noCache(mux)
}

// Handler exposes the routed endpoints, mainly for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start binds addr and serves until ctx is cancelled. maxConns caps accepted
// connections; zero leaves the listener unbounded.
func (s *Server) Start(ctx context.Context, addr string, maxConns int) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("probe server error", "error", err)
		}
	}()
	s.logger.Info("probe server started", "addr", ln.Addr().String(), "name", s.cfg.Name,
		"max_streams", s.cfg.MaxStreams, "max_connections", maxConns)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// ApplyLimits updates the stream limit, pacing rate and upload cap in place.
func (s *Server) ApplyLimits(maxStreams int, bandwidthBps uint64, maxUploadBytes int64) {
	s.gate.SetLimit(maxStreams)
	s.pacer.SetRate(bandwidthBps)
	if maxUploadBytes > 0 {
		s.maxUpload.Store(maxUploadBytes)
	}
	s.logger.Info("probe limits updated", "max_streams", maxStreams,
		"max_bandwidth", util.FormatBitsPerSecond(float64(bandwidthBps)), "max_upload_bytes", maxUploadBytes)
}
