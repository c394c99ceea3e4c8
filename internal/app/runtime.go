package app

import (
	"context"
	"net"
	"time"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/probeserver"
	"github.com/NodePath81/fbspeed/internal/util"
)

const stopTimeout = 3 * time.Second

// Runtime is one running probe server built from a fixed config.
type Runtime struct {
	cfg    config.ServerConfig
	ctx    context.Context
	cancel context.CancelFunc
	logger util.Logger
	server *probeserver.Server
}

func NewRuntime(cfg config.ServerConfig, logger util.Logger) *Runtime {
	ctx, cancel := context.WithCancel(context.Background())
	server := probeserver.New(probeserver.Config{
		Name:            cfg.Name,
		MaxStreams:      cfg.MaxStreams,
		MaxBandwidthBps: cfg.MaxBandwidthBits,
		MaxUploadBytes:  cfg.MaxUploadBytes,
		MaxDownloadMB:   cfg.MaxDownloadMB,
		MetricsEnabled:  cfg.Metrics.IsEnabled(),
	}, logger)
	return &Runtime{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
		server: server,
	}
}

func (r *Runtime) Start() error {
	return r.server.Start(r.ctx, r.cfg.Listen, r.cfg.MaxConnections)
}

func (r *Runtime) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	_ = r.server.Shutdown(shutdownCtx)
	r.cancel()
}

// Apply pushes the hot-reloadable limits of cfg into the running server.
func (r *Runtime) Apply(cfg config.ServerConfig) {
	r.server.ApplyLimits(cfg.MaxStreams, cfg.MaxBandwidthBits, cfg.MaxUploadBytes)
	r.cfg.MaxStreams = cfg.MaxStreams
	r.cfg.MaxBandwidthBits = cfg.MaxBandwidthBits
	r.cfg.MaxBandwidth = cfg.MaxBandwidth
	r.cfg.MaxUploadBytes = cfg.MaxUploadBytes
	r.cfg.MaxUploadSize = cfg.MaxUploadSize
}

func (r *Runtime) Addr() net.Addr {
	return r.server.Addr()
}

// needsRestart reports whether moving from old to next requires rebinding
// the listener or rebuilding the server.
func needsRestart(old, next config.ServerConfig) bool {
	return old.Listen != next.Listen ||
		old.Name != next.Name ||
		old.MaxConnections != next.MaxConnections ||
		old.MaxDownloadMB != next.MaxDownloadMB ||
		old.Metrics.IsEnabled() != next.Metrics.IsEnabled()
}
