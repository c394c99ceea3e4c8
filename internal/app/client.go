package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/NodePath81/fbspeed/internal/geo"
	"github.com/NodePath81/fbspeed/internal/history"
	"github.com/NodePath81/fbspeed/internal/netclient"
	"github.com/NodePath81/fbspeed/internal/relay"
	"github.com/NodePath81/fbspeed/internal/resolver"
	"github.com/NodePath81/fbspeed/internal/util"
)

// Client wires the measurement engine to the optional collaborators named
// in the config: custom DNS, GeoIP annotation, progress relay and history.
type Client struct {
	cfg     config.Config
	logger  util.Logger
	opts    engine.Options
	locator *geo.Locator
	hub     *relay.Hub
	store   *history.Store
	cancel  context.CancelFunc
	done    chan error
}

func NewClient(cfg config.Config, logger util.Logger) (*Client, error) {
	c := &Client{cfg: cfg, logger: logger}

	var res *resolver.Resolver
	if len(cfg.DNS.Servers) > 0 {
		res = resolver.New(cfg.DNS.Servers, cfg.DNS.Timeout.Duration())
		logger.Debug("using custom dns", "servers", res.Servers())
	}
	opts := netclient.Options{InsecureSkipVerify: cfg.Client.InsecureSkipVerify}
	if res != nil {
		opts.Resolver = res
	}
	httpClient, err := netclient.New(opts)
	if err != nil {
		return nil, err
	}
	c.opts = engine.Options{Client: httpClient, Logger: logger}

	if cfg.GeoIP.Database != "" {
		var geoRes geo.HostResolver
		if res != nil {
			geoRes = res
		}
		locator, err := geo.Open(cfg.GeoIP.Database, geoRes, logger)
		if err != nil {
			return nil, err
		}
		c.locator = locator
		c.opts.Locator = locator
	}

	if cfg.History.Path != "" {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.store = store
	}

	if cfg.Relay.Listen != "" {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.hub = relay.NewHub(ctx, cfg.Relay.AllowedOrigins, logger)
		c.done = make(chan error, 1)
		go func() {
			c.done <- c.hub.ListenAndServe(ctx, cfg.Relay.Listen)
		}()
		c.opts.Progress = c.hub.PublishProgress
		logger.Info("progress relay listening", "addr", cfg.Relay.Listen, "path", relay.PathProgress)
	}
	return c, nil
}

// Candidates converts the configured servers into engine candidates.
func Candidates(cfg config.ClientConfig) []engine.ProbeServer {
	out := make([]engine.ProbeServer, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		out = append(out, engine.ProbeServer{ID: s.ID, Host: s.Host, Location: s.Location})
	}
	return out
}

// EngineConfig maps the client section onto the engine config. Zero values
// stay zero so the engine applies its own defaults.
func EngineConfig(cfg config.ClientConfig) engine.Config {
	return engine.Config{
		TestDuration:          cfg.TestDuration.Duration(),
		LatencySampleCount:    cfg.LatencySampleCount,
		LatencySampleTimeout:  cfg.LatencySampleTimeout.Duration(),
		LatencySampleDelay:    cfg.LatencySampleDelay.Duration(),
		SelectionTimeout:      cfg.SelectionTimeout.Duration(),
		DownloadConcurrency:   cfg.DownloadConcurrency,
		UploadConcurrency:     cfg.UploadConcurrency,
		DownloadChunksMB:      cfg.DownloadChunksMB,
		UploadChunksMB:        cfg.UploadChunksMB,
		RequestTimeout:        cfg.RequestTimeout.Duration(),
		ChunkGrace:            cfg.ChunkGrace.Duration(),
		RetryPause:            cfg.RetryPause.Duration(),
		PacketLossSampleCount: cfg.PacketLossSampleCount,
		PacketTimeout:         cfg.PacketTimeout.Duration(),
		ReferenceDownloadMbps: cfg.ReferenceDownloadMbps,
		ReferenceUploadMbps:   cfg.ReferenceUploadMbps,
		OverallTimeout:        cfg.OverallTimeout.Duration(),
		MaxReportSamples:      cfg.MaxReportSamples,
		ProgressInterval:      cfg.ProgressInterval.Duration(),
	}
}

// Measure runs one measurement against the configured servers, relays the
// outcome and stores complete reports.
func (c *Client) Measure(ctx context.Context) (engine.MeasurementReport, error) {
	candidates := Candidates(c.cfg.Client)
	if len(candidates) == 0 {
		return engine.MeasurementReport{}, errors.New("no probe servers configured")
	}
	report, err := engine.Run(ctx, EngineConfig(c.cfg.Client), candidates, c.opts)
	if err != nil {
		if c.hub != nil {
			c.hub.PublishError(err)
		}
		return engine.MeasurementReport{}, err
	}
	if c.hub != nil {
		c.hub.PublishReport(report)
	}
	if c.store != nil {
		if err := c.store.Save(ctx, report); err != nil {
			return report, fmt.Errorf("save report: %w", err)
		}
		c.logger.Debug("report stored", "test_id", report.TestID, "path", c.cfg.History.Path)
	}
	return report, nil
}

// Relay returns the progress hub, or nil when no relay is configured.
func (c *Client) Relay() *relay.Hub {
	return c.hub
}

func (c *Client) Close() error {
	var errs []error
	if c.cancel != nil {
		c.cancel()
		if err := <-c.done; err != nil {
			errs = append(errs, fmt.Errorf("relay: %w", err))
		}
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	if c.locator != nil {
		errs = append(errs, c.locator.Close())
	}
	return errors.Join(errs...)
}
