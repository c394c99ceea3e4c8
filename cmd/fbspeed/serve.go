package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/NodePath81/fbspeed/internal/app"
	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/util"
)

func serveCmd(args []string) error {
	fs, configPath := newFlagSet("serve")
	listen := fs.StringP("listen", "L", "", "Listen address")
	name := fs.String("name", "", "Server name reported by /ping")
	maxStreams := fs.Int("max-streams", 0, "Concurrent transfer streams (-1 = unlimited, 0 = keep config value)")
	maxBandwidth := fs.String("max-bandwidth", "", "Global download pacing rate, e.g. 500m (0 = unlimited)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *configPath
	if path == "" && fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	cfg, err := loadConfig(fs, path)
	if err != nil {
		return err
	}
	var bandwidthBits uint64
	if *maxBandwidth != "" {
		bandwidthBits, err = util.ParseBandwidth(*maxBandwidth)
		if err != nil {
			return err
		}
	}

	logger, logCloser, err := newLogger(cfg.Logging, *logLevel, nil)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	supervisor := app.NewSupervisor(path, logger)
	supervisor.Override = func(c *config.ServerConfig) {
		if *listen != "" {
			c.Listen = *listen
		}
		if *name != "" {
			c.Name = *name
		}
		if *maxStreams != 0 {
			c.MaxStreams = *maxStreams
		}
		if *maxBandwidth != "" {
			c.MaxBandwidth = *maxBandwidth
			c.MaxBandwidthBits = bandwidthBits
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go restartOnHangup(ctx, supervisor, logger)
	err = supervisor.Run(ctx)
	logger.Info("shutdown requested")
	return err
}

// restartOnHangup restarts the server from the config file on every SIGHUP.
func restartOnHangup(ctx context.Context, supervisor *app.Supervisor, logger util.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			logger.Info("SIGHUP received, restarting probe server")
			if err := supervisor.Restart(); err != nil {
				logger.Error("probe server restart failed", "error", err)
			}
		}
	}
}
