package app

import (
	"context"
	"net"
	"sync"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/util"
)

// Supervisor owns the probe server runtime and swaps it when the config
// file changes.
type Supervisor struct {
	configPath string
	logger     util.Logger
	// Override, when set, is applied to every loaded server config so that
	// command-line flags survive reloads.
	Override func(*config.ServerConfig)
	mu       sync.Mutex
	runtime  *Runtime
}

// NewSupervisor serves the server section of configPath. An empty path
// serves the built-in defaults and disables reloading.
func NewSupervisor(configPath string, logger util.Logger) *Supervisor {
	return &Supervisor{
		configPath: configPath,
		logger:     logger,
	}
}

func (s *Supervisor) Start() error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	return s.startWith(cfg)
}

func (s *Supervisor) load() (config.ServerConfig, error) {
	cfg := config.Default()
	if s.configPath != "" {
		loaded, err := config.Load(s.configPath)
		if err != nil {
			return config.ServerConfig{}, err
		}
		cfg = loaded
	}
	return s.override(cfg.Server), nil
}

func (s *Supervisor) override(cfg config.ServerConfig) config.ServerConfig {
	if s.Override != nil {
		s.Override(&cfg)
	}
	return cfg
}

func (s *Supervisor) startWith(cfg config.ServerConfig) error {
	runtime := NewRuntime(cfg, s.logger)
	if err := runtime.Start(); err != nil {
		runtime.Stop()
		return err
	}
	s.mu.Lock()
	s.runtime = runtime
	s.mu.Unlock()
	return nil
}

// Run starts the server and applies config changes until ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	defer s.Stop()
	if s.configPath == "" {
		<-ctx.Done()
		return nil
	}
	return config.Watch(ctx, s.configPath, s.logger, func(cfg config.Config) {
		if err := s.Reload(s.override(cfg.Server)); err != nil {
			s.logger.Error("probe server reload failed", "error", err)
		}
	})
}

// Reload applies limit changes in place and restarts the server for
// anything else.
func (s *Supervisor) Reload(cfg config.ServerConfig) error {
	s.mu.Lock()
	current := s.runtime
	s.mu.Unlock()
	if current != nil && !needsRestart(current.cfg, cfg) {
		current.Apply(cfg)
		return nil
	}
	s.logger.Info("restarting probe server", "listen", cfg.Listen)
	return s.restartWith(cfg)
}

// Restart reloads the config file and restarts the server unconditionally.
func (s *Supervisor) Restart() error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	return s.restartWith(cfg)
}

func (s *Supervisor) restartWith(cfg config.ServerConfig) error {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()

	if current != nil {
		current.Stop()
	}
	return s.startWith(cfg)
}

func (s *Supervisor) Stop() {
	s.mu.Lock()
	current := s.runtime
	s.runtime = nil
	s.mu.Unlock()
	if current != nil {
		current.Stop()
	}
}

// Addr returns the listener address of the running server.
func (s *Supervisor) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == nil {
		return nil
	}
	return s.runtime.Addr()
}
