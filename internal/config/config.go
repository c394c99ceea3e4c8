package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/NodePath81/fbspeed/internal/util"
	"gopkg.in/yaml.v3"
)

const (
	defaultServerListen         = ":8080"
	defaultServerName           = "fbspeed"
	defaultServerMaxConnections = 1024
	defaultServerMaxStreams     = 256
	defaultServerMaxBandwidth   = "0"
	defaultServerMaxUploadSize  = "64MiB"
	defaultServerMaxDownloadMB  = 100
	defaultServerMetricsEnabled = true

	defaultDNSTimeout = 3 * time.Second

	defaultLogLevel      = "info"
	defaultLogFormat     = "text"
	defaultLogMaxSizeMB  = 50
	defaultLogMaxBackups = 3
	defaultLogMaxAgeDays = 28

	maxCandidates = 64
)

type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	switch value.Tag {
	case "!!int", "!!float":
		var secs float64
		if err := value.Decode(&secs); err != nil {
			return err
		}
		*d = Duration(time.Duration(secs * float64(time.Second)))
		return nil
	default:
		var raw string
		if err := value.Decode(&raw); err != nil {
			return err
		}
		if raw == "" {
			*d = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Server  ServerConfig  `yaml:"server"`
	DNS     DNSConfig     `yaml:"dns"`
	GeoIP   GeoIPConfig   `yaml:"geoip"`
	History HistoryConfig `yaml:"history"`
	Relay   RelayConfig   `yaml:"relay"`
	Logging LoggingConfig `yaml:"logging"`
}

// ClientConfig holds measurement settings. Zero values fall back to the
// engine defaults when the run starts.
type ClientConfig struct {
	Servers []CandidateConfig `yaml:"servers"`

	TestDuration          Duration `yaml:"test_duration"`
	LatencySampleCount    int      `yaml:"latency_sample_count"`
	LatencySampleTimeout  Duration `yaml:"latency_sample_timeout"`
	LatencySampleDelay    Duration `yaml:"latency_sample_delay"`
	SelectionTimeout      Duration `yaml:"selection_timeout"`
	DownloadConcurrency   int      `yaml:"download_concurrency"`
	UploadConcurrency     int      `yaml:"upload_concurrency"`
	DownloadChunksMB      []int    `yaml:"download_chunks_mb"`
	UploadChunksMB        []int    `yaml:"upload_chunks_mb"`
	RequestTimeout        Duration `yaml:"request_timeout"`
	ChunkGrace            Duration `yaml:"chunk_grace"`
	RetryPause            Duration `yaml:"retry_pause"`
	PacketLossSampleCount int      `yaml:"packet_loss_sample_count"`
	PacketTimeout         Duration `yaml:"packet_timeout"`
	ReferenceDownloadMbps float64  `yaml:"reference_download_mbps"`
	ReferenceUploadMbps   float64  `yaml:"reference_upload_mbps"`
	OverallTimeout        Duration `yaml:"overall_timeout"`
	MaxReportSamples      int      `yaml:"max_report_samples"`
	ProgressInterval      Duration `yaml:"progress_interval"`
	InsecureSkipVerify    bool     `yaml:"insecure_skip_verify"`
}

type CandidateConfig struct {
	ID       string `yaml:"id"`
	Host     string `yaml:"host"`
	Location string `yaml:"location"`
}

type ServerConfig struct {
	Listen         string              `yaml:"listen"`
	Name           string              `yaml:"name"`
	MaxConnections int                 `yaml:"max_connections"`
	// MaxStreams of zero takes the default; -1 removes the limit.
	MaxStreams     int                 `yaml:"max_streams"`
	MaxBandwidth   string              `yaml:"max_bandwidth"`
	MaxUploadSize  string              `yaml:"max_upload_size"`
	MaxDownloadMB  int                 `yaml:"max_download_mb"`
	Metrics        ServerMetricsConfig `yaml:"metrics"`

	MaxBandwidthBits uint64 `yaml:"-"`
	MaxUploadBytes   int64  `yaml:"-"`
}

type ServerMetricsConfig struct {
	Enabled *bool `yaml:"enabled"`
}

type DNSConfig struct {
	Servers []string `yaml:"servers"`
	Timeout Duration `yaml:"timeout"`
}

type GeoIPConfig struct {
	Database string `yaml:"database"`
}

type HistoryConfig struct {
	Path string `yaml:"path"`
}

type RelayConfig struct {
	Listen         string   `yaml:"listen"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

func (m ServerMetricsConfig) IsEnabled() bool {
	return util.BoolValue(m.Enabled, defaultServerMetricsEnabled)
}

func (l LoggingConfig) Options() util.LogOptions {
	return util.LogOptions{
		Level:      l.Level,
		Format:     l.Format,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
	}
}

// Default returns a validated configuration with every default applied.
func Default() Config {
	var cfg Config
	cfg.setDefaults()
	_ = cfg.validate()
	return cfg
}

func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = defaultServerListen
	}
	if c.Server.Name == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			c.Server.Name = host
		} else {
			c.Server.Name = defaultServerName
		}
	}
	if c.Server.MaxConnections == 0 {
		c.Server.MaxConnections = defaultServerMaxConnections
	}
	if c.Server.MaxStreams == 0 {
		c.Server.MaxStreams = defaultServerMaxStreams
	}
	if c.Server.MaxBandwidth == "" {
		c.Server.MaxBandwidth = defaultServerMaxBandwidth
	}
	if c.Server.MaxUploadSize == "" {
		c.Server.MaxUploadSize = defaultServerMaxUploadSize
	}
	if c.Server.MaxDownloadMB == 0 {
		c.Server.MaxDownloadMB = defaultServerMaxDownloadMB
	}

	if c.DNS.Timeout == 0 {
		c.DNS.Timeout = Duration(defaultDNSTimeout)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = defaultLogMaxSizeMB
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = defaultLogMaxBackups
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = defaultLogMaxAgeDays
	}
}

func (c *Config) validate() error {
	if err := c.validateClient(); err != nil {
		return err
	}

	if _, _, err := net.SplitHostPort(c.Server.Listen); err != nil {
		return fmt.Errorf("server.listen: %w", err)
	}
	if c.Server.MaxConnections < 0 {
		return errors.New("server.max_connections must be >= 0")
	}
	if c.Server.MaxStreams < -1 {
		return errors.New("server.max_streams must be >= 0, or -1 for unlimited")
	}
	if c.Server.MaxDownloadMB < 0 {
		return errors.New("server.max_download_mb must be >= 0")
	}
	bits, err := util.ParseBandwidth(c.Server.MaxBandwidth)
	if err != nil {
		return fmt.Errorf("server.max_bandwidth: %w", err)
	}
	c.Server.MaxBandwidthBits = bits
	size, err := util.ParseSize(c.Server.MaxUploadSize)
	if err != nil {
		return fmt.Errorf("server.max_upload_size: %w", err)
	}
	if size <= 0 {
		return errors.New("server.max_upload_size must be > 0")
	}
	c.Server.MaxUploadBytes = size

	for i, server := range c.DNS.Servers {
		server = strings.TrimSpace(server)
		if server == "" {
			return fmt.Errorf("dns.servers[%d] must not be empty", i)
		}
		if _, _, err := net.SplitHostPort(server); err != nil {
			server = net.JoinHostPort(server, "53")
		}
		c.DNS.Servers[i] = server
	}

	if c.Relay.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Relay.Listen); err != nil {
			return fmt.Errorf("relay.listen: %w", err)
		}
	}

	if _, err := util.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validateClient() error {
	cl := &c.Client
	if len(cl.Servers) > maxCandidates {
		return fmt.Errorf("too many client.servers: %d (max %d)", len(cl.Servers), maxCandidates)
	}
	seen := make(map[string]struct{}, len(cl.Servers))
	for i := range cl.Servers {
		srv := &cl.Servers[i]
		srv.Host = strings.TrimSpace(srv.Host)
		if srv.Host == "" {
			return fmt.Errorf("client.servers[%d].host must not be empty", i)
		}
		srv.ID = strings.TrimSpace(srv.ID)
		if srv.ID == "" {
			srv.ID = srv.Host
		}
		if _, ok := seen[srv.ID]; ok {
			return fmt.Errorf("duplicate client server id: %s", srv.ID)
		}
		seen[srv.ID] = struct{}{}
	}

	counts := map[string]int{
		"latency_sample_count":     cl.LatencySampleCount,
		"download_concurrency":     cl.DownloadConcurrency,
		"upload_concurrency":       cl.UploadConcurrency,
		"packet_loss_sample_count": cl.PacketLossSampleCount,
		"max_report_samples":       cl.MaxReportSamples,
	}
	for name, v := range counts {
		if v < 0 {
			return fmt.Errorf("client.%s must be >= 0", name)
		}
	}
	durations := map[string]Duration{
		"test_duration":          cl.TestDuration,
		"latency_sample_timeout": cl.LatencySampleTimeout,
		"latency_sample_delay":   cl.LatencySampleDelay,
		"selection_timeout":      cl.SelectionTimeout,
		"request_timeout":        cl.RequestTimeout,
		"chunk_grace":            cl.ChunkGrace,
		"retry_pause":            cl.RetryPause,
		"packet_timeout":         cl.PacketTimeout,
		"overall_timeout":        cl.OverallTimeout,
		"progress_interval":      cl.ProgressInterval,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("client.%s must be >= 0", name)
		}
	}
	if cl.ReferenceDownloadMbps < 0 || cl.ReferenceUploadMbps < 0 {
		return errors.New("client.reference_download_mbps and reference_upload_mbps must be >= 0")
	}
	for _, mb := range append(append([]int(nil), cl.DownloadChunksMB...), cl.UploadChunksMB...) {
		if mb <= 0 {
			return errors.New("client chunk sizes must be > 0")
		}
	}
	return nil
}
