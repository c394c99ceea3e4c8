package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NodePath81/fbspeed/internal/app"
	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/engine"
	"github.com/fatih/color"
)

func runCmd(args []string) error {
	fs, configPath := newFlagSet("run")
	servers := fs.StringSliceP("server", "s", nil, "Probe server host, repeatable (replaces configured servers)")
	jsonOutput := fs.BoolP("json", "j", false, "Print the report as JSON")
	relayAddr := fs.String("relay", "", "Serve progress over websocket on this address")
	historyPath := fs.String("history", "", "Append the report to this SQLite file")
	geoipPath := fs.String("geoip", "", "MaxMind city database for server locations")
	duration := fs.DurationP("duration", "d", 0, "Duration of each throughput stage")
	latencySamples := fs.IntP("latency-samples", "l", 0, "Number of latency samples")
	downloadWorkers := fs.Int("download-workers", 0, "Concurrent download streams")
	uploadWorkers := fs.Int("upload-workers", 0, "Concurrent upload streams")
	insecure := fs.Bool("insecure", false, "Skip TLS certificate verification")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := loadConfig(fs, *configPath)
	if err != nil {
		return err
	}
	if len(*servers) > 0 {
		cfg.Client.Servers = candidatesFromFlags(*servers)
	}
	if *relayAddr != "" {
		cfg.Relay.Listen = *relayAddr
	}
	if *historyPath != "" {
		cfg.History.Path = *historyPath
	}
	if *geoipPath != "" {
		cfg.GeoIP.Database = *geoipPath
	}
	if *duration > 0 {
		cfg.Client.TestDuration = config.Duration(*duration)
	}
	if *latencySamples > 0 {
		cfg.Client.LatencySampleCount = *latencySamples
	}
	if *downloadWorkers > 0 {
		cfg.Client.DownloadConcurrency = *downloadWorkers
	}
	if *uploadWorkers > 0 {
		cfg.Client.UploadConcurrency = *uploadWorkers
	}
	if *insecure {
		cfg.Client.InsecureSkipVerify = true
	}

	level := *logLevel
	if level == "" && cfg.Logging.File == "" {
		level = "warn"
	}
	logger, logCloser, err := newLogger(cfg.Logging, level, os.Stderr)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	client, err := app.NewClient(cfg, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*jsonOutput {
		printHeader(len(cfg.Client.Servers))
	}
	start := time.Now()
	report, err := client.Measure(ctx)
	if err != nil && report.TestID == "" {
		if !*jsonOutput {
			printFailure(err)
		}
		return err
	}
	if err != nil {
		// The report is complete; only storing it failed.
		color.New(color.FgYellow).Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if *jsonOutput {
		return writeJSON(report)
	}
	printReport(os.Stdout, report, time.Since(start))
	return nil
}

// candidatesFromFlags accepts "host" or "id=host" entries.
func candidatesFromFlags(values []string) []config.CandidateConfig {
	out := make([]config.CandidateConfig, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		id, host, ok := strings.Cut(v, "=")
		if !ok {
			id, host = v, v
		}
		out = append(out, config.CandidateConfig{ID: id, Host: host})
	}
	return out
}

func printFailure(err error) {
	red := color.New(color.FgRed).FprintfFunc()
	var stageErr *engine.StageError
	if errors.As(err, &stageErr) {
		red(os.Stderr, "Measurement failed during %s: %v\n", stageErr.Stage, stageErr.Err)
	} else {
		red(os.Stderr, "Measurement failed: %v\n", err)
	}
	switch {
	case errors.Is(err, engine.ErrNoProbeServerAvailable):
		fmt.Fprintln(os.Stderr, "Hint: no probe server answered; check the server list and network connectivity.")
	case errors.Is(err, engine.ErrMeasurementTimeout):
		fmt.Fprintln(os.Stderr, "Hint: the overall deadline passed; raise client.overall_timeout or shorten the test.")
	}
}
